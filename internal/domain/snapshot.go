package domain

import (
	"sort"
	"strings"
	"time"
)

// AgeBucket identifies one of the four age partitions of a snapshot.
type AgeBucket string

const (
	AgeUnder24h AgeBucket = "under_24h"
	AgeUnder7d  AgeBucket = "under_7d"
	AgeUnder30d AgeBucket = "under_30d"
	AgeOver30d  AgeBucket = "over_30d"
)

// AgeBuckets lists the buckets in display order.
var AgeBuckets = []AgeBucket{AgeUnder24h, AgeUnder7d, AgeUnder30d, AgeOver30d}

// Label returns the human-readable name of the bucket.
func (b AgeBucket) Label() string {
	switch b {
	case AgeUnder24h:
		return "Last 24 hours"
	case AgeUnder7d:
		return "1-7 days"
	case AgeUnder30d:
		return "7-30 days"
	case AgeOver30d:
		return "Older than 30 days"
	}
	return string(b)
}

// BucketFor places a creation instant into exactly one bucket relative to now.
// Future instants count as under 24h; a zero instant counts as over 30 days.
func BucketFor(createdAt, now time.Time) AgeBucket {
	if createdAt.IsZero() {
		return AgeOver30d
	}
	age := now.Sub(createdAt)
	switch {
	case age < 24*time.Hour:
		return AgeUnder24h
	case age < 7*24*time.Hour:
		return AgeUnder7d
	case age < 30*24*time.Hour:
		return AgeUnder30d
	default:
		return AgeOver30d
	}
}

// Aggregates are precomputed counts over a snapshot's records.
type Aggregates struct {
	Total      int               `json:"total"`
	ByStatus   map[string]int    `json:"by_status"`
	ByPriority map[string]int    `json:"by_priority"`
	ByAge      map[AgeBucket]int `json:"by_age"`
	ByTag      map[string]int    `json:"by_tag"`
	Unassigned int               `json:"unassigned"`
}

// Snapshot is an immutable point-in-time view of a store's tickets.
// Callers must treat Records and Aggregates as read-only.
type Snapshot struct {
	FetchedAt  time.Time  `json:"fetched_at"`
	Records    []Ticket   `json:"records"`
	Aggregates Aggregates `json:"aggregates"`
}

// BuildSnapshot creates a snapshot of records taken at now. Aggregates are
// always derived from records here and nowhere else.
func BuildSnapshot(records []Ticket, now time.Time) *Snapshot {
	recs := make([]Ticket, len(records))
	copy(recs, records)
	return &Snapshot{
		FetchedAt:  now,
		Records:    recs,
		Aggregates: ComputeAggregates(recs, now),
	}
}

// ComputeAggregates counts records by status, priority, age bucket and tag.
// Priority-less records are counted under "none".
func ComputeAggregates(records []Ticket, now time.Time) Aggregates {
	agg := Aggregates{
		Total:      len(records),
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
		ByAge:      make(map[AgeBucket]int, len(AgeBuckets)),
		ByTag:      make(map[string]int),
	}
	for _, b := range AgeBuckets {
		agg.ByAge[b] = 0
	}
	for _, r := range records {
		agg.ByStatus[statusKey(r.Status)]++
		p := strings.ToLower(strings.TrimSpace(r.Priority))
		if p == "" {
			p = "none"
		}
		agg.ByPriority[p]++
		agg.ByAge[BucketFor(r.CreatedAt, now)]++
		seen := make(map[string]struct{}, len(r.Tags))
		for _, tag := range r.Tags {
			k := strings.ToLower(strings.TrimSpace(tag))
			if k == "" {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			agg.ByTag[k]++
		}
		if !r.Assigned() {
			agg.Unassigned++
		}
	}
	return agg
}

func statusKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}

// Empty reports whether the snapshot holds no records.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Records) == 0
}

// Age returns how long ago the snapshot was built.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// SortedKeys returns the keys of counts ordered by descending count, then name.
func SortedKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
