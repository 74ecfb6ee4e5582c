package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/helpdesk-query/internal/domain"
	"github.com/tbourn/helpdesk-query/internal/llm"
	"github.com/tbourn/helpdesk-query/internal/search"
)

const (
	promptRecordLimit  = 50
	promptRelevantK    = 5
	promptHistoryLimit = 10
	defaultListSize    = 5
	maxListSize        = 50
	snippetRunes       = 200
)

// Fallback answers free-form questions by grounding a completion in the
// current snapshot.
type Fallback struct {
	store     string
	completer llm.Completer
	minScore  float64
}

// NewFallback returns a fallback for the named store. minScore is the
// relevance floor for the "most relevant tickets" block.
func NewFallback(store string, completer llm.Completer, minScore float64) *Fallback {
	return &Fallback{store: store, completer: completer, minScore: minScore}
}

// Answer never fails: errors become ❌ answers. A nil snapshot means the
// store could not be read.
func (f *Fallback) Answer(ctx context.Context, query string, snap *domain.Snapshot, qctx QueryContext, recent []domain.HistoryEntry) Answer {
	tr := otel.Tracer("services/Fallback")
	ctx, span := tr.Start(ctx, "Answer",
		trace.WithAttributes(attribute.String("store", f.store)),
	)
	defer span.End()

	if snap == nil {
		return fail(domain.SourceAI, OutcomeStoreUnavailable,
			fmt.Sprintf("I couldn't load tickets from %s right now, so I can't answer that. Please try again shortly.", f.store))
	}
	results := listingResults(query, snap)
	if f.completer == nil {
		a := fail(domain.SourceAI, OutcomeFallbackFailure, "No language model is configured, so I can only answer counts and ticket commands.")
		a.Results = results
		return a
	}

	system := f.BuildPrompt(query, snap, qctx, recent)
	span.SetAttributes(attribute.Int("prompt.chars", len(system)))

	text, err := f.completer.Complete(ctx, system, query)
	if err != nil {
		span.RecordError(err)
		a := fail(domain.SourceAI, OutcomeFallbackFailure, fmt.Sprintf("I couldn't get an answer from the language model: %v", err))
		a.Results = results
		return a
	}
	a := ok(domain.SourceAI, confidenceFallback, text)
	a.Results = results
	return a
}

// BuildPrompt renders the system prompt for query.
func (f *Fallback) BuildPrompt(query string, snap *domain.Snapshot, qctx QueryContext, recent []domain.HistoryEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a helpdesk analyst for the %s ticket system.
Answer using only the ticket data below and refer to tickets by #ID.
If the data does not contain the answer, say so plainly.
Keep answers short. You cannot change tickets; changes are made with explicit commands such as "close ticket #123".
`, titleLabel(f.store))

	agg := snap.Aggregates
	fmt.Fprintf(&b, "\n## Summary (snapshot taken %s)\n", snap.FetchedAt.UTC().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Total tickets: %d\n", agg.Total)
	if agg.Total > 0 {
		fmt.Fprintf(&b, "By status: %s\n", joinCounts(agg.ByStatus, 0))
		fmt.Fprintf(&b, "By priority: %s\n", joinCounts(agg.ByPriority, 0))
		ages := make([]string, 0, len(domain.AgeBuckets))
		for _, bucket := range domain.AgeBuckets {
			ages = append(ages, fmt.Sprintf("%s %d", bucket.Label(), agg.ByAge[bucket]))
		}
		fmt.Fprintf(&b, "By age: %s\n", strings.Join(ages, ", "))
		if len(agg.ByTag) > 0 {
			fmt.Fprintf(&b, "Top tags: %s\n", joinCounts(agg.ByTag, 10))
		}
		fmt.Fprintf(&b, "Unassigned: %d\n", agg.Unassigned)
	}

	b.WriteString("\n## Tickets\n")
	if snap.Empty() {
		b.WriteString("There are no tickets in the cache.\n")
	} else {
		recs := snap.Records
		if len(recs) > promptRecordLimit {
			fmt.Fprintf(&b, "(first %d of %d)\n", promptRecordLimit, len(recs))
			recs = recs[:promptRecordLimit]
		}
		for _, t := range recs {
			b.WriteString(oneLiner(t))
			b.WriteString("\n")
		}

		idx := search.NewTicketIndex(snap.Records, search.WithMinScore(f.minScore))
		if hits := idx.TopK(query, promptRelevantK); len(hits) > 0 {
			b.WriteString("\n## Most relevant tickets\n")
			for _, h := range hits {
				fmt.Fprintf(&b, "#%s (relevance %.2f): %s\n", h.ID, h.Score, truncateRunes(h.Snippet, snippetRunes))
			}
		}
	}

	if last := strings.TrimSpace(qctx.LastQuery); last != "" {
		fmt.Fprintf(&b, "\nPrevious question: %s\n", truncateRunes(last, snippetRunes))
	}
	if len(qctx.LastResults) > 0 {
		b.WriteString("\n## Tickets shown in the previous answer\n")
		for i, t := range qctx.LastResults {
			fmt.Fprintf(&b, "%d. %s\n", i+1, oneLiner(t))
		}
	}

	if len(recent) > 0 {
		if len(recent) > promptHistoryLimit {
			recent = recent[len(recent)-promptHistoryLimit:]
		}
		b.WriteString("\n## Recent conversation\n")
		for _, e := range recent {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", e.Query, e.Response)
		}
	}
	return b.String()
}

func oneLiner(t domain.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%s [%s", t.ID, t.Status)
	if t.Priority != "" {
		fmt.Fprintf(&b, "/%s", t.Priority)
	}
	fmt.Fprintf(&b, "] %s", truncateRunes(t.Subject, 120))
	if !t.CreatedAt.IsZero() {
		fmt.Fprintf(&b, " (created %s", t.CreatedAt.UTC().Format("2006-01-02"))
		if len(t.Tags) > 0 {
			fmt.Fprintf(&b, "; tags: %s", strings.Join(t.Tags, ", "))
		}
		b.WriteString(")")
	} else if len(t.Tags) > 0 {
		fmt.Fprintf(&b, " (tags: %s)", strings.Join(t.Tags, ", "))
	}
	if !t.Assigned() {
		b.WriteString(" unassigned")
	}
	return b.String()
}

func joinCounts(counts map[string]int, limit int) string {
	keys := domain.SortedKeys(counts)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

var (
	listingRE   = regexp.MustCompile(`\b(show|list|top|recent|latest|newest|oldest|give me|display|get)\b.*\b(tickets|conversations)\b`)
	listCountRE = regexp.MustCompile(`(?:^|\s)(\d{1,3})\s+(?:[a-z-]+\s+){0,2}(?:tickets|conversations)\b`)
	newestRE    = regexp.MustCompile(`\b(recent|latest|newest)\b`)
	oldestRE    = regexp.MustCompile(`\boldest\b`)
)

// listingResults attaches records for "show/list N tickets" questions so the
// caller can resolve ordinals in the next turn.
func listingResults(query string, snap *domain.Snapshot) []domain.Ticket {
	q := strings.ToLower(query)
	if !listingRE.MatchString(q) || snap.Empty() {
		return nil
	}
	n := defaultListSize
	if m := listCountRE.FindStringSubmatch(q); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
			n = min(v, maxListSize)
		}
	}

	recs := make([]domain.Ticket, 0, len(snap.Records))
	status := ""
	if m := statusMentionRE.FindString(q); m != "" {
		status = canonicalStatus(m)
	}
	priority := priorityValueRE.FindString(q)
	for _, t := range snap.Records {
		if status != "" && t.Status != status {
			continue
		}
		if priority != "" && t.Priority != priority {
			continue
		}
		recs = append(recs, t)
	}

	switch {
	case newestRE.MatchString(q):
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	case oldestRE.MatchString(q):
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	}
	if len(recs) > n {
		recs = recs[:n]
	}
	if len(recs) == 0 {
		return nil
	}
	return recs
}
