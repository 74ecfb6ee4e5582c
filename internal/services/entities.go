package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

var (
	explicitIDRE = regexp.MustCompile(`#(\d+)\b|\b(?:ticket|conversation)\s+(?:number\s+|no\.?\s*|id\s+)?(\d+)\b`)
	emailRE      = regexp.MustCompile(`[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
)

// ordinalRE reads "last" only in front of a ticket noun, never in "last week".
var ordinalRE = regexp.MustCompile(`\b(first|second|third|fourth|fifth|1st|2nd|3rd|4th|5th)\b|\b(last)\s+(?:tickets?|conversations?|one)\b`)

var ordinalIndex = map[string]int{
	"first": 0, "1st": 0,
	"second": 1, "2nd": 1,
	"third": 2, "3rd": 2,
	"fourth": 3, "4th": 3,
	"fifth": 4, "5th": 4,
}

// resolution is the result of resolving ticket references in a query.
// When Missing is non-empty no ids could be resolved and it holds the
// clarification to show the user.
type resolution struct {
	IDs     []string
	Missing string
}

// resolveTargets returns explicit ids when present, otherwise ordinals
// resolved against the previous turn's results.
func resolveTargets(q string, last []domain.Ticket) resolution {
	var ids []string
	seen := map[string]bool{}
	for _, m := range explicitIDRE.FindAllStringSubmatch(q, -1) {
		id := m[1]
		if id == "" {
			id = m[2]
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		return resolution{IDs: ids}
	}

	var ords []string
	for _, m := range ordinalRE.FindAllStringSubmatch(q, -1) {
		ords = append(ords, m[1]+m[2])
	}
	if len(ords) == 0 {
		return resolution{Missing: "Which ticket do you mean? Use an explicit id such as \"ticket #123\", or list tickets first and say \"the first ticket\"."}
	}
	if len(last) == 0 {
		return resolution{Missing: fmt.Sprintf("I don't have a previous ticket list to resolve \"%s\" against. Ask something like \"show me the 5 most recent tickets\" first, or use an explicit id such as #123.", ords[0])}
	}
	for _, o := range ords {
		idx, ok := ordinalIndex[o]
		if o == "last" {
			idx, ok = len(last)-1, true
		}
		if !ok || idx >= len(last) {
			return resolution{Missing: fmt.Sprintf("There is no %s ticket in the last results (there %s only %d). Use an explicit id such as #%s.", o, isAre(len(last)), len(last), last[0].ID)}
		}
		id := last[idx].ID
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return resolution{IDs: ids}
}

// lookupTicket finds id in the previous results, then in the snapshot.
func lookupTicket(id string, last []domain.Ticket, snap *domain.Snapshot) (domain.Ticket, bool) {
	for _, t := range last {
		if t.ID == id {
			return t, true
		}
	}
	if snap != nil {
		for _, t := range snap.Records {
			if t.ID == id {
				return t, true
			}
		}
	}
	return domain.Ticket{}, false
}

var (
	statusTargetRE = regexp.MustCompile(`\b(?:to|as|status|on)\s+(open|pending|solved|closed|on hold|hold|snoozed|resolved|new)\b`)
	statusVerbRE   = regexp.MustCompile(`\b(close|solve|resolve|reopen|re-open|snooze)\b`)
)

// extractStatus returns the canonical status the query asks for.
func extractStatus(q string) string {
	if m := statusTargetRE.FindStringSubmatch(q); m != nil {
		return canonicalStatus(m[1])
	}
	if m := statusVerbRE.FindString(q); m != "" {
		return canonicalStatus(m)
	}
	return ""
}

var (
	priorityValueRE = regexp.MustCompile(`\b(urgent|high|normal|low)\b`)
	priorityUpRE    = regexp.MustCompile(`\b(raise|bump|increase)\b`)
	priorityDownRE  = regexp.MustCompile(`\b(lower|decrease)\b`)
	escalateRE      = regexp.MustCompile(`\bescalate\b`)
)

// extractPriority returns the canonical priority the query asks for.
func extractPriority(q string) string {
	if m := priorityValueRE.FindString(q); m != "" {
		return m
	}
	switch {
	case escalateRE.MatchString(q):
		return domain.PriorityUrgent
	case priorityUpRE.MatchString(q):
		return domain.PriorityHigh
	case priorityDownRE.MatchString(q):
		return domain.PriorityLow
	}
	return ""
}

// explicitPriorityRE only accepts a priority word attached to "priority".
var explicitPriorityRE = regexp.MustCompile(`\b(urgent|high|normal|low)[\s-]+priority\b|\bpriority\s*(?::|of|to|is|=)?\s*(urgent|high|normal|low)\b`)

// extractExplicitPriority returns a priority only when the query names it as
// one, so words such as "low" in a subject are left alone.
func extractExplicitPriority(q string) string {
	if m := explicitPriorityRE.FindStringSubmatch(q); m != nil {
		return m[1] + m[2]
	}
	return ""
}

func extractEmail(q string) string {
	return emailRE.FindString(strings.ToLower(q))
}

var (
	quotedTagRE  = regexp.MustCompile(`"([^"]+)"|“([^”]+)”|'([^']+)'`)
	tagListRE    = regexp.MustCompile(`\btags?\s+([\w-]+(?:\s*(?:,|\band\b)\s*[\w-]+)+)`)
	simpleTagREs = compileAll(
		`\btags?\s+([\w-]+)`,
		`\b([\w-]+)\s+tag\b`,
		`\bwith\s+([\w-]+(?:\s*(?:,|\band\b)\s*[\w-]+)*)`,
		`\bas\s+([\w-]+)`,
	)
	tagSplitRE = regexp.MustCompile(`\s*(?:,|\band\b)\s*`)
)

var tagStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "from": true, "on": true,
	"this": true, "that": true, "it": true, "with": true, "ticket": true,
	"tickets": true, "conversation": true, "first": true, "second": true,
	"third": true, "fourth": true, "fifth": true, "last": true, "as": true,
}

// extractTags tries quoted names, then comma lists, then single-tag phrasings.
func extractTags(q string) []string {
	if m := quotedTagRE.FindStringSubmatch(q); m != nil {
		for _, g := range m[1:] {
			if tags := cleanTags(tagSplitRE.Split(g, -1)); len(tags) > 0 {
				return tags
			}
		}
	}
	if m := tagListRE.FindStringSubmatch(q); m != nil {
		if tags := cleanTags(tagSplitRE.Split(m[1], -1)); len(tags) > 0 {
			return tags
		}
	}
	for _, re := range simpleTagREs {
		for _, m := range re.FindAllStringSubmatch(q, -1) {
			if tags := cleanTags(tagSplitRE.Split(m[1], -1)); len(tags) > 0 {
				return tags
			}
		}
	}
	return nil
}

func cleanTags(in []string) []string {
	var out []string
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || tagStopwords[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

var (
	subjectAfterRE = regexp.MustCompile(`(?i)\b(?:about|regarding|titled|subject)\s*:?\s+["']?(.+?)["']?$`)
	subjectColonRE = regexp.MustCompile(`:\s*(.+)$`)
)

// extractSubject pulls a new ticket's subject from the raw query text.
func extractSubject(raw string) string {
	raw = strings.TrimSpace(trailingPunctRE.ReplaceAllString(raw, ""))
	if m := subjectAfterRE.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := subjectColonRE.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
