package services

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

// recognizer answers one family of count questions from aggregates alone.
type recognizer struct {
	name       string
	confidence float64
	match      []*regexp.Regexp
	guards     []*regexp.Regexp
	answer     func(q string, agg domain.Aggregates) string
}

func (r recognizer) accepts(q string) bool {
	if !anyMatch(r.match, q) {
		return false
	}
	return !anyMatch(r.guards, q)
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Shared guard vocabularies.
const (
	analyticalWords = `\b(review|analy[sz]e|analysis|prioriti[sz]e|recommend|suggest|why|should|explain|summari[sz]e)\b`
	statusWords     = `\b(new|open|pending|hold|snoozed|solved|resolved|closed|status|statuses)\b`
	priorityWords   = `\b(urgent|high|normal|low|priority|priorities)\b`
	tagWords        = `\b(tag|tags|tagged|label|labels|labell?ed)\b`
	ageWords        = `\b(age|old|older|newer|today|yesterday|week|month|days?|hours?|created|last|past)\b`
)

// Classifier answers aggregate count questions without any network call.
// It is stateless and safe for concurrent use.
type Classifier struct {
	recognizers []recognizer
}

// NewClassifier returns the classifier with its recognizers in priority order.
func NewClassifier() *Classifier {
	return &Classifier{recognizers: []recognizer{
		{
			name:       "total-count",
			confidence: 0.99,
			match: compileAll(
				`\bhow many\s+(tickets|conversations)\b`,
				`\b(total|number of|count of)\s+(tickets|conversations)\b`,
				`\b(tickets|conversations)\s+(in total|total)\b`,
			),
			guards: compileAll(analyticalWords, statusWords, priorityWords, tagWords, ageWords,
				`\b(by|per|breakdown|assigned|unassigned|distribution)\b`),
			answer: answerTotal,
		},
		{
			name:       "status-breakdown",
			confidence: 0.98,
			match: compileAll(
				`\bstatus(es)?\b.*\b(breakdown|distribution|split|summary|counts?)\b`,
				`\b(breakdown|distribution|split|counts?)\b.*\bstatus(es)?\b`,
				`\bby status\b`,
				`\bhow many\b.*\b(new|open|pending|on hold|hold|snoozed|solved|resolved|closed)\b`,
			),
			guards: compileAll(analyticalWords, priorityWords, tagWords, ageWords, `\b(assigned|unassigned)\b`),
			answer: answerStatus,
		},
		{
			name:       "priority-breakdown",
			confidence: 0.97,
			match: compileAll(
				`\bpriorit(y|ies)\b.*\b(breakdown|distribution|split|summary|counts?)\b`,
				`\b(breakdown|distribution|split|counts?)\b.*\bpriorit(y|ies)\b`,
				`\bby priority\b`,
				`\bhow many\b.*\b(urgent|high|normal|low)\b`,
			),
			guards: compileAll(analyticalWords, `\b(new|open|pending|hold|snoozed|solved|resolved|closed)\b`, tagWords, ageWords),
			answer: answerPriority,
		},
		{
			name:       "age-breakdown",
			confidence: 0.96,
			match: compileAll(
				`\bhow old\b`,
				`\bage\s+(breakdown|distribution)\b`,
				`\b(breakdown|distribution)\b.*\bage\b`,
				`\bby age\b`,
				`\bhow many\b.*\b(last|past)\s+(24 hours|day|week|7 days|month|30 days)\b`,
				`\bhow many\b.*\bolder than\b`,
				`\bhow many\b.*\bcreated\s+(today|this week|this month)\b`,
			),
			guards: compileAll(analyticalWords, statusWords, priorityWords, tagWords),
			answer: answerAge,
		},
		{
			name:       "tag-count",
			confidence: 0.95,
			match: compileAll(
				`\b(how many|count|number of)\b.*\b(tagged|tags?|labell?ed)\b`,
				`\b(top|most common|popular)\s+tags\b`,
				`\btags?\s+(breakdown|distribution|counts?)\b`,
			),
			guards: compileAll(analyticalWords, `\b(add|remove|apply|untag|delete|attach|drop)\b`,
				`\b(open|pending|hold|snoozed|solved|resolved|closed|urgent)\b`),
			answer: answerTag,
		},
	}}
}

// TryClassify returns a cache-sourced answer when a recognizer accepts the
// query. A nil snapshot never matches.
func (c *Classifier) TryClassify(query string, snap *domain.Snapshot) (Answer, bool) {
	if snap == nil {
		return Answer{}, false
	}
	q := strings.ToLower(strings.TrimSpace(query))
	for _, r := range c.recognizers {
		if !r.accepts(q) {
			continue
		}
		return ok(domain.SourceCache, r.confidence, r.answer(q, snap.Aggregates)), true
	}
	return Answer{}, false
}

// recognizerFor reports which recognizer accepts q, for tests.
func (c *Classifier) recognizerFor(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	for _, r := range c.recognizers {
		if r.accepts(q) {
			return r.name
		}
	}
	return ""
}

func answerTotal(_ string, agg domain.Aggregates) string {
	if agg.Total == 1 {
		return "There is 1 ticket in total."
	}
	return fmt.Sprintf("There are %d tickets in total.", agg.Total)
}

var statusMentionRE = regexp.MustCompile(`\b(new|open|pending|on hold|hold|snoozed|solved|resolved|closed)\b`)

func answerStatus(q string, agg domain.Aggregates) string {
	mentioned := statusMentionRE.FindAllString(q, -1)
	if len(mentioned) > 0 {
		parts := make([]string, 0, len(mentioned))
		seen := map[string]bool{}
		for _, m := range mentioned {
			s := canonicalStatus(m)
			if seen[s] {
				continue
			}
			seen[s] = true
			parts = append(parts, fmt.Sprintf("%d %s", agg.ByStatus[s], s))
		}
		if len(parts) == 1 {
			n := agg.ByStatus[canonicalStatus(mentioned[0])]
			return fmt.Sprintf("There %s %s %s.", isAre(n), parts[0], ticketWord(n))
		}
		return fmt.Sprintf("Of %d tickets: %s.", agg.Total, strings.Join(parts, ", "))
	}
	if agg.Total == 0 {
		return "There are 0 tickets in the cache, so there is no status breakdown yet."
	}
	return breakdown(fmt.Sprintf("Status breakdown of %d tickets:", agg.Total), agg.ByStatus, titleLabel)
}

var priorityMentionRE = regexp.MustCompile(`\b(urgent|high|normal|low)\b`)

func answerPriority(q string, agg domain.Aggregates) string {
	if m := priorityMentionRE.FindString(q); m != "" {
		n := agg.ByPriority[m]
		return fmt.Sprintf("There %s %d %s %s.", isAre(n), n, priorityLabel(m), ticketWord(n))
	}
	if agg.Total == 0 {
		return "There are 0 tickets in the cache, so there is no priority breakdown yet."
	}
	return breakdown(fmt.Sprintf("Priority breakdown of %d tickets:", agg.Total), agg.ByPriority, func(k string) string {
		if k == "none" {
			return "No priority"
		}
		return titleLabel(k)
	})
}

var (
	ageDayRE      = regexp.MustCompile(`\b(last|past)\s+(24 hours|day)\b|\btoday\b`)
	ageWeekRE     = regexp.MustCompile(`\b(last|past)\s+(week|7 days)\b|\bthis week\b`)
	ageMonthRE    = regexp.MustCompile(`\b(last|past)\s+(month|30 days)\b|\bthis month\b`)
	olderMonthRE  = regexp.MustCompile(`\bolder than\s+(a |one |1 )?(month|30 days)\b`)
	olderWeekRE   = regexp.MustCompile(`\bolder than\s+(a |one |1 )?(week|7 days)\b`)
	olderOneDayRE = regexp.MustCompile(`\bolder than\s+(a |one |1 )?(day|24 hours)\b`)
)

func answerAge(q string, agg domain.Aggregates) string {
	by := agg.ByAge
	window := func(label string, n int) string {
		return fmt.Sprintf("%d %s %s %s.", n, ticketWord(n), wasWere(n), label)
	}
	switch {
	case olderMonthRE.MatchString(q):
		return window("created more than 30 days ago", by[domain.AgeOver30d])
	case olderWeekRE.MatchString(q):
		return window("created more than 7 days ago", by[domain.AgeUnder30d]+by[domain.AgeOver30d])
	case olderOneDayRE.MatchString(q):
		return window("created more than 24 hours ago", agg.Total-by[domain.AgeUnder24h])
	case ageDayRE.MatchString(q):
		return window("created in the last 24 hours", by[domain.AgeUnder24h])
	case ageWeekRE.MatchString(q):
		return window("created in the last 7 days", by[domain.AgeUnder24h]+by[domain.AgeUnder7d])
	case ageMonthRE.MatchString(q):
		return window("created in the last 30 days", by[domain.AgeUnder24h]+by[domain.AgeUnder7d]+by[domain.AgeUnder30d])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Age breakdown of %d tickets:", agg.Total)
	for _, bucket := range domain.AgeBuckets {
		fmt.Fprintf(&b, "\n- %s: %d", bucket.Label(), by[bucket])
	}
	return b.String()
}

var tagNameREs = compileAll(
	`\btagged\s+(?:with\s+|as\s+)?["']?([\w-]+)`,
	`\b(?:labell?ed)\s+(?:with\s+|as\s+)?["']?([\w-]+)`,
	`\bwith\s+(?:the\s+)?tag\s+["']?([\w-]+)`,
	`["']?([\w-]+)["']?\s+tag\b`,
)

func answerTag(q string, agg domain.Aggregates) string {
	if tag := firstTagName(q); tag != "" {
		n := agg.ByTag[tag]
		return fmt.Sprintf("%d %s %s tagged %s.", n, ticketWord(n), isAre(n), tag)
	}
	if len(agg.ByTag) == 0 {
		return fmt.Sprintf("No tags found across %d tickets.", agg.Total)
	}
	keys := domain.SortedKeys(agg.ByTag)
	if len(keys) > 10 {
		keys = keys[:10]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Top tags across %d tickets:", agg.Total)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %d", k, agg.ByTag[k])
	}
	return b.String()
}

func firstTagName(q string) string {
	for _, re := range tagNameREs {
		m := re.FindStringSubmatch(q)
		if m == nil {
			continue
		}
		if name := m[1]; !tagFiller[name] {
			return name
		}
	}
	return ""
}

var tagFiller = map[string]bool{
	"the": true, "a": true, "any": true, "this": true, "that": true, "which": true,
	"what": true, "same": true, "with": true, "as": true, "ticket": true, "tickets": true,
}

func breakdown(header string, counts map[string]int, label func(string) string) string {
	var b strings.Builder
	b.WriteString(header)
	for _, k := range domain.SortedKeys(counts) {
		fmt.Fprintf(&b, "\n- %s: %d", label(k), counts[k])
	}
	return b.String()
}

// titleLabel renders a canonical value for display. Casers are stateful,
// so one is built per call.
func titleLabel(s string) string {
	return cases.Title(language.English).String(s)
}

func priorityLabel(p string) string {
	if p == domain.PriorityUrgent {
		return p
	}
	return p + "-priority"
}

func canonicalStatus(s string) string {
	switch s {
	case "resolved", "solve", "solved", "resolve":
		return domain.StatusSolved
	case "on hold", "hold":
		return domain.StatusHold
	case "snooze", "snoozed":
		return domain.StatusSnoozed
	case "close", "closed":
		return domain.StatusClosed
	case "open", "reopen", "re-open":
		return domain.StatusOpen
	}
	return s
}

func ticketWord(n int) string {
	if n == 1 {
		return "ticket"
	}
	return "tickets"
}

func isAre(n int) string {
	if n == 1 {
		return "is"
	}
	return "are"
}

func wasWere(n int) string {
	if n == 1 {
		return "was"
	}
	return "were"
}
