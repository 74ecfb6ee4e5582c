package services

import (
	"regexp"
	"sort"
	"strings"
)

// Intent names a dispatcher operation.
type Intent string

const (
	IntentRefresh        Intent = "refresh"
	IntentGenerateReply  Intent = "generate-reply"
	IntentCreate         Intent = "create"
	IntentUpdateStatus   Intent = "update-status"
	IntentConfirmDelete  Intent = "confirm-delete"
	IntentDelete         Intent = "delete"
	IntentConfirmSpam    Intent = "confirm-spam"
	IntentSpam           Intent = "spam"
	IntentRestore        Intent = "restore"
	IntentMerge          Intent = "merge"
	IntentUpdatePriority Intent = "update-priority"
	IntentAssign         Intent = "assign"
	IntentTagAdd         Intent = "tag-add"
	IntentTagRemove      Intent = "tag-remove"
	IntentListUsers      Intent = "list-users"
)

// intentRule matches when any pattern matches and no exclusion does.
// Among matching rules the highest specificity wins.
type intentRule struct {
	intent      Intent
	specificity int
	patterns    []*regexp.Regexp
	exclude     []*regexp.Regexp
}

func (r intentRule) matches(q string) bool {
	return anyMatch(r.patterns, q) && !anyMatch(r.exclude, q)
}

// targetRef matches a ticket reference noun or an explicit #id. A word boundary
// never precedes '#', so it is kept outside \b.
const targetRef = `(\b(tickets?|conversations?|one)\b|#\d+)`

var (
	notConfirm = `^confirm\b`
	tagNoun    = `\btags?\b`
)

func defaultIntentRules() []intentRule {
	return []intentRule{
		{
			intent: IntentRefresh, specificity: 50,
			patterns: compileAll(
				`^(please\s+)?(refresh|reload|resync|sync)\b`,
				`\b(refresh|reload|clear|reset)\s+(the\s+)?(cache|data|ticket list|tickets)\b`,
			),
		},
		{
			intent: IntentGenerateReply, specificity: 70,
			patterns: compileAll(
				`\b(draft|write|generate|suggest|compose|prepare)\b.*\b(reply|response|answer|email)\b`,
				`\b(reply|respond)\s+to\s+(the\s+|this\s+)?(\w+\s+)?`+targetRef,
			),
		},
		{
			intent: IntentCreate, specificity: 60,
			patterns: compileAll(
				`\b(create|file|submit|raise|log)\s+(a\s+|an\s+)?(new\s+)?(ticket|conversation)\b`,
				`\bopen\s+(a|an)\s+(new\s+)?(ticket|conversation)\b`,
			),
			exclude: compileAll(`\bmerge\b`),
		},
		{
			intent: IntentUpdateStatus, specificity: 40,
			patterns: compileAll(
				`\b(close|solve|resolve|reopen|re-open)\s+(the\s+|this\s+|that\s+)?(\w+\s+)?`+targetRef,
				`\b(set|change|update|mark|move|put)\b.*\b(status|as|to|on)\s+(open|pending|solved|closed|on hold|hold|snoozed|resolved|new)\b`,
				`\bsnooze\s+(the\s+|this\s+)?(\w+\s+)?`+targetRef,
			),
			exclude: compileAll(`\bspam\b`, `\bpriority\b`, tagNoun, `\b(re)?assign\b`),
		},
		{
			intent: IntentConfirmDelete, specificity: 100,
			patterns: compileAll(`^confirm\s+delete\s+(ticket|conversation)\s+#?(\w+)$`),
		},
		{
			intent: IntentDelete, specificity: 50,
			patterns: compileAll(
				`\b(delete|trash|destroy)\b.*`+targetRef,
				`\bremove\s+(the\s+|this\s+)?(\w+\s+)?(ticket|conversation)\b`,
			),
			exclude: compileAll(notConfirm, tagNoun),
		},
		{
			intent: IntentConfirmSpam, specificity: 100,
			patterns: compileAll(`^confirm\s+spam\s+(ticket|conversation)\s+#?(\w+)$`),
		},
		{
			intent: IntentSpam, specificity: 50,
			patterns: compileAll(
				`\b(mark|flag|report)\b.*\bspam\b`,
				`\bspam\s+(the\s+|this\s+)?(\w+\s+)?`+targetRef,
				`\bis spam\b`,
			),
			exclude: compileAll(notConfirm, tagNoun),
		},
		{
			intent: IntentRestore, specificity: 50,
			patterns: compileAll(`\b(restore|undelete|recover)\b.*` + targetRef),
		},
		{
			intent: IntentMerge, specificity: 50,
			patterns: compileAll(`\bmerge\b.*` + targetRef),
		},
		{
			intent: IntentUpdatePriority, specificity: 45,
			patterns: compileAll(
				`\b(set|change|update|make|mark|raise|lower|bump|increase|decrease)\b.*\bpriority\b`,
				`\bpriority\b.*\bto\s+(urgent|high|normal|low)\b`,
				`\bescalate\b.*`+targetRef,
				`\b(make|mark)\b.*\b(urgent|high priority|low priority)\b`,
			),
			exclude: compileAll(tagNoun, `\bhow many\b`),
		},
		{
			intent: IntentAssign, specificity: 45,
			patterns: compileAll(`\b(re)?assign\b`),
			exclude: compileAll(`\bhow many\b`),
		},
		{
			intent: IntentTagAdd, specificity: 60,
			patterns: compileAll(
				`\b(add|apply|attach|put)\b.*\btags?\b`,
				`\btag\s+(the\s+|this\s+)?(\w+\s+)?`+targetRef,
			),
			exclude: compileAll(`\b(remove|delete|drop|strip|untag)\b`, `\bhow many\b`),
		},
		{
			intent: IntentTagRemove, specificity: 60,
			patterns: compileAll(
				`\b(remove|delete|drop|strip|clear)\b.*\btags?\b`,
				`\buntag\b`,
			),
			exclude: compileAll(`\bhow many\b`),
		},
		{
			intent: IntentListUsers, specificity: 50,
			patterns: compileAll(
				`\b(list|show|get|display|who are)\b.*\b(users|agents|admins|team members|teammates|staff)\b`,
				`^(users|agents|admins)$`,
			),
		},
	}
}

// intentMatch is the outcome of evaluating every rule against one query.
type intentMatch struct {
	Intent  Intent
	Tied    []Intent
	Matched bool
}

// Ambiguous reports whether different intents tied at the top specificity.
func (m intentMatch) Ambiguous() bool { return len(m.Tied) > 1 }

// classifyIntent evaluates all rules against q (already normalized).
func classifyIntent(rules []intentRule, q string) intentMatch {
	best := -1
	var top []Intent
	for _, r := range rules {
		if !r.matches(q) {
			continue
		}
		switch {
		case r.specificity > best:
			best = r.specificity
			top = []Intent{r.intent}
		case r.specificity == best && !containsIntent(top, r.intent):
			top = append(top, r.intent)
		}
	}
	if len(top) == 0 {
		return intentMatch{}
	}
	if len(top) > 1 {
		sort.Slice(top, func(i, j int) bool { return top[i] < top[j] })
		return intentMatch{Tied: top, Matched: true}
	}
	return intentMatch{Intent: top[0], Matched: true}
}

// matchingIntents lists every rule that matches q, for corpus tests.
func matchingIntents(rules []intentRule, q string) []Intent {
	var out []Intent
	for _, r := range rules {
		if r.matches(q) {
			out = append(out, r.intent)
		}
	}
	return out
}

func containsIntent(list []Intent, i Intent) bool {
	for _, x := range list {
		if x == i {
			return true
		}
	}
	return false
}

var trailingPunctRE = regexp.MustCompile(`[\s.!?]+$`)

// normalizeForIntent lowercases, trims and strips trailing punctuation.
func normalizeForIntent(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	q = trailingPunctRE.ReplaceAllString(q, "")
	return strings.Join(strings.Fields(q), " ")
}
