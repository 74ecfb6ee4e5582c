// Package search ranks cached tickets against a free-text question. The
// fallback prompt uses it to pick the "most relevant tickets" block.
//
// An Index is immutable once built and safe for concurrent use. Scores are
// Jaccard similarities between the token sets of the query and a document,
// |Q ∩ D| / |Q ∪ D|, and ties break on shorter text, then ID, so results are
// reproducible.
package search

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

const defaultK = 3

// Document is one unit of indexed text.
type Document struct {
	ID   string
	Text string
}

// Result is a ranked document.
type Result struct {
	ID      string
	Snippet string
	Score   float64
}

// Index ranks documents for a query.
type Index interface {
	TopK(query string, k int) []Result
}

// DefaultStopwords are dropped from queries and documents alike. Besides
// English filler they hold the helpdesk nouns every question contains.
var DefaultStopwords = []string{
	"a", "an", "and", "are", "about", "any", "can", "do", "does", "for", "from",
	"have", "how", "i", "in", "is", "it", "me", "my", "of", "on", "or", "our",
	"show", "the", "there", "this", "to", "we", "what", "which", "who", "with",
	"ticket", "tickets", "conversation", "conversations", "customer", "customers",
}

type settings struct {
	minRunes  int
	maxDocs   int
	minScore  float64
	stopwords map[string]struct{}
}

// Option configures NewIndex.
type Option func(*settings)

// WithMinRunes skips documents shorter than n runes. Negative n is ignored.
func WithMinRunes(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.minRunes = n
		}
	}
}

// WithStopwords replaces DefaultStopwords. An empty list disables filtering.
func WithStopwords(words []string) Option {
	return func(s *settings) { s.stopwords = wordSet(words) }
}

// WithMaxDocs indexes at most the first n documents.
func WithMaxDocs(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxDocs = n
		}
	}
}

// WithMinScore drops results below score, which must be within [0,1].
func WithMinScore(score float64) Option {
	return func(s *settings) {
		if score >= 0 && score <= 1 {
			s.minScore = score
		}
	}
}

type entry struct {
	id     string
	text   string
	runes  int
	tokens map[string]struct{}
}

type index struct {
	set     settings
	entries []entry
}

// NewIndex tokenizes docs once and returns the Index over them. Blank
// documents and documents made only of stop words are not indexed.
func NewIndex(docs []Document, opts ...Option) Index {
	set := settings{stopwords: wordSet(DefaultStopwords)}
	for _, opt := range opts {
		opt(&set)
	}
	return build(docs, set)
}

// NewTicketIndex indexes tickets by ID over TicketText.
func NewTicketIndex(tickets []domain.Ticket, opts ...Option) Index {
	docs := make([]Document, len(tickets))
	for i, t := range tickets {
		docs[i] = Document{ID: t.ID, Text: TicketText(t)}
	}
	return NewIndex(docs, opts...)
}

// TicketText joins subject, description and tags with single spaces.
func TicketText(t domain.Ticket) string {
	parts := make([]string, 0, 2+len(t.Tags))
	for _, p := range append([]string{t.Subject, t.Description}, t.Tags...) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func build(docs []Document, set settings) *index {
	idx := &index{set: set, entries: make([]entry, 0, len(docs))}
	for _, d := range docs {
		if set.maxDocs > 0 && len(idx.entries) == set.maxDocs {
			break
		}
		text := collapseSpace(d.Text)
		n := utf8.RuneCountInString(text)
		if n == 0 || n < set.minRunes {
			continue
		}
		toks := tokenize(text, set.stopwords)
		if len(toks) == 0 {
			continue
		}
		idx.entries = append(idx.entries, entry{id: d.ID, text: text, runes: n, tokens: toks})
	}
	return idx
}

// TopK returns at most k matches, best first. k <= 0 means three. A query
// that shares no token with any document yields nil.
func (x *index) TopK(query string, k int) []Result {
	if k <= 0 {
		k = defaultK
	}
	q := tokenize(query, x.set.stopwords)
	if len(q) == 0 || len(x.entries) == 0 {
		return nil
	}

	type hit struct {
		e     *entry
		score float64
	}
	var hits []hit
	for i := range x.entries {
		e := &x.entries[i]
		shared := intersect(q, e.tokens)
		if shared == 0 {
			continue
		}
		score := float64(shared) / float64(len(q)+len(e.tokens)-shared)
		if score < x.set.minScore {
			continue
		}
		hits = append(hits, hit{e: e, score: score})
	}
	if len(hits) == 0 {
		return nil
	}

	slices.SortStableFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.e.runes, b.e.runes); c != 0 {
			return c
		}
		return strings.Compare(a.e.id, b.e.id)
	})

	out := make([]Result, 0, min(k, len(hits)))
	for _, h := range hits[:min(k, len(hits))] {
		out = append(out, Result{ID: h.e.id, Snippet: h.e.text, Score: h.score})
	}
	return out
}

// fold lowercases s and strips combining marks, so "Café" and "cafe"
// produce the same token.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	return strings.ToLower(s)
}

// tokenize splits s into runs of letters and digits after folding.
func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := strings.FieldsFunc(fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func intersect(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w = fold(strings.TrimSpace(w)); w != "" {
			set[w] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// collapseSpace trims s and folds every whitespace run into one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
