package search

import (
	"testing"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

func TestOptions(t *testing.T) {
	var s settings
	for _, opt := range []Option{
		WithMinRunes(10), WithMinRunes(-5),
		WithMaxDocs(2), WithMaxDocs(0),
		WithMinScore(0.2), WithMinScore(3),
		WithStopwords([]string{"  Réfund ", ""}),
	} {
		opt(&s)
	}
	if s.minRunes != 10 || s.maxDocs != 2 || s.minScore != 0.2 {
		t.Fatalf("out-of-range options should be ignored: %+v", s)
	}
	if _, ok := s.stopwords["refund"]; !ok || len(s.stopwords) != 1 {
		t.Fatalf("stop words should be folded and replace the list: %v", s.stopwords)
	}
	WithStopwords(nil)(&s)
	if s.stopwords != nil {
		t.Fatalf("empty list should disable filtering")
	}
}

func TestBuild_SkipsAndCaps(t *testing.T) {
	docs := []Document{
		{ID: "1", Text: ""},
		{ID: "2", Text: " \t \r  "},
		{ID: "3", Text: "short"},
		{ID: "4", Text: "The and a"},
		{ID: "5", Text: "Password   reset link\nexpired"},
		{ID: "6", Text: "Invoice shows the wrong amount"},
	}
	idx := build(docs, settings{minRunes: 6, stopwords: wordSet(DefaultStopwords)})
	if len(idx.entries) != 2 || idx.entries[0].id != "5" || idx.entries[1].id != "6" {
		t.Fatalf("unexpected entries: %+v", idx.entries)
	}
	if idx.entries[0].text != "Password reset link expired" {
		t.Fatalf("whitespace not collapsed: %q", idx.entries[0].text)
	}

	capped := build(docs, settings{maxDocs: 1})
	if len(capped.entries) != 1 || capped.entries[0].id != "3" {
		t.Fatalf("maxDocs not applied: %+v", capped.entries)
	}
}

func TestTopK_RanksByJaccard(t *testing.T) {
	idx := NewIndex([]Document{
		{ID: "a", Text: "Refund for duplicate invoice charge"},
		{ID: "b", Text: "Cannot reset password"},
		{ID: "c", Text: "Invoice missing VAT number"},
	})

	res := idx.TopK("duplicate invoice refund", 5)
	if len(res) != 2 {
		t.Fatalf("want 2 results, got %#v", res)
	}
	if res[0].ID != "a" || res[1].ID != "c" {
		t.Fatalf("unexpected order: %#v", res)
	}
	if !(res[0].Score > res[1].Score) {
		t.Fatalf("scores not descending: %#v", res)
	}
}

func TestTopK_EdgeCases(t *testing.T) {
	empty := NewIndex(nil)
	if got := empty.TopK("anything", 3); got != nil {
		t.Fatalf("empty index should return nil, got %#v", got)
	}

	idx := NewIndex([]Document{{ID: "x", Text: "Login error on mobile app"}})
	if got := idx.TopK("   ", 3); got != nil {
		t.Fatalf("blank query should return nil")
	}
	if got := idx.TopK("the and of", 3); got != nil {
		t.Fatalf("stopword-only query should return nil")
	}
	if got := idx.TopK("nothing matches", 3); got != nil {
		t.Fatalf("non-overlapping query should return nil")
	}
	if got := idx.TopK("login", 0); len(got) != 1 {
		t.Fatalf("k<=0 should default, got %#v", got)
	}
}

func TestTopK_TieBreakIsDeterministic(t *testing.T) {
	idx := NewIndex([]Document{
		{ID: "2", Text: "billing issue"},
		{ID: "1", Text: "billing issue"},
	})
	res := idx.TopK("billing issue", 2)
	if len(res) != 2 || res[0].ID != "1" || res[1].ID != "2" {
		t.Fatalf("ties should order by id: %#v", res)
	}
}

func TestTopK_MinScore(t *testing.T) {
	idx := NewIndex([]Document{
		{ID: "a", Text: "billing"},
		{ID: "b", Text: "billing address change request form update"},
	}, WithMinScore(0.5))
	res := idx.TopK("billing", 5)
	if len(res) != 1 || res[0].ID != "a" {
		t.Fatalf("minScore should drop weak matches: %#v", res)
	}
}

func TestNewTicketIndex_UsesSubjectDescriptionTags(t *testing.T) {
	tickets := []domain.Ticket{
		{ID: "10", Subject: "App crash", Description: "Crashes on launch", Tags: []string{"android"}},
		{ID: "11", Subject: "Refund request", Tags: []string{"billing"}},
	}
	idx := NewTicketIndex(tickets)

	if res := idx.TopK("android crash", 3); len(res) != 1 || res[0].ID != "10" {
		t.Fatalf("tag+subject match failed: %#v", res)
	}
	if res := idx.TopK("billing", 3); len(res) != 1 || res[0].ID != "11" {
		t.Fatalf("tag match failed: %#v", res)
	}
	if got := TicketText(tickets[0]); got != "App crash Crashes on launch android" {
		t.Fatalf("TicketText = %q", got)
	}
}

func TestTopK_FoldsAccents(t *testing.T) {
	idx := NewIndex([]Document{
		{ID: "fr", Text: "Facture payée deux fois"},
		{ID: "en", Text: "Paid twice"},
	})
	res := idx.TopK("FACTURE payee", 2)
	if len(res) != 1 || res[0].ID != "fr" {
		t.Fatalf("accent-insensitive match failed: %#v", res)
	}
}

func TestTokenize(t *testing.T) {
	toks := tokenize("Order #4521 was DOUBLE-charged (Zürich)", nil)
	for _, want := range []string{"order", "4521", "was", "double", "charged", "zurich"} {
		if _, ok := toks[want]; !ok {
			t.Fatalf("missing token %q in %v", want, toks)
		}
	}
	if len(toks) != 6 {
		t.Fatalf("unexpected tokens: %v", toks)
	}
	if tokenize("?? -- !!", nil) != nil {
		t.Fatalf("punctuation-only input should have no tokens")
	}
	if intersect(nil, toks) != 0 || intersect(toks, toks) != 6 {
		t.Fatalf("intersect mismatch")
	}
}
