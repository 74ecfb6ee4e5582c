package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

func TestFallback_PromptOnEmptySnapshot(t *testing.T) {
	f := NewFallback("zendesk", nil, 0)
	p := f.BuildPrompt("anything urgent?", domain.BuildSnapshot(nil, testNow), QueryContext{}, nil)

	assert.Contains(t, p, "Zendesk ticket system")
	assert.Contains(t, p, "Total tickets: 0")
	assert.Contains(t, p, "There are no tickets in the cache.")
	assert.NotContains(t, p, "Most relevant tickets")
}

func TestFallback_PromptSections(t *testing.T) {
	f := NewFallback("zendesk", nil, 0.05)
	var recent []domain.HistoryEntry
	for i := 0; i < 12; i++ {
		recent = append(recent, domain.HistoryEntry{Query: fmt.Sprintf("q%02d", i), Response: fmt.Sprintf("a%02d", i)})
	}
	qctx := QueryContext{LastResults: sampleTickets()[:1], LastQuery: "show the newest billing ticket"}

	p := f.BuildPrompt("duplicate charge refund", sampleSnapshot(), qctx, recent)

	assert.Contains(t, p, "Total tickets: 4")
	assert.Contains(t, p, "By status: open 2, pending 1, solved 1")
	assert.Contains(t, p, "Top tags: billing 3")
	assert.Contains(t, p, "Unassigned: 3")
	assert.Contains(t, p, "#44 [open/urgent] Invoice missing VAT")
	assert.Contains(t, p, "## Most relevant tickets\n#42 ")
	assert.Contains(t, p, "Previous question: show the newest billing ticket\n")
	assert.Contains(t, p, "## Tickets shown in the previous answer\n1. #42")
	assert.Contains(t, p, "Q: q02\nA: a02")
	assert.Contains(t, p, "Q: q11")
	assert.NotContains(t, p, "Q: q01", "only the last 10 history entries are included")
}

func TestFallback_PromptCapsRecords(t *testing.T) {
	var recs []domain.Ticket
	for i := 0; i < 60; i++ {
		recs = append(recs, domain.Ticket{ID: fmt.Sprint(1000 + i), Subject: "s", Status: "open"})
	}
	p := NewFallback("intercom", nil, 0).BuildPrompt("x", domain.BuildSnapshot(recs, testNow), QueryContext{}, nil)
	assert.Contains(t, p, "(first 50 of 60)")
	assert.Contains(t, p, "#1049 ")
	assert.NotContains(t, p, "#1050 ")
}

func TestFallback_Answer(t *testing.T) {
	llm := &fakeCompleter{reply: "Ticket #42 is about a duplicate charge."}
	f := NewFallback("zendesk", llm, 0)

	a := f.Answer(context.Background(), "what is #42 about?", sampleSnapshot(), QueryContext{}, nil)
	assert.Equal(t, "✅ Ticket #42 is about a duplicate charge.", a.Text)
	assert.Equal(t, domain.SourceAI, a.Source)
	assert.Equal(t, 0.85, a.Confidence)
	assert.Equal(t, "what is #42 about?", llm.user)
	assert.Contains(t, llm.system, "Total tickets: 4")

	llm.reply = "⚠️ I can't tell from the data."
	a = f.Answer(context.Background(), "who is the CEO?", sampleSnapshot(), QueryContext{}, nil)
	assert.Equal(t, "⚠️ I can't tell from the data.", a.Text, "an existing glyph is kept")
}

func TestFallback_Failures(t *testing.T) {
	llm := &fakeCompleter{err: errors.New("rate limited")}
	f := NewFallback("zendesk", llm, 0)

	a := f.Answer(context.Background(), "show me the 2 latest tickets", sampleSnapshot(), QueryContext{}, nil)
	assert.True(t, strings.HasPrefix(a.Text, GlyphError))
	assert.Equal(t, OutcomeFallbackFailure, a.Outcome)
	assert.Zero(t, a.Confidence)
	assert.Len(t, a.Results, 2, "listing results survive a completion failure")

	calls := llm.calls
	a = f.Answer(context.Background(), "anything", nil, QueryContext{}, nil)
	assert.Equal(t, OutcomeStoreUnavailable, a.Outcome)
	assert.True(t, strings.HasPrefix(a.Text, GlyphError))
	assert.Equal(t, calls, llm.calls, "no completion without a snapshot")

	a = NewFallback("zendesk", nil, 0).Answer(context.Background(), "anything", sampleSnapshot(), QueryContext{}, nil)
	assert.Equal(t, OutcomeFallbackFailure, a.Outcome)
}

func TestListingResults(t *testing.T) {
	snap := sampleSnapshot()
	ids := func(ts []domain.Ticket) []string {
		out := make([]string, len(ts))
		for i, t := range ts {
			out[i] = t.ID
		}
		return out
	}

	assert.Equal(t, []string{"42", "43"}, ids(listingResults("show me the 2 most recent tickets", snap)))
	assert.Equal(t, []string{"45", "44", "43"}, ids(listingResults("list the 3 oldest tickets", snap)))
	assert.Equal(t, []string{"42", "44"}, ids(listingResults("list open tickets", snap)))
	assert.Equal(t, []string{"44"}, ids(listingResults("show urgent tickets", snap)))
	assert.Len(t, listingResults("show me the latest tickets", snap), 4, "default size is capped by what exists")
	assert.Nil(t, listingResults("what are customers saying?", snap))
	assert.Nil(t, listingResults("show me tickets", domain.BuildSnapshot(nil, testNow)))

	var many []domain.Ticket
	for i := 0; i < 80; i++ {
		many = append(many, domain.Ticket{ID: fmt.Sprint(i), CreatedAt: testNow.Add(-time.Duration(i) * time.Hour)})
	}
	big := domain.BuildSnapshot(many, testNow)
	assert.Len(t, listingResults("show recent tickets", big), defaultListSize)
	assert.Len(t, listingResults("show the 500 latest tickets", big), maxListSize)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 3))
	assert.Equal(t, "ab…", truncateRunes("abcd", 3))
}
