package services

import (
	"strings"
	"unicode/utf8"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

// MaxQueryRunes bounds accepted query text.
const MaxQueryRunes = 2000

// Leading glyphs that classify every answer.
const (
	GlyphOK    = "✅"
	GlyphError = "❌"
	GlyphWarn  = "⚠️"
)

// Outcome is the machine-readable category of an answer.
type Outcome string

const (
	OutcomeAnswered             Outcome = "answered"
	OutcomeConfirmationRequired Outcome = "confirmation_required"
	OutcomeMissingContext       Outcome = "missing_context"
	OutcomeAmbiguousEntity      Outcome = "ambiguous_entity"
	OutcomeAmbiguousIntent      Outcome = "ambiguous_intent"
	OutcomeUnsupported          Outcome = "unsupported"
	OutcomeStoreUnavailable     Outcome = "store_unavailable"
	OutcomeOperationFailed      Outcome = "operation_failed"
	OutcomeFallbackFailure      Outcome = "fallback_failure"
	OutcomeInvalidQuery         Outcome = "invalid_query"
	OutcomeInternalError        Outcome = "internal_error"
)

// Fixed confidences.
const (
	confidenceAction       = 0.95
	confidenceConfirmation = 0.95
	confidenceUnsupported  = 0.9
	confidenceFallback     = 0.85
	confidenceClarify      = 0.5
	confidenceFailure      = 0
)

// Answer is the terminal value of every pipeline stage.
type Answer struct {
	Text       string
	Source     string
	Confidence float64
	Outcome    Outcome
	Results    []domain.Ticket
}

// QueryContext carries the previous turn so ordinals ("the second ticket")
// can be resolved.
type QueryContext struct {
	LastResults []domain.Ticket `json:"lastResults,omitempty"`
	LastQuery   string          `json:"lastQuery,omitempty"`
}

// Response is what HandleQuery returns to transports.
type Response struct {
	Answer         string          `json:"answer"`
	Source         string          `json:"source"`
	Confidence     float64         `json:"confidence"`
	ProcessingTime int64           `json:"processingTime"`
	Outcome        Outcome         `json:"outcome"`
	Results        []domain.Ticket `json:"results,omitempty"`
}

func ok(source string, confidence float64, text string) Answer {
	return Answer{Text: withGlyph(GlyphOK, text), Source: source, Confidence: confidence, Outcome: OutcomeAnswered}
}

func warn(source string, outcome Outcome, confidence float64, text string) Answer {
	return Answer{Text: withGlyph(GlyphWarn, text), Source: source, Confidence: confidence, Outcome: outcome}
}

func fail(source string, outcome Outcome, text string) Answer {
	return Answer{Text: withGlyph(GlyphError, text), Source: source, Confidence: confidenceFailure, Outcome: outcome}
}

// withGlyph prefixes text unless it already starts with one of the glyphs.
func withGlyph(glyph, text string) string {
	text = strings.TrimSpace(text)
	if HasGlyph(text) {
		return text
	}
	return glyph + " " + text
}

// HasGlyph reports whether text starts with an outcome glyph.
func HasGlyph(text string) bool {
	return strings.HasPrefix(text, GlyphOK) || strings.HasPrefix(text, GlyphError) || strings.HasPrefix(text, GlyphWarn)
}

// NormalizeQuery trims text and validates its length.
func NormalizeQuery(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyQuery
	}
	if utf8.RuneCountInString(text) > MaxQueryRunes {
		return "", ErrQueryTooLong
	}
	return text, nil
}
