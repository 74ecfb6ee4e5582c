// Package services implements the natural-language ticket query pipeline:
// the fast-path classifier, the operation dispatcher, the context-grounded
// fallback, and the QueryService entry point that chains them.
//
// This file centralizes service-level error values. The pipeline itself never
// returns them to callers; they are converted to answers. They surface only
// from input helpers such as NormalizeQuery, which transports use to reject
// requests up front.
package services

import "errors"

var (
	// ErrEmptyQuery is returned when a query is blank after trimming.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrQueryTooLong is returned when a query exceeds MaxQueryRunes.
	ErrQueryTooLong = errors.New("query too long")
)
