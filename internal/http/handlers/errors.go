// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them. Generic
// codes mirror HTTP status semantics. Domain codes cover failures status
// alone cannot express. Pipeline outcomes (missing context, unsupported
// operation, ...) are never errors here: they travel in-band in a 200 query
// response.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "store_not_found",
//	  "message": "unknown helpdesk: freshdesk"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeStoreNotFound    = "store_not_found"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeStatsFailed      = "stats_failed"
	ErrCodeListFailed       = "list_failed"

	ErrCodeIdempotencyKeyReused = "idempotency_key_reused"
)
