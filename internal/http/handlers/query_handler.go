// Query HTTP handler.
//
// POST /{store}/query runs one natural-language query. Every pipeline
// outcome, including failures like "store unavailable" or "needs
// confirmation", is a 200 with the answer glyph and outcome in the body;
// only transport problems produce an error envelope.
//
// Idempotency:
// With an Idempotency-Key header the marshaled response is recorded under
// (store, key) together with a hash of the request. A retry with the same
// key and body gets the recorded answer back with Idempotency-Replayed: true
// and the pipeline does not run again. Reusing the key for a different
// request is a 422.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/helpdesk-query/internal/domain"
	"github.com/tbourn/helpdesk-query/internal/http/middleware"
	"github.com/tbourn/helpdesk-query/internal/repo"
	"github.com/tbourn/helpdesk-query/internal/services"
)

// QueryRequest is the JSON payload of POST /{store}/query.
type QueryRequest struct {
	// Query is the user's text. Blank text yields a warning answer, not a 400.
	Query string `json:"query"`
	// Context carries the tickets listed by the previous answer so ordinal
	// references ("the second one") resolve.
	Context services.QueryContext `json:"context"`
}

const jsonContentType = "application/json; charset=utf-8"

// fingerprint hashes the bound request, so whitespace or key order in the
// client's JSON does not matter.
func (q QueryRequest) fingerprint() string {
	b, _ := json.Marshal(q)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// PostQuery godoc
// @ID          postQuery
// @Summary     Ask a question about a helpdesk's tickets
// @Description Runs the fast path, the operation dispatcher and the grounded fallback in turn.
// @Description Pipeline outcomes, failures included, are answered with 200.
// @Tags        Query
// @Accept      json
// @Produce     json
//
// @Param       store            path    string  true  "Helpdesk name"  Enums(zendesk, intercom)
// @Param       Idempotency-Key  header  string  false "Key for safe retries; replays return the recorded answer"
// @Param       body             body    handlers.QueryRequest  true  "Query and previous-turn context"
//
// @Success     200  {object}  services.Response        "Answer"
// @Failure     400  {object}  handlers.ErrorResponse   "Bad request or malformed Idempotency-Key"
// @Failure     404  {object}  handlers.ErrorResponse   "Unknown helpdesk"
// @Failure     422  {object}  handlers.ErrorResponse   "Idempotency-Key reused for a different query"
// @Failure     429  {object}  handlers.ErrorResponse   "Rate limited"
// @Router      /{store}/query [post]
func (h *Handlers) PostQuery(c *gin.Context) {
	ctx := c.Request.Context()
	store, b, found := h.backend(c)
	if !found {
		return
	}

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body must be JSON: {\"query\": \"...\"}")
		return
	}

	key, hasKey := middleware.GetIdempotencyKey(c)
	hasKey = hasKey && h.replays != nil
	hash := req.fingerprint()
	if hasKey && middleware.IsReplay(c) {
		if rec, err := h.replays.Find(ctx, store, key); err == nil {
			if !rec.Matches(hash) {
				fail(c, http.StatusUnprocessableEntity, ErrCodeIdempotencyKeyReused,
					"Idempotency-Key was already used for a different query")
				return
			}
			c.Header(middleware.HeaderIdempotencyReplayed, "true")
			c.Data(rec.Status, jsonContentType, []byte(rec.Body))
			return
		}
	}

	resp := b.Pipeline.HandleQuery(ctx, req.Query, req.Context)
	body, err := json.Marshal(resp)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "encode response")
		return
	}

	if hasKey {
		rec := domain.Idempotency{Store: store, Key: key, RequestHash: hash, Status: http.StatusOK, Body: string(body)}
		if _, err := h.replays.Record(ctx, rec, h.replayTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("record idempotent response")
		}
	}

	c.Data(http.StatusOK, jsonContentType, body)
}
