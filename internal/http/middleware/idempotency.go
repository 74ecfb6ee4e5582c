package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// Idempotency-Key handling for POST /:store/query.
//
// IdempotencyValidator checks the header and asks a lookup whether an answer
// is already recorded for (store, key). The query handler then serves the
// recorded answer instead of re-running the pipeline, and the rate limiter
// lets the retry through: a client repeating "confirm delete ticket #N"
// after a timeout gets its original answer without a second delete.

const (
	// HeaderIdempotencyKey carries the client's key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotencyReplayed is "true" on answers served from a record.
	HeaderIdempotencyReplayed = "Idempotency-Replayed"

	defaultIdempotencyKeyLen = 200

	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultIdempotencyPattern = regexp.MustCompile(`^[A-Za-z0-9._~:-]+$`)

// IdempotencyOptions bounds accepted keys.
type IdempotencyOptions struct {
	MaxLen  int            // <= 0 means 200
	Pattern *regexp.Regexp // nil means [A-Za-z0-9._~:-]+
}

// IdempotencyLookup reports whether a live answer is recorded for
// (store, key) at now. Errors are treated as a miss.
type IdempotencyLookup func(ctx context.Context, store, key string, now time.Time) (bool, error)

// IdempotencyValidator rejects malformed keys with 400 bad_idempotency_key
// and marks requests whose key already has a recorded answer. Requests
// without the header pass untouched. lookup may be nil.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	if opts.MaxLen <= 0 {
		opts.MaxLen = defaultIdempotencyKeyLen
	}
	if opts.Pattern == nil {
		opts.Pattern = defaultIdempotencyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		switch {
		case key == "":
		case len(key) > opts.MaxLen || !opts.Pattern.MatchString(key):
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		default:
			c.Set(ctxKeyIdemKey, key)
			if lookup == nil {
				break
			}
			hit, err := lookup(c.Request.Context(), c.Param("store"), key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Debug().Err(err).Msg("idempotency lookup")
			}
			if hit && err == nil {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	key, _ := c.Value(ctxKeyIdemKey).(string)
	return key, key != ""
}

// IsReplay reports whether an answer is recorded for this request's key.
func IsReplay(c *gin.Context) bool {
	replay, _ := c.Value(ctxKeyIdemReplay).(bool)
	return replay
}
