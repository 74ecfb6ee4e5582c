package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// visitorTTL is how long an idle bucket is kept.
	visitorTTL = 10 * time.Minute
	// sweepEvery is the number of lookups between idle-bucket sweeps.
	sweepEvery = 5000
)

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByStoreAndIP buckets requests per (store, client IP), so a client
// hammering one helpdesk does not exhaust its budget for the other. Routes
// without a :store param share the "-" bucket.
func KeyByStoreAndIP() keyFunc {
	return func(c *gin.Context) string {
		return "store:" + storeLabel(c) + "|ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token-bucket limiter with one bucket per
// key. Every query may reach a paid completion API and a helpdesk API with
// its own quota, so this is cost control at the edge rather than
// authorization. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64
}

// NewRateLimiter returns a limiter refilling rps tokens per second up to
// burst. rps <= 0 disables limiting; burst <= 0 is coerced to 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		now:      time.Now,
		visitors: make(map[string]*visitor),
		ttl:      visitorTTL,
	}
}

// getVisitor returns the bucket for key, creating it if absent. Idle
// buckets are swept every sweepEvery lookups, before the requested bucket
// is touched so a stale one can be evicted too.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= sweepEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked this request as
// a replay, which is served without consuming tokens.
func IsRateBypass(c *gin.Context) bool {
	bypass, _ := c.Value(ctxKeyRateBypass).(bool)
	return bypass
}

// Handler enforces the limit. Allowed requests carry X-RateLimit-Limit and
// X-RateLimit-Remaining; rejected ones get 429 too_many_requests with a
// Retry-After rounded up to whole seconds.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rps <= 0 || IsRateBypass(c) {
			c.Next()
			return
		}

		now := rl.now()
		lim := rl.getVisitor(rl.keyFn(c))
		res := lim.ReserveN(now, 1)

		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))

		delay := res.DelayFrom(now)
		if res.OK() && delay == 0 {
			h.Set("X-RateLimit-Remaining", strconv.Itoa(int(math.Max(0, lim.TokensAt(now)))))
			c.Next()
			return
		}
		res.CancelAt(now)

		h.Set("X-RateLimit-Remaining", "0")
		h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(delay)))
		httpRateLimited.WithLabelValues(routeLabel(c)).Inc()
		abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
