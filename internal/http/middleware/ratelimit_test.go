package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestKeyByStoreAndIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	keys := map[string]string{}
	r.GET("/:store/stats", func(c *gin.Context) { keys["stats"] = KeyByStoreAndIP()(c) })
	r.GET("/health", func(c *gin.Context) { keys["health"] = KeyByStoreAndIP()(c) })

	for _, path := range []string{"/zendesk/stats", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if keys["stats"] != "store:zendesk|ip:203.0.113.9" {
		t.Fatalf("unexpected store key %q", keys["stats"])
	}
	if keys["health"] != "store:-|ip:203.0.113.9" {
		t.Fatalf("unexpected fallback key %q", keys["health"])
	}
}

func TestNewRateLimiter_BurstCoercionAndReuse(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, KeyByStoreAndIP())
	if rl.burst != 1 {
		t.Fatalf("burst coercion failed, got %d", rl.burst)
	}
	lim := rl.getVisitor("k1")
	if got := rl.getVisitor("k1"); got != lim {
		t.Fatalf("expected the same limiter for the same key")
	}
	if got := rl.getVisitor("k2"); got == lim {
		t.Fatalf("expected a separate limiter per key")
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(1.0, 1, KeyByStoreAndIP())
	rl.now = clk.now

	rl.visitors["old"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: clk.t.Add(-visitorTTL)}
	rl.visitors["recent"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: clk.t.Add(-time.Minute)}
	rl.lookups = sweepEvery - 1

	_ = rl.getVisitor("new")

	if _, ok := rl.visitors["old"]; ok {
		t.Fatalf("expected idle bucket to be evicted")
	}
	for _, k := range []string{"recent", "new"} {
		if _, ok := rl.visitors[k]; !ok {
			t.Fatalf("expected %q to be kept", k)
		}
	}
	if rl.lookups != 0 {
		t.Fatalf("lookup counter not reset: %d", rl.lookups)
	}
}

func TestIsRateBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if IsRateBypass(c) {
		t.Fatalf("expected IsRateBypass=false by default")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatalf("expected IsRateBypass=true when set")
	}
	c.Set(ctxKeyRateBypass, "yes")
	if IsRateBypass(c) {
		t.Fatalf("expected IsRateBypass=false when non-bool stored")
	}
}

func limitedRouter(rl *RateLimiter, pre ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.Use(pre...)
	r.Use(rl.Handler())
	r.POST("/:store/query", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func post(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = "198.51.100.7:4000"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_Handler_AllowDenyRefill(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(0.5, 2, KeyByStoreAndIP()) // one token every 2s
	rl.now = clk.now
	r := limitedRouter(rl)

	base := testutil.ToFloat64(httpRateLimited.WithLabelValues("/:store/query"))

	w := post(r, "/zendesk/query")
	if w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "2" || w.Header().Get("X-RateLimit-Remaining") != "1" {
		t.Fatalf("unexpected limit headers: %v", w.Header())
	}
	if w := post(r, "/zendesk/query"); w.Code != http.StatusOK {
		t.Fatalf("second request within burst: %d", w.Code)
	}

	w = post(r, "/zendesk/query")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request should be limited, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q; want 2", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "too_many_requests" || body["request_id"] != w.Header().Get(requestIDHeader) {
		t.Fatalf("unexpected JSON body: %v", body)
	}
	if got := testutil.ToFloat64(httpRateLimited.WithLabelValues("/:store/query")); got != base+1 {
		t.Fatalf("rate limited counter = %v; want %v", got, base+1)
	}

	// Other store has its own bucket.
	if w := post(r, "/intercom/query"); w.Code != http.StatusOK {
		t.Fatalf("intercom bucket should be independent, got %d", w.Code)
	}

	// A rejected request does not consume the next token.
	clk.advance(2 * time.Second)
	if w := post(r, "/zendesk/query"); w.Code != http.StatusOK {
		t.Fatalf("after refill: %d", w.Code)
	}
}

func TestRateLimiter_BypassAndDisabled(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, KeyByStoreAndIP())
	bypass := limitedRouter(rl, func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() })
	for i := 0; i < 3; i++ {
		if w := post(bypass, "/zendesk/query"); w.Code != http.StatusOK {
			t.Fatalf("replay %d should bypass, got %d", i, w.Code)
		}
	}

	off := limitedRouter(NewRateLimiter(0, 1, KeyByStoreAndIP()))
	for i := 0; i < 3; i++ {
		w := post(off, "/zendesk/query")
		if w.Code != http.StatusOK {
			t.Fatalf("disabled limiter rejected request %d: %d", i, w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") != "" {
			t.Fatalf("disabled limiter should not set headers")
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := map[time.Duration]int{0: 1, 300 * time.Millisecond: 1, time.Second: 1, 1500 * time.Millisecond: 2, 10 * time.Second: 10}
	for in, want := range cases {
		if got := retryAfterSeconds(in); got != want {
			t.Fatalf("retryAfterSeconds(%v) = %d; want %d", in, got, want)
		}
	}
}
