// Package httpapi wires the HTTP transport (Gin) to the per-helpdesk query
// pipelines, middleware, and route handlers. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, redacted logging, panic
// recovery, metrics, compression, CORS, security headers, idempotency, and
// rate limiting.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/helpdesk-query/internal/config"
	"github.com/tbourn/helpdesk-query/internal/http/handlers"
	"github.com/tbourn/helpdesk-query/internal/http/middleware"
	"github.com/tbourn/helpdesk-query/internal/repo"
)

// maxBodyBytes caps request bodies. A query plus a full lastResults list of
// 50 tickets stays well below it.
const maxBodyBytes = 1 << 20

// RegisterRoutes attaches middleware and endpoints to r. replays backs
// Idempotency-Key replays and may be nil, which disables them.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: PII-scrubbed access logs, request-scoped logger
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip (not for /metrics, which promhttp compresses itself)
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per store and IP, bypass on replay)
//  10. CORS and security headers (no-store except revalidated stats)
func RegisterRoutes(r *gin.Engine, h *handlers.Handlers, replays *repo.Responses, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
		QuietPaths:  []string{"/health", "/metrics"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))

	r.Use(middleware.Metrics(h.Stores()...))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	var lookup middleware.IdempotencyLookup
	if replays != nil {
		lookup = replays.Exists
	}
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByStoreAndIP())
	r.Use(rl.Handler())

	r.Use(corsHandlers(cfg.CORS.AllowedOrigins)...)

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		Revalidate:   []string{strings.TrimRight(cfg.APIBasePath, "/") + "/:store/stats"},
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/stores", h.ListStores)
		api.POST("/:store/query", h.PostQuery)
		api.GET("/:store/stats", h.GetStats)
		api.DELETE("/:store/cache", h.DeleteCache)
		api.GET("/:store/history", h.GetHistory)
	}
}

// corsHandlers allows every origin when origins is empty, echoing "*" even
// without an Origin header so plain health checks see it. Otherwise only
// the listed origins are echoed back.
func corsHandlers(origins []string) []gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag", middleware.HeaderIdempotencyReplayed, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) > 0 {
		cc.AllowOrigins = origins
		return []gin.HandlerFunc{cors.New(cc)}
	}
	cc.AllowAllOrigins = true
	star := func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Next()
	}
	return []gin.HandlerFunc{star, cors.New(cc)}
}

// limitBody caps the request body at maxBytes via http.MaxBytesReader.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
