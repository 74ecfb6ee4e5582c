// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic. Labels:
//
//   - method: HTTP method
//   - path:   the registered Gin route (e.g. /api/v1/:store/query), or
//     "unmatched" when no route matched
//   - store:  the :store route param, "-" for routes without one and
//     "other" for stores that are not configured
//   - status: numeric status code as a string
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "store", "status"},
	)

	// No status label on latency.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "store"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	httpRateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		},
		[]string{"path"},
	)

	httpPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_panics_total",
			Help: "Panics recovered while serving requests.",
		},
		[]string{"store"},
	)

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 500, 1 << 10, 2 << 10, 5 << 10, // 200B..5KiB
				10 << 10, 25 << 10, 50 << 10, // 10..50KiB
				100 << 10, 250 << 10, 500 << 10, // 100..500KiB
				1 << 20, 2 << 20, 5 << 20, // 1..5MiB
			},
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRateLimited, httpPanics, httpRespSize)
}

// unmatchedPath labels requests that hit no route.
const unmatchedPath = "unmatched"

func routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedPath
}

// Metrics instruments requests with the collectors above. stores lists the
// configured helpdesks; when empty every :store value is used as is.
// Fallback completions can take tens of seconds, so latency buckets reach 30s.
func Metrics(stores ...string) gin.HandlerFunc {
	known := make(map[string]struct{}, len(stores))
	for _, s := range stores {
		known[s] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := routeLabel(c)
		store := storeLabel(c)
		if _, ok := known[store]; len(known) > 0 && store != "-" && !ok {
			store = "other"
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, path, store, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path, store).Observe(time.Since(start).Seconds())
		// Size is -1 when nothing was written.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
