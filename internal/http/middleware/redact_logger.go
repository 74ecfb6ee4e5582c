package middleware

import (
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Access logging for the query API. Questions routinely carry requester
// emails and phone numbers, so bodies are never logged and query strings and
// header values are scrubbed before they reach a log line.

const redacted = "[REDACTED]"

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)
	// digits only, so the hex groups of a UUID never match
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// Redact replaces UUIDs, emails and phone numbers in s with placeholders.
// UUIDs are replaced first so the loose phone pattern cannot split them.
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// RedactOptions tunes RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are replaced wholesale, on top of Authorization, Cookie
	// and Set-Cookie.
	MaskHeaders []string
	// QuietPaths are logged at debug level when they succeed. Used for
	// health and metrics checks such as /health and /metrics.
	QuietPaths []string
}

// RedactingLogger writes one access line per request and attaches a
// request-scoped logger carrying request_id, store and, inside a sampled
// span, trace_id. The scoped logger is reachable with LoggerFrom(c) and
// zerolog.Ctx(c.Request.Context()).
//
// Levels: info below 400, warn for 4xx, error for 5xx or recorded gin errors.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]bool{"authorization": true, "cookie": true, "set-cookie": true}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = true
		}
	}
	quiet := make(map[string]bool, len(opts.QuietPaths))
	for _, p := range opts.QuietPaths {
		quiet[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		lg := scopedLogger(c)
		c.Set(loggerKey, &lg)
		c.Request = c.Request.WithContext(lg.WithContext(c.Request.Context()))

		c.Next()

		route := routeLabel(c)
		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError || len(c.Errors) > 0:
			ev = lg.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= http.StatusBadRequest:
			ev = lg.Warn()
		case quiet[route] || quiet[c.Request.URL.Path]:
			ev = lg.Debug()
		default:
			ev = lg.Info()
		}
		if !ev.Enabled() {
			return
		}

		if route == unmatchedPath {
			route = Redact(truncate(c.Request.URL.Path, maxQueryLogLength))
		}
		ev = ev.Str("method", c.Request.Method).
			Str("path", route).
			Str("query", Redact(truncate(c.Request.URL.RawQuery, maxQueryLogLength))).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Dict("headers", scrubHeaders(c.Request.Header, masked))
		if c.Writer.Header().Get(HeaderIdempotencyReplayed) == "true" {
			ev = ev.Bool("replayed", true)
		}
		ev.Msg("http_request")
	}
}

func scopedLogger(c *gin.Context) zerolog.Logger {
	ctx := log.With().Str("request_id", GetRequestID(c))
	if store := c.Param("store"); store != "" {
		ctx = ctx.Str("store", store)
	}
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
		ctx = ctx.Str("trace_id", sc.TraceID().String())
	}
	return ctx.Logger()
}

// scrubHeaders renders h with masked names blanked and PII redacted from
// the rest, in sorted order.
func scrubHeaders(h http.Header, masked map[string]bool) *zerolog.Event {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	d := zerolog.Dict()
	for _, name := range names {
		if masked[strings.ToLower(name)] {
			d = d.Str(name, redacted)
			continue
		}
		d = d.Str(name, Redact(strings.Join(h[name], ", ")))
	}
	return d
}
