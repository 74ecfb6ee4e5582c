package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// defaultHSTSMaxAge applies when SecurityOptions.HSTSMaxAge is not positive.
const defaultHSTSMaxAge = 180 * 24 * time.Hour

// exposedHeaders are readable by browser clients: the correlation id, the
// stats ETag, the idempotent replay marker and the rate-limit state.
var exposedHeaders = []string{
	requestIDHeader,
	"ETag",
	HeaderIdempotencyReplayed,
	"Retry-After",
	"X-RateLimit-Limit",
	"X-RateLimit-Remaining",
}

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security on HTTPS requests only.
	// Enable it when traffic is HTTPS end-to-end.
	EnableHSTS bool
	HSTSMaxAge time.Duration
	// NoStore marks responses Cache-Control: no-store. Query answers and
	// history carry ticket subjects and requester emails.
	NoStore bool
	// Revalidate lists route patterns (gin FullPath) that get
	// "private, no-cache" instead of no-store so clients can keep the body
	// and revalidate it with If-None-Match.
	Revalidate []string
	// EnablePolicy sends Permissions-Policy and
	// X-Permitted-Cross-Domain-Policies.
	EnablePolicy bool
}

// SecurityHeaders sets nosniff, DENY framing and no-referrer on every
// response, plus the optional cache, policy and HSTS headers, and appends
// exposedHeaders to Access-Control-Expose-Headers.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains; preload"

	revalidate := make(map[string]struct{}, len(opt.Revalidate))
	for _, p := range opt.Revalidate {
		revalidate[p] = struct{}{}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if _, ok := revalidate[c.FullPath()]; ok {
			h.Set("Cache-Control", "private, no-cache")
		} else if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		exposeHeaders(h, exposedHeaders...)

		c.Next()
	}
}

// isHTTPS reports whether the request arrived over TLS directly or through
// a proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// exposeHeaders appends names missing from Access-Control-Expose-Headers,
// comparing case-insensitively.
func exposeHeaders(h http.Header, names ...string) {
	const hdr = "Access-Control-Expose-Headers"
	cur := h.Get(hdr)
	have := map[string]bool{}
	for _, p := range strings.Split(cur, ",") {
		if p = strings.TrimSpace(p); p != "" {
			have[strings.ToLower(p)] = true
		}
	}
	for _, n := range names {
		if have[strings.ToLower(n)] {
			continue
		}
		have[strings.ToLower(n)] = true
		if cur == "" {
			cur = n
		} else {
			cur += ", " + n
		}
	}
	h.Set(hdr, cur)
}
