// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the request ID injector, the panic recovery handler,
// the error envelope written by middleware that aborts, and access to the
// request-scoped logger attached by RedactingLogger.
//
// Recommended order:
//  1. RequestID()
//  2. RedactingLogger(...)
//  3. Recovery()
//
// so that panics and errors carry the correlation ID.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	// loggerKey is the Gin context key holding the request-scoped logger.
	loggerKey = "logger"
	// maxRequestIDLength bounds client-supplied request IDs.
	maxRequestIDLength = 128
	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
)

// RequestID reuses an incoming X-Request-ID when it is short and made of
// [A-Za-z0-9._:-], otherwise generates a UUIDv4. The ID is echoed on the
// response and stored in the Gin context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// GetRequestID returns the correlation ID of the request, or "" when
// RequestID is not installed.
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return c.Writer.Header().Get(requestIDHeader)
}

func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-', ch == '_', ch == '.', ch == ':':
		default:
			return false
		}
	}
	return true
}

// abortJSON stops the chain with the {request_id, code, message} envelope
// the handlers package uses for errors.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": GetRequestID(c),
		"code":       code,
		"message":    msg,
	})
}

// Recovery converts panics into a JSON 500 envelope and logs the panic
// value with a stack trace. When the handler already wrote a response only
// the status is aborted.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("route", c.FullPath()).
				Msg("panic recovered")
			httpPanics.WithLabelValues(storeLabel(c)).Inc()

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger. Without RedactingLogger it
// falls back to the logger on the request context, then the global logger.
// Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	if c.Request != nil {
		if lg := zerolog.Ctx(c.Request.Context()); lg != nil && lg.GetLevel() != zerolog.Disabled {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// storeLabel is the :store param, or "-" for routes without one.
func storeLabel(c *gin.Context) string {
	if s := c.Param("store"); s != "" {
		return s
	}
	return "-"
}

// truncate caps s at max bytes and appends an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
