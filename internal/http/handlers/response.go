package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/helpdesk-query/internal/helpdesk"
	"github.com/tbourn/helpdesk-query/internal/http/middleware"
)

// ErrorResponse is the envelope of every non-2xx answer.
//
//	{"request_id": "…", "code": "store_not_found", "message": "unknown helpdesk: freshdesk"}
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// fail aborts with the error envelope. 5xx are logged at error level with
// the request-scoped logger, 4xx at debug.
func fail(c *gin.Context, status int, code, msg string) {
	lg := middleware.LoggerFrom(c)
	ev := lg.Debug()
	if status >= http.StatusInternalServerError {
		ev = lg.Error()
	}
	ev.Int("status", status).Str("code", code).Str("message", msg).Msg("request failed")

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.GetRequestID(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail exposes fail to the router for NoRoute and NoMethod.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failStore maps a helpdesk error onto a status. An unreachable store is a
// 503 store_unavailable, a missing entity a 404, anything else a 500 with
// the caller's code.
func failStore(c *gin.Context, err error, code string) {
	switch {
	case errors.Is(err, helpdesk.ErrStoreUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, err.Error())
	case errors.Is(err, helpdesk.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		fail(c, http.StatusInternalServerError, code, err.Error())
	}
}

func ok(c *gin.Context, body any) { c.JSON(http.StatusOK, body) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }
