package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/helpdesk-query/internal/domain"
	"github.com/tbourn/helpdesk-query/internal/utils"
)

// StatsResponse reports the cached snapshot's aggregates.
type StatsResponse struct {
	Store      string            `json:"store"`
	FetchedAt  time.Time         `json:"fetched_at"`
	Aggregates domain.Aggregates `json:"aggregates"`
}

// HistoryResponse wraps recent history entries, oldest first.
type HistoryResponse struct {
	Store   string                `json:"store"`
	Entries []domain.HistoryEntry `json:"entries"`
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// GetStats returns aggregates of the current snapshot, refreshing it when
// stale. The weak ETag changes whenever the snapshot is rebuilt, so clients
// polling with If-None-Match get 304 until the cache refreshes.
//
// @ID          getStats
// @Summary     Ticket aggregates for a helpdesk
// @Tags        Stats
// @Produce     json
// @Param       store          path    string  true   "Helpdesk name"
// @Param       If-None-Match  header  string  false  "ETag from a previous response"
// @Success     200  {object}  handlers.StatsResponse
// @Success     304  "Snapshot unchanged"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown helpdesk"
// @Failure     503  {object}  handlers.ErrorResponse  "Helpdesk unreachable"
// @Router      /{store}/stats [get]
func (h *Handlers) GetStats(c *gin.Context) {
	store, b, found := h.backend(c)
	if !found {
		return
	}

	snap, err := b.Cache.Get(c.Request.Context())
	if err != nil {
		failStore(c, err, ErrCodeStatsFailed)
		return
	}

	etag := fmt.Sprintf(`W/"stats:%s:%d:%d"`, store, snap.Aggregates.Total, snap.FetchedAt.UnixMilli())
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}

	ok(c, StatsResponse{
		Store:      store,
		FetchedAt:  snap.FetchedAt,
		Aggregates: snap.Aggregates,
	})
}

// DeleteCache drops the cached snapshot so the next read refetches.
//
// @ID       deleteCache
// @Summary  Invalidate the ticket cache
// @Tags     Stats
// @Param    store  path  string  true  "Helpdesk name"
// @Success  204
// @Failure  404  {object}  handlers.ErrorResponse  "Unknown helpdesk"
// @Router   /{store}/cache [delete]
func (h *Handlers) DeleteCache(c *gin.Context) {
	_, b, found := h.backend(c)
	if !found {
		return
	}
	b.Cache.Invalidate()
	noContent(c)
}

// GetHistory returns up to ?limit= recent exchanges (default 20, max 100).
//
// @ID       getHistory
// @Summary  Recent conversation history
// @Tags     History
// @Produce  json
// @Param    store  path   string  true   "Helpdesk name"
// @Param    limit  query  int     false  "Entries to return"  default(20)  maximum(100)
// @Success  200  {object}  handlers.HistoryResponse
// @Failure  404  {object}  handlers.ErrorResponse  "Unknown helpdesk"
// @Failure  500  {object}  handlers.ErrorResponse  "History backend failed"
// @Router   /{store}/history [get]
func (h *Handlers) GetHistory(c *gin.Context) {
	store, b, found := h.backend(c)
	if !found {
		return
	}

	limit := utils.ClampLimit(c.Query("limit"), defaultHistoryLimit, maxHistoryLimit)

	entries := []domain.HistoryEntry{}
	if b.History != nil {
		got, err := b.History.Recent(c.Request.Context(), limit)
		if err != nil {
			failStore(c, err, ErrCodeListFailed)
			return
		}
		if got != nil {
			entries = got
		}
	}
	ok(c, HistoryResponse{Store: store, Entries: entries})
}
