// Package handlers exposes the per-helpdesk query API:
//   - POST   /{store}/query     (run the query pipeline)
//   - GET    /{store}/stats     (snapshot aggregates, ETag support)
//   - DELETE /{store}/cache     (drop the cached snapshot)
//   - GET    /{store}/history   (recent conversation history)
//   - GET    /stores            (configured helpdesks)
//
// Handlers are transport-thin: they resolve the :store param to a Backend,
// bind input, delegate, and translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/helpdesk-query/internal/domain"
	"github.com/tbourn/helpdesk-query/internal/history"
	"github.com/tbourn/helpdesk-query/internal/repo"
	"github.com/tbourn/helpdesk-query/internal/services"
)

// Pipeline answers natural-language queries for one helpdesk.
// *services.QueryService satisfies it.
type Pipeline interface {
	HandleQuery(ctx context.Context, text string, qctx services.QueryContext) services.Response
}

// SnapshotCache is the read side of a store's ticket cache.
type SnapshotCache interface {
	Get(ctx context.Context) (*domain.Snapshot, error)
	Invalidate()
}

// Backend groups what the API needs for one helpdesk.
type Backend struct {
	Pipeline Pipeline
	Cache    SnapshotCache
	History  history.Log // nil disables GET /history
}

// Handlers serves every configured helpdesk.
type Handlers struct {
	backends  map[string]Backend
	replays   *repo.Responses // nil disables Idempotency-Key replays
	replayTTL time.Duration
}

// New binds handlers to backends keyed by store name. replays may be nil.
func New(backends map[string]Backend, replays *repo.Responses, replayTTL time.Duration) *Handlers {
	if replayTTL <= 0 {
		replayTTL = 24 * time.Hour
	}
	return &Handlers{backends: backends, replays: replays, replayTTL: replayTTL}
}

// StoresResponse lists configured helpdesks.
type StoresResponse struct {
	Stores []string `json:"stores"`
}

// Stores returns the configured store names in lexical order.
func (h *Handlers) Stores() []string {
	names := make([]string, 0, len(h.backends))
	for name := range h.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListStores godoc
// @ID       listStores
// @Summary  Configured helpdesks
// @Tags     Stores
// @Produce  json
// @Success  200  {object}  handlers.StoresResponse
// @Router   /stores [get]
func (h *Handlers) ListStores(c *gin.Context) {
	ok(c, StoresResponse{Stores: h.Stores()})
}

// backend resolves :store or fails with 404 store_not_found.
func (h *Handlers) backend(c *gin.Context) (string, Backend, bool) {
	name := c.Param("store")
	b, found := h.backends[name]
	if !found {
		fail(c, http.StatusNotFound, ErrCodeStoreNotFound, "unknown helpdesk: "+name)
		return name, Backend{}, false
	}
	return name, b, true
}
