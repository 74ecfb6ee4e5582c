// Package cache holds one lazily refreshed ticket snapshot per store.
//
// Expiry is checked on access; there is no background timer. Concurrent
// misses may each fetch and the last completed fetch wins, which is safe
// because FetchAll has no side effects.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

var fetches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ticket_cache_fetches_total",
		Help: "Ticket snapshot fetches by store and result (ok|error).",
	},
	[]string{"store", "result"},
)

func init() {
	prometheus.MustRegister(fetches)
}

// Fetcher is the subset of helpdesk.Store the cache needs.
type Fetcher interface {
	Name() string
	FetchAll(ctx context.Context) ([]domain.Ticket, error)
}

// Cache is safe for concurrent use.
type Cache struct {
	src Fetcher
	ttl time.Duration
	now func() time.Time

	mu   sync.RWMutex
	snap *domain.Snapshot
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New returns an empty cache over src. A non-positive ttl disables reuse,
// so every Get fetches.
func New(src Fetcher, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{src: src, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the current snapshot while it is younger than the TTL,
// otherwise fetches, rebuilds aggregates and stores a new one.
func (c *Cache) Get(ctx context.Context) (*domain.Snapshot, error) {
	now := c.now()
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	if snap != nil && now.Sub(snap.FetchedAt) < c.ttl {
		return snap, nil
	}

	records, err := c.src.FetchAll(ctx)
	if err != nil {
		fetches.WithLabelValues(c.src.Name(), "error").Inc()
		return nil, err
	}
	fetches.WithLabelValues(c.src.Name(), "ok").Inc()

	fresh := domain.BuildSnapshot(records, c.now())
	c.mu.Lock()
	c.snap = fresh
	c.mu.Unlock()
	return fresh, nil
}

// Invalidate discards the snapshot. Calling it repeatedly is a no-op.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

// Peek returns the stored snapshot without fetching, or nil.
func (c *Cache) Peek() *domain.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// TTL reports the configured time to live.
func (c *Cache) TTL() time.Duration { return c.ttl }
