// Package history keeps the bounded conversation log that is replayed into
// fallback prompts. Entries are evicted oldest first once a store's log
// reaches its cap.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/tbourn/helpdesk-query/internal/config"
	"github.com/tbourn/helpdesk-query/internal/domain"
)

// MaxResponseRunes bounds the stored answer text.
const MaxResponseRunes = 500

// DefaultMax is the log cap used when none is configured.
const DefaultMax = 100

// Log is an append-only bounded conversation history for one store.
type Log interface {
	Append(ctx context.Context, e domain.HistoryEntry) error
	// Recent returns up to n newest entries, oldest first.
	Recent(ctx context.Context, n int) ([]domain.HistoryEntry, error)
}

// Prepare truncates the response and fills the timestamp. Every backend
// calls it before storing.
func Prepare(e domain.HistoryEntry, now time.Time) domain.HistoryEntry {
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	e.Response = Truncate(e.Response, MaxResponseRunes)
	return e
}

// Truncate cuts s to at most n runes, marking the cut with "…".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// Deps carries the shared handles a backend may need.
type Deps struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// Open builds the configured backend for store.
func Open(cfg config.HistoryConfig, store string, deps Deps) (Log, error) {
	max := cfg.Max
	if max <= 0 {
		max = DefaultMax
	}
	switch cfg.Backend {
	case config.HistoryFile, "":
		return NewFileLog(cfg.Dir, store, max)
	case config.HistorySQLite:
		if deps.DB == nil {
			return nil, fmt.Errorf("history: sqlite backend needs a database handle")
		}
		return NewDBLog(deps.DB, store, max), nil
	case config.HistoryRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("history: redis backend needs a client")
		}
		return NewRedisLog(deps.Redis, store, max), nil
	}
	return nil, fmt.Errorf("history: unknown backend %q", cfg.Backend)
}
