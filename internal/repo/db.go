// Package repo persists history entries and idempotency records with GORM
// on SQLite (pure Go driver).
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

const (
	defaultMaxOpenConns = 10
	defaultBusyTimeout  = 5 * time.Second
	defaultSlowQuery    = 200 * time.Millisecond
)

type openOptions struct {
	maxOpen     int
	busyTimeout time.Duration
	slow        time.Duration
	log         zerolog.Logger
}

// Option tunes OpenSQLite.
type Option func(*openOptions)

// WithMaxOpenConns caps the pool. In-memory databases always use one
// connection so every query sees the same schema.
func WithMaxOpenConns(n int) Option { return func(o *openOptions) { o.maxOpen = n } }

// WithBusyTimeout sets how long a writer waits on a locked database.
func WithBusyTimeout(d time.Duration) Option { return func(o *openOptions) { o.busyTimeout = d } }

// WithLogger routes GORM warnings, failed queries and slow queries to l.
func WithLogger(l zerolog.Logger) Option { return func(o *openOptions) { o.log = l } }

// WithSlowQuery sets the threshold above which queries are logged at warn
// level. d <= 0 disables slow-query logging.
func WithSlowQuery(d time.Duration) Option { return func(o *openOptions) { o.slow = d } }

// IsMemory reports whether path names an in-memory SQLite database.
func IsMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:") ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
}

// OpenSQLite opens (or creates) the database at path, applies WAL and
// busy-timeout PRAGMAs and registers the OpenTelemetry plugin so queries
// appear as child spans of the request. Schema creation is left to
// AutoMigrate.
func OpenSQLite(path string, opts ...Option) (*gorm.DB, error) {
	o := openOptions{
		maxOpen:     defaultMaxOpenConns,
		busyTimeout: defaultBusyTimeout,
		slow:        defaultSlowQuery,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	mem := IsMemory(path)
	if !mem {
		// sqlite reports a missing directory as "out of memory (14)"
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: newGormLogger(o.log, o.slow),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", o.busyTimeout.Milliseconds()),
	}
	if !mem {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	maxOpen := o.maxOpen
	if mem || maxOpen < 1 {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	// closing the only connection would drop an in-memory database
	if !mem {
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// AutoMigrate creates or updates the tables owned by this service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.HistoryEntry{},
		&domain.Idempotency{},
	)
}
