package history

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/helpdesk-query/internal/domain"
	"github.com/tbourn/helpdesk-query/internal/repo"
)

// DBLog keeps the log in the history_entries table. Insert and trim run in
// one transaction, so concurrent writers cannot exceed the cap.
type DBLog struct {
	db    *gorm.DB
	store string
	max   int
	now   func() time.Time
}

// NewDBLog returns a SQL-backed log for store.
func NewDBLog(db *gorm.DB, store string, max int) *DBLog {
	if max <= 0 {
		max = DefaultMax
	}
	return &DBLog{db: db, store: store, max: max, now: time.Now}
}

// Append implements Log.
func (l *DBLog) Append(ctx context.Context, e domain.HistoryEntry) error {
	e = Prepare(e, l.now())
	e.ID = 0
	e.Store = l.store
	return repo.AppendHistory(ctx, l.db, &e, l.max)
}

// Recent implements Log.
func (l *DBLog) Recent(ctx context.Context, n int) ([]domain.HistoryEntry, error) {
	return repo.RecentHistory(ctx, l.db, l.store, n)
}
