package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

var (
	// ErrNotFound is returned when no live record exists.
	ErrNotFound = gorm.ErrRecordNotFound
	// ErrDuplicate is returned by Record when (store, key) already holds a
	// live record.
	ErrDuplicate = errors.New("idempotency key already recorded")
)

// Responses stores query answers for Idempotency-Key replays.
type Responses struct {
	db  *gorm.DB
	now func() time.Time
}

// NewResponses returns a Responses over db, which must be migrated.
func NewResponses(db *gorm.DB) *Responses {
	return &Responses{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Find returns the live record for (store, key) or ErrNotFound.
func (r *Responses) Find(ctx context.Context, store, key string) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := r.db.WithContext(ctx).Where("store = ? AND key = ?", store, key).Take(&rec).Error
	if err != nil {
		return nil, err
	}
	if !rec.Live(r.now()) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Exists reports whether a live record was stored for (store, key) at now.
// Its signature matches middleware.IdempotencyLookup.
func (r *Responses) Exists(ctx context.Context, store, key string, now time.Time) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Idempotency{}).
		Where("store = ? AND key = ? AND expires_at > ?", store, key, now).
		Count(&n).Error
	return n > 0, err
}

// Record saves rec for ttl. An expired record under the same (store, key)
// is overwritten in the same statement; a live one yields ErrDuplicate.
func (r *Responses) Record(ctx context.Context, rec domain.Idempotency, ttl time.Duration) (*domain.Idempotency, error) {
	now := r.now()
	rec.ID = uuid.NewString()
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(ttl)

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"id", "request_hash", "status", "body", "created_at", "expires_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "idempotency.expires_at <= ?", Vars: []any{now}},
		}},
	}).Create(&rec)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return nil, ErrDuplicate
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrDuplicate
	}
	return &rec, nil
}

// Purge deletes every expired record and reports how many went.
func (r *Responses) Purge(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", r.now()).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// isUniqueViolation recognizes duplicate-key errors; glebarez/sqlite
// reports them as plain text.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") || strings.Contains(low, "constraint failed: unique")
}
