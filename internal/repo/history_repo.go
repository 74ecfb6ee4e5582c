// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for conversation
// history entries.
//
// Functions:
//
//   - AppendHistory(ctx, db, entry, max) -> error
//     Inserts entry and trims the store's log to the newest max rows.
//
//   - RecentHistory(ctx, db, store, n) -> []domain.HistoryEntry, error
//     Returns up to n newest entries in chronological order.
//
//   - CountHistory(ctx, db, store) -> (int64, error)
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

// AppendHistory inserts e and evicts the oldest rows of e.Store beyond max
// within one transaction. max <= 0 disables trimming.
func AppendHistory(ctx context.Context, db *gorm.DB, e *domain.HistoryEntry, max int) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		if max <= 0 {
			return nil
		}
		keep := tx.Model(&domain.HistoryEntry{}).
			Select("id").
			Where("store = ?", e.Store).
			Order("timestamp DESC, id DESC").
			Limit(max)
		return tx.Where("store = ? AND id NOT IN (?)", e.Store, keep).
			Delete(&domain.HistoryEntry{}).Error
	})
}

// RecentHistory returns up to n newest entries for store, oldest first.
func RecentHistory(ctx context.Context, db *gorm.DB, store string, n int) ([]domain.HistoryEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []domain.HistoryEntry
	err := db.WithContext(ctx).
		Where("store = ?", store).
		Order("timestamp DESC, id DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// CountHistory returns the number of stored entries for store.
func CountHistory(ctx context.Context, db *gorm.DB, store string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.HistoryEntry{}).Where("store = ?", store).Count(&n).Error
	return n, err
}
