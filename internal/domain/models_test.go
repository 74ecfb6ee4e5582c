package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	if (HistoryEntry{}).TableName() != "history_entries" {
		t.Fatalf("HistoryEntry.TableName() = %q", (HistoryEntry{}).TableName())
	}
	if (Idempotency{}).TableName() != "idempotency" {
		t.Fatalf("Idempotency.TableName() = %q", (Idempotency{}).TableName())
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&HistoryEntry{}, &Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasIndex(&HistoryEntry{}, "idx_history_store_ts") {
		t.Fatalf("expected index idx_history_store_ts")
	}
	if !m.HasIndex(&Idempotency{}, "ux_store_key") {
		t.Fatalf("expected unique index ux_store_key")
	}
}

func TestIdempotency_UniquePerStoreKey(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	now := time.Now().UTC()
	a := Idempotency{ID: "1", Store: "zendesk", Key: "k", Body: "{}", Status: 200, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := a
	dup.ID = "2"
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected unique violation for same (store,key)")
	}
	other := a
	other.ID, other.Store = "3", "intercom"
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("same key in another store should insert: %v", err)
	}
}

func TestIdempotency_LiveAndMatches(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := Idempotency{RequestHash: "abc", ExpiresAt: now.Add(time.Minute)}
	if !rec.Live(now) || rec.Live(now.Add(time.Minute)) {
		t.Fatalf("Live should hold strictly before ExpiresAt")
	}
	if !rec.Matches("abc") || rec.Matches("xyz") {
		t.Fatalf("Matches compares the request hash")
	}
	if !(Idempotency{}).Matches("anything") {
		t.Fatalf("unhashed records match any retry")
	}
}
