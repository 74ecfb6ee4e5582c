package repo

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

func pragmaInt(t *testing.T, db *gorm.DB, name string) int {
	t.Helper()
	var v int
	if err := db.Raw("PRAGMA " + name).Row().Scan(&v); err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return v
}

func closeDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
}

func TestOpenSQLite_MissingDirectory(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "missing", "helpdesk.db")
	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("expected error for %q, got db=%v err=%v", bad, db, err)
	}
}

func TestOpenSQLite_FileDefaults(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "helpdesk.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	closeDB(t, db)

	var journal string
	if err := db.Raw("PRAGMA journal_mode").Row().Scan(&journal); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if strings.ToLower(journal) != "wal" {
		t.Fatalf("journal_mode = %q; want wal", journal)
	}
	if got := pragmaInt(t, db, "synchronous"); got != 1 {
		t.Fatalf("synchronous = %d; want 1 (NORMAL)", got)
	}
	if got := pragmaInt(t, db, "foreign_keys"); got != 1 {
		t.Fatalf("foreign_keys = %d; want 1", got)
	}
	if got := pragmaInt(t, db, "busy_timeout"); got != 5000 {
		t.Fatalf("busy_timeout = %d; want 5000", got)
	}
	sqlDB, _ := db.DB()
	if got := sqlDB.Stats().MaxOpenConnections; got != defaultMaxOpenConns {
		t.Fatalf("MaxOpenConnections = %d; want %d", got, defaultMaxOpenConns)
	}
}

func TestOpenSQLite_OptionsAndMemory(t *testing.T) {
	db, err := OpenSQLite(":memory:", WithMaxOpenConns(8), WithBusyTimeout(750*time.Millisecond))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	closeDB(t, db)

	if got := pragmaInt(t, db, "busy_timeout"); got != 750 {
		t.Fatalf("busy_timeout = %d; want 750", got)
	}
	sqlDB, _ := db.DB()
	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("in-memory pool = %d; want 1", got)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, tbl := range []any{&domain.HistoryEntry{}, &domain.Idempotency{}} {
		if !db.Migrator().HasTable(tbl) {
			t.Fatalf("missing table for %T", tbl)
		}
	}
	entry := &domain.HistoryEntry{Store: "intercom", Timestamp: time.Now().UTC(), Query: "how many open?", Response: "✅ 2", Source: domain.SourceCache, Confidence: 1}
	if err := db.Create(entry).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	var n int64
	db.Model(&domain.HistoryEntry{}).Where("store = ?", "intercom").Count(&n)
	if n != 1 {
		t.Fatalf("count = %d; want 1", n)
	}
}

func TestIsMemory(t *testing.T) {
	for path, want := range map[string]bool{
		":memory:":                   true,
		"file::memory:?cache=shared": true,
		"file:t1?mode=memory":        true,
		"app.db":                     false,
		"/tmp/memory.db":             false,
	} {
		if got := IsMemory(path); got != want {
			t.Fatalf("IsMemory(%q) = %v; want %v", path, got, want)
		}
	}
}

func TestGormLogger(t *testing.T) {
	var buf bytes.Buffer
	gl := newGormLogger(zerolog.New(&buf), 10*time.Millisecond)
	ctx := context.Background()
	sql := func() (string, int64) { return "SELECT 1", 1 }

	gl.Trace(ctx, time.Now(), sql, gorm.ErrRecordNotFound)
	gl.Trace(ctx, time.Now(), sql, nil)
	if buf.Len() != 0 {
		t.Fatalf("fast queries and not-found should be silent, got %s", buf.String())
	}

	gl.Trace(ctx, time.Now(), sql, errors.New("disk I/O error"))
	if out := buf.String(); !strings.Contains(out, `"message":"query failed"`) || !strings.Contains(out, `"component":"gorm"`) {
		t.Fatalf("expected failed-query log, got %s", out)
	}

	buf.Reset()
	gl.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	if !strings.Contains(buf.String(), `"message":"slow query"`) {
		t.Fatalf("expected slow-query log, got %s", buf.String())
	}

	buf.Reset()
	silent := gl.LogMode(logger.Silent)
	silent.Trace(ctx, time.Now().Add(-time.Second), sql, errors.New("x"))
	silent.Error(ctx, "boom %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("silent mode logged %s", buf.String())
	}
	gl.Warn(ctx, "pool %s", "exhausted")
	if !strings.Contains(buf.String(), "pool exhausted") {
		t.Fatalf("expected warn output, got %s", buf.String())
	}
}
