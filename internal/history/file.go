package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

// FileLog stores the log as one JSON array per store. Each Append reads,
// modifies and rewrites the whole file. Writers in this process are
// serialized; separate processes sharing the file are not coordinated and
// may lose entries.
type FileLog struct {
	path string
	max  int
	now  func() time.Time

	mu sync.Mutex
}

// NewFileLog returns a log at {dir}/{store}-history.json, creating dir.
func NewFileLog(dir, store string, max int) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create dir: %w", err)
	}
	if max <= 0 {
		max = DefaultMax
	}
	return &FileLog{
		path: filepath.Join(dir, store+"-history.json"),
		max:  max,
		now:  time.Now,
	}, nil
}

// Path returns the backing file.
func (l *FileLog) Path() string { return l.path }

// Append implements Log.
func (l *FileLog) Append(_ context.Context, e domain.HistoryEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return err
	}
	entries = append(entries, Prepare(e, l.now()))
	if over := len(entries) - l.max; over > 0 {
		entries = entries[over:]
	}
	return l.write(entries)
}

// Recent implements Log.
func (l *FileLog) Recent(_ context.Context, n int) ([]domain.HistoryEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	l.mu.Lock()
	entries, err := l.read()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

func (l *FileLog) read() ([]domain.HistoryEntry, error) {
	raw, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var entries []domain.HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", l.path, err)
	}
	return entries, nil
}

// write replaces the file atomically via a temp file and rename.
func (l *FileLog) write(entries []domain.HistoryEntry) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("history: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("history: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("history: write: %w", err)
	}
	return nil
}
