package domain

import "time"

// Answer sources reported to callers.
const (
	SourceCache = "cache"
	SourceLive  = "live"
	SourceAI    = "ai"
)

// HistoryEntry is one query/answer exchange of the conversation history log.
// It doubles as the GORM model of the SQL history backend.
//
// Fields:
//   - ID: autoincrement key (SQL backend only).
//   - Store: helpdesk the exchange belongs to (zendesk, intercom).
//   - Timestamp: when the query was answered.
//   - Query: raw user text.
//   - Response: answer text, truncated before storage.
//   - Source: pipeline stage that answered (cache, live, ai).
//   - Confidence: 0.0–1.0.
type HistoryEntry struct {
	ID         uint      `json:"-"          gorm:"primaryKey;autoIncrement"`
	Store      string    `json:"-"          gorm:"type:varchar(32);not null;index:idx_history_store_ts,priority:1"`
	Timestamp  time.Time `json:"timestamp"  gorm:"not null;index:idx_history_store_ts,priority:2"`
	Query      string    `json:"query"      gorm:"type:text;not null"`
	Response   string    `json:"response"   gorm:"type:text;not null"`
	Source     string    `json:"source"     gorm:"type:varchar(16);not null"`
	Confidence float64   `json:"confidence" gorm:"not null"`
}

// TableName returns the database table name for HistoryEntry.
func (HistoryEntry) TableName() string { return "history_entries" }
