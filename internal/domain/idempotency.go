package domain

import "time"

// Idempotency is a query answer recorded under the client's Idempotency-Key.
// A retry with the same (Store, Key) and the same request body is served
// Body again instead of re-running the pipeline, so a repeated "confirm"
// never mutates a ticket twice.
type Idempotency struct {
	ID          string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Store       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_store_key,priority:1"`
	Key         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_store_key,priority:2"`
	RequestHash string    `gorm:"type:TEXT NOT NULL"`
	Status      int       `gorm:"type:INTEGER NOT NULL"`
	Body        string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt   time.Time `gorm:"type:DATETIME NOT NULL"`
	ExpiresAt   time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

func (Idempotency) TableName() string { return "idempotency" }

// Live reports whether the record can still be replayed at now.
func (i Idempotency) Live(now time.Time) bool { return now.Before(i.ExpiresAt) }

// Matches reports whether a retry carrying hash is the request that was
// recorded. Records without a hash match anything.
func (i Idempotency) Matches(hash string) bool {
	return i.RequestHash == "" || i.RequestHash == hash
}
