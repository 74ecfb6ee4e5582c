// Package domain defines the core models of the helpdesk query backend:
// normalized tickets, cache snapshots with their derived aggregates, and the
// persisted records (conversation history, idempotent responses) that are
// shared across the repository, cache, and service layers.
package domain

import (
	"strings"
	"time"
)

// Canonical status values. Store adapters translate backend vocabularies
// (Zendesk new/open/pending/hold/solved/closed, Intercom open/snoozed/closed)
// into this set at the boundary.
const (
	StatusNew     = "new"
	StatusOpen    = "open"
	StatusPending = "pending"
	StatusHold    = "hold"
	StatusSnoozed = "snoozed"
	StatusSolved  = "solved"
	StatusClosed  = "closed"
)

// Canonical priority values. Stores that only distinguish urgent/not-urgent
// map onto high and normal.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Ticket is the normalized representation of a helpdesk ticket or
// conversation. Tickets are never mutated in place: a mutation returns a
// fresh record from the remote API and the cached snapshot is discarded.
//
// Fields:
//   - ID: opaque store identifier (numeric for both supported stores, kept as a string).
//   - Subject / Description: short title and free-text body.
//   - Status / Priority: canonical lowercase values (see the constants above).
//   - CreatedAt / UpdatedAt: UTC instants; adapters normalize ISO-8601 and unix seconds.
//   - AssigneeID: nil when unassigned.
//   - Tags: labels as reported by the store.
type Ticket struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	Description    string    `json:"description,omitempty"`
	Status         string    `json:"status"`
	Priority       string    `json:"priority,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	AssigneeID     *string   `json:"assignee_id,omitempty"`
	RequesterEmail string    `json:"requester_email,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
}

// HasTag reports whether the ticket carries tag (case-insensitive).
func (t Ticket) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if strings.EqualFold(have, tag) {
			return true
		}
	}
	return false
}

// Assigned reports whether the ticket has an assignee.
func (t Ticket) Assigned() bool {
	return t.AssigneeID != nil && *t.AssigneeID != ""
}

// User is an agent or end user as listed by the store.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}
