// Package helpdesk adapts remote helpdesk REST APIs (Zendesk, Intercom) to a
// single Store contract. Adapters are the only place that knows backend field
// names, timestamp formats and status vocabularies; everything they return is
// a normalized domain.Ticket.
//
// Optional operations (delete, restore, spam, merge) are expressed as separate
// interfaces that a Store may also implement. Callers discover them with a
// type assertion or through CapabilitiesOf.
package helpdesk

import (
	"context"
	"errors"
	"strings"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

var (
	// ErrStoreUnavailable wraps every fetch/mutate failure after the single
	// rate-limit retry has been spent.
	ErrStoreUnavailable = errors.New("helpdesk store unavailable")

	// ErrNotFound is returned when the remote API reports a missing record,
	// or when an entity referenced by a patch (e.g. an agent email) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported is returned when a store cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by this helpdesk")

	// ErrInvalidInput is returned when a request lacks a field the store requires.
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the contract every helpdesk adapter implements.
type Store interface {
	// Name is the short store key used in routes and history ("zendesk").
	Name() string
	// FetchAll pages through every ticket; any page error fails the whole call.
	FetchAll(ctx context.Context) ([]domain.Ticket, error)
	// Mutate applies patch to ticket id and returns the post-mutation record.
	Mutate(ctx context.Context, id string, p Patch) (domain.Ticket, error)
	// Create opens a new ticket.
	Create(ctx context.Context, t NewTicket) (domain.Ticket, error)
	// ListUsers returns the agents known to the store.
	ListUsers(ctx context.Context) ([]domain.User, error)
	// TicketURL builds a deep link to the ticket in the store's web UI.
	TicketURL(id string) string
}

// Getter is implemented by stores that can fetch a single ticket.
type Getter interface {
	Get(ctx context.Context, id string) (domain.Ticket, error)
}

// Deleter is implemented by stores that can soft-delete and restore tickets.
type Deleter interface {
	Delete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (domain.Ticket, error)
}

// SpamMarker is implemented by stores that can flag a ticket as spam.
type SpamMarker interface {
	MarkSpam(ctx context.Context, id string) error
}

// Merger is implemented by stores that can merge tickets into a target.
type Merger interface {
	Merge(ctx context.Context, targetID string, sourceIDs []string) (domain.Ticket, error)
}

// Capabilities summarizes which optional operations a store supports.
type Capabilities struct {
	Delete bool
	Spam   bool
	Merge  bool
}

// CapabilitiesOf inspects s for the optional operation interfaces.
func CapabilitiesOf(s Store) Capabilities {
	_, del := s.(Deleter)
	_, spam := s.(SpamMarker)
	_, merge := s.(Merger)
	return Capabilities{Delete: del, Spam: spam, Merge: merge}
}

// Patch describes independent changes to one ticket. Empty fields are left
// untouched. Status and Priority use the canonical domain vocabulary.
type Patch struct {
	Status        string
	Priority      string
	AssigneeEmail string
	AddTags       []string
	RemoveTags    []string
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Status == "" && p.Priority == "" && p.AssigneeEmail == "" &&
		len(p.AddTags) == 0 && len(p.RemoveTags) == 0
}

// NewTicket is the input for Store.Create.
type NewTicket struct {
	Subject        string
	Description    string
	Priority       string
	RequesterEmail string
	Tags           []string
}

// normalizeTags lowercases, trims and dedupes tag names.
func normalizeTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
