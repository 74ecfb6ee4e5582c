package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tbourn/helpdesk-query/internal/domain"
	"github.com/tbourn/helpdesk-query/internal/helpdesk"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

// sampleTickets: 4 tickets, one per age bucket, 3 tagged billing.
func sampleTickets() []domain.Ticket {
	return []domain.Ticket{
		{ID: "42", Subject: "Refund for duplicate charge", Description: "I was charged twice for my order", Status: domain.StatusOpen, Priority: domain.PriorityHigh, CreatedAt: testNow.Add(-2 * time.Hour), Tags: []string{"billing"}},
		{ID: "43", Subject: "Cannot reset password", Status: domain.StatusPending, Priority: domain.PriorityNormal, CreatedAt: testNow.Add(-3 * 24 * time.Hour), Tags: []string{"login"}},
		{ID: "44", Subject: "Invoice missing VAT", Status: domain.StatusOpen, Priority: domain.PriorityUrgent, CreatedAt: testNow.Add(-10 * 24 * time.Hour), Tags: []string{"billing", "vat"}},
		{ID: "45", Subject: "App crashes on launch", Status: domain.StatusSolved, CreatedAt: testNow.Add(-40 * 24 * time.Hour), Tags: []string{"billing", "android"}, AssigneeID: strPtr("7")},
	}
}

func sampleSnapshot() *domain.Snapshot {
	return domain.BuildSnapshot(sampleTickets(), testNow)
}

// ---------- store fakes ----------

type fakeStore struct {
	name string

	mu        sync.Mutex
	tickets   []domain.Ticket
	calls     []string
	fetches   int
	patches   []helpdesk.Patch
	created   []helpdesk.NewTicket
	users     []domain.User
	fetchErr  error
	mutateErr error
	createErr error
}

func newFakeStore(name string) *fakeStore {
	return &fakeStore{name: name, tickets: sampleTickets()}
}

func (f *fakeStore) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) Name() string { return f.name }

func (f *fakeStore) FetchAll(context.Context) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]domain.Ticket(nil), f.tickets...), nil
}

func (f *fakeStore) Mutate(_ context.Context, id string, p helpdesk.Patch) (domain.Ticket, error) {
	f.record("mutate:" + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, p)
	if f.mutateErr != nil {
		return domain.Ticket{}, f.mutateErr
	}
	for i, t := range f.tickets {
		if t.ID != id {
			continue
		}
		if p.Status != "" {
			t.Status = p.Status
		}
		if p.Priority != "" {
			t.Priority = p.Priority
		}
		if p.AssigneeEmail != "" {
			t.AssigneeID = strPtr(p.AssigneeEmail)
		}
		t.Tags = append(t.Tags, p.AddTags...)
		f.tickets[i] = t
		return t, nil
	}
	return domain.Ticket{}, fmt.Errorf("%w: ticket %s", helpdesk.ErrNotFound, id)
}

func (f *fakeStore) Create(_ context.Context, nt helpdesk.NewTicket) (domain.Ticket, error) {
	f.record("create")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.Ticket{}, f.createErr
	}
	f.created = append(f.created, nt)
	return domain.Ticket{ID: "100", Subject: nt.Subject, Status: domain.StatusNew, Priority: nt.Priority}, nil
}

func (f *fakeStore) ListUsers(context.Context) ([]domain.User, error) {
	f.record("users")
	return f.users, nil
}

func (f *fakeStore) TicketURL(id string) string {
	return "https://" + f.name + ".example.test/tickets/" + id
}

// fullStore supports every optional operation.
type fullStore struct{ *fakeStore }

func newFullStore() fullStore { return fullStore{newFakeStore("zendesk")} }

func (f fullStore) Delete(_ context.Context, id string) error {
	f.record("delete:" + id)
	return nil
}

func (f fullStore) Restore(_ context.Context, id string) (domain.Ticket, error) {
	f.record("restore:" + id)
	return domain.Ticket{ID: id, Subject: "restored", Status: domain.StatusOpen}, nil
}

func (f fullStore) MarkSpam(_ context.Context, id string) error {
	f.record("spam:" + id)
	return nil
}

func (f fullStore) Merge(_ context.Context, target string, sources []string) (domain.Ticket, error) {
	f.record("merge:" + target + "<-" + strings.Join(sources, ","))
	return domain.Ticket{ID: target, Status: domain.StatusOpen}, nil
}

func (f fullStore) Get(_ context.Context, id string) (domain.Ticket, error) {
	f.record("get:" + id)
	return domain.Ticket{ID: id, Subject: "fetched " + id, Status: domain.StatusOpen}, nil
}

// ---------- cache / completer / history fakes ----------

type fakeCache struct {
	mu            sync.Mutex
	snap          *domain.Snapshot
	err           error
	gets          int
	invalidations int
}

func (c *fakeCache) Get(context.Context) (*domain.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.err != nil {
		return nil, c.err
	}
	return c.snap, nil
}

func (c *fakeCache) Invalidate() {
	c.mu.Lock()
	c.invalidations++
	c.mu.Unlock()
}

func (c *fakeCache) Invalidations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidations
}

type fakeCompleter struct {
	mu     sync.Mutex
	reply  string
	err    error
	panics bool
	calls  int
	system string
	user   string
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.system, f.user = system, user
	if f.panics {
		panic("completer exploded")
	}
	return f.reply, f.err
}

type memLog struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
	err     error
}

func (m *memLog) Append(_ context.Context, e domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLog) Recent(_ context.Context, n int) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if n > len(m.entries) {
		n = len(m.entries)
	}
	return append([]domain.HistoryEntry(nil), m.entries[len(m.entries)-n:]...), nil
}

func (m *memLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
