package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	records []domain.Ticket
	err     error
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) FetchAll(context.Context) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock { return &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)} }

func TestGet_ReusesSnapshotWithinTTL(t *testing.T) {
	clk := newClock()
	src := &fakeFetcher{records: []domain.Ticket{{ID: "1", Status: "open"}}}
	c := New(src, 5*time.Minute, WithClock(clk.Now))

	s1, err := c.Get(context.Background())
	require.NoError(t, err)
	clk.Advance(4 * time.Minute)
	s2, err := c.Get(context.Background())
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, src.Calls())
	assert.Equal(t, 1, s1.Aggregates.Total)
	assert.Equal(t, clk.t.Add(-4*time.Minute), s1.FetchedAt)
}

func TestGet_RefetchesAfterTTL(t *testing.T) {
	clk := newClock()
	src := &fakeFetcher{}
	c := New(src, time.Minute, WithClock(clk.Now))

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = c.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, src.Calls())
}

func TestInvalidate_TwiceStillRefetchesOnce(t *testing.T) {
	clk := newClock()
	src := &fakeFetcher{}
	c := New(src, time.Hour, WithClock(clk.Now))

	_, err := c.Get(context.Background())
	require.NoError(t, err)

	c.Invalidate()
	c.Invalidate()
	assert.Nil(t, c.Peek())

	_, err = c.Get(context.Background())
	require.NoError(t, err)
	_, err = c.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, src.Calls(), "initial fetch plus exactly one refetch")
}

func TestInvalidate_OnEmptyCacheIsNoop(t *testing.T) {
	c := New(&fakeFetcher{}, time.Hour)
	c.Invalidate()
	assert.Nil(t, c.Peek())
}

func TestGet_FetchErrorKeepsPreviousSnapshotOut(t *testing.T) {
	clk := newClock()
	boom := errors.New("boom")
	src := &fakeFetcher{err: boom}
	c := New(src, time.Hour, WithClock(clk.Now))

	s, err := c.Get(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, s)
	assert.Nil(t, c.Peek())
}

func TestGet_AggregatesMatchRecords(t *testing.T) {
	clk := newClock()
	src := &fakeFetcher{records: []domain.Ticket{
		{ID: "1", Status: "open", CreatedAt: clk.t.Add(-time.Hour), Tags: []string{"billing"}},
		{ID: "2", Status: "open", CreatedAt: clk.t.Add(-48 * time.Hour)},
		{ID: "3", Status: "solved", CreatedAt: clk.t.Add(-40 * 24 * time.Hour), Tags: []string{"Billing"}},
	}}
	c := New(src, time.Hour, WithClock(clk.Now))

	s, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Aggregates.Total)
	assert.Equal(t, 2, s.Aggregates.ByStatus["open"])
	assert.Equal(t, 2, s.Aggregates.ByTag["billing"])
	assert.Equal(t, 1, s.Aggregates.ByAge[domain.AgeUnder24h])
	assert.Equal(t, 1, s.Aggregates.ByAge[domain.AgeUnder7d])
	assert.Equal(t, 1, s.Aggregates.ByAge[domain.AgeOver30d])
}

func TestGet_ConcurrentMissesAreSafe(t *testing.T) {
	src := &fakeFetcher{records: []domain.Ticket{{ID: "1"}}}
	c := New(src, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := c.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 1, s.Aggregates.Total)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, src.Calls(), 1)
	assert.NotNil(t, c.Peek())
}
