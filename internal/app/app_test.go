package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/helpdesk-query/internal/config"
	"github.com/tbourn/helpdesk-query/internal/domain"
	"github.com/tbourn/helpdesk-query/internal/helpdesk"
	"github.com/tbourn/helpdesk-query/internal/services"
)

type stubStore struct {
	name    string
	fetches atomic.Int32
}

func (s *stubStore) Name() string { return s.name }

func (s *stubStore) FetchAll(context.Context) ([]domain.Ticket, error) {
	s.fetches.Add(1)
	now := time.Now().UTC()
	return []domain.Ticket{
		{ID: "1", Subject: "Refund", Status: "open", Priority: "high", CreatedAt: now, UpdatedAt: now},
		{ID: "2", Subject: "Login", Status: "open", CreatedAt: now, UpdatedAt: now},
		{ID: "3", Subject: "Invoice", Status: "solved", CreatedAt: now, UpdatedAt: now},
	}, nil
}

func (s *stubStore) Mutate(_ context.Context, id string, _ helpdesk.Patch) (domain.Ticket, error) {
	return domain.Ticket{ID: id}, nil
}

func (s *stubStore) Create(_ context.Context, t helpdesk.NewTicket) (domain.Ticket, error) {
	return domain.Ticket{ID: "99", Subject: t.Subject}, nil
}

func (s *stubStore) ListUsers(context.Context) ([]domain.User, error) { return nil, nil }

func (s *stubStore) TicketURL(id string) string { return "https://example.test/tickets/" + id }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Port:           "0",
		GinMode:        "test",
		APIBasePath:    "/api/v1",
		DBPath:         filepath.Join(t.TempDir(), "app.db"),
		RelevanceFloor: 0.05,
		Zendesk:        config.ZendeskConfig{CacheTTL: time.Minute},
		Intercom:       config.IntercomConfig{CacheTTL: time.Hour},
		History:        config.HistoryConfig{Backend: config.HistorySQLite, Max: 10},
		RateRPS:        100,
		RateBurst:      10,
		IdempotencyTTL: time.Hour,
		OTEL:           config.OTELConfig{ServiceName: "helpdesk-query-test"},
	}
}

func newTestApp(t *testing.T, cfg config.Config, stores ...helpdesk.Store) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zerolog.Nop(), WithStores(stores...), WithCompleter(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_NoStores(t *testing.T) {
	_, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.ErrorIs(t, err, ErrNoStores)
}

func TestNew_BadDatabasePath(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "missing", "app.db")
	_, err := New(context.Background(), cfg, zerolog.Nop(), WithStores(&stubStore{name: "zendesk"}))
	require.Error(t, err)
}

func TestNew_UnknownHistoryBackendFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Backend = "s3"
	_, err := New(context.Background(), cfg, zerolog.Nop(), WithStores(&stubStore{name: "zendesk"}), WithCompleter(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zendesk history")
}

func TestNew_RedisBackendConnectsLazily(t *testing.T) {
	cfg := testConfig(t)
	cfg.History = config.HistoryConfig{Backend: config.HistoryRedis, Max: 10, RedisURL: "redis://127.0.0.1:1/0"}
	a := newTestApp(t, cfg, &stubStore{name: "zendesk"})
	assert.NotNil(t, a.redis)
}

func TestQuery_FastPathAndHistory(t *testing.T) {
	zd := &stubStore{name: "zendesk"}
	ic := &stubStore{name: "intercom"}
	a := newTestApp(t, testConfig(t), zd, ic)

	assert.Equal(t, []string{"intercom", "zendesk"}, a.Stores())

	resp, err := a.Query(context.Background(), "zendesk", "how many tickets are open?", services.QueryContext{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Answer, "✅"), resp.Answer)
	assert.Equal(t, domain.SourceCache, resp.Source)
	assert.EqualValues(t, 1, zd.fetches.Load())
	assert.EqualValues(t, 0, ic.fetches.Load())

	entries, err := a.backends["zendesk"].History.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "how many tickets are open?", entries[0].Query)

	_, err = a.Query(context.Background(), "freshdesk", "hi", services.QueryContext{})
	require.ErrorIs(t, err, ErrUnknownStore)
}

func TestHandler_ServesRoutes(t *testing.T) {
	a := newTestApp(t, testConfig(t), &stubStore{name: "zendesk"})
	h := a.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stores", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stores struct {
		Stores []string `json:"stores"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stores))
	assert.Equal(t, []string{"zendesk"}, stores.Stores)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/zendesk/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("ETag"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/intercom/stats", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPurgeLoop_RemovesExpired(t *testing.T) {
	a := newTestApp(t, testConfig(t), &stubStore{name: "zendesk"})
	ctx := context.Background()

	_, err := a.replays.Record(ctx, domain.Idempotency{Store: "zendesk", Key: "old", Status: http.StatusOK, Body: "{}"}, -time.Minute)
	require.NoError(t, err)
	_, err = a.replays.Record(ctx, domain.Idempotency{Store: "zendesk", Key: "fresh", Status: http.StatusOK, Body: "{}"}, time.Hour)
	require.NoError(t, err)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		a.purgeLoop(loopCtx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		var n int64
		a.db.Model(&domain.Idempotency{}).Count(&n)
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	rec, err := a.replays.Find(ctx, "zendesk", "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", rec.Key)
}

func TestRun_StopsOnCancel(t *testing.T) {
	a := newTestApp(t, testConfig(t), &stubStore{name: "zendesk"})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBuildStores(t *testing.T) {
	cfg := testConfig(t)
	assert.Empty(t, buildStores(cfg))

	cfg.Zendesk = config.ZendeskConfig{Subdomain: "acme", Email: "a@acme.test", APIToken: "tok", CacheTTL: time.Minute}
	stores := buildStores(cfg)
	require.Len(t, stores, 1)
	assert.Equal(t, "zendesk", stores[0].Name())

	cfg.Intercom.AccessToken = "ic-token"
	stores = buildStores(cfg)
	require.Len(t, stores, 2)
	assert.Equal(t, "intercom", stores[1].Name())
	assert.Equal(t, []string{"zendesk", "intercom"}, ConfiguredStores(cfg))
}

func TestCacheTTL(t *testing.T) {
	cfg := testConfig(t)
	assert.Equal(t, time.Minute, cacheTTL(cfg, "zendesk"))
	assert.Equal(t, time.Hour, cacheTTL(cfg, "intercom"))
}
