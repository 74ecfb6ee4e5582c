// Package app assembles the query service from configuration: the SQLite
// handle, one pipeline per enabled helpdesk, the history backend, the
// completion model and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/helpdesk-query/internal/cache"
	"github.com/tbourn/helpdesk-query/internal/config"
	"github.com/tbourn/helpdesk-query/internal/helpdesk"
	"github.com/tbourn/helpdesk-query/internal/history"
	httpapi "github.com/tbourn/helpdesk-query/internal/http"
	"github.com/tbourn/helpdesk-query/internal/http/handlers"
	"github.com/tbourn/helpdesk-query/internal/llm"
	"github.com/tbourn/helpdesk-query/internal/repo"
	"github.com/tbourn/helpdesk-query/internal/services"
)

var (
	// ErrNoStores is returned by New when no helpdesk has credentials.
	ErrNoStores = errors.New("no helpdesk configured: set ZENDESK_* or INTERCOM_* credentials")
	// ErrUnknownStore is returned by Query for a store that is not enabled.
	ErrUnknownStore = errors.New("unknown helpdesk")
)

const (
	purgeInterval   = time.Hour
	shutdownTimeout = 10 * time.Second
)

// App owns every long-lived handle of the process.
type App struct {
	cfg     config.Config
	log     zerolog.Logger
	db      *gorm.DB
	replays *repo.Responses
	redis   *redis.Client

	services map[string]*services.QueryService
	backends map[string]handlers.Backend
}

type options struct {
	stores       []helpdesk.Store
	completer    llm.Completer
	completerSet bool
}

// Option customizes New.
type Option func(*options)

// WithStores replaces the stores built from credentials.
func WithStores(stores ...helpdesk.Store) Option {
	return func(o *options) { o.stores = stores }
}

// WithCompleter replaces the configured model. A nil completer disables
// the language model.
func WithCompleter(c llm.Completer) Option {
	return func(o *options) {
		o.completer = c
		o.completerSet = true
	}
}

// New opens the database and builds one pipeline per enabled helpdesk.
// A model that cannot be created is logged and the service runs without
// one; every other failure is fatal.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	stores := o.stores
	if stores == nil {
		stores = buildStores(cfg)
	}
	if len(stores) == 0 {
		return nil, ErrNoStores
	}

	db, err := repo.OpenSQLite(cfg.DBPath, repo.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{
		cfg:      cfg,
		log:      log,
		db:       db,
		replays:  repo.NewResponses(db),
		services: make(map[string]*services.QueryService, len(stores)),
		backends: make(map[string]handlers.Backend, len(stores)),
	}
	if err := repo.AutoMigrate(db); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	if cfg.History.Backend == config.HistoryRedis {
		a.redis, err = history.Connect(ctx, cfg.History.RedisURL)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	completer := o.completer
	if !o.completerSet {
		completer = a.newCompleter()
	}

	for _, s := range stores {
		name := s.Name()
		c := cache.New(s, cacheTTL(cfg, name))
		hl, err := history.Open(cfg.History, name, history.Deps{DB: db, Redis: a.redis})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open %s history: %w", name, err)
		}
		svc := services.NewQueryService(s, c, completer, hl, cfg.RelevanceFloor)
		a.services[name] = svc
		a.backends[name] = handlers.Backend{Pipeline: svc, Cache: c, History: hl}
	}

	log.Info().
		Strs("stores", a.Stores()).
		Str("history", cfg.History.Backend).
		Bool("llm", completer != nil).
		Msg("helpdesk query service ready")
	return a, nil
}

func (a *App) newCompleter() llm.Completer {
	m, err := llm.NewModel(a.cfg.LLM)
	if err != nil {
		a.log.Warn().Err(err).Str("provider", a.cfg.LLM.Provider).Msg("language model unavailable; AI answers disabled")
		return nil
	}
	return m
}

func buildStores(cfg config.Config) []helpdesk.Store {
	var stores []helpdesk.Store
	if cfg.Zendesk.Enabled() {
		stores = append(stores, helpdesk.NewZendesk(helpdesk.ZendeskConfig{
			Subdomain: cfg.Zendesk.Subdomain,
			Email:     cfg.Zendesk.Email,
			APIToken:  cfg.Zendesk.APIToken,
			RPS:       cfg.HelpdeskRPS,
		}))
	}
	if cfg.Intercom.Enabled() {
		stores = append(stores, helpdesk.NewIntercom(helpdesk.IntercomConfig{
			AccessToken: cfg.Intercom.AccessToken,
			AdminID:     cfg.Intercom.AdminID,
			AppID:       cfg.Intercom.AppID,
			RPS:         cfg.HelpdeskRPS,
		}))
	}
	return stores
}

// ConfiguredStores names the helpdesks that have credentials in cfg.
func ConfiguredStores(cfg config.Config) []string {
	var names []string
	for _, s := range buildStores(cfg) {
		names = append(names, s.Name())
	}
	return names
}

func cacheTTL(cfg config.Config, store string) time.Duration {
	if store == "intercom" {
		return cfg.Intercom.CacheTTL
	}
	return cfg.Zendesk.CacheTTL
}

// Stores returns the enabled store names, sorted.
func (a *App) Stores() []string {
	out := make([]string, 0, len(a.services))
	for name := range a.services {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Query runs one query against store outside of HTTP.
func (a *App) Query(ctx context.Context, store, text string, qctx services.QueryContext) (services.Response, error) {
	svc, ok := a.services[store]
	if !ok {
		return services.Response{}, fmt.Errorf("%w: %s", ErrUnknownStore, store)
	}
	return svc.HandleQuery(ctx, text, qctx), nil
}

// Handler builds the gin engine with every route registered.
func (a *App) Handler() http.Handler {
	gin.SetMode(a.cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, handlers.New(a.backends, a.replays, a.cfg.IdempotencyTTL), a.replays, a.cfg)
	return r
}

// Run serves HTTP until ctx is done, then shuts the server down. Expired
// idempotency records are purged in the background.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.Handler(),
		ReadTimeout:       a.cfg.ReadTimeout,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.log.Info().Str("addr", srv.Addr).Str("base_path", a.cfg.APIBasePath).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		a.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		a.purgeLoop(groupCtx, purgeInterval)
		return nil
	})
	return group.Wait()
}

func (a *App) purgeLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.replays.Purge(ctx)
			if err != nil {
				a.log.Warn().Err(err).Msg("purge idempotency records")
				continue
			}
			if n > 0 {
				a.log.Debug().Int64("purged", n).Msg("expired idempotency records removed")
			}
		}
	}
}

// Close releases the database and redis handles.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
