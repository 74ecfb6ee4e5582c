package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/helpdesk-query/internal/domain"
	"github.com/tbourn/helpdesk-query/internal/helpdesk"
	"github.com/tbourn/helpdesk-query/internal/history"
	"github.com/tbourn/helpdesk-query/internal/llm"
)

// QueryService runs one store's query pipeline: fast path, then dispatcher,
// then fallback. The first stage that answers wins.
type QueryService struct {
	store      string
	cache      SnapshotCache
	classifier *Classifier
	dispatcher *Dispatcher
	fallback   *Fallback
	history    history.Log
	now        func() time.Time
}

// Option configures a QueryService.
type Option func(*QueryService)

// WithClock replaces time.Now for processing time and history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *QueryService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewQueryService wires the pipeline for store. completer and log may be nil.
func NewQueryService(store helpdesk.Store, cache SnapshotCache, completer llm.Completer, log history.Log, relevanceFloor float64, opts ...Option) *QueryService {
	s := &QueryService{
		store:      store.Name(),
		cache:      cache,
		classifier: NewClassifier(),
		dispatcher: NewDispatcher(store, cache, completer),
		fallback:   NewFallback(store.Name(), completer, relevanceFloor),
		history:    log,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Store returns the store key this service answers for.
func (s *QueryService) Store() string { return s.store }

// HandleQuery answers text. It never returns an error and never panics;
// every failure is reported as an answer.
func (s *QueryService) HandleQuery(ctx context.Context, text string, qctx QueryContext) (resp Response) {
	start := s.now()
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "HandleQuery",
		trace.WithAttributes(attribute.String("store", s.store)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Str("store", s.store).Interface("panic", r).Msg("query pipeline panicked")
			resp = s.respond(start, internalError(domain.SourceLive))
		}
	}()

	query, err := NormalizeQuery(text)
	if err != nil {
		msg := "Please ask a question about your tickets, for example \"how many tickets are open?\"."
		if errors.Is(err, ErrQueryTooLong) {
			msg = fmt.Sprintf("That question is too long. Please keep it under %d characters.", MaxQueryRunes)
		}
		return s.respond(start, warn(domain.SourceCache, OutcomeInvalidQuery, confidenceClarify, msg))
	}

	a := s.run(ctx, query, qctx)
	span.SetAttributes(
		attribute.String("source", a.Source),
		attribute.String("outcome", string(a.Outcome)),
	)
	resp = s.respond(start, a)

	queriesTotal.WithLabelValues(s.store, a.Source).Inc()
	queryDuration.WithLabelValues(s.store, a.Source).Observe(s.now().Sub(start).Seconds())

	s.record(ctx, query, a)
	return resp
}

func (s *QueryService) run(ctx context.Context, query string, qctx QueryContext) Answer {
	snap, err := s.cache.Get(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("store", s.store).Msg("snapshot unavailable; skipping fast path")
		snap = nil
	}

	if snap != nil {
		if a, hit := s.safely(ctx, "fastpath", domain.SourceCache, func() (Answer, bool) {
			return s.classifier.TryClassify(query, snap)
		}); hit {
			return a
		}
	}

	if a, hit := s.safely(ctx, "dispatch", domain.SourceLive, func() (Answer, bool) {
		return s.dispatcher.TryDispatch(ctx, query, qctx, snap)
	}); hit {
		return a
	}

	recent := s.recentHistory(ctx)
	a, _ := s.safely(ctx, "fallback", domain.SourceAI, func() (Answer, bool) {
		return s.fallback.Answer(ctx, query, snap, qctx, recent), true
	})
	return a
}

// safely runs one stage and turns a panic into an answer from that stage.
func (s *QueryService) safely(ctx context.Context, stage, source string, fn func() (Answer, bool)) (a Answer, handled bool) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Str("store", s.store).Str("stage", stage).Interface("panic", r).Msg("query stage panicked")
			a, handled = internalError(source), true
		}
	}()
	return fn()
}

func (s *QueryService) recentHistory(ctx context.Context) []domain.HistoryEntry {
	if s.history == nil {
		return nil
	}
	recent, err := s.history.Recent(ctx, promptHistoryLimit)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("store", s.store).Msg("history read failed")
		return nil
	}
	return recent
}

// record appends the exchange to the history log. Failures are only logged.
func (s *QueryService) record(ctx context.Context, query string, a Answer) {
	if s.history == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", r).Msg("history append panicked")
		}
	}()
	err := s.history.Append(ctx, domain.HistoryEntry{
		Store:      s.store,
		Timestamp:  s.now().UTC(),
		Query:      query,
		Response:   a.Text,
		Source:     a.Source,
		Confidence: a.Confidence,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("store", s.store).Msg("history append failed")
	}
}

func (s *QueryService) respond(start time.Time, a Answer) Response {
	return Response{
		Answer:         a.Text,
		Source:         a.Source,
		Confidence:     a.Confidence,
		ProcessingTime: s.now().Sub(start).Milliseconds(),
		Outcome:        a.Outcome,
		Results:        a.Results,
	}
}

func internalError(source string) Answer {
	return fail(source, OutcomeInternalError, "Something went wrong while answering. Please try again.")
}
