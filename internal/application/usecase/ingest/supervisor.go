package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"mdcollector/internal/application/port"
	"mdcollector/internal/application/service"
	"mdcollector/internal/domain/model"
)

const (
	DefaultStartDelay    = time.Second
	DefaultPollStagger   = time.Second
	DefaultShutdownGrace = 5 * time.Second
)

// ErrShutdownTimeout is returned when sessions outlive the shutdown grace.
var ErrShutdownTimeout = errors.New("ingest: sessions did not stop within grace period")

// SupervisorConfig 采集编排参数
type SupervisorConfig struct {
	Symbols   []string
	Intervals []model.Interval

	StartDelay    time.Duration // between symbol groups
	PollStagger   time.Duration // between poll sessions of one symbol
	ShutdownGrace time.Duration

	Backoff       Backoff
	TickerPeriod  time.Duration
	FuturesPeriod time.Duration
	RetryDelay    time.Duration
	// FuturesMetrics lists the polled futures series; empty polls all four.
	FuturesMetrics []model.MetricKind
}

// SupervisorDeps 采集编排依赖；Tickers/Futures/Backfiller 为 nil 时跳过对应任务
type SupervisorDeps struct {
	Catalog    port.StreamCatalog
	Dialer     port.StreamDialer
	Store      port.MarketStore
	Tickers    port.TickerSource
	Futures    port.FuturesSource
	Backfiller *service.Backfiller
	Closed     ClosedCandleHandler
	Observer   Observer

	OnTransition func(stream string, from, to State)
}

// Supervisor starts every session for every symbol and owns their lifetime.
type Supervisor struct {
	cfg  SupervisorConfig
	deps SupervisorDeps

	mu   sync.Mutex
	live map[string]struct{}
}

func NewSupervisor(cfg SupervisorConfig, deps SupervisorDeps) *Supervisor {
	if cfg.StartDelay <= 0 {
		cfg.StartDelay = DefaultStartDelay
	}
	if cfg.PollStagger <= 0 {
		cfg.PollStagger = DefaultPollStagger
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.TickerPeriod <= 0 {
		cfg.TickerPeriod = DefaultTickerPeriod
	}
	if cfg.FuturesPeriod <= 0 {
		cfg.FuturesPeriod = DefaultFuturesPeriod
	}
	if len(cfg.FuturesMetrics) == 0 {
		cfg.FuturesMetrics = model.AllMetricKinds
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	return &Supervisor{cfg: cfg, deps: deps, live: make(map[string]struct{})}
}

// Run blocks until ctx is cancelled and every session has stopped, or the
// shutdown grace period runs out.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.cfg.Symbols) == 0 {
		return errors.New("ingest: no symbols configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for i, symbol := range s.cfg.Symbols {
			if i > 0 && service.Sleep(gctx, s.cfg.StartDelay) != nil {
				return nil
			}
			g.Go(func() error { return s.runSymbol(gctx, symbol) })
		}
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	log.Info().Dur("grace", s.cfg.ShutdownGrace).Msg("shutting down ingestion sessions")
	select {
	case err := <-done:
		log.Info().Msg("all ingestion sessions stopped")
		return err
	case <-time.After(s.cfg.ShutdownGrace):
		log.Warn().Strs("sessions", s.Live()).Msg("abandoning sessions that did not stop in time")
		return ErrShutdownTimeout
	}
}

// Live lists the sessions that are currently running, sorted by name.
func (s *Supervisor) Live() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.live))
	for name := range s.live {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Supervisor) track(name string) func() {
	s.mu.Lock()
	s.live[name] = struct{}{}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.live, name)
		s.mu.Unlock()
	}
}

// runSymbol backfills candles first so indicators have history as soon as the
// kline streams start, then runs the symbol's sessions until ctx is done.
func (s *Supervisor) runSymbol(ctx context.Context, symbol string) error {
	logger := log.With().Str("symbol", symbol).Logger()

	if s.deps.Backfiller != nil {
		report := s.deps.Backfiller.Run(ctx, symbol)
		for _, r := range report.Intervals {
			s.deps.Observer.BackfillCompleted(symbol, r.Interval, r.Stored, r.Err)
		}
		logger.Info().Int("stored", report.Stored()).Bool("failed", report.Failed()).Msg("backfill finished")
		if ctx.Err() != nil {
			return nil
		}
	}

	var g errgroup.Group
	for _, spec := range s.deps.Catalog.Streams(symbol, s.cfg.Intervals) {
		sess := NewStreamSession(spec, StreamDeps{
			Dialer:       s.deps.Dialer,
			Store:        s.deps.Store,
			Closed:       s.deps.Closed,
			Observer:     s.deps.Observer,
			Backoff:      s.cfg.Backoff,
			OnTransition: s.deps.OnTransition,
		})
		s.spawn(ctx, &g, sess.Name(), sess.Run)
	}

	for i, job := range s.pollJobs(symbol) {
		job.Stagger = time.Duration(i) * s.cfg.PollStagger
		job.RetryDelay = s.cfg.RetryDelay
		sess := NewPollSession(job, s.deps.Observer)
		s.spawn(ctx, &g, sess.Name(), sess.Run)
	}

	logger.Info().Msg("symbol sessions started")
	return g.Wait()
}

func (s *Supervisor) spawn(ctx context.Context, g *errgroup.Group, name string, run func(context.Context) error) {
	untrack := s.track(name)
	g.Go(func() error {
		defer untrack()
		return run(ctx)
	})
}

func (s *Supervisor) pollJobs(symbol string) []PollJob {
	var jobs []PollJob
	if s.deps.Tickers != nil {
		jobs = append(jobs, TickerJob(symbol, s.deps.Tickers, s.deps.Store, s.cfg.TickerPeriod))
	}
	if s.deps.Futures != nil {
		for _, kind := range s.cfg.FuturesMetrics {
			jobs = append(jobs, FuturesJob(symbol, kind, s.deps.Futures, s.deps.Store, s.cfg.FuturesPeriod))
		}
	}
	return jobs
}
