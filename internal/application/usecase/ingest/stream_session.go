package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"mdcollector/internal/application/port"
	"mdcollector/internal/application/service"
	"mdcollector/internal/domain/model"
)

const (
	DefaultInitialBackoff = 5 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
)

// Backoff 重连退避：初始值起每次翻倍，封顶 Max，连上后重置
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b Backoff) withDefaults() Backoff {
	if b.Initial <= 0 {
		b.Initial = DefaultInitialBackoff
	}
	if b.Max < b.Initial {
		b.Max = max(DefaultMaxBackoff, b.Initial)
	}
	return b
}

func (b Backoff) next(cur time.Duration) time.Duration {
	return min(cur*2, b.Max)
}

// ClosedCandleHandler is told about every closed candle after it is stored.
type ClosedCandleHandler interface {
	OnCandleClosed(ctx context.Context, c model.Candle) error
}

// StreamDeps 推送会话依赖
type StreamDeps struct {
	Dialer   port.StreamDialer
	Store    port.MarketStore
	Closed   ClosedCandleHandler // optional
	Observer Observer            // optional
	Backoff  Backoff
	// OnTransition is called synchronously on every state change.
	OnTransition func(stream string, from, to State)
}

// StreamSession owns one push channel and its reconnect state machine.
type StreamSession struct {
	spec    port.StreamSpec
	deps    StreamDeps
	backoff Backoff
	state   atomic.Int32
}

func NewStreamSession(spec port.StreamSpec, deps StreamDeps) *StreamSession {
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	s := &StreamSession{spec: spec, deps: deps, backoff: deps.Backoff.withDefaults()}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *StreamSession) Name() string { return s.spec.Name }

// State returns the current state; safe to call from any goroutine.
func (s *StreamSession) State() State { return State(s.state.Load()) }

func (s *StreamSession) transition(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	log.Debug().Str("stream", s.spec.Name).Str("from", from.String()).Str("state", to.String()).Msg("stream state")
	s.deps.Observer.StateChanged(s.spec.Name, from, to)
	if s.deps.OnTransition != nil {
		s.deps.OnTransition(s.spec.Name, from, to)
	}
}

// Run drives the state machine until ctx is cancelled. It never gives up on
// transport errors and always returns nil after reaching STOPPED.
func (s *StreamSession) Run(ctx context.Context) error {
	defer s.transition(StateStopped)

	delay := s.backoff.Initial
	for {
		s.transition(StateConnecting)
		conn, err := s.deps.Dialer.Dial(ctx, s.spec.Name)
		if err == nil {
			delay = s.backoff.Initial
			s.transition(StateStreaming)
			log.Info().Str("stream", s.spec.Name).Msg("stream connected")

			err = s.stream(ctx, conn)

			s.transition(StateClosing)
			_ = conn.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		log.Warn().Err(err).Str("stream", s.spec.Name).Dur("backoff", delay).Msg("stream disconnected, reconnecting")
		s.transition(StateBackoff)
		if service.Sleep(ctx, delay) != nil {
			return nil
		}
		delay = s.backoff.next(delay)
	}
}

// stream reads until a transport error. Messages are handled one at a time in
// arrival order.
func (s *StreamSession) stream(ctx context.Context, conn port.StreamConn) error {
	for {
		raw, err := conn.ReadMessage(ctx)
		if err != nil {
			return err
		}
		s.handle(ctx, raw)
	}
}

func (s *StreamSession) handle(ctx context.Context, raw []byte) {
	rec, err := s.spec.Decoder.Decode(raw)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, model.ErrInvalidRecord) {
			reason = "invalid"
		}
		log.Warn().Err(err).Str("stream", s.spec.Name).Msg("message dropped")
		s.deps.Observer.MessageDropped(s.spec.Name, reason)
		return
	}

	stored, err := s.store(ctx, rec)
	if err != nil {
		log.Error().Err(err).Str("stream", s.spec.Name).Msg("store write failed")
		s.deps.Observer.StoreFailed(s.spec.Name)
		return
	}
	if !stored {
		return
	}
	s.deps.Observer.MessageStored(s.spec.Name)

	if u, ok := rec.(*model.CandleUpdate); ok && s.deps.Closed != nil {
		if err := s.deps.Closed.OnCandleClosed(ctx, u.Candle); err != nil {
			log.Warn().Err(err).Str("stream", s.spec.Name).Msg("closed candle handler failed")
		}
	}
}

// store writes rec; open candles are not persisted and report stored=false.
func (s *StreamSession) store(ctx context.Context, rec model.StreamRecord) (bool, error) {
	switch r := rec.(type) {
	case *model.Trade:
		return true, s.deps.Store.InsertTrade(ctx, r)
	case *model.OrderBookSnapshot:
		return true, s.deps.Store.InsertOrderBook(ctx, r)
	case *model.CandleUpdate:
		if !r.Closed {
			return false, nil
		}
		return true, s.deps.Store.UpsertCandle(ctx, &r.Candle)
	default:
		return false, fmt.Errorf("unexpected record %T", rec)
	}
}
