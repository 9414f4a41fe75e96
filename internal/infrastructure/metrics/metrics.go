package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"mdcollector/internal/application/port"
	"mdcollector/internal/application/usecase/ingest"
	"mdcollector/internal/domain/model"
)

const namespace = "mdcollector"

// Metrics holds the collector's Prometheus series and implements ingest.Observer.
type Metrics struct {
	SessionState      *prometheus.GaugeVec   // stream; value is the ingest.State
	Transitions       *prometheus.CounterVec // stream, to
	Reconnects        *prometheus.CounterVec // stream
	MessagesStored    *prometheus.CounterVec // stream
	MessagesDropped   *prometheus.CounterVec // stream, reason
	StoreFailures     *prometheus.CounterVec // stream
	Polls             *prometheus.CounterVec // job, result
	BackfillCandles   *prometheus.CounterVec // symbol, interval
	BackfillFailures  *prometheus.CounterVec // symbol, interval
	MirrorErrors      *prometheus.CounterVec // mirror
	IndicatorsEmitted *prometheus.CounterVec // symbol, interval
}

// New registers every series on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_state",
			Help:      "Current reconnect state per stream (0=connecting 1=streaming 2=closing 3=backoff 4=stopped)",
		}, []string{"stream"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_transitions_total",
			Help:      "Stream state transitions by target state",
		}, []string{"stream", "to"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Connection attempts after a backoff",
		}, []string{"stream"}),
		MessagesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_stored_total",
			Help:      "Stream records persisted",
		}, []string{"stream"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Stream messages dropped before storage",
		}, []string{"stream", "reason"}),
		StoreFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Store writes that failed",
		}, []string{"stream"}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Poll attempts by result",
		}, []string{"job", "result"}),
		BackfillCandles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_candles_total",
			Help:      "Candles stored by backfill",
		}, []string{"symbol", "interval"}),
		BackfillFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_failures_total",
			Help:      "Backfill intervals that failed",
		}, []string{"symbol", "interval"}),
		MirrorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_errors_total",
			Help:      "Failed or rejected mirror writes",
		}, []string{"mirror"}),
		IndicatorsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indicators_emitted_total",
			Help:      "Indicator snapshots published",
		}, []string{"symbol", "interval"}),
	}

	reg.MustRegister(
		m.SessionState,
		m.Transitions,
		m.Reconnects,
		m.MessagesStored,
		m.MessagesDropped,
		m.StoreFailures,
		m.Polls,
		m.BackfillCandles,
		m.BackfillFailures,
		m.MirrorErrors,
		m.IndicatorsEmitted,
	)
	return m
}

func (m *Metrics) StateChanged(stream string, from, to ingest.State) {
	m.SessionState.WithLabelValues(stream).Set(float64(to))
	m.Transitions.WithLabelValues(stream, to.String()).Inc()
	if from == ingest.StateBackoff && to == ingest.StateConnecting {
		m.Reconnects.WithLabelValues(stream).Inc()
	}
}

func (m *Metrics) MessageStored(stream string) {
	m.MessagesStored.WithLabelValues(stream).Inc()
}

func (m *Metrics) MessageDropped(stream, reason string) {
	m.MessagesDropped.WithLabelValues(stream, reason).Inc()
}

func (m *Metrics) StoreFailed(stream string) {
	m.StoreFailures.WithLabelValues(stream).Inc()
}

func (m *Metrics) PollCompleted(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Polls.WithLabelValues(job, result).Inc()
}

func (m *Metrics) BackfillCompleted(symbol string, interval model.Interval, stored int, err error) {
	m.BackfillCandles.WithLabelValues(symbol, string(interval)).Add(float64(stored))
	if err != nil {
		m.BackfillFailures.WithLabelValues(symbol, string(interval)).Inc()
	}
}

func (m *Metrics) MirrorFailed(mirror string, _ error) {
	m.MirrorErrors.WithLabelValues(mirror).Inc()
}

func (m *Metrics) IndicatorPublished(symbol string, interval model.Interval) {
	m.IndicatorsEmitted.WithLabelValues(symbol, string(interval)).Inc()
}

var _ ingest.Observer = (*Metrics)(nil)

// CountPublished wraps p so that every successful publish is counted.
func (m *Metrics) CountPublished(p port.IndicatorPublisher) port.IndicatorPublisher {
	return countingPublisher{next: p, m: m}
}

type countingPublisher struct {
	next port.IndicatorPublisher
	m    *Metrics
}

func (c countingPublisher) PublishIndicators(ctx context.Context, symbol string, interval model.Interval, payload []byte) error {
	if err := c.next.PublishIndicators(ctx, symbol, interval, payload); err != nil {
		return err
	}
	c.m.IndicatorPublished(symbol, interval)
	return nil
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", addr).Msg("metrics server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
