package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"mdcollector/internal/application/port"
	"mdcollector/internal/domain/indicator"
	"mdcollector/internal/domain/model"
)

// DefaultIndicatorWindow 每次计算读取的 K 线数
const DefaultIndicatorWindow = 200

// CandleWindow reads the newest candles for one series, oldest first.
type CandleWindow interface {
	RecentCandles(ctx context.Context, symbol string, interval model.Interval, limit int) ([]model.Candle, error)
}

// IndicatorSnapshot is the published payload for one series.
type IndicatorSnapshot struct {
	Symbol   string         `json:"symbol"`
	Interval model.Interval `json:"interval"`
	OpenTime int64          `json:"open_time"` // newest candle in the window
	Candles  int            `json:"candles"`
	indicator.Set
}

// IndicatorService 从持久化 K 线计算技术指标，收线后可选推送
type IndicatorService struct {
	window    CandleWindow
	publisher port.IndicatorPublisher
	limit     int
}

// NewIndicatorService builds the service. publisher may be nil.
func NewIndicatorService(window CandleWindow, publisher port.IndicatorPublisher, limit int) *IndicatorService {
	if limit <= 0 {
		limit = DefaultIndicatorWindow
	}
	return &IndicatorService{window: window, publisher: publisher, limit: limit}
}

// Compute reads the recent window and returns the unrounded indicator set.
func (s *IndicatorService) Compute(ctx context.Context, symbol string, interval model.Interval) (IndicatorSnapshot, error) {
	candles, err := s.window.RecentCandles(ctx, symbol, interval, s.limit)
	if err != nil {
		return IndicatorSnapshot{}, fmt.Errorf("read candles %s/%s: %w", symbol, interval, err)
	}
	snap := IndicatorSnapshot{
		Symbol:   symbol,
		Interval: interval,
		Candles:  len(candles),
		Set:      indicator.Compute(candles),
	}
	if n := len(candles); n > 0 {
		snap.OpenTime = candles[n-1].OpenTime
	}
	return snap, nil
}

// OnCandleClosed recomputes the series of c and publishes the rounded set.
func (s *IndicatorService) OnCandleClosed(ctx context.Context, c model.Candle) error {
	if s.publisher == nil {
		return nil
	}
	snap, err := s.Compute(ctx, c.Symbol, c.Interval)
	if err != nil {
		return err
	}
	if !snap.Available {
		log.Debug().Str("symbol", c.Symbol).Str("interval", string(c.Interval)).
			Int("candles", snap.Candles).Msg("indicators unavailable, not enough candles")
	}
	snap.Set = snap.Set.Rounded()

	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.publisher.PublishIndicators(ctx, c.Symbol, c.Interval, payload)
}
