package model

import (
	"fmt"
	"time"
)

// Interval K 线周期
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// AllIntervals lists the supported intervals, finest first.
var AllIntervals = []Interval{
	Interval1m, Interval5m, Interval15m, Interval30m, Interval1h, Interval4h, Interval1d,
}

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval1d:  24 * time.Hour,
}

// ParseInterval validates s against the supported set.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("unsupported interval %q", s)
	}
	return iv, nil
}

func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Duration returns the bucket length, or 0 for an unknown interval.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// Millis returns the bucket length in milliseconds.
func (i Interval) Millis() int64 {
	return i.Duration().Milliseconds()
}

// DefaultBackfillLimit 历史回补条数：日线 365，其余 500
func (i Interval) DefaultBackfillLimit() int {
	if i == Interval1d {
		return 365
	}
	return 500
}

func (i Interval) String() string { return string(i) }

// Candle OHLCV 聚合，逻辑主键 (symbol, interval, open_time)
type Candle struct {
	Symbol              string   `json:"symbol"`
	Interval            Interval `json:"interval"`
	OpenTime            int64    `json:"open_time"`
	Open                float64  `json:"open"`
	High                float64  `json:"high"`
	Low                 float64  `json:"low"`
	Close               float64  `json:"close"`
	Volume              float64  `json:"volume"`
	CloseTime           int64    `json:"close_time"`
	QuoteVolume         float64  `json:"quote_volume"`
	TradeCount          int64    `json:"trade_count"`
	TakerBuyVolume      float64  `json:"taker_buy_volume"`
	TakerBuyQuoteVolume float64  `json:"taker_buy_quote_volume"`
}

// Validate enforces low <= open,close <= high, open_time < close_time and
// non-negative sizes.
func (c *Candle) Validate() error {
	if c.Symbol == "" {
		return invalid("candle: empty symbol")
	}
	if !c.Interval.Valid() {
		return invalid("candle %s: interval %q", c.Symbol, c.Interval)
	}
	if c.OpenTime <= 0 || c.OpenTime >= c.CloseTime {
		return invalid("candle %s/%s: open_time=%d close_time=%d", c.Symbol, c.Interval, c.OpenTime, c.CloseTime)
	}
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
		if !positive(v) {
			return invalid("candle %s/%s@%d: price %v", c.Symbol, c.Interval, c.OpenTime, v)
		}
	}
	if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
		return invalid("candle %s/%s@%d: ohlc o=%v h=%v l=%v c=%v",
			c.Symbol, c.Interval, c.OpenTime, c.Open, c.High, c.Low, c.Close)
	}
	for _, v := range []float64{c.Volume, c.QuoteVolume, c.TakerBuyVolume, c.TakerBuyQuoteVolume} {
		if !nonNegative(v) {
			return invalid("candle %s/%s@%d: volume %v", c.Symbol, c.Interval, c.OpenTime, v)
		}
	}
	if c.TradeCount < 0 {
		return invalid("candle %s/%s@%d: trade_count %d", c.Symbol, c.Interval, c.OpenTime, c.TradeCount)
	}
	return nil
}

// Key returns the logical upsert key.
func (c *Candle) Key() string {
	return fmt.Sprintf("%s:%s:%d", c.Symbol, c.Interval, c.OpenTime)
}
