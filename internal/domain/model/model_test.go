package model

import (
	"errors"
	"math"
	"testing"
)

func validCandle() Candle {
	return Candle{
		Symbol:    "ethusdt",
		Interval:  Interval1m,
		OpenTime:  1_700_000_000_000,
		CloseTime: 1_700_000_059_999,
		Open:      2000, High: 2010, Low: 1995, Close: 2005,
		Volume: 12.5, QuoteVolume: 25000, TradeCount: 42,
	}
}

func TestCandleValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Candle)
		ok     bool
	}{
		{"valid", func(c *Candle) {}, true},
		{"flat bar", func(c *Candle) { c.Open, c.High, c.Low, c.Close = 1, 1, 1, 1 }, true},
		{"high below close", func(c *Candle) { c.High = 2004 }, false},
		{"low above open", func(c *Candle) { c.Low = 2001 }, false},
		{"open_time equals close_time", func(c *Candle) { c.CloseTime = c.OpenTime }, false},
		{"zero open_time", func(c *Candle) { c.OpenTime = 0 }, false},
		{"negative volume", func(c *Candle) { c.Volume = -1 }, false},
		{"nan close", func(c *Candle) { c.Close = math.NaN() }, false},
		{"unknown interval", func(c *Candle) { c.Interval = "2m" }, false},
		{"empty symbol", func(c *Candle) { c.Symbol = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCandle()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrInvalidRecord) {
					t.Errorf("expected ErrInvalidRecord, got %v", err)
				}
			}
		})
	}
}

func TestTradeValidate(t *testing.T) {
	tr := &Trade{Symbol: "ethusdt", Timestamp: 1, Price: 1, Quantity: 0.1, TradeID: 7}
	if err := tr.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr.Quantity = 0
	if err := tr.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("zero quantity should be invalid, got %v", err)
	}
}

func TestOrderBookValidateAndTruncate(t *testing.T) {
	ob := &OrderBookSnapshot{Symbol: "ethusdt", Timestamp: 1}
	for i := 0; i < 25; i++ {
		ob.Bids = append(ob.Bids, PriceLevel{Price: float64(100 - i), Size: 1})
		ob.Asks = append(ob.Asks, PriceLevel{Price: float64(101 + i), Size: 1})
	}
	if err := ob.Validate(); err == nil {
		t.Fatal("expected depth error before truncate")
	}
	ob.Truncate()
	if len(ob.Bids) != MaxBookDepth || len(ob.Asks) != MaxBookDepth {
		t.Fatalf("truncate: bids=%d asks=%d", len(ob.Bids), len(ob.Asks))
	}
	if ob.Bids[0].Price != 100 || ob.Asks[0].Price != 101 {
		t.Error("truncate must keep received order")
	}
	if err := ob.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	empty := &OrderBookSnapshot{Symbol: "ethusdt", Timestamp: 1, Bids: ob.Bids}
	if err := empty.Validate(); err == nil {
		t.Error("book without asks should be invalid")
	}
}

func TestIntervals(t *testing.T) {
	if Interval1d.DefaultBackfillLimit() != 365 || Interval1m.DefaultBackfillLimit() != 500 {
		t.Error("unexpected backfill limits")
	}
	if Interval4h.Millis() != 4*3600*1000 {
		t.Errorf("4h millis = %d", Interval4h.Millis())
	}
	if _, err := ParseInterval("3m"); err == nil {
		t.Error("3m should be rejected")
	}
	for _, iv := range AllIntervals {
		if got, err := ParseInterval(string(iv)); err != nil || got != iv {
			t.Errorf("ParseInterval(%s) = %s, %v", iv, got, err)
		}
	}
}

func TestFuturesMetricValidate(t *testing.T) {
	meta := MetricMeta{Symbol: "ethusdt", Timestamp: 1}
	metrics := []FuturesMetric{
		&OpenInterest{MetricMeta: meta, OpenInterest: 10},
		&FundingRate{MetricMeta: meta, FundingRate: -0.0001, NextFundingTime: 2},
		&LongShortRatio{MetricMeta: meta, LongShortRatio: 1.2, LongAccount: 0.55, ShortAccount: 0.45},
		&TopTraderPosition{MetricMeta: meta, LongPositionRatio: 0.6, ShortPositionRatio: 0.4},
	}
	for i, m := range metrics {
		if m.Kind() != AllMetricKinds[i] {
			t.Errorf("metric %d kind = %s", i, m.Kind())
		}
		if err := m.Validate(); err != nil {
			t.Errorf("%s: unexpected error %v", m.Kind(), err)
		}
	}

	bad := &OpenInterest{MetricMeta: MetricMeta{Symbol: "ethusdt"}}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("zero timestamp should be invalid, got %v", err)
	}
}

func TestTickerValidate(t *testing.T) {
	tk := &Ticker24h{Symbol: "ethusdt", Timestamp: 1, PriceChange: -12.5, PriceChangePercent: -0.6, LastPrice: 2000, WeightedAvgPrice: 2010}
	if err := tk.Validate(); err != nil {
		t.Fatalf("negative change is allowed: %v", err)
	}
	tk.Volume = -1
	if err := tk.Validate(); err == nil {
		t.Error("negative volume should be invalid")
	}
}
