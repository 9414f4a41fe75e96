package model

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRecord 记录未通过边界校验
var ErrInvalidRecord = errors.New("invalid record")

// MaxBookDepth 订单簿快照最多保留的档位
const MaxBookDepth = 20

// ========== Stream Records ==========

// StreamRecord is one decoded push message. The set of variants is closed:
// *Trade, *OrderBookSnapshot and *CandleUpdate.
type StreamRecord interface {
	Validate() error
	streamRecord()
}

// Trade 逐笔成交（聚合成交）
type Trade struct {
	Symbol       string  `json:"symbol"`
	Timestamp    int64   `json:"ts_ms"`
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
	IsBuyerMaker bool    `json:"is_buyer_maker"`
	TradeID      int64   `json:"trade_id"` // 交易所分配的序号
}

func (*Trade) streamRecord() {}

func (t *Trade) Validate() error {
	if t.Symbol == "" {
		return invalid("trade: empty symbol")
	}
	if t.Timestamp <= 0 {
		return invalid("trade %s: timestamp %d", t.Symbol, t.Timestamp)
	}
	if !positive(t.Price) || !positive(t.Quantity) {
		return invalid("trade %s: price=%v qty=%v", t.Symbol, t.Price, t.Quantity)
	}
	return nil
}

// PriceLevel 单个价位
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot 订单簿快照，档位保持接收顺序（bids 降序, asks 升序）
type OrderBookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Timestamp int64        `json:"ts_ms"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

func (*OrderBookSnapshot) streamRecord() {}

func (o *OrderBookSnapshot) Validate() error {
	if o.Symbol == "" {
		return invalid("orderbook: empty symbol")
	}
	if o.Timestamp <= 0 {
		return invalid("orderbook %s: timestamp %d", o.Symbol, o.Timestamp)
	}
	if len(o.Bids) == 0 || len(o.Asks) == 0 {
		return invalid("orderbook %s: empty side (bids=%d asks=%d)", o.Symbol, len(o.Bids), len(o.Asks))
	}
	if len(o.Bids) > MaxBookDepth || len(o.Asks) > MaxBookDepth {
		return invalid("orderbook %s: depth exceeds %d", o.Symbol, MaxBookDepth)
	}
	for _, side := range [][]PriceLevel{o.Bids, o.Asks} {
		for _, lv := range side {
			if !positive(lv.Price) || !nonNegative(lv.Size) {
				return invalid("orderbook %s: level %v/%v", o.Symbol, lv.Price, lv.Size)
			}
		}
	}
	return nil
}

// Truncate caps both sides at MaxBookDepth levels.
func (o *OrderBookSnapshot) Truncate() {
	if len(o.Bids) > MaxBookDepth {
		o.Bids = o.Bids[:MaxBookDepth]
	}
	if len(o.Asks) > MaxBookDepth {
		o.Asks = o.Asks[:MaxBookDepth]
	}
}

// CandleUpdate 推送中的 K 线，只有 Closed=true 时才落库
type CandleUpdate struct {
	Candle Candle
	Closed bool
}

func (*CandleUpdate) streamRecord() {}

func (u *CandleUpdate) Validate() error {
	return u.Candle.Validate()
}

// ========== Periodic Stats ==========

// Ticker24h 24 小时统计
type Ticker24h struct {
	Symbol             string  `json:"symbol"`
	Timestamp          int64   `json:"ts_ms"`
	PriceChange        float64 `json:"price_change"`
	PriceChangePercent float64 `json:"price_change_percent"`
	WeightedAvgPrice   float64 `json:"weighted_avg_price"`
	LastPrice          float64 `json:"last_price"`
	Volume             float64 `json:"volume"`
	QuoteVolume        float64 `json:"quote_volume"`
}

func (t *Ticker24h) Validate() error {
	if t.Symbol == "" || t.Timestamp <= 0 {
		return invalid("ticker: symbol=%q ts=%d", t.Symbol, t.Timestamp)
	}
	// price_change may be negative
	if !finite(t.PriceChange) || !finite(t.PriceChangePercent) {
		return invalid("ticker %s: non-finite change", t.Symbol)
	}
	if !nonNegative(t.WeightedAvgPrice) || !positive(t.LastPrice) ||
		!nonNegative(t.Volume) || !nonNegative(t.QuoteVolume) {
		return invalid("ticker %s: negative or non-finite price/volume", t.Symbol)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func nonNegative(v float64) bool {
	return finite(v) && v >= 0
}

func positive(v float64) bool {
	return finite(v) && v > 0
}
