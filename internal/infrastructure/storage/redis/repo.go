package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mdcollector/internal/application/port"
	"mdcollector/internal/domain/model"
)

// DefaultStreamMaxLen 收盘 K 线 stream 的近似长度上限
const DefaultStreamMaxLen = 10000

// Repo mirrors the live view of the market into Redis:
//
//	<prefix>:latest:<symbol>               hash: trade / book / ticker / <metric> / candle:<iv>
//	<prefix>:candles                       stream of closed candles
//	<prefix>:candles:pub                   pub/sub channel of closed candles
//	<prefix>:indicators:<symbol>:<iv>      latest indicator payload
//	<prefix>:indicators:pub                pub/sub channel of indicator payloads
type Repo struct {
	rdb           *redis.Client
	prefix        string
	ttl           time.Duration
	candleStream  string
	candleChan    string
	indicatorChan string
	maxLen        int64
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Repo {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "mdc"
	}
	return &Repo{
		rdb:           rdb,
		prefix:        prefix,
		ttl:           ttl,
		candleStream:  prefix + ":candles",
		candleChan:    prefix + ":candles:pub",
		indicatorChan: prefix + ":indicators:pub",
		maxLen:        DefaultStreamMaxLen,
	}
}

// Dial opens a client and pings it once.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *Repo) latestKey(symbol string) string {
	return r.prefix + ":latest:" + symbol
}

func (r *Repo) indicatorKey(symbol string, iv model.Interval) string {
	return fmt.Sprintf("%s:indicators:%s:%s", r.prefix, symbol, iv)
}

func candleField(iv model.Interval) string { return "candle:" + string(iv) }

// setLatest writes one hash field and refreshes the key TTL in a pipeline.
func (r *Repo) setLatest(ctx context.Context, symbol, field string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	key := r.latestKey(symbol)
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, key, field, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Repo) InsertTrade(ctx context.Context, t *model.Trade) error {
	return r.setLatest(ctx, t.Symbol, "trade", t)
}

func (r *Repo) InsertOrderBook(ctx context.Context, ob *model.OrderBookSnapshot) error {
	return r.setLatest(ctx, ob.Symbol, "book", bookView{
		Symbol: ob.Symbol, Timestamp: ob.Timestamp,
		Bids: levelPairs(ob.Bids), Asks: levelPairs(ob.Asks),
	})
}

func (r *Repo) InsertTicker(ctx context.Context, t *model.Ticker24h) error {
	return r.setLatest(ctx, t.Symbol, "ticker", t)
}

func (r *Repo) InsertFuturesMetric(ctx context.Context, m model.FuturesMetric) error {
	return r.setLatest(ctx, m.Meta().Symbol, string(m.Kind()), m)
}

// UpsertCandle is called for closed stream candles: latest field, stream entry
// and a pub/sub notification.
func (r *Repo) UpsertCandle(ctx context.Context, c *model.Candle) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	key := r.latestKey(c.Symbol)
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, key, candleField(c.Interval), string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: r.candleStream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"symbol":    c.Symbol,
			"interval":  string(c.Interval),
			"open_time": c.OpenTime,
			"payload":   string(b),
		},
	})
	pipe.Publish(ctx, r.candleChan, string(b))
	_, err = pipe.Exec(ctx)
	return err
}

// UpsertCandles only keeps the newest candle per interval; backfill batches are
// not replayed onto the stream.
func (r *Repo) UpsertCandles(ctx context.Context, cs []model.Candle) error {
	last := map[string]model.Candle{}
	for _, c := range cs {
		k := c.Symbol + "|" + string(c.Interval)
		if prev, ok := last[k]; !ok || c.OpenTime >= prev.OpenTime {
			last[k] = c
		}
	}
	for _, c := range last {
		if err := r.setLatest(ctx, c.Symbol, candleField(c.Interval), c); err != nil {
			return err
		}
	}
	return nil
}

// PublishIndicators stores the payload under its indicator key and announces it.
func (r *Repo) PublishIndicators(ctx context.Context, symbol string, interval model.Interval, payload []byte) error {
	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, r.indicatorKey(symbol, interval), string(payload), r.ttl)
	pipe.Publish(ctx, r.indicatorChan, string(payload))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Repo) Close() error { return r.rdb.Close() }

type bookView struct {
	Symbol    string       `json:"symbol"`
	Timestamp int64        `json:"ts_ms"`
	Bids      [][2]float64 `json:"bids"`
	Asks      [][2]float64 `json:"asks"`
}

func levelPairs(lv []model.PriceLevel) [][2]float64 {
	out := make([][2]float64, len(lv))
	for i, l := range lv {
		out[i] = [2]float64{l.Price, l.Size}
	}
	return out
}

var (
	_ port.MarketStore        = (*Repo)(nil)
	_ port.IndicatorPublisher = (*Repo)(nil)
)
