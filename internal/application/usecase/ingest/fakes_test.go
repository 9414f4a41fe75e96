package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"mdcollector/internal/application/port"
	"mdcollector/internal/domain/model"
)

var (
	errConnLost  = errors.New("connection reset by peer")
	errDial      = errors.New("dial tcp: connection refused")
	errMalformed = errors.New("malformed")
)

// fakeConn yields frames until the channel is closed, then errConnLost.
type fakeConn struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func newFakeConn(frames ...string) *fakeConn {
	c := &fakeConn{frames: make(chan []byte, len(frames)+1), done: make(chan struct{})}
	for _, f := range frames {
		c.frames <- []byte(f)
	}
	return c
}

// drop makes the next read fail once buffered frames are drained.
func (c *fakeConn) drop() { close(c.frames) }

func (c *fakeConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errConnLost
	case b, ok := <-c.frames:
		if !ok {
			return nil, errConnLost
		}
		return b, nil
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// fakeDialer delegates to next; it records the time of every dial per stream.
type fakeDialer struct {
	mu    sync.Mutex
	dials map[string][]time.Time
	next  func(n int, stream string) (port.StreamConn, error)
}

func newFakeDialer(next func(n int, stream string) (port.StreamConn, error)) *fakeDialer {
	return &fakeDialer{dials: map[string][]time.Time{}, next: next}
}

func (d *fakeDialer) Dial(ctx context.Context, stream string) (port.StreamConn, error) {
	d.mu.Lock()
	d.dials[stream] = append(d.dials[stream], time.Now())
	n := len(d.dials[stream])
	d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.next(n, stream)
}

func (d *fakeDialer) dialTimes(stream string) []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.dials[stream]...)
}

// testDecoder understands "T<id>" trades, "B" books and "K<n>c"/"K<n>o"
// closed/open one-minute candles.
func testDecoder(symbol string) port.StreamDecoder {
	return port.DecoderFunc(func(raw []byte) (model.StreamRecord, error) {
		s := string(raw)
		switch {
		case strings.HasPrefix(s, "T"):
			id, err := strconv.ParseInt(s[1:], 10, 64)
			if err != nil {
				return nil, errMalformed
			}
			return &model.Trade{Symbol: symbol, Timestamp: 1_700_000_000_000 + id, Price: 100, Quantity: 1, TradeID: id}, nil
		case s == "B":
			return &model.OrderBookSnapshot{
				Symbol: symbol, Timestamp: 1_700_000_000_000,
				Bids: []model.PriceLevel{{Price: 99, Size: 1}}, Asks: []model.PriceLevel{{Price: 101, Size: 1}},
			}, nil
		case strings.HasPrefix(s, "K") && len(s) > 2:
			n, err := strconv.ParseInt(s[1:len(s)-1], 10, 64)
			if err != nil {
				return nil, errMalformed
			}
			return &model.CandleUpdate{Candle: testCandle(symbol, n), Closed: s[len(s)-1] == 'c'}, nil
		}
		return nil, fmt.Errorf("%w: %q", errMalformed, s)
	})
}

func testCandle(symbol string, n int64) model.Candle {
	open := int64(1_700_000_000_000) + n*60_000
	p := 100 + float64(n)
	return model.Candle{
		Symbol: symbol, Interval: model.Interval1m, OpenTime: open, CloseTime: open + 59_999,
		Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1,
	}
}

// memStore records writes in order.
type memStore struct {
	mu      sync.Mutex
	trades  map[string][]int64
	books   int
	candles []model.Candle
	tickers int
	metrics []model.MetricKind
	fail    error
}

func newMemStore() *memStore { return &memStore{trades: map[string][]int64{}} }

func (m *memStore) InsertTrade(_ context.Context, t *model.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.trades[t.Symbol] = append(m.trades[t.Symbol], t.TradeID)
	return nil
}

func (m *memStore) InsertOrderBook(context.Context, *model.OrderBookSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books++
	return nil
}

func (m *memStore) InsertTicker(context.Context, *model.Ticker24h) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers++
	return nil
}

func (m *memStore) InsertFuturesMetric(_ context.Context, fm model.FuturesMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, fm.Kind())
	return nil
}

func (m *memStore) UpsertCandle(_ context.Context, c *model.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles = append(m.candles, *c)
	return nil
}

func (m *memStore) UpsertCandles(_ context.Context, cs []model.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles = append(m.candles, cs...)
	return nil
}

func (m *memStore) tradeIDs(symbol string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.trades[symbol]...)
}

func (m *memStore) setFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// recorder collects state transitions and observer events.
type recorder struct {
	NopObserver
	mu      sync.Mutex
	trans   map[string][]State
	dropped int
	failed  int
	polls   map[string]int
	pollErr map[string]int
}

func newRecorder() *recorder {
	return &recorder{trans: map[string][]State{}, polls: map[string]int{}, pollErr: map[string]int{}}
}

func (r *recorder) hook(stream string, _, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trans[stream] = append(r.trans[stream], to)
}

func (r *recorder) states(stream string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.trans[stream]...)
}

func (r *recorder) MessageDropped(string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
}

func (r *recorder) StoreFailed(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
}

func (r *recorder) PollCompleted(job string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls[job]++
	if err != nil {
		r.pollErr[job]++
	}
}

func (r *recorder) counts() (dropped, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped, r.failed
}

func (r *recorder) pollCount(job string) (ok, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls[job] - r.pollErr[job], r.pollErr[job]
}

// closedCandles records OnCandleClosed calls.
type closedCandles struct {
	mu   sync.Mutex
	seen []int64
}

func (c *closedCandles) OnCandleClosed(_ context.Context, cd model.Candle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, cd.OpenTime)
	return nil
}

func (c *closedCandles) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// eventually polls cond until it holds or timeout elapses.
func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
