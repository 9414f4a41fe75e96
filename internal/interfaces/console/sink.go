package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"mdcollector/internal/application/port"
	"mdcollector/internal/domain/model"
)

// Sink prints one line per published indicator snapshot.
type Sink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewSink(out io.Writer) *Sink {
	if out == nil {
		out = os.Stdout
	}
	return &Sink{out: out}
}

type snapshotLine struct {
	OpenTime  int64   `json:"open_time"`
	Candles   int     `json:"candles"`
	Available bool    `json:"available"`
	EMA12     float64 `json:"ema_12"`
	EMA26     float64 `json:"ema_26"`
	RSI       float64 `json:"rsi"`
	ATR       float64 `json:"atr"`
	MACD      struct {
		Histogram float64 `json:"histogram"`
		Trend     string  `json:"trend"`
	} `json:"macd"`
	Bollinger struct {
		Position string `json:"position"`
	} `json:"bollinger"`
}

func (s *Sink) PublishIndicators(_ context.Context, symbol string, interval model.Interval, payload []byte) error {
	var v snapshotLine
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("console sink: %w", err)
	}
	ts := time.UnixMilli(v.OpenTime).UTC().Format("2006-01-02 15:04:05")

	s.mu.Lock()
	defer s.mu.Unlock()
	if !v.Available {
		_, err := fmt.Fprintf(s.out, "%s %s %s indicators n/a (%d candles)\n", ts, symbol, interval, v.Candles)
		return err
	}
	_, err := fmt.Fprintf(s.out, "%s %s %s ema12=%.2f ema26=%.2f rsi=%.2f atr=%.4f macd_hist=%.4f %s boll=%s\n",
		ts, symbol, interval, v.EMA12, v.EMA26, v.RSI, v.ATR, v.MACD.Histogram, v.MACD.Trend, v.Bollinger.Position)
	return err
}

var _ port.IndicatorPublisher = (*Sink)(nil)
