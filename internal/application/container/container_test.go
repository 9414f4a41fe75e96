package container

import (
	"context"
	"path/filepath"
	"testing"

	"mdcollector/internal/application/service"
	"mdcollector/internal/domain/model"
	"mdcollector/internal/infrastructure/storage/sqlite"
)

type staticKlines []model.Candle

func (s staticKlines) Klines(context.Context, string, model.Interval, int) ([]model.Candle, error) {
	return s, nil
}

func fixture(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := 100 + float64(i) + float64(i%5)*2
		open := int64(1_700_000_000_000) + int64(i)*3_600_000
		out[i] = model.Candle{
			Symbol: "ethusdt", Interval: model.Interval1h, OpenTime: open, CloseTime: open + 3_599_999,
			Open: p, High: p + 2, Low: p - 2, Close: p, Volume: 1,
		}
	}
	return out
}

func TestContainerServiceWorkflow(t *testing.T) {
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "container.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	c := New(repo, nil, 0)
	defer c.Close()

	src := staticKlines(fixture(50))
	cfg := service.BackfillConfig{Intervals: []model.Interval{model.Interval1h}, Delay: -1}
	b := c.Backfiller(src, cfg)
	if c.Backfiller(src, cfg) != b {
		t.Errorf("expected the backfiller to be reused")
	}

	ctx := context.Background()
	report := b.Run(ctx, "ethusdt")
	if report.Stored() != 50 || report.Failed() {
		t.Fatalf("backfill stored %d failed=%v", report.Stored(), report.Failed())
	}

	if c.IndicatorService() != c.IndicatorService() {
		t.Errorf("expected the indicator service to be reused")
	}
	snap, err := c.IndicatorService().Compute(ctx, "ethusdt", model.Interval1h)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if !snap.Available || snap.Candles != 50 {
		t.Fatalf("expected indicators over 50 candles, got %+v", snap)
	}
	if snap.RSI < 0 || snap.RSI > 100 {
		t.Errorf("rsi out of range: %v", snap.RSI)
	}

	// no publisher: closed candles are a no-op
	if err := c.IndicatorService().OnCandleClosed(ctx, fixture(1)[0]); err != nil {
		t.Errorf("OnCandleClosed failed: %v", err)
	}
}

func TestContainerCloseReleasesRepository(t *testing.T) {
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "close.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	c := New(repo, nil, 0)
	if c.Repository() != repo {
		t.Fatalf("expected the wrapped repository")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := repo.Count(context.Background(), "klines"); err == nil {
		t.Errorf("expected the repository to be closed")
	}
}
