package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"mdcollector/internal/application/port"
	"mdcollector/internal/domain/model"
)

func TestMigrateFreshStore(t *testing.T) {
	repo := newTestRepo(t)

	v, err := userVersion(context.Background(), repo.GetDB())
	if err != nil {
		t.Fatalf("user_version: %v", err)
	}
	if v != SchemaVersion() {
		t.Errorf("expected schema version %d, got %d", SchemaVersion(), v)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.db")
	ctx := context.Background()

	repo, err := New(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	c := testCandle(1_700_000_000_000, 100)
	if err := repo.UpsertCandle(ctx, &c); err != nil {
		t.Fatalf("UpsertCandle: %v", err)
	}
	_ = repo.Close()

	repo, err = New(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer repo.Close()

	if n := mustCount(t, repo, "klines"); n != 1 {
		t.Errorf("rows lost on reopen: %d", n)
	}
}

// A file written by the older collector: no user_version, no symbol columns on
// some tables, duplicate klines and trades, open_interest with its value column.
func TestMigrateLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crypto_data.db")
	ctx := context.Background()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open legacy: %v", err)
	}
	_, err = db.Exec(`
CREATE TABLE trades (id INTEGER PRIMARY KEY AUTOINCREMENT, timestamp INTEGER, price REAL, quantity REAL, is_buyer_maker INTEGER, trade_id INTEGER);
CREATE TABLE klines (id INTEGER PRIMARY KEY AUTOINCREMENT, open_time INTEGER, open REAL, high REAL, low REAL, close REAL, volume REAL,
  close_time INTEGER, quote_volume REAL, trades_count INTEGER, taker_buy_volume REAL, taker_buy_quote_volume REAL);
CREATE TABLE open_interest (id INTEGER PRIMARY KEY AUTOINCREMENT, symbol TEXT, timestamp INTEGER, open_interest REAL, open_interest_value REAL);
INSERT INTO trades(timestamp, price, quantity, is_buyer_maker, trade_id) VALUES (1, 10, 1, 0, 5), (2, 10, 1, 0, 5), (3, 11, 1, 1, 6);
INSERT INTO klines(open_time, open, high, low, close, volume, close_time, quote_volume, trades_count, taker_buy_volume, taker_buy_quote_volume)
  VALUES (1000, 1, 2, 1, 1.5, 1, 1999, 1, 1, 0, 0), (1000, 1, 3, 1, 2.5, 1, 1999, 1, 1, 0, 0);
INSERT INTO open_interest(symbol, timestamp, open_interest, open_interest_value) VALUES ('ethusdt', 1, 5, 50);
`)
	if err != nil {
		t.Fatalf("seed legacy: %v", err)
	}
	_ = db.Close()

	repo, err := New(path)
	if err != nil {
		t.Fatalf("migrate legacy: %v", err)
	}
	defer repo.Close()

	if n := mustCount(t, repo, "klines"); n != 1 {
		t.Errorf("expected deduplicated klines, got %d", n)
	}
	var close float64
	if err := repo.GetDB().QueryRow(`SELECT close FROM klines`).Scan(&close); err != nil {
		t.Fatalf("read kline: %v", err)
	}
	if close != 2.5 {
		t.Errorf("expected newest duplicate to survive, close=%v", close)
	}
	if n := mustCount(t, repo, "trades"); n != 2 {
		t.Errorf("expected deduplicated trades, got %d", n)
	}

	oi, err := repo.FuturesMetrics(ctx, model.MetricOpenInterest, port.RangeQuery{Symbol: "ethusdt"})
	if err != nil || len(oi) != 1 {
		t.Fatalf("legacy open interest: %v (%d rows)", err, len(oi))
	}
	if oi[0].(*model.OpenInterest).OpenInterestValue != 50 {
		t.Errorf("legacy open_interest_value lost")
	}

	// new writes land in the migrated schema
	tr := &model.Trade{Symbol: "ethusdt", Timestamp: 4, Price: 12, Quantity: 1, TradeID: 7}
	if err := repo.InsertTrade(ctx, tr); err != nil {
		t.Fatalf("insert after migrate: %v", err)
	}
}

func TestAddColumnIfMissing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tx, err := repo.GetDB().BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	for i := 0; i < 2; i++ {
		if err := addColumnIfMissing(ctx, tx, "ticker_24h", "source", "TEXT DEFAULT 'binance'"); err != nil {
			t.Fatalf("addColumnIfMissing pass %d: %v", i, err)
		}
	}
	ok, err := hasColumn(ctx, tx, "ticker_24h", "source")
	if err != nil || !ok {
		t.Errorf("column not added: %v", err)
	}
}
