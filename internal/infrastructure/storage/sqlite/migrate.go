package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// migration 一个版本化的 schema 变更，按 version 顺序执行且只执行一次
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{1, "base tables", migrateBaseTables},
	{2, "unique kline key", migrateUniqueKlines},
	{3, "unique trade id", migrateUniqueTrades},
	{4, "open interest value and read indexes", migrateReadIndexes},
}

// SchemaVersion is the version a freshly migrated store reports.
func SchemaVersion() int { return migrations[len(migrations)-1].version }

func (r *Repo) migrate(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current, err := userVersion(ctx, r.db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := m.apply(ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		// PRAGMA does not take bind parameters
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Info().Int("version", m.version).Str("name", m.name).Msg("sqlite migration applied")
	}
	return nil
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// addColumnIfMissing is idempotent; existing rows get the column default.
func addColumnIfMissing(ctx context.Context, tx *sql.Tx, table, column, decl string) error {
	ok, err := hasColumn(ctx, tx, table, column)
	if err != nil || ok {
		return err
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

func hasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func migrateBaseTables(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS trades (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT,
  timestamp INTEGER,
  price REAL,
  quantity REAL,
  is_buyer_maker INTEGER,
  trade_id INTEGER
);

CREATE TABLE IF NOT EXISTS orderbook (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT,
  timestamp INTEGER,
  bids TEXT,
  asks TEXT
);

CREATE TABLE IF NOT EXISTS klines (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT,
  interval TEXT,
  open_time INTEGER,
  open REAL,
  high REAL,
  low REAL,
  close REAL,
  volume REAL,
  close_time INTEGER,
  quote_volume REAL,
  trades_count INTEGER,
  taker_buy_volume REAL,
  taker_buy_quote_volume REAL
);

CREATE TABLE IF NOT EXISTS ticker_24h (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT,
  timestamp INTEGER,
  price_change REAL,
  price_change_percent REAL,
  weighted_avg_price REAL,
  last_price REAL,
  volume REAL,
  quote_volume REAL
);

CREATE TABLE IF NOT EXISTS open_interest (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT,
  timestamp INTEGER,
  open_interest REAL
);

CREATE TABLE IF NOT EXISTS funding_rate (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT,
  timestamp INTEGER,
  funding_rate REAL,
  next_funding_time INTEGER
);

CREATE TABLE IF NOT EXISTS long_short_ratio (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT,
  timestamp INTEGER,
  long_short_ratio REAL,
  long_account REAL,
  short_account REAL
);

CREATE TABLE IF NOT EXISTS top_trader_position (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT,
  timestamp INTEGER,
  long_position_ratio REAL,
  short_position_ratio REAL,
  long_account_ratio REAL,
  short_account_ratio REAL
);
`)
	if err != nil {
		return err
	}

	// files written by older collectors may predate the symbol/interval columns
	legacy := []struct{ table, column string }{
		{"trades", "symbol"},
		{"orderbook", "symbol"},
		{"klines", "symbol"},
		{"klines", "interval"},
		{"ticker_24h", "symbol"},
	}
	for _, l := range legacy {
		if err := addColumnIfMissing(ctx, tx, l.table, l.column, "TEXT"); err != nil {
			return err
		}
	}
	return nil
}

func migrateUniqueKlines(ctx context.Context, tx *sql.Tx) error {
	// keep the newest row per key before enforcing uniqueness
	_, err := tx.ExecContext(ctx, `
DELETE FROM klines WHERE id NOT IN (
  SELECT MAX(id) FROM klines GROUP BY symbol, interval, open_time
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_klines_key ON klines(symbol, interval, open_time);
`)
	return err
}

func migrateUniqueTrades(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
DELETE FROM trades WHERE trade_id > 0 AND id NOT IN (
  SELECT MIN(id) FROM trades WHERE trade_id > 0 GROUP BY symbol, trade_id
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_trades_id ON trades(symbol, trade_id) WHERE trade_id > 0;
`)
	return err
}

func migrateReadIndexes(ctx context.Context, tx *sql.Tx) error {
	if err := addColumnIfMissing(ctx, tx, "open_interest", "open_interest_value", "REAL DEFAULT 0"); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades(symbol, timestamp);
CREATE INDEX IF NOT EXISTS idx_orderbook_symbol_ts ON orderbook(symbol, timestamp);
CREATE INDEX IF NOT EXISTS idx_ticker_symbol_ts ON ticker_24h(symbol, timestamp);
CREATE INDEX IF NOT EXISTS idx_oi_symbol_ts ON open_interest(symbol, timestamp);
CREATE INDEX IF NOT EXISTS idx_fr_symbol_ts ON funding_rate(symbol, timestamp);
CREATE INDEX IF NOT EXISTS idx_lsr_symbol_ts ON long_short_ratio(symbol, timestamp);
CREATE INDEX IF NOT EXISTS idx_ttp_symbol_ts ON top_trader_position(symbol, timestamp);
`)
	return err
}
