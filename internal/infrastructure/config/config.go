package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"mdcollector/internal/domain/model"
)

type Config struct {
	App struct {
		LogLevel string `toml:"log_level"`
		// 收线后在控制台打印指标
		PrintIndicators bool `toml:"print_indicators"`
	} `toml:"app"`

	Symbols struct {
		List []string `toml:"list"`
	} `toml:"symbols"`

	Klines struct {
		Intervals []string `toml:"intervals"`
		// 覆盖默认回补条数，key 为周期
		BackfillLimits     map[string]int `toml:"backfill_limits"`
		BackfillTimeoutSec int            `toml:"backfill_timeout_sec"`
		BackfillDelayMs    int            `toml:"backfill_delay_ms"`
		IndicatorWindow    int            `toml:"indicator_window"`
	} `toml:"klines"`

	Binance struct {
		WsURL          string  `toml:"ws_url"`
		SpotURL        string  `toml:"spot_url"`
		FuturesURL     string  `toml:"futures_url"`
		FuturesEnabled bool    `toml:"futures_enabled"`
		TimeoutSec     int     `toml:"timeout_sec"`
		RateLimit      float64 `toml:"rate_limit"` // requests per second
		Burst          int     `toml:"burst"`
	} `toml:"binance"`

	Ingest struct {
		StartDelayMs      int `toml:"start_delay_ms"`
		PollStaggerMs     int `toml:"poll_stagger_ms"`
		ShutdownGraceSec  int `toml:"shutdown_grace_sec"`
		BackoffInitialSec int `toml:"backoff_initial_sec"`
		BackoffMaxSec     int `toml:"backoff_max_sec"`
		TickerPeriodSec   int `toml:"ticker_period_sec"`
		FuturesPeriodSec  int `toml:"futures_period_sec"`
		RetryDelaySec     int `toml:"retry_delay_sec"`
	} `toml:"ingest"`

	Storage struct {
		SQLite struct {
			Path string `toml:"path"`
		} `toml:"sqlite"`

		Redis struct {
			Enabled  bool   `toml:"enabled"`
			Addr     string `toml:"addr"`
			Password string `toml:"password"`
			DB       int    `toml:"db"`
			Prefix   string `toml:"prefix"`
			TTLSec   int    `toml:"ttl_sec"`
		} `toml:"redis"`

		Postgres struct {
			Enabled bool   `toml:"enabled"`
			DSN     string `toml:"dsn"`
		} `toml:"postgres"`

		Breaker struct {
			TripFailures   uint32 `toml:"trip_failures"`
			OpenTimeoutSec int    `toml:"open_timeout_sec"`
			WriteTimeoutMs int    `toml:"write_timeout_ms"`
		} `toml:"breaker"`
	} `toml:"storage"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`

	intervals []model.Interval
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes a config document held in memory.
func Parse(doc string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(doc, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if len(cfg.Klines.Intervals) == 0 {
		for _, iv := range model.AllIntervals {
			cfg.Klines.Intervals = append(cfg.Klines.Intervals, string(iv))
		}
	}
	if cfg.Klines.BackfillTimeoutSec <= 0 {
		cfg.Klines.BackfillTimeoutSec = 30
	}
	if cfg.Klines.BackfillDelayMs <= 0 {
		cfg.Klines.BackfillDelayMs = 500
	}
	if cfg.Klines.IndicatorWindow <= 0 {
		cfg.Klines.IndicatorWindow = 200
	}

	if cfg.Binance.WsURL == "" {
		cfg.Binance.WsURL = "wss://stream.binance.com:9443"
	}
	if cfg.Binance.SpotURL == "" {
		cfg.Binance.SpotURL = "https://api.binance.com"
	}
	if cfg.Binance.FuturesURL == "" {
		cfg.Binance.FuturesURL = "https://fapi.binance.com"
	}
	if cfg.Binance.TimeoutSec <= 0 {
		cfg.Binance.TimeoutSec = 10
	}
	if cfg.Binance.RateLimit <= 0 {
		cfg.Binance.RateLimit = 10
	}
	if cfg.Binance.Burst <= 0 {
		cfg.Binance.Burst = 5
	}

	if cfg.Ingest.StartDelayMs <= 0 {
		cfg.Ingest.StartDelayMs = 1000
	}
	if cfg.Ingest.PollStaggerMs <= 0 {
		cfg.Ingest.PollStaggerMs = 1000
	}
	if cfg.Ingest.ShutdownGraceSec <= 0 {
		cfg.Ingest.ShutdownGraceSec = 5
	}
	if cfg.Ingest.BackoffInitialSec <= 0 {
		cfg.Ingest.BackoffInitialSec = 5
	}
	if cfg.Ingest.BackoffMaxSec <= 0 {
		cfg.Ingest.BackoffMaxSec = 60
	}
	if cfg.Ingest.TickerPeriodSec <= 0 {
		cfg.Ingest.TickerPeriodSec = 60
	}
	if cfg.Ingest.FuturesPeriodSec <= 0 {
		cfg.Ingest.FuturesPeriodSec = 300
	}
	if cfg.Ingest.RetryDelaySec <= 0 {
		cfg.Ingest.RetryDelaySec = 60
	}

	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "crypto_data.db"
	}
	if cfg.Storage.Redis.Addr == "" {
		cfg.Storage.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "mdc"
	}
	if cfg.Storage.Redis.TTLSec <= 0 {
		cfg.Storage.Redis.TTLSec = 3600
	}
	if cfg.Storage.Breaker.TripFailures == 0 {
		cfg.Storage.Breaker.TripFailures = 5
	}
	if cfg.Storage.Breaker.OpenTimeoutSec <= 0 {
		cfg.Storage.Breaker.OpenTimeoutSec = 30
	}
	if cfg.Storage.Breaker.WriteTimeoutMs <= 0 {
		cfg.Storage.Breaker.WriteTimeoutMs = 2000
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9108"
	}
}

const (
	minStartDelayMs    = 1000
	minBackfillDelayMs = 500
)

func validate(cfg *Config) error {
	cfg.Symbols.List = normalizeSymbols(cfg.Symbols.List)
	if len(cfg.Symbols.List) == 0 {
		return errors.New("symbols.list is empty")
	}

	cfg.intervals = cfg.intervals[:0]
	seen := map[model.Interval]struct{}{}
	for _, s := range cfg.Klines.Intervals {
		iv, err := model.ParseInterval(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("klines.intervals: %w", err)
		}
		if _, ok := seen[iv]; ok {
			continue
		}
		seen[iv] = struct{}{}
		cfg.intervals = append(cfg.intervals, iv)
	}
	for k, n := range cfg.Klines.BackfillLimits {
		if _, err := model.ParseInterval(k); err != nil {
			return fmt.Errorf("klines.backfill_limits: %w", err)
		}
		if n <= 0 || n > 1000 {
			return fmt.Errorf("klines.backfill_limits.%s: %d out of range 1..1000", k, n)
		}
	}

	// 交易所限频下限
	if cfg.Klines.BackfillDelayMs < minBackfillDelayMs {
		return fmt.Errorf("klines.backfill_delay_ms: %d below %d", cfg.Klines.BackfillDelayMs, minBackfillDelayMs)
	}
	if cfg.Ingest.StartDelayMs < minStartDelayMs {
		return fmt.Errorf("ingest.start_delay_ms: %d below %d", cfg.Ingest.StartDelayMs, minStartDelayMs)
	}
	if cfg.Ingest.PollStaggerMs < minStartDelayMs {
		return fmt.Errorf("ingest.poll_stagger_ms: %d below %d", cfg.Ingest.PollStaggerMs, minStartDelayMs)
	}

	if cfg.Ingest.BackoffMaxSec < cfg.Ingest.BackoffInitialSec {
		return errors.New("ingest.backoff_max_sec below backoff_initial_sec")
	}
	if strings.TrimSpace(cfg.Storage.SQLite.Path) == "" {
		return errors.New("storage.sqlite.path is empty")
	}
	if cfg.Storage.Postgres.Enabled && strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
		return errors.New("storage.postgres.dsn empty but enabled")
	}
	return nil
}

// normalizeSymbols lowercases, trims and de-duplicates; stream names are lowercase.
func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToLower(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Intervals returns the validated kline intervals in configured order.
func (c *Config) Intervals() []model.Interval { return c.intervals }

// BackfillLimits returns the per-interval overrides keyed by parsed interval.
func (c *Config) BackfillLimits() map[model.Interval]int {
	out := make(map[model.Interval]int, len(c.Klines.BackfillLimits))
	for k, n := range c.Klines.BackfillLimits {
		out[model.Interval(k)] = n
	}
	return out
}

func ms(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
func sec(n int) time.Duration { return time.Duration(n) * time.Second }

func (c *Config) BackfillTimeout() time.Duration { return sec(c.Klines.BackfillTimeoutSec) }
func (c *Config) BackfillDelay() time.Duration   { return ms(c.Klines.BackfillDelayMs) }
func (c *Config) HTTPTimeout() time.Duration     { return sec(c.Binance.TimeoutSec) }
func (c *Config) StartDelay() time.Duration      { return ms(c.Ingest.StartDelayMs) }
func (c *Config) PollStagger() time.Duration     { return ms(c.Ingest.PollStaggerMs) }
func (c *Config) ShutdownGrace() time.Duration   { return sec(c.Ingest.ShutdownGraceSec) }
func (c *Config) BackoffInitial() time.Duration  { return sec(c.Ingest.BackoffInitialSec) }
func (c *Config) BackoffMax() time.Duration      { return sec(c.Ingest.BackoffMaxSec) }
func (c *Config) TickerPeriod() time.Duration    { return sec(c.Ingest.TickerPeriodSec) }
func (c *Config) FuturesPeriod() time.Duration   { return sec(c.Ingest.FuturesPeriodSec) }
func (c *Config) RetryDelay() time.Duration      { return sec(c.Ingest.RetryDelaySec) }
func (c *Config) RedisTTL() time.Duration        { return sec(c.Storage.Redis.TTLSec) }
func (c *Config) BreakerOpenTimeout() time.Duration {
	return sec(c.Storage.Breaker.OpenTimeoutSec)
}
func (c *Config) MirrorWriteTimeout() time.Duration {
	return ms(c.Storage.Breaker.WriteTimeoutMs)
}
