package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	appcontainer "mdcollector/internal/application/container"
	"mdcollector/internal/application/port"
	"mdcollector/internal/application/service"
	"mdcollector/internal/application/usecase/ingest"
	"mdcollector/internal/domain/model"
	"mdcollector/internal/infrastructure/config"
	"mdcollector/internal/infrastructure/exchange/binance"
	"mdcollector/internal/infrastructure/metrics"
	"mdcollector/internal/infrastructure/storage/composite"
	pgrepo "mdcollector/internal/infrastructure/storage/postgres"
	redisrepo "mdcollector/internal/infrastructure/storage/redis"
	sqliterepo "mdcollector/internal/infrastructure/storage/sqlite"
	"mdcollector/internal/interfaces/console"
)

const statsEvery = 5 * time.Minute

var statsTables = []string{"trades", "orderbook", "klines", "ticker_24h", "open_interest", "funding_rate"}

// Container 包含所有应用依赖
type Container struct {
	cfg *config.Config

	sqliteRepo *sqliterepo.Repo
	redisRepo  *redisrepo.Repo
	pgRepo     *pgrepo.Repo
	store      *composite.Repo

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	binance  *binance.Client
	services *appcontainer.Container

	closeOnce   sync.Once
	closerChain []func() error
}

// New 创建新的容器实例
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		registry:    prometheus.NewRegistry(),
		closerChain: make([]func() error, 0),
	}
	c.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.metrics = metrics.New(c.registry)

	if err := c.initStorage(ctx); err != nil {
		// 清理已初始化的资源
		_ = c.Close()
		return nil, err
	}

	c.binance = binance.NewClient(binance.Options{
		SpotURL:    cfg.Binance.SpotURL,
		FuturesURL: cfg.Binance.FuturesURL,
		Timeout:    cfg.HTTPTimeout(),
		RateLimit:  cfg.Binance.RateLimit,
		Burst:      cfg.Binance.Burst,
	})

	c.services = appcontainer.New(c.store, c.indicatorPublisher(), cfg.Klines.IndicatorWindow)
	return c, nil
}

// indicatorPublisher fans snapshots out to Redis and/or the console; nil when
// neither is configured.
func (c *Container) indicatorPublisher() port.IndicatorPublisher {
	var pubs fanout
	if c.redisRepo != nil {
		pubs = append(pubs, c.redisRepo)
	}
	if c.cfg.App.PrintIndicators {
		pubs = append(pubs, console.NewSink(os.Stdout))
	}
	if len(pubs) == 0 {
		return nil
	}
	return c.metrics.CountPublished(pubs)
}

type fanout []port.IndicatorPublisher

func (f fanout) PublishIndicators(ctx context.Context, symbol string, interval model.Interval, payload []byte) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishIndicators(ctx, symbol, interval, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// initStorage opens the primary store and every enabled mirror.
func (c *Container) initStorage(ctx context.Context) error {
	if err := c.initSQLite(); err != nil {
		return fmt.Errorf("sqlite init failed: %w", err)
	}
	if c.cfg.Storage.Redis.Enabled {
		if err := c.initRedis(ctx); err != nil {
			return fmt.Errorf("redis init failed: %w", err)
		}
	}
	if c.cfg.Storage.Postgres.Enabled {
		if err := c.initPostgres(ctx); err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
	}

	c.store = composite.New(c.sqliteRepo, composite.BreakerRule{
		TripConsecutiveFailures: c.cfg.Storage.Breaker.TripFailures,
		OpenTimeout:             c.cfg.BreakerOpenTimeout(),
		WriteTimeout:            c.cfg.MirrorWriteTimeout(),
	})
	c.store.OnMirrorError = c.metrics.MirrorFailed
	if c.redisRepo != nil {
		c.store.AddMirror("redis", c.redisRepo)
	}
	if c.pgRepo != nil {
		c.store.AddMirror("postgres", c.pgRepo)
	}
	return nil
}

// initSQLite 初始化 SQLite 数据库
func (c *Container) initSQLite() error {
	repo, err := sqliterepo.New(c.cfg.Storage.SQLite.Path)
	if err != nil {
		return err
	}
	c.sqliteRepo = repo

	// 注册关闭回调
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})

	log.Info().
		Str("path", repo.Path()).
		Int("schema_version", sqliterepo.SchemaVersion()).
		Msg("sqlite initialized")
	return nil
}

// initRedis 初始化 Redis 连接
func (c *Container) initRedis(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rc := c.cfg.Storage.Redis
	rdb, err := redisrepo.Dial(pingCtx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return err
	}
	c.redisRepo = redisrepo.New(rdb, rc.Prefix, c.cfg.RedisTTL())

	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().Str("addr", rc.Addr).Int("db", rc.DB).Msg("redis initialized")
	return nil
}

// initPostgres 初始化 Postgres 归档
func (c *Container) initPostgres(ctx context.Context) error {
	migrateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	repo, err := pgrepo.New(migrateCtx, c.cfg.Storage.Postgres.DSN)
	if err != nil {
		return err
	}
	c.pgRepo = repo

	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return repo.Close()
	})

	log.Info().Msg("postgres initialized")
	return nil
}

// Config 获取配置
func (c *Container) Config() *config.Config { return c.cfg }

// Store returns the composite store every session writes to.
func (c *Container) Store() port.Repository { return c.services.Repository() }

// SQLiteRepo 获取 SQLite 仓储
func (c *Container) SQLiteRepo() *sqliterepo.Repo { return c.sqliteRepo }

func (c *Container) Metrics() *metrics.Metrics { return c.metrics }

func (c *Container) Registry() *prometheus.Registry { return c.registry }

func (c *Container) Services() *appcontainer.Container { return c.services }

// Supervisor builds the ingestion supervisor from config.
func (c *Container) Supervisor() *ingest.Supervisor {
	cfg := c.cfg
	backfiller := c.services.Backfiller(c.binance, service.BackfillConfig{
		Intervals: cfg.Intervals(),
		Limits:    cfg.BackfillLimits(),
		Timeout:   cfg.BackfillTimeout(),
		Delay:     cfg.BackfillDelay(),
	})

	deps := ingest.SupervisorDeps{
		Catalog:    binance.NewCatalog(),
		Dialer:     binance.NewDialer(cfg.Binance.WsURL),
		Store:      c.store,
		Tickers:    c.binance,
		Backfiller: backfiller,
		Closed:     c.services.IndicatorService(),
		Observer:   c.metrics,
	}
	if cfg.Binance.FuturesEnabled {
		deps.Futures = c.binance
	}

	return ingest.NewSupervisor(ingest.SupervisorConfig{
		Symbols:       cfg.Symbols.List,
		Intervals:     cfg.Intervals(),
		StartDelay:    cfg.StartDelay(),
		PollStagger:   cfg.PollStagger(),
		ShutdownGrace: cfg.ShutdownGrace(),
		Backoff:       ingest.Backoff{Initial: cfg.BackoffInitial(), Max: cfg.BackoffMax()},
		TickerPeriod:  cfg.TickerPeriod(),
		FuturesPeriod: cfg.FuturesPeriod(),
		RetryDelay:    cfg.RetryDelay(),
	}, deps)
}

// Run starts ingestion, the metrics endpoint and periodic row-count logging,
// and blocks until ctx is done.
func (c *Container) Run(ctx context.Context) error {
	sup := c.Supervisor()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })

	if c.cfg.Metrics.Enabled {
		g.Go(func() error {
			if err := metrics.Serve(gctx, c.cfg.Metrics.Addr, c.registry); err != nil {
				log.Error().Err(err).Str("addr", c.cfg.Metrics.Addr).Msg("metrics server stopped")
			}
			return nil
		})
	}

	g.Go(func() error {
		t := time.NewTicker(statsEvery)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				c.logStats(gctx)
			}
		}
	})

	err := g.Wait()
	c.logStats(context.Background())
	return err
}

func (c *Container) logStats(ctx context.Context) {
	counts := make([]int64, len(statsTables))
	for i, table := range statsTables {
		n, err := c.sqliteRepo.Count(ctx, table)
		if err != nil {
			log.Warn().Err(err).Str("table", table).Msg("count rows failed")
			return
		}
		counts[i] = n
	}

	ev := log.Info()
	for i, table := range statsTables {
		ev = ev.Int64(table, counts[i])
	}
	ev.Msg("store row counts")
}

// Indicators computes the current indicator set for one series on demand.
func (c *Container) Indicators(ctx context.Context, symbol string, interval model.Interval) (service.IndicatorSnapshot, error) {
	return c.services.IndicatorService().Compute(ctx, symbol, interval)
}

// Close 关闭所有资源（按后进先出顺序）
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		log.Info().Msg("container closed")
	})
	return err
}
