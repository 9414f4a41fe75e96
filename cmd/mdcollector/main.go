package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"mdcollector/internal/application/usecase/ingest"
	"mdcollector/internal/infrastructure/config"
	"mdcollector/internal/infrastructure/container"
	"mdcollector/internal/infrastructure/logger"
)

func main() {
	logger.Setup("info")

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := container.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init container failed")
	}
	defer c.Close()

	log.Info().
		Str("config", *configPath).
		Strs("symbols", cfg.Symbols.List).
		Int("intervals", len(cfg.Intervals())).
		Bool("futures", cfg.Binance.FuturesEnabled).
		Bool("redis", cfg.Storage.Redis.Enabled).
		Bool("postgres", cfg.Storage.Postgres.Enabled).
		Msg("mdcollector started")

	if err := c.Run(ctx); err != nil {
		if errors.Is(err, ingest.ErrShutdownTimeout) {
			log.Warn().Err(err).Msg("forced shutdown")
			return
		}
		log.Error().Err(err).Msg("collector exited")
	}
}
