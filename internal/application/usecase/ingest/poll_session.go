package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"mdcollector/internal/application/service"
)

const (
	DefaultTickerPeriod  = 60 * time.Second
	DefaultFuturesPeriod = 300 * time.Second
	DefaultRetryDelay    = 60 * time.Second
)

// PollFunc fetches one sample and stores it.
type PollFunc func(ctx context.Context) error

// PollJob 定时拉取任务
type PollJob struct {
	Name       string // e.g. "ethusdt/ticker_24h"
	Period     time.Duration
	RetryDelay time.Duration
	Stagger    time.Duration // initial delay before the first fetch
	Fetch      PollFunc
}

// PollSession runs one PollJob on a fixed period.
type PollSession struct {
	job PollJob
	obs Observer
}

func NewPollSession(job PollJob, obs Observer) *PollSession {
	if job.Period <= 0 {
		job.Period = DefaultTickerPeriod
	}
	if job.RetryDelay <= 0 {
		job.RetryDelay = DefaultRetryDelay
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &PollSession{job: job, obs: obs}
}

func (p *PollSession) Name() string { return p.job.Name }

// Run fetches, then sleeps the period on success or min(retry, period) on
// failure, until ctx is cancelled.
func (p *PollSession) Run(ctx context.Context) error {
	if service.Sleep(ctx, p.job.Stagger) != nil {
		return nil
	}
	for {
		err := p.job.Fetch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		p.obs.PollCompleted(p.job.Name, err)

		wait := p.job.Period
		if err != nil {
			wait = min(p.job.RetryDelay, p.job.Period)
			log.Warn().Err(err).Str("job", p.job.Name).Dur("retry_in", wait).Msg("poll failed")
		}
		if service.Sleep(ctx, wait) != nil {
			return nil
		}
	}
}
