package container

import (
	"mdcollector/internal/application/port"
	"mdcollector/internal/application/service"
)

// Container 应用层服务容器，服务按需构建并复用
type Container struct {
	repo      port.Repository
	publisher port.IndicatorPublisher
	window    int

	indicatorService *service.IndicatorService
	backfillers      map[port.KlineSource]*service.Backfiller
}

// New wraps repo. publisher may be nil, in which case indicators are computed
// on demand only.
func New(repo port.Repository, publisher port.IndicatorPublisher, indicatorWindow int) *Container {
	return &Container{
		repo:        repo,
		publisher:   publisher,
		window:      indicatorWindow,
		backfillers: make(map[port.KlineSource]*service.Backfiller),
	}
}

func (c *Container) Repository() port.Repository {
	return c.repo
}

func (c *Container) IndicatorService() *service.IndicatorService {
	if c.indicatorService == nil {
		c.indicatorService = service.NewIndicatorService(c.repo, c.publisher, c.window)
	}
	return c.indicatorService
}

// Backfiller returns the backfiller for source; cfg is used on first call only.
func (c *Container) Backfiller(source port.KlineSource, cfg service.BackfillConfig) *service.Backfiller {
	b, ok := c.backfillers[source]
	if !ok {
		b = service.NewBackfiller(source, c.repo, cfg)
		c.backfillers[source] = b
	}
	return b
}

func (c *Container) Close() error {
	return c.repo.Close()
}
