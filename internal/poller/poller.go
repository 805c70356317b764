package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/clambin/irrigator/internal/remotestate"
)

// Fetcher retrieves the coordinator's state record.
type Fetcher interface {
	Fetch(ctx context.Context) (remotestate.Record, error)
}

// Applier stores a received record.
type Applier interface {
	ApplyIncoming(remotestate.Record) remotestate.Snapshot
}

// LinkReporter receives the outcome of each fetch.
type LinkReporter interface {
	Report(connected bool)
}

// Poller periodically fetches the coordinator's state and applies it to the store.
// A failed fetch leaves the store unchanged. There is no backoff: the next interval simply tries again.
type Poller struct {
	Fetcher  Fetcher
	Store    Applier
	Link     LinkReporter
	interval time.Duration
	logger   *slog.Logger
	refresh  chan struct{}
}

func New(fetcher Fetcher, store Applier, link LinkReporter, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		Fetcher:  fetcher,
		Store:    store,
		Link:     link,
		interval: interval,
		logger:   logger,
		refresh:  make(chan struct{}, 1),
	}
}

func (p *Poller) Run(ctx context.Context) error {
	p.logger.Debug("started", slog.Duration("interval", p.interval))
	defer p.logger.Debug("stopped")

	timer := time.NewTicker(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-p.refresh:
		}

		if err := p.poll(ctx); err != nil {
			p.logger.Error("failed to get coordinator state", slog.Any("err", err))
		}
	}
}

// Refresh requests an immediate poll. It doesn't block: a pending request absorbs new ones.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

func (p *Poller) poll(ctx context.Context) error {
	start := time.Now()
	record, err := p.Fetcher.Fetch(ctx)
	if p.Link != nil {
		p.Link.Report(err == nil)
	}
	if err != nil {
		return err
	}
	snapshot := p.Store.ApplyIncoming(record)
	p.logger.Debug("poll completed", slog.Duration("duration", time.Since(start)), slog.Any("state", snapshot))
	return nil
}
