package waitnotify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultBatchSize bounds how many waits one poll resumes.
const DefaultBatchSize = 100

// Poller fires due delays and resumes ready waits on a fixed interval.
type Poller struct {
	waits    *Engine
	delays   *DelayEventHelper
	topic    string
	interval time.Duration
	batch    int
}

// NewPoller creates a poller for topic. An empty topic polls every topic.
func NewPoller(waits *Engine, delays *DelayEventHelper, topic string, interval time.Duration) *Poller {
	return &Poller{
		waits:    waits,
		delays:   delays,
		topic:    topic,
		interval: interval,
		batch:    DefaultBatchSize,
	}
}

// Tick runs one poll: fire due delays, then resume ready waits until none
// are left. Returns the number of waits resumed.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	if _, err := p.delays.FireDue(ctx); err != nil {
		return 0, err
	}
	total := 0
	for {
		n, err := p.waits.ProcessReady(ctx, p.topic, p.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

// Run polls until ctx is cancelled. Store errors are logged and polling
// continues on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("poller starting", "topic", p.topic, "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("poller stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
