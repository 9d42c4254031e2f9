package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Poller runs the background reconciliation sweeps on fixed intervals.
// Each job gets a fresh context bounded by the interval so a stuck
// provider cannot pile up overlapping sweeps forever.
type Poller struct {
	cron *cron.Cron
	log  *slog.Logger
}

func New(log *slog.Logger) *Poller {
	return &Poller{
		cron: cron.New(),
		log:  log,
	}
}

// Add registers a named sweep. The function's error is logged, never fatal.
func (p *Poller) Add(name string, interval time.Duration, fn func(ctx context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("interval for %s must be positive", name)
	}
	_, err := p.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			p.log.Error("poll sweep failed", "job", name, "error", err)
			return
		}
		p.log.Debug("poll sweep done", "job", name, "took", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

func (p *Poller) Start() {
	p.cron.Start()
}

// Stop halts scheduling and waits for in-flight sweeps to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}
