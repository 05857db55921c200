package metricproxy

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// flusher drives the periodic export of a client's registry. It ticks on
// a fixed interval by default, or follows a cron schedule when one is
// configured for coarse cadences.
type flusher struct {
	interval time.Duration
	schedule cron.Schedule
	run      func(ctx context.Context)
	logger   *slog.Logger
	done     chan struct{}
}

func newFlusher(cfg Config, run func(ctx context.Context), logger *slog.Logger) (*flusher, error) {
	f := &flusher{
		interval: cfg.FlushInterval,
		run:      run,
		logger:   logger,
		done:     make(chan struct{}),
	}
	if cfg.FlushSchedule != "" {
		schedule, err := parseSchedule(cfg.FlushSchedule)
		if err != nil {
			return nil, err
		}
		f.schedule = schedule
	}
	return f, nil
}

// start launches the flush loop. Returns immediately; the loop exits when
// ctx is cancelled and wait unblocks once the in-flight flush finished.
func (f *flusher) start(ctx context.Context) {
	go f.loop(ctx)
}

// wait blocks until the loop has exited or the timeout elapsed.
func (f *flusher) wait(timeout time.Duration) bool {
	select {
	case <-f.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (f *flusher) loop(ctx context.Context) {
	defer close(f.done)

	if f.schedule != nil {
		f.cronLoop(ctx)
		return
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.logger.Debug("flush loop shutting down")
			return
		case <-ticker.C:
			f.run(ctx)
		}
	}
}

func (f *flusher) cronLoop(ctx context.Context) {
	for {
		next := f.schedule.Next(time.Now())
		f.logger.Debug("waiting for next scheduled flush", "next_flush", next)

		select {
		case <-ctx.Done():
			f.logger.Debug("flush loop shutting down")
			return
		case <-time.After(time.Until(next)):
			f.run(ctx)
		}
	}
}
