package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/budgetbell/internal/push"
)

// Schedules are cron specs for the in-process scheduler. An empty spec
// disables that entrypoint.
type Schedules struct {
	Drain     string
	Recurring string
	Digest    string
}

// DefaultSchedules drains every minute, checks bills daily and sends the
// digest on Monday morning (UTC).
var DefaultSchedules = Schedules{
	Drain:     "@every 1m",
	Recurring: "0 6 * * *",
	Digest:    "0 8 * * 1",
}

// Cron runs the Runner's entrypoints on a schedule inside the server
// process.
type Cron struct {
	mu     sync.Mutex
	runner *Runner
	c      *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewCron(runner *Runner, schedules Schedules, logger *slog.Logger) (*Cron, error) {
	cr := &Cron{
		runner: runner,
		c:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger.With("component", "cron"),
		ctx:    context.Background(),
	}

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"drain", schedules.Drain, func(ctx context.Context) error {
			_, err := runner.Drain(ctx)
			return err
		}},
		{"recurring", schedules.Recurring, func(ctx context.Context) error {
			_, _, err := runner.RunRecurring(ctx)
			return err
		}},
		{"digest", schedules.Digest, func(ctx context.Context) error {
			_, err := runner.RunDigest(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := cr.c.AddFunc(j.spec, cr.wrap(j.name, j.run)); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
	}
	return cr, nil
}

func (cr *Cron) wrap(name string, run func(ctx context.Context) error) func() {
	return func() {
		cr.mu.Lock()
		ctx := cr.ctx
		cr.mu.Unlock()

		err := run(ctx)
		switch {
		case err == nil, errors.Is(err, ErrBusy), errors.Is(err, context.Canceled):
		case errors.Is(err, push.ErrNotConfigured):
			cr.logger.Warn("scheduled run skipped", "entrypoint", name, "error", err)
		default:
			cr.logger.Error("scheduled run failed", "entrypoint", name, "error", err)
		}
	}
}

// Start begins running scheduled entrypoints until ctx is cancelled or Stop
// is called.
func (cr *Cron) Start(ctx context.Context) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.ctx, cr.cancel = context.WithCancel(ctx)
	cr.c.Start()
}

// Stop halts the scheduler and waits for running entrypoints to return.
func (cr *Cron) Stop() {
	cr.mu.Lock()
	cancel := cr.cancel
	cr.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-cr.c.Stop().Done()
}
