// Package scheduler holds the thin entrypoints that external cron triggers
// (or the in-process Cron) call: drain the queue, run the recurring-rule
// detector, generate the weekly digest.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/budgetbell/internal/detector"
	"github.com/dukerupert/budgetbell/internal/push"
)

// ErrBusy is returned when another run of the same entrypoint holds the lock.
var ErrBusy = errors.New("scheduler: another run is in progress")

// BatchProcessor processes one batch of due jobs.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context) (push.Result, error)
	BatchSize() int
}

type RecurringRunner interface {
	Run(ctx context.Context, today time.Time) (detector.RecurringResult, error)
}

type DigestRunner interface {
	Run(ctx context.Context, now time.Time) (int, error)
}

// DrainConfig bounds one Drain call.
type DrainConfig struct {
	// Threshold stops the loop once a batch processes fewer jobs than this.
	// Zero means the processor's batch size.
	Threshold int
	MaxRounds int
	Budget    time.Duration
}

// DrainResult accumulates the batches of one Drain call.
type DrainResult struct {
	push.Result
	Rounds int `json:"rounds"`
}

type Runner struct {
	dispatcher BatchProcessor
	recurring  RecurringRunner
	digest     DigestRunner
	locker     Locker
	cfg        DrainConfig
	logger     *slog.Logger
	now        func() time.Time
}

func NewRunner(dispatcher BatchProcessor, recurring RecurringRunner, digest DigestRunner, locker Locker, cfg DrainConfig, logger *slog.Logger) *Runner {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 20
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 50 * time.Second
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Runner{
		dispatcher: dispatcher,
		recurring:  recurring,
		digest:     digest,
		locker:     locker,
		cfg:        cfg,
		logger:     logger.With("component", "scheduler"),
		now:        time.Now,
	}
}

func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Drain calls the dispatcher repeatedly until a batch comes back short, a
// call errors, MaxRounds is reached or the wall-clock budget runs out. Jobs
// left over when the budget expires are picked up by the next run.
func (r *Runner) Drain(ctx context.Context) (DrainResult, error) {
	var total DrainResult

	release, err := r.lock(ctx, "drain", r.cfg.Budget+time.Minute)
	if err != nil {
		return total, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Budget)
	defer cancel()

	threshold := r.cfg.Threshold
	if threshold <= 0 {
		threshold = r.dispatcher.BatchSize()
	}

	for total.Rounds < r.cfg.MaxRounds {
		res, err := r.dispatcher.ProcessBatch(ctx)
		total.Rounds++
		total.Processed += res.Processed
		total.Sent += res.Sent
		total.Failed += res.Failed
		total.Retried += res.Retried
		total.Deferred += res.Deferred

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
				r.logger.Warn("drain budget exhausted", "rounds", total.Rounds, "processed", total.Processed)
				break
			}
			return total, err
		}
		if res.Processed < threshold {
			break
		}
	}

	r.logger.Info("drain finished",
		"rounds", total.Rounds,
		"processed", total.Processed,
		"sent", total.Sent,
		"failed", total.Failed,
	)
	return total, nil
}

// RunRecurring evaluates recurring rules for today's UTC date.
func (r *Runner) RunRecurring(ctx context.Context) (detector.RecurringResult, time.Time, error) {
	today := detector.Date(r.now())
	release, err := r.lock(ctx, "recurring", 10*time.Minute)
	if err != nil {
		return detector.RecurringResult{}, today, err
	}
	defer release()

	res, err := r.recurring.Run(ctx, today)
	return res, today, err
}

// RunDigest generates the weekly digest.
func (r *Runner) RunDigest(ctx context.Context) (int, error) {
	release, err := r.lock(ctx, "digest", 10*time.Minute)
	if err != nil {
		return 0, err
	}
	defer release()

	return r.digest.Run(ctx, r.now())
}

func (r *Runner) lock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	release, ok, err := r.locker.Acquire(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.logger.Info("run skipped, lock held", "entrypoint", name)
		return nil, ErrBusy
	}
	return release, nil
}
