package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/budgetbell/internal/detector"
	"github.com/dukerupert/budgetbell/internal/push"
)

type fakeProcessor struct {
	batchSize int
	batches   []int
	err       error
	calls     int
}

func (f *fakeProcessor) BatchSize() int { return f.batchSize }

func (f *fakeProcessor) ProcessBatch(ctx context.Context) (push.Result, error) {
	f.calls++
	if f.err != nil && f.calls == len(f.batches)+1 {
		return push.Result{}, f.err
	}
	if f.calls > len(f.batches) {
		return push.Result{}, nil
	}
	n := f.batches[f.calls-1]
	return push.Result{Processed: n, Sent: n}, nil
}

type fakeRecurring struct {
	today time.Time
}

func (f *fakeRecurring) Run(ctx context.Context, today time.Time) (detector.RecurringResult, error) {
	f.today = today
	return detector.RecurringResult{DueToday: 1}, nil
}

type fakeDigest struct{}

func (fakeDigest) Run(ctx context.Context, now time.Time) (int, error) { return 3, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDrainStopsOnShortBatch(t *testing.T) {
	p := &fakeProcessor{batchSize: 10, batches: []int{10, 10, 4, 10}}
	r := NewRunner(p, nil, nil, nil, DrainConfig{}, testLogger())

	res, err := r.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Rounds != 3 || res.Processed != 24 || res.Sent != 24 {
		t.Errorf("result = %+v, want 3 rounds and 24 processed", res)
	}
}

func TestDrainCustomThreshold(t *testing.T) {
	p := &fakeProcessor{batchSize: 10, batches: []int{6, 5, 2}}
	r := NewRunner(p, nil, nil, nil, DrainConfig{Threshold: 5}, testLogger())

	res, err := r.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Rounds != 3 {
		t.Errorf("rounds = %d, want 3", res.Rounds)
	}
}

func TestDrainStopsOnError(t *testing.T) {
	p := &fakeProcessor{batchSize: 10, batches: []int{10}, err: push.ErrNotConfigured}
	r := NewRunner(p, nil, nil, nil, DrainConfig{}, testLogger())

	res, err := r.Drain(context.Background())
	if !errors.Is(err, push.ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if res.Processed != 10 || res.Rounds != 2 {
		t.Errorf("result = %+v, want first batch counted", res)
	}
}

func TestDrainMaxRounds(t *testing.T) {
	p := &fakeProcessor{batchSize: 1, batches: []int{1, 1, 1, 1, 1}}
	r := NewRunner(p, nil, nil, nil, DrainConfig{MaxRounds: 2}, testLogger())

	res, err := r.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Rounds != 2 {
		t.Errorf("rounds = %d, want 2", res.Rounds)
	}
}

func TestDrainSkipsWhenLocked(t *testing.T) {
	locker := NewLocalLocker()
	release, ok, _ := locker.Acquire(context.Background(), "drain", time.Minute)
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}

	p := &fakeProcessor{batchSize: 10}
	r := NewRunner(p, nil, nil, locker, DrainConfig{}, testLogger())
	if _, err := r.Drain(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	if p.calls != 0 {
		t.Errorf("processor called %d times while locked", p.calls)
	}

	release()
	if _, err := r.Drain(context.Background()); err != nil {
		t.Errorf("after release: %v", err)
	}
}

func TestRunRecurringUsesUTCDate(t *testing.T) {
	rec := &fakeRecurring{}
	r := NewRunner(nil, rec, fakeDigest{}, nil, DrainConfig{}, testLogger())
	r.SetClock(func() time.Time { return time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC) })

	res, today, err := r.RunRecurring(context.Background())
	if err != nil {
		t.Fatalf("RunRecurring: %v", err)
	}
	want := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if !today.Equal(want) || !rec.today.Equal(want) {
		t.Errorf("today = %v, want %v", today, want)
	}
	if res.DueToday != 1 {
		t.Errorf("result = %+v", res)
	}

	n, err := r.RunDigest(context.Background())
	if err != nil || n != 3 {
		t.Errorf("RunDigest = %d, %v", n, err)
	}
}

func TestLocalLockerExpires(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()
	if _, ok, _ := l.Acquire(ctx, "x", time.Millisecond); !ok {
		t.Fatal("expected acquire")
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := l.Acquire(ctx, "x", time.Minute); !ok {
		t.Error("expected expired lock to be reacquired")
	}
	if _, ok, _ := l.Acquire(ctx, "x", time.Minute); ok {
		t.Error("expected held lock to refuse")
	}
}

func TestNewCronRejectsBadSpec(t *testing.T) {
	r := NewRunner(&fakeProcessor{batchSize: 1}, nil, nil, nil, DrainConfig{}, testLogger())
	if _, err := NewCron(r, Schedules{Drain: "not a spec"}, testLogger()); err == nil {
		t.Error("expected error for invalid cron spec")
	}
	c, err := NewCron(r, DefaultSchedules, testLogger())
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}
	c.Start(context.Background())
	c.Stop()
}
