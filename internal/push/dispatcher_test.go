package push

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/budgetbell/internal/database"
	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/store"
)

type fakeSender struct {
	unconfigured bool
	results      map[string]error
	calls        []string
}

func (f *fakeSender) Configured() bool { return !f.unconfigured }

func (f *fakeSender) Send(ctx context.Context, sub model.Subscription, p Payload) error {
	f.calls = append(f.calls, sub.Endpoint)
	return f.results[sub.Endpoint]
}

type fakeMailer struct {
	sent []string
}

func (f *fakeMailer) Configured() bool { return true }

func (f *fakeMailer) SendNotification(ctx context.Context, to, subject, message, deepLink, tag string) error {
	f.sent = append(f.sent, to)
	return errors.New("provider down")
}

type recordingHub struct {
	got []model.InAppNotification
}

func (h *recordingHub) Notify(userID int64, n model.InAppNotification) {
	h.got = append(h.got, n)
}

type clock struct {
	t time.Time
}

func (c *clock) Now() time.Time { return c.t }

type fixture struct {
	stores Stores
	sender *fakeSender
	clock  *clock
	disp   *Dispatcher
	userID int64
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c := &clock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	stores := Stores{
		Queue:         store.NewQueueStore(db),
		Subscriptions: store.NewSubscriptionStore(db),
		Notifications: store.NewNotificationStore(db),
		Preferences:   store.NewPreferenceStore(db),
		Users:         store.NewUserStore(db),
	}
	stores.Queue.SetClock(c.Now)

	user, err := stores.Users.Create(context.Background(), "ana@example.com", "en", model.PlanFree)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	sender := &fakeSender{results: map[string]error{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(c.Now)}, opts...)
	return &fixture{
		stores: stores,
		sender: sender,
		clock:  c,
		disp:   NewDispatcher(stores, sender, logger, opts...),
		userID: user.ID,
	}
}

func (f *fixture) subscribe(t *testing.T, endpoint string) *model.Subscription {
	t.Helper()
	sub, err := f.stores.Subscriptions.Upsert(context.Background(), f.userID, endpoint,
		model.SubscriptionKeys{P256dh: "p", Auth: "a"}, "test")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return sub
}

func (f *fixture) enqueue(t *testing.T, job model.Job) *model.Job {
	t.Helper()
	job.UserID = f.userID
	if job.NotificationType == "" {
		job.NotificationType = model.NotifTypeBudgetWarning
	}
	if job.Data.DeepLink == "" {
		job.Data.DeepLink = "/budgets/1"
	}
	j, err := f.stores.Queue.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return j
}

func (f *fixture) job(t *testing.T, id int64) *model.Job {
	t.Helper()
	j, err := f.stores.Queue.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return j
}

func TestFanOutDeactivatesGoneSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.subscribe(t, "https://push.example.com/a")
	gone := f.subscribe(t, "https://push.example.com/gone")
	c := f.subscribe(t, "https://push.example.com/c")
	f.sender.results[gone.Endpoint] = ErrSubscriptionGone
	f.sender.results[c.Endpoint] = errors.New("timeout")

	job := f.enqueue(t, model.Job{Title: "Groceries", Message: "81%", SendPush: true})

	res, err := f.disp.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if res.Processed != 1 || res.Sent != 1 {
		t.Errorf("result = %+v, want 1 processed, 1 sent", res)
	}
	if len(f.sender.calls) != 3 {
		t.Errorf("sends = %d, want 3 (no short-circuit)", len(f.sender.calls))
	}

	active, err := f.stores.Subscriptions.ListActive(ctx, f.userID)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 || active[0].ID != a.ID || active[1].ID != c.ID {
		t.Errorf("active = %+v, want subscriptions %d and %d", active, a.ID, c.ID)
	}

	got := f.job(t, job.ID)
	if got.Status != model.JobSent || got.Attempts != 1 {
		t.Errorf("job status/attempts = %s/%d, want sent/1", got.Status, got.Attempts)
	}

	exists, err := f.stores.Notifications.ExistsForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Error("expected in-app notification for sent job")
	}
}

func TestBackoffAndDeadLetter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.clock.t

	job := f.enqueue(t, model.Job{Title: "t", Message: "m", SendPush: true, MaxAttempts: 3})

	// No subscriptions: every attempt fails without touching the transport.
	wantNext := []time.Duration{time.Minute, 3 * time.Minute}
	for i, offset := range wantNext {
		res, err := f.disp.ProcessBatch(ctx)
		if err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
		if res.Retried != 1 {
			t.Fatalf("run %d: result = %+v, want 1 retried", i+1, res)
		}
		got := f.job(t, job.ID)
		if got.Status != model.JobPending || got.Attempts != i+1 {
			t.Fatalf("run %d: status/attempts = %s/%d", i+1, got.Status, got.Attempts)
		}
		if !got.ScheduledFor.Equal(start.Add(offset)) {
			t.Errorf("run %d: scheduled_for = %v, want %v", i+1, got.ScheduledFor, start.Add(offset))
		}

		// Not due yet: nothing happens.
		if res, _ := f.disp.ProcessBatch(ctx); res.Processed != 0 {
			t.Errorf("run %d: processed %d jobs before backoff elapsed", i+1, res.Processed)
		}
		f.clock.t = got.ScheduledFor
	}

	res, err := f.disp.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("final run: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("result = %+v, want 1 failed", res)
	}
	got := f.job(t, job.ID)
	if got.Status != model.JobFailed || got.Attempts != 3 {
		t.Errorf("status/attempts = %s/%d, want failed/3", got.Status, got.Attempts)
	}

	f.clock.t = f.clock.t.Add(24 * time.Hour)
	if res, _ := f.disp.ProcessBatch(ctx); res.Processed != 0 {
		t.Errorf("dead-lettered job processed again: %+v", res)
	}
	if len(f.sender.calls) != 0 {
		t.Errorf("transport called %d times with no subscriptions", len(f.sender.calls))
	}
}

func TestBackoffMeasuredFromRunTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := f.enqueue(t, model.Job{Title: "t", Message: "m", SendPush: true})
	late := job.ScheduledFor.Add(10 * time.Minute)
	f.clock.t = late

	if res, err := f.disp.ProcessBatch(ctx); err != nil || res.Retried != 1 {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	got := f.job(t, job.ID)
	if want := late.Add(time.Minute); !got.ScheduledFor.Equal(want) {
		t.Errorf("scheduled_for = %v, want %v", got.ScheduledFor, want)
	}
}

func TestInAppOnlyJobSucceedsAndBroadcasts(t *testing.T) {
	hub := &recordingHub{}
	f := newFixture(t, WithBroadcaster(hub))
	ctx := context.Background()

	job := f.enqueue(t, model.Job{
		NotificationType: model.NotifTypeBudgetOverrun, Title: "Over", Message: "m",
		Data: model.JobData{DeepLink: "/budgets/9", Extra: map[string]any{"budget_id": 9, "threshold": "exceeded"}},
	})

	res, err := f.disp.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if res.Sent != 1 {
		t.Fatalf("result = %+v, want 1 sent", res)
	}

	list, err := f.stores.Notifications.ListByUser(ctx, f.userID, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("notifications = %d, want 1", len(list))
	}
	n := list[0]
	if n.Type != model.NotifTypeBudgetAlert {
		t.Errorf("type = %q, want budget_alert", n.Type)
	}
	if n.Metadata["job_id"] != float64(job.ID) {
		t.Errorf("metadata job_id = %v, want %d", n.Metadata["job_id"], job.ID)
	}
	if n.Metadata["threshold"] != "exceeded" || n.Metadata["deepLink"] != "/budgets/9" {
		t.Errorf("metadata = %v, want job data copied", n.Metadata)
	}
	if len(hub.got) != 1 {
		t.Errorf("broadcasts = %d, want 1", len(hub.got))
	}
}

func TestMirrorIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := f.enqueue(t, model.Job{Title: "t", Message: "m"})
	// Simulate an earlier run that mirrored the job but crashed before MarkSent.
	if _, _, err := f.stores.Notifications.Insert(ctx, model.InAppNotification{
		UserID: f.userID, Title: "t", Message: "m", Type: model.NotifTypeBudgetAlert,
		Metadata: map[string]any{"job_id": job.ID},
	}); err != nil {
		t.Fatalf("seed notification: %v", err)
	}

	if _, err := f.disp.ProcessBatch(ctx); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	list, err := f.stores.Notifications.ListByUser(ctx, f.userID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("notifications = %d, want exactly 1 per job", len(list))
	}
	if got := f.job(t, job.ID); got.Status != model.JobSent {
		t.Errorf("status = %s, want sent", got.Status)
	}
}

func TestNotConfiguredMutatesNothing(t *testing.T) {
	f := newFixture(t)
	f.sender.unconfigured = true

	job := f.enqueue(t, model.Job{Title: "t", Message: "m", SendPush: true})
	_, err := f.disp.ProcessBatch(context.Background())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	got := f.job(t, job.ID)
	if got.Status != model.JobPending || got.Attempts != 0 || !got.ScheduledFor.Equal(job.ScheduledFor) {
		t.Errorf("job mutated: %+v", got)
	}
}

func TestQuietHoursDeferWithoutAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscribe(t, "https://push.example.com/a")

	pref := model.DefaultPreference(f.userID)
	pref.QuietHours = model.QuietHours{Enabled: true, Start: "11:00", End: "13:00"}
	if err := f.stores.Preferences.Update(ctx, pref); err != nil {
		t.Fatalf("update prefs: %v", err)
	}

	job := f.enqueue(t, model.Job{Title: "t", Message: "m", SendPush: true})
	res, err := f.disp.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if res.Deferred != 1 {
		t.Errorf("result = %+v, want 1 deferred", res)
	}
	got := f.job(t, job.ID)
	want := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	if got.Attempts != 0 || !got.ScheduledFor.Equal(want) {
		t.Errorf("attempts/scheduled_for = %d/%v, want 0/%v", got.Attempts, got.ScheduledFor, want)
	}
	if len(f.sender.calls) != 0 {
		t.Errorf("sent %d pushes during quiet hours", len(f.sender.calls))
	}
}

func TestEmailFailureDoesNotAffectJob(t *testing.T) {
	mailer := &fakeMailer{}
	f := newFixture(t, WithMailer(mailer))

	job := f.enqueue(t, model.Job{Title: "t", Message: "m", SendEmail: true})
	if _, err := f.disp.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0] != "ana@example.com" {
		t.Errorf("emails = %v, want one to ana@example.com", mailer.sent)
	}
	if got := f.job(t, job.ID); got.Status != model.JobSent {
		t.Errorf("status = %s, want sent", got.Status)
	}
}

func TestBatchSizeBoundsWork(t *testing.T) {
	f := newFixture(t, WithBatchSize(2))
	for i := 0; i < 3; i++ {
		f.enqueue(t, model.Job{Title: "t", Message: "m"})
	}
	res, err := f.disp.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if res.Processed != 2 {
		t.Errorf("processed = %d, want 2", res.Processed)
	}
	res, _ = f.disp.ProcessBatch(context.Background())
	if res.Processed != 1 {
		t.Errorf("second batch processed = %d, want 1", res.Processed)
	}
}
