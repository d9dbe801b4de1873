package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/budgetbell/internal/metrics"
	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/quiethours"
	"github.com/dukerupert/budgetbell/internal/store"
)

// Sender transmits one payload to one subscription.
type Sender interface {
	Configured() bool
	Send(ctx context.Context, sub model.Subscription, payload Payload) error
}

// Mailer delivers the email channel of a job.
type Mailer interface {
	Configured() bool
	SendNotification(ctx context.Context, to, subject, message, deepLink, tag string) error
}

// Broadcaster receives newly created in-app notifications.
type Broadcaster interface {
	Notify(userID int64, n model.InAppNotification)
}

// Stores groups the tables the dispatcher reads and writes.
type Stores struct {
	Queue         *store.QueueStore
	Subscriptions *store.SubscriptionStore
	Notifications *store.NotificationStore
	Preferences   *store.PreferenceStore
	Users         *store.UserStore
}

// Result summarises one batch.
type Result struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
	Deferred  int `json:"deferred"`
}

const (
	DefaultBatchSize = 50
	DefaultLease     = 5 * time.Minute
)

// Dispatcher drains due jobs from the queue.
type Dispatcher struct {
	stores    Stores
	sender    Sender
	mailer    Mailer
	hub       Broadcaster
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	batchSize int
	lease     time.Duration
}

type Option func(*Dispatcher)

func WithMailer(m Mailer) Option {
	return func(d *Dispatcher) { d.mailer = m }
}

func WithBroadcaster(b Broadcaster) Option {
	return func(d *Dispatcher) { d.hub = b }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithLease sets how long a claimed job stays invisible to other processors.
func WithLease(l time.Duration) Option {
	return func(d *Dispatcher) {
		if l > 0 {
			d.lease = l
		}
	}
}

func NewDispatcher(stores Stores, sender Sender, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		stores:    stores,
		sender:    sender,
		logger:    logger.With("component", "dispatcher"),
		now:       time.Now,
		batchSize: DefaultBatchSize,
		lease:     DefaultLease,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// BatchSize is the maximum number of jobs one ProcessBatch call handles.
func (d *Dispatcher) BatchSize() int {
	return d.batchSize
}

// Backoff returns the delay before the next attempt: 1m, 2m, 4m, ...
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 20 {
		attempts = 20
	}
	return time.Minute << (attempts - 1)
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeRetried
	outcomeDeferred
)

// ProcessBatch claims up to one batch of due jobs and processes them in
// creation order. Failures of a single job are recorded on the job and never
// returned; only setup errors and context cancellation are.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (Result, error) {
	var res Result
	if !d.sender.Configured() {
		return res, ErrNotConfigured
	}

	started := time.Now()
	jobs, err := d.stores.Queue.ClaimDue(ctx, d.now(), d.batchSize, d.lease)
	if err != nil {
		return res, err
	}
	defer func() { d.metrics.ObserveBatch(time.Since(started)) }()

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			// Unprocessed jobs become claimable again when their lease runs out.
			return res, err
		}
		res.Processed++
		switch d.process(ctx, job) {
		case outcomeSent:
			res.Sent++
			d.metrics.JobProcessed(metrics.OutcomeSent)
		case outcomeFailed:
			res.Failed++
			d.metrics.JobProcessed(metrics.OutcomeFailed)
		case outcomeRetried:
			res.Retried++
			d.metrics.JobProcessed(metrics.OutcomeRetried)
		case outcomeDeferred:
			res.Deferred++
			d.metrics.JobProcessed(metrics.OutcomeDeferred)
		}
	}

	if res.Processed > 0 {
		d.logger.Info("batch processed",
			"processed", res.Processed,
			"sent", res.Sent,
			"failed", res.Failed,
			"retried", res.Retried,
			"deferred", res.Deferred,
		)
	}
	return res, nil
}

func (d *Dispatcher) process(ctx context.Context, job model.Job) outcome {
	logger := d.logger.With("job_id", job.ID, "user_id", job.UserID, "type", job.NotificationType)
	now := d.now()

	if job.SendPush || job.SendEmail {
		if next, ok := d.quietUntil(ctx, job.UserID, now); ok {
			if err := d.stores.Queue.Defer(ctx, job.ID, next); err != nil {
				logger.Error("defer job", "error", err)
			}
			logger.Debug("job deferred for quiet hours", "until", next)
			return outcomeDeferred
		}
	}

	success := true
	if job.SendPush {
		success = d.fanOut(ctx, job, logger)
	}

	if job.SendEmail && job.Attempts == 0 {
		d.sendEmail(ctx, job, logger)
	}

	if success {
		d.mirror(ctx, job, logger)
	}

	attempts := job.Attempts + 1
	switch {
	case success:
		if err := d.stores.Queue.MarkSent(ctx, job.ID, attempts); err != nil {
			logger.Error("mark job sent", "error", err)
		}
		return outcomeSent
	case attempts >= job.MaxAttempts:
		if err := d.stores.Queue.MarkFailed(ctx, job.ID, attempts); err != nil {
			logger.Error("mark job failed", "error", err)
		}
		logger.Warn("job dead-lettered", "attempts", attempts)
		return outcomeFailed
	default:
		next := now.Add(Backoff(attempts))
		if err := d.stores.Queue.Reschedule(ctx, job.ID, attempts, next); err != nil {
			logger.Error("reschedule job", "error", err)
		}
		return outcomeRetried
	}
}

// quietUntil reports the end of the user's quiet window if now falls in it.
// Preference errors fail open.
func (d *Dispatcher) quietUntil(ctx context.Context, userID int64, now time.Time) (time.Time, bool) {
	pref, err := d.stores.Preferences.Get(ctx, userID)
	if err != nil {
		d.logger.Warn("load preferences for quiet hours", "user_id", userID, "error", err)
		return time.Time{}, false
	}
	return quiethours.Active(now, pref.QuietHours)
}

// fanOut sends the job to every active subscription of the user and reports
// whether at least one send succeeded.
func (d *Dispatcher) fanOut(ctx context.Context, job model.Job, logger *slog.Logger) bool {
	subs, err := d.stores.Subscriptions.ListActive(ctx, job.UserID)
	if err != nil {
		logger.Error("list subscriptions", "error", err)
		return false
	}
	if len(subs) == 0 {
		logger.Debug("no active subscriptions")
		return false
	}

	payload := PayloadFor(job)
	success := false
	for _, sub := range subs {
		err := d.sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
			success = true
			d.metrics.PushSent(metrics.SendOK)
		case errors.Is(err, ErrSubscriptionGone):
			d.metrics.PushSent(metrics.SendGone)
			if err := d.stores.Subscriptions.DeactivateByID(ctx, sub.ID); err != nil {
				logger.Error("deactivate subscription", "subscription_id", sub.ID, "error", err)
				continue
			}
			logger.Info("subscription deactivated", "subscription_id", sub.ID, "reason", err)
		default:
			d.metrics.PushSent(metrics.SendTransient)
			logger.Warn("push send failed", "subscription_id", sub.ID, "error", err)
		}
	}
	return success
}

func (d *Dispatcher) sendEmail(ctx context.Context, job model.Job, logger *slog.Logger) {
	if d.mailer == nil || !d.mailer.Configured() || d.stores.Users == nil {
		return
	}
	user, err := d.stores.Users.GetByID(ctx, job.UserID)
	if err != nil {
		logger.Warn("load user for email", "error", err)
		return
	}
	if user.Email == "" {
		return
	}
	if err := d.mailer.SendNotification(ctx, user.Email, job.Title, job.Message, job.Data.DeepLink, job.NotificationType); err != nil {
		logger.Warn("email send failed", "error", err)
	}
}

// mirror writes the in-app notification for a delivered job once.
func (d *Dispatcher) mirror(ctx context.Context, job model.Job, logger *slog.Logger) {
	exists, err := d.stores.Notifications.ExistsForJob(ctx, job.ID)
	if err != nil {
		logger.Error("check in-app notification", "error", err)
		return
	}
	if exists {
		return
	}

	meta, err := Metadata(job)
	if err != nil {
		logger.Error("build notification metadata", "error", err)
		return
	}
	n, inserted, err := d.stores.Notifications.Insert(ctx, model.InAppNotification{
		UserID:   job.UserID,
		Title:    job.Title,
		Message:  job.Message,
		Type:     model.InAppType(job.NotificationType),
		Metadata: meta,
	})
	if err != nil {
		logger.Error("insert in-app notification", "error", err)
		return
	}
	if inserted && d.hub != nil {
		d.hub.Notify(job.UserID, *n)
	}
}

// Metadata is the job's data payload plus its id.
func Metadata(job model.Job) (map[string]any, error) {
	b, err := json.Marshal(job.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal job data: %w", err)
	}
	meta := map[string]any{}
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal job data: %w", err)
	}
	meta["job_id"] = job.ID
	return meta, nil
}
