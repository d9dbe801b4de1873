// Package notify turns a detector's intent into a queued job, applying the
// user's delivery preferences on the way in.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/quiethours"
	"github.com/dukerupert/budgetbell/internal/store"
)

// Request describes a notification before preferences are applied. Push and
// Email are the channels the caller would like to use.
type Request struct {
	UserID       int64
	Type         string
	Title        string
	Message      string
	Data         model.JobData
	Push         bool
	Email        bool
	ScheduledFor time.Time
}

// Enqueuer writes jobs to the queue.
type Enqueuer struct {
	prefs  *store.PreferenceStore
	queue  *store.QueueStore
	logger *slog.Logger
	now    func() time.Time
	// maxAttempts caps delivery attempts per job; zero uses the queue default.
	maxAttempts int
}

func NewEnqueuer(prefs *store.PreferenceStore, queue *store.QueueStore, logger *slog.Logger) *Enqueuer {
	return &Enqueuer{
		prefs:  prefs,
		queue:  queue,
		logger: logger.With("component", "enqueuer"),
		now:    time.Now,
	}
}

// SetClock replaces the time source used when a request has no schedule.
func (e *Enqueuer) SetClock(now func() time.Time) {
	e.now = now
}

// SetMaxAttempts sets the attempt cap stamped on every queued job.
func (e *Enqueuer) SetMaxAttempts(n int) {
	e.maxAttempts = n
}

// Urgent reports whether a notification type may interrupt a user on the
// gentle frequency. Budget alerts and explicit test pings qualify; digests
// stay in the notification center.
func Urgent(notifType string) bool {
	switch notifType {
	case model.NotifTypeBudgetOverrun, model.NotifTypeBudgetWarning, model.NotifTypeTest:
		return true
	}
	return false
}

// Enqueue applies frequency, channel switches and quiet hours, then queues
// the job. A job whose channels are all switched off is still queued so the
// in-app notification center receives it.
func (e *Enqueuer) Enqueue(ctx context.Context, req Request) (*model.Job, error) {
	pref, err := e.prefs.Get(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	job := Apply(*pref, req)
	job.MaxAttempts = e.maxAttempts
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = e.now()
	}
	if job.SendPush || job.SendEmail {
		job.ScheduledFor = quiethours.NextAllowed(job.ScheduledFor, pref.QuietHours)
	}

	queued, err := e.queue.Enqueue(ctx, job)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("job enqueued",
		"job_id", queued.ID,
		"user_id", queued.UserID,
		"type", queued.NotificationType,
		"push", queued.SendPush,
		"email", queued.SendEmail,
		"scheduled_for", queued.ScheduledFor,
	)
	return queued, nil
}

// Apply maps a request to a job under the given preferences. It does not
// touch quiet hours.
func Apply(pref model.NotificationPreference, req Request) model.Job {
	job := model.Job{
		UserID:           req.UserID,
		NotificationType: req.Type,
		Title:            req.Title,
		Message:          req.Message,
		Data:             req.Data,
		SendPush:         req.Push && pref.PushEnabled,
		SendEmail:        req.Email && pref.EmailEnabled,
		ScheduledFor:     req.ScheduledFor,
	}
	if job.Data.Tag == "" {
		job.Data.Tag = req.Type
	}

	switch pref.Frequency {
	case model.FrequencyDisabled:
		job.SendPush, job.SendEmail = false, false
	case model.FrequencyAggressive:
	case model.FrequencyRelentless:
		job.Data.Renotify = true
	default:
		if !Urgent(req.Type) {
			job.SendPush, job.SendEmail = false, false
		}
	}
	return job
}
