package model

import (
	"encoding/json"
	"time"
)

// Job statuses. Transitions are pending -> sent and pending -> failed only.
const (
	JobPending = "pending"
	JobSent    = "sent"
	JobFailed  = "failed"
)

// Notification type constants
const (
	NotifTypeBudgetWarning = "budget_warning"
	NotifTypeBudgetOverrun = "budget_overrun"
	NotifTypeBudgetAlert   = "budget_alert"
	NotifTypeBillDue       = "bill_due"
	NotifTypeWeeklyDigest  = "weekly_digest"
	NotifTypeTest          = "test"
)

// Job is one unit of outbound notification work in notification_queue.
type Job struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	NotificationType string    `json:"notification_type"`
	Title            string    `json:"title"`
	Message          string    `json:"message"`
	Data             JobData   `json:"data"`
	SendPush         bool      `json:"send_push"`
	SendEmail        bool      `json:"send_email"`
	ScheduledFor     time.Time `json:"scheduled_for"`
	Status           string    `json:"status"`
	Attempts         int       `json:"attempts"`
	MaxAttempts      int       `json:"max_attempts"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// JobData is the structured payload carried by a job. DeepLink is required;
// Extra holds detector-specific keys (budget_id, threshold, month, ...).
type JobData struct {
	DeepLink string         `json:"deepLink"`
	Tag      string         `json:"tag,omitempty"`
	Renotify bool           `json:"renotify,omitempty"`
	Badge    string         `json:"badge,omitempty"`
	Extra    map[string]any `json:"-"`
}

// MarshalJSON flattens Extra into the top-level object.
func (d JobData) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(d.Extra)+4)
	for k, v := range d.Extra {
		m[k] = v
	}
	m["deepLink"] = d.DeepLink
	if d.Tag != "" {
		m["tag"] = d.Tag
	}
	if d.Renotify {
		m["renotify"] = true
	}
	if d.Badge != "" {
		m["badge"] = d.Badge
	}
	return json.Marshal(m)
}

func (d *JobData) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*d = JobData{}
	if v, ok := m["deepLink"].(string); ok {
		d.DeepLink = v
	}
	if v, ok := m["tag"].(string); ok {
		d.Tag = v
	}
	if v, ok := m["renotify"].(bool); ok {
		d.Renotify = v
	}
	if v, ok := m["badge"].(string); ok {
		d.Badge = v
	}
	delete(m, "deepLink")
	delete(m, "tag")
	delete(m, "renotify")
	delete(m, "badge")
	if len(m) > 0 {
		d.Extra = m
	}
	return nil
}

// InAppNotification is a notification-center entry.
type InAppNotification struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at"`
}

// InAppType maps a job's notification type to the notification-center type.
func InAppType(jobType string) string {
	switch jobType {
	case NotifTypeBudgetWarning, NotifTypeBudgetOverrun:
		return NotifTypeBudgetAlert
	}
	return jobType
}
