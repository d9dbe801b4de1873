package model

import "time"

// Frequency values for NotificationPreference.
const (
	FrequencyDisabled   = "disabled"
	FrequencyGentle     = "gentle"
	FrequencyAggressive = "aggressive"
	FrequencyRelentless = "relentless"
)

// ValidFrequency reports whether f is a known frequency.
func ValidFrequency(f string) bool {
	switch f {
	case FrequencyDisabled, FrequencyGentle, FrequencyAggressive, FrequencyRelentless:
		return true
	}
	return false
}

type Subscription struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dhKey string    `json:"p256dh_key"`
	AuthKey   string    `json:"auth_key"`
	UserAgent string    `json:"user_agent"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubscriptionKeys are the two client key components required by web push.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// QuietHours is a daily do-not-disturb window. Start and End are "HH:MM".
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

type NotificationPreference struct {
	UserID       int64      `json:"user_id"`
	Frequency    string     `json:"frequency"`
	PushEnabled  bool       `json:"push_enabled"`
	EmailEnabled bool       `json:"email_enabled"`
	QuietHours   QuietHours `json:"quiet_hours"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DefaultPreference is what a user gets before they change anything.
func DefaultPreference(userID int64) NotificationPreference {
	return NotificationPreference{
		UserID:      userID,
		Frequency:   FrequencyGentle,
		PushEnabled: true,
	}
}
