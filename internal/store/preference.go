package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/budgetbell/internal/model"
)

type PreferenceStore struct {
	db *sql.DB
}

func NewPreferenceStore(db *sql.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

// Get returns the user's preference, creating the default row on first read.
func (s *PreferenceStore) Get(ctx context.Context, userID int64) (*model.NotificationPreference, error) {
	def := model.DefaultPreference(userID)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notification_preferences (user_id, frequency, push_enabled, email_enabled)
		 VALUES (?, ?, ?, ?)`,
		userID, def.Frequency, boolInt(def.PushEnabled), boolInt(def.EmailEnabled),
	)
	if err != nil {
		return nil, fmt.Errorf("create default preference: %w", err)
	}

	var p model.NotificationPreference
	var push, email, qh int
	err = s.db.QueryRowContext(ctx,
		`SELECT user_id, frequency, push_enabled, email_enabled, quiet_hours_enabled,
		        quiet_hours_start, quiet_hours_end, timezone, updated_at
		 FROM notification_preferences WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Frequency, &push, &email, &qh,
		&p.QuietHours.Start, &p.QuietHours.End, &p.QuietHours.Timezone, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	p.PushEnabled = push != 0
	p.EmailEnabled = email != 0
	p.QuietHours.Enabled = qh != 0
	return &p, nil
}

// Update replaces the user's preference.
func (s *PreferenceStore) Update(ctx context.Context, p model.NotificationPreference) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_preferences
		   (user_id, frequency, push_enabled, email_enabled, quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   frequency = excluded.frequency,
		   push_enabled = excluded.push_enabled,
		   email_enabled = excluded.email_enabled,
		   quiet_hours_enabled = excluded.quiet_hours_enabled,
		   quiet_hours_start = excluded.quiet_hours_start,
		   quiet_hours_end = excluded.quiet_hours_end,
		   timezone = excluded.timezone,
		   updated_at = CURRENT_TIMESTAMP`,
		p.UserID, p.Frequency, boolInt(p.PushEnabled), boolInt(p.EmailEnabled),
		boolInt(p.QuietHours.Enabled), p.QuietHours.Start, p.QuietHours.End, p.QuietHours.Timezone,
	)
	if err != nil {
		return fmt.Errorf("update preference: %w", err)
	}
	return nil
}
