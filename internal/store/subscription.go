package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/budgetbell/internal/model"
)

// SubscriptionStore is the registry of push endpoints per user.
type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionCols = `id, user_id, endpoint, p256dh_key, auth_key, user_agent, is_active, created_at, updated_at`

// Upsert registers an endpoint for a user. Re-subscribing the same endpoint
// refreshes its keys and reactivates it. Subscribing also re-enables push in
// the user's preferences, undoing an earlier unsubscribe-all.
func (s *SubscriptionStore) Upsert(ctx context.Context, userID int64, endpoint string, keys model.SubscriptionKeys, userAgent string) (*model.Subscription, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin upsert subscription: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`INSERT INTO notification_subscriptions (user_id, endpoint, p256dh_key, auth_key, user_agent, is_active)
		 VALUES (?, ?, ?, ?, ?, 1)
		 ON CONFLICT(user_id, endpoint) DO UPDATE SET
		   p256dh_key = excluded.p256dh_key,
		   auth_key = excluded.auth_key,
		   user_agent = excluded.user_agent,
		   is_active = 1,
		   updated_at = CURRENT_TIMESTAMP
		 RETURNING `+subscriptionCols,
		userID, endpoint, keys.P256dh, keys.Auth, userAgent,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notification_preferences (user_id, push_enabled) VALUES (?, 1)
		 ON CONFLICT(user_id) DO UPDATE SET push_enabled = 1, updated_at = CURRENT_TIMESTAMP
		 WHERE push_enabled = 0`,
		userID,
	); err != nil {
		return nil, fmt.Errorf("enable push preference: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert subscription: %w", err)
	}
	return sub, nil
}

// Deactivate turns off one endpoint, or every endpoint of the user when
// endpoint is empty. Deactivating all also disables push in the user's
// preferences.
func (s *SubscriptionStore) Deactivate(ctx context.Context, userID int64, endpoint string) error {
	if endpoint != "" {
		_, err := s.db.ExecContext(ctx,
			`UPDATE notification_subscriptions SET is_active = 0, updated_at = CURRENT_TIMESTAMP
			 WHERE user_id = ? AND endpoint = ?`,
			userID, endpoint,
		)
		if err != nil {
			return fmt.Errorf("deactivate subscription: %w", err)
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deactivate all: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE notification_subscriptions SET is_active = 0, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`,
		userID,
	); err != nil {
		return fmt.Errorf("deactivate all subscriptions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notification_preferences (user_id, push_enabled) VALUES (?, 0)
		 ON CONFLICT(user_id) DO UPDATE SET push_enabled = 0, updated_at = CURRENT_TIMESTAMP`,
		userID,
	); err != nil {
		return fmt.Errorf("disable push preference: %w", err)
	}
	return tx.Commit()
}

// DeactivateByID turns off a single subscription the transport reported gone.
func (s *SubscriptionStore) DeactivateByID(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_subscriptions SET is_active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("deactivate subscription %d: %w", id, err)
	}
	return nil
}

func (s *SubscriptionStore) ListActive(ctx context.Context, userID int64) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionCols+` FROM notification_subscriptions
		 WHERE user_id = ? AND is_active = 1 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// ListByUser returns every subscription of the user, active or not.
func (s *SubscriptionStore) ListByUser(ctx context.Context, userID int64) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionCols+` FROM notification_subscriptions WHERE user_id = ? ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	var active int
	err := scanner.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey,
		&sub.UserAgent, &active, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.IsActive = active != 0
	return &sub, nil
}
