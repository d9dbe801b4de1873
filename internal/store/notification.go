package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/dukerupert/budgetbell/internal/model"
)

// NotificationStore holds the in-app notification center entries.
type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

const notificationCols = `id, user_id, title, message, type, metadata, is_read, created_at`

// Insert adds an unread notification. A second insert carrying the same
// metadata job_id is ignored and reported as inserted=false.
func (s *NotificationStore) Insert(ctx context.Context, n model.InAppNotification) (*model.InAppNotification, bool, error) {
	meta, err := json.Marshal(orEmpty(n.Metadata))
	if err != nil {
		return nil, false, fmt.Errorf("marshal notification metadata: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO notifications (user_id, title, message, type, metadata, is_read)
		 VALUES (?, ?, ?, ?, ?, 0)
		 ON CONFLICT DO NOTHING
		 RETURNING `+notificationCols,
		n.UserID, n.Title, n.Message, n.Type, string(meta),
	)
	created, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert notification: %w", err)
	}
	return created, true, nil
}

// ExistsForJob reports whether an in-app notification already mirrors jobID.
func (s *NotificationStore) ExistsForJob(ctx context.Context, jobID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE json_extract(metadata, '$.job_id') = ?`, jobID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check notification for job %d: %w", jobID, err)
	}
	return count > 0, nil
}

// ExistsWithMetadata reports whether the user has a notification of type
// notifType whose metadata contains every key/value in match.
func (s *NotificationStore) ExistsWithMetadata(ctx context.Context, userID int64, notifType string, match map[string]any) (bool, error) {
	query, args := jsonMatchQuery(
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND type = ?`,
		"metadata", []any{userID, notifType}, match,
	)
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("check notification metadata: %w", err)
	}
	return count > 0, nil
}

func (s *NotificationStore) ListByUser(ctx context.Context, userID int64, limit int) ([]model.InAppNotification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationCols+` FROM notifications
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var list []model.InAppNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		list = append(list, *n)
	}
	return list, rows.Err()
}

func (s *NotificationStore) CountUnread(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead marks one of the user's notifications read.
func (s *NotificationStore) MarkRead(ctx context.Context, userID, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, id, userID,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanNotification(scanner interface{ Scan(...any) error }) (*model.InAppNotification, error) {
	var n model.InAppNotification
	var meta string
	var read int
	if err := scanner.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &meta, &read, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.IsRead = read != 0
	if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
		return nil, fmt.Errorf("decode notification %d metadata: %w", n.ID, err)
	}
	return &n, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
