package store

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dukerupert/budgetbell/internal/model"
)

// DefaultMaxAttempts applies when a job is enqueued without a cap.
const DefaultMaxAttempts = 5

// QueueStore is the durable notification_queue table. Rows are never deleted
// by normal operation; status only moves from pending to sent or failed.
type QueueStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewQueueStore(db *sql.DB) *QueueStore {
	return &QueueStore{db: db, now: time.Now}
}

// SetClock replaces the time source used for created_at/updated_at.
func (s *QueueStore) SetClock(now func() time.Time) {
	s.now = now
}

const jobCols = `id, user_id, notification_type, title, message, data, send_push, send_email,
	scheduled_for, status, attempts, max_attempts, created_at, updated_at`

// Enqueue inserts a pending job with zero attempts.
func (s *QueueStore) Enqueue(ctx context.Context, job model.Job) (*model.Job, error) {
	now := s.now()
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = now
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	data, err := json.Marshal(job.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal job data: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO notification_queue
		   (user_id, notification_type, title, message, data, send_push, send_email,
		    scheduled_for, status, attempts, max_attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?, ?)
		 RETURNING `+jobCols,
		job.UserID, job.NotificationType, job.Title, job.Message, string(data),
		boolInt(job.SendPush), boolInt(job.SendEmail), ts(job.ScheduledFor),
		job.MaxAttempts, ts(now), ts(now),
	)
	j, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return j, nil
}

func (s *QueueStore) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM notification_queue WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Due lists pending jobs whose scheduled_for has passed, oldest first.
func (s *QueueStore) Due(ctx context.Context, now time.Time, limit int) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobCols+` FROM notification_queue
		 WHERE status = 'pending' AND scheduled_for <= ?
		 ORDER BY created_at, id LIMIT ?`,
		ts(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ClaimDue atomically leases up to limit due jobs to the caller. A leased job
// is invisible to other claimers until the lease expires or the job is
// updated, so overlapping processors do not send the same job twice. Status
// stays pending; a processor that dies simply lets the lease run out.
func (s *QueueStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE notification_queue SET locked_until = ?
		 WHERE id IN (
		   SELECT id FROM notification_queue
		   WHERE status = 'pending' AND scheduled_for <= ?
		     AND (locked_until IS NULL OR locked_until <= ?)
		   ORDER BY created_at, id LIMIT ?
		 )
		 RETURNING `+jobCols,
		ts(now.Add(lease)), ts(now), ts(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING order is unspecified.
	sortJobs(jobs)
	return jobs, nil
}

// MarkSent records a successful delivery. It is a no-op for terminal jobs.
func (s *QueueStore) MarkSent(ctx context.Context, id int64, attempts int) error {
	return s.finish(ctx, id, model.JobSent, attempts)
}

// MarkFailed dead-letters a job. It is a no-op for terminal jobs.
func (s *QueueStore) MarkFailed(ctx context.Context, id int64, attempts int) error {
	return s.finish(ctx, id, model.JobFailed, attempts)
}

func (s *QueueStore) finish(ctx context.Context, id int64, status string, attempts int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue SET status = ?, attempts = ?, locked_until = NULL, updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		status, attempts, ts(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark job %d %s: %w", id, status, err)
	}
	return nil
}

// Reschedule keeps the job pending with a later scheduled_for. The update
// only applies when next is after the current schedule.
func (s *QueueStore) Reschedule(ctx context.Context, id int64, attempts int, next time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue SET attempts = ?, scheduled_for = ?, locked_until = NULL, updated_at = ?
		 WHERE id = ? AND status = 'pending' AND scheduled_for < ?`,
		attempts, ts(next), ts(s.now()), id, ts(next),
	)
	if err != nil {
		return fmt.Errorf("reschedule job %d: %w", id, err)
	}
	return nil
}

// Defer pushes a pending job later without counting an attempt.
func (s *QueueStore) Defer(ctx context.Context, id int64, next time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue SET scheduled_for = ?, locked_until = NULL, updated_at = ?
		 WHERE id = ? AND status = 'pending' AND scheduled_for < ?`,
		ts(next), ts(s.now()), id, ts(next),
	)
	if err != nil {
		return fmt.Errorf("defer job %d: %w", id, err)
	}
	return nil
}

// HasJobWithData reports whether a pending or sent job of one of the given
// types carries every key/value in match inside its data payload.
func (s *QueueStore) HasJobWithData(ctx context.Context, userID int64, types []string, match map[string]any) (bool, error) {
	query, args := jsonMatchQuery(
		`SELECT COUNT(*) FROM notification_queue WHERE user_id = ? AND status IN ('pending', 'sent')`,
		"data", []any{userID}, match,
	)
	if len(types) > 0 {
		query += ` AND notification_type IN (?` + strings.Repeat(", ?", len(types)-1) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("check queued job: %w", err)
	}
	return count > 0, nil
}

// ListTerminalBefore returns sent/failed jobs last updated before cutoff.
func (s *QueueStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobCols+` FROM notification_queue
		 WHERE status IN ('sent', 'failed') AND updated_at < ?
		 ORDER BY id LIMIT ?`,
		ts(cutoff), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list terminal jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// DeleteTerminal removes the given jobs if they are sent or failed. Only the
// purge tooling calls this.
func (s *QueueStore) DeleteTerminal(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_queue WHERE status IN ('sent', 'failed') AND id IN (?`+
			strings.Repeat(", ?", len(ids)-1)+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("delete terminal jobs: %w", err)
	}
	return result.RowsAffected()
}

func scanJobs(rows *sql.Rows) ([]model.Job, error) {
	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func scanJob(scanner interface{ Scan(...any) error }) (*model.Job, error) {
	var j model.Job
	var data string
	var push, email int
	err := scanner.Scan(&j.ID, &j.UserID, &j.NotificationType, &j.Title, &j.Message, &data,
		&push, &email, &j.ScheduledFor, &j.Status, &j.Attempts, &j.MaxAttempts, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.SendPush = push != 0
	j.SendEmail = email != 0
	if err := json.Unmarshal([]byte(data), &j.Data); err != nil {
		return nil, fmt.Errorf("decode job %d data: %w", j.ID, err)
	}
	return &j, nil
}

func sortJobs(jobs []model.Job) {
	slices.SortFunc(jobs, func(a, b model.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// jsonMatchQuery appends json_extract equality predicates on column for
// every key in match. Keys are sorted for stable SQL.
func jsonMatchQuery(base, column string, args []any, match map[string]any) (string, []any) {
	var sb strings.Builder
	sb.WriteString(base)
	for _, k := range sortedKeys(match) {
		sb.WriteString(` AND json_extract(` + column + `, ?) = ?`)
		args = append(args, "$."+k, match[k])
	}
	return sb.String(), args
}
