package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/budgetbell/internal/database"
	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/shopspring/decimal"
)

type RecurringRuleStore struct {
	db *sql.DB
}

func NewRecurringRuleStore(db *sql.DB) *RecurringRuleStore {
	return &RecurringRuleStore{db: db}
}

const ruleCols = `id, user_id, title_pattern, average_amount, cadence, next_due_date, budget_folder_id, active, created_at, updated_at`

// Upsert creates a rule or updates the existing one with the same
// (user_id, title_pattern).
func (s *RecurringRuleStore) Upsert(ctx context.Context, r model.RecurringRule) (*model.RecurringRule, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO recurring_rules (user_id, title_pattern, average_amount, cadence, next_due_date, budget_folder_id, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, title_pattern) DO UPDATE SET
		   average_amount = excluded.average_amount,
		   cadence = excluded.cadence,
		   next_due_date = excluded.next_due_date,
		   budget_folder_id = excluded.budget_folder_id,
		   active = excluded.active,
		   updated_at = CURRENT_TIMESTAMP
		 RETURNING `+ruleCols,
		r.UserID, r.TitlePattern, r.AverageAmount.String(), r.Cadence,
		r.NextDueDate.Format(database.DateFormat), r.BudgetFolderID, boolInt(r.Active),
	)
	rule, err := scanRule(row)
	if err != nil {
		return nil, fmt.Errorf("upsert recurring rule: %w", err)
	}
	return rule, nil
}

// GetByPattern returns the user's rule for titlePattern, or nil.
func (s *RecurringRuleStore) GetByPattern(ctx context.Context, userID int64, titlePattern string) (*model.RecurringRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleCols+` FROM recurring_rules WHERE user_id = ? AND title_pattern = ?`,
		userID, titlePattern,
	)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recurring rule: %w", err)
	}
	return rule, nil
}

func (s *RecurringRuleStore) ListByUser(ctx context.Context, userID int64) ([]model.RecurringRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleCols+` FROM recurring_rules WHERE user_id = ? ORDER BY next_due_date, id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list recurring rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// ListActive returns every active rule across users.
func (s *RecurringRuleStore) ListActive(ctx context.Context) ([]model.RecurringRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleCols+` FROM recurring_rules WHERE active = 1 ORDER BY user_id, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active recurring rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func (s *RecurringRuleStore) CountActive(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recurring_rules WHERE user_id = ? AND active = 1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active recurring rules: %w", err)
	}
	return count, nil
}

func (s *RecurringRuleStore) SetNextDueDate(ctx context.Context, id int64, next time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recurring_rules SET next_due_date = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		next.Format(database.DateFormat), id,
	)
	if err != nil {
		return fmt.Errorf("set next due date for rule %d: %w", id, err)
	}
	return nil
}

func (s *RecurringRuleStore) Delete(ctx context.Context, userID, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM recurring_rules WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete recurring rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRules(rows *sql.Rows) ([]model.RecurringRule, error) {
	var rules []model.RecurringRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring rule: %w", err)
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func scanRule(scanner interface{ Scan(...any) error }) (*model.RecurringRule, error) {
	var r model.RecurringRule
	var amount, due string
	var folderID sql.NullInt64
	var active int
	err := scanner.Scan(&r.ID, &r.UserID, &r.TitlePattern, &amount, &r.Cadence, &due,
		&folderID, &active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if r.AverageAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse average amount %q: %w", amount, err)
	}
	if r.NextDueDate, err = time.Parse(database.DateFormat, due); err != nil {
		return nil, fmt.Errorf("parse next due date %q: %w", due, err)
	}
	if folderID.Valid {
		r.BudgetFolderID = &folderID.Int64
	}
	r.Active = active != 0
	return &r, nil
}
