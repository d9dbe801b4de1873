package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/shopspring/decimal"
)

// BudgetStore reads and writes budget folders and their transactions.
type BudgetStore struct {
	db *sql.DB
}

func NewBudgetStore(db *sql.DB) *BudgetStore {
	return &BudgetStore{db: db}
}

func (s *BudgetStore) CreateFolder(ctx context.Context, userID int64, name, kind string, allocated decimal.Decimal) (*model.BudgetFolder, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_folders (user_id, name, kind, allocated) VALUES (?, ?, ?, ?)`,
		userID, name, kind, allocated.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("create budget folder: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetFolder(ctx, id)
}

func (s *BudgetStore) GetFolder(ctx context.Context, id int64) (*model.BudgetFolder, error) {
	var f model.BudgetFolder
	var allocated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, kind, allocated, created_at FROM budget_folders WHERE id = ?`, id,
	).Scan(&f.ID, &f.UserID, &f.Name, &f.Kind, &allocated, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get budget folder: %w", err)
	}
	if f.Allocated, err = decimal.NewFromString(allocated); err != nil {
		return nil, fmt.Errorf("parse allocated %q: %w", allocated, err)
	}
	return &f, nil
}

func (s *BudgetStore) CreateTransaction(ctx context.Context, t model.Transaction) (*model.Transaction, error) {
	if t.Kind == "" {
		t.Kind = model.TxnKindExpense
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (user_id, budget_folder_id, title, amount, kind, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.UserID, t.BudgetFolderID, t.Title, t.Amount.String(), t.Kind, ts(t.OccurredAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	t.ID = id
	return &t, nil
}

// SumExpenses totals expense transactions for a folder in [from, to].
func (s *BudgetStore) SumExpenses(ctx context.Context, folderID int64, from, to time.Time) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT amount FROM transactions
		 WHERE budget_folder_id = ? AND kind = 'expense' AND occurred_at >= ? AND occurred_at <= ?`,
		folderID, ts(from), ts(to),
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum folder expenses: %w", err)
	}
	defer rows.Close()
	return sumAmounts(rows)
}

// ExpenseSummary is one user's spending over a period.
type ExpenseSummary struct {
	UserID int64
	Total  decimal.Decimal
	Count  int
}

// SummarizeExpenses totals expense transactions per user in [from, to).
func (s *BudgetStore) SummarizeExpenses(ctx context.Context, from, to time.Time) ([]ExpenseSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, amount FROM transactions
		 WHERE kind = 'expense' AND occurred_at >= ? AND occurred_at < ?
		 ORDER BY user_id`,
		ts(from), ts(to),
	)
	if err != nil {
		return nil, fmt.Errorf("summarize expenses: %w", err)
	}
	defer rows.Close()

	var out []ExpenseSummary
	for rows.Next() {
		var userID int64
		var raw string
		if err := rows.Scan(&userID, &raw); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", raw, err)
		}
		if len(out) == 0 || out[len(out)-1].UserID != userID {
			out = append(out, ExpenseSummary{UserID: userID})
		}
		last := &out[len(out)-1]
		last.Total = last.Total.Add(amount)
		last.Count++
	}
	return out, rows.Err()
}

func sumAmounts(rows *sql.Rows) (decimal.Decimal, error) {
	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("scan amount: %w", err)
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}
