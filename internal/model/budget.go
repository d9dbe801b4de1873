package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cadence values for RecurringRule.
const (
	CadenceWeekly  = "weekly"
	CadenceMonthly = "monthly"
)

const (
	FolderKindExpense = "expense"
	FolderKindIncome  = "income"

	TxnKindExpense = "expense"
	TxnKindIncome  = "income"
)

// Plan values for User.
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Locale    string    `json:"locale"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
}

type BudgetFolder struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	Allocated decimal.Decimal `json:"allocated"`
	CreatedAt time.Time       `json:"created_at"`
}

type Transaction struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	BudgetFolderID *int64          `json:"budget_folder_id"`
	Title          string          `json:"title"`
	Amount         decimal.Decimal `json:"amount"`
	Kind           string          `json:"kind"`
	OccurredAt     time.Time       `json:"occurred_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RecurringRule is a user's expectation of a repeating expense. NextDueDate
// is a calendar date at UTC midnight.
type RecurringRule struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	TitlePattern   string          `json:"title_pattern"`
	AverageAmount  decimal.Decimal `json:"average_amount"`
	Cadence        string          `json:"cadence"`
	NextDueDate    time.Time       `json:"next_due_date"`
	BudgetFolderID *int64          `json:"budget_folder_id"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
