// Package detector decides when a notification should exist: budget
// thresholds, recurring bills and the weekly digest.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/budgetbell/internal/localize"
	"github.com/dukerupert/budgetbell/internal/metrics"
	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/notify"
	"github.com/dukerupert/budgetbell/internal/store"
)

// Threshold is the budget level a folder's spending has crossed.
type Threshold string

const (
	ThresholdNone         Threshold = ""
	ThresholdWarning80    Threshold = "warning_80"
	ThresholdLimitReached Threshold = "limit_reached"
	ThresholdExceeded     Threshold = "exceeded"
)

var (
	hundred = decimal.NewFromInt(100)
	eighty  = decimal.NewFromInt(80)
)

// Percent returns spent as a percentage of allocated. A non-positive
// allocation yields zero.
func Percent(spent, allocated decimal.Decimal) decimal.Decimal {
	if !allocated.IsPositive() {
		return decimal.Zero
	}
	return spent.Div(allocated).Mul(hundred)
}

// Classify picks the single highest threshold crossed by pct.
func Classify(pct decimal.Decimal) Threshold {
	switch {
	case pct.GreaterThan(hundred):
		return ThresholdExceeded
	case pct.GreaterThanOrEqual(hundred):
		return ThresholdLimitReached
	case pct.GreaterThanOrEqual(eighty):
		return ThresholdWarning80
	}
	return ThresholdNone
}

// MonthKey identifies a calendar month, e.g. "2026-03".
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// BudgetDetector fires at most one alert per folder, threshold and month.
type BudgetDetector struct {
	budgets       *store.BudgetStore
	notifications *store.NotificationStore
	queue         *store.QueueStore
	users         *store.UserStore
	enqueuer      *notify.Enqueuer
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

func NewBudgetDetector(
	budgets *store.BudgetStore,
	notifications *store.NotificationStore,
	queue *store.QueueStore,
	users *store.UserStore,
	enqueuer *notify.Enqueuer,
	m *metrics.Metrics,
	logger *slog.Logger,
) *BudgetDetector {
	return &BudgetDetector{
		budgets:       budgets,
		notifications: notifications,
		queue:         queue,
		users:         users,
		enqueuer:      enqueuer,
		metrics:       m,
		logger:        logger.With("component", "budget_detector"),
		now:           time.Now,
	}
}

func (d *BudgetDetector) SetClock(now func() time.Time) {
	d.now = now
}

// Evaluate checks one folder after a transaction was recorded and enqueues
// an alert if a new threshold was crossed. Errors are logged, never
// returned; the fired threshold is returned for observability.
func (d *BudgetDetector) Evaluate(ctx context.Context, userID, folderID int64) Threshold {
	logger := d.logger.With("user_id", userID, "budget_id", folderID)
	t, err := d.evaluate(ctx, userID, folderID)
	if err != nil {
		logger.Error("evaluate budget", "error", err)
		return ThresholdNone
	}
	if t != ThresholdNone {
		logger.Info("budget threshold fired", "threshold", t)
		d.metrics.Detected("budget", string(t))
	}
	return t
}

func (d *BudgetDetector) evaluate(ctx context.Context, userID, folderID int64) (Threshold, error) {
	folder, err := d.budgets.GetFolder(ctx, folderID)
	if err != nil {
		return ThresholdNone, fmt.Errorf("load folder: %w", err)
	}
	if folder.UserID != userID || folder.Kind != model.FolderKindExpense {
		return ThresholdNone, nil
	}

	now := d.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	spent, err := d.budgets.SumExpenses(ctx, folderID, monthStart, now)
	if err != nil {
		return ThresholdNone, err
	}

	pct := Percent(spent, folder.Allocated)
	threshold := Classify(pct)
	if threshold == ThresholdNone {
		return ThresholdNone, nil
	}

	month := MonthKey(now)
	match := map[string]any{"budget_id": folderID, "threshold": string(threshold), "month": month}

	seen, err := d.notifications.ExistsWithMetadata(ctx, userID, model.NotifTypeBudgetAlert, match)
	if err != nil {
		return ThresholdNone, err
	}
	if !seen {
		seen, err = d.queue.HasJobWithData(ctx, userID,
			[]string{model.NotifTypeBudgetWarning, model.NotifTypeBudgetOverrun}, match)
		if err != nil {
			return ThresholdNone, err
		}
	}
	if seen {
		return ThresholdNone, nil
	}

	notifType := model.NotifTypeBudgetWarning
	if threshold == ThresholdExceeded {
		notifType = model.NotifTypeBudgetOverrun
	}

	title, body := localize.Render(d.locale(ctx, userID), "budget", string(threshold), localize.Params{
		"name":      folder.Name,
		"percent":   pct.IntPart(),
		"spent":     spent,
		"allocated": folder.Allocated,
	})

	_, err = d.enqueuer.Enqueue(ctx, notify.Request{
		UserID:  userID,
		Type:    notifType,
		Title:   title,
		Message: body,
		Data: model.JobData{
			DeepLink: fmt.Sprintf("/budgets/%d", folderID),
			Extra:    match,
		},
		Push:         true,
		Email:        threshold == ThresholdExceeded,
		ScheduledFor: now,
	})
	if err != nil {
		return ThresholdNone, fmt.Errorf("enqueue alert: %w", err)
	}
	d.metrics.Enqueued(notifType)
	return threshold, nil
}

func (d *BudgetDetector) locale(ctx context.Context, userID int64) string {
	if d.users == nil {
		return "en"
	}
	u, err := d.users.GetByID(ctx, userID)
	if err != nil {
		return "en"
	}
	return u.Locale
}
