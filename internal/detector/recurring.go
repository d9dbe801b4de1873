package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/budgetbell/internal/database"
	"github.com/dukerupert/budgetbell/internal/localize"
	"github.com/dukerupert/budgetbell/internal/metrics"
	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/store"
)

// MonthlyMode selects how a monthly rule's due date advances.
type MonthlyMode string

const (
	// MonthlyFixed adds 30 days.
	MonthlyFixed MonthlyMode = "fixed"
	// MonthlyCalendar moves to the same day next month, clamped to the
	// month's last day.
	MonthlyCalendar MonthlyMode = "calendar"
)

// DueSoonDays is how far ahead a bill produces a due-soon notice.
const DueSoonDays = 3

// Notification categories written by the recurring detector.
const (
	CategoryDueToday = "dueToday"
	CategoryDueSoon  = "dueSoon"
)

// Broadcaster receives newly created in-app notifications.
type Broadcaster interface {
	Notify(userID int64, n model.InAppNotification)
}

// RecurringResult counts the notifications one run created.
type RecurringResult struct {
	DueToday int `json:"dueToday"`
	DueSoon  int `json:"dueSoon"`
}

type RecurringDetector struct {
	rules         *store.RecurringRuleStore
	notifications *store.NotificationStore
	users         *store.UserStore
	hub           Broadcaster
	metrics       *metrics.Metrics
	logger        *slog.Logger
	monthly       MonthlyMode
}

func NewRecurringDetector(
	rules *store.RecurringRuleStore,
	notifications *store.NotificationStore,
	users *store.UserStore,
	hub Broadcaster,
	m *metrics.Metrics,
	logger *slog.Logger,
	monthly MonthlyMode,
) *RecurringDetector {
	if monthly != MonthlyCalendar {
		monthly = MonthlyFixed
	}
	return &RecurringDetector{
		rules:         rules,
		notifications: notifications,
		users:         users,
		hub:           hub,
		metrics:       m,
		logger:        logger.With("component", "recurring_detector"),
		monthly:       monthly,
	}
}

// Date truncates t to its UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Advance moves a due date forward by one cadence period.
func Advance(due time.Time, cadence string, mode MonthlyMode) time.Time {
	if cadence == model.CadenceWeekly {
		return due.AddDate(0, 0, 7)
	}
	if mode != MonthlyCalendar {
		return due.AddDate(0, 0, 30)
	}
	y, m, d := due.Date()
	firstOfNext := time.Date(y, m+1, 1, 0, 0, 0, 0, due.Location())
	last := firstOfNext.AddDate(0, 1, -1).Day()
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), min(d, last), 0, 0, 0, 0, due.Location())
}

// Run evaluates every active rule against today. A failing rule is logged
// and skipped.
func (d *RecurringDetector) Run(ctx context.Context, today time.Time) (RecurringResult, error) {
	var res RecurringResult
	today = Date(today)

	rules, err := d.rules.ListActive(ctx)
	if err != nil {
		return res, err
	}

	locales := map[int64]string{}
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		logger := d.logger.With("rule_id", rule.ID, "user_id", rule.UserID)

		dayDiff := int(rule.NextDueDate.Sub(today).Hours() / 24)
		switch {
		case dayDiff <= 0:
			created, err := d.notice(ctx, rule, CategoryDueToday, 0, locales)
			if err != nil {
				logger.Error("create due-today notification", "error", err)
				continue
			}
			next := Advance(rule.NextDueDate, rule.Cadence, d.monthly)
			if err := d.rules.SetNextDueDate(ctx, rule.ID, next); err != nil {
				logger.Error("advance due date", "error", err)
				continue
			}
			if created {
				res.DueToday++
				d.metrics.Detected("recurring", CategoryDueToday)
			}
		case dayDiff <= DueSoonDays:
			created, err := d.notice(ctx, rule, CategoryDueSoon, dayDiff, locales)
			if err != nil {
				logger.Error("create due-soon notification", "error", err)
				continue
			}
			if created {
				res.DueSoon++
				d.metrics.Detected("recurring", CategoryDueSoon)
			}
		}
	}

	d.logger.Info("recurring rules evaluated",
		"date", today.Format(database.DateFormat),
		"rules", len(rules),
		"due_today", res.DueToday,
		"due_soon", res.DueSoon,
	)
	return res, nil
}

// notice writes one in-app notification for rule unless the same
// (rule, due date, category) already exists.
func (d *RecurringDetector) notice(ctx context.Context, rule model.RecurringRule, category string, days int, locales map[int64]string) (bool, error) {
	due := rule.NextDueDate.Format(database.DateFormat)
	meta := map[string]any{
		"rule_id":  rule.ID,
		"due_date": due,
		"category": category,
	}
	exists, err := d.notifications.ExistsWithMetadata(ctx, rule.UserID, model.NotifTypeBillDue, meta)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	title, body := localize.Render(d.locale(ctx, rule.UserID, locales), "recurring", category, localize.Params{
		"title":  rule.TitlePattern,
		"amount": rule.AverageAmount,
		"days":   days,
	})
	meta["deepLink"] = fmt.Sprintf("/recurring/%d", rule.ID)

	n, inserted, err := d.notifications.Insert(ctx, model.InAppNotification{
		UserID:   rule.UserID,
		Title:    title,
		Message:  body,
		Type:     model.NotifTypeBillDue,
		Metadata: meta,
	})
	if err != nil {
		return false, err
	}
	if inserted && d.hub != nil {
		d.hub.Notify(rule.UserID, *n)
	}
	return inserted, nil
}

func (d *RecurringDetector) locale(ctx context.Context, userID int64, cache map[int64]string) string {
	if l, ok := cache[userID]; ok {
		return l
	}
	l := "en"
	if d.users != nil {
		if u, err := d.users.GetByID(ctx, userID); err == nil {
			l = u.Locale
		}
	}
	cache[userID] = l
	return l
}
