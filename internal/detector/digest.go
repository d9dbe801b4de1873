package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/budgetbell/internal/localize"
	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/notify"
	"github.com/dukerupert/budgetbell/internal/store"
)

// DigestGenerator enqueues one weekly spending summary per active user.
type DigestGenerator struct {
	budgets  *store.BudgetStore
	queue    *store.QueueStore
	users    *store.UserStore
	enqueuer *notify.Enqueuer
	logger   *slog.Logger
}

func NewDigestGenerator(budgets *store.BudgetStore, queue *store.QueueStore, users *store.UserStore, enqueuer *notify.Enqueuer, logger *slog.Logger) *DigestGenerator {
	return &DigestGenerator{
		budgets:  budgets,
		queue:    queue,
		users:    users,
		enqueuer: enqueuer,
		logger:   logger.With("component", "digest"),
	}
}

// WeekKey identifies an ISO week, e.g. "2026-W11".
func WeekKey(t time.Time) string {
	y, w := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

// Run summarises expenses in the seven days before now and enqueues a digest
// for every user who spent something. Users who already have a digest for
// this ISO week are skipped. It returns the number of digests enqueued.
func (g *DigestGenerator) Run(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	summaries, err := g.budgets.SummarizeExpenses(ctx, now.AddDate(0, 0, -7), now)
	if err != nil {
		return 0, err
	}

	week := WeekKey(now)
	enqueued := 0
	for _, s := range summaries {
		if err := ctx.Err(); err != nil {
			return enqueued, err
		}
		logger := g.logger.With("user_id", s.UserID)

		match := map[string]any{"week": week}
		seen, err := g.queue.HasJobWithData(ctx, s.UserID, []string{model.NotifTypeWeeklyDigest}, match)
		if err != nil {
			logger.Error("check digest", "error", err)
			continue
		}
		if seen {
			continue
		}

		locale := "en"
		if u, err := g.users.GetByID(ctx, s.UserID); err == nil {
			locale = u.Locale
		}
		title, body := localize.Render(locale, "digest", "weekly", localize.Params{
			"total": s.Total,
			"count": s.Count,
		})

		_, err = g.enqueuer.Enqueue(ctx, notify.Request{
			UserID:  s.UserID,
			Type:    model.NotifTypeWeeklyDigest,
			Title:   title,
			Message: body,
			Data: model.JobData{
				DeepLink: "/insights/weekly",
				Extra: map[string]any{
					"week":  week,
					"total": s.Total.StringFixed(2),
					"count": s.Count,
				},
			},
			Push:         true,
			Email:        true,
			ScheduledFor: now,
		})
		if err != nil {
			logger.Error("enqueue digest", "error", err)
			continue
		}
		enqueued++
	}

	g.logger.Info("weekly digest generated", "week", week, "users", len(summaries), "enqueued", enqueued)
	return enqueued, nil
}
