package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/budgetbell/internal/auth"
	"github.com/dukerupert/budgetbell/internal/database"
	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/notify"
	"github.com/dukerupert/budgetbell/internal/store"
)

type fixture struct {
	db            *sql.DB
	users         *store.UserStore
	subs          *store.SubscriptionStore
	prefs         *store.PreferenceStore
	notifications *store.NotificationStore
	queue         *store.QueueStore
	budgets       *store.BudgetStore
	rules         *store.RecurringRuleStore
	enqueuer      *notify.Enqueuer
	logger        *slog.Logger
	userID        int64
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:            db,
		users:         store.NewUserStore(db),
		subs:          store.NewSubscriptionStore(db),
		prefs:         store.NewPreferenceStore(db),
		notifications: store.NewNotificationStore(db),
		queue:         store.NewQueueStore(db),
		budgets:       store.NewBudgetStore(db),
		rules:         store.NewRecurringRuleStore(db),
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	f.enqueuer = notify.NewEnqueuer(f.prefs, f.queue, f.logger)

	u, err := f.users.Create(context.Background(), "sam@example.com", "en", model.PlanFree)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	f.userID = u.ID
	return f
}

// request builds a request authenticated as the fixture's user.
func (f *fixture) request(method, target string, body any) *http.Request {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, _ := json.Marshal(b)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	return req.WithContext(auth.WithCaller(req.Context(), auth.Caller{UserID: f.userID, Locale: "en"}))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}
