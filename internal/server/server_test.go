package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukerupert/budgetbell/internal/auth"
	"github.com/dukerupert/budgetbell/internal/config"
	"github.com/dukerupert/budgetbell/internal/database"
	"github.com/dukerupert/budgetbell/internal/middleware"
	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/store"
)

func setupServer(t *testing.T) (*Server, http.Handler, int64) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.CronSecretHash, err = auth.HashSecret("cron")
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}

	srv, err := New(db, cfg, prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	u, err := store.NewUserStore(db).Create(context.Background(), "kim@example.com", "en", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return srv, srv.Router(), u.ID
}

func TestHealth(t *testing.T) {
	_, router, _ := setupServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got map[string]any
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["status"] != "ok" || got["push_configured"] != false {
		t.Errorf("body = %v", got)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestProcessorRequiresServiceAuth(t *testing.T) {
	_, router, _ := setupServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/notifications/processor", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestProcessorNotConfigured(t *testing.T) {
	_, router, _ := setupServer(t)

	req := httptest.NewRequest("POST", "/notifications/processor", nil)
	req.Header.Set(middleware.CronSecretHeader, "cron")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var got map[string]any
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["ok"] != false {
		t.Errorf("body = %v", got)
	}
}

func TestRecurringTrigger(t *testing.T) {
	srv, router, _ := setupServer(t)
	tok, err := srv.Resolver().Issue(0, auth.RoleService, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest("POST", "/notifications/recurring", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"inserted":{"dueToday":0,"dueSoon":0}`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestUserFlow(t *testing.T) {
	srv, router, userID := setupServer(t)
	tok, err := srv.Resolver().Issue(userID, "", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var r io.Reader
		if body != "" {
			r = bytes.NewBufferString(body)
		}
		req := httptest.NewRequest(method, path, r)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("GET", "/notifications/preferences", ""); rec.Code != http.StatusOK {
		t.Fatalf("preferences: status = %d", rec.Code)
	}
	if rec := do("POST", "/notifications/subscribe", `{"endpoint":"https://push.example/1","keys":{"p256dh":"a","auth":"b"}}`); rec.Code != http.StatusCreated {
		t.Fatalf("subscribe: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec := do("POST", "/recurring-rules", `{"title_pattern":"Rent","cadence":"monthly","next_due_date":"2026-07-01"}`); rec.Code != http.StatusCreated {
		t.Fatalf("create rule: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec := do("GET", "/notifications", ""); rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, router, _ := setupServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestDispatcherLogsComponentOnce(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Push.VAPIDPublicKey = "BPub"
	cfg.Push.VAPIDPrivateKey = "priv"

	var buf bytes.Buffer
	srv, err := New(db, cfg, prometheus.NewRegistry(), slog.New(slog.NewTextHandler(&buf, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	ctx := context.Background()
	u, err := store.NewUserStore(db).Create(ctx, "lee@example.com", "en", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	_, err = store.NewQueueStore(db).Enqueue(ctx, model.Job{
		UserID: u.ID, NotificationType: model.NotifTypeWeeklyDigest,
		Title: "Your week", Message: "m", Data: model.JobData{DeepLink: "/budgets"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res, err := srv.Runner().Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Sent != 1 {
		t.Fatalf("drain result = %+v, want one sent", res)
	}

	var found bool
	for _, line := range strings.Split(buf.String(), "\n") {
		if !strings.Contains(line, "batch processed") {
			continue
		}
		found = true
		if n := strings.Count(line, "component=dispatcher"); n != 1 {
			t.Errorf("component=dispatcher appears %d times in %q", n, line)
		}
	}
	if !found {
		t.Errorf("no batch log line in %q", buf.String())
	}
}
