package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/budgetbell/internal/database"
	"github.com/dukerupert/budgetbell/internal/detector"
	"github.com/dukerupert/budgetbell/internal/push"
	"github.com/dukerupert/budgetbell/internal/scheduler"
)

// Scheduler is the set of entrypoints exposed to external cron triggers.
type Scheduler interface {
	Drain(ctx context.Context) (scheduler.DrainResult, error)
	RunRecurring(ctx context.Context) (detector.RecurringResult, time.Time, error)
	RunDigest(ctx context.Context) (int, error)
}

type SchedulerHandler struct {
	runner Scheduler
	logger *slog.Logger
}

func NewSchedulerHandler(runner Scheduler, logger *slog.Logger) *SchedulerHandler {
	return &SchedulerHandler{runner: runner, logger: logger}
}

type processResponse struct {
	OK        bool   `json:"ok"`
	Processed int    `json:"processed"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Retried   int    `json:"retried"`
	Deferred  int    `json:"deferred"`
	Rounds    int    `json:"rounds"`
	Skipped   bool   `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Process handles POST /notifications/processor
func (h *SchedulerHandler) Process(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.Drain(r.Context())
	resp := processResponse{
		OK:        err == nil,
		Processed: res.Processed,
		Sent:      res.Sent,
		Failed:    res.Failed,
		Retried:   res.Retried,
		Deferred:  res.Deferred,
		Rounds:    res.Rounds,
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, scheduler.ErrBusy):
		resp.OK = true
		resp.Skipped = true
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, push.ErrNotConfigured):
		h.logger.Error("processor not configured", "error", err)
		resp.Error = "push transport is not configured"
		writeJSON(w, http.StatusInternalServerError, resp)
	default:
		h.logger.Error("drain queue", "error", err)
		resp.Error = "failed to process notification queue"
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

type recurringResponse struct {
	Inserted detector.RecurringResult `json:"inserted"`
	Date     string                   `json:"date"`
	Skipped  bool                     `json:"skipped,omitempty"`
}

// Recurring handles POST /notifications/recurring
func (h *SchedulerHandler) Recurring(w http.ResponseWriter, r *http.Request) {
	res, today, err := h.runner.RunRecurring(r.Context())
	if errors.Is(err, scheduler.ErrBusy) {
		writeJSON(w, http.StatusOK, recurringResponse{Date: today.Format(database.DateFormat), Skipped: true})
		return
	}
	if err != nil {
		h.logger.Error("run recurring detector", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to evaluate recurring rules")
		return
	}
	writeJSON(w, http.StatusOK, recurringResponse{Inserted: res, Date: today.Format(database.DateFormat)})
}

// Digest handles POST /notifications/digest
func (h *SchedulerHandler) Digest(w http.ResponseWriter, r *http.Request) {
	n, err := h.runner.RunDigest(r.Context())
	if errors.Is(err, scheduler.ErrBusy) {
		writeJSON(w, http.StatusOK, map[string]any{"enqueued": 0, "skipped": true})
		return
	}
	if err != nil {
		h.logger.Error("run weekly digest", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate digest")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"enqueued": n})
}
