package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/budgetbell/internal/auth"
	"github.com/dukerupert/budgetbell/internal/database"
	"github.com/dukerupert/budgetbell/internal/detector"
	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/store"
)

type RecurringRuleHandler struct {
	rules   *store.RecurringRuleStore
	service *detector.RuleService
	budgets *store.BudgetStore
	logger  *slog.Logger
}

func NewRecurringRuleHandler(rules *store.RecurringRuleStore, service *detector.RuleService, budgets *store.BudgetStore, logger *slog.Logger) *RecurringRuleHandler {
	return &RecurringRuleHandler{rules: rules, service: service, budgets: budgets, logger: logger}
}

// List handles GET /recurring-rules
func (h *RecurringRuleHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list recurring rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list recurring rules")
		return
	}
	if rules == nil {
		rules = []model.RecurringRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

type createRuleRequest struct {
	TitlePattern   string          `json:"title_pattern"`
	AverageAmount  decimal.Decimal `json:"average_amount"`
	Cadence        string          `json:"cadence"`
	NextDueDate    string          `json:"next_due_date"`
	BudgetFolderID *int64          `json:"budget_folder_id"`
	Active         *bool           `json:"active"`
}

// Create handles POST /recurring-rules
func (h *RecurringRuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req createRuleRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	due, err := time.Parse(database.DateFormat, req.NextDueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "next_due_date must be YYYY-MM-DD")
		return
	}
	if req.AverageAmount.IsNegative() {
		writeError(w, http.StatusBadRequest, "average_amount must not be negative")
		return
	}
	if req.BudgetFolderID != nil {
		folder, err := h.budgets.GetFolder(r.Context(), *req.BudgetFolderID)
		if err != nil || folder.UserID != userID {
			writeError(w, http.StatusBadRequest, "unknown budget folder")
			return
		}
	}

	rule := model.RecurringRule{
		UserID:         userID,
		TitlePattern:   req.TitlePattern,
		AverageAmount:  req.AverageAmount,
		Cadence:        req.Cadence,
		NextDueDate:    due,
		BudgetFolderID: req.BudgetFolderID,
		Active:         req.Active == nil || *req.Active,
	}

	created, err := h.service.Create(r.Context(), rule)
	switch {
	case errors.Is(err, detector.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, detector.ErrFreeTierLimit):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.logger.Error("create recurring rule", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to save recurring rule")
	default:
		writeJSON(w, http.StatusCreated, created)
	}
}

// Delete handles DELETE /recurring-rules/{id}
func (h *RecurringRuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.rules.Delete(r.Context(), auth.UserID(r.Context()), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recurring rule not found")
			return
		}
		h.logger.Error("delete recurring rule", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete recurring rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
