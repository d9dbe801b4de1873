package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/budgetbell/internal/auth"
	"github.com/dukerupert/budgetbell/internal/detector"
	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/store"
)

// BudgetEvaluator runs threshold detection for a folder.
type BudgetEvaluator interface {
	Evaluate(ctx context.Context, userID, folderID int64) detector.Threshold
}

type BudgetHandler struct {
	budgets  *store.BudgetStore
	detector BudgetEvaluator
	logger   *slog.Logger
}

func NewBudgetHandler(budgets *store.BudgetStore, d BudgetEvaluator, logger *slog.Logger) *BudgetHandler {
	return &BudgetHandler{budgets: budgets, detector: d, logger: logger}
}

type createFolderRequest struct {
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	Allocated decimal.Decimal `json:"allocated"`
}

// CreateFolder handles POST /budget-folders
func (h *BudgetHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Kind == "" {
		req.Kind = model.FolderKindExpense
	}
	if req.Kind != model.FolderKindExpense && req.Kind != model.FolderKindIncome {
		writeError(w, http.StatusBadRequest, "kind must be expense or income")
		return
	}
	if req.Allocated.IsNegative() {
		writeError(w, http.StatusBadRequest, "allocated must not be negative")
		return
	}

	folder, err := h.budgets.CreateFolder(r.Context(), auth.UserID(r.Context()), req.Name, req.Kind, req.Allocated)
	if err != nil {
		h.logger.Error("create budget folder", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create budget folder")
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

type createTransactionRequest struct {
	BudgetFolderID *int64          `json:"budget_folder_id"`
	Title          string          `json:"title"`
	Amount         decimal.Decimal `json:"amount"`
	Kind           string          `json:"kind"`
	OccurredAt     *time.Time      `json:"occurred_at"`
}

type createTransactionResponse struct {
	Transaction *model.Transaction `json:"transaction"`
	Alert       detector.Threshold `json:"alert,omitempty"`
}

// CreateTransaction handles POST /transactions. Budget detection runs after
// the write and never fails the request.
func (h *BudgetHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req createTransactionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if req.Kind == "" {
		req.Kind = model.TxnKindExpense
	}
	if req.Kind != model.TxnKindExpense && req.Kind != model.TxnKindIncome {
		writeError(w, http.StatusBadRequest, "kind must be expense or income")
		return
	}
	if req.BudgetFolderID != nil {
		folder, err := h.budgets.GetFolder(r.Context(), *req.BudgetFolderID)
		if err != nil || folder.UserID != userID {
			writeError(w, http.StatusBadRequest, "unknown budget folder")
			return
		}
	}

	occurred := time.Now()
	if req.OccurredAt != nil {
		occurred = *req.OccurredAt
	}

	txn, err := h.budgets.CreateTransaction(r.Context(), model.Transaction{
		UserID:         userID,
		BudgetFolderID: req.BudgetFolderID,
		Title:          strings.TrimSpace(req.Title),
		Amount:         req.Amount,
		Kind:           req.Kind,
		OccurredAt:     occurred.UTC(),
	})
	if err != nil {
		h.logger.Error("create transaction", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to record transaction")
		return
	}

	resp := createTransactionResponse{Transaction: txn}
	if txn.BudgetFolderID != nil && txn.Kind == model.TxnKindExpense && h.detector != nil {
		resp.Alert = h.detector.Evaluate(r.Context(), userID, *txn.BudgetFolderID)
	}
	writeJSON(w, http.StatusCreated, resp)
}
