package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/budgetbell/internal/auth"
	"github.com/dukerupert/budgetbell/internal/localize"
	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/notify"
	"github.com/dukerupert/budgetbell/internal/quiethours"
	"github.com/dukerupert/budgetbell/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// UnreadNotifier pushes unread counts to live clients.
type UnreadNotifier interface {
	Unread(userID int64, count int)
}

type NotificationHandler struct {
	subscriptions *store.SubscriptionStore
	preferences   *store.PreferenceStore
	notifications *store.NotificationStore
	enqueuer      *notify.Enqueuer
	vapidKey      string
	live          UnreadNotifier
	logger        *slog.Logger
}

func NewNotificationHandler(
	subs *store.SubscriptionStore,
	prefs *store.PreferenceStore,
	notifications *store.NotificationStore,
	enqueuer *notify.Enqueuer,
	vapidKey string,
	live UnreadNotifier,
	logger *slog.Logger,
) *NotificationHandler {
	return &NotificationHandler{
		subscriptions: subs,
		preferences:   prefs,
		notifications: notifications,
		enqueuer:      enqueuer,
		vapidKey:      vapidKey,
		live:          live,
		logger:        logger,
	}
}

// subscribeRequest mirrors the browser's PushSubscription.toJSON().
type subscribeRequest struct {
	Endpoint       string                 `json:"endpoint"`
	ExpirationTime *int64                 `json:"expirationTime"`
	Keys           model.SubscriptionKeys `json:"keys"`
}

// Subscribe handles POST /notifications/subscribe
func (h *NotificationHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req subscribeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, keys.p256dh, and keys.auth are required")
		return
	}

	sub, err := h.subscriptions.Upsert(r.Context(), userID, req.Endpoint, req.Keys, r.UserAgent())
	if err != nil {
		h.logger.Error("upsert push subscription", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe handles DELETE /notifications/subscribe. Without an endpoint
// every subscription of the caller is deactivated and push is switched off.
func (h *NotificationHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req unsubscribeRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := h.subscriptions.Deactivate(r.Context(), userID, req.Endpoint); err != nil {
		h.logger.Error("deactivate push subscription", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to remove subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPreferences handles GET /notifications/preferences
func (h *NotificationHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	pref, err := h.preferences.Get(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get preferences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get preferences")
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

type updatePreferencesRequest struct {
	Frequency    *string           `json:"frequency"`
	PushEnabled  *bool             `json:"push_enabled"`
	EmailEnabled *bool             `json:"email_enabled"`
	QuietHours   *model.QuietHours `json:"quiet_hours"`
}

// UpdatePreferences handles PUT /notifications/preferences. Omitted fields
// keep their stored value.
func (h *NotificationHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req updatePreferencesRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	pref, err := h.preferences.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("get preferences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get preferences")
		return
	}

	if req.Frequency != nil {
		if !model.ValidFrequency(*req.Frequency) {
			writeError(w, http.StatusBadRequest, "frequency must be one of disabled, gentle, aggressive, relentless")
			return
		}
		pref.Frequency = *req.Frequency
	}
	if req.PushEnabled != nil {
		pref.PushEnabled = *req.PushEnabled
	}
	if req.EmailEnabled != nil {
		pref.EmailEnabled = *req.EmailEnabled
	}
	if req.QuietHours != nil {
		if err := quiethours.Validate(*req.QuietHours); err != nil {
			writeError(w, http.StatusBadRequest, "invalid quiet hours: "+err.Error())
			return
		}
		pref.QuietHours = *req.QuietHours
	}

	if err := h.preferences.Update(r.Context(), *pref); err != nil {
		h.logger.Error("update preferences", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to update preferences")
		return
	}

	updated, err := h.preferences.Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get preferences")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type listResponse struct {
	Notifications []model.InAppNotification `json:"notifications"`
	Unread        int                       `json:"unread"`
}

// List handles GET /notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	list, err := h.notifications.ListByUser(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("list notifications", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	unread, err := h.notifications.CountUnread(r.Context(), userID)
	if err != nil {
		h.logger.Error("count unread notifications", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if list == nil {
		list = []model.InAppNotification{}
	}
	writeJSON(w, http.StatusOK, listResponse{Notifications: list, Unread: unread})
}

// MarkRead handles POST /notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.notifications.MarkRead(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		h.logger.Error("mark notification read", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to mark notification read")
		return
	}

	unread, err := h.notifications.CountUnread(r.Context(), userID)
	if err != nil {
		h.logger.Warn("count unread notifications", "error", err)
	} else if h.live != nil {
		h.live.Unread(userID, unread)
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": unread})
}

// GetVAPIDKey handles GET /notifications/vapid-key
func (h *NotificationHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if h.vapidKey == "" {
		writeError(w, http.StatusServiceUnavailable, "push is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidKey})
}

// Test handles POST /notifications/test. The job goes through the queue
// like any other notification.
func (h *NotificationHandler) Test(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	title, body := localize.Render(auth.Locale(r.Context()), "test", "ping", nil)

	job, err := h.enqueuer.Enqueue(r.Context(), notify.Request{
		UserID:  userID,
		Type:    model.NotifTypeTest,
		Title:   title,
		Message: body,
		Data:    model.JobData{DeepLink: "/settings/notifications"},
		Push:    true,
	})
	if err != nil {
		h.logger.Error("enqueue test notification", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to queue test notification")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}
