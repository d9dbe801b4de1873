package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dukerupert/budgetbell/internal/model"
)

// Message is the frame pushed to a user's open connections.
type Message struct {
	Type         string                   `json:"type"`
	Notification *model.InAppNotification `json:"notification,omitempty"`
	Unread       *int                     `json:"unread,omitempty"`
}

const (
	TypeNotificationCreated = "notification_created"
	TypeUnreadCount         = "unread_count"
)

// Hub tracks live connections per user.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
}

// Notify delivers a freshly inserted in-app notification to every open
// connection of userID. Slow clients drop the frame.
func (h *Hub) Notify(userID int64, n model.InAppNotification) {
	h.send(userID, Message{Type: TypeNotificationCreated, Notification: &n})
}

// Unread pushes the current unread count, used after mark-read.
func (h *Hub) Unread(userID int64, count int) {
	h.send(userID, Message{Type: TypeUnreadCount, Unread: &count})
}

func (h *Hub) send(userID int64, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal websocket message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("websocket client buffer full, dropping", "user_id", userID, "type", msg.Type)
		}
	}
}

// ClientCount returns the number of connections across all users.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// UserCount returns the number of users with at least one connection.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
