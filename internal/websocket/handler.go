package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/budgetbell/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and streams the caller's
// notifications until the connection closes.
func HandleWebSocket(hub *Hub, allowedOrigins []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		if userID == 0 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: allowedOrigins,
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err, "user_id", userID)
			return
		}
		defer conn.CloseNow()

		NewClient(hub, conn, userID).Run(r.Context())
	}
}
