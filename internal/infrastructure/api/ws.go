package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	gwebsocket "github.com/gorilla/websocket"

	"github.com/yebrai/dmchat/internal/application/respond"
	"github.com/yebrai/dmchat/internal/websocket"
)

// newUpgrader accepts same-origin upgrades plus the configured CORS origin.
func newUpgrader(allowedOrigin string) *gwebsocket.Upgrader {
	return &gwebsocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if allowedOrigin == "*" || (allowedOrigin != "" && origin == allowedOrigin) {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return u.Host == r.Host
		},
	}
}

// serveWs authenticates the upgrade request and hands the connection to the hub.
// GET /ws
func serveWs(hub *websocket.Hub, resolver IdentityResolver, upgrader *gwebsocket.Upgrader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := resolver.Resolve(r)
		if err != nil {
			respond.Error(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response.
			logger.Warn("websocket upgrade failed", "user_id", id.UserID, "error", err)
			return
		}

		// The connection outlives the upgrade request.
		ctx := context.WithoutCancel(r.Context())
		client := websocket.NewClient(hub, conn, id.UserID, id.Username)
		if !hub.Connect(ctx, client) {
			_ = conn.Close()
			return
		}
		client.Run(ctx)
	}
}
