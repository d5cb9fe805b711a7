package api

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/audiobooks/authd/internal/websocket"
)

// WSHandler handles the WebSocket upgrade endpoint GET /notifications/stream.
// Unlike a bearer-token API, the session cookie travels automatically with
// the browser's WebSocket handshake, so no token query parameter is needed —
// the caller must simply have already been resolved by Gateway.ResolveSession
// and pass LoginRequired, same as any other authenticated route.
type WSHandler struct {
	hub    *websocket.Hub
	logger *zap.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *websocket.Hub, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, logger: logger.Named("ws_handler")}
}

// ServeWS handles GET /notifications/stream. It subscribes the caller to
// their own notifications:<user_id> topic and blocks until the connection
// closes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	if user == nil {
		ErrUnauthorized(w)
		return
	}

	topics := []string{fmt.Sprintf("notifications:%s", user.ID.String())}

	client, err := websocket.NewClient(h.hub, w, r, topics, h.logger)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", zap.String("user_id", user.ID.String()), zap.Error(err))
		return
	}

	h.logger.Info("ws: client connected",
		zap.String("user_id", user.ID.String()),
		zap.String("remote_addr", r.RemoteAddr),
	)

	client.Run()

	h.logger.Info("ws: client disconnected",
		zap.String("user_id", user.ID.String()),
		zap.String("remote_addr", r.RemoteAddr),
	)
}
