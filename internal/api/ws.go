package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/auth"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/metrics"
)

// HandleWebSocket authenticates the handshake, upgrades the connection and
// hands it to the hub. A bad credential is refused before the upgrade.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	session, err := h.auth.Authenticate(auth.HandshakeFromRequest(r))
	if err != nil {
		metrics.HubAuthFailuresTotal.Inc()
		h.log.Info("websocket handshake refused", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		h.fail(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	client := h.hub.Connect(session, conn)
	h.log.Info("websocket connection established",
		zap.String("connection_id", session.ConnectionID),
		zap.String("identity", session.Identity),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)
	go h.hub.Serve(client)
}
