package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"mcpanel/logging"
	"mcpanel/minecraft"
)

// ConsoleHandler bridges the server console to WebSocket clients
type ConsoleHandler struct {
	mgr      *minecraft.Manager
	upgrader websocket.Upgrader
}

// NewConsoleHandler creates a new ConsoleHandler
func NewConsoleHandler(mgr *minecraft.Manager) *ConsoleHandler {
	return &ConsoleHandler{
		mgr: mgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is handled at middleware level
			},
		},
	}
}

// ServeHTTP handles GET /api/console. Text frames from the client are console
// input; every supervisor event is sent back as JSON.
func (h *ConsoleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetSubsystemLogger("console")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger.Debug().Str("remote", r.RemoteAddr).Msg("console client connected")

	events, unsubscribe := h.mgr.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn().Err(err).Msg("console read error")
				}
				return
			}
			if err := h.mgr.SendCommand(string(msg)); err != nil {
				logger.Warn().Err(err).Msg("failed to send console command")
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug().Err(err).Msg("console write error")
				return
			}
		case <-done:
			return
		}
	}
}
