package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"market-rtc/internal/auth"
	"market-rtc/internal/realtime"
	"market-rtc/pkg/logger"
)

type WebSocketHandlers struct {
	authService *auth.Service
	engine      *realtime.Engine
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, engine *realtime.Engine) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		engine:      engine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Get JWT token from query parameters
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	// Validate token and resolve the identity
	identity, err := h.authService.ValidateToken(tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// Upgrade connection to WebSocket
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	// Admit the connection and start the pumps
	conn := h.engine.Connect(identity.ID)
	client := realtime.NewClient(h.engine, conn, ws)

	logger.Infow("websocket connected", "identity", identity.ID, "conn_id", conn.ID)

	go client.WritePump()
	go client.ReadPump()
}
