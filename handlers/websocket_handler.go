package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/teamhub/teamhub/middleware"
	"github.com/teamhub/teamhub/realtime"
)

const clientSendBuffer = 256

var errInvalidIdentity = errors.New("token carries no valid user identity")

type WebSocketHandler struct {
	hub       *realtime.Hub
	jwtSecret []byte
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

func NewWebSocketHandler(hub *realtime.Hub, jwtSecret string, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:       hub,
		jwtSecret: []byte(jwtSecret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin фильтрует CORS-мидлварь на общем роутере.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeWS аутентифицирует рукопожатие ДО апгрейда: браузерный WebSocket
// не умеет ставить заголовки, поэтому токен принимаем и из query.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		header := r.Header.Get("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			tokenString = strings.TrimPrefix(header, "Bearer ")
		}
	}
	if tokenString == "" {
		unauthorizedResponse(w, r, "missing authentication token")
		return
	}

	claims, err := middleware.ParseToken(tokenString, h.jwtSecret)
	if err != nil {
		unauthorizedResponse(w, r, "invalid authentication token")
		return
	}

	userID, userName, err := identityFromClaims(claims)
	if err != nil {
		unauthorizedResponse(w, r, "invalid authentication token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам пишет ответ при отказе.
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	client := &realtime.Client{
		Hub:      h.hub,
		Conn:     conn,
		Send:     make(chan []byte, clientSendBuffer),
		UserID:   userID,
		UserName: userName,
	}

	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

func identityFromClaims(claims map[string]interface{}) (int, string, error) {
	userIDFloat, ok := claims["user_id"].(float64)
	if !ok || userIDFloat <= 0 {
		return 0, "", errInvalidIdentity
	}
	name, _ := claims["name"].(string)
	return int(userIDFloat), name, nil
}
