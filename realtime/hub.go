package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// UserRoom — персональная комната пользователя; соединение попадает в неё
// автоматически после аутентифицированного рукопожатия.
func UserRoom(userID int) string {
	return fmt.Sprintf("user:%d", userID)
}

func TeamRoom(teamID int) string {
	return fmt.Sprintf("team:%d", teamID)
}

type outboundEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	RoomID  string      `json:"room_id,omitempty"`
}

// Hub ведёт комнаты и реестр присутствия. Это единственное разделяемое
// состояние между горутинами соединений; весь доступ к rooms — под mu.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client

	presence *PresenceRegistry

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	// membership: какие комнаты занимает соединение, для зачистки при выходе
	membership map[*Client]map[string]struct{}

	logger *slog.Logger
}

func NewHub(presence *PresenceRegistry, logger *slog.Logger) *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		presence:   presence,
		rooms:      make(map[string]map[*Client]struct{}),
		membership: make(map[*Client]map[string]struct{}),
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.presence.Register(client.UserID, client)
			h.JoinRoom(client, UserRoom(client.UserID))
			h.logger.Info("client connected", "user_id", client.UserID)

		case client := <-h.Unregister:
			h.dropClient(client)
			h.logger.Info("client disconnected", "user_id", client.UserID)
		}
	}
}

func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][client] = struct{}{}

	if _, ok := h.membership[client]; !ok {
		h.membership[client] = make(map[string]struct{})
	}
	h.membership[client][roomID] = struct{}{}
}

func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(client, roomID)
}

func (h *Hub) leaveRoomLocked(client *Client, roomID string) {
	if set, ok := h.rooms[roomID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if joined, ok := h.membership[client]; ok {
		delete(joined, roomID)
	}
}

func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	for roomID := range h.membership[client] {
		h.leaveRoomLocked(client, roomID)
	}
	delete(h.membership, client)
	h.mu.Unlock()

	h.presence.Unregister(client.UserID, client)
	client.closeSend()
}

// IsOnline и ListOnline делегируют реестру присутствия.
func (h *Hub) IsOnline(userID int) bool { return h.presence.IsOnline(userID) }
func (h *Hub) ListOnline() []int        { return h.presence.ListOnline() }

// PushToUser отправляет событие во все соединения пользователя.
// Отправка неблокирующая: переполненный клиент просто пропускается.
func (h *Hub) PushToUser(userID int, eventType string, payload interface{}) {
	message, err := h.marshal(outboundEvent{Type: eventType, Payload: payload})
	if err != nil {
		return
	}
	for _, client := range h.presence.Handles(userID) {
		if !client.trySend(message) {
			h.logger.Warn("dropping event for slow client", "user_id", userID, "type", eventType)
		}
	}
}

// PushToRoom отправляет событие всем соединениям комнаты.
func (h *Hub) PushToRoom(roomID, eventType string, payload interface{}) {
	h.pushToRoomExcept(nil, roomID, eventType, payload)
}

func (h *Hub) pushToRoomExcept(sender *Client, roomID, eventType string, payload interface{}) {
	message, err := h.marshal(outboundEvent{Type: eventType, Payload: payload, RoomID: roomID})
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		if client != sender {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.trySend(message) {
			h.logger.Warn("dropping room event for slow client", "room", roomID, "type", eventType)
		}
	}
}

func (h *Hub) marshal(event outboundEvent) ([]byte, error) {
	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", "type", event.Type, "error", err)
		return nil, err
	}
	return message, nil
}
