package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Event — кадр протокола поверх WebSocket, в обе стороны.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	RoomID  string          `json:"room_id,omitempty"`
}

type roomPayload struct {
	RoomID string `json:"room_id"`
}

type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	UserID   int
	UserName string

	mu       sync.Mutex
	isClosed bool
}

// closeSend закрывает канал отправки ровно один раз.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isClosed {
		close(c.Send)
		c.isClosed = true
	}
}

// trySend пишет кадр без блокировки. Полный или закрытый канал — пропуск:
// доставка best-effort, авторитетна долговременная запись в БД.
func (c *Client) trySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("unexpected websocket close", "user_id", c.UserID, "error", err)
			}
			break
		}
		c.handleEvent(message)
	}
}

func (c *Client) handleEvent(message []byte) {
	var event Event
	if err := json.Unmarshal(message, &event); err != nil {
		c.Hub.logger.Warn("malformed client event", "user_id", c.UserID, "error", err)
		return
	}

	var room roomPayload
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &room); err != nil {
			c.Hub.logger.Warn("malformed event payload", "user_id", c.UserID, "type", event.Type, "error", err)
			return
		}
	}
	if room.RoomID == "" {
		room.RoomID = event.RoomID
	}
	if room.RoomID == "" {
		return
	}

	switch event.Type {
	case "join_room":
		c.Hub.JoinRoom(c, room.RoomID)
	case "leave_room":
		c.Hub.LeaveRoom(c, room.RoomID)
	case "typing_start":
		c.Hub.pushToRoomExcept(c, room.RoomID, "user_typing", map[string]interface{}{
			"user_id":   c.UserID,
			"user_name": c.UserName,
		})
	case "typing_stop":
		c.Hub.pushToRoomExcept(c, room.RoomID, "user_stopped_typing", map[string]interface{}{
			"user_id":   c.UserID,
			"user_name": c.UserName,
		})
	default:
		c.Hub.logger.Debug("ignoring unknown client event", "user_id", c.UserID, "type", event.Type)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Сливаем накопившиеся кадры в тот же writer.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
