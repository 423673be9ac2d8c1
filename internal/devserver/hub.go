package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"chat-client/internal/constants"
	"chat-client/internal/message"
	"chat-client/internal/platform/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = constants.DefaultSocketWriteWaitSeconds * time.Second
	pongWait   = constants.DefaultSocketPongWaitSeconds * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 本地開發工具，不限制來源
	},
}

// Hub 即時通道樞紐.
// 追蹤每個聊天室的連線並廣播伺服器事件.
// 刻意對整個房間廣播所有事件（包括 scope=me 的刪除），
// 讓客戶端的過濾邏輯被實際演練.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]bool
}

// client ws 連線與樞紐之間的中間人.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string

	mu    sync.Mutex
	rooms map[string]bool
}

// NewHub 創建樞紐.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*client]bool),
	}
}

// Broadcast 向聊天室廣播具名事件.
func (h *Hub) Broadcast(roomID, event string, payload interface{}) {
	data, err := message.EncodeFrame(event, payload)
	if err != nil {
		logger.Errorf(context.Background(), "事件編碼失敗: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomID] {
		select {
		case c.send <- data:
		default:
			// 慢速消費者：丟棄而不阻塞廣播
		}
	}
}

// joinRoom 將連線加入聊天室.
func (h *Hub) joinRoom(c *client, roomID string) {
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*client]bool)
	}
	h.rooms[roomID][c] = true
	h.mu.Unlock()

	c.mu.Lock()
	c.rooms[roomID] = true
	c.mu.Unlock()
}

// leaveRoom 將連線移出聊天室.
func (h *Hub) leaveRoom(c *client, roomID string) {
	h.mu.Lock()
	if clients := h.rooms[roomID]; clients != nil {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()

	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// drop 移除連線的所有房間註冊.
func (h *Hub) drop(c *client) {
	c.mu.Lock()
	roomIDs := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		roomIDs = append(roomIDs, roomID)
	}
	c.mu.Unlock()

	for _, roomID := range roomIDs {
		h.leaveRoom(c, roomID)
	}
}

// ServeWS 升級 HTTP 連線並啟動讀寫迴圈.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf(r.Context(), "ws 升級失敗: %v", err)
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, constants.MessageChannelBuffer),
		userID: r.URL.Query().Get("user_id"),
		rooms:  make(map[string]bool),
	}

	go c.writePump()
	go c.readPump()
}

// readPump 讀取客戶端事件並處理 join/leave 與轉發.
func (c *client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(constants.DefaultSocketMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(data)
	}
}

// clientFrame 客戶端事件的 payload 形狀.
type clientFrame struct {
	RoomID    string   `json:"roomId"`
	RoomIDs   []string `json:"roomIds"`
	MessageID string   `json:"messageId"`
	UserID    string   `json:"userId"`
}

// handleFrame 處理單個客戶端事件.
func (c *client) handleFrame(data []byte) {
	ev, err := message.DecodeFrame(data)
	if err != nil {
		// join/leave 等客戶端事件不在伺服器事件集合內，直接用鬆散解碼
		var frame struct {
			Event   string      `json:"event"`
			Payload clientFrame `json:"payload"`
		}
		if jsonErr := json.Unmarshal(data, &frame); jsonErr != nil {
			logger.Warningf(context.Background(), "忽略無法解析的客戶端封包: %v", jsonErr)
			return
		}

		switch frame.Event {
		case message.WireJoinRoom:
			c.hub.joinRoom(c, frame.Payload.RoomID)
		case message.WireLeaveRoom:
			c.hub.leaveRoom(c, frame.Payload.RoomID)
		case message.WireJoinRooms:
			for _, roomID := range frame.Payload.RoomIDs {
				c.hub.joinRoom(c, roomID)
			}
		default:
			logger.Warningf(context.Background(), "忽略未知的客戶端事件: %s", frame.Event)
		}
		return
	}

	// 已讀回執與輸入指示：原樣廣播給房間其他成員
	switch ev.Type {
	case message.EventMessageRead:
		c.hub.Broadcast(ev.RoomID, message.WireMessageRead, map[string]string{
			"roomId":    ev.RoomID,
			"messageId": ev.MessageID,
			"readerId":  ev.ReaderID,
		})
	case message.EventUserTyping:
		c.hub.Broadcast(ev.RoomID, message.WireUserTyping, map[string]string{
			"roomId": ev.RoomID,
			"userId": ev.UserID,
		})
	case message.EventUserStoppedTyping:
		c.hub.Broadcast(ev.RoomID, message.WireUserStoppedTyping, map[string]string{
			"roomId": ev.RoomID,
			"userId": ev.UserID,
		})
	}
}

// writePump 將樞紐送來的事件寫到連線.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
