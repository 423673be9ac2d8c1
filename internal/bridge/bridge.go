package bridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"chat-client/internal/constants"
	"chat-client/internal/message"
	"chat-client/internal/platform/logger"

	"github.com/gorilla/websocket"
)

const (
	// 寫入封包的容許時間.
	writeWait = constants.DefaultSocketWriteWaitSeconds * time.Second

	// 等待下一個 pong 的容許時間.
	pongWait = constants.DefaultSocketPongWaitSeconds * time.Second

	// 送出 ping 的週期，必須小於 pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Bridge 即時事件橋.
// 維持一條持久的雙向通道；進入房間時送出 join，離開/換房時對前一房間
// 送出 leave 並卸下監聽。收到的封包原樣交給 handler（controller 的
// 解碼與序列化通道），讀取迴圈本身不碰任何列表狀態.
type Bridge struct {
	url     string
	token   string
	conn    *websocket.Conn
	handler func([]byte)

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// Dial 建立即時通道連線並啟動讀取迴圈.
func Dial(ctx context.Context, socketURL, token string, handler func([]byte)) (*Bridge, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, socketURL, header)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		url:     socketURL,
		token:   token,
		conn:    conn,
		handler: handler,
		done:    make(chan struct{}),
	}

	conn.SetReadLimit(constants.DefaultSocketMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go b.readPump()
	go b.pingLoop()

	return b, nil
}

// readPump 讀取迴圈：封包原樣交給 handler.
func (b *Bridge) readPump() {
	defer b.Close()
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warningf(context.Background(), "即時通道讀取中斷: %v", err)
			}
			return
		}
		if b.handler != nil {
			b.handler(data)
		}
	}
}

// pingLoop 週期性送出 ping 維持連線.
func (b *Bridge) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.writeMu.Lock()
			b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := b.conn.WriteMessage(websocket.PingMessage, nil)
			b.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Emit 送出具名事件封包.
func (b *Bridge) Emit(event string, payload interface{}) error {
	data, err := message.EncodeFrame(event, payload)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

// Join 加入單一聊天室.
func (b *Bridge) Join(roomID string) error {
	return b.Emit(message.WireJoinRoom, map[string]string{"roomId": roomID})
}

// JoinRooms 批次加入多個聊天室（初始連線時的房間清單）.
func (b *Bridge) JoinRooms(roomIDs []string) error {
	return b.Emit(message.WireJoinRooms, map[string][]string{"roomIds": roomIDs})
}

// Leave 離開聊天室.
func (b *Bridge) Leave(roomID string) error {
	return b.Emit(message.WireLeaveRoom, map[string]string{"roomId": roomID})
}

// Close 關閉連線並結束背景迴圈.
func (b *Bridge) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)

		b.writeMu.Lock()
		b.conn.SetWriteDeadline(time.Now().Add(writeWait))
		b.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		b.writeMu.Unlock()

		err = b.conn.Close()
	})
	return err
}
