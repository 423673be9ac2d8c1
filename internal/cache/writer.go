package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat-client/internal/message"
	"chat-client/internal/platform/config"

	"github.com/redis/go-redis/v9"
)

// Writer 本地快取協作者.
// 為外部搜尋/媒體功能維護一份訊息索引：本子系統只寫不讀.
type Writer struct {
	client *redis.Client
	ttl    time.Duration
}

// indexEntry 寫入快取的索引條目（只保留搜尋需要的欄位）.
type indexEntry struct {
	ID          string    `json:"id"`
	ChatRoomID  string    `json:"chat_room_id"`
	SenderID    string    `json:"sender_id"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	Attachments int       `json:"attachments"`
}

// NewWriter 創建快取寫入器.
func NewWriter(cfg config.CacheConfig) *Writer {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ttl := time.Duration(cfg.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Writer{client: client, ttl: ttl}
}

// IndexMessage 寫入訊息索引.
// 墓碑與暫時訊息不進索引；無法解密的訊息以空內容寫入（媒體索引仍有用）.
func (w *Writer) IndexMessage(ctx context.Context, m message.Message) error {
	if m.DeletedForAll || m.IsTemp() {
		return nil
	}

	content := m.Content
	if m.Undecryptable {
		content = ""
	}

	entry := indexEntry{
		ID:          m.ID,
		ChatRoomID:  m.ChatRoomID,
		SenderID:    m.SenderID,
		Content:     content,
		CreatedAt:   m.CreatedAt,
		Attachments: len(m.Attachments),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("msgindex:%s:%s", m.ChatRoomID, m.ID)
	return w.client.Set(ctx, key, data, w.ttl).Err()
}

// Close 關閉連線.
func (w *Writer) Close() error {
	return w.client.Close()
}
