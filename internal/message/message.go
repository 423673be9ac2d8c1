package message

import (
	"fmt"
	"strings"
	"time"

	"chat-client/internal/constants"

	"github.com/google/uuid"
)

// Message 訊息數據模型.
// 時間線上每個伺服器 ID 只會有一個條目；pending 訊息先以暫時 ID 存在，
// 伺服器確認後原地替換（不會重複）.
type Message struct {
	ID            string          `json:"id"`
	ChatRoomID    string          `json:"chat_room_id"`
	SenderID      string          `json:"sender_id"`
	Content       string          `json:"content"`
	RawContent    string          `json:"raw_content,omitempty"`        // 解密前的原始內容（密文或降級渲染用）
	ContentCiphertext string      `json:"contentCiphertext,omitempty"`  // 端對端加密的內容密文
	EncryptedKeys map[string]string `json:"encryptedKeys,omitempty"`    // userID -> 封裝的內容密鑰
	ClientTag     string          `json:"client_tag,omitempty"`  // 樂觀發送與伺服器回播的對賬標記
	CreatedAt     time.Time       `json:"created_at"`
	EditedAt      *time.Time      `json:"edited_at,omitempty"`
	ExpireSeconds int             `json:"expire_seconds,omitempty"`
	DeletedForAll bool            `json:"deleted_for_all"`
	Pending       bool            `json:"pending"`
	Failed        bool            `json:"failed"`
	Undecryptable bool            `json:"undecryptable"`
	Attachments   []Attachment    `json:"attachments,omitempty"`
	Reactions     map[string]int  `json:"reactions,omitempty"`    // emoji -> 總數
	MyReactions   map[string]bool `json:"my_reactions,omitempty"` // 當前使用者按過的 emoji（切換按鈕狀態用）
	ReadBy        []string        `json:"read_by,omitempty"`
}

// Attachment 附件數據模型.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Name     string `json:"name,omitempty"`
}

// IsTemp 檢查是否為暫時 ID（尚未取得伺服器 ID）.
func (m *Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, constants.TempIDPrefix)
}

// HasReadBy 檢查指定使用者是否已讀.
func (m *Message) HasReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone 複製訊息（reducer 以純函數方式更新，不可原地修改舊快照）.
func (m Message) Clone() Message {
	out := m
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.EncryptedKeys != nil {
		out.EncryptedKeys = make(map[string]string, len(m.EncryptedKeys))
		for k, v := range m.EncryptedKeys {
			out.EncryptedKeys[k] = v
		}
	}
	if m.Reactions != nil {
		out.Reactions = make(map[string]int, len(m.Reactions))
		for k, v := range m.Reactions {
			out.Reactions[k] = v
		}
	}
	if m.MyReactions != nil {
		out.MyReactions = make(map[string]bool, len(m.MyReactions))
		for k, v := range m.MyReactions {
			out.MyReactions[k] = v
		}
	}
	if m.ReadBy != nil {
		out.ReadBy = append([]string(nil), m.ReadBy...)
	}
	return out
}

// Tombstone 將訊息原地墓碑化（「對所有人刪除」）.
// 保留 ID 與 CreatedAt 以維持版面穩定，清空內容與附件.
func (m Message) Tombstone() Message {
	out := m.Clone()
	out.Content = ""
	out.RawContent = ""
	out.ContentCiphertext = ""
	out.EncryptedKeys = nil
	out.Attachments = nil
	out.Reactions = nil
	out.MyReactions = nil
	out.DeletedForAll = true
	return out
}

// NewTempID 生成暫時訊息 ID.
// 格式: temp-<unix 納秒>-<短隨機後綴>，前綴與伺服器 ID 明確區隔.
func NewTempID(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", constants.TempIDPrefix, now.UnixNano(), uuid.New().String()[:8])
}
