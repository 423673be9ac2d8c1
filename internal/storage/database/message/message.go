package message

import (
	"context"
	"time"

	apimsg "chat-client/internal/message"
)

// MessageRepository message 倉儲接口.
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	ListPage(ctx context.Context, roomID string, limit int64, cursor *string) ([]*Message, *string, error)
	Edit(ctx context.Context, id, newContent string) (*Message, error)
	TombstoneAll(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	ListExpired(ctx context.Context, now time.Time) ([]*Message, error)
}

// Message message 數據模型（devserver 存儲格式）.
type Message struct {
	ID                string            `bson:"_id,omitempty" json:"id"`
	ChatRoomID        string            `bson:"chat_room_id" json:"chat_room_id"`
	SenderID          string            `bson:"sender_id" json:"sender_id"`
	Content           string            `bson:"content" json:"content"`
	ContentCiphertext string            `bson:"content_ciphertext,omitempty" json:"contentCiphertext,omitempty"`
	EncryptedKeys     map[string]string `bson:"encrypted_keys,omitempty" json:"encryptedKeys,omitempty"`
	ClientTag         string            `bson:"client_tag,omitempty" json:"client_tag,omitempty"`
	Attachments       []apimsg.Attachment `bson:"attachments,omitempty" json:"attachments,omitempty"`
	DeletedForAll     bool              `bson:"deleted_for_all" json:"deleted_for_all"`
	ExpireAt          *time.Time        `bson:"expire_at,omitempty" json:"-"`
	CreatedAt         time.Time         `bson:"created_at" json:"created_at"`
	EditedAt          *time.Time        `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
}

// ToWire 轉換為客戶端合約的訊息格式.
func (m *Message) ToWire() apimsg.Message {
	return apimsg.Message{
		ID:                m.ID,
		ChatRoomID:        m.ChatRoomID,
		SenderID:          m.SenderID,
		Content:           m.Content,
		ContentCiphertext: m.ContentCiphertext,
		EncryptedKeys:     m.EncryptedKeys,
		ClientTag:         m.ClientTag,
		Attachments:       m.Attachments,
		DeletedForAll:     m.DeletedForAll,
		CreatedAt:         m.CreatedAt,
		EditedAt:          m.EditedAt,
	}
}
