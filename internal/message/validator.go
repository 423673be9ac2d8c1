package message

import (
	"errors"
	"strings"

	"chat-client/internal/constants"
)

// SendRequest 發送訊息請求（樂觀發送管理器建構的 payload）.
type SendRequest struct {
	ChatRoomID        string       `json:"chatRoomId"`
	ExpireSeconds     int          `json:"expireSeconds,omitempty"`
	AttachmentsInline []Attachment `json:"attachmentsInline,omitempty"`
	Content           string       `json:"content,omitempty"`
	ContentCiphertext string       `json:"contentCiphertext,omitempty"`
	EncryptedKeys     map[string]string `json:"encryptedKeys,omitempty"`
	ClientTag         string       `json:"clientTag,omitempty"`
}

// ValidateSendRequest 驗證發送請求.
// 純本地驗證；伺服器端拒絕另走 ValidationError 路徑.
func ValidateSendRequest(req *SendRequest) error {
	if strings.TrimSpace(req.ChatRoomID) == "" {
		return errors.New("chatRoomId cannot be empty")
	}

	if strings.TrimSpace(req.Content) == "" && req.ContentCiphertext == "" && len(req.AttachmentsInline) == 0 {
		return errors.New("message must have content or attachments")
	}

	if len(req.Content) > constants.DefaultMaxMessageLength {
		return errors.New("content too long")
	}

	if len(req.AttachmentsInline) > constants.DefaultMaxAttachments {
		return errors.New("too many attachments")
	}

	if req.ExpireSeconds < 0 {
		return errors.New("expireSeconds cannot be negative")
	}

	return nil
}
