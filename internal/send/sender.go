package send

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"chat-client/internal/constants"
	"chat-client/internal/httputil"
	"chat-client/internal/message"
	"chat-client/internal/platform/logger"
)

// Encryptor 加密協作者（外部擁有的合約）.
// 嚴格加密房間的明文在發送前替換為密文加上每位收件者的封裝密鑰；
// 此處失敗即在本地中止發送，payload 不會觸網.
type Encryptor interface {
	EncryptForRoom(participants []string, plaintext, senderID string) (ciphertext string, encryptedKeys map[string]string, err error)
}

// Sender 發送傳輸層.
// 樂觀列表變更由 controller 負責；這裡只管 payload 建構與 REST 往返.
type Sender struct {
	baseURL   string
	token     string
	client    *http.Client
	strict    bool
	encryptor Encryptor
	senderID  string
}

// NewSender 創建發送傳輸層.
func NewSender(baseURL, token, senderID string, strict bool, encryptor Encryptor) *Sender {
	return &Sender{
		baseURL:   baseURL,
		token:     token,
		senderID:  senderID,
		strict:    strict,
		encryptor: encryptor,
		client: &http.Client{
			Timeout: constants.DefaultSendTimeout * time.Second,
		},
	}
}

// BuildRequest 建構發送 payload.
// 嚴格加密模式下呼叫加密協作者；失敗回傳 EncryptError，發送中止.
func (s *Sender) BuildRequest(roomID, text string, attachments []message.Attachment, ttlSeconds int, participants []string, clientTag string) (*message.SendRequest, error) {
	req := &message.SendRequest{
		ChatRoomID:        roomID,
		ExpireSeconds:     ttlSeconds,
		AttachmentsInline: attachments,
		ClientTag:         clientTag,
	}

	if s.strict && s.encryptor != nil && text != "" {
		ciphertext, keys, err := s.encryptor.EncryptForRoom(participants, text, s.senderID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", httputil.ErrEncrypt, err)
		}
		req.ContentCiphertext = ciphertext
		req.EncryptedKeys = keys
	} else {
		req.Content = text
	}

	if err := message.ValidateSendRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", httputil.ErrValidation, err)
	}

	return req, nil
}

// Post 發送訊息.
// 成功回傳伺服器確認的訊息；失敗依狀態碼映射為發送錯誤分類，
// 傳輸層失敗歸入可重試的 catch-all.
func (s *Sender) Post(ctx context.Context, req *message.SendRequest) (*message.Message, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httputil.ErrSendFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httputil.ErrNetwork, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httputil.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sendErr := httputil.SendErrorFromStatus(resp.StatusCode)
		logger.Warning(ctx, "發送失敗",
			logger.WithRoomID(req.ChatRoomID),
			logger.WithDetails(map[string]interface{}{
				"status": resp.StatusCode,
				"code":   httputil.ErrorCode(sendErr),
			}))
		return nil, sendErr
	}

	var confirmed message.Message
	if err := json.NewDecoder(resp.Body).Decode(&confirmed); err != nil {
		return nil, fmt.Errorf("%w: %v", httputil.ErrNetwork, err)
	}

	return &confirmed, nil
}

// Edit 編輯訊息.
func (s *Sender) Edit(ctx context.Context, messageID, newContent string) (*message.Message, error) {
	body, _ := json.Marshal(map[string]string{"newContent": newContent})

	endpoint := fmt.Sprintf("%s/messages/%s/edit", s.baseURL, url.PathEscape(messageID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httputil.ErrNetwork, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httputil.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httputil.SendErrorFromStatus(resp.StatusCode)
	}

	var updated message.Message
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return nil, fmt.Errorf("%w: %v", httputil.ErrNetwork, err)
	}
	return &updated, nil
}

// Delete 刪除訊息.
// mode=me 僅對本人移除；mode=all 對所有人墓碑化（由伺服器廣播事件落地）.
func (s *Sender) Delete(ctx context.Context, messageID, mode string) error {
	endpoint := fmt.Sprintf("%s/messages/%s?mode=%s", s.baseURL, url.PathEscape(messageID), url.QueryEscape(mode))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", httputil.ErrNetwork, err)
	}
	if s.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", httputil.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return httputil.SendErrorFromStatus(resp.StatusCode)
	}
	return nil
}
