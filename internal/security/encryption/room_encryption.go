package encryption

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"chat-client/internal/message"
	"chat-client/internal/platform/logger"
	"chat-client/internal/security/keymanager"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// 密文格式前綴.
const CiphertextPrefix = "aes256ctr:"

// UndecryptableFallback 無法解密時的降級渲染文字.
const UndecryptableFallback = "（無法解密的訊息）"

// hkdfInfo 封裝密鑰派生的用途標籤.
const hkdfInfo = "chat-client room key sealing"

// RoomEncryption 聊天室訊息加密服務.
// 每則訊息生成隨機內容密鑰，內容以 AES-256-CTR 加密；
// 內容密鑰對每位收件者以 X25519 ECDH + HKDF 派生的密鑰封裝.
// 實作歷史載入器與發送器的加解密協作者合約.
type RoomEncryption struct {
	keys *keymanager.KeyStore
}

// NewRoomEncryption 創建聊天室加密服務.
func NewRoomEncryption(keys *keymanager.KeyStore) *RoomEncryption {
	return &RoomEncryption{keys: keys}
}

// sealingKey 以 ECDH 共享密鑰派生封裝密鑰.
func (r *RoomEncryption) sealingKey(privateKey, peerPublicKey []byte) ([]byte, error) {
	shared, err := curve25519.X25519(privateKey, peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("ECDH failed: %w", err)
	}

	derived := make([]byte, 32)
	kdf := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, fmt.Errorf("HKDF failed: %w", err)
	}
	return derived, nil
}

// EncryptForRoom 為聊天室加密訊息.
// 回傳內容密文與每位收件者（含發送者本人）的封裝密鑰.
// 任何一步失敗都讓呼叫端在本地中止發送.
func (r *RoomEncryption) EncryptForRoom(participants []string, plaintext, senderID string) (string, map[string]string, error) {
	privateKey, err := r.keys.PrivateKey()
	if err != nil {
		return "", nil, fmt.Errorf("key store not unlocked: %w", err)
	}

	// 每則訊息一把隨機內容密鑰
	contentKey := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, contentKey); err != nil {
		return "", nil, fmt.Errorf("failed to generate content key: %w", err)
	}

	aesCTR, err := NewAESCTREncryption(contentKey)
	if err != nil {
		return "", nil, err
	}
	ciphertext, err := aesCTR.Encrypt(plaintext)
	if err != nil {
		return "", nil, fmt.Errorf("content encryption failed: %w", err)
	}

	// 對每位收件者封裝內容密鑰
	sealed := make(map[string]string, len(participants))
	for _, userID := range participants {
		peerKey, err := r.keys.PeerKey(userID)
		if err != nil {
			if userID == senderID {
				// 發送者本人用自己的公鑰封裝（供自己的其他裝置解密）
				peerKey, err = r.keys.PublicKey()
			}
			if err != nil {
				return "", nil, fmt.Errorf("missing public key for %s: %w", userID, err)
			}
		}

		kek, err := r.sealingKey(privateKey, peerKey)
		if err != nil {
			return "", nil, err
		}

		sealer, err := NewAESCTREncryption(kek)
		if err != nil {
			return "", nil, err
		}
		sealedKey, err := sealer.EncryptBytes(contentKey)
		if err != nil {
			return "", nil, fmt.Errorf("key sealing failed for %s: %w", userID, err)
		}

		sealed[userID] = base64.StdEncoding.EncodeToString(sealedKey)
	}

	return ciphertext, sealed, nil
}

// decryptOne 解密單則訊息內容.
func (r *RoomEncryption) decryptOne(m *message.Message, viewerID string) error {
	sealedB64, ok := m.EncryptedKeys[viewerID]
	if !ok {
		return fmt.Errorf("no sealed key for viewer")
	}

	privateKey, err := r.keys.PrivateKey()
	if err != nil {
		return fmt.Errorf("key store not unlocked: %w", err)
	}

	senderKey, err := r.keys.PeerKey(m.SenderID)
	if err != nil {
		if m.SenderID == viewerID {
			senderKey, err = r.keys.PublicKey()
		}
		if err != nil {
			return fmt.Errorf("missing sender public key: %w", err)
		}
	}

	kek, err := r.sealingKey(privateKey, senderKey)
	if err != nil {
		return err
	}

	sealedKey, err := base64.StdEncoding.DecodeString(sealedB64)
	if err != nil {
		return fmt.Errorf("invalid sealed key encoding: %w", err)
	}

	unsealer, err := NewAESCTREncryption(kek)
	if err != nil {
		return err
	}
	contentKey, err := unsealer.DecryptBytes(sealedKey)
	if err != nil {
		return fmt.Errorf("key unsealing failed: %w", err)
	}
	if len(contentKey) != 32 {
		return fmt.Errorf("unsealed key has wrong length: %d", len(contentKey))
	}

	aesCTR, err := NewAESCTREncryption(contentKey)
	if err != nil {
		return err
	}
	plaintext, err := aesCTR.Decrypt(m.ContentCiphertext)
	if err != nil {
		return fmt.Errorf("content decryption failed: %w", err)
	}

	m.Content = plaintext
	m.Undecryptable = false
	return nil
}

// DecryptFetched 批次解密抓取的訊息.
// 部分失敗容忍：個別訊息解密失敗不中止整頁，該則以無法解密標記
// 降級渲染（保留原始密文欄位），失敗只記錄不上拋.
func (r *RoomEncryption) DecryptFetched(items []message.Message, viewerID string) []message.Message {
	out := make([]message.Message, len(items))
	for i, m := range items {
		out[i] = m.Clone()

		if m.ContentCiphertext == "" {
			continue // 明文訊息
		}

		if err := r.decryptOne(&out[i], viewerID); err != nil {
			out[i].Undecryptable = true
			out[i].RawContent = m.ContentCiphertext
			out[i].Content = UndecryptableFallback
			logger.Warning(context.Background(), "訊息解密失敗，降級渲染",
				logger.WithMessageID(m.ID),
				logger.WithRoomID(m.ChatRoomID))
		}
	}
	return out
}
