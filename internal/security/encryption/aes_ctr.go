package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// AESCTREncryption AES-256-CTR 加密實現
// CTR 模式特點：
// - 將塊密碼轉換為流密碼
// - 不需要填充
// - 適合訊息內容這類變長數據
type AESCTREncryption struct {
	key []byte // 256-bit (32 bytes) key
}

// NewAESCTREncryption 創建 AES-256-CTR 加密實例
func NewAESCTREncryption(key []byte) (*AESCTREncryption, error) {
	// 驗證密鑰長度必須是 32 bytes (256 bits)
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes (256 bits), got %d bytes", len(key))
	}

	// 防禦性複製密鑰
	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)

	return &AESCTREncryption{
		key: keyCopy,
	}, nil
}

// Encrypt 加密數據
// 格式: "aes256ctr:" + base64(IV + ciphertext)
func (e *AESCTREncryption) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("plaintext cannot be empty")
	}

	result, err := e.EncryptBytes([]byte(plaintext))
	if err != nil {
		return "", err
	}

	// Base64 編碼以便存儲和傳輸
	encoded := base64.StdEncoding.EncodeToString(result)

	return CiphertextPrefix + encoded, nil
}

// Decrypt 解密數據
func (e *AESCTREncryption) Decrypt(encryptedText string) (string, error) {
	if encryptedText == "" {
		return "", fmt.Errorf("encrypted text cannot be empty")
	}

	// 檢查格式前綴
	if len(encryptedText) < len(CiphertextPrefix) || encryptedText[:len(CiphertextPrefix)] != CiphertextPrefix {
		return "", fmt.Errorf("invalid ciphertext format: missing %q prefix", CiphertextPrefix)
	}

	// 移除前綴並 Base64 解碼
	encoded := encryptedText[len(CiphertextPrefix):]
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	plaintext, err := e.DecryptBytes(data)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// EncryptBytes 加密字節數據（IV 在前）
func (e *AESCTREncryption) EncryptBytes(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext cannot be empty")
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	ciphertext := make([]byte, len(plaintext))

	// 生成隨機 IV
	// CTR 模式 IV 長度等於 block size (16 bytes for AES)
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(ciphertext, plaintext)

	result := make([]byte, aes.BlockSize+len(ciphertext))
	copy(result[:aes.BlockSize], iv)
	copy(result[aes.BlockSize:], ciphertext)

	return result, nil
}

// DecryptBytes 解密字節數據
func (e *AESCTREncryption) DecryptBytes(encryptedData []byte) ([]byte, error) {
	// 檢查數據長度（至少要有 IV）
	if len(encryptedData) < aes.BlockSize {
		return nil, fmt.Errorf("encrypted data too short: must be at least %d bytes", aes.BlockSize)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	iv := encryptedData[:aes.BlockSize]
	ciphertext := encryptedData[aes.BlockSize:]

	plaintext := make([]byte, len(ciphertext))

	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(plaintext, ciphertext)

	return plaintext, nil
}

// IsEncrypted 檢查文本是否已加密
func (e *AESCTREncryption) IsEncrypted(text string) bool {
	return len(text) >= len(CiphertextPrefix) && text[:len(CiphertextPrefix)] == CiphertextPrefix
}
