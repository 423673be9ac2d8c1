package keymanager

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/curve25519"
)

// KeyPair Curve25519 密鑰對
type KeyPair struct {
	PrivateKey []byte
	PublicKey  []byte
}

// KeyStore 客戶端密鑰存儲
// 保存本地使用者的身份密鑰對與聊天室成員的公鑰.
// 私鑰以鎖定狀態啟動，須經解鎖呼叫（外部私鑰解鎖流程）才能用於解密；
// 這是本子系統唯一的非同步加密邊界.
type KeyStore struct {
	mu       sync.RWMutex
	identity *KeyPair
	unlocked bool
	peers    map[string][]byte // userID -> 公鑰
}

// NewKeyStore 創建密鑰存儲
func NewKeyStore() *KeyStore {
	return &KeyStore{
		peers: make(map[string][]byte),
	}
}

// GenerateIdentity 生成新的身份密鑰對（首次啟動或測試用）
func (ks *KeyStore) GenerateIdentity() (*KeyPair, error) {
	privateKey := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, privateKey); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	publicKey, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	pair := &KeyPair{PrivateKey: privateKey, PublicKey: publicKey}

	ks.mu.Lock()
	ks.identity = pair
	ks.unlocked = true
	ks.mu.Unlock()

	return pair, nil
}

// Unlock 以 base64 編碼的私鑰解鎖密鑰存儲
func (ks *KeyStore) Unlock(encodedPrivateKey string) error {
	privateKey, err := base64.StdEncoding.DecodeString(encodedPrivateKey)
	if err != nil {
		return fmt.Errorf("invalid private key format: %w", err)
	}
	if len(privateKey) != 32 {
		return fmt.Errorf("invalid private key length: must be 32 bytes, got %d", len(privateKey))
	}

	publicKey, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("failed to derive public key: %w", err)
	}

	ks.mu.Lock()
	ks.identity = &KeyPair{PrivateKey: privateKey, PublicKey: publicKey}
	ks.unlocked = true
	ks.mu.Unlock()

	return nil
}

// Unlocked 檢查私鑰是否可用
func (ks *KeyStore) Unlocked() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.unlocked
}

// PrivateKey 取得私鑰（未解鎖時回傳錯誤）
func (ks *KeyStore) PrivateKey() ([]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if !ks.unlocked || ks.identity == nil {
		return nil, fmt.Errorf("key store is locked")
	}
	return ks.identity.PrivateKey, nil
}

// PublicKey 取得本地使用者的公鑰
func (ks *KeyStore) PublicKey() ([]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.identity == nil {
		return nil, fmt.Errorf("no identity key")
	}
	return ks.identity.PublicKey, nil
}

// SetPeerKey 登記聊天室成員的公鑰（由外部密鑰分發流程提供）
func (ks *KeyStore) SetPeerKey(userID string, publicKey []byte) error {
	if len(publicKey) != 32 {
		return fmt.Errorf("invalid public key length for %s: got %d", userID, len(publicKey))
	}
	keyCopy := make([]byte, len(publicKey))
	copy(keyCopy, publicKey)

	ks.mu.Lock()
	ks.peers[userID] = keyCopy
	ks.mu.Unlock()
	return nil
}

// PeerKey 取得成員公鑰
func (ks *KeyStore) PeerKey(userID string) ([]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	key, ok := ks.peers[userID]
	if !ok {
		return nil, fmt.Errorf("no public key for user %s", userID)
	}
	return key, nil
}
