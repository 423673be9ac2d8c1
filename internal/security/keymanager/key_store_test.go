package keymanager

import (
	"encoding/base64"
	"testing"
)

func TestKeyStore_LockedByDefault(t *testing.T) {
	ks := NewKeyStore()

	if ks.Unlocked() {
		t.Fatal("new key store must start locked")
	}
	if _, err := ks.PrivateKey(); err == nil {
		t.Fatal("private key access must fail while locked")
	}
}

func TestKeyStore_GenerateIdentity(t *testing.T) {
	ks := NewKeyStore()

	pair, err := ks.GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if len(pair.PrivateKey) != 32 || len(pair.PublicKey) != 32 {
		t.Fatalf("key lengths = %d/%d, want 32/32", len(pair.PrivateKey), len(pair.PublicKey))
	}
	if !ks.Unlocked() {
		t.Fatal("generating an identity should unlock the store")
	}
}

func TestKeyStore_UnlockRoundTrip(t *testing.T) {
	// 先生成一個身份，再用其私鑰解鎖另一個存儲
	source := NewKeyStore()
	pair, err := source.GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}

	ks := NewKeyStore()
	encoded := base64.StdEncoding.EncodeToString(pair.PrivateKey)
	if err := ks.Unlock(encoded); err != nil {
		t.Fatal(err)
	}

	pub, err := ks.PublicKey()
	if err != nil {
		t.Fatal(err)
	}
	if base64.StdEncoding.EncodeToString(pub) != base64.StdEncoding.EncodeToString(pair.PublicKey) {
		t.Fatal("derived public key mismatch after unlock")
	}
}

func TestKeyStore_UnlockRejectsBadInput(t *testing.T) {
	testCases := []struct {
		name    string
		encoded string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"wrong length", base64.StdEncoding.EncodeToString([]byte("short"))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ks := NewKeyStore()
			if err := ks.Unlock(tc.encoded); err == nil {
				t.Fatal("invalid private key must be rejected")
			}
			if ks.Unlocked() {
				t.Fatal("failed unlock must leave the store locked")
			}
		})
	}
}

func TestKeyStore_PeerKeys(t *testing.T) {
	ks := NewKeyStore()

	if _, err := ks.PeerKey("bob"); err == nil {
		t.Fatal("unknown peer must return an error")
	}

	key := make([]byte, 32)
	if err := ks.SetPeerKey("bob", key); err != nil {
		t.Fatal(err)
	}
	got, err := ks.PeerKey("bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 32 {
		t.Fatalf("peer key length = %d", len(got))
	}

	// 長度錯誤拒絕
	if err := ks.SetPeerKey("carol", []byte("short")); err == nil {
		t.Fatal("wrong-length public key must be rejected")
	}
}
