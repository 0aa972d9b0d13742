package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const testKey = "01234567890123456789012345678901"

func newTestEncryptor(t *testing.T, key string) *Encryptor {
	t.Helper()
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() failed: %v", err)
	}
	return enc
}

func TestNewEncryptor_KeyLength(t *testing.T) {
	for _, key := range []string{"", "too-short", testKey + "x"} {
		if _, err := NewEncryptor(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("NewEncryptor(len %d) error = %v, want ErrInvalidKey", len(key), err)
		}
	}
}

func TestEncryptor_Roundtrip(t *testing.T) {
	enc := newTestEncryptor(t, testKey)

	for _, plain := range []string{
		"aggregator-user-secret-7f3c",
		"Société Générale ☕ 株式",
		strings.Repeat("x", 4096),
	} {
		sealed, err := enc.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt() failed: %v", err)
		}
		if sealed == plain {
			t.Fatal("Encrypt() returned the plaintext")
		}
		got, err := enc.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt() failed: %v", err)
		}
		if got != plain {
			t.Errorf("roundtrip = %q, want %q", got, plain)
		}
	}
}

func TestEncryptor_EmptyPassthrough(t *testing.T) {
	enc := newTestEncryptor(t, testKey)

	if got, err := enc.Encrypt(""); err != nil || got != "" {
		t.Errorf("Encrypt(\"\") = %q, %v", got, err)
	}
	if got, err := enc.Decrypt(""); err != nil || got != "" {
		t.Errorf("Decrypt(\"\") = %q, %v", got, err)
	}
}

func TestEncryptor_FreshNonce(t *testing.T) {
	enc := newTestEncryptor(t, testKey)

	a, _ := enc.Encrypt("same text")
	b, _ := enc.Encrypt("same text")
	if a == b {
		t.Error("identical ciphertexts for the same plaintext")
	}
}

func TestDecrypt_Rejects(t *testing.T) {
	enc := newTestEncryptor(t, testKey)
	sealed, _ := enc.Encrypt("user secret")

	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	other := newTestEncryptor(t, "98765432109876543210987654321098")
	if _, err := other.Decrypt(sealed); err == nil {
		t.Error("Decrypt() succeeded with the wrong key")
	}

	for name, in := range map[string]string{
		"tampered":   tampered,
		"not base64": "not-valid-base64!!!",
		"too short":  "YQ==",
	} {
		if _, err := enc.Decrypt(in); err == nil {
			t.Errorf("Decrypt(%s) accepted invalid input", name)
		}
	}
}

func TestEncryptor_KeyIsDerived(t *testing.T) {
	enc := newTestEncryptor(t, testKey)
	sealed, _ := enc.Encrypt("user secret")

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		t.Fatalf("ciphertext is not base64: %v", err)
	}

	block, _ := aes.NewCipher([]byte(testKey))
	aead, _ := cipher.NewGCM(block)
	n := aead.NonceSize()
	if _, err := aead.Open(nil, raw[:n], raw[n:], nil); err == nil {
		t.Error("ciphertext opened with the raw key")
	}
}
