package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Vault encrypts portal passwords at rest with a single shared key.
// Ciphertexts are authenticated, so a wrong key or a corrupted row is
// always a detectable error instead of garbage plaintext.
type Vault struct {
	key []byte
}

// NewVault expects a base64 (url-safe) encoded 32 byte key, the format
// produced by GenerateKey.
func NewVault(masterKey string) (Vault, error) {
	key, err := base64.URLEncoding.DecodeString(masterKey)
	if err != nil {
		return Vault{}, fmt.Errorf("vault: malformed master key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return Vault{}, fmt.Errorf("vault: master key must decode to %d bytes", chacha20poly1305.KeySize)
	}
	return Vault{key: key}, nil
}

func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	_, err := rand.Read(key)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(key), nil
}

func (v Vault) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	_, err = rand.Read(nonce)
	if err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

func (v Vault) Decrypt(ciphertext string) (string, error) {
	sealed, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("vault: malformed ciphertext: %w", err)
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("vault: ciphertext too short")
	}
	nonce, box := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return "", fmt.Errorf("vault: decryption failed: %w", err)
	}
	return string(plaintext), nil
}
