package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
)

// CredentialCipher encrypts stored connection passwords with AES-256-GCM.
type CredentialCipher struct {
	gcm cipher.AEAD
}

// NewCredentialCipher builds a cipher from a base64 encoded 32-byte key.
func NewCredentialCipher(b64Key string) (*CredentialCipher, error) {
	if b64Key == "" {
		return nil, fmt.Errorf("encryption key not set")
	}
	key, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &CredentialCipher{gcm: gcm}, nil
}

// EncryptPassword returns base64(nonce || ciphertext).
func (c *CredentialCipher) EncryptPassword(plain string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *CredentialCipher) DecryptPassword(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := c.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plain, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// Sanitize strips everything except ASCII letters and digits.
func Sanitize(s string) string {
	return nonAlphanumeric.ReplaceAllString(s, "")
}
