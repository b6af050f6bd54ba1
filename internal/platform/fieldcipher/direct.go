package fieldcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/ehr/rxledger/internal/platform/apperr"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// FieldCipher encrypts and opens single string values.
type FieldCipher interface {
	Encrypt(plaintext string) (string, error)
	Open(ciphertext string) Result
}

// DirectCipher is the entity-field cipher: AES-256-GCM under a fixed 32-byte
// key. Stored form is StdBase64(nonce || ciphertext || tag).
type DirectCipher struct {
	aead cipher.AEAD
}

// NewDirectCipher creates a DirectCipher with the given 32-byte AES-256 key.
func NewDirectCipher(key []byte) (*DirectCipher, error) {
	if len(key) != keySize {
		return nil, apperr.Config("field cipher: key must be %d bytes, got %d", keySize, len(key))
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("field cipher: %w", err)
	}
	return &DirectCipher{aead: aead}, nil
}

// NewDirectCipherFromBase64 decodes a standard Base64 secret and builds the
// cipher. Anything that does not decode to exactly 32 bytes is a config error.
func NewDirectCipherFromBase64(secret string) (*DirectCipher, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, apperr.Config("field cipher: key is not valid base64: %v", err)
	}
	return NewDirectCipher(key)
}

func (c *DirectCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("field encrypt: generate nonce: %w", err)
	}
	// Seal appends to nonce, so the buffer is nonce || ciphertext || tag.
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *DirectCipher) Open(ciphertext string) Result {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(data) < nonceSize+tagSize {
		return passthrough(ciphertext)
	}
	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return corrupt(ciphertext, fmt.Errorf("field decrypt: %w", err))
	}
	return decrypted(string(plaintext))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}
