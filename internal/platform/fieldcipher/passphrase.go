package fieldcipher

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/ehr/rxledger/internal/platform/apperr"
)

const segmentSeparator = "."

// PassphraseCipher is the snapshot cipher. Its key is SHA-256 of an arbitrary
// configured passphrase; the passphrase itself never reaches AES. Stored form is
// RawURLBase64(nonce) + "." + RawURLBase64(ciphertext || tag).
//
// It shares the FieldCipher contract with DirectCipher but the two never open
// each other's output: the encodings and the keys both differ.
type PassphraseCipher struct {
	aead cipher.AEAD
}

func NewPassphraseCipher(passphrase string) (*PassphraseCipher, error) {
	if passphrase == "" {
		return nil, apperr.Config("snapshot cipher: passphrase is empty")
	}
	key := sha256.Sum256([]byte(passphrase))
	aead, err := newGCM(key[:])
	if err != nil {
		return nil, fmt.Errorf("snapshot cipher: %w", err)
	}
	return &PassphraseCipher{aead: aead}, nil
}

func (c *PassphraseCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("snapshot encrypt: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(nonce) + segmentSeparator +
		base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *PassphraseCipher) Open(ciphertext string) Result {
	noncePart, body, ok := strings.Cut(ciphertext, segmentSeparator)
	if !ok {
		return passthrough(ciphertext)
	}
	nonce, err := decodeURLSegment(noncePart)
	if err != nil || len(nonce) != nonceSize {
		return passthrough(ciphertext)
	}
	sealed, err := decodeURLSegment(body)
	if err != nil || len(sealed) < tagSize {
		return passthrough(ciphertext)
	}
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return corrupt(ciphertext, fmt.Errorf("snapshot decrypt: %w", err))
	}
	return decrypted(string(plaintext))
}

// decodeURLSegment accepts URL-safe Base64 with or without padding.
func decodeURLSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
