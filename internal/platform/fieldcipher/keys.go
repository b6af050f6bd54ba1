package fieldcipher

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog"
)

// GenerateKey returns a fresh 32-byte field key in the Base64 form
// FIELD_ENCRYPTION_KEY expects.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate field key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Set holds the two cipher instances the ledger uses. They share no key
// material and no encoding:
//
//   - Field encrypts entity columns (names, identifiers, notes, line items)
//     with the direct FIELD_ENCRYPTION_KEY.
//   - Snapshot encrypts canonical medication snapshots with a key derived from
//     SNAPSHOT_PASSPHRASE.
type Set struct {
	Field    *Codec
	Snapshot *PassphraseCipher
}

// NewSet builds both instances. Any malformed key material is an
// apperr.ErrConfig error and the caller should refuse to start.
func NewSet(fieldKey, snapshotPassphrase string, policy Policy, logger zerolog.Logger) (*Set, error) {
	direct, err := NewDirectCipherFromBase64(fieldKey)
	if err != nil {
		return nil, err
	}
	snap, err := NewPassphraseCipher(snapshotPassphrase)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("decrypt_policy", string(policy)).Msg("field-level encryption enabled")
	return &Set{
		Field:    NewCodec("field", direct, policy, logger),
		Snapshot: snap,
	}, nil
}
