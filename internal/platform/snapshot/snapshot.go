// Package snapshot produces the canonical, encrypted and hashed form of
// medication records that prescriptions are verified against.
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ehr/rxledger/internal/platform/apperr"
	"github.com/ehr/rxledger/internal/platform/fieldcipher"
)

// Medication is the canonical view of one prescription item. Field order is
// the serialization order and must not change: existing hashes depend on it.
// Item ids, back-references and timestamps are intentionally absent.
type Medication struct {
	MedicineID           *string  `json:"medicineId"`
	MedicineName         string   `json:"medicineName"`
	Dosage               string   `json:"dosage"`
	Duration             string   `json:"duration"`
	Morning              bool     `json:"morning"`
	Afternoon            bool     `json:"afternoon"`
	Evening              bool     `json:"evening"`
	Night                bool     `json:"night"`
	MealTiming           string   `json:"mealTiming"`
	AdministrationMethod string   `json:"administrationMethod"`
	Remarks              string   `json:"remarks"`
	QuantityDispensed    int      `json:"quantityDispensed"`
	UnitPrice            *float64 `json:"unitPrice"`
	TotalPrice           *float64 `json:"totalPrice"`
	IsDispensed          bool     `json:"isDispensed"`
}

// Sealed is what gets stored next to a record.
type Sealed struct {
	Ciphertext string
	Digest     string
}

// Canonicalize serializes a Medication or a []Medication to compact JSON
// without HTML escaping.
func Canonicalize(v any) ([]byte, error) {
	switch v.(type) {
	case Medication, *Medication, []Medication:
	default:
		return nil, apperr.Validation("snapshot: cannot canonicalize %T", v)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Hasher seals snapshots with the passphrase cipher and a keyed SHA-256.
type Hasher struct {
	cipher *fieldcipher.PassphraseCipher
	secret []byte
}

func NewHasher(c *fieldcipher.PassphraseCipher, secret string) (*Hasher, error) {
	if c == nil {
		return nil, apperr.Config("snapshot hasher: cipher is required")
	}
	if secret == "" {
		return nil, apperr.Config("snapshot hasher: hash secret is empty")
	}
	return &Hasher{cipher: c, secret: []byte(secret)}, nil
}

// Hash returns RawURLBase64(SHA256(canonical || secret)).
func (h *Hasher) Hash(canonical []byte) string {
	d := sha256.New()
	d.Write(canonical)
	d.Write(h.secret)
	return base64.RawURLEncoding.EncodeToString(d.Sum(nil))
}

// Seal canonicalizes v, encrypts the result and hashes it.
func (h *Hasher) Seal(v any) (Sealed, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return Sealed{}, err
	}
	ct, err := h.cipher.Encrypt(string(canonical))
	if err != nil {
		return Sealed{}, apperr.Crypto("snapshot seal", err)
	}
	return Sealed{Ciphertext: ct, Digest: h.Hash(canonical)}, nil
}

// Verify reports whether ciphertext opens and hashes to expected. Anything
// that does not decrypt cleanly fails verification.
func (h *Hasher) Verify(ciphertext, expected string) bool {
	if ciphertext == "" || expected == "" {
		return false
	}
	res := h.cipher.Open(ciphertext)
	if !res.OK() {
		return false
	}
	return h.Matches([]byte(res.Text), expected)
}

// Matches reports whether canonical hashes to expected, in constant time.
func (h *Hasher) Matches(canonical []byte, expected string) bool {
	got := h.Hash(canonical)
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// Open returns the decrypted canonical JSON of a stored snapshot.
func (h *Hasher) Open(ciphertext string) fieldcipher.Result {
	return h.cipher.Open(ciphertext)
}
