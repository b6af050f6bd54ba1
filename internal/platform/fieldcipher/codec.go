package fieldcipher

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/rxledger/internal/platform/apperr"
)

// Policy decides what a Codec does with a value that did not decrypt.
type Policy string

const (
	// PolicyLenient returns the stored value unchanged for both legacy and
	// corrupt input, logging each occurrence.
	PolicyLenient Policy = "lenient"
	// PolicyStrict still passes legacy plaintext through but fails on corrupt
	// ciphertext.
	PolicyStrict Policy = "strict"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyLenient:
		return PolicyLenient, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", apperr.Config("unknown decrypt policy %q", s)
	}
}

// Codec is what persistence boundaries hold: a FieldCipher plus the policy
// for values that do not decrypt. Each repository receives its own instance.
type Codec struct {
	cipher FieldCipher
	policy Policy
	logger zerolog.Logger
	name   string
}

// NewCodec wraps c. name identifies the cipher in log lines ("field",
// "snapshot").
func NewCodec(name string, c FieldCipher, policy Policy, logger zerolog.Logger) *Codec {
	if policy == "" {
		policy = PolicyLenient
	}
	return &Codec{
		cipher: c,
		policy: policy,
		logger: logger.With().Str("cipher", name).Logger(),
		name:   name,
	}
}

func (c *Codec) Encrypt(plaintext string) (string, error) {
	out, err := c.cipher.Encrypt(plaintext)
	if err != nil {
		return "", apperr.Crypto(c.name+" encrypt", err)
	}
	return out, nil
}

// EncryptPtr leaves absent values absent.
func (c *Codec) EncryptPtr(value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	out, err := c.Encrypt(*value)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Codec) Decrypt(stored string) (string, error) {
	res := c.cipher.Open(stored)
	switch res.Kind {
	case KindDecrypted:
		return res.Text, nil
	case KindPassthroughLegacy:
		c.logger.Warn().Msg("stored value is not ciphertext; returning it unchanged")
		return res.Text, nil
	default:
		if c.policy == PolicyStrict {
			return "", apperr.Crypto(c.name+" decrypt", res.Err)
		}
		c.logger.Error().Err(res.Err).Msg("ciphertext failed to authenticate; returning stored value unchanged")
		return res.Text, nil
	}
}

func (c *Codec) DecryptPtr(stored *string) (*string, error) {
	if stored == nil {
		return nil, nil
	}
	out, err := c.Decrypt(*stored)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Open exposes the tagged result for callers that want their own policy.
func (c *Codec) Open(stored string) Result {
	return c.cipher.Open(stored)
}

// Batch runs the codec over many fields and keeps the first error, so a
// repository can seal or open a whole row and check once.
type Batch struct {
	codec *Codec
	err   error
}

func (c *Codec) Batch() *Batch {
	return &Batch{codec: c}
}

func (b *Batch) Encrypt(plaintext string) string {
	if b.err != nil {
		return ""
	}
	out, err := b.codec.Encrypt(plaintext)
	b.err = err
	return out
}

func (b *Batch) EncryptPtr(plaintext *string) *string {
	if b.err != nil {
		return nil
	}
	out, err := b.codec.EncryptPtr(plaintext)
	b.err = err
	return out
}

// Decrypt replaces *field with its plaintext.
func (b *Batch) Decrypt(field *string) {
	if b.err != nil {
		return
	}
	out, err := b.codec.Decrypt(*field)
	if err != nil {
		b.err = err
		return
	}
	*field = out
}

func (b *Batch) DecryptPtr(field **string) {
	if b.err != nil || *field == nil {
		return
	}
	b.Decrypt(*field)
}

func (b *Batch) Err() error {
	return b.err
}
