package fieldcipher

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/rxledger/internal/platform/apperr"
)

func tamper(t *testing.T, ct string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x80
	return base64.StdEncoding.EncodeToString(raw)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyLenient, p)

	p, err = ParsePolicy(" STRICT ")
	require.NoError(t, err)
	assert.Equal(t, PolicyStrict, p)

	_, err = ParsePolicy("paranoid")
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestCodec_Lenient(t *testing.T) {
	var logs bytes.Buffer
	codec := NewCodec("field", testDirect(t), PolicyLenient, zerolog.New(&logs))

	ct, err := codec.Encrypt("Ibuprofen")
	require.NoError(t, err)

	out, err := codec.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "Ibuprofen", out)

	out, err = codec.Decrypt("legacy plaintext")
	require.NoError(t, err)
	assert.Equal(t, "legacy plaintext", out)
	assert.Contains(t, logs.String(), "not ciphertext")

	bad := tamper(t, ct)
	out, err = codec.Decrypt(bad)
	require.NoError(t, err)
	assert.Equal(t, bad, out)
	assert.Contains(t, logs.String(), `"cipher":"field"`)
	assert.Contains(t, logs.String(), "failed to authenticate")
}

func TestCodec_Strict(t *testing.T) {
	codec := NewCodec("field", testDirect(t), PolicyStrict, zerolog.Nop())

	ct, err := codec.Encrypt("Cetirizine")
	require.NoError(t, err)

	out, err := codec.Decrypt("legacy plaintext")
	require.NoError(t, err)
	assert.Equal(t, "legacy plaintext", out)

	_, err = codec.Decrypt(tamper(t, ct))
	assert.ErrorIs(t, err, apperr.ErrCrypto)
}

func TestCodec_DefaultPolicy(t *testing.T) {
	codec := NewCodec("field", testDirect(t), "", zerolog.Nop())
	assert.Equal(t, PolicyLenient, codec.policy)
}

func TestCodec_Pointers(t *testing.T) {
	codec := NewCodec("field", testDirect(t), PolicyLenient, zerolog.Nop())

	enc, err := codec.EncryptPtr(nil)
	require.NoError(t, err)
	assert.Nil(t, enc)

	dec, err := codec.DecryptPtr(nil)
	require.NoError(t, err)
	assert.Nil(t, dec)

	note := "take after meals"
	enc, err = codec.EncryptPtr(&note)
	require.NoError(t, err)
	require.NotNil(t, enc)
	assert.NotEqual(t, note, *enc)

	dec, err = codec.DecryptPtr(enc)
	require.NoError(t, err)
	require.NotNil(t, dec)
	assert.Equal(t, note, *dec)
}

func TestCodec_Open(t *testing.T) {
	codec := NewCodec("field", testDirect(t), PolicyStrict, zerolog.Nop())
	ct, err := codec.Encrypt("x")
	require.NoError(t, err)
	assert.Equal(t, KindDecrypted, codec.Open(ct).Kind)
	assert.Equal(t, KindCorrupt, codec.Open(tamper(t, ct)).Kind)
	assert.Equal(t, "corrupt", KindCorrupt.String())
}

func TestBatch(t *testing.T) {
	codec := NewCodec("field", testDirect(t), PolicyStrict, zerolog.Nop())

	b := codec.Batch()
	name := b.Encrypt("Siti")
	note := "fasting"
	notes := b.EncryptPtr(&note)
	absent := b.EncryptPtr(nil)
	require.NoError(t, b.Err())
	assert.Nil(t, absent)

	open := codec.Batch()
	open.Decrypt(&name)
	open.DecryptPtr(&notes)
	open.DecryptPtr(&absent)
	require.NoError(t, open.Err())
	assert.Equal(t, "Siti", name)
	assert.Equal(t, "fasting", *notes)
	assert.Nil(t, absent)
}

func TestBatch_KeepsFirstError(t *testing.T) {
	codec := NewCodec("field", testDirect(t), PolicyStrict, zerolog.Nop())
	ct, err := codec.Encrypt("x")
	require.NoError(t, err)

	bad := tamper(t, ct)
	good := ct
	b := codec.Batch()
	b.Decrypt(&bad)
	b.Decrypt(&good)
	assert.ErrorIs(t, b.Err(), apperr.ErrCrypto)
	assert.Equal(t, ct, good, "fields after the first failure are left untouched")
}
