package cryptox

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProtectedCodec(t *testing.T) *KeyCodec {
	t.Helper()
	c, err := NewKeyCodec(randomBytes(t, MasterKeySize))
	require.NoError(t, err)
	require.True(t, c.Protected())
	return c
}

func TestNewKeyCodec_RejectsWrongLength(t *testing.T) {
	_, err := NewKeyCodec(make([]byte, 16))
	assert.Error(t, err)

	c, err := NewKeyCodec(nil)
	require.NoError(t, err)
	assert.False(t, c.Protected())
}

func TestKeyCodec_RoundTrip(t *testing.T) {
	c := newProtectedCodec(t)

	for i := 0; i < 20; i++ {
		k := hex.EncodeToString(randomBytes(t, DataKeySize))

		stored, err := c.EncryptDataKey(k)
		require.NoError(t, err)
		require.NotEqual(t, k, stored)

		nonceHex, ctHex, ok := strings.Cut(stored, ":")
		require.True(t, ok, "stored value must be nonce:ciphertext")
		assert.Len(t, nonceHex, NonceSize*2)
		assert.NotEmpty(t, ctHex)

		got, err := c.DecryptDataKey(stored)
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
}

func TestKeyCodec_FreshNoncePerEncryption(t *testing.T) {
	c := newProtectedCodec(t)

	a, err := c.EncryptDataKey("abcd")
	require.NoError(t, err)
	b, err := c.EncryptDataKey("abcd")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestKeyCodec_IdentityWithoutMasterKey(t *testing.T) {
	c, err := NewKeyCodec(nil)
	require.NoError(t, err)

	k := hex.EncodeToString(randomBytes(t, DataKeySize))
	stored, err := c.EncryptDataKey(k)
	require.NoError(t, err)
	assert.Equal(t, k, stored)
}

func TestKeyCodec_LegacyPlaintextPassthrough(t *testing.T) {
	legacy := hex.EncodeToString(randomBytes(t, DataKeySize))

	plain, err := NewKeyCodec(nil)
	require.NoError(t, err)

	for _, c := range []*KeyCodec{plain, newProtectedCodec(t)} {
		got, err := c.DecryptDataKey(legacy)
		require.NoError(t, err)
		assert.Equal(t, legacy, got)
	}
}

func TestKeyCodec_EncryptedValueWithoutMasterKey(t *testing.T) {
	stored, err := newProtectedCodec(t).EncryptDataKey("deadbeef")
	require.NoError(t, err)

	plain, err := NewKeyCodec(nil)
	require.NoError(t, err)

	_, err = plain.DecryptDataKey(stored)
	assert.ErrorIs(t, err, common.ErrMasterKeyMissing)
}

func TestKeyCodec_DecryptFailures(t *testing.T) {
	c := newProtectedCodec(t)
	stored, err := c.EncryptDataKey("deadbeef")
	require.NoError(t, err)

	nonceHex, ctHex, _ := strings.Cut(stored, ":")
	flipped := []byte(ctHex)
	if flipped[0] == '0' {
		flipped[0] = '1'
	} else {
		flipped[0] = '0'
	}

	tests := []struct {
		name  string
		codec *KeyCodec
		value string
	}{
		{"wrong master key", newProtectedCodec(t), stored},
		{"tampered ciphertext", c, nonceHex + ":" + string(flipped)},
		{"bad nonce hex", c, "zz:" + ctHex},
		{"bad ciphertext hex", c, nonceHex + ":zz"},
		{"short nonce", c, "abcd:" + ctHex},
		{"empty halves", c, ":"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.codec.DecryptDataKey(tt.value)
			assert.ErrorIs(t, err, common.ErrDecryptionFailed)
		})
	}
}
