package cryptox

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/qvault/internal/common"
)

// MasterKeySize is the required master key length (AES-256).
const MasterKeySize = 32

const envelopeSeparator = ":"

// KeyCodec protects per-file data keys at rest.
//
// With a master key, a hex data key is stored as "nonceHex:ciphertextHex"
// (AES-256-GCM, no associated data). Without one, the hex key is stored as
// is. Values without a separator are always treated as legacy plaintext, so
// rows written before a master key was configured stay readable.
type KeyCodec struct {
	masterKey []byte
}

// NewKeyCodec returns a codec for the given master key. An empty key selects
// plaintext mode; any other length than MasterKeySize is an error.
func NewKeyCodec(masterKey []byte) (*KeyCodec, error) {
	if len(masterKey) == 0 {
		return &KeyCodec{}, nil
	}
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}

	k := make([]byte, MasterKeySize)
	copy(k, masterKey)

	return &KeyCodec{masterKey: k}, nil
}

// Protected reports whether data keys are encrypted before storage.
func (c *KeyCodec) Protected() bool {
	return len(c.masterKey) > 0
}

// EncryptDataKey returns the stored form of hexKey.
func (c *KeyCodec) EncryptDataKey(hexKey string) (string, error) {
	if !c.Protected() {
		return hexKey, nil
	}

	aesgcm, err := newGCM(c.masterKey)
	if err != nil {
		return "", err
	}

	nonce := common.GenerateRandByteArray(aesgcm.NonceSize())
	ciphertext := aesgcm.Seal(nil, nonce, []byte(hexKey), nil)

	return hex.EncodeToString(nonce) + envelopeSeparator + hex.EncodeToString(ciphertext), nil
}

// DecryptDataKey reverses EncryptDataKey.
//
// A stored value with a separator but no configured master key fails with
// common.ErrMasterKeyMissing. Malformed hex, a wrong master key or a
// tampered value fail with common.ErrDecryptionFailed.
func (c *KeyCodec) DecryptDataKey(stored string) (string, error) {
	nonceHex, ciphertextHex, found := strings.Cut(stored, envelopeSeparator)
	if !found {
		return stored, nil
	}

	if !c.Protected() {
		return "", common.ErrMasterKeyMissing
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad nonce encoding: %v", common.ErrDecryptionFailed, err)
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding: %v", common.ErrDecryptionFailed, err)
	}

	aesgcm, err := newGCM(c.masterKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrDecryptionFailed, err)
	}
	if len(nonce) != aesgcm.NonceSize() {
		return "", fmt.Errorf("%w: nonce must be %d bytes", common.ErrDecryptionFailed, aesgcm.NonceSize())
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}
