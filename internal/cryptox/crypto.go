// Package cryptox implements the cryptographic primitives of the vault:
// AES-256-GCM file encryption with one-time data keys, protection of those
// data keys under a master key, key fingerprints and password hashing.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dmitrijs2005/qvault/internal/common"
)

const (
	// DataKeySize is the size of a per-file AES-256 key.
	DataKeySize = 32
	// NonceSize is the standard 96-bit GCM nonce size.
	NonceSize = 12
	// FingerprintLength is the number of hex characters kept from the key hash.
	FingerprintLength = 16
)

// EncryptedFile is the result of EncryptFile: the authenticated ciphertext
// together with the freshly generated data key and nonce.
type EncryptedFile struct {
	Ciphertext []byte
	Key        []byte
	Nonce      []byte
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptFile encrypts the whole plaintext buffer with AES-256-GCM under a
// random data key and nonce generated for this call only. No associated data
// is used.
func EncryptFile(plaintext []byte) (*EncryptedFile, error) {
	key := common.GenerateRandByteArray(DataKeySize)

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := common.GenerateRandByteArray(aesgcm.NonceSize())
	ciphertext := aesgcm.Seal(nil, nonce, plaintext, nil)

	return &EncryptedFile{Ciphertext: ciphertext, Key: key, Nonce: nonce}, nil
}

// DecryptFile opens ciphertext produced by EncryptFile.
//
// Any failure to authenticate (tampered ciphertext, wrong key, wrong nonce,
// or key/nonce of the wrong size) is reported as common.ErrAuthenticationFailed.
func DecryptFile(ciphertext, key, nonce []byte) ([]byte, error) {
	if len(key) != DataKeySize {
		return nil, fmt.Errorf("%w: data key must be %d bytes, got %d", common.ErrAuthenticationFailed, DataKeySize, len(key))
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrAuthenticationFailed, err)
	}

	if len(nonce) != aesgcm.NonceSize() {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", common.ErrAuthenticationFailed, aesgcm.NonceSize(), len(nonce))
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrAuthenticationFailed, err)
	}

	return plaintext, nil
}

// Fingerprint returns the first 16 hex characters of SHA-256(key).
// It identifies a key in listings and audit entries and cannot be turned
// back into the key.
func Fingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}
