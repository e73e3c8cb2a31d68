package cryptox

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/dmitrijs2005/qvault/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	passwordScheme  = "argon2id"
	passwordSaltLen = 16
	passwordKeyLen  = 32
)

var errBadPasswordHash = errors.New("malformed password hash")

func deriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, passwordKeyLen)
}

// HashPassword returns "argon2id$<salt hex>$<key hex>".
func HashPassword(password string) string {
	salt := common.GenerateRandByteArray(passwordSaltLen)
	key := deriveKey([]byte(password), salt)
	return strings.Join([]string{passwordScheme, hex.EncodeToString(salt), hex.EncodeToString(key)}, "$")
}

// CheckPassword verifies password against a value produced by HashPassword
// in constant time.
func CheckPassword(encoded, password string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != passwordScheme {
		return false, errBadPasswordHash
	}

	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, errBadPasswordHash
	}
	want, err := hex.DecodeString(parts[2])
	if err != nil {
		return false, errBadPasswordHash
	}

	got := deriveKey([]byte(password), salt)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}
