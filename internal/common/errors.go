// Package common defines shared constants and sentinel errors used across
// the vault server layers. Callers should use errors.Is to match these
// values; services wrap them with fmt.Errorf("%w: ...") to add context.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")
	ErrAccountLocked  = errors.New("account is locked")

	// Input errors. All of them are caller-fixable.
	ErrorValidation    = errors.New("validation error")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrPayloadTooLarge = errors.New("file too large")

	// ErrMissingArtifact is returned when a stored record points at a
	// ciphertext blob that no longer exists.
	ErrMissingArtifact = errors.New("encrypted file is missing")

	// ErrMasterKeyMissing means an encrypted data key was found but the
	// server runs without a master key.
	ErrMasterKeyMissing = errors.New("encrypted value present, no master key available")

	// Data integrity errors. Never retried.
	ErrAuthenticationFailed = errors.New("message authentication failed")
	ErrDecryptionFailed     = errors.New("decryption failed")

	// ErrStorage wraps filesystem and object storage failures.
	ErrStorage = errors.New("storage error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)

// IsNotFound reports whether err means the requested thing does not exist.
// ErrMissingArtifact counts as not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrorNotFound) || errors.Is(err, ErrMissingArtifact)
}
