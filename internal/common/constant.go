// Package common contains shared constants and sentinel errors used across
// qvault components.
package common

// AuthorizationHeaderName carries the bearer access token on HTTP requests.
const AuthorizationHeaderName = "Authorization"

// Roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Account statuses.
const (
	StatusActive = "active"
	StatusLocked = "locked"
)

// Audit levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// SystemUser is the audit actor for entries not caused by a principal.
const SystemUser = "system"

// DefaultAlgorithm is the only cipher actually used for file contents.
// The algorithm label sent by clients is informational.
const DefaultAlgorithm = "AES-256-GCM"

// DefaultKeyMode is the key-mode label used when the client sends none.
const DefaultKeyMode = "QRNG-Auto"
