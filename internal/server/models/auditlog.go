package models

import "time"

// AuditLog is one append-only entry of the audit trail.
type AuditLog struct {
	ID         string
	UserName   string
	ActionType string
	Message    string
	Detail     string
	Level      string
	Timestamp  time.Time
	IPAddress  string
	UserAgent  string
}
