package models

import "time"

type Device struct {
	ID         string
	Name       string
	IP         string
	Status     string
	LastActive time.Time
}

const (
	DeviceTrusted = "trusted"
	DevicePending = "pending"
	DeviceRevoked = "revoked"
)

// ValidDeviceStatus reports whether s is one of the known device states.
func ValidDeviceStatus(s string) bool {
	switch s {
	case DeviceTrusted, DevicePending, DeviceRevoked:
		return true
	}
	return false
}
