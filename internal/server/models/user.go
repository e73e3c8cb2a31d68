package models

import (
	"time"

	"github.com/dmitrijs2005/qvault/internal/common"
)

type User struct {
	ID           string
	UserName     string
	PasswordHash string
	Name         string
	Role         string
	Department   string
	Status       string
	CreatedAt    time.Time
}

// Principal is the authenticated caller as seen by the services.
type Principal struct {
	ID       string
	UserName string
	Role     string
	Status   string
}

func (p Principal) IsAdmin() bool {
	return p.Role == common.RoleAdmin
}

func (p Principal) Active() bool {
	return p.Status == common.StatusActive
}

// Principal returns the caller view of the user.
func (u *User) Principal() Principal {
	return Principal{ID: u.ID, UserName: u.UserName, Role: u.Role, Status: u.Status}
}
