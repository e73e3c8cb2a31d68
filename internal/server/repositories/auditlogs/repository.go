// Package auditlogs persists the append-only audit trail.
package auditlogs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/qvault/internal/server/models"
)

// Query filters a listing. Empty fields do not filter.
type Query struct {
	UserName   string
	Level      string
	ActionType string
	Limit      int
	Offset     int
}

type Repository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	// List returns one page, newest first, and the total matching count.
	List(ctx context.Context, q Query) ([]models.AuditLog, int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	// CountSince counts entries at level since the given time, optionally
	// limited to one user.
	CountSince(ctx context.Context, userName, level string, since time.Time) (int64, error)
}
