// Package devices persists the device registry used for access administration.
package devices

import (
	"context"
	"time"

	"github.com/dmitrijs2005/qvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, d *models.Device) error
	Get(ctx context.Context, id string) (*models.Device, error)
	// List returns devices by most recent activity first.
	List(ctx context.Context) ([]models.Device, error)
	UpdateStatus(ctx context.Context, id, status string, lastActive time.Time) error
	Delete(ctx context.Context, id string) error
	// CountByStatus returns the number of devices per status.
	CountByStatus(ctx context.Context) (map[string]int64, error)
}
