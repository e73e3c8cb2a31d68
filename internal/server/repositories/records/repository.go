// Package records persists vault record metadata (table key_records).
package records

import (
	"context"
	"time"

	"github.com/dmitrijs2005/qvault/internal/server/models"
)

// Repository is the record store. An empty ownerID means "every owner".
type Repository interface {
	Create(ctx context.Context, rec *models.VaultRecord) error
	Get(ctx context.Context, id string) (*models.VaultRecord, error)
	// List returns records newest first.
	List(ctx context.Context, ownerID string) ([]models.VaultRecord, error)
	// IncrementDecryptCount bumps the counter in one statement and returns
	// the new value.
	IncrementDecryptCount(ctx context.Context, id string) (int64, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int64, error)
	Count(ctx context.Context, ownerID string) (int64, error)
	// CountCreatedBetween counts records with from <= created_at < to.
	CountCreatedBetween(ctx context.Context, ownerID string, from, to time.Time) (int64, error)
}
