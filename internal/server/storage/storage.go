// Package storage keeps ciphertext blobs (on the local filesystem or in an
// S3-compatible bucket) and the short-lived plaintext files handed out as
// one-time downloads.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/qvault/internal/common"
)

// BlobStore stores opaque ciphertext under flat keys such as "<recordID>.enc".
type BlobStore interface {
	// Put stores data under a new key. An existing key is an error.
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the blob or common.ErrMissingArtifact.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes the blob. A missing blob is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Size returns the blob length or common.ErrMissingArtifact.
	Size(ctx context.Context, key string) (int64, error)
}

// validKey rejects keys that could escape the store's namespace.
func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return fmt.Errorf("%w: invalid blob key %q", common.ErrStorage, key)
	}
	return nil
}
