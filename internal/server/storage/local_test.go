package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "r1.enc", []byte("ciphertext")))

	got, err := s.Get(ctx, "r1.enc")
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", string(got))

	n, err := s.Size(ctx, "r1.enc")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	ok, err := s.Exists(ctx, "r1.enc")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "r1.enc"))
	ok, err = s.Exists(ctx, "r1.enc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "r1.enc"), "deleting twice is fine")
}

func TestLocalStore_PutRefusesOverwrite(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "a.enc", []byte("one")))
	err = s.Put(ctx, "a.enc", []byte("two"))
	assert.ErrorIs(t, err, common.ErrStorage)

	got, err := s.Get(ctx, "a.enc")
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))
}

func TestLocalStore_Missing(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(ctx, "nope.enc")
	assert.ErrorIs(t, err, common.ErrMissingArtifact)
	assert.True(t, common.IsNotFound(err))

	_, err = s.Size(ctx, "nope.enc")
	assert.ErrorIs(t, err, common.ErrMissingArtifact)
}

func TestLocalStore_RejectsTraversalKeys(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewLocalStore(filepath.Join(root, "inner"))
	require.NoError(t, err)

	for _, key := range []string{"", "../x.enc", "a/b.enc", `a\b.enc`, ".."} {
		err := s.Put(ctx, key, []byte("x"))
		assert.ErrorIs(t, err, common.ErrStorage, "key %q", key)
	}

	_, err = os.Stat(filepath.Join(root, "x.enc"))
	assert.True(t, os.IsNotExist(err))
}

func TestNewLocalStore_FailsOnFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))

	_, err := NewLocalStore(p)
	assert.ErrorIs(t, err, common.ErrStorage)
}
