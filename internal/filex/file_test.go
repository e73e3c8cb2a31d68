package filex

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestEnsureDir_CreatesRelativeDirectoryInCWD(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	got, err := EnsureDir("uploads")
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(filepath.Join(tmp, "uploads"))
	require.NoError(t, err)
	gotResolved, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	require.Equal(t, want, gotResolved)

	fi, err := os.Stat(got)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		perm := fi.Mode().Perm()
		require.Equal(t, os.FileMode(0o700), perm&0o700)
	}
}

func TestEnsureDir_Idempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	first, err := EnsureDir(dir)
	require.NoError(t, err)

	second, err := EnsureDir(dir)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestEnsureDir_FailsIfFileWithSameNameExists(t *testing.T) {
	p := filepath.Join(t.TempDir(), "uploads")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o660))

	_, err := EnsureDir(p)
	require.Error(t, err, "should fail when a file exists with the same name")
}

func TestWriteNew_WritesWholeBuffer(t *testing.T) {
	p := filepath.Join(t.TempDir(), "blob.enc")

	require.NoError(t, WriteNew(p, []byte("ciphertext"), 0o600))

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "ciphertext", string(got))

	size, err := Size(p)
	require.NoError(t, err)
	require.Equal(t, int64(len("ciphertext")), size)
}

func TestWriteNew_RefusesExistingPath(t *testing.T) {
	p := filepath.Join(t.TempDir(), "blob.enc")
	require.NoError(t, os.WriteFile(p, []byte("first"), 0o600))

	err := WriteNew(p, []byte("second"), 0o600)
	require.True(t, errors.Is(err, os.ErrExist), "got %v", err)

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "first", string(got), "existing file must be untouched")
}

func TestRemoveIfExists(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tmp.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))

	require.NoError(t, RemoveIfExists(p))
	_, err := os.Stat(p)
	require.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, RemoveIfExists(p), "missing file is not an error")
}
