package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/filex"
	"github.com/dmitrijs2005/qvault/internal/logging"
)

const (
	tokenPrefix     = "decrypt_"
	tokenTimeLayout = "20060102150405"
	claimedSubdir   = ".claimed"
)

// Downloads is the temp area for decrypted plaintext. Every file in it is a
// one-time download; its base name is the download token.
type Downloads struct {
	dir     string
	claimed string
	logger  logging.Logger
}

// NewDownloads creates dir (and its claim area) when needed.
func NewDownloads(dir string, logger logging.Logger) (*Downloads, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	claimed, err := filex.EnsureDir(filepath.Join(abs, claimedSubdir))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	return &Downloads{dir: abs, claimed: claimed, logger: logger}, nil
}

// NewToken builds a fresh token for recordID. The extension of fileName is
// kept so browsers guess the type.
func NewToken(recordID, fileName string, now time.Time) string {
	ext := ""
	if strings.Contains(fileName, ".") {
		ext = filepath.Ext(fileName)
		if strings.ContainsAny(ext, `/\`) {
			ext = ""
		}
	}
	return fmt.Sprintf("%s%s_%s_%s%s", tokenPrefix, recordID, now.Format(tokenTimeLayout), common.RandomSuffix(6), ext)
}

// ValidateToken rejects empty tokens and anything that is not a plain file
// name inside the temp area.
func ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("%w: download token is required", common.ErrorValidation)
	}
	if strings.ContainsAny(token, `/\`) || strings.Contains(token, "..") || filepath.Base(token) != token {
		return fmt.Errorf("%w: invalid download token", common.ErrorValidation)
	}
	return nil
}

// Write stores plaintext under token. The token must be new.
func (d *Downloads) Write(token string, data []byte) error {
	if err := ValidateToken(token); err != nil {
		return err
	}
	if err := filex.WriteNew(filepath.Join(d.dir, token), data, 0o600); err != nil {
		return fmt.Errorf("%w: write temp file: %v", common.ErrStorage, err)
	}
	return nil
}

// Remove deletes an unclaimed temp file; used to undo Write.
func (d *Downloads) Remove(token string) error {
	if err := ValidateToken(token); err != nil {
		return err
	}
	return filex.RemoveIfExists(filepath.Join(d.dir, token))
}

// Claimed is a temp file taken out of circulation by Claim. Close releases
// the handle and deletes the file.
type Claimed struct {
	*os.File
	Size    int64
	ModTime time.Time

	path   string
	logger logging.Logger
}

func (c *Claimed) Close() error {
	cerr := c.File.Close()
	if err := filex.RemoveIfExists(c.path); err != nil {
		c.logger.Error(context.Background(), "failed to remove downloaded temp file", "path", c.path, "error", err)
	}
	return cerr
}

// Claim atomically moves the token's file out of the temp area and opens it.
// Of two concurrent claims for the same token exactly one succeeds; the other
// gets common.ErrorNotFound, as does an unknown or already consumed token.
func (d *Downloads) Claim(token string) (*Claimed, error) {
	if err := ValidateToken(token); err != nil {
		return nil, err
	}

	src := filepath.Join(d.dir, token)
	dst := filepath.Join(d.claimed, token+"."+common.RandomSuffix(12))

	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: download expired or already consumed", common.ErrorNotFound)
		}
		return nil, fmt.Errorf("%w: claim temp file: %v", common.ErrStorage, err)
	}

	f, err := os.Open(dst)
	if err != nil {
		_ = filex.RemoveIfExists(dst)
		return nil, fmt.Errorf("%w: open claimed file: %v", common.ErrStorage, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		_ = filex.RemoveIfExists(dst)
		return nil, fmt.Errorf("%w: stat claimed file: %v", common.ErrStorage, err)
	}

	return &Claimed{File: f, Size: fi.Size(), ModTime: fi.ModTime(), path: dst, logger: d.logger}, nil
}

// Sweep deletes temp files (claimed or not) last modified before cutoff and
// returns how many were removed.
func (d *Downloads) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	for _, dir := range []string{d.dir, d.claimed} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return removed, fmt.Errorf("%w: read %s: %v", common.ErrStorage, dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasPrefix(e.Name(), tokenPrefix) {
				continue
			}
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			p := filepath.Join(dir, e.Name())
			if err := filex.RemoveIfExists(p); err != nil {
				d.logger.Error(ctx, "failed to sweep temp file", "path", p, "error", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
