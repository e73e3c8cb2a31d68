package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/cryptox"
	"github.com/dmitrijs2005/qvault/internal/dbx"
	"github.com/dmitrijs2005/qvault/internal/logging"
	"github.com/dmitrijs2005/qvault/internal/server/models"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/qvault/internal/server/storage"
)

const (
	maxFileNameLength = 255

	ActionEncrypt         = "ENCRYPT"
	ActionEncryptSimulate = "ENCRYPT_SIMULATE"
	ActionDecrypt         = "DECRYPT"
	ActionDecryptSimulate = "DECRYPT_SIMULATE"
	ActionDecryptFail     = "DECRYPT_FAIL"
	ActionDownload        = "DOWNLOAD"
	ActionKeyDelete       = "KEY_DELETE"

	unknownFileSize = "Unknown"
)

// VaultConfig holds the upload limits the workflow enforces.
type VaultConfig struct {
	MaxUploadSize int64
	// AllowedExtensions are lower-case and without the dot. Empty allows
	// everything.
	AllowedExtensions []string
}

// VaultService runs the encrypt, decrypt and download lifecycle of vault
// records.
type VaultService struct {
	db          *dbx.DB
	repomanager repomanager.RepositoryManager
	blobs       storage.BlobStore
	downloads   *storage.Downloads
	codec       *cryptox.KeyCodec
	audit       *AuditService
	cfg         VaultConfig
	logger      logging.Logger
	now         func() time.Time
}

func NewVaultService(db *dbx.DB, m repomanager.RepositoryManager, blobs storage.BlobStore,
	downloads *storage.Downloads, codec *cryptox.KeyCodec, audit *AuditService,
	cfg VaultConfig, logger logging.Logger) *VaultService {
	return &VaultService{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		downloads:   downloads,
		codec:       codec,
		audit:       audit,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// EncryptInput is one uploaded file.
type EncryptInput struct {
	FileName  string
	Data      []byte
	Algorithm string
	KeyMode   string
	// SimulateOnly stores metadata only, after the same checks.
	SimulateOnly bool
}

// SimulateInput describes a file that is registered but never uploaded.
type SimulateInput struct {
	FileName  string
	FileSize  string
	Algorithm string
	KeyMode   string
}

type EncryptResult struct {
	RecordID    string
	FileName    string
	Fingerprint string
	FileSize    string
	Simulated   bool
}

type DecryptResult struct {
	RecordID      string
	FileName      string
	DecryptCount  int64
	Simulated     bool
	DownloadToken string
}

// Encrypt validates the upload, encrypts it under a fresh data key, stores
// the ciphertext and persists the record together with its audit entry.
func (s *VaultService) Encrypt(ctx context.Context, p models.Principal, in EncryptInput, meta RequestMeta) (*EncryptResult, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}

	name, err := validateFileName(in.FileName)
	if err != nil {
		return nil, err
	}
	if err := s.checkExtension(name); err != nil {
		return nil, err
	}
	if int64(len(in.Data)) > s.cfg.MaxUploadSize {
		return nil, fmt.Errorf("%w: maximum is %d MB", common.ErrPayloadTooLarge, s.cfg.MaxUploadSize/(1024*1024))
	}

	algorithm := defaultString(in.Algorithm, common.DefaultAlgorithm)
	keyMode := defaultString(in.KeyMode, common.DefaultKeyMode)

	if in.SimulateOnly {
		return s.simulate(ctx, p, name, SizeLabel(int64(len(in.Data))), algorithm, keyMode, meta)
	}

	enc, err := cryptox.EncryptFile(in.Data)
	if err != nil {
		return nil, fmt.Errorf("error encrypting file: %w", err)
	}
	defer common.WipeByteArray(enc.Key)

	storedKey, err := s.codec.EncryptDataKey(hex.EncodeToString(enc.Key))
	if err != nil {
		return nil, fmt.Errorf("error protecting data key: %w", err)
	}

	now := s.now().UTC()
	rec := &models.VaultRecord{
		ID:          newRecordID(now),
		OwnerID:     p.ID,
		OwnerName:   p.UserName,
		FileName:    name,
		FileSize:    SizeLabel(int64(len(in.Data))),
		Algorithm:   algorithm,
		KeyType:     keyMode,
		CreatedAt:   now,
		Fingerprint: cryptox.Fingerprint(enc.Key),
	}
	rec.Storage = &models.StoredArtifact{
		Path:         rec.ID + ".enc",
		NonceHex:     hex.EncodeToString(enc.Nonce),
		EncryptedKey: storedKey,
	}

	if err := s.blobs.Put(ctx, rec.Storage.Path, enc.Ciphertext); err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Records(tx).Create(ctx, rec); err != nil {
			return fmt.Errorf("error saving record: %w", err)
		}
		_, err := s.audit.Record(ctx, tx, AuditEvent{
			UserName:   p.UserName,
			ActionType: ActionEncrypt,
			Message:    fmt.Sprintf("File %s encrypted with %s", name, algorithm),
			Detail:     fmt.Sprintf("Size: %s, key ID: %s", rec.FileSize, rec.ID),
			Level:      common.LevelInfo,
			Meta:       meta,
		})
		return err
	})
	if err != nil {
		s.removeBlob(ctx, rec.Storage.Path)
		return nil, err
	}

	s.logger.Info(ctx, "record encrypted", "record_id", rec.ID, "owner", p.UserName, "size", len(in.Data))

	return &EncryptResult{
		RecordID:    rec.ID,
		FileName:    name,
		Fingerprint: rec.Fingerprint,
		FileSize:    rec.FileSize,
	}, nil
}

// Simulate registers a metadata-only record.
func (s *VaultService) Simulate(ctx context.Context, p models.Principal, in SimulateInput, meta RequestMeta) (*EncryptResult, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}

	name, err := validateFileName(in.FileName)
	if err != nil {
		return nil, err
	}
	if err := s.checkExtension(name); err != nil {
		return nil, err
	}

	return s.simulate(ctx, p, name,
		defaultString(in.FileSize, unknownFileSize),
		defaultString(in.Algorithm, common.DefaultAlgorithm),
		defaultString(in.KeyMode, common.DefaultKeyMode),
		meta)
}

func (s *VaultService) simulate(ctx context.Context, p models.Principal, name, size, algorithm, keyMode string, meta RequestMeta) (*EncryptResult, error) {
	now := s.now().UTC()
	rec := &models.VaultRecord{
		ID:          newRecordID(now),
		OwnerID:     p.ID,
		OwnerName:   p.UserName,
		FileName:    name,
		FileSize:    size,
		Algorithm:   algorithm,
		KeyType:     keyMode,
		CreatedAt:   now,
		Fingerprint: cryptox.Fingerprint(common.GenerateRandByteArray(16)),
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Records(tx).Create(ctx, rec); err != nil {
			return fmt.Errorf("error saving record: %w", err)
		}
		_, err := s.audit.Record(ctx, tx, AuditEvent{
			UserName:   p.UserName,
			ActionType: ActionEncryptSimulate,
			Message:    fmt.Sprintf("File %s simulated encryption with %s", name, algorithm),
			Level:      common.LevelInfo,
			Meta:       meta,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return &EncryptResult{
		RecordID:    rec.ID,
		FileName:    name,
		Fingerprint: rec.Fingerprint,
		FileSize:    rec.FileSize,
		Simulated:   true,
	}, nil
}

// Decrypt opens a record's ciphertext and leaves the plaintext in the temp
// area under a fresh one-time download token. Simulated records only bump
// their counter.
func (s *VaultService) Decrypt(ctx context.Context, p models.Principal, recordID string, meta RequestMeta) (*DecryptResult, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return nil, fmt.Errorf("%w: key id is required", common.ErrorValidation)
	}

	rec, err := s.authorizedRecord(ctx, p, recordID)
	if err != nil {
		return nil, err
	}

	if rec.Simulated() {
		count, err := s.countDecrypt(ctx, rec.ID, AuditEvent{
			UserName:   p.UserName,
			ActionType: ActionDecryptSimulate,
			Message:    fmt.Sprintf("Simulated decryption of %s", rec.FileName),
			Level:      common.LevelInfo,
			Meta:       meta,
		})
		if err != nil {
			return nil, err
		}
		return &DecryptResult{RecordID: rec.ID, FileName: rec.FileName, DecryptCount: count, Simulated: true}, nil
	}

	ciphertext, err := s.blobs.Get(ctx, rec.Storage.Path)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.open(rec.Storage, ciphertext)
	if err != nil {
		return nil, s.failDecrypt(ctx, p, rec, err, meta)
	}

	token := storage.NewToken(rec.ID, rec.FileName, s.now())
	err = s.downloads.Write(token, plaintext)
	common.WipeByteArray(plaintext)
	if err != nil {
		return nil, err
	}

	count, err := s.countDecrypt(ctx, rec.ID, AuditEvent{
		UserName:   p.UserName,
		ActionType: ActionDecrypt,
		Message:    fmt.Sprintf("File %s decrypted", rec.FileName),
		Detail:     fmt.Sprintf("Temp file: %s", token),
		Level:      common.LevelInfo,
		Meta:       meta,
	})
	if err != nil {
		if rmErr := s.downloads.Remove(token); rmErr != nil {
			s.logger.Error(ctx, "failed to remove temp file", "token", token, "error", rmErr)
		}
		return nil, err
	}

	return &DecryptResult{
		RecordID:      rec.ID,
		FileName:      rec.FileName,
		DecryptCount:  count,
		DownloadToken: token,
	}, nil
}

// open recovers the data key and authenticates the ciphertext.
func (s *VaultService) open(a *models.StoredArtifact, ciphertext []byte) ([]byte, error) {
	keyHex, err := s.codec.DecryptDataKey(a.EncryptedKey)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: data key is not hex", common.ErrDecryptionFailed)
	}
	defer common.WipeByteArray(key)

	nonce, err := hex.DecodeString(a.NonceHex)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce is not hex", common.ErrDecryptionFailed)
	}

	return cryptox.DecryptFile(ciphertext, key, nonce)
}

// failDecrypt audits a cryptographic failure and returns the error the
// caller sees. A missing master key stays a configuration error.
func (s *VaultService) failDecrypt(ctx context.Context, p models.Principal, rec *models.VaultRecord, cause error, meta RequestMeta) error {
	_, err := s.audit.Record(ctx, nil, AuditEvent{
		UserName:   p.UserName,
		ActionType: ActionDecryptFail,
		Message:    fmt.Sprintf("Decryption of %s failed: %v", rec.FileName, cause),
		Level:      common.LevelError,
		Meta:       meta,
	})
	if err != nil {
		s.logger.Error(ctx, "failed to audit decryption failure", "record_id", rec.ID, "error", err)
	}

	s.logger.Error(ctx, "decryption failed", "record_id", rec.ID, "error", cause)

	if errors.Is(cause, common.ErrMasterKeyMissing) {
		return cause
	}
	if errors.Is(cause, common.ErrDecryptionFailed) {
		return cause
	}
	return fmt.Errorf("%w: %v", common.ErrDecryptionFailed, cause)
}

// countDecrypt bumps the counter and writes ev in one transaction.
func (s *VaultService) countDecrypt(ctx context.Context, recordID string, ev AuditEvent) (int64, error) {
	var count int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		count, err = s.repomanager.Records(tx).IncrementDecryptCount(ctx, recordID)
		if err != nil {
			return fmt.Errorf("error counting decryption: %w", err)
		}
		_, err = s.audit.Record(ctx, tx, ev)
		return err
	})
	return count, err
}

// Download is a claimed one-time plaintext. Close must always be called; it
// deletes the file.
type Download struct {
	FileName string
	Size     int64
	ModTime  time.Time

	file   *storage.Claimed
	logger logging.Logger
}

// Content is the plaintext, seekable for range requests.
func (d *Download) Content() io.ReadSeeker {
	return d.file
}

// Close releases and deletes the claimed file. Failures are logged.
func (d *Download) Close() error {
	if err := d.file.Close(); err != nil {
		d.logger.Error(context.Background(), "failed to close download", "file", d.FileName, "error", err)
		return err
	}
	return nil
}

// Download consumes token. It succeeds at most once per token, even under
// concurrent requests.
func (s *VaultService) Download(ctx context.Context, p models.Principal, recordID, token string, meta RequestMeta) (*Download, error) {
	rec, err := s.authorizedRecord(ctx, p, recordID)
	if err != nil {
		return nil, err
	}

	if err := storage.ValidateToken(token); err != nil {
		return nil, err
	}

	claimed, err := s.downloads.Claim(token)
	if err != nil {
		return nil, err
	}

	d := &Download{
		FileName: rec.FileName,
		Size:     claimed.Size,
		ModTime:  claimed.ModTime,
		file:     claimed,
		logger:   s.logger,
	}

	_, err = s.audit.Record(ctx, nil, AuditEvent{
		UserName:   p.UserName,
		ActionType: ActionDownload,
		Message:    fmt.Sprintf("File %s downloaded", rec.FileName),
		Detail:     fmt.Sprintf("Temp file: %s", token),
		Level:      common.LevelInfo,
		Meta:       meta,
	})
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	return d, nil
}

// List returns every record for admins and the caller's own otherwise,
// newest first.
func (s *VaultService) List(ctx context.Context, p models.Principal) ([]models.VaultRecord, error) {
	owner := p.ID
	if p.IsAdmin() {
		owner = ""
	}
	recs, err := s.repomanager.Records(s.db).List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("error listing records: %w", err)
	}
	return recs, nil
}

// Delete removes a record and then its ciphertext.
func (s *VaultService) Delete(ctx context.Context, p models.Principal, recordID string, meta RequestMeta) error {
	rec, err := s.authorizedRecord(ctx, p, recordID)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Records(tx).Delete(ctx, rec.ID); err != nil {
			return fmt.Errorf("error deleting record: %w", err)
		}
		_, err := s.audit.Record(ctx, tx, AuditEvent{
			UserName:   p.UserName,
			ActionType: ActionKeyDelete,
			Message:    fmt.Sprintf("Deleted key %s (%s)", rec.ID, rec.FileName),
			Level:      common.LevelWarning,
			Meta:       meta,
		})
		return err
	})
	if err != nil {
		return err
	}

	if !rec.Simulated() {
		s.removeBlob(ctx, rec.Storage.Path)
	}
	return nil
}

// authorizedRecord loads recordID and checks that p may use it.
func (s *VaultService) authorizedRecord(ctx context.Context, p models.Principal, recordID string) (*models.VaultRecord, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}

	rec, err := s.repomanager.Records(s.db).Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: key %s does not exist", common.ErrorNotFound, recordID)
		}
		return nil, fmt.Errorf("error loading record: %w", err)
	}

	if !p.IsAdmin() && rec.OwnerID != p.ID {
		return nil, fmt.Errorf("%w: key %s belongs to another user", common.ErrorForbidden, recordID)
	}
	return rec, nil
}

func (s *VaultService) removeBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Error(ctx, "failed to remove ciphertext", "key", key, "error", err)
	}
}

func (s *VaultService) checkExtension(name string) error {
	if len(s.cfg.AllowedExtensions) == 0 {
		return nil
	}
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return fmt.Errorf("%w: %s has no extension", common.ErrUnsupportedType, name)
	}
	ext := strings.ToLower(name[i+1:])
	for _, allowed := range s.cfg.AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: .%s", common.ErrUnsupportedType, ext)
}

// validateFileName trims name and rejects empty, overlong and path-like
// names.
func validateFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: file name must not be empty", common.ErrorValidation)
	}
	if utf8.RuneCountInString(name) > maxFileNameLength {
		return "", fmt.Errorf("%w: file name is longer than %d characters", common.ErrorValidation, maxFileNameLength)
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) || path.IsAbs(name) {
		return "", fmt.Errorf("%w: file name contains illegal characters", common.ErrorValidation)
	}
	return name, nil
}

// SizeLabel renders a byte count the way records display it.
func SizeLabel(n int64) string {
	if n < 1024*1024 {
		return fmt.Sprintf("%.2f KB", float64(n)/1024)
	}
	return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
}

func newRecordID(now time.Time) string {
	return fmt.Sprintf("KEY-%s-%s", now.Format("20060102"), strings.ToUpper(common.RandomSuffix(8)))
}

func requireActive(p models.Principal) error {
	if !p.Active() {
		return common.ErrAccountLocked
	}
	return nil
}

func defaultString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
