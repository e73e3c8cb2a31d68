package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/dbx"
	"github.com/dmitrijs2005/qvault/internal/logging"
	"github.com/dmitrijs2005/qvault/internal/server/models"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/qvault/internal/server/storage"
)

const (
	ActionResetAttempt = "RESET_ATTEMPT"
	ActionSystemReset  = "SYSTEM_RESET"
	ActionSystemInit   = "SYSTEM_INIT"

	seedIP        = "127.0.0.1"
	seedUserAgent = "Seed Script/1.0"
)

// MaintenanceService holds the destructive and bootstrap operations.
type MaintenanceService struct {
	db          *dbx.DB
	repomanager repomanager.RepositoryManager
	blobs       storage.BlobStore
	audit       *AuditService
	debug       bool
	logger      logging.Logger
	now         func() time.Time
}

func NewMaintenanceService(db *dbx.DB, m repomanager.RepositoryManager, blobs storage.BlobStore,
	audit *AuditService, debug bool, logger logging.Logger) *MaintenanceService {
	return &MaintenanceService{db: db, repomanager: m, blobs: blobs, audit: audit, debug: debug, logger: logger, now: time.Now}
}

// ResetResult reports what Reset removed.
type ResetResult struct {
	Records   int64
	AuditLogs int64
}

// Reset deletes every record, its ciphertext and the whole audit trail.
// Accounts and devices are kept. Admin only, and only in debug mode; other
// callers leave a RESET_ATTEMPT warning behind.
func (s *MaintenanceService) Reset(ctx context.Context, p models.Principal, meta RequestMeta) (*ResetResult, error) {
	if !p.IsAdmin() {
		if _, err := s.audit.Record(ctx, nil, AuditEvent{
			UserName:   p.UserName,
			ActionType: ActionResetAttempt,
			Message:    "Unauthorized reset attempt blocked",
			Level:      common.LevelWarning,
			Meta:       meta,
		}); err != nil {
			s.logger.Error(ctx, "failed to audit reset attempt", "error", err)
		}
		return nil, fmt.Errorf("%w: admin access required", common.ErrorForbidden)
	}
	if !s.debug {
		return nil, fmt.Errorf("%w: reset is only available in debug mode", common.ErrorForbidden)
	}

	var recs []models.VaultRecord
	res := &ResetResult{}
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		// the blob list must match exactly the rows this transaction deletes
		if recs, err = s.repomanager.Records(tx).List(ctx, ""); err != nil {
			return fmt.Errorf("error listing records: %w", err)
		}
		if res.Records, err = s.repomanager.Records(tx).DeleteAll(ctx); err != nil {
			return fmt.Errorf("error deleting records: %w", err)
		}
		if res.AuditLogs, err = s.repomanager.AuditLogs(tx).DeleteAll(ctx); err != nil {
			return fmt.Errorf("error deleting audit entries: %w", err)
		}
		_, err = s.audit.Record(ctx, tx, AuditEvent{
			UserName:   p.UserName,
			ActionType: ActionSystemReset,
			Message:    "Administrator reset the database",
			Level:      common.LevelWarning,
			Meta:       meta,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, r := range recs {
		if r.Simulated() {
			continue
		}
		if err := s.blobs.Delete(ctx, r.Storage.Path); err != nil {
			s.logger.Error(ctx, "failed to remove ciphertext", "key", r.Storage.Path, "error", err)
		}
	}

	s.logger.Warn(ctx, "database reset", "by", p.UserName, "records", res.Records, "audit_logs", res.AuditLogs)
	return res, nil
}

// Seed fills an empty database with the demo accounts (admin/admin123 and
// user/user123), a sample record, a trusted device and the SYSTEM_INIT
// entry. A database that already has users yields common.ErrorAlreadyExists.
func (s *MaintenanceService) Seed(ctx context.Context) error {
	now := s.now().UTC()

	admin, err := NewUser(CreateUserInput{
		UserName: "admin", Password: "admin123", Name: "System Administrator",
		Role: common.RoleAdmin, Department: "IT Security",
	}, now)
	if err != nil {
		return err
	}
	user, err := NewUser(CreateUserInput{
		UserName: "user", Password: "user123", Name: "Alice Researcher",
		Role: common.RoleUser, Department: "Quantum Lab",
	}, now)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)

		n, err := users.Count(ctx)
		if err != nil {
			return fmt.Errorf("error counting users: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: database already has users", common.ErrorAlreadyExists)
		}

		for _, u := range []*models.User{admin, user} {
			if _, err := users.Create(ctx, u); err != nil {
				return fmt.Errorf("error creating user %s: %w", u.UserName, err)
			}
		}

		if _, err := s.audit.Record(ctx, tx, AuditEvent{
			UserName:   common.SystemUser,
			ActionType: ActionSystemInit,
			Message:    "System initialized successfully.",
			Detail:     "Database seeded with initial data.",
			Level:      common.LevelInfo,
			Meta:       RequestMeta{IP: seedIP, UserAgent: seedUserAgent},
		}); err != nil {
			return err
		}

		if err := s.repomanager.Records(tx).Create(ctx, &models.VaultRecord{
			ID:          newRecordID(now),
			OwnerID:     admin.ID,
			OwnerName:   admin.UserName,
			FileName:    "demo_report.pdf",
			FileSize:    "1.2 MB",
			Algorithm:   common.DefaultAlgorithm,
			KeyType:     common.DefaultKeyMode,
			CreatedAt:   now,
			Fingerprint: "a1b2c3d4e5f60718",
		}); err != nil {
			return fmt.Errorf("error creating sample record: %w", err)
		}

		if err := s.repomanager.Devices(tx).Create(ctx, &models.Device{
			ID:         "DEV-SAMPLE-001",
			Name:       "Admin Workstation",
			IP:         "192.168.1.100",
			Status:     models.DeviceTrusted,
			LastActive: now,
		}); err != nil {
			return fmt.Errorf("error creating sample device: %w", err)
		}

		return nil
	})
}
