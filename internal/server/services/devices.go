package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/dbx"
	"github.com/dmitrijs2005/qvault/internal/server/models"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/repomanager"
)

const (
	ActionDeviceAdd    = "DEVICE_ADD"
	ActionDeviceStatus = "DEVICE_STATUS"
	ActionDeviceDelete = "DEVICE_DELETE"

	maxDeviceName   = 80
	unknownDeviceIP = "Unknown"
)

// DeviceService maintains the device registry. Everybody may list it; only
// admins change it.
type DeviceService struct {
	db          *dbx.DB
	repomanager repomanager.RepositoryManager
	audit       *AuditService
	now         func() time.Time
}

func NewDeviceService(db *dbx.DB, m repomanager.RepositoryManager, audit *AuditService) *DeviceService {
	return &DeviceService{db: db, repomanager: m, audit: audit, now: time.Now}
}

// List returns devices by most recent activity first.
func (s *DeviceService) List(ctx context.Context) ([]models.Device, error) {
	devices, err := s.repomanager.Devices(s.db).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing devices: %w", err)
	}
	return devices, nil
}

// AddDeviceInput is a new device. Unknown statuses fall back to pending.
type AddDeviceInput struct {
	Name   string
	IP     string
	Status string
}

func (s *DeviceService) Add(ctx context.Context, p models.Principal, in AddDeviceInput, meta RequestMeta) (*models.Device, error) {
	if !p.IsAdmin() {
		return nil, fmt.Errorf("%w: admin access required", common.ErrorForbidden)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: device name is required", common.ErrorValidation)
	}
	if utf8.RuneCountInString(name) > maxDeviceName {
		return nil, fmt.Errorf("%w: device name too long", common.ErrorValidation)
	}

	status := in.Status
	if !models.ValidDeviceStatus(status) {
		status = models.DevicePending
	}

	d := &models.Device{
		ID:         "DEV-" + strings.ToUpper(common.RandomSuffix(8)),
		Name:       name,
		IP:         defaultString(strings.TrimSpace(in.IP), unknownDeviceIP),
		Status:     status,
		LastActive: s.now().UTC(),
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Devices(tx).Create(ctx, d); err != nil {
			return fmt.Errorf("error creating device: %w", err)
		}
		_, err := s.audit.Record(ctx, tx, AuditEvent{
			UserName:   p.UserName,
			ActionType: ActionDeviceAdd,
			Message:    fmt.Sprintf("Added device %s (%s)", d.Name, d.ID),
			Level:      common.LevelInfo,
			Meta:       meta,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// SetStatus moves a device to status and marks it active now. Trusting is
// audited at info level, everything else as a warning.
func (s *DeviceService) SetStatus(ctx context.Context, p models.Principal, deviceID, status string, meta RequestMeta) (*models.Device, error) {
	if !p.IsAdmin() {
		return nil, fmt.Errorf("%w: admin access required", common.ErrorForbidden)
	}

	d, err := s.get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	status = strings.TrimSpace(status)
	if !models.ValidDeviceStatus(status) {
		return nil, fmt.Errorf("%w: status must be trusted, pending, or revoked", common.ErrorValidation)
	}

	old := d.Status
	d.Status = status
	d.LastActive = s.now().UTC()

	level := common.LevelWarning
	if status == models.DeviceTrusted {
		level = common.LevelInfo
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Devices(tx).UpdateStatus(ctx, d.ID, d.Status, d.LastActive); err != nil {
			return fmt.Errorf("error updating device: %w", err)
		}
		_, err := s.audit.Record(ctx, tx, AuditEvent{
			UserName:   p.UserName,
			ActionType: ActionDeviceStatus,
			Message:    fmt.Sprintf("Device %s status changed: %s -> %s", d.Name, old, status),
			Level:      level,
			Meta:       meta,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DeviceService) Delete(ctx context.Context, p models.Principal, deviceID string, meta RequestMeta) error {
	if !p.IsAdmin() {
		return fmt.Errorf("%w: admin access required", common.ErrorForbidden)
	}

	d, err := s.get(ctx, deviceID)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Devices(tx).Delete(ctx, d.ID); err != nil {
			return fmt.Errorf("error deleting device: %w", err)
		}
		_, err := s.audit.Record(ctx, tx, AuditEvent{
			UserName:   p.UserName,
			ActionType: ActionDeviceDelete,
			Message:    fmt.Sprintf("Deleted device %s (%s)", d.Name, d.ID),
			Level:      common.LevelWarning,
			Meta:       meta,
		})
		return err
	})
}

func (s *DeviceService) get(ctx context.Context, id string) (*models.Device, error) {
	d, err := s.repomanager.Devices(s.db).Get(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: device not found", common.ErrorNotFound)
		}
		return nil, fmt.Errorf("error loading device: %w", err)
	}
	return d, nil
}
