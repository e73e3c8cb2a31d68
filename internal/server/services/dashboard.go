package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/dbx"
	"github.com/dmitrijs2005/qvault/internal/logging"
	"github.com/dmitrijs2005/qvault/internal/server/models"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/qvault/internal/server/storage"
)

// DashboardStats is the overview shown after login.
type DashboardStats struct {
	EncryptedFiles       int64
	EncryptedFilesChange int
	StorageUsed          string
	StorageBytes         int64
	SecurityScore        string
	Alerts               int64
	Devices              DeviceCounts
	QRNG                 QRNGStatus
	SecurityStatus       []StatusItem
}

type DeviceCounts struct {
	Total   int64
	Trusted int64
	Pending int64
	Revoked int64
}

type QRNGStatus struct {
	Online         bool
	EntropyQuality string
	LastSync       time.Time
}

type StatusItem struct {
	Label  string
	Value  string
	Status string
}

var securityGrades = map[int]string{5: "A+", 4: "A", 3: "B+", 2: "B", 1: "C", 0: "D"}

// DashboardService aggregates records, storage, alerts and devices. Record
// and alert numbers are scoped to the caller unless they are an admin.
type DashboardService struct {
	db          *dbx.DB
	repomanager repomanager.RepositoryManager
	blobs       storage.BlobStore
	logger      logging.Logger
	now         func() time.Time
}

func NewDashboardService(db *dbx.DB, m repomanager.RepositoryManager, blobs storage.BlobStore, logger logging.Logger) *DashboardService {
	return &DashboardService{db: db, repomanager: m, blobs: blobs, logger: logger, now: time.Now}
}

func (s *DashboardService) Stats(ctx context.Context, p models.Principal) (*DashboardStats, error) {
	owner, alertUser := p.ID, p.UserName
	if p.IsAdmin() {
		owner, alertUser = "", ""
	}

	recs := s.repomanager.Records(s.db)

	list, err := recs.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("error listing records: %w", err)
	}

	var storageBytes int64
	for _, r := range list {
		if r.Simulated() {
			continue
		}
		n, err := s.blobs.Size(ctx, r.Storage.Path)
		if err != nil {
			if !errors.Is(err, common.ErrMissingArtifact) {
				s.logger.Warn(ctx, "failed to size ciphertext", "record_id", r.ID, "error", err)
			}
			continue
		}
		storageBytes += n
	}

	now := s.now().UTC()
	weekAgo := now.AddDate(0, 0, -7)

	thisWeek, err := recs.CountCreatedBetween(ctx, owner, weekAgo, now.Add(time.Second))
	if err != nil {
		return nil, fmt.Errorf("error counting records: %w", err)
	}
	lastWeek, err := recs.CountCreatedBetween(ctx, owner, weekAgo.AddDate(0, 0, -7), weekAgo)
	if err != nil {
		return nil, fmt.Errorf("error counting records: %w", err)
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	alerts, err := s.repomanager.AuditLogs(s.db).CountSince(ctx, alertUser, common.LevelError, midnight)
	if err != nil {
		return nil, fmt.Errorf("error counting alerts: %w", err)
	}

	byStatus, err := s.repomanager.Devices(s.db).CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("error counting devices: %w", err)
	}
	devices := DeviceCounts{
		Trusted: byStatus[models.DeviceTrusted],
		Pending: byStatus[models.DevicePending],
		Revoked: byStatus[models.DeviceRevoked],
	}
	for _, n := range byStatus {
		devices.Total += n
	}

	total := int64(len(list))

	return &DashboardStats{
		EncryptedFiles:       total,
		EncryptedFilesChange: changePercent(thisWeek, lastWeek),
		StorageUsed:          StorageLabel(storageBytes),
		StorageBytes:         storageBytes,
		SecurityScore:        securityScore(total, alerts, devices.Trusted),
		Alerts:               alerts,
		Devices:              devices,
		QRNG:                 QRNGStatus{Online: true, EntropyQuality: "excellent", LastSync: now},
		SecurityStatus:       securityStatus(alerts),
	}, nil
}

// StorageLabel renders a byte count with one decimal in B, KB, MB or GB.
func StorageLabel(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	case n < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
	return fmt.Sprintf("%.1f GB", float64(n)/(1024*1024*1024))
}

func changePercent(thisWeek, lastWeek int64) int {
	if lastWeek > 0 {
		return int(float64(thisWeek-lastWeek) / float64(lastWeek) * 100)
	}
	if thisWeek > 0 {
		return 100
	}
	return 0
}

// securityScore grades five checks. Password policy and the entropy source
// always pass.
func securityScore(records, alerts, trusted int64) string {
	points := 2
	if records > 0 {
		points++
	}
	if alerts == 0 {
		points++
	}
	if trusted > 0 {
		points++
	}
	return securityGrades[points]
}

func securityStatus(alerts int64) []StatusItem {
	threat := StatusItem{Label: "Threat detection", Value: "No anomalies", Status: "online"}
	if alerts > 0 {
		threat = StatusItem{Label: "Threat detection", Value: fmt.Sprintf("%d alerts", alerts), Status: "warning"}
	}
	return []StatusItem{
		{Label: "Encrypted channel", Value: "TLS 1.3", Status: "online"},
		{Label: "Session", Value: "Authenticated", Status: "online"},
		{Label: "Key rotation", Value: "Normal", Status: "online"},
		threat,
	}
}
