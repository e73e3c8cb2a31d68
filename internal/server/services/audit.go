// Package services contains the server-side business logic: the vault
// encrypt/decrypt/download workflow, the audit trail, accounts and tokens,
// devices, the dashboard and maintenance operations.
package services

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/dbx"
	"github.com/dmitrijs2005/qvault/internal/logging"
	"github.com/dmitrijs2005/qvault/internal/server/models"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	maxAuditMessage       = 255
	maxServerErrorMessage = 200

	defaultLogsPerPage = 50
	maxLogsPerPage     = 100

	// ActionFrontend is used for client-reported entries without an action.
	ActionFrontend = "FRONTEND"
	// ActionServerError marks failures the HTTP layer could not classify.
	ActionServerError = "ERROR"
)

// RequestMeta is where a request came from, as recorded in the audit trail.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// AuditEvent is an audit entry before it gets an id and a timestamp.
type AuditEvent struct {
	UserName   string
	ActionType string
	Message    string
	Detail     string
	Level      string
	Meta       RequestMeta
}

// AuditService appends to and reads the audit trail.
type AuditService struct {
	db          *dbx.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	now         func() time.Time
}

func NewAuditService(db *dbx.DB, m repomanager.RepositoryManager, logger logging.Logger) *AuditService {
	return &AuditService{db: db, repomanager: m, logger: logger, now: time.Now}
}

// Record appends ev synchronously. When tx is non-nil the entry becomes part
// of the caller's transaction.
func (s *AuditService) Record(ctx context.Context, tx dbx.DBTX, ev AuditEvent) (*models.AuditLog, error) {
	if tx == nil {
		tx = s.db
	}

	entry := &models.AuditLog{
		ID:         uuid.NewString(),
		UserName:   ev.UserName,
		ActionType: ev.ActionType,
		Message:    truncateRunes(ev.Message, maxAuditMessage),
		Detail:     ev.Detail,
		Level:      normalizeLevel(ev.Level),
		Timestamp:  s.now().UTC(),
		IPAddress:  ev.Meta.IP,
		UserAgent:  ev.Meta.UserAgent,
	}

	if err := s.repomanager.AuditLogs(tx).Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("error writing audit entry: %w", err)
	}
	return entry, nil
}

// RecordServerError writes an error-level entry by the system user for a
// failure nobody else reported. Failures to do so are only logged.
func (s *AuditService) RecordServerError(ctx context.Context, cause error, meta RequestMeta) {
	_, err := s.Record(ctx, nil, AuditEvent{
		UserName:   common.SystemUser,
		ActionType: ActionServerError,
		Message:    truncateRunes(cause.Error(), maxServerErrorMessage),
		Level:      common.LevelError,
		Meta:       meta,
	})
	if err != nil {
		s.logger.Error(ctx, "failed to audit server error", "error", err, "cause", cause)
	}
}

// LogFilter selects a page of the trail. Zero values mean defaults.
type LogFilter struct {
	Page       int
	PerPage    int
	Level      string
	ActionType string
	UserName   string
}

// LogPage is one page of entries plus pagination counters.
type LogPage struct {
	Logs    []models.AuditLog
	Page    int
	PerPage int
	Total   int64
	Pages   int
}

// List returns entries newest first. Admins see everything and may filter by
// user; everybody else sees only their own entries.
func (s *AuditService) List(ctx context.Context, p models.Principal, f LogFilter) (*LogPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = defaultLogsPerPage
	}
	if f.PerPage > maxLogsPerPage {
		f.PerPage = maxLogsPerPage
	}
	if !p.IsAdmin() {
		f.UserName = p.UserName
	}

	logs, total, err := s.repomanager.AuditLogs(s.db).List(ctx, auditlogs.Query{
		UserName:   f.UserName,
		Level:      f.Level,
		ActionType: f.ActionType,
		Limit:      f.PerPage,
		Offset:     (f.Page - 1) * f.PerPage,
	})
	if err != nil {
		return nil, fmt.Errorf("error listing audit entries: %w", err)
	}

	pages := int((total + int64(f.PerPage) - 1) / int64(f.PerPage))

	return &LogPage{Logs: logs, Page: f.Page, PerPage: f.PerPage, Total: total, Pages: pages}, nil
}

// ReportInput is an entry submitted by a client.
type ReportInput struct {
	ActionType string
	Message    string
	Detail     string
	Level      string
}

// Report stores a client-reported entry under the caller's name.
func (s *AuditService) Report(ctx context.Context, p models.Principal, in ReportInput, meta RequestMeta) (string, error) {
	action := in.ActionType
	if action == "" {
		action = ActionFrontend
	}

	entry, err := s.Record(ctx, nil, AuditEvent{
		UserName:   p.UserName,
		ActionType: action,
		Message:    in.Message,
		Detail:     in.Detail,
		Level:      in.Level,
		Meta:       meta,
	})
	if err != nil {
		return "", err
	}
	return entry.ID, nil
}

func normalizeLevel(level string) string {
	switch level {
	case common.LevelInfo, common.LevelWarning, common.LevelError:
		return level
	}
	return common.LevelInfo
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
