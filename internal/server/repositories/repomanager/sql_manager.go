package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/qvault/internal/dbx"
	"github.com/dmitrijs2005/qvault/internal/logging"
	"github.com/dmitrijs2005/qvault/internal/server/migrations"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/devices"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/records"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLRepositoryManager vends the SQL repositories. The same implementations
// serve PostgreSQL (pgx) and SQLite (modernc).
type SQLRepositoryManager struct {
	logger logging.Logger
}

// Option configures a SQLRepositoryManager.
type Option func(*SQLRepositoryManager)

// WithLogger sends migration output to l instead of dropping it.
func WithLogger(l logging.Logger) Option {
	return func(m *SQLRepositoryManager) { m.logger = l }
}

func (m *SQLRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) Records(db dbx.DBTX) records.Repository {
	return records.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) AuditLogs(db dbx.DBTX) auditlogs.Repository {
	return auditlogs.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) Devices(db dbx.DBTX) devices.Repository {
	return devices.NewSQLRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// gooseLogger routes goose output into the structured logger. Fatalf does
// not exit; goose only reports through it on errors it also returns.
type gooseLogger struct {
	ctx    context.Context
	logger logging.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.logger.Info(g.ctx, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.logger.Error(g.ctx, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// RunMigrations applies the embedded migrations using the goose dialect that
// matches the connection.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *dbx.DB) error {
	logger := m.logger
	if logger == nil {
		logger = logging.Discard()
	}
	goose.SetLogger(gooseLogger{ctx: ctx, logger: logger})
	goose.SetBaseFS(migrations.Migrations)

	dialect := "pgx"
	if db.Dialect == dbx.DialectSQLite {
		dialect = "sqlite3"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	return gooseUpContext(ctx, db.DB, ".")
}

func NewSQLRepositoryManager(opts ...Option) RepositoryManager {
	m := &SQLRepositoryManager{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open connects using driver "pgx" or "sqlite" and verifies the connection.
// SQLite handles are limited to one connection since it has a single writer.
func Open(ctx context.Context, driver, dsn string) (*dbx.DB, error) {
	var dialect dbx.Dialect
	switch driver {
	case "pgx":
		dialect = dbx.DialectPostgres
	case "sqlite":
		dialect = dbx.DialectSQLite
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	raw, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if dialect == dbx.DialectSQLite {
		raw.SetMaxOpenConns(1)
	}

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return dbx.NewDB(raw, dialect), nil
}
