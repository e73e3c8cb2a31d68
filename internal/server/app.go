// Package server wires the vault together: configuration, database,
// blob storage, services and the HTTP API, plus graceful shutdown and the
// temp file sweeper.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/cryptox"
	"github.com/dmitrijs2005/qvault/internal/dbx"
	"github.com/dmitrijs2005/qvault/internal/logging"
	"github.com/dmitrijs2005/qvault/internal/server/config"
	"github.com/dmitrijs2005/qvault/internal/server/httpapi"
	"github.com/dmitrijs2005/qvault/internal/server/models"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/qvault/internal/server/services"
	"github.com/dmitrijs2005/qvault/internal/server/storage"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *dbx.DB
	downloads *storage.Downloads
	handler   http.Handler

	users       *services.UserService
	maintenance *services.MaintenanceService
}

// operator is the principal behind changes made from the command line.
var operator = models.Principal{UserName: common.SystemUser, Role: common.RoleAdmin, Status: common.StatusActive}

// NewApp opens the database, applies migrations and builds every service.
// The caller owns the returned App and must Close it.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := repomanager.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := build(ctx, c, logger, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, c *config.Config, logger logging.Logger, db *dbx.DB) (*App, error) {
	rm := repomanager.NewSQLRepositoryManager(repomanager.WithLogger(logger.With("module", "migrations")))
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	blobs, err := newBlobStore(ctx, c)
	if err != nil {
		return nil, err
	}

	downloads, err := storage.NewDownloads(c.EffectiveTempDir(), logger.With("module", "downloads"))
	if err != nil {
		return nil, err
	}

	masterKey, err := c.MasterKeyBytes()
	if err != nil {
		return nil, err
	}
	codec, err := cryptox.NewKeyCodec(masterKey)
	common.WipeByteArray(masterKey)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	if !codec.Protected() {
		logger.Warn(ctx, "no master key configured, data keys are stored unprotected")
	}

	audit := services.NewAuditService(db, rm, logger.With("module", "audit"))
	users := services.NewUserService(db, rm, audit, c)
	maintenance := services.NewMaintenanceService(db, rm, blobs, audit, c.Debug, logger.With("module", "maintenance"))

	h := httpapi.NewHandler(httpapi.Services{
		Vault: services.NewVaultService(db, rm, blobs, downloads, codec, audit, services.VaultConfig{
			MaxUploadSize:     c.MaxUploadSize,
			AllowedExtensions: c.AllowedExtensions,
		}, logger.With("module", "vault")),
		Audit:       audit,
		Users:       users,
		Devices:     services.NewDeviceService(db, rm, audit),
		Dashboard:   services.NewDashboardService(db, rm, blobs, logger.With("module", "dashboard")),
		Maintenance: maintenance,
	}, httpapi.Options{MaxUploadSize: c.MaxUploadSize, CORSOrigins: c.CORSOrigins}, logger)

	app := &App{
		config:      c,
		logger:      logger,
		db:          db,
		downloads:   downloads,
		handler:     h.Routes(),
		users:       users,
		maintenance: maintenance,
	}

	if c.SeedDemoData {
		if err := app.Seed(ctx); err != nil {
			return nil, err
		}
	}

	return app, nil
}

func newBlobStore(ctx context.Context, c *config.Config) (storage.BlobStore, error) {
	if c.StorageBackend != config.StorageS3 {
		s, err := storage.NewLocalStore(c.UploadDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	s, err := storage.NewS3Store(ctx, storage.S3Config{
		User:         c.S3RootUser,
		Password:     c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		return nil, err
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Seed loads the demo data into an empty database. A populated one is left
// alone.
func (app *App) Seed(ctx context.Context) error {
	err := app.maintenance.Seed(ctx)
	switch {
	case err == nil:
		app.logger.Info(ctx, "demo data seeded")
	case errors.Is(err, common.ErrorAlreadyExists):
		app.logger.Info(ctx, "database already populated, skipping seed")
	default:
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}

// CreateUser adds an account on behalf of the local operator.
func (app *App) CreateUser(ctx context.Context, in services.CreateUserInput) (*models.User, error) {
	return app.users.Create(ctx, operator, in, services.RequestMeta{IP: "local", UserAgent: "qvault-admin"})
}

// Handler returns the HTTP API.
func (app *App) Handler() http.Handler {
	return app.handler
}

func (app *App) Close() error {
	return app.db.Close()
}

// Run serves the API until ctx is done or SIGINT/SIGTERM/SIGQUIT arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.EndpointAddr, "storage", app.config.StorageBackend)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpapi.NewServer(app.config.EndpointAddr, app.handler, app.logger).Run(ctx)
	})

	if app.config.TempFileTTL > 0 {
		g.Go(func() error {
			app.sweepLoop(ctx, app.config.TempFileTTL)
			return nil
		})
	}

	err := g.Wait()
	app.logger.Info(context.Background(), "app stopped")
	return err
}

// sweepLoop removes decrypted temp files nobody downloaded within ttl.
func (app *App) sweepLoop(ctx context.Context, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			app.sweep(ctx, now.Add(-ttl))
		}
	}
}

func (app *App) sweep(ctx context.Context, cutoff time.Time) int {
	n, err := app.downloads.Sweep(ctx, cutoff)
	if err != nil {
		app.logger.Error(ctx, "temp file sweep failed", "error", err)
	}
	if n > 0 {
		app.logger.Info(ctx, "expired temp files removed", "count", n)
	}
	return n
}

// NewLogger builds the JSON process logger at the configured level.
func NewLogger(c *config.Config) (logging.Logger, error) {
	l, err := logging.New(os.Stdout, c.LogLevel, "json")
	if err != nil {
		return nil, err
	}
	return l, nil
}
