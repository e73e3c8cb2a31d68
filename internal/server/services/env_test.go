package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/cryptox"
	"github.com/dmitrijs2005/qvault/internal/dbx"
	"github.com/dmitrijs2005/qvault/internal/logging"
	"github.com/dmitrijs2005/qvault/internal/server/config"
	"github.com/dmitrijs2005/qvault/internal/server/models"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/qvault/internal/server/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// testEnv wires every service against an in-memory SQLite database and
// temp directories.
type testEnv struct {
	db        *dbx.DB
	rm        repomanager.RepositoryManager
	blobs     *storage.LocalStore
	downloads *storage.Downloads
	tempDir   string

	audit       *AuditService
	vault       *VaultService
	users       *UserService
	devices     *DeviceService
	dashboard   *DashboardService
	maintenance *MaintenanceService

	admin models.Principal
	alice models.Principal
	bob   models.Principal
}

type envOption func(*envOptions)

type envOptions struct {
	masterKey []byte
	vaultCfg  VaultConfig
	debug     bool
	noUsers   bool
	rm        func(repomanager.RepositoryManager) repomanager.RepositoryManager
}

func withMasterKey(k []byte) envOption { return func(o *envOptions) { o.masterKey = k } }
func withVaultConfig(c VaultConfig) envOption {
	return func(o *envOptions) { o.vaultCfg = c }
}
func withDebug() envOption   { return func(o *envOptions) { o.debug = true } }
func withoutUsers() envOption { return func(o *envOptions) { o.noUsers = true } }
func withRepoManager(wrap func(repomanager.RepositoryManager) repomanager.RepositoryManager) envOption {
	return func(o *envOptions) { o.rm = wrap }
}

var testMeta = RequestMeta{IP: "10.0.0.1", UserAgent: "test-agent"}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	o := &envOptions{
		vaultCfg: VaultConfig{MaxUploadSize: 20 * 1024 * 1024, AllowedExtensions: config.DefaultAllowedExtensions},
	}
	for _, opt := range opts {
		opt(o)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := repomanager.Open(ctx, config.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var rm repomanager.RepositoryManager = repomanager.NewSQLRepositoryManager()
	require.NoError(t, rm.RunMigrations(ctx, db))
	if o.rm != nil {
		rm = o.rm(rm)
	}

	root := t.TempDir()
	blobs, err := storage.NewLocalStore(filepath.Join(root, "uploads"))
	require.NoError(t, err)
	tempDir := filepath.Join(root, "tmp")
	logger := logging.Discard()
	downloads, err := storage.NewDownloads(tempDir, logger)
	require.NoError(t, err)

	codec, err := cryptox.NewKeyCodec(o.masterKey)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.LoadDefaults()

	audit := NewAuditService(db, rm, logger)
	e := &testEnv{
		db:          db,
		rm:          rm,
		blobs:       blobs,
		downloads:   downloads,
		tempDir:     tempDir,
		audit:       audit,
		vault:       NewVaultService(db, rm, blobs, downloads, codec, audit, o.vaultCfg, logger),
		users:       NewUserService(db, rm, audit, cfg),
		devices:     NewDeviceService(db, rm, audit),
		dashboard:   NewDashboardService(db, rm, blobs, logger),
		maintenance: NewMaintenanceService(db, rm, blobs, audit, o.debug, logger),
	}

	if o.noUsers {
		return e
	}

	e.admin = e.createUser(t, "admin", common.RoleAdmin)
	e.alice = e.createUser(t, "alice", common.RoleUser)
	e.bob = e.createUser(t, "bob", common.RoleUser)

	return e
}

func (e *testEnv) createUser(t *testing.T, name, role string) models.Principal {
	t.Helper()
	u, err := NewUser(CreateUserInput{UserName: name, Password: name + "-pass", Role: role}, time.Now())
	require.NoError(t, err)
	_, err = repomanager.NewSQLRepositoryManager().Users(e.db).Create(context.Background(), u)
	require.NoError(t, err)
	return u.Principal()
}

// auditActions returns the action types of every entry, newest first.
func (e *testEnv) auditActions(t *testing.T) []string {
	t.Helper()
	logs, _, err := e.rm.AuditLogs(e.db).List(context.Background(), auditlogs.Query{Limit: 1000})
	require.NoError(t, err)
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.ActionType)
	}
	return out
}

// tempFiles lists token files waiting in the temp area.
func (e *testEnv) tempFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.tempDir)
	require.NoError(t, err)
	var out []string
	for _, en := range entries {
		if !en.IsDir() && strings.HasPrefix(en.Name(), "decrypt_") {
			out = append(out, en.Name())
		}
	}
	return out
}

func (e *testEnv) blobFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.blobs.Dir())
	require.NoError(t, err)
	var out []string
	for _, en := range entries {
		out = append(out, en.Name())
	}
	return out
}
