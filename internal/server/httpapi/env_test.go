package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/cryptox"
	"github.com/dmitrijs2005/qvault/internal/dbx"
	"github.com/dmitrijs2005/qvault/internal/logging"
	"github.com/dmitrijs2005/qvault/internal/server/config"
	"github.com/dmitrijs2005/qvault/internal/server/models"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/qvault/internal/server/services"
	"github.com/dmitrijs2005/qvault/internal/server/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type apiEnv struct {
	db      *dbx.DB
	rm      repomanager.RepositoryManager
	handler *Handler
	router  http.Handler
	users   map[string]*models.User
	blobDir string
}

type apiOptions struct {
	maxUpload int64
	debug     bool
}

func newAPIEnv(t *testing.T, opts ...func(*apiOptions)) *apiEnv {
	t.Helper()
	ctx := context.Background()

	o := &apiOptions{maxUpload: 1024 * 1024}
	for _, opt := range opts {
		opt(o)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := repomanager.Open(ctx, config.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rm := repomanager.NewSQLRepositoryManager()
	require.NoError(t, rm.RunMigrations(ctx, db))

	root := t.TempDir()
	blobDir := filepath.Join(root, "uploads")
	blobs, err := storage.NewLocalStore(blobDir)
	require.NoError(t, err)
	logger := logging.Discard()
	downloads, err := storage.NewDownloads(filepath.Join(root, "tmp"), logger)
	require.NoError(t, err)
	codec, err := cryptox.NewKeyCodec(nil)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.LoadDefaults()

	audit := services.NewAuditService(db, rm, logger)
	h := NewHandler(Services{
		Vault: services.NewVaultService(db, rm, blobs, downloads, codec, audit,
			services.VaultConfig{MaxUploadSize: o.maxUpload, AllowedExtensions: config.DefaultAllowedExtensions}, logger),
		Audit:       audit,
		Users:       services.NewUserService(db, rm, audit, cfg),
		Devices:     services.NewDeviceService(db, rm, audit),
		Dashboard:   services.NewDashboardService(db, rm, blobs, logger),
		Maintenance: services.NewMaintenanceService(db, rm, blobs, audit, o.debug, logger),
	}, Options{MaxUploadSize: o.maxUpload}, logger)

	e := &apiEnv{db: db, rm: rm, handler: h, router: h.Routes(), users: map[string]*models.User{}, blobDir: blobDir}
	e.addUser(t, "admin", common.RoleAdmin)
	e.addUser(t, "alice", common.RoleUser)
	e.addUser(t, "bob", common.RoleUser)
	return e
}

func (e *apiEnv) addUser(t *testing.T, name, role string) {
	t.Helper()
	u, err := services.NewUser(services.CreateUserInput{UserName: name, Password: name + "-pass", Role: role}, time.Now())
	require.NoError(t, err)
	_, err = e.rm.Users(e.db).Create(context.Background(), u)
	require.NoError(t, err)
	e.users[name] = u
}

func (e *apiEnv) login(t *testing.T, name string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": name, "password": name + "-pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AccessToken
}

// do sends body as JSON unless it is nil.
func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(req, token)
}

func (e *apiEnv) send(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "api-test")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) upload(t *testing.T, token, fileName string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" || data != nil {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/encrypt", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.send(req, token)
}

// blobFiles lists the stored ciphertext files.
func (e *apiEnv) blobFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.blobDir)
	require.NoError(t, err)
	var names []string
	for _, en := range entries {
		if !en.IsDir() {
			names = append(names, en.Name())
		}
	}
	return names
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func requireFailure(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, code, body["code"])
}
