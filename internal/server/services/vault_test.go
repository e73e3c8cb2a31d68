package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/dbx"
	"github.com/dmitrijs2005/qvault/internal/server/models"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/records"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encryptHello(t *testing.T, e *testEnv, p models.Principal) *EncryptResult {
	t.Helper()
	res, err := e.vault.Encrypt(context.Background(), p, EncryptInput{
		FileName: "hello.txt",
		Data:     []byte("Hello World"),
	}, testMeta)
	require.NoError(t, err)
	return res
}

func download(t *testing.T, e *testEnv, p models.Principal, recordID, token string) []byte {
	t.Helper()
	d, err := e.vault.Download(context.Background(), p, recordID, token, testMeta)
	require.NoError(t, err)
	defer d.Close()
	b, err := io.ReadAll(d.Content())
	require.NoError(t, err)
	return b
}

func TestVault_HelloWorldRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	res := encryptHello(t, e, e.alice)
	assert.Regexp(t, `^KEY-\d{8}-[0-9A-F]{8}$`, res.RecordID)
	assert.Len(t, res.Fingerprint, 16)
	assert.Equal(t, "0.01 KB", res.FileSize)
	assert.False(t, res.Simulated)

	stored, err := e.blobs.Get(ctx, res.RecordID+".enc")
	require.NoError(t, err)
	assert.False(t, bytes.Contains(stored, []byte("Hello World")), "ciphertext must not contain plaintext")

	dec, err := e.vault.Decrypt(ctx, e.alice, res.RecordID, testMeta)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dec.DecryptCount)
	assert.Equal(t, "hello.txt", dec.FileName)
	assert.False(t, dec.Simulated)
	assert.True(t, strings.HasPrefix(dec.DownloadToken, "decrypt_"+res.RecordID+"_"))
	assert.True(t, strings.HasSuffix(dec.DownloadToken, ".txt"))

	assert.Equal(t, "Hello World", string(download(t, e, e.alice, res.RecordID, dec.DownloadToken)))
	assert.Empty(t, e.tempFiles(t), "temp file removed after download")

	list, err := e.vault.List(ctx, e.alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.RecordID, list[0].ID)
	assert.Equal(t, int64(1), list[0].DecryptCount)

	assert.Equal(t, []string{ActionDownload, ActionDecrypt, ActionEncrypt}, e.auditActions(t))
}

func TestVault_RoundTripSizes(t *testing.T) {
	e := newTestEnv(t, withVaultConfig(VaultConfig{MaxUploadSize: 10 * 1024 * 1024}))
	ctx := context.Background()

	for _, n := range []int{0, 1, 4096, 10*1024*1024 - 1} {
		data := bytes.Repeat([]byte{0xA5}, n)
		res, err := e.vault.Encrypt(ctx, e.alice, EncryptInput{FileName: "blob.bin", Data: data}, testMeta)
		require.NoError(t, err, "size %d", n)

		dec, err := e.vault.Decrypt(ctx, e.alice, res.RecordID, testMeta)
		require.NoError(t, err, "size %d", n)
		assert.True(t, bytes.Equal(data, download(t, e, e.alice, res.RecordID, dec.DownloadToken)), "size %d", n)
	}
}

func TestVault_EncryptValidationOrder(t *testing.T) {
	e := newTestEnv(t, withVaultConfig(VaultConfig{MaxUploadSize: 4, AllowedExtensions: []string{"txt"}}))
	ctx := context.Background()

	tests := []struct {
		name     string
		fileName string
		data     string
		want     error
	}{
		{"empty name", "   ", "x", common.ErrorValidation},
		{"traversal", "../../etc/passwd", "x", common.ErrorValidation},
		{"absolute", "/etc/passwd.txt", "x", common.ErrorValidation},
		{"backslash absolute", `\windows\a.txt`, "x", common.ErrorValidation},
		{"too long", strings.Repeat("a", 252) + ".txt", "x", common.ErrorValidation},
		{"no extension", "README", "x", common.ErrUnsupportedType},
		{"wrong extension", "run.exe", "x", common.ErrUnsupportedType},
		{"name checked before size", "../x.txt", "too large", common.ErrorValidation},
		{"type checked before size", "x.exe", "too large", common.ErrUnsupportedType},
		{"too large", "x.txt", "12345", common.ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.vault.Encrypt(ctx, e.alice, EncryptInput{FileName: tt.fileName, Data: []byte(tt.data)}, testMeta)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, e.blobFiles(t), "nothing stored on rejected uploads")
	assert.Empty(t, e.auditActions(t))

	_, err := e.vault.Encrypt(ctx, e.alice, EncryptInput{FileName: "NOTES.TXT", Data: []byte("ok")}, testMeta)
	assert.NoError(t, err, "extension match is case-insensitive")
}

func TestVault_EmptyAllowListAcceptsAnything(t *testing.T) {
	e := newTestEnv(t, withVaultConfig(VaultConfig{MaxUploadSize: 1024}))
	_, err := e.vault.Encrypt(context.Background(), e.alice, EncryptInput{FileName: "Makefile", Data: []byte("x")}, testMeta)
	assert.NoError(t, err)
}

func TestVault_TraversalNameScenario(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.vault.Simulate(context.Background(), e.alice, SimulateInput{FileName: "../../etc/passwd"}, testMeta)
	assert.ErrorIs(t, err, common.ErrorValidation)

	list, err := e.vault.List(context.Background(), e.admin)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestVault_UnknownAndSimulatedDecrypt(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.vault.Decrypt(ctx, e.alice, "KEY-20990101-DEADBEEF", testMeta)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = e.vault.Decrypt(ctx, e.alice, "  ", testMeta)
	assert.ErrorIs(t, err, common.ErrorValidation)

	sim, err := e.vault.Simulate(ctx, e.alice, SimulateInput{FileName: "report.pdf"}, testMeta)
	require.NoError(t, err)
	assert.True(t, sim.Simulated)
	assert.Equal(t, "Unknown", sim.FileSize)

	rec, err := e.rm.Records(e.db).Get(ctx, sim.RecordID)
	require.NoError(t, err)
	assert.Equal(t, common.DefaultAlgorithm, rec.Algorithm)
	assert.Equal(t, common.DefaultKeyMode, rec.KeyType)
	assert.True(t, rec.Simulated())

	for want := int64(1); want <= 2; want++ {
		dec, err := e.vault.Decrypt(ctx, e.alice, sim.RecordID, testMeta)
		require.NoError(t, err)
		assert.True(t, dec.Simulated)
		assert.Empty(t, dec.DownloadToken)
		assert.Equal(t, want, dec.DecryptCount)
	}
	assert.Empty(t, e.tempFiles(t))
}

func TestVault_EncryptSimulateOnlyUsesUploadSize(t *testing.T) {
	e := newTestEnv(t)
	res, err := e.vault.Encrypt(context.Background(), e.alice, EncryptInput{
		FileName:     "a.txt",
		Data:         bytes.Repeat([]byte("x"), 2048),
		SimulateOnly: true,
	}, testMeta)
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.Equal(t, "2.00 KB", res.FileSize)
	assert.Empty(t, e.blobFiles(t))
	assert.Equal(t, []string{ActionEncryptSimulate}, e.auditActions(t))
}

func TestVault_OneTimeToken(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	res := encryptHello(t, e, e.alice)
	dec, err := e.vault.Decrypt(ctx, e.alice, res.RecordID, testMeta)
	require.NoError(t, err)

	_ = download(t, e, e.alice, res.RecordID, dec.DownloadToken)

	_, err = e.vault.Download(ctx, e.alice, res.RecordID, dec.DownloadToken, testMeta)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestVault_ConcurrentDownloadsSucceedOnce(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	res := encryptHello(t, e, e.alice)
	dec, err := e.vault.Decrypt(ctx, e.alice, res.RecordID, testMeta)
	require.NoError(t, err)

	const n = 8
	var mu sync.Mutex
	ok, notFound := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := e.vault.Download(ctx, e.alice, res.RecordID, dec.DownloadToken, testMeta)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, common.ErrorNotFound) {
					notFound++
				}
				return
			}
			ok++
			_ = d.Close()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, notFound)
}

func TestVault_DownloadRejectsBadTokens(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	res := encryptHello(t, e, e.alice)

	outside := filepath.Join(filepath.Dir(e.tempDir), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o600))

	for _, tok := range []string{"", "../secret.txt", "..", `..\secret.txt`, "a/b"} {
		_, err := e.vault.Download(ctx, e.alice, res.RecordID, tok, testMeta)
		assert.ErrorIs(t, err, common.ErrorValidation, "token %q", tok)
	}

	_, err := os.Stat(outside)
	assert.NoError(t, err, "file outside the temp area untouched")
}

func TestVault_OwnershipIsolation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	res := encryptHello(t, e, e.alice)

	_, err := e.vault.Decrypt(ctx, e.bob, res.RecordID, testMeta)
	assert.ErrorIs(t, err, common.ErrorForbidden)

	dec, err := e.vault.Decrypt(ctx, e.alice, res.RecordID, testMeta)
	require.NoError(t, err)

	_, err = e.vault.Download(ctx, e.bob, res.RecordID, dec.DownloadToken, testMeta)
	assert.ErrorIs(t, err, common.ErrorForbidden)
	assert.Len(t, e.tempFiles(t), 1, "forbidden download must not consume the token")

	err = e.vault.Delete(ctx, e.bob, res.RecordID, testMeta)
	assert.ErrorIs(t, err, common.ErrorForbidden)

	bobList, err := e.vault.List(ctx, e.bob)
	require.NoError(t, err)
	assert.Empty(t, bobList)

	adminList, err := e.vault.List(ctx, e.admin)
	require.NoError(t, err)
	assert.Len(t, adminList, 1)

	assert.Equal(t, "Hello World", string(download(t, e, e.admin, res.RecordID, dec.DownloadToken)), "admin may use any record")
}

func TestVault_LockedPrincipal(t *testing.T) {
	e := newTestEnv(t)
	res := encryptHello(t, e, e.alice)

	locked := e.alice
	locked.Status = common.StatusLocked

	_, err := e.vault.Decrypt(context.Background(), locked, res.RecordID, testMeta)
	assert.ErrorIs(t, err, common.ErrAccountLocked)
}

func TestVault_ConcurrentDecryptsCountEveryCall(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	res := encryptHello(t, e, e.alice)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.vault.Decrypt(ctx, e.alice, res.RecordID, testMeta)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec, err := e.rm.Records(e.db).Get(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), rec.DecryptCount)
	assert.Len(t, e.tempFiles(t), n, "each decrypt gets its own token")
}

func TestVault_TamperedCiphertext(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	res := encryptHello(t, e, e.alice)

	p := filepath.Join(e.blobs.Dir(), res.RecordID+".enc")
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	b[0] ^= 0x01
	require.NoError(t, os.WriteFile(p, b, 0o600))

	_, err = e.vault.Decrypt(ctx, e.alice, res.RecordID, testMeta)
	assert.ErrorIs(t, err, common.ErrDecryptionFailed)

	logs, err := e.audit.List(ctx, e.admin, LogFilter{ActionType: ActionDecryptFail})
	require.NoError(t, err)
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, common.LevelError, logs.Logs[0].Level)

	rec, err := e.rm.Records(e.db).Get(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.DecryptCount)
	assert.Empty(t, e.tempFiles(t))
}

func TestVault_MissingCiphertext(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	res := encryptHello(t, e, e.alice)

	require.NoError(t, os.Remove(filepath.Join(e.blobs.Dir(), res.RecordID+".enc")))

	_, err := e.vault.Decrypt(ctx, e.alice, res.RecordID, testMeta)
	assert.ErrorIs(t, err, common.ErrMissingArtifact)
	assert.True(t, common.IsNotFound(err))
}

func TestVault_MasterKeyProtectsDataKeys(t *testing.T) {
	master := bytes.Repeat([]byte{7}, 32)
	e := newTestEnv(t, withMasterKey(master))
	ctx := context.Background()

	res := encryptHello(t, e, e.alice)
	rec, err := e.rm.Records(e.db).Get(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Contains(t, rec.Storage.EncryptedKey, ":", "data key stored in envelope form")

	dec, err := e.vault.Decrypt(ctx, e.alice, res.RecordID, testMeta)
	require.NoError(t, err)
	assert.Equal(t, "Hello World", string(download(t, e, e.alice, res.RecordID, dec.DownloadToken)))

	// Same database, server restarted without the master key.
	plain := newTestEnv(t)
	plain.vault.db, plain.vault.repomanager, plain.vault.blobs = e.db, e.rm, e.blobs
	plain.vault.audit = e.audit

	_, err = plain.vault.Decrypt(ctx, e.alice, res.RecordID, testMeta)
	assert.ErrorIs(t, err, common.ErrMasterKeyMissing)
}

func TestVault_NoMasterKeyStoresHexKey(t *testing.T) {
	e := newTestEnv(t)
	res := encryptHello(t, e, e.alice)
	rec, err := e.rm.Records(e.db).Get(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Len(t, rec.Storage.EncryptedKey, 64)
	assert.NotContains(t, rec.Storage.EncryptedKey, ":")
}

// failingRecords lets single record operations fail.
type failingRecords struct {
	records.Repository
	createErr    error
	incrementErr error
}

func (f *failingRecords) Create(ctx context.Context, rec *models.VaultRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.Repository.Create(ctx, rec)
}

func (f *failingRecords) IncrementDecryptCount(ctx context.Context, id string) (int64, error) {
	if f.incrementErr != nil {
		return 0, f.incrementErr
	}
	return f.Repository.IncrementDecryptCount(ctx, id)
}

type failingRecordsManager struct {
	repomanager.RepositoryManager
	createErr    error
	incrementErr error
}

func (m *failingRecordsManager) Records(db dbx.DBTX) records.Repository {
	return &failingRecords{Repository: m.RepositoryManager.Records(db), createErr: m.createErr, incrementErr: m.incrementErr}
}

func TestVault_EncryptRemovesCiphertextWhenTransactionFails(t *testing.T) {
	boom := errors.New("boom")
	e := newTestEnv(t, withRepoManager(func(rm repomanager.RepositoryManager) repomanager.RepositoryManager {
		return &failingRecordsManager{RepositoryManager: rm, createErr: boom}
	}))

	_, err := e.vault.Encrypt(context.Background(), e.alice, EncryptInput{FileName: "a.txt", Data: []byte("x")}, testMeta)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, e.blobFiles(t))
	assert.Empty(t, e.auditActions(t), "audit entry rolled back with the record")
}

func TestVault_DecryptRemovesTempFileWhenTransactionFails(t *testing.T) {
	boom := errors.New("boom")
	m := &failingRecordsManager{}
	e := newTestEnv(t, withRepoManager(func(rm repomanager.RepositoryManager) repomanager.RepositoryManager {
		m.RepositoryManager = rm
		return m
	}))
	ctx := context.Background()

	res := encryptHello(t, e, e.alice)
	m.incrementErr = boom

	_, err := e.vault.Decrypt(ctx, e.alice, res.RecordID, testMeta)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, e.tempFiles(t))
	assert.Equal(t, []string{ActionEncrypt}, e.auditActions(t))
}

func TestVault_Delete(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	res := encryptHello(t, e, e.alice)

	require.NoError(t, e.vault.Delete(ctx, e.alice, res.RecordID, testMeta))
	assert.Empty(t, e.blobFiles(t))

	_, err := e.vault.Decrypt(ctx, e.alice, res.RecordID, testMeta)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	err = e.vault.Delete(ctx, e.alice, res.RecordID, testMeta)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	assert.Equal(t, ActionKeyDelete, e.auditActions(t)[0])
}

func TestSizeLabel(t *testing.T) {
	assert.Equal(t, "0.00 KB", SizeLabel(0))
	assert.Equal(t, "1.00 KB", SizeLabel(1024))
	assert.Equal(t, "1023.99 KB", SizeLabel(1024*1024-10))
	assert.Equal(t, "1.00 MB", SizeLabel(1024*1024))
	assert.Equal(t, "2.50 MB", SizeLabel(5*1024*1024/2))
}
