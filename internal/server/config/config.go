// Package config handles configuration for the vault server: defaults,
// an optional JSON file, .env/environment variables and command-line flags,
// applied in that order.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Config holds runtime settings for the vault server.
//
// MasterKey is the hex form of the 32-byte key that protects per-file data
// keys at rest. Empty means data keys are stored in the clear.
type Config struct {
	EndpointAddr                 string        `envconfig:"ENDPOINT_ADDR"`
	DatabaseDriver               string        `envconfig:"DATABASE_DRIVER"`
	DatabaseDSN                  string        `envconfig:"DATABASE_URL"`
	SecretKey                    string        `envconfig:"SECRET_KEY"`
	AccessTokenValidityDuration  time.Duration `envconfig:"ACCESS_TOKEN_TTL"`
	RefreshTokenValidityDuration time.Duration `envconfig:"REFRESH_TOKEN_TTL"`
	UploadDir                    string        `envconfig:"UPLOAD_DIR"`
	TempDir                      string        `envconfig:"TEMP_DIR"`
	TempFileTTL                  time.Duration `envconfig:"TEMP_FILE_TTL"`
	MaxUploadSize                int64         `envconfig:"MAX_UPLOAD_SIZE"`
	AllowedExtensions            []string      `envconfig:"ALLOWED_EXTENSIONS"`
	MasterKey                    string        `envconfig:"MASTER_KEY"`
	StorageBackend               string        `envconfig:"STORAGE_BACKEND"`
	S3RootUser                   string        `envconfig:"S3_ROOT_USER"`
	S3RootPassword               string        `envconfig:"S3_ROOT_PASSWORD"`
	S3Bucket                     string        `envconfig:"S3_BUCKET"`
	S3Region                     string        `envconfig:"S3_REGION"`
	S3BaseEndpoint               string        `envconfig:"S3_BASE_ENDPOINT"`
	CORSOrigins                  []string      `envconfig:"CORS_ORIGINS"`
	Debug                        bool          `envconfig:"DEBUG"`
	LogLevel                     string        `envconfig:"LOG_LEVEL"`
	SeedDemoData                 bool          `envconfig:"SEED_DEMO_DATA"`
}

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"

	StorageLocal = "local"
	StorageS3    = "s3"
)

// DefaultAllowedExtensions is the upload allow-list used unless overridden.
var DefaultAllowedExtensions = []string{"txt", "pdf", "png", "jpg", "jpeg", "gif", "doc", "docx", "xls", "xlsx", "zip"}

// LoadDefaults populates Config with development defaults.
// NOTE: SecretKey and the absent MasterKey are not fit for production.
func (c *Config) LoadDefaults() {
	c.EndpointAddr = ":8080"
	c.DatabaseDriver = DriverSQLite
	c.DatabaseDSN = "file:qvault.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	c.SecretKey = "dev-secret-key-change-in-prod"
	c.AccessTokenValidityDuration = 15 * time.Minute
	c.RefreshTokenValidityDuration = 24 * time.Hour
	c.UploadDir = "uploads"
	c.TempDir = ""
	c.TempFileTTL = time.Hour
	c.MaxUploadSize = 20 * 1024 * 1024
	c.AllowedExtensions = append([]string(nil), DefaultAllowedExtensions...)
	c.MasterKey = ""
	c.StorageBackend = StorageLocal
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "vault"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.CORSOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	c.Debug = false
	c.LogLevel = "info"
	c.SeedDemoData = false
}

// MasterKeyBytes decodes MasterKey. An empty key yields nil, nil.
func (c *Config) MasterKeyBytes() ([]byte, error) {
	if c.MasterKey == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.TrimSpace(c.MasterKey))
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	return b, nil
}

// EffectiveTempDir is where decrypted plaintext waits for its one download.
func (c *Config) EffectiveTempDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return c.UploadDir
}

// Validate checks the combinations the server cannot run with.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}

	switch c.StorageBackend {
	case StorageLocal, StorageS3:
	default:
		return fmt.Errorf("unsupported storage backend %q", c.StorageBackend)
	}

	if c.StorageBackend == StorageS3 && c.S3Bucket == "" {
		return fmt.Errorf("s3 storage requires a bucket")
	}

	if c.SecretKey == "" {
		return fmt.Errorf("secret key must not be empty")
	}

	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}

	if c.TempFileTTL < 0 {
		return fmt.Errorf("temp file ttl must not be negative")
	}

	if _, err := c.MasterKeyBytes(); err != nil {
		return err
	}

	return nil
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, the environment and finally command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	cfg.normalize()
	return cfg
}

func (c *Config) normalize() {
	exts := make([]string, 0, len(c.AllowedExtensions))
	for _, e := range c.AllowedExtensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			exts = append(exts, e)
		}
	}
	c.AllowedExtensions = exts

	origins := make([]string, 0, len(c.CORSOrigins))
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSOrigins = origins
}
