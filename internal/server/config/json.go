package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/qvault/internal/flagx"
	"github.com/dmitrijs2005/qvault/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Pointer fields tell
// "absent" from "zero", so a partial file only overrides what it names.
type JsonConfig struct {
	EndpointAddr                 *string         `json:"endpoint_addr"`
	DatabaseDriver               *string         `json:"database_driver"`
	DatabaseDSN                  *string         `json:"database_dsn"`
	SecretKey                    *string         `json:"secret_key"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration"`
	UploadDir                    *string         `json:"upload_dir"`
	TempDir                      *string         `json:"temp_dir"`
	TempFileTTL                  *timex.Duration `json:"temp_file_ttl"`
	MaxUploadSize                *int64          `json:"max_upload_size"`
	AllowedExtensions            []string        `json:"allowed_extensions"`
	MasterKey                    *string         `json:"master_key"`
	StorageBackend               *string         `json:"storage_backend"`
	S3RootUser                   *string         `json:"s3_root_user"`
	S3RootPassword               *string         `json:"s3_root_password"`
	S3Bucket                     *string         `json:"s3_bucket"`
	S3Region                     *string         `json:"s3_region"`
	S3BaseEndpoint               *string         `json:"s3_base_endpoint"`
	CORSOrigins                  []string        `json:"cors_origins"`
	Debug                        *bool           `json:"debug"`
	LogLevel                     *string         `json:"log_level"`
	SeedDemoData                 *bool           `json:"seed_demo_data"`
}

// parseJson loads the file named by -c/-config (or $CONFIG) into config.
// Missing file path means nothing to do; unreadable or invalid files panic,
// the same way bad flags do.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddr, c.EndpointAddr)
	setString(&config.DatabaseDriver, c.DatabaseDriver)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.RefreshTokenValidityDuration != nil {
		config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	}
	setString(&config.UploadDir, c.UploadDir)
	setString(&config.TempDir, c.TempDir)
	if c.TempFileTTL != nil {
		config.TempFileTTL = c.TempFileTTL.Duration
	}
	if c.MaxUploadSize != nil {
		config.MaxUploadSize = *c.MaxUploadSize
	}
	if c.AllowedExtensions != nil {
		config.AllowedExtensions = c.AllowedExtensions
	}
	setString(&config.MasterKey, c.MasterKey)
	setString(&config.StorageBackend, c.StorageBackend)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	if c.CORSOrigins != nil {
		config.CORSOrigins = c.CORSOrigins
	}
	if c.Debug != nil {
		config.Debug = *c.Debug
	}
	setString(&config.LogLevel, c.LogLevel)
	if c.SeedDemoData != nil {
		config.SeedDemoData = *c.SeedDemoData
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
