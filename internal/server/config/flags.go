package config

import (
	"flag"
	"os"
	"strings"

	"github.com/dmitrijs2005/qvault/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
//	-a string    HTTP bind address (e.g. ":8080")
//	-driver      database driver: pgx | sqlite
//	-d string    database DSN
//	-s string    JWT HMAC secret key
//	-t duration  access token validity (e.g. 15m)
//	-r duration  refresh token validity
//	-upload      ciphertext directory
//	-tmp         directory for decrypted one-time downloads
//	-ttl duration  age after which unclaimed downloads are swept (0 disables)
//	-max int     max upload size in bytes
//	-ext list    comma separated extension allow-list
//	-m string    master key (64 hex chars)
//	-storage     local | s3
//	-u/-p/-b/-g/-e   S3 user, password, bucket, region, endpoint
//	-cors list   comma separated allowed origins
//	-debug       enable debug-only endpoints
//	-log string  log level
//	-seed        seed demo data when the users table is empty
//
// Only these flags are looked at; anything else on the command line is
// ignored so other components can define their own.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:],
		[]string{"-a", "-driver", "-d", "-s", "-t", "-r", "-upload", "-tmp", "-ttl", "-max", "-ext", "-m",
			"-storage", "-u", "-p", "-b", "-g", "-e", "-cors", "-log"},
		"-debug", "-seed")

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDriver, "driver", config.DatabaseDriver, "database driver (pgx|sqlite)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.DurationVar(&config.AccessTokenValidityDuration, "t", config.AccessTokenValidityDuration, "access token validity")
	fs.DurationVar(&config.RefreshTokenValidityDuration, "r", config.RefreshTokenValidityDuration, "refresh token validity")
	fs.StringVar(&config.UploadDir, "upload", config.UploadDir, "ciphertext directory")
	fs.StringVar(&config.TempDir, "tmp", config.TempDir, "temporary plaintext directory")
	fs.DurationVar(&config.TempFileTTL, "ttl", config.TempFileTTL, "temp file ttl")
	fs.Int64Var(&config.MaxUploadSize, "max", config.MaxUploadSize, "max upload size in bytes")
	ext := fs.String("ext", strings.Join(config.AllowedExtensions, ","), "allowed extensions")
	fs.StringVar(&config.MasterKey, "m", config.MasterKey, "master key (hex)")
	fs.StringVar(&config.StorageBackend, "storage", config.StorageBackend, "ciphertext storage backend (local|s3)")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	cors := fs.String("cors", strings.Join(config.CORSOrigins, ","), "allowed CORS origins")
	fs.BoolVar(&config.Debug, "debug", config.Debug, "enable debug mode")
	fs.StringVar(&config.LogLevel, "log", config.LogLevel, "log level")
	fs.BoolVar(&config.SeedDemoData, "seed", config.SeedDemoData, "seed demo data")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AllowedExtensions = splitList(*ext)
	config.CORSOrigins = splitList(*cors)
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}
