package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DotEnvFile is loaded when present. Variables already set in the process
// environment win over the file.
var DotEnvFile = ".env"

// parseEnv overlays environment variables onto config. Only variables that
// are set are applied; the rest of config is left untouched.
func parseEnv(config *Config) {
	if _, err := os.Stat(DotEnvFile); err == nil {
		if err := godotenv.Load(DotEnvFile); err != nil {
			panic(err)
		}
	}

	if err := envconfig.Process("", config); err != nil {
		panic(err)
	}
}
