// Package config loads the configuration file and environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"
	"github.com/joho/godotenv"

	"github.com/Laisky/codepatch/library/log"
)

// envOverrides maps environment variables to the configuration keys they set.
// Secrets are expected to arrive this way rather than through the YAML file.
var envOverrides = map[string]string{
	"CODEPATCH_DB_DRIVER":               "settings.codepatch.db.driver",
	"CODEPATCH_DB_DSN":                  "settings.codepatch.db.dsn",
	"CODEPATCH_EVENTLOG_DSN":            "settings.codepatch.eventlog.dsn",
	"CODEPATCH_LLM_API_KEY":             "settings.codepatch.llm.api_key",
	"CODEPATCH_LLM_BASE_URL":            "settings.codepatch.llm.base_url",
	"CODEPATCH_ARCHIVE_ACCESS_KEY":      "settings.codepatch.archive.access_key",
	"CODEPATCH_ARCHIVE_SECRET_KEY":      "settings.codepatch.archive.secret_key",
	"CODEPATCH_REDIS_PASSWORD":          "settings.db.redis.password",
	"CODEPATCH_ARCHIVE_ENCRYPTION_KEYS": "settings.codepatch.archive.encryption_keys",
	"CODEPATCH_JWT_SECRET":              "settings.web.jwt_secret",
}

// LoadFromFile loads an optional .env file, the YAML configuration at
// cfgPath when given, and then applies environment overrides.
func LoadFromFile(cfgPath string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Logger.Warn("load .env", zap.Error(err))
	}

	if cfgPath != "" {
		gconfig.Shared.Set("cfg_dir", filepath.Dir(cfgPath))
		if err := gconfig.Shared.LoadFromFile(cfgPath); err != nil {
			return errors.Wrapf(err, "load configuration %q", cfgPath)
		}
		log.Logger.Info("load configuration", zap.String("config", cfgPath))
	}

	ApplyEnvOverrides()
	return nil
}

// ApplyEnvOverrides copies every set override variable into the shared config.
func ApplyEnvOverrides() {
	for env, key := range envOverrides {
		if value, ok := os.LookupEnv(env); ok && strings.TrimSpace(value) != "" {
			gconfig.Shared.Set(key, strings.TrimSpace(value))
		}
	}
}
