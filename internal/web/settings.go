package web

import (
	"time"

	"github.com/Laisky/codepatch/library/config"
)

// Settings configures the HTTP surface.
type Settings struct {
	AllowedOrigins  []string
	JWTSecret       string
	ShutdownTimeout time.Duration
}

// LoadSettingsFromConfig reads settings.web.* keys.
func LoadSettingsFromConfig() Settings {
	return Settings{
		AllowedOrigins:  config.StringSlice("settings.web.cors_origins", nil),
		JWTSecret:       config.String("settings.web.jwt_secret", ""),
		ShutdownTimeout: time.Duration(config.Int("settings.web.shutdown_timeout_seconds", 10)) * time.Second,
	}
}
