package orchestrator

import (
	"strings"
	"time"

	"github.com/Laisky/codepatch/library/config"
)

// Settings configures rate limiting and the breaker around the gateway.
type Settings struct {
	// Backend selects the counter store: "sql" or "redis".
	Backend           string
	RequestsPerWindow int
	Window            time.Duration
	BreakerThreshold  int
	BreakerCooldown   time.Duration
}

// LoadSettingsFromConfig reads settings.codepatch.ratelimit.*.
func LoadSettingsFromConfig() Settings {
	settings := Settings{
		Backend:           strings.ToLower(config.String("settings.codepatch.ratelimit.backend", "sql")),
		RequestsPerWindow: config.Int("settings.codepatch.ratelimit.requests_per_window", 30),
		Window:            time.Duration(config.Int("settings.codepatch.ratelimit.window_seconds", 60)) * time.Second,
		BreakerThreshold:  config.Int("settings.codepatch.ratelimit.breaker_threshold", 5),
		BreakerCooldown:   time.Duration(config.Int("settings.codepatch.ratelimit.breaker_cooldown_seconds", 30)) * time.Second,
	}
	if settings.Backend != "redis" {
		settings.Backend = "sql"
	}
	if settings.RequestsPerWindow <= 0 {
		settings.RequestsPerWindow = 30
	}
	if settings.Window < time.Second {
		settings.Window = time.Minute
	}
	if settings.BreakerThreshold <= 0 {
		settings.BreakerThreshold = 5
	}
	if settings.BreakerCooldown < time.Second {
		settings.BreakerCooldown = 30 * time.Second
	}
	return settings
}
