package store

import (
	"strings"
	"time"

	"github.com/Laisky/codepatch/library/config"
)

// Settings captures runtime configuration for the SQL project store.
type Settings struct {
	Driver            string
	DSN               string
	LockTimeout       time.Duration
	SnapshotCacheSize int
	Backup            BackupSettings
}

// BackupSettings configures backup retention. Zero disables a limit.
type BackupSettings struct {
	MaxPerProject int
	Retention     time.Duration
	PruneInterval time.Duration
}

// LoadSettingsFromConfig reads configuration and applies safe defaults.
func LoadSettingsFromConfig() Settings {
	settings := Settings{
		Driver:            strings.ToLower(config.String("settings.codepatch.db.driver", DriverSQLite)),
		DSN:               config.String("settings.codepatch.db.dsn", "file:codepatch.db?_busy_timeout=5000"),
		LockTimeout:       time.Duration(config.Int("settings.codepatch.store.lock_timeout_ms", 3000)) * time.Millisecond,
		SnapshotCacheSize: config.Int("settings.codepatch.store.snapshot_cache_size", 128),
		Backup: BackupSettings{
			MaxPerProject: config.Int("settings.codepatch.backup.max_per_project", 50),
			Retention:     time.Duration(config.Int("settings.codepatch.backup.retention_days", 30)) * 24 * time.Hour,
			PruneInterval: time.Duration(config.Int("settings.codepatch.backup.prune_interval_seconds", 3600)) * time.Second,
		},
	}

	if settings.Driver != DriverPostgres {
		settings.Driver = DriverSQLite
	}
	if settings.LockTimeout <= 0 {
		settings.LockTimeout = 3 * time.Second
	}
	if settings.SnapshotCacheSize <= 0 {
		settings.SnapshotCacheSize = 128
	}
	if settings.Backup.MaxPerProject < 0 {
		settings.Backup.MaxPerProject = 0
	}
	if settings.Backup.Retention < 0 {
		settings.Backup.Retention = 0
	}
	if settings.Backup.PruneInterval <= 0 {
		settings.Backup.PruneInterval = time.Hour
	}

	return settings
}
