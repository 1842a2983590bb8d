package store

import (
	"context"
	"database/sql"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"

	"github.com/Laisky/codepatch/library/log"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS codepatch_projects (
		project TEXT PRIMARY KEY,
		version BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS codepatch_files (
		id BIGSERIAL PRIMARY KEY,
		project TEXT NOT NULL,
		path TEXT NOT NULL,
		content TEXT NOT NULL,
		updated_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TIMESTAMPTZ NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_codepatch_files_active ON codepatch_files (project, path) WHERE deleted = FALSE`,
	`CREATE TABLE IF NOT EXISTS codepatch_backups (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		backup_data TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		file_count INTEGER NOT NULL DEFAULT 0,
		conversation_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_codepatch_backups_project ON codepatch_backups (project, created_at DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS codepatch_projects (
		project TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS codepatch_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project TEXT NOT NULL,
		path TEXT NOT NULL,
		content TEXT NOT NULL,
		updated_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TIMESTAMP NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_codepatch_files_active ON codepatch_files (project, path) WHERE deleted = FALSE`,
	`CREATE TABLE IF NOT EXISTS codepatch_backups (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		backup_data TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		file_count INTEGER NOT NULL DEFAULT 0,
		conversation_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_codepatch_backups_project ON codepatch_backups (project, created_at DESC)`,
}

// RunMigrations ensures the project, file and backup tables exist.
func RunMigrations(ctx context.Context, db *sql.DB, isPostgres bool, logger logSDK.Logger) error {
	if db == nil {
		return errors.New("sql db is required")
	}
	if logger == nil {
		logger = log.Logger.Named("patch_store_migration")
	}

	statements := sqliteSchema
	if isPostgres {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate codepatch tables")
		}
	}

	logger.Debug("codepatch store migrations completed")
	return nil
}
