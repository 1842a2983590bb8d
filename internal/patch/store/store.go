// Package store persists projects, files and backups in PostgreSQL or SQLite.
package store

import (
	"context"
	"database/sql"
	"time"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Laisky/codepatch/internal/mcp/ctxkeys"
	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/library/log"
)

// Clock returns the current time in UTC.
type Clock func() time.Time

// Archive keeps backups that retention removed from the database.
type Archive interface {
	Put(ctx context.Context, record patch.BackupRecord) error
	Get(ctx context.Context, id uuid.UUID) (patch.BackupRecord, error)
}

// Store implements the file store and backup store of the change pipeline.
type Store struct {
	db           *sql.DB
	isPostgres   bool
	settings     Settings
	logger       logSDK.Logger
	lockProvider LockProvider
	archive      Archive
	cache        *lru.Cache[string, patch.Snapshot]
	clock        Clock
}

// NewStore constructs a Store and runs migrations. archive, logger,
// lockProvider and clock are optional.
func NewStore(ctx context.Context, db *sql.DB, settings Settings, archive Archive, logger logSDK.Logger, lockProvider LockProvider, clock Clock) (*Store, error) {
	if db == nil {
		return nil, errors.New("sql db is required")
	}
	if logger == nil {
		logger = log.Logger.Named("patch_store")
	}
	if lockProvider == nil {
		lockProvider = DefaultLockProvider{}
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if settings.SnapshotCacheSize <= 0 {
		settings.SnapshotCacheSize = 128
	}
	if settings.LockTimeout <= 0 {
		settings.LockTimeout = 3 * time.Second
	}
	if settings.Backup.PruneInterval <= 0 {
		settings.Backup.PruneInterval = time.Hour
	}

	isPostgres, err := detectPostgresDialect(ctx, db)
	if err != nil {
		return nil, errors.Wrap(err, "detect sql dialect")
	}
	if err := RunMigrations(ctx, db, isPostgres, logger); err != nil {
		return nil, errors.WithStack(err)
	}

	cache, err := lru.New[string, patch.Snapshot](settings.SnapshotCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "new snapshot cache")
	}

	return &Store{
		db:           db,
		isPostgres:   isPostgres,
		settings:     settings,
		logger:       logger,
		lockProvider: lockProvider,
		archive:      archive,
		cache:        cache,
		clock:        clock,
	}, nil
}

// LoggerFromContext returns the request-scoped logger when available.
func (s *Store) LoggerFromContext(ctx context.Context) logSDK.Logger {
	if ctx != nil {
		if ctxLogger := gmw.GetLogger(ctx); ctxLogger != nil {
			return ctxLogger
		}
		if ctxLogger, ok := ctx.Value(ctxkeys.Logger).(logSDK.Logger); ok && ctxLogger != nil {
			return ctxLogger
		}
	}
	if s != nil && s.logger != nil {
		return s.logger
	}
	return log.Logger.Named("patch_store_fallback")
}

// CaptureProjectState returns the active files of a project with its version.
// A project that was never written has version 0 and no files.
func (s *Store) CaptureProjectState(ctx context.Context, projectID string) (patch.Snapshot, error) {
	version, err := s.projectVersion(ctx, s.db, projectID)
	if err != nil {
		return patch.Snapshot{}, err
	}
	if cached, ok := s.cache.Get(projectID); ok && cached.Version == version {
		return patch.Snapshot{Files: cached.Files.Clone(), Version: version}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		rebindSQL(`SELECT path, content FROM codepatch_files WHERE project = ? AND deleted = FALSE`, s.isPostgres),
		projectID)
	if err != nil {
		return patch.Snapshot{}, errors.Wrap(err, "query project files")
	}
	defer rows.Close()

	files := patch.ProjectFileSet{}
	for rows.Next() {
		var path, content string
		if err := rows.Scan(&path, &content); err != nil {
			return patch.Snapshot{}, errors.Wrap(err, "scan project file")
		}
		files[path] = content
	}
	if err := rows.Err(); err != nil {
		return patch.Snapshot{}, errors.Wrap(err, "iterate project files")
	}

	snapshot := patch.Snapshot{Files: files, Version: version}
	s.cache.Add(projectID, patch.Snapshot{Files: files.Clone(), Version: version})
	return snapshot, nil
}

// projectVersion returns the current version, 0 for an unknown project.
func (s *Store) projectVersion(ctx context.Context, q sqlDBTX, projectID string) (int64, error) {
	var version int64
	err := q.QueryRowContext(ctx,
		rebindSQL(`SELECT version FROM codepatch_projects WHERE project = ?`, s.isPostgres),
		projectID).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, errors.Wrap(err, "query project version")
	}
	return version, nil
}

// ApplyFileChanges writes every change in one transaction when the project
// is still at expectedVersion, and returns the bumped version.
func (s *Store) ApplyFileChanges(ctx context.Context, projectID string, changes []patch.FileChange, expectedVersion int64, meta patch.ChangeMeta) (int64, error) {
	logger := s.LoggerFromContext(ctx).With(zap.String("project", projectID))

	var newVersion int64
	err := s.lockProvider.WithProjectLock(ctx, s.db, s.isPostgres, projectID, s.settings.LockTimeout, func(tx *sql.Tx) error {
		current, err := s.projectVersion(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return errors.WithStack(patch.NewApplyError(patch.ErrCodeStaleSnapshot,
				"project changed since the snapshot was taken", true,
				errors.Errorf("expected version %d, found %d", expectedVersion, current)))
		}

		now := s.clock()
		for _, change := range changes {
			if err := s.writeChange(ctx, tx, projectID, change, meta, now); err != nil {
				return errors.Wrapf(err, "%s %s", change.ChangeType, change.Path)
			}
		}

		newVersion = current + 1
		if current == 0 {
			_, err = tx.ExecContext(ctx,
				rebindSQL(`INSERT INTO codepatch_projects (project, version, updated_at) VALUES (?, ?, ?)`, s.isPostgres),
				projectID, newVersion, now)
		} else {
			_, err = tx.ExecContext(ctx,
				rebindSQL(`UPDATE codepatch_projects SET version = ?, updated_at = ? WHERE project = ?`, s.isPostgres),
				newVersion, now, projectID)
		}
		if err != nil {
			return errors.Wrap(err, "bump project version")
		}
		return nil
	})
	s.cache.Remove(projectID)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	logger.Debug("project files written",
		zap.Int("changes", len(changes)),
		zap.Int64("version", newVersion),
		zap.String("reason", meta.Reason))
	return newVersion, nil
}

func (s *Store) writeChange(ctx context.Context, tx *sql.Tx, projectID string, change patch.FileChange, meta patch.ChangeMeta, now time.Time) error {
	if change.ChangeType == patch.ChangeDelete {
		_, err := tx.ExecContext(ctx,
			rebindSQL(`UPDATE codepatch_files SET deleted = TRUE, deleted_at = ?, updated_at = ?, updated_by = ?
				WHERE project = ? AND path = ? AND deleted = FALSE`, s.isPostgres),
			now, now, meta.UserID, projectID, change.Path)
		if err != nil {
			return errors.Wrap(err, "soft delete file")
		}
		return nil
	}

	res, err := tx.ExecContext(ctx,
		rebindSQL(`UPDATE codepatch_files SET content = ?, updated_at = ?, updated_by = ?
			WHERE project = ? AND path = ? AND deleted = FALSE`, s.isPostgres),
		change.NewContent, now, meta.UserID, projectID, change.Path)
	if err != nil {
		return errors.Wrap(err, "update file")
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		rebindSQL(`INSERT INTO codepatch_files (project, path, content, updated_by, created_at, updated_at, deleted, deleted_at)
			VALUES (?, ?, ?, ?, ?, ?, FALSE, NULL)`, s.isPostgres),
		projectID, change.Path, change.NewContent, meta.UserID, now, now)
	if err != nil {
		return errors.Wrap(err, "insert file")
	}
	return nil
}
