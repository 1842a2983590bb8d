package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/google/uuid"

	"github.com/Laisky/codepatch/internal/patch"
)

const backupColumns = `id, project, user_id, backup_data, reason, file_count, conversation_id, created_at`

// CreateBackup inserts a backup record. Missing id and timestamp are filled in.
func (s *Store) CreateBackup(ctx context.Context, record patch.BackupRecord) (patch.BackupRecord, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.clock()
	}
	if record.BackupData == nil {
		record.BackupData = patch.ProjectFileSet{}
	}
	record.FileCount = len(record.BackupData)

	payload, err := json.Marshal(record.BackupData)
	if err != nil {
		return patch.BackupRecord{}, errors.Wrap(err, "marshal backup data")
	}

	if _, err := s.db.ExecContext(ctx,
		rebindSQL(`INSERT INTO codepatch_backups (`+backupColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.isPostgres),
		record.ID.String(),
		record.ProjectID,
		record.UserID,
		string(payload),
		record.Reason,
		record.FileCount,
		record.ConversationID,
		record.CreatedAt,
	); err != nil {
		return patch.BackupRecord{}, errors.Wrap(err, "insert backup")
	}

	return record, nil
}

// GetBackup loads a backup by id, falling back to the archive for backups
// that retention already removed. Unknown ids wrap patch.ErrNotFound.
func (s *Store) GetBackup(ctx context.Context, id uuid.UUID) (patch.BackupRecord, error) {
	row := s.db.QueryRowContext(ctx,
		rebindSQL(`SELECT `+backupColumns+` FROM codepatch_backups WHERE id = ?`, s.isPostgres),
		id.String())
	record, err := scanBackup(row)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return patch.BackupRecord{}, errors.Wrap(err, "query backup")
	}

	if s.archive != nil {
		archived, archErr := s.archive.Get(ctx, id)
		if archErr == nil {
			return archived, nil
		}
		if !errors.Is(archErr, patch.ErrNotFound) {
			return patch.BackupRecord{}, errors.Wrap(archErr, "load archived backup")
		}
	}

	return patch.BackupRecord{}, errors.Wrapf(patch.ErrNotFound, "backup %s", id)
}

// ListBackups returns the newest backups of a project first, without
// their file contents.
func (s *Store) ListBackups(ctx context.Context, projectID string, limit int) ([]patch.BackupRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		rebindSQL(`SELECT id, project, user_id, reason, file_count, conversation_id, created_at
			FROM codepatch_backups WHERE project = ? ORDER BY created_at DESC, id DESC LIMIT ?`, s.isPostgres),
		projectID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query backups")
	}
	defer rows.Close()

	records := []patch.BackupRecord{}
	for rows.Next() {
		var (
			record patch.BackupRecord
			rawID  string
		)
		if err := rows.Scan(&rawID, &record.ProjectID, &record.UserID, &record.Reason,
			&record.FileCount, &record.ConversationID, &record.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan backup")
		}
		if record.ID, err = uuid.Parse(rawID); err != nil {
			return nil, errors.Wrapf(err, "parse backup id %q", rawID)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate backups")
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackup(row rowScanner) (patch.BackupRecord, error) {
	var (
		record  patch.BackupRecord
		rawID   string
		payload string
	)
	if err := row.Scan(&rawID, &record.ProjectID, &record.UserID, &payload, &record.Reason,
		&record.FileCount, &record.ConversationID, &record.CreatedAt); err != nil {
		return patch.BackupRecord{}, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return patch.BackupRecord{}, errors.Wrapf(err, "parse backup id %q", rawID)
	}
	record.ID = id
	record.BackupData = patch.ProjectFileSet{}
	if err := json.Unmarshal([]byte(payload), &record.BackupData); err != nil {
		return patch.BackupRecord{}, errors.Wrapf(err, "decode backup %s", rawID)
	}
	return record, nil
}

// PruneResult reports what a retention pass removed.
type PruneResult struct {
	Deleted  int
	Archived int
}

// PruneBackups enforces the configured retention: at most MaxPerProject
// backups per project and none older than Retention. Victims are archived
// first when an archive is configured; a backup that fails to archive is kept.
func (s *Store) PruneBackups(ctx context.Context) (PruneResult, error) {
	logger := s.LoggerFromContext(ctx)
	var result PruneResult

	maxPerProject := s.settings.Backup.MaxPerProject
	retention := s.settings.Backup.Retention
	if maxPerProject <= 0 && retention <= 0 {
		return result, nil
	}

	victims, err := s.pruneCandidates(ctx, maxPerProject, retention)
	if err != nil {
		return result, err
	}

	for _, id := range victims {
		if s.archive != nil {
			record, err := s.GetBackup(ctx, id)
			if err != nil {
				logger.Warn("load backup for archive", zap.String("backup_id", id.String()), zap.Error(err))
				continue
			}
			if err := s.archive.Put(ctx, record); err != nil {
				logger.Warn("archive backup", zap.String("backup_id", id.String()), zap.Error(err))
				continue
			}
			result.Archived++
		}

		if _, err := s.db.ExecContext(ctx,
			rebindSQL(`DELETE FROM codepatch_backups WHERE id = ?`, s.isPostgres),
			id.String()); err != nil {
			return result, errors.Wrapf(err, "delete backup %s", id)
		}
		result.Deleted++
	}

	if result.Deleted > 0 {
		logger.Info("pruned backups",
			zap.Int("deleted", result.Deleted),
			zap.Int("archived", result.Archived))
	}
	return result, nil
}

// pruneCandidates lists the ids retention would remove. Rows are fully read
// before returning so the caller can issue statements on a single connection.
func (s *Store) pruneCandidates(ctx context.Context, maxPerProject int, retention time.Duration) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project, created_at FROM codepatch_backups ORDER BY project, created_at DESC, id DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "query backups for retention")
	}
	defer rows.Close()

	var (
		victims   []uuid.UUID
		seen      = map[string]int{}
		cutoff    = s.clock().Add(-retention)
		rawID     string
		project   string
		createdAt time.Time
	)
	for rows.Next() {
		if err := rows.Scan(&rawID, &project, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan backup for retention")
		}
		seen[project]++

		tooMany := maxPerProject > 0 && seen[project] > maxPerProject
		tooOld := retention > 0 && createdAt.Before(cutoff)
		if !tooMany && !tooOld {
			continue
		}

		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, errors.Wrapf(err, "parse backup id %q", rawID)
		}
		victims = append(victims, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate backups for retention")
	}

	return victims, nil
}

// RunPruner prunes on every tick of the configured interval until ctx ends.
func (s *Store) RunPruner(ctx context.Context) error {
	logger := s.LoggerFromContext(ctx).Named("pruner")
	ticker := time.NewTicker(s.settings.Backup.PruneInterval)
	defer ticker.Stop()

	for {
		if _, err := s.PruneBackups(ctx); err != nil {
			logger.Error("prune backups", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
