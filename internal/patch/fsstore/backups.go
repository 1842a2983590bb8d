package fsstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	errors "github.com/Laisky/errors/v2"
	"github.com/google/uuid"

	"github.com/Laisky/codepatch/internal/patch"
)

func (s *Store) backupPath(id uuid.UUID) string {
	return filepath.Join(s.root, metaDir, backupDir, id.String()+".json")
}

// CreateBackup stores the record as .codepatch/backups/<id>.json.
func (s *Store) CreateBackup(_ context.Context, record patch.BackupRecord) (patch.BackupRecord, error) {
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

	payload, err := json.Marshal(record)
	if err != nil {
		return patch.BackupRecord{}, errors.Wrap(err, "marshal backup")
	}
	if err := writeFileAtomic(s.backupPath(record.ID), payload); err != nil {
		return patch.BackupRecord{}, errors.Wrap(err, "write backup")
	}
	return record, nil
}

// GetBackup loads a backup. Unknown ids wrap patch.ErrNotFound.
func (s *Store) GetBackup(_ context.Context, id uuid.UUID) (patch.BackupRecord, error) {
	raw, err := os.ReadFile(s.backupPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return patch.BackupRecord{}, errors.Wrapf(patch.ErrNotFound, "backup %s", id)
	}
	if err != nil {
		return patch.BackupRecord{}, errors.Wrapf(err, "read backup %s", id)
	}

	var record patch.BackupRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return patch.BackupRecord{}, errors.Wrapf(err, "decode backup %s", id)
	}
	return record, nil
}

// ListBackups returns the newest backups first, without file contents.
func (s *Store) ListBackups(ctx context.Context, _ string, limit int) ([]patch.BackupRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	entries, err := os.ReadDir(filepath.Join(s.root, metaDir, backupDir))
	if err != nil {
		return nil, errors.Wrap(err, "read backup directory")
	}

	records := []patch.BackupRecord{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		record, err := s.GetBackup(ctx, id)
		if err != nil {
			return nil, err
		}
		record.BackupData = nil
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID.String() > records[j].ID.String()
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
