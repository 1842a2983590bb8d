// Package patchtest provides an in-memory file, backup and event store for
// tests of code built on the applicator. It is a test double: nothing in the
// service or CLI uses it.
package patchtest

import (
	"context"
	"sort"
	"sync"

	errors "github.com/Laisky/errors/v2"
	"github.com/google/uuid"

	"github.com/Laisky/codepatch/internal/patch"
)

type project struct {
	files   patch.ProjectFileSet
	version int64
}

// Store keeps every project in memory. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	projects map[string]*project
	backups  map[uuid.UUID]patch.BackupRecord
	events   []patch.LearningEvent

	// WriteErr, when set, fails every ApplyFileChanges call.
	WriteErr error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		projects: map[string]*project{},
		backups:  map[uuid.UUID]patch.BackupRecord{},
	}
}

// Seed replaces the files of a project and bumps its version.
func (s *Store) Seed(projectID string, files patch.ProjectFileSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(projectID)
	p.files = files.Clone()
	p.version++
}

// Files returns a copy of the current files of a project.
func (s *Store) Files(projectID string) patch.ProjectFileSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project(projectID).files.Clone()
}

func (s *Store) project(projectID string) *project {
	p, ok := s.projects[projectID]
	if !ok {
		p = &project{files: patch.ProjectFileSet{}}
		s.projects[projectID] = p
	}
	return p
}

// CaptureProjectState returns a copy of the project and its version.
func (s *Store) CaptureProjectState(_ context.Context, projectID string) (patch.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(projectID)
	return patch.Snapshot{Files: p.files.Clone(), Version: p.version}, nil
}

// ApplyFileChanges writes changes when the project is still at expectedVersion.
func (s *Store) ApplyFileChanges(_ context.Context, projectID string, changes []patch.FileChange, expectedVersion int64, _ patch.ChangeMeta) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.WriteErr != nil {
		return 0, s.WriteErr
	}
	p := s.project(projectID)
	if p.version != expectedVersion {
		return 0, errors.WithStack(patch.NewApplyError(patch.ErrCodeStaleSnapshot,
			"project version moved", true, errors.Errorf("expected %d, found %d", expectedVersion, p.version)))
	}

	for _, change := range changes {
		if change.ChangeType == patch.ChangeDelete {
			delete(p.files, change.Path)
			continue
		}
		p.files[change.Path] = change.NewContent
	}
	p.version++
	return p.version, nil
}

// CreateBackup stores a copy of the record.
func (s *Store) CreateBackup(_ context.Context, record patch.BackupRecord) (patch.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.BackupData = record.BackupData.Clone()
	s.backups[record.ID] = record
	return record, nil
}

// GetBackup returns a stored backup or an error wrapping patch.ErrNotFound.
func (s *Store) GetBackup(_ context.Context, id uuid.UUID) (patch.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.backups[id]
	if !ok {
		return patch.BackupRecord{}, errors.Wrapf(patch.ErrNotFound, "backup %s", id)
	}
	record.BackupData = record.BackupData.Clone()
	return record, nil
}

// ListBackups returns the newest backups of a project first.
func (s *Store) ListBackups(_ context.Context, projectID string, limit int) ([]patch.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []patch.BackupRecord
	for _, record := range s.backups {
		if record.ProjectID == projectID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordLearningEvent appends the event.
func (s *Store) RecordLearningEvent(_ context.Context, event patch.LearningEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns the recorded events in order.
func (s *Store) Events() []patch.LearningEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]patch.LearningEvent(nil), s.events...)
}
