package patchtest

import (
	"context"
	"testing"

	errors "github.com/Laisky/errors/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/codepatch/internal/patch"
)

func TestStoreVersioning(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.Seed("p", patch.ProjectFileSet{"a.js": "1", "b.js": "2"})

	snapshot, err := store.CaptureProjectState(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, int64(1), snapshot.Version)

	version, err := store.ApplyFileChanges(ctx, "p", []patch.FileChange{
		{Path: "a.js", OldContent: "1", NewContent: "3", ChangeType: patch.ChangeUpdate},
		{Path: "b.js", OldContent: "2", ChangeType: patch.ChangeDelete},
	}, snapshot.Version, patch.ChangeMeta{})
	require.NoError(t, err)
	require.Equal(t, int64(2), version)
	require.Equal(t, patch.ProjectFileSet{"a.js": "3"}, store.Files("p"))

	_, err = store.ApplyFileChanges(ctx, "p", nil, snapshot.Version, patch.ChangeMeta{})
	require.True(t, patch.IsCode(err, patch.ErrCodeStaleSnapshot))

	store.WriteErr = errors.New("disk full")
	_, err = store.ApplyFileChanges(ctx, "p", nil, version, patch.ChangeMeta{})
	require.ErrorContains(t, err, "disk full")
}

func TestStoreBackups(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	files := patch.ProjectFileSet{"a.js": "1"}
	record, err := store.CreateBackup(ctx, patch.BackupRecord{ProjectID: "p", BackupData: files})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, record.ID)

	files["a.js"] = "mutated"
	got, err := store.GetBackup(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, "1", got.BackupData["a.js"])

	listed, err := store.ListBackups(ctx, "p", 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	_, err = store.GetBackup(ctx, uuid.New())
	require.True(t, errors.Is(err, patch.ErrNotFound))
}
