package fsstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/applicator"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		target := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
		require.NoError(t, os.WriteFile(target, []byte(content), 0o644))
	}
}

func TestCaptureSkipsIgnoredEntries(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"index.html":          "<html></html>",
		"src/app.js":          "run();\n",
		".git/HEAD":           "ref: refs/heads/main\n",
		"node_modules/x/i.js": "module.exports = 1;\n",
	})
	require.NoError(t, os.WriteFile(filepath.Join(root, "logo.bin"), []byte{0xff, 0xfe, 0x00}, 0o644))

	st, err := New(root, time.Second, nil)
	require.NoError(t, err)

	snapshot, err := st.CaptureProjectState(context.Background(), "local")
	require.NoError(t, err)
	require.Zero(t, snapshot.Version)
	require.Equal(t, patch.ProjectFileSet{
		"index.html": "<html></html>",
		"src/app.js": "run();\n",
	}, snapshot.Files)
}

func TestApplyFileChanges(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a1", "b.txt": "b1"})
	st, err := New(root, time.Second, nil)
	require.NoError(t, err)
	ctx := context.Background()

	version, err := st.ApplyFileChanges(ctx, "local", []patch.FileChange{
		{Path: "a.txt", OldContent: "a1", NewContent: "a2", ChangeType: patch.ChangeUpdate},
		{Path: "b.txt", OldContent: "b1", ChangeType: patch.ChangeDelete},
		{Path: "deep/c.txt", NewContent: "c1", ChangeType: patch.ChangeCreate},
	}, 0, patch.ChangeMeta{Reason: "test"})
	require.NoError(t, err)
	require.Equal(t, int64(1), version)

	snapshot, err := st.CaptureProjectState(ctx, "local")
	require.NoError(t, err)
	require.Equal(t, int64(1), snapshot.Version)
	require.Equal(t, patch.ProjectFileSet{"a.txt": "a2", "deep/c.txt": "c1"}, snapshot.Files)

	_, err = st.ApplyFileChanges(ctx, "local", []patch.FileChange{
		{Path: "a.txt", NewContent: "lost", ChangeType: patch.ChangeUpdate},
	}, 0, patch.ChangeMeta{})
	require.True(t, patch.IsCode(err, patch.ErrCodeStaleSnapshot))
}

// TestApplyFileChangesRevertsOnFailure verifies earlier writes are undone when a later one fails.
func TestApplyFileChangesRevertsOnFailure(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a1"})
	st, err := New(root, time.Second, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = st.ApplyFileChanges(ctx, "local", []patch.FileChange{
		{Path: "a.txt", OldContent: "a1", NewContent: "a2", ChangeType: patch.ChangeUpdate},
		{Path: "new.txt", NewContent: "n", ChangeType: patch.ChangeCreate},
		{Path: "../escape.txt", NewContent: "x", ChangeType: patch.ChangeCreate},
	}, 0, patch.ChangeMeta{})
	require.Error(t, err)
	require.True(t, patch.IsCode(err, patch.ErrCodeInvalidField))

	snapshot, err := st.CaptureProjectState(ctx, "local")
	require.NoError(t, err)
	require.Zero(t, snapshot.Version)
	require.Equal(t, patch.ProjectFileSet{"a.txt": "a1"}, snapshot.Files)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(root), "escape.txt"))
	require.True(t, os.IsNotExist(statErr))
}

func TestResolveRejectsReservedPaths(t *testing.T) {
	st, err := New(t.TempDir(), time.Second, nil)
	require.NoError(t, err)

	for _, rel := range []string{"", ".", "..", "../x", "/etc/passwd", ".codepatch/version", "a/../../x"} {
		_, err := st.resolve(rel)
		require.Error(t, err, rel)
	}
	target, err := st.resolve("src/./a.js")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(st.Root(), "src", "a.js"), target)
}

func TestApplyFileChangesBusy(t *testing.T) {
	root := t.TempDir()
	st, err := New(root, 30*time.Millisecond, nil)
	require.NoError(t, err)

	holder := flock.New(filepath.Join(root, metaDir, lockFile))
	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer holder.Unlock() // nolint: errcheck

	_, err = st.ApplyFileChanges(context.Background(), "local", []patch.FileChange{
		{Path: "a.txt", NewContent: "a", ChangeType: patch.ChangeCreate},
	}, 0, patch.ChangeMeta{})
	require.True(t, patch.IsCode(err, patch.ErrCodeResourceBusy))
}

func TestBackups(t *testing.T) {
	st, err := New(t.TempDir(), time.Second, nil)
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		record, err := st.CreateBackup(ctx, patch.BackupRecord{
			ProjectID:  "local",
			BackupData: patch.ProjectFileSet{"a.txt": "v"},
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		require.Equal(t, 1, record.FileCount)
		ids = append(ids, record.ID)
	}

	listed, err := st.ListBackups(ctx, "local", 2)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, ids[2], listed[0].ID)
	require.Equal(t, ids[1], listed[1].ID)
	require.Nil(t, listed[0].BackupData)

	got, err := st.GetBackup(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, patch.ProjectFileSet{"a.txt": "v"}, got.BackupData)

	_, err = st.GetBackup(ctx, uuid.New())
	require.True(t, errors.Is(err, patch.ErrNotFound))
}

// TestRollbackRoundTrip runs apply and rollback against a real directory.
func TestRollbackRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"main.go": "package main\n\nfunc main() {}\n"})
	st, err := New(root, time.Second, nil)
	require.NoError(t, err)
	ctx := context.Background()

	app, err := applicator.New(st, st, nil, applicator.Settings{}, nil, nil)
	require.NoError(t, err)

	result := app.ApplyChanges(ctx, applicator.ApplyRequest{
		ProjectID: "local",
		Files: patch.ProjectFileSet{
			"main.go": "package main\n\nfunc main() { run() }\n",
			"run.go":  "package main\n\nfunc run() {}\n",
		},
	})
	require.True(t, result.Success, result.Error)

	require.True(t, app.Rollback(ctx, result.BackupID))
	_, err = os.Stat(filepath.Join(root, "run.go"))
	require.True(t, os.IsNotExist(err))
	content, err := os.ReadFile(filepath.Join(root, "main.go"))
	require.NoError(t, err)
	require.Equal(t, "package main\n\nfunc main() {}\n", string(content))
}
