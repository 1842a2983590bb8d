// Package fsstore keeps a project in a plain directory on disk.
//
// Bookkeeping lives under .codepatch/ inside the directory: the version
// token, the writer lock and the backups.
package fsstore

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gofrs/flock"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/library/log"
)

const (
	metaDir      = ".codepatch"
	versionFile  = "version"
	lockFile     = "lock"
	backupDir    = "backups"
	pollInterval = 10 * time.Millisecond

	// MaxFileBytes bounds the files captured into a snapshot.
	MaxFileBytes = 1 << 20
)

// skippedDirs are never part of a project snapshot.
var skippedDirs = map[string]bool{
	metaDir:        true,
	".git":         true,
	"node_modules": true,
}

// Store implements the file store and backup store over one directory.
// The project id of every call is only recorded, the directory is the project.
type Store struct {
	root        string
	lockTimeout time.Duration
	logger      logSDK.Logger
	clock       func() time.Time
}

// New returns a Store rooted at dir, creating the bookkeeping directory.
func New(dir string, lockTimeout time.Duration, logger logSDK.Logger) (*Store, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %q", dir)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %q", root)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%q is not a directory", root)
	}
	if err := os.MkdirAll(filepath.Join(root, metaDir, backupDir), 0o755); err != nil {
		return nil, errors.Wrap(err, "create bookkeeping directory")
	}
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = log.Logger.Named("patch_fsstore")
	}

	return &Store{
		root:        root,
		lockTimeout: lockTimeout,
		logger:      logger,
		clock:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Root is the absolute project directory.
func (s *Store) Root() string {
	return s.root
}

// CaptureProjectState reads every text file below the root. Binary and
// oversized files are skipped.
func (s *Store) CaptureProjectState(ctx context.Context, _ string) (patch.Snapshot, error) {
	files := patch.ProjectFileSet{}
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p != s.root && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > MaxFileBytes {
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if !utf8.Valid(content) {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	if err != nil {
		return patch.Snapshot{}, errors.Wrap(err, "walk project directory")
	}

	version, err := s.readVersion()
	if err != nil {
		return patch.Snapshot{}, err
	}
	return patch.Snapshot{Files: files, Version: version}, nil
}

// ApplyFileChanges writes changes under the directory lock. When a write
// fails the changes already made are reverted from their old content.
func (s *Store) ApplyFileChanges(ctx context.Context, projectID string, changes []patch.FileChange, expectedVersion int64, meta patch.ChangeMeta) (newVersion int64, err error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	current, err := s.readVersion()
	if err != nil {
		return 0, err
	}
	if current != expectedVersion {
		return 0, errors.WithStack(patch.NewApplyError(patch.ErrCodeStaleSnapshot,
			"project changed since the snapshot was taken", true,
			errors.Errorf("expected version %d, found %d", expectedVersion, current)))
	}

	var written []patch.FileChange
	defer func() {
		if err == nil {
			return
		}
		for i := len(written) - 1; i >= 0; i-- {
			if undoErr := s.undo(written[i]); undoErr != nil {
				s.logger.Error("revert file", zap.String("path", written[i].Path), zap.Error(undoErr))
			}
		}
	}()

	for _, change := range changes {
		if err = s.write(change); err != nil {
			return 0, errors.Wrapf(err, "%s %s", change.ChangeType, change.Path)
		}
		written = append(written, change)
	}

	newVersion = current + 1
	if err = s.writeVersion(newVersion); err != nil {
		return 0, err
	}

	s.logger.Debug("project files written",
		zap.String("project", projectID),
		zap.Int("changes", len(changes)),
		zap.Int64("version", newVersion),
		zap.String("reason", meta.Reason))
	return newVersion, nil
}

func (s *Store) write(change patch.FileChange) error {
	target, err := s.resolve(change.Path)
	if err != nil {
		return err
	}
	if change.ChangeType == patch.ChangeDelete {
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrap(err, "remove file")
		}
		return nil
	}
	return writeFileAtomic(target, []byte(change.NewContent))
}

func (s *Store) undo(change patch.FileChange) error {
	target, err := s.resolve(change.Path)
	if err != nil {
		return err
	}
	if change.ChangeType == patch.ChangeCreate {
		return os.Remove(target)
	}
	return writeFileAtomic(target, []byte(change.OldContent))
}

// resolve maps a project path to a location below the root and refuses
// anything that would escape it or touch the bookkeeping directory.
func (s *Store) resolve(rel string) (string, error) {
	cleaned := path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	if rel == "" || path.IsAbs(cleaned) || cleaned == "." ||
		cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, "path",
			"%q is outside the project", rel))
	}
	if cleaned == metaDir || strings.HasPrefix(cleaned, metaDir+"/") {
		return "", errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, "path",
			"%q is reserved", rel))
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *Store) lock(ctx context.Context) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	fileLock := flock.New(filepath.Join(s.root, metaDir, lockFile))
	locked, err := fileLock.TryLockContext(lockCtx, pollInterval)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, errors.Wrap(err, "acquire directory lock")
	}
	if !locked {
		return nil, errors.WithStack(patch.NewApplyError(patch.ErrCodeResourceBusy,
			"project is locked by another writer", true, err))
	}
	return func() { _ = fileLock.Unlock() }, nil
}

func (s *Store) readVersion() (int64, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, metaDir, versionFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read version")
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse version")
	}
	return version, nil
}

func (s *Store) writeVersion(version int64) error {
	target := filepath.Join(s.root, metaDir, versionFile)
	if err := writeFileAtomic(target, []byte(strconv.FormatInt(version, 10)+"\n")); err != nil {
		return errors.Wrap(err, "write version")
	}
	return nil
}

// writeFileAtomic replaces target through a temp file in the same directory.
func writeFileAtomic(target string, content []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create parent directory")
	}
	tmp, err := os.CreateTemp(dir, ".codepatch-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name()) // nolint: errcheck

	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "chmod temp file")
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}
