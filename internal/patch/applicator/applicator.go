// Package applicator is the transactional envelope around a change set:
// snapshot, backup, diff, validate, write, record and roll back.
package applicator

import (
	"context"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	gutils "github.com/Laisky/go-utils/v6"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/google/uuid"

	"github.com/Laisky/codepatch/internal/mcp/ctxkeys"
	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/editor"
	"github.com/Laisky/codepatch/library/log"
)

// Clock returns the current time in UTC.
type Clock func() time.Time

// FileStore reads and writes project files.
type FileStore interface {
	// CaptureProjectState returns the current files and version of a project.
	CaptureProjectState(ctx context.Context, projectID string) (patch.Snapshot, error)
	// ApplyFileChanges writes changes in one logical operation if the project
	// is still at expectedVersion, and returns the new version.
	ApplyFileChanges(ctx context.Context, projectID string, changes []patch.FileChange, expectedVersion int64, meta patch.ChangeMeta) (int64, error)
}

// BackupStore persists pre-change snapshots.
type BackupStore interface {
	CreateBackup(ctx context.Context, record patch.BackupRecord) (patch.BackupRecord, error)
	GetBackup(ctx context.Context, id uuid.UUID) (patch.BackupRecord, error)
}

// EventRecorder receives a summary of every applied change set.
type EventRecorder interface {
	RecordLearningEvent(ctx context.Context, event patch.LearningEvent) error
}

// ApplyRequest describes one change set.
type ApplyRequest struct {
	ProjectID      string
	UserID         string
	Files          patch.ProjectFileSet
	Reason         string
	ConversationID string
	// BaseVersion, when set, is the version the change set was computed
	// against. A project that moved on since fails with STALE_SNAPSHOT.
	BaseVersion *int64
}

// ApplyResult is the typed outcome of ApplyChanges. Apply-time failures are
// reported here instead of being returned as errors.
type ApplyResult struct {
	Success      bool               `json:"success"`
	Error        string             `json:"error,omitempty"`
	Code         patch.ErrorCode    `json:"code,omitempty"`
	Err          error              `json:"-"`
	AppliedFiles []string           `json:"appliedFiles"`
	BackupID     string             `json:"backupId,omitempty"`
	Version      int64              `json:"version"`
	Changes      []patch.FileChange `json:"-"`
}

// Applicator runs change sets against a project store.
type Applicator struct {
	files    FileStore
	backups  BackupStore
	events   EventRecorder
	settings Settings
	logger   logSDK.Logger
	clock    Clock
}

// New constructs an Applicator. events, logger and clock are optional.
func New(files FileStore, backups BackupStore, events EventRecorder, settings Settings, logger logSDK.Logger, clock Clock) (*Applicator, error) {
	if files == nil {
		return nil, errors.New("file store is required")
	}
	if backups == nil {
		return nil, errors.New("backup store is required")
	}
	if logger == nil {
		logger = log.Logger.Named("patch_applicator")
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if len(settings.CodeExtensions) == 0 {
		settings.CodeExtensions = DefaultCodeExtensions()
	}

	return &Applicator{
		files:    files,
		backups:  backups,
		events:   events,
		settings: settings,
		logger:   logger,
		clock:    clock,
	}, nil
}

// LoggerFromContext returns the request-scoped logger when available.
func (a *Applicator) LoggerFromContext(ctx context.Context) logSDK.Logger {
	if ctx != nil {
		if ctxLogger := gmw.GetLogger(ctx); ctxLogger != nil {
			return ctxLogger
		}
		if ctxLogger, ok := ctx.Value(ctxkeys.Logger).(logSDK.Logger); ok && ctxLogger != nil {
			return ctxLogger
		}
	}
	if a != nil && a.logger != nil {
		return a.logger
	}
	return log.Logger.Named("patch_applicator_fallback")
}

// planFunc turns the captured snapshot into the change list to write.
type planFunc func(snapshot patch.Snapshot) ([]patch.FileChange, error)

// ApplyChanges writes a full-file change set. A path mapped to "" deletes
// the file when it exists, paths absent from req.Files are left untouched.
func (a *Applicator) ApplyChanges(ctx context.Context, req ApplyRequest) *ApplyResult {
	return a.run(ctx, req, func(snapshot patch.Snapshot) ([]patch.FileChange, error) {
		return Diff(snapshot.Files, req.Files), nil
	}, true)
}

// ApplyEdits applies a surgical edit batch through the same envelope.
// The edits are resolved against the snapshot captured by this call.
func (a *Applicator) ApplyEdits(ctx context.Context, req ApplyRequest, edits []patch.LineEdit) *ApplyResult {
	return a.run(ctx, req, func(snapshot patch.Snapshot) ([]patch.FileChange, error) {
		updated, err := editor.ApplyEdits(snapshot.Files, edits)
		if err != nil {
			return nil, err
		}
		return diff(snapshot.Files, updated, false), nil
	}, true)
}

// Rollback restores the project to the snapshot held by a backup.
// It never fails loudly: the cause of a false result is only logged.
func (a *Applicator) Rollback(ctx context.Context, backupID string) bool {
	result := a.Restore(ctx, backupID)
	return result.Success
}

// Restore is Rollback with the full result, for callers that report the
// backup taken of the pre-rollback state.
func (a *Applicator) Restore(ctx context.Context, backupID string) *ApplyResult {
	logger := a.LoggerFromContext(ctx).With(zap.String("backup_id", backupID))

	id, err := uuid.Parse(strings.TrimSpace(backupID))
	if err != nil {
		rbErr := &patch.RollbackError{Code: patch.ErrCodeBackupNotFound, BackupID: backupID, Cause: err}
		logger.Warn("rollback failed", zap.Error(rbErr))
		return failure(rbErr, "")
	}

	backup, err := a.backups.GetBackup(ctx, id)
	if err != nil {
		code := patch.ErrCodeRollbackFailed
		if errors.Is(err, patch.ErrNotFound) {
			code = patch.ErrCodeBackupNotFound
		}
		rbErr := &patch.RollbackError{Code: code, BackupID: backupID, Cause: err}
		logger.Warn("rollback failed", zap.Error(rbErr))
		return failure(rbErr, "")
	}

	req := ApplyRequest{
		ProjectID:      backup.ProjectID,
		UserID:         backup.UserID,
		Reason:         "Rollback to backup " + backup.ID.String(),
		ConversationID: backup.ConversationID,
	}
	result := a.run(ctx, req, func(snapshot patch.Snapshot) ([]patch.FileChange, error) {
		return restoreChanges(snapshot.Files, backup.BackupData), nil
	}, false)
	if !result.Success {
		rbErr := &patch.RollbackError{Code: patch.ErrCodeRollbackFailed, BackupID: backupID, Cause: result.Err}
		logger.Error("rollback failed", zap.Error(rbErr))
	}
	return result
}

// run is the pipeline shared by every write path.
func (a *Applicator) run(ctx context.Context, req ApplyRequest, plan planFunc, validate bool) *ApplyResult {
	logger := a.LoggerFromContext(ctx).With(
		zap.String("project", req.ProjectID),
		zap.String("conversation_id", req.ConversationID),
	)

	if strings.TrimSpace(req.ProjectID) == "" {
		return failure(errors.WithStack(patch.NewValidationError(patch.ErrCodeMissingField, "projectId", "is required")), "")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "apply changes"
	}

	snapshot, err := a.files.CaptureProjectState(ctx, req.ProjectID)
	if err != nil {
		logger.Error("capture project state", zap.Error(err))
		return failure(asApplyError(err, "capture project state"), "")
	}
	if req.BaseVersion != nil && *req.BaseVersion != snapshot.Version {
		logger.Info("stale change set",
			zap.Int64("base_version", *req.BaseVersion),
			zap.Int64("current_version", snapshot.Version))
		return failure(errors.WithStack(patch.NewApplyError(patch.ErrCodeStaleSnapshot,
			"project changed since the change set was prepared", true, nil)), "")
	}

	backup, err := a.backups.CreateBackup(ctx, patch.BackupRecord{
		ID:             gutils.UUID7Bytes(),
		ProjectID:      req.ProjectID,
		UserID:         req.UserID,
		BackupData:     snapshot.Files.Clone(),
		Reason:         reason,
		FileCount:      len(snapshot.Files),
		ConversationID: req.ConversationID,
		CreatedAt:      a.clock(),
	})
	if err != nil {
		logger.Error("create backup", zap.Error(err))
		return failure(asApplyError(err, "create backup"), "")
	}
	backupID := backup.ID.String()
	logger = logger.With(zap.String("backup_id", backupID))

	changes, err := plan(snapshot)
	if err != nil {
		logger.Info("change set rejected", zap.Error(err))
		return failure(err, backupID)
	}
	if validate {
		if err := a.validateChanges(changes); err != nil {
			logger.Info("change set rejected", zap.Error(err))
			return failure(err, backupID)
		}
	}

	if len(changes) == 0 {
		return &ApplyResult{
			Success:      true,
			AppliedFiles: []string{},
			BackupID:     backupID,
			Version:      snapshot.Version,
		}
	}

	version, err := a.files.ApplyFileChanges(ctx, req.ProjectID, changes, snapshot.Version, patch.ChangeMeta{
		Reason:         reason,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
	})
	if err != nil {
		logger.Error("write changes", zap.Error(err))
		return failure(asApplyError(err, "write changes"), backupID)
	}

	applied := make([]string, 0, len(changes))
	for _, change := range changes {
		applied = append(applied, change.Path)
	}

	a.recordEvent(ctx, logger, req, reason, backup.ID, changes)
	logger.Info("change set applied",
		zap.Int("files", len(changes)),
		zap.Int64("version", version))

	return &ApplyResult{
		Success:      true,
		AppliedFiles: applied,
		BackupID:     backupID,
		Version:      version,
		Changes:      changes,
	}
}

// recordEvent logs the change set for later analysis. Failures only warn
// since the write already happened.
func (a *Applicator) recordEvent(ctx context.Context, logger logSDK.Logger, req ApplyRequest, reason string, backupID uuid.UUID, changes []patch.FileChange) {
	if a.events == nil {
		return
	}

	event := patch.LearningEvent{
		ProjectID:      req.ProjectID,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Reason:         reason,
		BackupID:       backupID,
		FilesChanged:   len(changes),
		Histogram:      map[patch.ChangeType]int{},
		OccurredAt:     a.clock(),
	}
	for _, change := range changes {
		event.Histogram[change.ChangeType]++
		added, removed := editor.LineStats(change.OldContent, change.NewContent)
		event.LinesAdded += added
		event.LinesRemoved += removed
	}

	if err := a.events.RecordLearningEvent(context.WithoutCancel(ctx), event); err != nil {
		logger.Warn("record learning event", zap.Error(err))
	}
}

// asApplyError keeps typed store errors and wraps anything else as APPLY_FAILED.
func asApplyError(err error, action string) error {
	var applyErr *patch.ApplyError
	if errors.As(err, &applyErr) {
		return err
	}
	return errors.WithStack(patch.NewApplyError(patch.ErrCodeApplyFailed, action, true, err))
}

func failure(err error, backupID string) *ApplyResult {
	return &ApplyResult{
		Success:      false,
		Error:        err.Error(),
		Code:         patch.CodeOf(err),
		Err:          err,
		AppliedFiles: []string{},
		BackupID:     backupID,
	}
}
