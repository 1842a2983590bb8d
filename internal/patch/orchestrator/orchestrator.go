// Package orchestrator turns a natural language request into an applied
// change set: rate limit, breaker, snapshot, prompt, gateway call, parse,
// optional confirmation and apply.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/codepatch/internal/library/llm"
	"github.com/Laisky/codepatch/internal/mcp/ctxkeys"
	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/applicator"
	"github.com/Laisky/codepatch/internal/patch/editor"
	"github.com/Laisky/codepatch/internal/patch/parser"
	"github.com/Laisky/codepatch/library/log"
)

// SnapshotReader reads the current project state.
type SnapshotReader interface {
	CaptureProjectState(ctx context.Context, projectID string) (patch.Snapshot, error)
}

// Applier writes change sets.
type Applier interface {
	ApplyChanges(ctx context.Context, req applicator.ApplyRequest) *applicator.ApplyResult
	ApplyEdits(ctx context.Context, req applicator.ApplyRequest, edits []patch.LineEdit) *applicator.ApplyResult
}

// RateLimiter admits calls per subject.
type RateLimiter interface {
	Allow(ctx context.Context, subject string) (bool, error)
}

// CircuitBreaker guards the gateway.
type CircuitBreaker interface {
	Allow(ctx context.Context) error
	Success(ctx context.Context) error
	Failure(ctx context.Context) (opened bool, err error)
}

// Status is the outcome of a generation.
type Status string

const (
	// StatusApplied means the change set was written.
	StatusApplied Status = "applied"
	// StatusProposed means the model asked for confirmation first.
	StatusProposed Status = "proposed"
	// StatusRejected means the edits failed the pre-flight check.
	StatusRejected Status = "rejected"
	// StatusNoChanges means the model answered without changes.
	StatusNoChanges Status = "no_changes"
	// StatusFailed means the write failed. Apply carries the cause.
	StatusFailed Status = "failed"
)

// GenerateRequest asks for one change set.
type GenerateRequest struct {
	ProjectID      string
	UserID         string
	ConversationID string
	Instruction    string
	Mode           parser.Mode
	// Confirmed applies the change set even if the model asked for confirmation.
	Confirmed bool
}

// GenerateResult reports what happened. Files or Edits hold the change set
// so a proposal can be applied later with BaseVersion.
type GenerateResult struct {
	Mode          parser.Mode             `json:"mode"`
	Status        Status                  `json:"status"`
	Thought       string                  `json:"thought,omitempty"`
	MessageToUser string                  `json:"messageToUser"`
	Summary       string                  `json:"summary,omitempty"`
	Problems      []string                `json:"problems,omitempty"`
	BaseVersion   int64                   `json:"baseVersion"`
	Files         patch.ProjectFileSet    `json:"files,omitempty"`
	Edits         []patch.LineEdit        `json:"edits,omitempty"`
	Apply         *applicator.ApplyResult `json:"apply,omitempty"`
}

// Orchestrator runs generations.
type Orchestrator struct {
	files     SnapshotReader
	applier   Applier
	completer llm.Completer
	limiter   RateLimiter
	breaker   CircuitBreaker
	logger    logSDK.Logger
}

// New constructs an Orchestrator. limiter, breaker and logger are optional.
func New(files SnapshotReader, applier Applier, completer llm.Completer, limiter RateLimiter, breaker CircuitBreaker, logger logSDK.Logger) (*Orchestrator, error) {
	if files == nil {
		return nil, errors.New("snapshot reader is required")
	}
	if applier == nil {
		return nil, errors.New("applier is required")
	}
	if completer == nil {
		return nil, errors.New("llm completer is required")
	}
	if logger == nil {
		logger = log.Logger.Named("patch_orchestrator")
	}

	return &Orchestrator{
		files:     files,
		applier:   applier,
		completer: completer,
		limiter:   limiter,
		breaker:   breaker,
		logger:    logger,
	}, nil
}

// LoggerFromContext returns the request-scoped logger when available.
func (o *Orchestrator) LoggerFromContext(ctx context.Context) logSDK.Logger {
	if ctx != nil {
		if ctxLogger := gmw.GetLogger(ctx); ctxLogger != nil {
			return ctxLogger
		}
		if ctxLogger, ok := ctx.Value(ctxkeys.Logger).(logSDK.Logger); ok && ctxLogger != nil {
			return ctxLogger
		}
	}
	if o != nil && o.logger != nil {
		return o.logger
	}
	return log.Logger.Named("patch_orchestrator_fallback")
}

// Generate runs one request end to end. Admission, gateway, parse and
// validation failures are returned as errors; write failures are reported
// in GenerateResult.Apply.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	logger := o.LoggerFromContext(ctx).With(
		zap.String("project", req.ProjectID),
		zap.String("conversation_id", req.ConversationID),
	)
	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, errors.WithStack(patch.NewValidationError(patch.ErrCodeMissingField, "projectId", "is required"))
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, errors.WithStack(patch.NewValidationError(patch.ErrCodeMissingField, "instruction", "is required"))
	}
	if req.Mode == "" {
		req.Mode = parser.ModeFull
	}

	if err := o.admit(ctx, req.UserID); err != nil {
		return nil, err
	}

	snapshot, err := o.files.CaptureProjectState(ctx, req.ProjectID)
	if err != nil {
		return nil, errors.Wrap(err, "capture project state")
	}

	instructions, input := BuildPrompt(req.Mode, snapshot.Files, req.Instruction)
	text, err := o.complete(ctx, logger, llm.Request{
		Instructions:   instructions,
		Input:          input,
		JSONOutput:     true,
		PromptCacheKey: req.ProjectID,
	})
	if err != nil {
		return nil, err
	}

	parsed, err := parser.Parse(text, req.Mode)
	if err != nil {
		logger.Info("model response rejected", zap.Int("length", len(text)), zap.Error(err))
		return nil, err
	}

	result := o.describe(parsed, snapshot)
	switch {
	case len(result.Problems) > 0:
		result.Status = StatusRejected
		return result, nil
	case len(result.Files) == 0 && len(result.Edits) == 0:
		result.Status = StatusNoChanges
		return result, nil
	case parsed.RequiresConfirmation() && !req.Confirmed:
		result.Status = StatusProposed
		logger.Info("change set proposed", zap.Int64("base_version", snapshot.Version))
		return result, nil
	}

	base := snapshot.Version
	applyReq := applicator.ApplyRequest{
		ProjectID:      req.ProjectID,
		UserID:         req.UserID,
		Reason:         reasonOf(parsed, req.Instruction),
		ConversationID: req.ConversationID,
		BaseVersion:    &base,
	}
	if req.Mode == parser.ModeSurgical {
		result.Apply = o.applier.ApplyEdits(ctx, applyReq, result.Edits)
	} else {
		applyReq.Files = result.Files
		result.Apply = o.applier.ApplyChanges(ctx, applyReq)
	}

	result.Status = StatusApplied
	if !result.Apply.Success {
		result.Status = StatusFailed
	}
	return result, nil
}

// admit applies the per-user rate limit and the gateway breaker.
func (o *Orchestrator) admit(ctx context.Context, userID string) error {
	if o.limiter != nil {
		ok, err := o.limiter.Allow(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "check rate limit")
		}
		if !ok {
			return errors.WithStack(patch.NewApplyError(patch.ErrCodeRateLimited,
				"too many requests, try again later", true, nil))
		}
	}
	if o.breaker != nil {
		if err := o.breaker.Allow(ctx); err != nil {
			return errors.WithStack(patch.NewApplyError(patch.ErrCodeUnavailable,
				"code generation is temporarily unavailable", true, err))
		}
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, logger logSDK.Logger, req llm.Request) (string, error) {
	text, err := o.completer.Complete(ctx, req)
	if o.breaker == nil {
		if err != nil {
			return "", errors.WithStack(patch.NewApplyError(patch.ErrCodeUnavailable, "call llm gateway", transient(err), err))
		}
		return text, nil
	}

	if err == nil {
		if bErr := o.breaker.Success(ctx); bErr != nil {
			logger.Warn("reset breaker", zap.Error(bErr))
		}
		return text, nil
	}

	if transient(err) {
		opened, bErr := o.breaker.Failure(ctx)
		if bErr != nil {
			logger.Warn("count breaker failure", zap.Error(bErr))
		}
		if opened {
			logger.Warn("llm breaker opened", zap.Error(err))
		}
	}
	return "", errors.WithStack(patch.NewApplyError(patch.ErrCodeUnavailable, "call llm gateway", transient(err), err))
}

// transient reports whether a gateway failure should count against the breaker.
func transient(err error) bool {
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	return !errors.Is(err, context.Canceled)
}

// describe fills the parts of the result that do not depend on applying.
func (o *Orchestrator) describe(parsed *parser.Parsed, snapshot patch.Snapshot) *GenerateResult {
	result := &GenerateResult{
		Mode:          parsed.Mode,
		MessageToUser: parsed.MessageToUser(),
		BaseVersion:   snapshot.Version,
	}

	if parsed.Mode == parser.ModeSurgical {
		result.Thought = parsed.Surgical.Thought
		result.Edits = parsed.Surgical.Edits
		if len(result.Edits) > 0 {
			result.Summary = editor.GenerateDiffSummary(result.Edits)
			if problems := editor.ValidateEdits(result.Edits, snapshot.Files); len(problems) > 0 {
				result.Problems = problems
			}
		}
		return result
	}

	result.Thought = parsed.Full.Thought
	if len(parsed.Full.Files) > 0 {
		result.Files = parsed.Full.Files
		var lines []string
		for _, change := range applicator.Diff(snapshot.Files, parsed.Full.Files) {
			lines = append(lines, fmt.Sprintf("%s (%s)", change.Path, change.ChangeType))
		}
		result.Summary = strings.Join(lines, "\n")
	}
	return result
}

func reasonOf(parsed *parser.Parsed, instruction string) string {
	if parsed.Mode == parser.ModeFull && parsed.Full.Tool != nil {
		if reason, ok := parsed.Full.Tool.Arguments["reason"].(string); ok && strings.TrimSpace(reason) != "" {
			return reason
		}
	}
	reason := []rune(strings.TrimSpace(instruction))
	if len(reason) > 200 {
		reason = reason[:200]
	}
	return string(reason)
}
