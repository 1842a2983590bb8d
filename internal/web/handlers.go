package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/applicator"
	"github.com/Laisky/codepatch/internal/patch/editor"
	"github.com/Laisky/codepatch/internal/patch/eventlog"
	"github.com/Laisky/codepatch/internal/patch/orchestrator"
	"github.com/Laisky/codepatch/internal/patch/parser"
)

type changeMeta struct {
	Reason         string `json:"reason"`
	ConversationID string `json:"conversationId"`
	BaseVersion    *int64 `json:"baseVersion"`
}

type applyFilesRequest struct {
	changeMeta
	Files patch.ProjectFileSet `json:"files" binding:"required"`
}

type editsRequest struct {
	changeMeta
	Edits []patch.LineEdit `json:"edits" binding:"required"`
}

type generateRequest struct {
	Instruction    string `json:"instruction" binding:"required"`
	Mode           string `json:"mode"`
	Confirmed      bool   `json:"confirmed"`
	ConversationID string `json:"conversationId"`
}

func (s *Server) applyRequest(ctx *gin.Context, meta changeMeta) applicator.ApplyRequest {
	return applicator.ApplyRequest{
		ProjectID:      strings.TrimSpace(ctx.Param("project")),
		UserID:         callerID(ctx),
		Reason:         meta.Reason,
		ConversationID: meta.ConversationID,
		BaseVersion:    meta.BaseVersion,
	}
}

// bindJSON decodes the body; malformed bodies become INVALID_FIELD.
func bindJSON(ctx *gin.Context, out any) bool {
	if err := ctx.ShouldBindJSON(out); err != nil {
		respondError(ctx, errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, "body", "%v", err)))
		return false
	}
	return true
}

// writeApplyResult answers 200 on success and the mapped status otherwise.
// Both carry the full result so clients always learn the backup id.
func writeApplyResult(ctx *gin.Context, result *applicator.ApplyResult) {
	if result.Success {
		ctx.JSON(http.StatusOK, result)
		return
	}
	ctx.JSON(statusForCode(result.Code), result)
}

func (s *Server) handleApplyFiles(ctx *gin.Context) {
	var req applyFilesRequest
	if !bindJSON(ctx, &req) {
		return
	}

	applyReq := s.applyRequest(ctx, req.changeMeta)
	applyReq.Files = req.Files
	writeApplyResult(ctx, s.deps.Applier.ApplyChanges(ctx.Request.Context(), applyReq))
}

func (s *Server) handleApplyEdits(ctx *gin.Context) {
	var req editsRequest
	if !bindJSON(ctx, &req) {
		return
	}

	writeApplyResult(ctx, s.deps.Applier.ApplyEdits(ctx.Request.Context(), s.applyRequest(ctx, req.changeMeta), req.Edits))
}

func (s *Server) handleValidateEdits(ctx *gin.Context) {
	var req editsRequest
	if !bindJSON(ctx, &req) {
		return
	}

	snapshot, err := s.deps.Files.CaptureProjectState(ctx.Request.Context(), ctx.Param("project"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	problems := editor.ValidateEdits(req.Edits, snapshot.Files)
	if problems == nil {
		problems = []string{}
	}
	ctx.JSON(http.StatusOK, gin.H{
		"valid":    len(problems) == 0,
		"problems": problems,
		"summary":  editor.GenerateDiffSummary(req.Edits),
		"version":  snapshot.Version,
	})
}

func (s *Server) handleListBackups(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	records, err := s.deps.Backups.ListBackups(ctx.Request.Context(), ctx.Param("project"), limit)
	if err != nil {
		respondError(ctx, err)
		return
	}

	backups, err := newBackupDTOs(records)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"backups": backups})
}

func (s *Server) handleRollback(ctx *gin.Context) {
	writeApplyResult(ctx, s.deps.Applier.Restore(ctx.Request.Context(), ctx.Param("id")))
}

func (s *Server) handleGenerate(ctx *gin.Context) {
	var req generateRequest
	if !bindJSON(ctx, &req) {
		return
	}
	mode, err := parser.ParseMode(req.Mode)
	if err != nil {
		respondError(ctx, err)
		return
	}

	result, err := s.deps.Generator.Generate(ctx.Request.Context(), orchestrator.GenerateRequest{
		ProjectID:      strings.TrimSpace(ctx.Param("project")),
		UserID:         callerID(ctx),
		ConversationID: req.ConversationID,
		Instruction:    req.Instruction,
		Mode:           mode,
		Confirmed:      req.Confirmed,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	status := http.StatusOK
	if result.Status == orchestrator.StatusFailed && result.Apply != nil {
		status = statusForCode(result.Apply.Code)
	}
	ctx.JSON(status, result)
}

// handleListEvents lists learning events. Authenticated callers only see
// their own events.
func (s *Server) handleListEvents(ctx *gin.Context) {
	opts := eventlog.ListOptions{
		ProjectID: ctx.Query("project"),
		UserID:    ctx.Query("user"),
		SortOrder: ctx.Query("sort"),
	}
	if caller := callerID(ctx); caller != "" {
		opts.UserID = caller
	}
	opts.Page, _ = strconv.Atoi(ctx.DefaultQuery("page", "1"))
	opts.PageSize, _ = strconv.Atoi(ctx.DefaultQuery("pageSize", "20"))

	var err error
	if opts.From, err = parseTimeQuery(ctx, "from"); err != nil {
		respondError(ctx, err)
		return
	}
	if opts.To, err = parseTimeQuery(ctx, "to"); err != nil {
		respondError(ctx, err)
		return
	}

	result, err := s.deps.Events.List(ctx.Request.Context(), opts)
	if err != nil {
		respondError(ctx, err)
		return
	}

	events := make([]EventDTO, 0, len(result.Entries))
	for _, entry := range result.Entries {
		dto, err := newEventDTO(entry)
		if err != nil {
			respondError(ctx, err)
			return
		}
		events = append(events, dto)
	}
	ctx.JSON(http.StatusOK, gin.H{"events": events, "total": result.Total})
}

func parseTimeQuery(ctx *gin.Context, key string) (time.Time, error) {
	raw := strings.TrimSpace(ctx.Query(key))
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, key, "must be RFC3339"))
	}
	return parsed.UTC(), nil
}
