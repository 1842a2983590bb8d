package tools

import (
	"context"
	"strings"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/applicator"
)

// ApplyFilesTool implements the apply_files MCP tool.
type ApplyFilesTool struct {
	applier Applier
}

// NewApplyFilesTool constructs an ApplyFilesTool.
func NewApplyFilesTool(applier Applier) (*ApplyFilesTool, error) {
	if applier == nil {
		return nil, errors.New("applier is required")
	}
	return &ApplyFilesTool{applier: applier}, nil
}

// Definition returns the MCP metadata for apply_files.
func (t *ApplyFilesTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"apply_files",
		mcp.WithDescription("Write complete file contents to a project. Map a path to an empty string to delete it. A backup is taken first."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Target project id.")),
		mcp.WithObject("files", mcp.Required(), mcp.Description("Map of file path to its complete new content.")),
		mcp.WithString("reason", mcp.Description("Why the change is made. Stored with the backup.")),
		mcp.WithString("conversation_id", mcp.Description("Conversation that produced the change.")),
		mcp.WithNumber("base_version", mcp.Description("Project version the change was computed against. Stale versions are refused.")),
		mcp.WithIdempotentHintAnnotation(false),
	)
}

// Handle executes the apply_files tool logic.
func (t *ApplyFilesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return toolErrorResult(patch.ErrCodeMissingField, err.Error(), false), nil
	}
	var files patch.ProjectFileSet
	if err := decodeArg(req, "files", &files); err != nil {
		return toolErrorFromErr(err), nil
	}

	result := t.applier.ApplyChanges(ctx, applicator.ApplyRequest{
		ProjectID:      strings.TrimSpace(project),
		UserID:         callerFromContext(ctx),
		Files:          files,
		Reason:         readStringArg(req, "reason"),
		ConversationID: readStringArg(req, "conversation_id"),
		BaseVersion:    readOptionalInt64Arg(req, "base_version"),
	})
	if !result.Success {
		toolLoggerFromContext(ctx).Info("apply_files failed",
			zap.String("project", project),
			zap.String("code", string(result.Code)))
	}
	return applyResultToTool(result), nil
}
