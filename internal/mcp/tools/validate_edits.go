package tools

import (
	"context"
	"strings"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/editor"
)

// ValidateEditsTool implements the validate_edits MCP tool. It never writes.
type ValidateEditsTool struct {
	files SnapshotReader
}

// NewValidateEditsTool constructs a ValidateEditsTool.
func NewValidateEditsTool(files SnapshotReader) (*ValidateEditsTool, error) {
	if files == nil {
		return nil, errors.New("snapshot reader is required")
	}
	return &ValidateEditsTool{files: files}, nil
}

// Definition returns the MCP metadata for validate_edits.
func (t *ValidateEditsTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"validate_edits",
		mcp.WithDescription("Check line-addressed edits against the current project without applying them."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Target project id.")),
		mcp.WithArray("edits", mcp.Required(), mcp.Description("Edits to check."), mcp.Items(lineEditSchema())),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)
}

// Handle executes the validate_edits tool logic.
func (t *ValidateEditsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return toolErrorResult(patch.ErrCodeMissingField, err.Error(), false), nil
	}
	var edits []patch.LineEdit
	if err := decodeArg(req, "edits", &edits); err != nil {
		return toolErrorFromErr(err), nil
	}

	snapshot, err := t.files.CaptureProjectState(ctx, strings.TrimSpace(project))
	if err != nil {
		toolLoggerFromContext(ctx).Error("validate_edits capture", zap.String("project", project), zap.Error(err))
		return toolErrorFromErr(err), nil
	}

	problems := editor.ValidateEdits(edits, snapshot.Files)
	if problems == nil {
		problems = []string{}
	}
	return jsonResult(map[string]any{
		"valid":    len(problems) == 0,
		"problems": problems,
		"summary":  editor.GenerateDiffSummary(edits),
		"version":  snapshot.Version,
	}), nil
}
