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

// ApplyEditsTool implements the apply_edits MCP tool.
type ApplyEditsTool struct {
	applier Applier
}

// NewApplyEditsTool constructs an ApplyEditsTool.
func NewApplyEditsTool(applier Applier) (*ApplyEditsTool, error) {
	if applier == nil {
		return nil, errors.New("applier is required")
	}
	return &ApplyEditsTool{applier: applier}, nil
}

// Definition returns the MCP metadata for apply_edits.
func (t *ApplyEditsTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"apply_edits",
		mcp.WithDescription("Apply line-addressed edits to a project as one atomic batch. Line numbers refer to the files before any edit."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Target project id.")),
		mcp.WithArray("edits", mcp.Required(), mcp.Description("Edits to apply."), mcp.Items(lineEditSchema())),
		mcp.WithString("reason", mcp.Description("Why the change is made. Stored with the backup.")),
		mcp.WithString("conversation_id", mcp.Description("Conversation that produced the change.")),
		mcp.WithNumber("base_version", mcp.Description("Project version the edits were computed against. Stale versions are refused.")),
		mcp.WithIdempotentHintAnnotation(false),
	)
}

// Handle executes the apply_edits tool logic.
func (t *ApplyEditsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return toolErrorResult(patch.ErrCodeMissingField, err.Error(), false), nil
	}
	var edits []patch.LineEdit
	if err := decodeArg(req, "edits", &edits); err != nil {
		return toolErrorFromErr(err), nil
	}

	result := t.applier.ApplyEdits(ctx, applicator.ApplyRequest{
		ProjectID:      strings.TrimSpace(project),
		UserID:         callerFromContext(ctx),
		Reason:         readStringArg(req, "reason"),
		ConversationID: readStringArg(req, "conversation_id"),
		BaseVersion:    readOptionalInt64Arg(req, "base_version"),
	}, edits)
	if !result.Success {
		toolLoggerFromContext(ctx).Info("apply_edits failed",
			zap.String("project", project),
			zap.String("code", string(result.Code)))
	}
	return applyResultToTool(result), nil
}

func lineEditSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"file", "action", "description"},
		"properties": map[string]any{
			"file":            map[string]any{"type": "string"},
			"action":          map[string]any{"type": "string", "enum": []string{"create", "replace", "insert", "delete"}},
			"startLine":       map[string]any{"type": "integer", "minimum": 1},
			"endLine":         map[string]any{"type": "integer", "minimum": 1},
			"insertAfterLine": map[string]any{"type": "integer", "minimum": 0},
			"content":         map[string]any{"type": "string"},
			"description":     map[string]any{"type": "string"},
		},
	}
}
