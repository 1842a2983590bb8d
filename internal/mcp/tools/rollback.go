package tools

import (
	"context"

	errors "github.com/Laisky/errors/v2"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Laisky/codepatch/internal/patch"
)

// RollbackTool implements the rollback MCP tool.
type RollbackTool struct {
	applier Applier
}

// NewRollbackTool constructs a RollbackTool.
func NewRollbackTool(applier Applier) (*RollbackTool, error) {
	if applier == nil {
		return nil, errors.New("applier is required")
	}
	return &RollbackTool{applier: applier}, nil
}

// Definition returns the MCP metadata for rollback.
func (t *RollbackTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"rollback",
		mcp.WithDescription("Restore a project to the files held by a backup. The current state is backed up first."),
		mcp.WithString("backup_id", mcp.Required(), mcp.Description("Backup id returned by apply_files or apply_edits.")),
		mcp.WithIdempotentHintAnnotation(false),
	)
}

// Handle executes the rollback tool logic.
func (t *RollbackTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	backupID, err := req.RequireString("backup_id")
	if err != nil {
		return toolErrorResult(patch.ErrCodeMissingField, err.Error(), false), nil
	}
	return applyResultToTool(t.applier.Restore(ctx, backupID)), nil
}
