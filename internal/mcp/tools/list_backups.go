package tools

import (
	"context"
	"strings"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Laisky/codepatch/internal/patch"
)

// ListBackupsTool implements the list_backups MCP tool.
type ListBackupsTool struct {
	backups BackupLister
}

// NewListBackupsTool constructs a ListBackupsTool.
func NewListBackupsTool(backups BackupLister) (*ListBackupsTool, error) {
	if backups == nil {
		return nil, errors.New("backup lister is required")
	}
	return &ListBackupsTool{backups: backups}, nil
}

// Definition returns the MCP metadata for list_backups.
func (t *ListBackupsTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"list_backups",
		mcp.WithDescription("List the backups of a project, newest first, without file contents."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Target project id.")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of backups. Defaults to 20.")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)
}

// Handle executes the list_backups tool logic.
func (t *ListBackupsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return toolErrorResult(patch.ErrCodeMissingField, err.Error(), false), nil
	}

	records, err := t.backups.ListBackups(ctx, strings.TrimSpace(project), readIntArgWithDefault(req, "limit", 20))
	if err != nil {
		toolLoggerFromContext(ctx).Error("list backups", zap.String("project", project), zap.Error(err))
		return toolErrorResult(patch.ErrCodeApplyFailed, "failed to list backups", true), nil
	}

	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		items = append(items, map[string]any{
			"backup_id":       record.ID.String(),
			"reason":          record.Reason,
			"file_count":      record.FileCount,
			"user_id":         record.UserID,
			"conversation_id": record.ConversationID,
			"created_at":      record.CreatedAt,
		})
	}
	return jsonResult(map[string]any{"backups": items}), nil
}
