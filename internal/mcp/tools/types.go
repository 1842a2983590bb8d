package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/applicator"
	"github.com/Laisky/codepatch/internal/patch/orchestrator"
)

// Tool exposes the capabilities required by the MCP server registration lifecycle.
type Tool interface {
	Definition() mcp.Tool
	Handle(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Applier writes change sets and restores backups.
type Applier interface {
	ApplyChanges(ctx context.Context, req applicator.ApplyRequest) *applicator.ApplyResult
	ApplyEdits(ctx context.Context, req applicator.ApplyRequest, edits []patch.LineEdit) *applicator.ApplyResult
	Restore(ctx context.Context, backupID string) *applicator.ApplyResult
}

// SnapshotReader reads the current files of a project.
type SnapshotReader interface {
	CaptureProjectState(ctx context.Context, projectID string) (patch.Snapshot, error)
}

// BackupLister lists the backups of a project, newest first.
type BackupLister interface {
	ListBackups(ctx context.Context, projectID string, limit int) ([]patch.BackupRecord, error)
}

// Generator turns an instruction into a change set.
type Generator interface {
	Generate(ctx context.Context, req orchestrator.GenerateRequest) (*orchestrator.GenerateResult, error)
}
