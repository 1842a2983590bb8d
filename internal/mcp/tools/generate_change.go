package tools

import (
	"context"
	"strings"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/orchestrator"
	"github.com/Laisky/codepatch/internal/patch/parser"
)

// GenerateChangeTool implements the generate_change MCP tool.
type GenerateChangeTool struct {
	generator Generator
}

// NewGenerateChangeTool constructs a GenerateChangeTool.
func NewGenerateChangeTool(generator Generator) (*GenerateChangeTool, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	return &GenerateChangeTool{generator: generator}, nil
}

// Definition returns the MCP metadata for generate_change.
func (t *GenerateChangeTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"generate_change",
		mcp.WithDescription("Ask the model to change a project from a natural language instruction and apply the result. "+
			"Large or destructive changes come back as a proposal unless confirmed is true."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Target project id.")),
		mcp.WithString("instruction", mcp.Required(), mcp.Description("What to change.")),
		mcp.WithString("mode", mcp.Description("full (default) rewrites whole files, surgical edits line ranges.")),
		mcp.WithBoolean("confirmed", mcp.Description("Apply even if the model asks for confirmation.")),
		mcp.WithString("conversation_id", mcp.Description("Conversation the request belongs to.")),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)
}

// Handle executes the generate_change tool logic.
func (t *GenerateChangeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return toolErrorResult(patch.ErrCodeMissingField, err.Error(), false), nil
	}
	instruction, err := req.RequireString("instruction")
	if err != nil {
		return toolErrorResult(patch.ErrCodeMissingField, err.Error(), false), nil
	}
	mode, err := parser.ParseMode(readStringArg(req, "mode"))
	if err != nil {
		return toolErrorFromErr(err), nil
	}

	result, err := t.generator.Generate(ctx, orchestrator.GenerateRequest{
		ProjectID:      strings.TrimSpace(project),
		UserID:         callerFromContext(ctx),
		ConversationID: readStringArg(req, "conversation_id"),
		Instruction:    instruction,
		Mode:           mode,
		Confirmed:      readBoolArg(req, "confirmed"),
	})
	if err != nil {
		toolLoggerFromContext(ctx).Info("generate_change failed", zap.String("project", project), zap.Error(err))
		return toolErrorFromErr(err), nil
	}

	toolResult := jsonResult(result)
	toolResult.IsError = result.Status == orchestrator.StatusFailed
	return toolResult, nil
}
