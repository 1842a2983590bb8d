package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/parser"
)

// ParseResponseTool implements the parse_response MCP tool.
type ParseResponseTool struct{}

// NewParseResponseTool constructs a ParseResponseTool.
func NewParseResponseTool() *ParseResponseTool {
	return &ParseResponseTool{}
}

// Definition returns the MCP metadata for parse_response.
func (t *ParseResponseTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"parse_response",
		mcp.WithDescription("Turn raw model output into a validated change set without applying it."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Raw model output, fenced or bare JSON.")),
		mcp.WithString("mode", mcp.Description("full (default) or surgical.")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)
}

// Handle executes the parse_response tool logic.
func (t *ParseResponseTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return toolErrorResult(patch.ErrCodeMissingField, err.Error(), false), nil
	}
	mode, err := parser.ParseMode(readStringArg(req, "mode"))
	if err != nil {
		return toolErrorFromErr(err), nil
	}

	parsed, err := parser.Parse(text, mode)
	if err != nil {
		return toolErrorFromErr(err), nil
	}
	if parsed.Mode == parser.ModeSurgical {
		return jsonResult(map[string]any{"mode": parsed.Mode, "response": parsed.Surgical}), nil
	}
	return jsonResult(map[string]any{"mode": parsed.Mode, "response": parsed.Full}), nil
}
