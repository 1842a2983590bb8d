package tools

import (
	"context"
	"encoding/json"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Laisky/codepatch/internal/mcp/auth"
	"github.com/Laisky/codepatch/internal/mcp/ctxkeys"
	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/applicator"
	"github.com/Laisky/codepatch/library/log"
)

// callerFromContext returns the verified user id, or "" for anonymous calls.
func callerFromContext(ctx context.Context) string {
	if authCtx, ok := auth.FromContext(ctx); ok {
		return authCtx.UserID
	}
	return ""
}

// toolLoggerFromContext returns a request-scoped logger when available.
func toolLoggerFromContext(ctx context.Context) logSDK.Logger {
	if ctxLogger := gmw.GetLogger(ctx); ctxLogger != nil {
		return ctxLogger
	}
	if ctxLogger, ok := ctx.Value(ctxkeys.Logger).(logSDK.Logger); ok && ctxLogger != nil {
		return ctxLogger
	}

	return log.Logger.Named("mcp_tools")
}

// toolErrorResult builds a structured MCP error response.
func toolErrorResult(code patch.ErrorCode, message string, retryable bool) *mcp.CallToolResult {
	payload := map[string]any{
		"code":      string(code),
		"message":   message,
		"retryable": retryable,
	}
	result, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return mcp.NewToolResultError(message)
	}
	result.IsError = true
	return result
}

// toolErrorFromErr converts pipeline errors into tool responses.
func toolErrorFromErr(err error) *mcp.CallToolResult {
	if err == nil {
		return nil
	}
	code := patch.CodeOf(err)
	if code == "" {
		return toolErrorResult(patch.ErrCodeApplyFailed, "internal error", true)
	}
	return toolErrorResult(code, err.Error(), patch.IsRetryable(err))
}

// applyResultToTool renders an apply outcome. A failed apply is a tool error
// that still carries the backup id.
func applyResultToTool(result *applicator.ApplyResult) *mcp.CallToolResult {
	toolResult, err := mcp.NewToolResultJSON(result)
	if err != nil {
		return toolErrorResult(patch.ErrCodeApplyFailed, "failed to encode response", true)
	}
	toolResult.IsError = !result.Success
	return toolResult
}

// jsonResult encodes payload as a successful tool response.
func jsonResult(payload any) *mcp.CallToolResult {
	result, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return toolErrorResult(patch.ErrCodeApplyFailed, "failed to encode response", true)
	}
	return result
}

func arguments(req mcp.CallToolRequest) map[string]any {
	raw, _ := req.Params.Arguments.(map[string]any)
	return raw
}

// readStringArg extracts an optional string argument from the request.
func readStringArg(req mcp.CallToolRequest, key string) string {
	if value, ok := arguments(req)[key].(string); ok {
		return value
	}
	return ""
}

// readIntArgWithDefault extracts an optional int argument with a default fallback.
func readIntArgWithDefault(req mcp.CallToolRequest, key string, def int) int {
	switch value := arguments(req)[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	}
	return def
}

// readOptionalInt64Arg returns nil when the argument is absent.
func readOptionalInt64Arg(req mcp.CallToolRequest, key string) *int64 {
	var out int64
	switch value := arguments(req)[key].(type) {
	case int:
		out = int64(value)
	case int64:
		out = value
	case float64:
		out = int64(value)
	default:
		return nil
	}
	return &out
}

// readBoolArg extracts an optional bool argument from the request.
func readBoolArg(req mcp.CallToolRequest, key string) bool {
	value, _ := arguments(req)[key].(bool)
	return value
}

// decodeArg re-decodes a structured argument into out.
func decodeArg(req mcp.CallToolRequest, key string, out any) error {
	raw, ok := arguments(req)[key]
	if !ok || raw == nil {
		return errors.WithStack(patch.NewValidationError(patch.ErrCodeMissingField, key, "is required"))
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, key, "%v", err))
	}
	return nil
}
