package mcp

import (
	"context"
	"time"

	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	mcp "github.com/mark3labs/mcp-go/mcp"
	srv "github.com/mark3labs/mcp-go/server"

	"github.com/Laisky/codepatch/internal/mcp/auth"
	"github.com/Laisky/codepatch/internal/mcp/ctxkeys"
	"github.com/Laisky/codepatch/library/log"
)

// wrapTool gives every tool call a request-scoped logger and logs its outcome.
func (s *Server) wrapTool(name string, handle srv.ToolHandlerFunc) srv.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := s.logger.Named(name)
		if authCtx, ok := auth.FromContext(ctx); ok {
			logger = logger.With(zap.String("user_id", authCtx.UserID))
		}
		ctx = context.WithValue(ctx, ctxkeys.Logger, logger)

		start := time.Now()
		result, err := handle(ctx, req)
		fields := []zap.Field{zap.Duration("cost", time.Since(start))}
		switch {
		case err != nil:
			logger.Error("tool call failed", append(fields, zap.Error(err))...)
		case result != nil && result.IsError:
			logger.Info("tool call returned error", fields...)
		default:
			logger.Debug("tool call succeeded", fields...)
		}
		return result, err
	}
}

// LoggerFromContext retrieves the per-request logger from the MCP context.
// Falls back to a shared logger if none is present in context.
func LoggerFromContext(ctx context.Context) logSDK.Logger {
	if logger, ok := ctx.Value(ctxkeys.Logger).(logSDK.Logger); ok && logger != nil {
		return logger
	}
	return log.Logger.Named("mcp_fallback")
}
