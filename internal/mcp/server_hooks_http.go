package mcp

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	mcp "github.com/mark3labs/mcp-go/mcp"
	srv "github.com/mark3labs/mcp-go/server"

	"github.com/Laisky/codepatch/internal/mcp/auth"
)

// maxLoggedBody caps the redacted body written to debug logs.
const maxLoggedBody = 4096

func newMCPHooks(logger logSDK.Logger) *srv.Hooks {
	if logger == nil {
		return nil
	}

	hooks := &srv.Hooks{}

	hooks.AddBeforeAny(func(ctx context.Context, id any, method mcp.MCPMethod, message any) {
		fields := exchangeFields(ctx, id, method, message)
		if message != nil {
			fields = append(fields, zap.String("request", clip(redactHookPayload(message))))
		}
		logger.Debug("mcp request received", fields...)
	})

	hooks.AddOnSuccess(func(ctx context.Context, id any, method mcp.MCPMethod, message any, result any) {
		logger.Debug("mcp request succeeded", exchangeFields(ctx, id, method, message)...)
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		fields := append(exchangeFields(ctx, id, method, message), zap.Error(err))
		if isCapabilityProbe(method, err) {
			logger.Debug("mcp capability not offered", fields...)
			return
		}
		logger.Error("mcp request failed", fields...)
	})

	hooks.AddOnRegisterSession(func(ctx context.Context, session srv.ClientSession) {
		logger.Info("mcp session opened", sessionFields(ctx, session)...)
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, session srv.ClientSession) {
		logger.Info("mcp session closed", sessionFields(ctx, session)...)
	})

	return hooks
}

// isCapabilityProbe reports whether err is a client listing resources or
// prompts, which this server never exposes.
func isCapabilityProbe(method mcp.MCPMethod, err error) bool {
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "not supported") {
		return false
	}

	switch method {
	case mcp.MethodResourcesList, mcp.MethodResourcesTemplatesList, mcp.MethodPromptsList:
		return true
	default:
		return false
	}
}

// exchangeFields identifies one JSON-RPC exchange: its id, method, caller,
// session and, for tool calls, the tool.
func exchangeFields(ctx context.Context, id any, method mcp.MCPMethod, message any) []zap.Field {
	fields := []zap.Field{
		zap.Any("request_id", id),
		zap.String("method", string(method)),
	}
	if req, ok := message.(*mcp.CallToolRequest); ok && req != nil {
		fields = append(fields, zap.String("tool", req.Params.Name))
	}
	if session := srv.ClientSessionFromContext(ctx); session != nil {
		fields = append(fields, zap.String("session_id", session.SessionID()))
	}
	if caller, ok := auth.FromContext(ctx); ok {
		fields = append(fields, zap.String("user_id", caller.UserID))
	}

	return fields
}

func sessionFields(ctx context.Context, session srv.ClientSession) []zap.Field {
	fields := []zap.Field{zap.String("session_id", session.SessionID())}
	if caller, ok := auth.FromContext(ctx); ok {
		fields = append(fields, zap.String("user_id", caller.UserID))
	}
	return fields
}

func clip(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "...(truncated)"
}

// withHTTPLogging logs every MCP exchange at debug level. Bodies are
// redacted before they are clipped so file contents never reach the log.
func withHTTPLogging(next http.Handler, logger logSDK.Logger) http.Handler {
	if next == nil || logger == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startAt := time.Now()
		var body []byte
		if r.Body != nil {
			var err error
			if body, err = io.ReadAll(r.Body); err != nil {
				logger.Warn("read mcp request body", zap.Error(err))
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		logger.Debug("mcp http exchange",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("mcp_session_id", r.Header.Get(srv.HeaderKeySessionID)),
			zap.Int("request_bytes", len(body)),
			zap.String("body", clip(redactMCPBody(string(body)))),
			zap.Int("status", rec.Status()),
			zap.Duration("cost", time.Since(startAt)),
		)
	})
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Status returns the written status code, 200 when none was written.
func (r *statusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Flush keeps streamed responses flowing.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
