package mcp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	errors "github.com/Laisky/errors/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/codepatch/internal/mcp/auth"
	"github.com/Laisky/codepatch/library/log"
)

func TestIsCapabilityProbe(t *testing.T) {
	require.True(t, isCapabilityProbe(mcp.MethodResourcesList, errors.New("request error: resources not supported")))
	require.True(t, isCapabilityProbe(mcp.MethodPromptsList, errors.New("prompts not supported")))

	require.False(t, isCapabilityProbe(mcp.MethodToolsList, errors.New("resources not supported")))
	require.False(t, isCapabilityProbe(mcp.MethodResourcesList, errors.New("other failure")))
	require.False(t, isCapabilityProbe(mcp.MethodResourcesList, nil))
}

func TestExchangeFields(t *testing.T) {
	ctx := auth.WithContext(context.Background(), &auth.Context{UserID: "u1"})
	req := &mcp.CallToolRequest{}
	req.Params.Name = "apply_edits"

	fields := exchangeFields(ctx, 7, mcp.MethodToolsCall, req)
	keys := map[string]bool{}
	for _, f := range fields {
		keys[f.Key] = true
	}
	require.True(t, keys["tool"])
	require.True(t, keys["user_id"])
	require.False(t, keys["session_id"])

	require.Len(t, exchangeFields(context.Background(), 1, mcp.MethodToolsList, nil), 2)
}

func TestClip(t *testing.T) {
	require.Equal(t, "short", clip("short"))
	long := strings.Repeat("a", maxLoggedBody+10)
	require.True(t, strings.HasSuffix(clip(long), "...(truncated)"))
	require.Len(t, clip(long), maxLoggedBody+len("...(truncated)"))
}

func TestWithHTTPLoggingKeepsBody(t *testing.T) {
	var seen string
	handler := withHTTPLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seen = string(data)
		w.WriteHeader(http.StatusAccepted)
	}), log.Logger.Named("test"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, `{"jsonrpc":"2.0"}`, seen)

	require.Nil(t, withHTTPLogging(nil, log.Logger))
}
