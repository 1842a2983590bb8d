package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	srv "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/codepatch/internal/mcp/ctxkeys"
	"github.com/Laisky/codepatch/internal/patch/applicator"
	"github.com/Laisky/codepatch/internal/patch/patchtest"
	"github.com/Laisky/codepatch/library/jwt"
)

func newTestServer(t *testing.T, tokens *jwt.JWT) (*Server, *patchtest.Store) {
	t.Helper()
	store := patchtest.NewStore()
	app, err := applicator.New(store, store, store, applicator.Settings{}, nil, nil)
	require.NoError(t, err)

	deps := Deps{Applier: app, Files: store, Backups: store}
	if tokens != nil {
		deps.Tokens = tokens
	}
	server, err := NewServer(deps, ToolsSettings{ApplyEnabled: true, RollbackEnabled: true, ParseEnabled: true, GenerateEnabled: true}, nil)
	require.NoError(t, err)
	return server, store
}

func TestNewServerRequiresCapability(t *testing.T) {
	server, err := NewServer(Deps{}, ToolsSettings{}, nil)
	require.Nil(t, server)
	require.Error(t, err)
}

func TestServerAvailableToolNames(t *testing.T) {
	var empty *Server
	require.Empty(t, empty.AvailableToolNames())

	server, _ := newTestServer(t, nil)
	require.Equal(t, []string{
		"apply_edits", "apply_files", "list_backups", "parse_response", "rollback", "validate_edits",
	}, server.AvailableToolNames())
}

// rpc posts one JSON-RPC message and returns the response with its decoded body.
func rpc(t *testing.T, handler http.Handler, header http.Header, payload map[string]any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Code == http.StatusOK && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func TestServerApplyOverHTTP(t *testing.T) {
	tokens, err := jwt.New([]byte("secret"), nil)
	require.NoError(t, err)
	server, store := newTestServer(t, tokens)
	handler := server.Handler()

	rec, _ := rpc(t, handler, nil, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := tokens.Sign("u1", "", time.Hour)
	require.NoError(t, err)
	header := http.Header{"Authorization": []string{"Bearer " + token}}

	rec, _ = rpc(t, handler, header, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcpgo.LATEST_PROTOCOL_VERSION,
			"clientInfo":      map[string]any{"name": "test", "version": "1"},
			"capabilities":    map[string]any{},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	if sessionID := rec.Header().Get(srv.HeaderKeySessionID); sessionID != "" {
		header.Set(srv.HeaderKeySessionID, sessionID)
	}

	rec, body := rpc(t, handler, header, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/call",
		"params": map[string]any{
			"name": "apply_files",
			"arguments": map[string]any{
				"project": "p1",
				"files":   map[string]any{"index.html": "<p>hi</p>"},
			},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result, ok := body["result"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	require.NotEqual(t, true, result["isError"])

	require.Equal(t, "<p>hi</p>", store.Files("p1")["index.html"])
	events := store.Events()
	require.Len(t, events, 1)
	require.Equal(t, "u1", events[0].UserID)
}

func TestWrapToolInjectsLogger(t *testing.T) {
	server, _ := newTestServer(t, nil)

	var sawLogger bool
	wrapped := server.wrapTool("echo", func(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		sawLogger = ctx.Value(ctxkeys.Logger) != nil
		return mcpgo.NewToolResultText("ok"), nil
	})

	result, err := wrapped(context.Background(), mcpgo.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.True(t, sawLogger)
	require.NotNil(t, LoggerFromContext(context.Background()))
}

func TestTokenFromQuery(t *testing.T) {
	var seen string
	handler := withAuthorizationHeaderNormalization(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
	}), nil)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/mcp?token=abc", nil))
	require.Equal(t, "Bearer abc", seen)

	req := httptest.NewRequest(http.MethodGet, "/mcp?token=abc", nil)
	req.Header.Set("Authorization", "Bearer header")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "Bearer header", seen)
}
