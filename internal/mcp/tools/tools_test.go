package tools

import (
	"context"
	"encoding/json"
	"testing"

	errors "github.com/Laisky/errors/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/codepatch/internal/mcp/auth"
	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/applicator"
	"github.com/Laisky/codepatch/internal/patch/patchtest"
	"github.com/Laisky/codepatch/internal/patch/orchestrator"
)

func newTestApplicator(t *testing.T) (*applicator.Applicator, *patchtest.Store) {
	t.Helper()
	store := patchtest.NewStore()
	app, err := applicator.New(store, store, store, applicator.Settings{}, nil, nil)
	require.NoError(t, err)
	return app, store
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

// resultPayload decodes the JSON body of a tool result.
func resultPayload(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	textContent, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent.Text), &payload))
	return payload
}

func TestApplyFilesTool(t *testing.T) {
	app, store := newTestApplicator(t)
	tool, err := NewApplyFilesTool(app)
	require.NoError(t, err)

	ctx := auth.WithContext(context.Background(), &auth.Context{UserID: "u1"})
	result, err := tool.Handle(ctx, callRequest(map[string]any{
		"project": "p1",
		"files":   map[string]any{"main.go": "package main\n"},
		"reason":  "init",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	payload := resultPayload(t, result)
	require.Equal(t, true, payload["success"])
	require.NotEmpty(t, payload["backupId"])
	require.Equal(t, "package main\n", store.Files("p1")["main.go"])
	require.Equal(t, "u1", store.Events()[0].UserID)
}

func TestApplyFilesToolStale(t *testing.T) {
	app, store := newTestApplicator(t)
	store.Seed("p1", patch.ProjectFileSet{"a.txt": "a"})
	tool, err := NewApplyFilesTool(app)
	require.NoError(t, err)

	result, err := tool.Handle(context.Background(), callRequest(map[string]any{
		"project":      "p1",
		"files":        map[string]any{"a.txt": "b"},
		"base_version": float64(0),
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Equal(t, string(patch.ErrCodeStaleSnapshot), resultPayload(t, result)["code"])
	require.Equal(t, "a", store.Files("p1")["a.txt"])
}

func TestApplyFilesToolBadArguments(t *testing.T) {
	app, _ := newTestApplicator(t)
	tool, err := NewApplyFilesTool(app)
	require.NoError(t, err)

	result, err := tool.Handle(context.Background(), callRequest(map[string]any{"project": "p1"}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Equal(t, string(patch.ErrCodeMissingField), resultPayload(t, result)["code"])

	result, err = tool.Handle(context.Background(), callRequest(map[string]any{
		"project": "p1",
		"files":   map[string]any{"a.txt": 3},
	}))
	require.NoError(t, err)
	require.Equal(t, string(patch.ErrCodeInvalidField), resultPayload(t, result)["code"])
}

func TestApplyEditsAndRollbackTools(t *testing.T) {
	app, store := newTestApplicator(t)
	store.Seed("p1", patch.ProjectFileSet{"a.js": "one\ntwo\n"})

	editsTool, err := NewApplyEditsTool(app)
	require.NoError(t, err)
	result, err := editsTool.Handle(context.Background(), callRequest(map[string]any{
		"project": "p1",
		"edits": []any{map[string]any{
			"file": "a.js", "action": "replace", "startLine": 2, "endLine": 2,
			"content": "TWO", "description": "upper",
		}},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Equal(t, "one\nTWO\n", store.Files("p1")["a.js"])
	backupID, _ := resultPayload(t, result)["backupId"].(string)
	require.NotEmpty(t, backupID)

	rollbackTool, err := NewRollbackTool(app)
	require.NoError(t, err)
	result, err = rollbackTool.Handle(context.Background(), callRequest(map[string]any{"backup_id": backupID}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Equal(t, "one\ntwo\n", store.Files("p1")["a.js"])

	result, err = rollbackTool.Handle(context.Background(), callRequest(map[string]any{"backup_id": "nope"}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Equal(t, string(patch.ErrCodeBackupNotFound), resultPayload(t, result)["code"])
}

func TestValidateEditsTool(t *testing.T) {
	_, store := newTestApplicator(t)
	store.Seed("p1", patch.ProjectFileSet{"a.js": "one\n"})
	tool, err := NewValidateEditsTool(store)
	require.NoError(t, err)

	result, err := tool.Handle(context.Background(), callRequest(map[string]any{
		"project": "p1",
		"edits": []any{map[string]any{
			"file": "a.js", "action": "delete", "startLine": 3, "endLine": 4, "description": "drop",
		}},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	payload := resultPayload(t, result)
	require.Equal(t, false, payload["valid"])
	require.NotEmpty(t, payload["problems"])
	require.Equal(t, "one\n", store.Files("p1")["a.js"])
}

func TestListBackupsTool(t *testing.T) {
	app, store := newTestApplicator(t)
	applyTool, err := NewApplyFilesTool(app)
	require.NoError(t, err)
	for _, content := range []string{"a", "b"} {
		_, err := applyTool.Handle(context.Background(), callRequest(map[string]any{
			"project": "p1",
			"files":   map[string]any{"a.txt": content},
		}))
		require.NoError(t, err)
	}

	tool, err := NewListBackupsTool(store)
	require.NoError(t, err)
	result, err := tool.Handle(context.Background(), callRequest(map[string]any{"project": "p1", "limit": float64(1)}))
	require.NoError(t, err)
	backups, ok := resultPayload(t, result)["backups"].([]any)
	require.True(t, ok)
	require.Len(t, backups, 1)
}

func TestParseResponseTool(t *testing.T) {
	tool := NewParseResponseTool()

	result, err := tool.Handle(context.Background(), callRequest(map[string]any{
		"text": "```json\n{\"thought\":\"t\",\"files\":{\"a\":\"b\"},\"messageToUser\":\"m\"}\n```",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	payload := resultPayload(t, result)
	require.Equal(t, "full", payload["mode"])

	result, err = tool.Handle(context.Background(), callRequest(map[string]any{"text": "x", "mode": "diff"}))
	require.NoError(t, err)
	require.Equal(t, string(patch.ErrCodeInvalidField), resultPayload(t, result)["code"])

	result, err = tool.Handle(context.Background(), callRequest(map[string]any{"text": "no json here"}))
	require.NoError(t, err)
	require.Equal(t, string(patch.ErrCodeParseFailed), resultPayload(t, result)["code"])
}

type stubGenerator struct {
	got    orchestrator.GenerateRequest
	result *orchestrator.GenerateResult
	err    error
}

func (g *stubGenerator) Generate(_ context.Context, req orchestrator.GenerateRequest) (*orchestrator.GenerateResult, error) {
	g.got = req
	return g.result, g.err
}

func TestGenerateChangeTool(t *testing.T) {
	gen := &stubGenerator{result: &orchestrator.GenerateResult{Status: orchestrator.StatusProposed, MessageToUser: "ok?"}}
	tool, err := NewGenerateChangeTool(gen)
	require.NoError(t, err)

	ctx := auth.WithContext(context.Background(), &auth.Context{UserID: "u9"})
	result, err := tool.Handle(ctx, callRequest(map[string]any{
		"project":     "p1",
		"instruction": "add a footer",
		"mode":        "surgical",
		"confirmed":   true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Equal(t, "proposed", resultPayload(t, result)["status"])
	require.Equal(t, "u9", gen.got.UserID)
	require.True(t, gen.got.Confirmed)
	require.EqualValues(t, "surgical", gen.got.Mode)

	gen.err = errors.WithStack(patch.NewApplyError(patch.ErrCodeRateLimited, "slow down", true, nil))
	result, err = tool.Handle(ctx, callRequest(map[string]any{"project": "p1", "instruction": "x"}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	payload := resultPayload(t, result)
	require.Equal(t, string(patch.ErrCodeRateLimited), payload["code"])
	require.Equal(t, true, payload["retryable"])
}
