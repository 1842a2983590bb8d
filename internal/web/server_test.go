package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/applicator"
	"github.com/Laisky/codepatch/internal/patch/eventlog"
	"github.com/Laisky/codepatch/internal/patch/patchtest"
	"github.com/Laisky/codepatch/internal/patch/orchestrator"
	"github.com/Laisky/codepatch/library/jwt"
)

var ginModeOnce sync.Once

func setupGinTestMode() {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.TestMode)
	})
}

type testEnv struct {
	server *Server
	store  *patchtest.Store
	tokens *jwt.JWT
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	setupGinTestMode()

	store := patchtest.NewStore()
	app, err := applicator.New(store, store, store, applicator.Settings{}, nil, nil)
	require.NoError(t, err)
	tokens, err := jwt.New([]byte("web-secret"), nil)
	require.NoError(t, err)

	deps := Deps{Applier: app, Files: store, Backups: store, Tokens: tokens}
	if mutate != nil {
		mutate(&deps)
	}
	server, err := New(deps, Settings{AllowedOrigins: []string{".example.com"}}, nil)
	require.NoError(t, err)
	return &testEnv{server: server, store: store, tokens: tokens}
}

// do sends a request as userID; an empty userID sends no token.
func (e *testEnv) do(t *testing.T, method, path, userID string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := e.tokens.Sign(userID, "", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func TestNewRequiresStores(t *testing.T) {
	_, err := New(Deps{}, Settings{}, nil)
	require.Error(t, err)
}

func TestApplyFilesRoute(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/projects/p1/files", "", map[string]any{
		"files": map[string]string{"a.txt": "a"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/api/v1/projects/p1/files", "u1", map[string]any{
		"files":  map[string]string{"a.txt": "a"},
		"reason": "seed",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, true, body["success"])
	require.Equal(t, "a", env.store.Files("p1")["a.txt"])
	require.Equal(t, "u1", env.store.Events()[0].UserID)

	rec, body = env.do(t, http.MethodPost, "/api/v1/projects/p1/files", "u1", map[string]any{
		"files":       map[string]string{"a.txt": "b"},
		"baseVersion": 0,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(patch.ErrCodeStaleSnapshot), body["code"])

	rec, body = env.do(t, http.MethodPost, "/api/v1/projects/p1/files", "u1", map[string]any{"reason": "no files"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(patch.ErrCodeInvalidField), body["code"])
}

func TestEditsValidateAndRollbackRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.Seed("p1", patch.ProjectFileSet{"a.js": "one\ntwo\n"})

	badEdits := map[string]any{"edits": []map[string]any{{
		"file": "a.js", "action": "delete", "startLine": 5, "endLine": 6, "description": "drop",
	}}}
	rec, body := env.do(t, http.MethodPost, "/api/v1/projects/p1/edits/validate", "u1", badEdits)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, body["valid"])

	rec, body = env.do(t, http.MethodPost, "/api/v1/projects/p1/edits", "u1", badEdits)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, string(patch.ErrCodeOutOfRange), body["code"])

	rec, body = env.do(t, http.MethodPost, "/api/v1/projects/p1/edits", "u1", map[string]any{"edits": []map[string]any{{
		"file": "a.js", "action": "insert", "insertAfterLine": 0, "content": "zero", "description": "top",
	}}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "zero\none\ntwo\n", env.store.Files("p1")["a.js"])
	backupID := body["backupId"].(string)

	rec, body = env.do(t, http.MethodGet, "/api/v1/projects/p1/backups?limit=10", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	backups := body["backups"].([]any)
	require.NotEmpty(t, backups)
	ids := make([]string, 0, len(backups))
	for _, item := range backups {
		ids = append(ids, item.(map[string]any)["id"].(string))
	}
	require.Contains(t, ids, backupID)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/backups/"+backupID+"/rollback", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "one\ntwo\n", env.store.Files("p1")["a.js"])

	rec, body = env.do(t, http.MethodPost, "/api/v1/backups/"+uuid.NewString()+"/rollback", "u1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, string(patch.ErrCodeBackupNotFound), body["code"])
}

type stubGenerator struct {
	got orchestrator.GenerateRequest
	err error
}

func (g *stubGenerator) Generate(_ context.Context, req orchestrator.GenerateRequest) (*orchestrator.GenerateResult, error) {
	g.got = req
	if g.err != nil {
		return nil, g.err
	}
	return &orchestrator.GenerateResult{Mode: req.Mode, Status: orchestrator.StatusNoChanges, MessageToUser: "nothing"}, nil
}

func TestGenerateRoute(t *testing.T) {
	gen := &stubGenerator{}
	env := newTestEnv(t, func(d *Deps) { d.Generator = gen })

	rec, body := env.do(t, http.MethodPost, "/api/v1/projects/p1/generate", "u1", map[string]any{
		"instruction": "explain",
		"mode":        "surgical",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no_changes", body["status"])
	require.Equal(t, "u1", gen.got.UserID)
	require.Equal(t, "p1", gen.got.ProjectID)

	rec, body = env.do(t, http.MethodPost, "/api/v1/projects/p1/generate", "u1", map[string]any{
		"instruction": "x",
		"mode":        "diff",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(patch.ErrCodeInvalidField), body["code"])

	gen.err = errors.WithStack(patch.NewApplyError(patch.ErrCodeRateLimited, "slow down", true, nil))
	rec, body = env.do(t, http.MethodPost, "/api/v1/projects/p1/generate", "u1", map[string]any{"instruction": "x"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, true, body["retryable"])

	gen.err = errors.New("database exploded")
	rec, body = env.do(t, http.MethodPost, "/api/v1/projects/p1/generate", "u1", map[string]any{"instruction": "x"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal error", body["error"])
}

func TestGenerateRouteNotMountedWithoutGenerator(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, _ := env.do(t, http.MethodPost, "/api/v1/projects/p1/generate", "u1", map[string]any{"instruction": "x"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

type stubEvents struct {
	got eventlog.ListOptions
}

func (s *stubEvents) List(_ context.Context, opts eventlog.ListOptions) (*eventlog.ListResult, error) {
	s.got = opts
	return &eventlog.ListResult{
		Entries: []eventlog.Entry{{
			ID: uuid.New(),
			LearningEvent: patch.LearningEvent{
				ProjectID:    "p1",
				UserID:       "u1",
				BackupID:     uuid.New(),
				FilesChanged: 2,
				Histogram:    map[patch.ChangeType]int{patch.ChangeUpdate: 2},
			},
			CreatedAt: time.Now().UTC(),
		}},
		Total: 1,
	}, nil
}

func TestListEventsRoute(t *testing.T) {
	events := &stubEvents{}
	env := newTestEnv(t, func(d *Deps) { d.Events = events })

	rec, body := env.do(t, http.MethodGet, "/api/v1/events?project=p1&user=someone-else&page=2&from=2026-01-01T00:00:00Z", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "u1", events.got.UserID)
	require.Equal(t, "p1", events.got.ProjectID)
	require.Equal(t, 2, events.got.Page)
	require.Equal(t, 2026, events.got.From.Year())
	require.EqualValues(t, 1, body["total"])

	entry := body["events"].([]any)[0].(map[string]any)
	require.NotEmpty(t, entry["id"])
	require.NotEmpty(t, entry["backupId"])
	require.EqualValues(t, 2, entry["filesChanged"])

	rec, _ = env.do(t, http.MethodGet, "/api/v1/events?from=yesterday", "u1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMCPMounted(t *testing.T) {
	var hits int
	env := newTestEnv(t, func(d *Deps) {
		d.MCP = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits++
			w.WriteHeader(http.StatusAccepted)
		})
	})

	rec, _ := env.do(t, http.MethodPost, "/mcp", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, hits)
}

func TestAllowCORS(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		name   string
		method string
		origin string
		status int
		allow  string
	}{
		{"subdomain", http.MethodGet, "https://app.example.com", http.StatusOK, "https://app.example.com"},
		{"apex", http.MethodGet, "https://example.com:8080", http.StatusOK, "https://example.com:8080"},
		{"preflight", http.MethodOptions, "https://app.example.com", http.StatusNoContent, "https://app.example.com"},
		{"foreign preflight", http.MethodOptions, "https://evil.test", http.StatusForbidden, ""},
		{"foreign get", http.MethodGet, "https://evil.test", http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/health", nil)
			req.Header.Set("Origin", tc.origin)
			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.allow, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestNewStatusHandler(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.Equal(t, "GET, HEAD, OPTIONS", rec.Header().Get("Allow"))

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestStatusForCode(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, statusForCode(patch.ErrCodeMissingField))
	require.Equal(t, http.StatusUnprocessableEntity, statusForCode(patch.ErrCodePlaceholder))
	require.Equal(t, http.StatusConflict, statusForCode(patch.ErrCodeResourceBusy))
	require.Equal(t, http.StatusServiceUnavailable, statusForCode(patch.ErrCodeUnavailable))
	require.Equal(t, http.StatusInternalServerError, statusForCode(patch.ErrCodeApplyFailed))
}

func TestRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- env.server.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
