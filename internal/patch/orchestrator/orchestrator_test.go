package orchestrator

import (
	"context"
	"net/http"
	"strings"
	"testing"

	errors "github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/codepatch/internal/library/llm"
	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/applicator"
	"github.com/Laisky/codepatch/internal/patch/patchtest"
	"github.com/Laisky/codepatch/internal/patch/parser"
)

type scriptedCompleter struct {
	responses []string
	err       error
	requests  []llm.Request
	// before runs ahead of each answer, e.g. to simulate a concurrent writer
	before func()
}

func (c *scriptedCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	c.requests = append(c.requests, req)
	if c.before != nil {
		c.before()
	}
	if c.err != nil {
		return "", c.err
	}
	text := c.responses[0]
	c.responses = c.responses[1:]
	return text, nil
}

type fixedLimiter struct{ allow bool }

func (l fixedLimiter) Allow(context.Context, string) (bool, error) { return l.allow, nil }

type countingBreaker struct {
	open      bool
	failures  int
	successes int
}

func (b *countingBreaker) Allow(context.Context) error {
	if b.open {
		return errors.New("open")
	}
	return nil
}

func (b *countingBreaker) Success(context.Context) error {
	b.successes++
	return nil
}

func (b *countingBreaker) Failure(context.Context) (bool, error) {
	b.failures++
	return false, nil
}

func newTestOrchestrator(t *testing.T, completer llm.Completer, limiter RateLimiter, breaker CircuitBreaker) (*Orchestrator, *patchtest.Store) {
	t.Helper()
	store := patchtest.NewStore()
	app, err := applicator.New(store, store, store, applicator.Settings{}, nil, nil)
	require.NoError(t, err)
	orc, err := New(store, app, completer, limiter, breaker, nil)
	require.NoError(t, err)
	return orc, store
}

func TestGenerateFullApplied(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		"```json\n" + `{"thought":"add title","files":{"index.html":"<h1>Hi</h1>"},"messageToUser":"Added a title."}` + "\n```",
	}}
	orc, store := newTestOrchestrator(t, completer, fixedLimiter{allow: true}, &countingBreaker{})
	store.Seed("p1", patch.ProjectFileSet{"index.html": "<html></html>"})

	result, err := orc.Generate(context.Background(), GenerateRequest{
		ProjectID:   "p1",
		UserID:      "u1",
		Instruction: "add a title",
	})
	require.NoError(t, err)
	require.Equal(t, StatusApplied, result.Status)
	require.True(t, result.Apply.Success, result.Apply.Error)
	require.Equal(t, "Added a title.", result.MessageToUser)
	require.Equal(t, "index.html (update)", result.Summary)
	require.Equal(t, "<h1>Hi</h1>", store.Files("p1")["index.html"])

	require.Len(t, completer.requests, 1)
	req := completer.requests[0]
	require.True(t, req.JSONOutput)
	require.Equal(t, "p1", req.PromptCacheKey)
	require.Contains(t, req.Input, "=== index.html ===\n<html></html>\n")
	require.Contains(t, req.Input, "Request:\nadd a title")
}

func TestGenerateSurgicalApplied(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		`{"thought":"t","edits":[{"file":"a.js","action":"replace","startLine":2,"endLine":2,"content":"let b = 3;","description":"bump b"}],"messageToUser":"ok"}`,
	}}
	orc, store := newTestOrchestrator(t, completer, nil, nil)
	store.Seed("p1", patch.ProjectFileSet{"a.js": "let a = 1;\nlet b = 2;\n"})

	result, err := orc.Generate(context.Background(), GenerateRequest{
		ProjectID:   "p1",
		Instruction: "set b to 3",
		Mode:        parser.ModeSurgical,
	})
	require.NoError(t, err)
	require.Equal(t, StatusApplied, result.Status)
	require.Contains(t, result.Summary, "replace line 2")
	require.Equal(t, "let a = 1;\nlet b = 3;\n", store.Files("p1")["a.js"])
	require.Contains(t, completer.requests[0].Input, "1| let a = 1;\n2| let b = 2;\n")
}

// TestGenerateProposal verifies a change set asking for confirmation is held back until confirmed.
func TestGenerateProposal(t *testing.T) {
	answer := `{"thought":"rewrite","files":{"a.txt":"new"},"messageToUser":"Rewrite a.txt?","requiresConfirmation":true}`
	completer := &scriptedCompleter{responses: []string{answer, answer}}
	orc, store := newTestOrchestrator(t, completer, nil, nil)
	store.Seed("p1", patch.ProjectFileSet{"a.txt": "old"})

	result, err := orc.Generate(context.Background(), GenerateRequest{ProjectID: "p1", Instruction: "rewrite"})
	require.NoError(t, err)
	require.Equal(t, StatusProposed, result.Status)
	require.Nil(t, result.Apply)
	require.Equal(t, int64(1), result.BaseVersion)
	require.Equal(t, patch.ProjectFileSet{"a.txt": "new"}, result.Files)
	require.Equal(t, "old", store.Files("p1")["a.txt"])

	result, err = orc.Generate(context.Background(), GenerateRequest{ProjectID: "p1", Instruction: "rewrite", Confirmed: true})
	require.NoError(t, err)
	require.Equal(t, StatusApplied, result.Status)
	require.Equal(t, "new", store.Files("p1")["a.txt"])
}

func TestGenerateRejectedEdits(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		`{"thought":"t","edits":[{"file":"a.js","action":"delete","startLine":5,"endLine":9,"description":"drop"}],"messageToUser":"ok"}`,
	}}
	orc, store := newTestOrchestrator(t, completer, nil, nil)
	store.Seed("p1", patch.ProjectFileSet{"a.js": "x\n"})

	result, err := orc.Generate(context.Background(), GenerateRequest{ProjectID: "p1", Instruction: "drop", Mode: parser.ModeSurgical})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, result.Status)
	require.NotEmpty(t, result.Problems)
	require.Nil(t, result.Apply)
	require.Equal(t, "x\n", store.Files("p1")["a.js"])
}

func TestGenerateNoChanges(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{`{"thought":"t","messageToUser":"Nothing to do."}`}}
	orc, _ := newTestOrchestrator(t, completer, nil, nil)

	result, err := orc.Generate(context.Background(), GenerateRequest{ProjectID: "p1", Instruction: "explain"})
	require.NoError(t, err)
	require.Equal(t, StatusNoChanges, result.Status)
	require.Equal(t, "Nothing to do.", result.MessageToUser)
}

func TestGenerateParseFailure(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{"Sorry, I cannot help with that."}}
	orc, _ := newTestOrchestrator(t, completer, nil, nil)

	_, err := orc.Generate(context.Background(), GenerateRequest{ProjectID: "p1", Instruction: "x"})
	require.True(t, patch.IsCode(err, patch.ErrCodeParseFailed))
}

func TestGenerateRateLimited(t *testing.T) {
	completer := &scriptedCompleter{}
	orc, _ := newTestOrchestrator(t, completer, fixedLimiter{allow: false}, nil)

	_, err := orc.Generate(context.Background(), GenerateRequest{ProjectID: "p1", UserID: "u1", Instruction: "x"})
	require.True(t, patch.IsCode(err, patch.ErrCodeRateLimited))
	require.Empty(t, completer.requests)
}

func TestGenerateBreaker(t *testing.T) {
	completer := &scriptedCompleter{err: &llm.StatusError{StatusCode: http.StatusBadGateway}}
	breaker := &countingBreaker{}
	orc, _ := newTestOrchestrator(t, completer, nil, breaker)

	_, err := orc.Generate(context.Background(), GenerateRequest{ProjectID: "p1", Instruction: "x"})
	require.True(t, patch.IsCode(err, patch.ErrCodeUnavailable))
	require.Equal(t, 1, breaker.failures)

	// client errors do not count against the gateway
	completer.err = &llm.StatusError{StatusCode: http.StatusBadRequest}
	_, err = orc.Generate(context.Background(), GenerateRequest{ProjectID: "p1", Instruction: "x"})
	require.Error(t, err)
	require.Equal(t, 1, breaker.failures)

	breaker.open = true
	_, err = orc.Generate(context.Background(), GenerateRequest{ProjectID: "p1", Instruction: "x"})
	require.True(t, patch.IsCode(err, patch.ErrCodeUnavailable))
	require.Len(t, completer.requests, 2)
}

// TestGenerateStaleBase verifies a write that raced the generation is refused.
func TestGenerateStaleBase(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		`{"thought":"t","files":{"a.txt":"mine"},"messageToUser":"ok"}`,
	}}
	orc, store := newTestOrchestrator(t, completer, nil, nil)
	store.Seed("p1", patch.ProjectFileSet{"a.txt": "v1"})
	completer.before = func() {
		store.Seed("p1", patch.ProjectFileSet{"a.txt": "theirs"})
	}

	result, err := orc.Generate(context.Background(), GenerateRequest{ProjectID: "p1", Instruction: "x"})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, patch.ErrCodeStaleSnapshot, result.Apply.Code)
	require.Equal(t, "theirs", store.Files("p1")["a.txt"])
}

func TestGenerateRequiresFields(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &scriptedCompleter{}, nil, nil)

	_, err := orc.Generate(context.Background(), GenerateRequest{Instruction: "x"})
	require.True(t, patch.IsCode(err, patch.ErrCodeMissingField))
	_, err = orc.Generate(context.Background(), GenerateRequest{ProjectID: "p1", Instruction: " "})
	require.True(t, patch.IsCode(err, patch.ErrCodeMissingField))
}

func TestBuildPrompt(t *testing.T) {
	files := patch.ProjectFileSet{"b.txt": "no newline", "a.txt": ""}
	instructions, input := BuildPrompt(parser.ModeFull, files, "  do it  ")
	require.Contains(t, instructions, `"files"`)
	require.Less(t, strings.Index(input, "=== a.txt ==="), strings.Index(input, "=== b.txt ==="))
	require.Contains(t, input, "no newline\n")
	require.True(t, strings.HasSuffix(input, "Request:\ndo it\n"))

	lines := make([]string, 12)
	for i := range lines {
		lines[i] = "x"
	}
	instructions, input = BuildPrompt(parser.ModeSurgical, patch.ProjectFileSet{"a": strings.Join(lines, "\n")}, "y")
	require.Contains(t, instructions, "insertAfterLine")
	require.Contains(t, input, " 1| x\n")
	require.Contains(t, input, "12| x\n")

	_, input = BuildPrompt(parser.ModeFull, patch.ProjectFileSet{}, "y")
	require.Contains(t, input, "(empty project)")
}
