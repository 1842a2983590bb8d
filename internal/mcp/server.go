package mcp

import (
	"context"
	"net/http"
	"sort"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	srv "github.com/mark3labs/mcp-go/server"

	"github.com/Laisky/codepatch/internal/mcp/auth"
	"github.com/Laisky/codepatch/internal/mcp/tools"
	"github.com/Laisky/codepatch/library/log"
)

const serverInstructions = `Use apply_files or apply_edits to change project files; every write takes a backup first.
Use validate_edits to check line edits before applying them, and rollback with a backup id to undo.
generate_change turns a natural language instruction into a change set and applies it.`

// Deps are the services behind the MCP tools. Generator and Tokens are optional:
// without Generator generate_change is not offered, without Tokens calls are anonymous.
type Deps struct {
	Applier   tools.Applier
	Files     tools.SnapshotReader
	Backups   tools.BackupLister
	Generator tools.Generator
	Tokens    auth.TokenParser
}

// Server wraps the MCP server state for the HTTP transport.
type Server struct {
	handler   http.Handler
	logger    logSDK.Logger
	toolNames []string
}

// NewServer constructs a remote MCP server exposing HTTP endpoints under a single handler.
func NewServer(deps Deps, settings ToolsSettings, logger logSDK.Logger) (*Server, error) {
	if deps.Applier == nil || deps.Files == nil || deps.Backups == nil {
		return nil, errors.New("applier, file store and backup store are required")
	}
	if logger == nil {
		logger = log.Logger.Named("mcp")
	}

	s := &Server{logger: logger}
	mcpServer := srv.NewMCPServer(
		"codepatch",
		"1.0.0",
		srv.WithToolCapabilities(true),
		srv.WithInstructions(serverInstructions),
		srv.WithRecovery(),
		srv.WithHooks(newMCPHooks(logger.Named("mcp_hooks"))),
	)

	available, err := buildTools(deps, settings)
	if err != nil {
		return nil, err
	}
	for _, tool := range available {
		def := tool.Definition()
		mcpServer.AddTool(def, s.wrapTool(def.Name, tool.Handle))
		s.toolNames = append(s.toolNames, def.Name)
	}
	sort.Strings(s.toolNames)

	streamable := srv.NewStreamableHTTPServer(
		mcpServer,
		srv.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if authCtx, ok := auth.FromContext(r.Context()); ok {
				ctx = auth.WithContext(ctx, authCtx)
			}
			return ctx
		}),
	)

	var handler http.Handler = streamable
	if deps.Tokens != nil {
		handler = auth.HTTPMiddleware(deps.Tokens, handler)
	}
	handler = withAuthorizationHeaderNormalization(handler, logger)
	s.handler = withHTTPLogging(handler, logger.Named("mcp_http"))

	return s, nil
}

func buildTools(deps Deps, settings ToolsSettings) ([]tools.Tool, error) {
	var out []tools.Tool
	if settings.ApplyEnabled {
		applyFiles, err := tools.NewApplyFilesTool(deps.Applier)
		if err != nil {
			return nil, errors.Wrap(err, "new apply_files tool")
		}
		applyEdits, err := tools.NewApplyEditsTool(deps.Applier)
		if err != nil {
			return nil, errors.Wrap(err, "new apply_edits tool")
		}
		validate, err := tools.NewValidateEditsTool(deps.Files)
		if err != nil {
			return nil, errors.Wrap(err, "new validate_edits tool")
		}
		out = append(out, applyFiles, applyEdits, validate)
	}
	if settings.RollbackEnabled {
		rollback, err := tools.NewRollbackTool(deps.Applier)
		if err != nil {
			return nil, errors.Wrap(err, "new rollback tool")
		}
		list, err := tools.NewListBackupsTool(deps.Backups)
		if err != nil {
			return nil, errors.Wrap(err, "new list_backups tool")
		}
		out = append(out, rollback, list)
	}
	if settings.ParseEnabled {
		out = append(out, tools.NewParseResponseTool())
	}
	if settings.GenerateEnabled && deps.Generator != nil {
		generate, err := tools.NewGenerateChangeTool(deps.Generator)
		if err != nil {
			return nil, errors.Wrap(err, "new generate_change tool")
		}
		out = append(out, generate)
	}
	return out, nil
}

// Handler returns the HTTP handler that should be mounted to serve MCP traffic.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// AvailableToolNames lists the registered tools in name order.
func (s *Server) AvailableToolNames() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.toolNames...)
}
