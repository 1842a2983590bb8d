// Package web serves the change pipeline over HTTP with gin.
package web

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/codepatch/internal/mcp/auth"
	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/applicator"
	"github.com/Laisky/codepatch/internal/patch/eventlog"
	"github.com/Laisky/codepatch/internal/patch/orchestrator"
	"github.com/Laisky/codepatch/library/log"
)

// Applier writes change sets and restores backups.
type Applier interface {
	ApplyChanges(ctx context.Context, req applicator.ApplyRequest) *applicator.ApplyResult
	ApplyEdits(ctx context.Context, req applicator.ApplyRequest, edits []patch.LineEdit) *applicator.ApplyResult
	Restore(ctx context.Context, backupID string) *applicator.ApplyResult
}

// SnapshotReader reads the current files of a project.
type SnapshotReader interface {
	CaptureProjectState(ctx context.Context, projectID string) (patch.Snapshot, error)
}

// BackupLister lists the backups of a project.
type BackupLister interface {
	ListBackups(ctx context.Context, projectID string, limit int) ([]patch.BackupRecord, error)
}

// Generator turns an instruction into a change set.
type Generator interface {
	Generate(ctx context.Context, req orchestrator.GenerateRequest) (*orchestrator.GenerateResult, error)
}

// EventLister pages through recorded learning events.
type EventLister interface {
	List(ctx context.Context, opts eventlog.ListOptions) (*eventlog.ListResult, error)
}

// Deps are the services behind the routes. Generator, Events, MCP and Tokens
// are optional; the matching routes are not mounted without them, and
// without Tokens every request is anonymous.
type Deps struct {
	Applier   Applier
	Files     SnapshotReader
	Backups   BackupLister
	Generator Generator
	Events    EventLister
	MCP       http.Handler
	Tokens    auth.TokenParser
}

// Server is the HTTP front end.
type Server struct {
	engine   *gin.Engine
	deps     Deps
	settings Settings
	logger   logSDK.Logger
}

// New builds the gin engine and mounts every route.
func New(deps Deps, settings Settings, logger logSDK.Logger) (*Server, error) {
	if deps.Applier == nil || deps.Files == nil || deps.Backups == nil {
		return nil, errors.New("applier, file store and backup store are required")
	}
	if logger == nil {
		logger = log.Logger.Named("web")
	}
	if settings.ShutdownTimeout <= 0 {
		settings.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		engine:   gin.New(),
		deps:     deps,
		settings: settings,
		logger:   logger,
	}
	s.engine.Use(
		gin.Recovery(),
		gmw.NewLoggerMiddleware(gmw.WithLogger(logger.Named("gin"))),
		s.allowCORS,
	)

	status := newStatusHandler()
	s.engine.GET("/health", status)
	s.engine.HEAD("/health", status)
	s.engine.OPTIONS("/health", status)

	if deps.MCP != nil {
		s.engine.Any("/mcp", gin.WrapH(deps.MCP))
		s.engine.Any("/mcp/*path", gin.WrapH(deps.MCP))
	}

	api := s.engine.Group("/api/v1", s.authenticate)
	api.POST("/projects/:project/files", s.handleApplyFiles)
	api.POST("/projects/:project/edits", s.handleApplyEdits)
	api.POST("/projects/:project/edits/validate", s.handleValidateEdits)
	api.GET("/projects/:project/backups", s.handleListBackups)
	api.POST("/backups/:id/rollback", s.handleRollback)
	if deps.Generator != nil {
		api.POST("/projects/:project/generate", s.handleGenerate)
	}
	if deps.Events != nil {
		api.GET("/events", s.handleListEvents)
	}

	return s, nil
}

// Handler returns the engine as a plain http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on http", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server exit")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	s.logger.Info("http server stopped")
	return nil
}

// newStatusHandler answers liveness checks.
func newStatusHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Header("Allow", "GET, HEAD, OPTIONS")
		if ctx.Request.Method != http.MethodGet {
			ctx.Status(http.StatusOK)
			return
		}
		ctx.String(http.StatusOK, "ok")
	}
}

func (s *Server) allowCORS(ctx *gin.Context) {
	origin := ctx.Request.Header.Get("Origin")
	if origin == "" {
		ctx.Next()
		return
	}

	if !s.originAllowed(origin) {
		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusForbidden)
			return
		}
		ctx.Next()
		return
	}

	ctx.Header("Access-Control-Allow-Origin", origin)
	ctx.Header("Access-Control-Allow-Credentials", "true")
	ctx.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS, HEAD")
	ctx.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, Mcp-Session-Id")
	ctx.Header("Access-Control-Max-Age", "86400")
	ctx.Header("Vary", "Origin")

	if ctx.Request.Method == http.MethodOptions {
		ctx.AbortWithStatus(http.StatusNoContent)
		return
	}
	ctx.Next()
}

// originAllowed matches the origin host against the configured hosts.
// An entry starting with "." also allows every subdomain.
func (s *Server) originAllowed(origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, allowed := range s.settings.AllowedOrigins {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		switch {
		case allowed == "*":
			return true
		case strings.HasPrefix(allowed, "."):
			if strings.HasSuffix(host, allowed) || host == allowed[1:] {
				return true
			}
		case host == allowed:
			return true
		}
	}
	return false
}
