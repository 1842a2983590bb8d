package cmd

import (
	"context"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Laisky/codepatch/internal/mcp"
	"github.com/Laisky/codepatch/internal/mcp/auth"
	"github.com/Laisky/codepatch/internal/web"
	"github.com/Laisky/codepatch/library/jwt"
	"github.com/Laisky/codepatch/library/log"
)

var apiCMD = &cobra.Command{
	Use:     "api",
	Short:   "api",
	Long:    `serve the HTTP API and the MCP endpoint, and prune backups in the background`,
	Args:    gcmd.NoExtraArgs,
	PreRunE: preRun,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAPI(cmd.Context(), gconfig.Shared.GetString("listen"))
	},
}

func init() {
	rootCMD.AddCommand(apiCMD)
}

func runAPI(ctx context.Context, listen string) error {
	logger := log.Logger.Named("api")

	svc, err := newServices(ctx, logger)
	if err != nil {
		return errors.WithStack(err)
	}
	defer svc.Close()

	generator, err := svc.newGenerator(ctx, logger)
	if err != nil {
		return errors.Wrap(err, "new generator")
	}

	webSettings := web.LoadSettingsFromConfig()
	tokens, err := newTokenParser(webSettings.JWTSecret)
	if err != nil {
		return errors.WithStack(err)
	}
	if tokens == nil {
		logger.Warn("settings.web.jwt_secret not set, every request is anonymous")
	}

	mcpDeps := mcp.Deps{
		Applier: svc.applier,
		Files:   svc.store,
		Backups: svc.store,
		Tokens:  tokens,
	}
	webDeps := web.Deps{
		Applier: svc.applier,
		Files:   svc.store,
		Backups: svc.store,
		Tokens:  tokens,
	}
	if generator != nil {
		mcpDeps.Generator = generator
		webDeps.Generator = generator
	}
	if svc.events != nil {
		webDeps.Events = svc.events
	}

	mcpServer, err := mcp.NewServer(mcpDeps, mcp.LoadToolsSettingsFromConfig(), logger.Named("mcp"))
	if err != nil {
		return errors.Wrap(err, "new mcp server")
	}
	logger.Info("mcp tools registered", zap.Strings("tools", mcpServer.AvailableToolNames()))
	webDeps.MCP = mcpServer.Handler()

	server, err := web.New(webDeps, webSettings, logger.Named("web"))
	if err != nil {
		return errors.Wrap(err, "new web server")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Run(groupCtx, listen)
	})
	group.Go(func() error {
		return svc.store.RunPruner(groupCtx)
	})

	return group.Wait()
}

// newTokenParser returns nil when no secret is configured.
func newTokenParser(secret string) (auth.TokenParser, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, nil
	}
	tokens, err := jwt.New([]byte(secret), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new jwt")
	}
	return tokens, nil
}
