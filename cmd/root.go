// Package cmd command line
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/codepatch/library/config"
	"github.com/Laisky/codepatch/library/log"
)

var rootCMD = &cobra.Command{
	Use:   "codepatch",
	Short: "codepatch",
	Long:  `apply LLM-authored code changes with backups and rollback`,
	Args:  gcmd.NoExtraArgs,
}

// initialize binds flags, loads configuration and validates it.
func initialize(ctx context.Context, cmd *cobra.Command) error {
	if err := gconfig.Shared.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "bind pflags")
	}

	if err := setupSettings(ctx); err != nil {
		return errors.WithStack(err)
	}
	if err := setupLogger(ctx); err != nil {
		return errors.WithStack(err)
	}

	return validateStartupConfig()
}

func setupSettings(_ context.Context) error {
	// mode
	if gconfig.Shared.GetBool("debug") {
		fmt.Fprintln(os.Stderr, "run in debug mode")
		gconfig.Shared.Set("log-level", "debug")
	}

	return config.LoadFromFile(gconfig.Shared.GetString("config"))
}

func setupLogger(_ context.Context) error {
	lvl := gconfig.Shared.GetString("log-level")
	if err := log.Logger.ChangeLevel(glog.Level(lvl)); err != nil {
		return errors.Wrapf(err, "change log level to %q", lvl)
	}
	return nil
}

// preRun is the PreRunE shared by every subcommand.
func preRun(cmd *cobra.Command, _ []string) error {
	return initialize(cmd.Context(), cmd)
}

func init() {
	rootCMD.PersistentFlags().Bool("debug", false, "run in debug mode")
	rootCMD.PersistentFlags().String("listen", "localhost:8080", "like `localhost:8080`")
	rootCMD.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCMD.PersistentFlags().String("log-level", "info", "`debug/info/error`")
}

// Execute execute root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCMD.ExecuteContext(ctx); err != nil {
		log.Logger.Error("command failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}
