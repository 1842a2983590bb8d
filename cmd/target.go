package cmd

import (
	"context"
	"path/filepath"
	"strings"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/spf13/cobra"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/applicator"
	"github.com/Laisky/codepatch/internal/patch/fsstore"
	"github.com/Laisky/codepatch/internal/patch/store"
)

// target is the project a CLI command works on: either a local directory
// or a project in the configured database.
type target struct {
	project string
	files   applicator.FileStore
	backups interface {
		ListBackups(ctx context.Context, projectID string, limit int) ([]patch.BackupRecord, error)
	}
	applier *applicator.Applicator
	close   func()
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().String("dir", "", "local project directory")
	cmd.Flags().String("project", "", "project id in the configured database")
}

// openTarget resolves --dir or --project. Exactly one must be set.
func openTarget(ctx context.Context, cmd *cobra.Command, logger logSDK.Logger) (*target, error) {
	dir, _ := cmd.Flags().GetString("dir")
	project, _ := cmd.Flags().GetString("project")
	dir, project = strings.TrimSpace(dir), strings.TrimSpace(project)

	switch {
	case dir != "" && project != "":
		return nil, errors.New("--dir and --project are mutually exclusive")
	case dir != "":
		local, err := fsstore.New(dir, store.LoadSettingsFromConfig().LockTimeout, logger.Named("fsstore"))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		app, err := applicator.New(local, local, nil, applicator.LoadSettingsFromConfig(), logger.Named("applicator"), nil)
		if err != nil {
			return nil, errors.Wrap(err, "new applicator")
		}
		return &target{
			project: filepath.Base(local.Root()),
			files:   local,
			backups: local,
			applier: app,
			close:   func() {},
		}, nil
	case project != "":
		svc, err := newServices(ctx, logger)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return &target{
			project: project,
			files:   svc.store,
			backups: svc.store,
			applier: svc.applier,
			close:   svc.Close,
		}, nil
	default:
		return nil, errors.New("one of --dir or --project is required")
	}
}
