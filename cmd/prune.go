package cmd

import (
	"fmt"

	errors "github.com/Laisky/errors/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/spf13/cobra"

	"github.com/Laisky/codepatch/library/log"
)

var pruneCMD = &cobra.Command{
	Use:     "prune",
	Short:   "prune",
	Long:    `run one backup retention pass, archiving pruned backups when the archive is enabled`,
	Args:    gcmd.NoExtraArgs,
	PreRunE: preRun,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newServices(cmd.Context(), log.Logger.Named("prune"))
		if err != nil {
			return errors.WithStack(err)
		}
		defer svc.Close()

		result, err := svc.store.PruneBackups(cmd.Context())
		if err != nil {
			return errors.Wrap(err, "prune backups")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d backups, archived %d\n", result.Deleted, result.Archived)
		return nil
	},
}

func init() {
	rootCMD.AddCommand(pruneCMD)
}
