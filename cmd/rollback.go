package cmd

import (
	"strings"

	errors "github.com/Laisky/errors/v2"
	"github.com/spf13/cobra"

	"github.com/Laisky/codepatch/library/log"
)

var rollbackCMD = &cobra.Command{
	Use:     "rollback <backup-id>",
	Short:   "rollback",
	Long:    `restore a project to the state held by a backup`,
	Args:    cobra.ExactArgs(1),
	PreRunE: preRun,
	RunE: func(cmd *cobra.Command, args []string) error {
		tgt, err := openTarget(cmd.Context(), cmd, log.Logger.Named("rollback"))
		if err != nil {
			return errors.WithStack(err)
		}
		defer tgt.close()

		return printResult(cmd.OutOrStdout(), tgt.applier.Restore(cmd.Context(), strings.TrimSpace(args[0])))
	},
}

func init() {
	addTargetFlags(rollbackCMD)
	rootCMD.AddCommand(rollbackCMD)
}
