package cmd

import (
	errors "github.com/Laisky/errors/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/spf13/cobra"

	"github.com/Laisky/codepatch/library/log"
)

var migrateCMD = &cobra.Command{
	Use:     "migrate",
	Short:   "migrate",
	Long:    `migrate the project database and the learning-event log`,
	Args:    gcmd.NoExtraArgs,
	PreRunE: preRun,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.Logger.Named("migrate")
		// opening the services runs every migration
		svc, err := newServices(cmd.Context(), logger)
		if err != nil {
			return errors.WithStack(err)
		}
		svc.Close()

		logger.Info("migrations applied")
		return nil
	},
}

func init() {
	rootCMD.AddCommand(migrateCMD)
}
