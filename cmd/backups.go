package cmd

import (
	"fmt"
	"io"
	"time"

	errors "github.com/Laisky/errors/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/spf13/cobra"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/library/log"
)

var backupsCMD = &cobra.Command{
	Use:     "backups",
	Short:   "backups",
	Long:    `list the newest backups of a project`,
	Args:    gcmd.NoExtraArgs,
	PreRunE: preRun,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		tgt, err := openTarget(cmd.Context(), cmd, log.Logger.Named("backups"))
		if err != nil {
			return errors.WithStack(err)
		}
		defer tgt.close()

		records, err := tgt.backups.ListBackups(cmd.Context(), tgt.project, limit)
		if err != nil {
			return errors.Wrap(err, "list backups")
		}
		writeBackups(cmd.OutOrStdout(), records)
		return nil
	},
}

func init() {
	addTargetFlags(backupsCMD)
	backupsCMD.Flags().Int("limit", 20, "max backups to list")
	rootCMD.AddCommand(backupsCMD)
}

func writeBackups(out io.Writer, records []patch.BackupRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "no backups")
		return
	}
	for _, record := range records {
		fmt.Fprintf(out, "%s  %s  %3d files  %s\n",
			record.ID, record.CreatedAt.Local().Format(time.DateTime), record.FileCount, record.Reason)
	}
}
