package cmd

import (
	"fmt"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/spf13/cobra"

	"github.com/Laisky/codepatch/internal/web"
	"github.com/Laisky/codepatch/library/jwt"
)

var tokenCMD = &cobra.Command{
	Use:     "token <user-id>",
	Short:   "token",
	Long:    `issue a bearer token for the HTTP API and the MCP endpoint`,
	Args:    cobra.ExactArgs(1),
	PreRunE: preRun,
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		username, _ := cmd.Flags().GetString("username")

		tokens, err := jwt.New([]byte(web.LoadSettingsFromConfig().JWTSecret), nil)
		if err != nil {
			return errors.Wrap(err, "settings.web.jwt_secret")
		}
		token, err := tokens.Sign(args[0], username, ttl)
		if err != nil {
			return errors.WithStack(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCMD.Flags().Duration("ttl", 30*24*time.Hour, "token lifetime")
	tokenCMD.Flags().String("username", "", "display name stored in the token")
	rootCMD.AddCommand(tokenCMD)
}
