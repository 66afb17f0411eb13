package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sudoflux/fluxbot/fluxbot"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			fluxbot.Version,
			fluxbot.CommitSHA,
			fluxbot.BuildTime,
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
