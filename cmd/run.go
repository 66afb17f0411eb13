package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/sudoflux/fluxbot/fluxbot"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the FluxBot discord bot",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := fluxbot.New(cfg)
		if err != nil {
			log.Fatalf("error creating fluxbot: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running fluxbot: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
