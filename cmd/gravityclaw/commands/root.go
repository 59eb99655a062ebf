// Package commands implements the Gravity Claw CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gravityclaw",
		Short: "Gravity Claw - personal autonomous agent",
		Long: `Gravity Claw is a personal agent reachable over Telegram. It talks by
text and voice, remembers facts and past conversations, runs tools and
keeps a task board shared with its dashboard.

Examples:
  gravityclaw setup
  gravityclaw serve
  gravityclaw chat
  gravityclaw tasks list
  gravityclaw keys set GOOGLE_API_KEY`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSetupCmd(),
		newKeysCmd(),
		newFactsCmd(),
		newTasksCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
