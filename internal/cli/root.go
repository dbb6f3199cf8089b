// Package cli implements the Limber command-line interface using Cobra.
// Each subcommand maps to one engine operation against the local store.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/limber-app/limber/internal/domain"
)

var (
	userFlag    string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "limber",
	Short: "Limber: streaks, challenges and rewards for your stretching habit",
	Long: `Limber tracks daily stretching sessions and turns them into streaks,
rotating challenges, XP levels and unlockable rewards.

Run 'limber serve' for the HTTP API, or use the commands below directly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", domain.DefaultUserID, "User id to act on")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log engine activity to stderr")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
