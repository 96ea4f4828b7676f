// Command scorectl is the operator tool for the score verifier: offline
// replays, season setup, seed issuance and one-shot snapshots.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	databaseURL := os.Getenv("DATABASE_URL")

	root := &cobra.Command{
		Use:          "scorectl",
		Short:        "Score verifier operator CLI",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&databaseURL, "database-url", databaseURL, "PostgreSQL URL (defaults to $DATABASE_URL)")

	root.AddCommand(
		newEngineCmd(),
		newReplayCmd(),
		newSeasonCmd(&databaseURL),
		newIssueSeedCmd(&databaseURL),
		newSnapshotCmd(&databaseURL),
	)
	return root
}
