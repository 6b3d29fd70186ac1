package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// defaultConfigPath is the --config default shared by every subcommand.
const defaultConfigPath = "darkroom.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dr",
		Short: "Darkroom: AI product image generation backend",
		Long:  "Darkroom stores image generation tasks, keeps them consistent across web and Feishu edits, and serves the HTTP API.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newConversationCmd())
	cmd.AddCommand(newSyncCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dr %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	// A missing .env is fine; config files reference ${VARS} either way.
	_ = godotenv.Load()
	os.Exit(execute(newRootCmd()))
}
