package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires the subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	apiFlags := &APIFlags{}
	historyFlags := &HistoryFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags),
		createStatusCommand(apiFlags),
		createHealthCommand(apiFlags),
		createHistoryCommand(apiFlags, historyFlags),
		createStopCommand(apiFlags),
		createRestartCommand(apiFlags),
		createVersionCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "sidewatch",
		Short: "Supervisor for a single local backend service",
		Long: `Sidewatch supervises one long-running local backend: it spawns the
process, waits for it to report healthy, keeps polling its health
endpoint, restarts it after crashes, and shuts it down gracefully.

Examples:
  sidewatch run --config=sidewatch.toml
  sidewatch run --binary=./backend --port=8000
  sidewatch status
  sidewatch stop`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	return root
}
