package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/triage/internal/config"
	"github.com/h1v3-io/triage/internal/logbuf"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "triage",
		Short: "Support ticket triage pipeline",
		Long: `triage classifies support tickets, retrieves matching knowledge-base
documents, drafts a reply with an LLM and has it reviewed. Tickets whose
draft is rejected twice are appended to the escalation log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML or JSON config file (default: environment)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newServeCmd(),
		newHistoryCmd(),
		newEscalationsCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonFlag(cmd) {
				writeJSON(cmd.OutOrStdout(), map[string]string{"version": version})
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "triage version %s\n", version)
		},
	}
}

func configFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

func jsonFlag(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

// logLevel is debug under -v, otherwise the configured level.
func logLevel(cmd *cobra.Command, cfg *config.Config) slog.Level {
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		return slog.LevelDebug
	}
	return logbuf.ParseLevel(cfg.LogLevel)
}
