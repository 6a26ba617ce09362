package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/triage/internal/config"
	"github.com/h1v3-io/triage/internal/history"
	"github.com/h1v3-io/triage/pkg/protocol"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse past triage runs",
	}
	cmd.AddCommand(newHistoryListCmd(), newHistoryShowCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	var filter history.Filter
	var outcome string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Outcome = protocol.Outcome(outcome)
			if outcome != "" && !filter.Outcome.Valid() {
				return fmt.Errorf("--outcome must be approved or escalated, got %q", outcome)
			}
			return withStore(cmd, func(ctx context.Context, store history.Store) error {
				runs, err := store.List(ctx, filter)
				if err != nil {
					return err
				}
				if jsonFlag(cmd) {
					if runs == nil {
						runs = []*protocol.Run{}
					}
					return writeJSON(cmd.OutOrStdout(), runs)
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
					return nil
				}
				for _, run := range runs {
					printRunLine(cmd.OutOrStdout(), run)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&outcome, "outcome", "", "Filter by outcome (approved, escalated)")
	cmd.Flags().StringVar(&filter.Category, "category", "", "Filter by category")
	cmd.Flags().StringVarP(&filter.Query, "query", "q", "", "Search subject and description")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "Maximum runs to list (0 = all)")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store history.Store) error {
				run, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonFlag(cmd) {
					return writeJSON(cmd.OutOrStdout(), run)
				}
				printSummary(cmd.OutOrStdout(), run, protocol.Usage{}, 0)
				fmt.Fprintln(cmd.OutOrStdout())
				for _, tr := range run.Trace {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s -> %s  (attempts %d)\n", tr.From, tr.To, tr.Attempts)
				}
				return nil
			})
		},
	}
}

// withStore opens the configured history store for the duration of fn.
// It does not need a provider or a corpus.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store history.Store) error) error {
	cfg, err := loadHistoryConfig(configFlag(cmd))
	if err != nil {
		return err
	}
	if cfg.History.Driver == "none" {
		return fmt.Errorf("history is disabled (history.driver: none)")
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cmd.Context(), store)
}

// loadHistoryConfig loads config without validating it: read-only
// commands never call a provider, so none needs to be configured.
func loadHistoryConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Read(path)
	}
	return config.LoadFromEnv()
}
