package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/triage/internal/escalation"
	"github.com/h1v3-io/triage/pkg/protocol"
)

func newEscalationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalations",
		Short: "Inspect the escalation log",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List escalated tickets in log order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadHistoryConfig(configFlag(cmd))
			if err != nil {
				return err
			}
			recs, err := escalation.ReadAll(cfg.Triage.EscalationLog)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonFlag(cmd) {
				if recs == nil {
					recs = []protocol.EscalationRecord{}
				}
				return writeJSON(out, recs)
			}
			if len(recs) == 0 {
				fmt.Fprintf(out, "No escalations in %s.\n", cfg.Triage.EscalationLog)
				return nil
			}
			for i, rec := range recs {
				fmt.Fprintf(out, "%s %s\n", labelColor.Sprintf("#%d", i+1), rec.Subject)
				fmt.Fprintf(out, "  %s %s\n", dimColor.Sprint("description:"), truncate(rec.Description, 80))
				fmt.Fprintf(out, "  %s %s\n", dimColor.Sprint("feedback:"), truncate(rec.ReviewFeedback, 80))
			}
			return nil
		},
	})
	return cmd
}
