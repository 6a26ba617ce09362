package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/h1v3-io/triage/pkg/protocol"
)

var (
	labelColor = color.New(color.Bold)
	dimColor   = color.New(color.FgHiBlack)
)

func outcomeBadge(o protocol.Outcome) string {
	switch o {
	case protocol.OutcomeApproved:
		return color.New(color.FgHiGreen).Sprint("APPROVED")
	case protocol.OutcomeEscalated:
		return color.New(color.FgRed).Sprint("ESCALATED")
	default:
		return color.New(color.FgWhite).Sprint(strings.ToUpper(string(o)))
	}
}

// printSummary writes the end-of-run report for one ticket.
func printSummary(w io.Writer, run *protocol.Run, usage protocol.Usage, calls int) {
	fmt.Fprintf(w, "\n%s %s\n", labelColor.Sprint("Ticket Summary"), outcomeBadge(run.Outcome))
	fmt.Fprintf(w, "%s %s\n", labelColor.Sprint("Subject:"), run.Subject)
	fmt.Fprintf(w, "%s %s\n", labelColor.Sprint("Category:"), run.Category)
	fmt.Fprintf(w, "\n%s\n%s\n", labelColor.Sprint("Support Reply:"), orNone(run.Draft, "No reply generated."))
	fmt.Fprintf(w, "\n%s %s\n", labelColor.Sprint("Feedback:"), orNone(run.ReviewFeedback, "No feedback."))
	fmt.Fprintf(w, "\n%s %d\n", labelColor.Sprint("Attempts:"), run.Attempts)
	if run.Escalated() {
		fmt.Fprintln(w, color.New(color.FgYellow).Sprint("Ticket escalated to a human agent."))
	}
	fmt.Fprintln(w, dimColor.Sprintf("run %s  %s  %d LLM calls, %d tokens",
		run.ID, run.Duration().Round(time.Millisecond), calls, usage.TotalTokens()))
}

// printRunLine writes one run as a single list row.
func printRunLine(w io.Writer, run *protocol.Run) {
	fmt.Fprintf(w, "%s  %-9s  %-9s  %d  %s\n",
		dimColor.Sprint(run.ID),
		outcomeBadge(run.Outcome),
		run.Category,
		run.Attempts,
		truncate(run.Subject, 60),
	)
}

func orNone(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
