package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/triage/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var subject, description string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Triage one ticket",
		Long: `Loads the knowledge base, then reads a ticket from --subject and
--description (prompting on stdin for whichever is missing), runs it
through the pipeline and prints the summary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFlag(cmd))
			if err != nil {
				return err
			}
			logger, _ := newLogger(cmd.ErrOrStderr(), false, logLevel(cmd, cfg))

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := readTicket(cmd.InOrStdin(), cmd.OutOrStdout(), subject, description)
			if err != nil {
				return err
			}

			run, err := a.Submit(cmd.Context(), t)
			if err != nil {
				return err
			}

			if jsonFlag(cmd) {
				return writeJSON(cmd.OutOrStdout(), run)
			}
			usage, calls := a.gen.Usage()
			printSummary(cmd.OutOrStdout(), run, usage, calls)
			return nil
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Ticket subject")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Ticket description")
	return cmd
}

// readTicket fills whichever of subject and description is empty by
// prompting on out and reading a line from in.
func readTicket(in io.Reader, out io.Writer, subject, description string) (pipeline.Ticket, error) {
	r := bufio.NewReader(in)
	var err error
	if subject == "" {
		if subject, err = prompt(r, out, "Subject: "); err != nil {
			return pipeline.Ticket{}, err
		}
	}
	if description == "" {
		if description, err = prompt(r, out, "Description: "); err != nil {
			return pipeline.Ticket{}, err
		}
	}
	return pipeline.Ticket{Subject: subject, Description: description}, nil
}

func prompt(r *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
