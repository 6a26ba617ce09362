package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/h1v3-io/triage/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate <path>",
			Short: "Check a config file and report every problem",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := config.Load(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets redacted",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadHistoryConfig(configFlag(cmd))
				if err != nil {
					return err
				}
				redact(cfg)
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(cfg)
			},
		},
	)
	return cmd
}

const redacted = "<redacted>"

func redact(cfg *config.Config) {
	for name, p := range cfg.Providers {
		if p.APIKey != "" {
			p.APIKey = redacted
		}
		cfg.Providers[name] = p
	}
	if cfg.API.Key != "" {
		cfg.API.Key = redacted
	}
	if s := cfg.Notify.Slack; s != nil {
		if s.WebhookURL != "" {
			s.WebhookURL = redacted
		}
		if s.BotToken != "" {
			s.BotToken = redacted
		}
	}
	if tg := cfg.Notify.Telegram; tg != nil && tg.Token != "" {
		tg.Token = redacted
	}
	if cfg.History.DSN != "" {
		cfg.History.DSN = redacted
	}
	for name, src := range cfg.Intake.Sources {
		if src.Secret != "" {
			src.Secret = redacted
		}
		if src.BearerToken != "" {
			src.BearerToken = redacted
		}
		cfg.Intake.Sources[name] = src
	}
}
