package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/triage/internal/api"
	"github.com/h1v3-io/triage/internal/intake"
	"github.com/h1v3-io/triage/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the triage HTTP API",
		Long: `Builds the knowledge base once and serves ticket submission, history,
escalations and logs over HTTP. When digest.schedule is set, an
escalation digest is sent to every notifier on that schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFlag(cmd))
			if err != nil {
				return err
			}
			logger, logs := newLogger(cmd.OutOrStdout(), true, logLevel(cmd, cfg))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.Digest.Schedule != "" {
				if a.store == nil {
					logger.Warn("digest disabled: history.driver is none")
				} else {
					sched := scheduler.New(logger.With("component", "scheduler"))
					digest := scheduler.NewDigest(a.store, a.notifiers, logger.With("component", "digest"))
					digest.SkipEmpty = cfg.Digest.SkipEmpty
					if err := digest.Register(sched, cfg.Digest.Schedule); err != nil {
						return fmt.Errorf("digest: %w", err)
					}
					go safeGo(ctx, logger, "scheduler", func(ctx context.Context) { sched.Start(ctx) })
				}
			}

			srv := api.NewServer(a, api.Config{
				Host: cfg.API.Host,
				Port: cfg.API.Port,
				Key:  cfg.API.Key,
			}, logger.With("component", "api"), logs)

			if len(cfg.Intake.Sources) > 0 {
				srv.Handle("POST /api/webhook/{source}",
					intake.New(cfg.Intake.Sources, a.Submit, logger.With("component", "intake")))
			}

			logger.Info("triage serving",
				"addr", cfg.Addr(),
				"documents", a.index.Len(),
				"index", a.index.Backend(),
				"notifiers", len(a.notifiers),
				"webhook_sources", len(cfg.Intake.Sources),
			)
			err = srv.Start(ctx)
			logger.Info("triage stopped")
			return err
		},
	}
}

// safeGo runs fn with panic recovery.
func safeGo(ctx context.Context, logger *slog.Logger, name string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn(ctx)
}
