package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/h1v3-io/triage/internal/config"
	"github.com/h1v3-io/triage/internal/escalation"
	"github.com/h1v3-io/triage/internal/history"
	"github.com/h1v3-io/triage/internal/knowledge"
	"github.com/h1v3-io/triage/internal/logbuf"
	"github.com/h1v3-io/triage/internal/notify"
	"github.com/h1v3-io/triage/internal/pipeline"
	"github.com/h1v3-io/triage/internal/provider"
	"github.com/h1v3-io/triage/pkg/protocol"
)

// app is the wired triage runtime shared by the run and serve commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	gen       *provider.Generator
	index     *knowledge.Index
	csv       *escalation.CSVLog
	store     history.Store // nil when history.driver is none
	notifiers []notify.Notifier
	pipe      *pipeline.Pipeline

	// mu serializes runs: one ticket in flight, one CSV writer.
	mu sync.Mutex
}

// loadConfig reads --config when given, otherwise the environment.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger: text or JSON on w, teed into a
// ring buffer the API serves.
func newLogger(w io.Writer, asJSON bool, level slog.Level) (*slog.Logger, *logbuf.Buffer) {
	buf := logbuf.New(2000)
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if asJSON {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(logbuf.NewHandler(inner, buf)), buf
}

// newApp wires every component. The corpus is loaded and indexed first so
// a missing knowledge base fails before anything else is opened.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	providers := buildProviders(cfg, logger)
	def, ok := providers[config.DefaultProvider]
	if !ok {
		return nil, fmt.Errorf("no %q provider configured", config.DefaultProvider)
	}

	emb, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	index, err := buildIndex(ctx, cfg, emb, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		index:  index,
		csv:    escalation.NewCSVLog(cfg.Triage.EscalationLog),
	}

	pcfg := cfg.Providers[config.DefaultProvider]
	a.gen = provider.NewGenerator(def)
	a.gen.MaxTokens = pcfg.MaxTokens
	a.gen.Temperature = pcfg.Temperature

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.notifiers, err = buildNotifiers(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	sink := escalation.NewDispatcher(a.csv, a.notifiers, logger.With("component", "escalation"))
	a.pipe = pipeline.New(a.gen, index, sink,
		pipeline.WithLogger(logger.With("component", "pipeline")),
		pipeline.WithApprovalMarker(cfg.Triage.ApprovalMarker),
	)
	return a, nil
}

func buildProviders(cfg *config.Config, logger *slog.Logger) map[string]provider.Provider {
	providers := make(map[string]provider.Provider)
	for name, pcfg := range cfg.Providers {
		switch pcfg.Type {
		case provider.TypeAnthropic:
			var opts []provider.AnthropicOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithAnthropicBaseURL(pcfg.BaseURL))
			}
			if pcfg.Model != "" {
				opts = append(opts, provider.WithAnthropicModel(pcfg.Model))
			}
			providers[name] = provider.NewAnthropic(pcfg.APIKey, opts...)
		default: // "openai" or empty
			providers[name] = newOpenAI(pcfg, "")
		}
		logger.Debug("provider initialized", "name", name, "type", pcfg.Type, "model", pcfg.Model)
	}
	return providers
}

func newOpenAI(pcfg config.ProviderConfig, embeddingModel string) *provider.OpenAIProvider {
	var opts []provider.OpenAIOption
	if pcfg.BaseURL != "" {
		opts = append(opts, provider.WithBaseURL(pcfg.BaseURL))
	}
	if pcfg.Model != "" {
		opts = append(opts, provider.WithModel(pcfg.Model))
	}
	if embeddingModel != "" {
		opts = append(opts, provider.WithEmbeddingModel(embeddingModel))
	}
	return provider.NewOpenAI(pcfg.APIKey, opts...)
}

func buildEmbedder(cfg *config.Config) (knowledge.Embedder, error) {
	switch cfg.Embeddings.Type {
	case "openai":
		pcfg, ok := cfg.Providers[cfg.Embeddings.Provider]
		if !ok || pcfg.Type != provider.TypeOpenAI {
			return nil, fmt.Errorf("embeddings: provider %q is not an openai provider", cfg.Embeddings.Provider)
		}
		return newOpenAI(pcfg, cfg.Embeddings.Model), nil
	default:
		return knowledge.HashEmbedder{Dims: cfg.Embeddings.Dims}, nil
	}
}

func buildIndex(ctx context.Context, cfg *config.Config, emb knowledge.Embedder, logger *slog.Logger) (*knowledge.Index, error) {
	docs, err := knowledge.LoadCorpus(cfg.Triage.DataDir, cfg.Triage.Categories)
	if err != nil {
		return nil, err
	}
	return knowledge.Build(ctx, docs, emb, knowledge.Options{
		TopK:    cfg.Triage.TopK,
		Backend: cfg.Index.Backend,
		HNSW: knowledge.HNSWConfig{
			M:        cfg.Index.M,
			EfSearch: cfg.Index.EfSearch,
			Ml:       cfg.Index.Ml,
		},
		MinScore: cfg.Index.MinScore,
		Logger:   logger.With("component", "knowledge"),
	})
}

func openStore(ctx context.Context, cfg *config.Config) (history.Store, error) {
	switch cfg.History.Driver {
	case "none":
		return nil, nil
	case "postgres":
		s, err := history.NewPostgresStore(ctx, cfg.History.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0o755); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		s, err := history.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func buildNotifiers(cfg *config.Config, logger *slog.Logger) ([]notify.Notifier, error) {
	var ns []notify.Notifier
	if c := cfg.Notify.Slack; c != nil {
		s, err := notify.NewSlack(notify.SlackConfig{
			WebhookURL: c.WebhookURL,
			BotToken:   c.BotToken,
			Channel:    c.Channel,
			Username:   c.Username,
		})
		if err != nil {
			return nil, err
		}
		ns = append(ns, s)
	}
	if c := cfg.Notify.Telegram; c != nil {
		tg, err := notify.NewTelegram(notify.TelegramConfig{Token: c.Token, ChatID: c.ChatID}, logger.With("notifier", "telegram"))
		if err != nil {
			return nil, err
		}
		ns = append(ns, tg)
	}
	if c := cfg.Notify.Kafka; c != nil {
		k, err := notify.NewKafka(notify.KafkaConfig{Brokers: c.Brokers, Topic: c.Topic})
		if err != nil {
			return nil, err
		}
		ns = append(ns, k)
	}
	return ns, nil
}

// Submit runs one ticket and records it in history. A history write
// failure is logged but does not fail the run: the outcome, including any
// escalation row, has already taken effect.
func (a *app) Submit(ctx context.Context, t pipeline.Ticket) (*protocol.Run, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx = pipeline.WithRunID(ctx, uuid.NewString())
	res, err := a.pipe.Run(ctx, t)
	if err != nil {
		return nil, err
	}
	run := res.Record()
	if a.store != nil {
		if err := a.store.Save(ctx, run); err != nil {
			a.logger.Error("failed to record run", logbuf.RunKey, run.ID, "error", err)
		}
	}
	return run, nil
}

func (a *app) ListRuns(ctx context.Context, f history.Filter) ([]*protocol.Run, error) {
	if a.store == nil {
		return nil, nil
	}
	return a.store.List(ctx, f)
}

func (a *app) GetRun(ctx context.Context, id string) (*protocol.Run, error) {
	if a.store == nil {
		return nil, history.ErrNotFound
	}
	return a.store.Get(ctx, id)
}

func (a *app) Escalations(context.Context) ([]protocol.EscalationRecord, error) {
	return escalation.ReadAll(a.csv.Path())
}

// Close releases the history store and any notifier holding a connection.
func (a *app) Close() error {
	var errs []string
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	for _, n := range a.notifiers {
		if c, ok := n.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close: %s", strings.Join(errs, "; "))
	}
	return nil
}
