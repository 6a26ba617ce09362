// Package config loads triage configuration from a YAML (or JSON) file or
// from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/h1v3-io/triage/internal/intake"
	"github.com/h1v3-io/triage/internal/provider"
	"github.com/h1v3-io/triage/pkg/protocol"
)

// DefaultProvider is the provider name the pipeline generates with.
const DefaultProvider = "default"

// Config is the top-level triage configuration.
type Config struct {
	Triage     TriageConfig              `yaml:"triage"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Embeddings EmbeddingsConfig          `yaml:"embeddings"`
	Index      IndexConfig               `yaml:"index"`
	History    HistoryConfig             `yaml:"history"`
	Notify     NotifyConfig              `yaml:"notify"`
	API        APIConfig                 `yaml:"api"`
	Digest     DigestConfig              `yaml:"digest"`
	Intake     IntakeConfig              `yaml:"intake"`
	LogLevel   string                    `yaml:"log_level"`
}

// TriageConfig holds pipeline settings.
type TriageConfig struct {
	DataDir        string   `yaml:"data_dir"`
	Categories     []string `yaml:"categories"`
	EscalationLog  string   `yaml:"escalation_log"`
	ApprovalMarker string   `yaml:"approval_marker"`
	TopK           int      `yaml:"top_k"`
	StateDir       string   `yaml:"state_dir"`
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Type        string  `yaml:"type"` // "openai" (default, also Groq) or "anthropic"
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// EmbeddingsConfig selects how corpus and queries are embedded.
type EmbeddingsConfig struct {
	Type     string `yaml:"type"`     // "hash" (default, local) or "openai"
	Provider string `yaml:"provider"` // provider entry to call when type is openai
	Model    string `yaml:"model"`
	Dims     int    `yaml:"dims"` // hash embedder only
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	Backend  string  `yaml:"backend"` // auto, bruteforce or hnsw
	M        int     `yaml:"m"`
	EfSearch int     `yaml:"ef_search"`
	Ml       float64 `yaml:"ml"`
	MinScore float64 `yaml:"min_score"`
}

// HistoryConfig selects where finished runs are stored.
type HistoryConfig struct {
	Driver string `yaml:"driver"` // sqlite (default), postgres or none
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// NotifyConfig holds escalation notifier settings. Nil sections are disabled.
type NotifyConfig struct {
	Slack    *SlackConfig    `yaml:"slack"`
	Telegram *TelegramConfig `yaml:"telegram"`
	Kafka    *KafkaConfig    `yaml:"kafka"`
}

// SlackConfig holds Slack settings.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	BotToken   string `yaml:"bot_token"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// KafkaConfig holds Kafka producer settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Key  string `yaml:"api_key"`
}

// DigestConfig schedules the escalation digest in serve mode.
type DigestConfig struct {
	Schedule  string `yaml:"schedule"` // cron expression; empty disables
	SkipEmpty bool   `yaml:"skip_empty"`
}

// IntakeConfig enables webhook ticket intake in serve mode, one entry per
// sending system.
type IntakeConfig struct {
	Sources map[string]intake.Source `yaml:"sources"`
}

// Load reads configuration from a YAML or JSON file and validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read parses a config file and applies defaults without validating.
// ${VAR} references are expanded from the environment before parsing.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadFromEnv builds a config from TRIAGE_* variables and the usual
// provider API key variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Triage: TriageConfig{
			DataDir:        os.Getenv("TRIAGE_DATA_DIR"),
			EscalationLog:  os.Getenv("TRIAGE_ESCALATION_LOG"),
			ApprovalMarker: os.Getenv("TRIAGE_APPROVAL_MARKER"),
			TopK:           getenvInt("TRIAGE_TOP_K", 0),
			StateDir:       os.Getenv("TRIAGE_STATE_DIR"),
		},
		Providers: make(map[string]ProviderConfig),
		Embeddings: EmbeddingsConfig{
			Type:  os.Getenv("TRIAGE_EMBEDDINGS"),
			Model: os.Getenv("TRIAGE_EMBEDDING_MODEL"),
		},
		Index: IndexConfig{
			Backend: os.Getenv("TRIAGE_INDEX_BACKEND"),
		},
		History: HistoryConfig{
			Driver: os.Getenv("TRIAGE_HISTORY_DRIVER"),
			Path:   os.Getenv("TRIAGE_HISTORY_PATH"),
			DSN:    os.Getenv("TRIAGE_HISTORY_DSN"),
		},
		API: APIConfig{
			Host: os.Getenv("TRIAGE_API_HOST"),
			Port: getenvInt("TRIAGE_API_PORT", 0),
			Key:  os.Getenv("TRIAGE_API_KEY"),
		},
		Digest: DigestConfig{
			Schedule: os.Getenv("TRIAGE_DIGEST_SCHEDULE"),
		},
		LogLevel: os.Getenv("TRIAGE_LOG_LEVEL"),
	}
	if cats := os.Getenv("TRIAGE_CATEGORIES"); cats != "" {
		cfg.Triage.Categories = splitList(cats)
	}

	// Default provider from env
	model := os.Getenv("TRIAGE_MODEL")
	if apiKey := os.Getenv("GROQ_API_KEY"); apiKey != "" {
		cfg.Providers[DefaultProvider] = ProviderConfig{
			Type:    provider.TypeOpenAI,
			APIKey:  apiKey,
			BaseURL: getenv("TRIAGE_BASE_URL", provider.GroqBaseURL),
			Model:   model,
		}
	} else if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.Providers[DefaultProvider] = ProviderConfig{
			Type:    provider.TypeOpenAI,
			APIKey:  apiKey,
			BaseURL: getenv("TRIAGE_BASE_URL", "https://api.openai.com/v1"),
			Model:   getenv("TRIAGE_MODEL", "gpt-4o-mini"),
		}
	} else if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.Providers[DefaultProvider] = ProviderConfig{
			Type:    provider.TypeAnthropic,
			APIKey:  apiKey,
			BaseURL: os.Getenv("TRIAGE_BASE_URL"),
			Model:   getenv("TRIAGE_MODEL", "claude-sonnet-4-20250514"),
		}
	}

	// Notifiers from env
	if url := os.Getenv("TRIAGE_SLACK_WEBHOOK_URL"); url != "" {
		cfg.Notify.Slack = &SlackConfig{WebhookURL: url, Channel: os.Getenv("TRIAGE_SLACK_CHANNEL")}
	}
	if token := os.Getenv("TRIAGE_TELEGRAM_TOKEN"); token != "" {
		chatID, err := strconv.ParseInt(os.Getenv("TRIAGE_TELEGRAM_CHAT_ID"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: TRIAGE_TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Notify.Telegram = &TelegramConfig{Token: token, ChatID: chatID}
	}
	if brokers := os.Getenv("TRIAGE_KAFKA_BROKERS"); brokers != "" {
		cfg.Notify.Kafka = &KafkaConfig{
			Brokers: splitList(brokers),
			Topic:   getenv("TRIAGE_KAFKA_TOPIC", "triage.escalations"),
		}
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Triage.DataDir == "" {
		c.Triage.DataDir = "data"
	}
	if len(c.Triage.Categories) == 0 {
		c.Triage.Categories = append([]string(nil), protocol.DefaultCategories...)
	}
	if c.Triage.EscalationLog == "" {
		c.Triage.EscalationLog = "escalation_log.csv"
	}
	if c.Triage.ApprovalMarker == "" {
		c.Triage.ApprovalMarker = "Approved"
	}
	if c.Triage.TopK == 0 {
		c.Triage.TopK = 4
	}
	if c.Triage.StateDir == "" {
		c.Triage.StateDir = ".triage"
	}

	for name, p := range c.Providers {
		if p.Type == "" {
			p.Type = provider.TypeOpenAI
		}
		if p.Type == provider.TypeOpenAI && p.BaseURL == "" {
			p.BaseURL = provider.GroqBaseURL
		}
		if p.Type == provider.TypeOpenAI && p.Model == "" && p.BaseURL == provider.GroqBaseURL {
			p.Model = "llama3-8b-8192"
		}
		c.Providers[name] = p
	}

	if c.Embeddings.Type == "" {
		c.Embeddings.Type = "hash"
	}
	if c.Embeddings.Type == "openai" && c.Embeddings.Provider == "" {
		c.Embeddings.Provider = DefaultProvider
	}
	if c.Index.Backend == "" {
		c.Index.Backend = "auto"
	}
	if c.History.Driver == "" {
		c.History.Driver = "sqlite"
	}
	if c.History.Driver == "sqlite" && c.History.Path == "" {
		c.History.Path = filepath.Join(c.Triage.StateDir, "history.db")
	}
	if c.API.Host == "" {
		c.API.Host = "127.0.0.1"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the whole config and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Triage.DataDir == "" {
		errs = append(errs, "triage.data_dir is required")
	}
	if c.Triage.EscalationLog == "" {
		errs = append(errs, "triage.escalation_log is required")
	}
	if c.Triage.TopK < 1 {
		errs = append(errs, "triage.top_k must be at least 1")
	}
	seen := make(map[string]bool)
	for i, cat := range c.Triage.Categories {
		switch {
		case cat == "" || cat != strings.ToLower(strings.TrimSpace(cat)):
			errs = append(errs, fmt.Sprintf("triage.categories[%d] must be a lower-case name, got %q", i, cat))
		case seen[cat]:
			errs = append(errs, fmt.Sprintf("triage.categories[%d] duplicates %q", i, cat))
		}
		seen[cat] = true
	}

	if _, ok := c.Providers[DefaultProvider]; !ok {
		errs = append(errs, "providers.default is required (or set GROQ_API_KEY)")
	}
	for name, p := range c.Providers {
		if p.Type != provider.TypeOpenAI && p.Type != provider.TypeAnthropic {
			errs = append(errs, fmt.Sprintf("providers.%s.type must be openai or anthropic, got %q", name, p.Type))
		}
		if p.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.api_key is required", name))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.model is required", name))
		}
	}

	switch c.Embeddings.Type {
	case "hash":
	case "openai":
		if p, ok := c.Providers[c.Embeddings.Provider]; !ok || p.Type != provider.TypeOpenAI {
			errs = append(errs, fmt.Sprintf("embeddings.provider %q must name an openai provider", c.Embeddings.Provider))
		}
	default:
		errs = append(errs, fmt.Sprintf("embeddings.type must be hash or openai, got %q", c.Embeddings.Type))
	}

	switch c.Index.Backend {
	case "auto", "bruteforce", "hnsw":
	default:
		errs = append(errs, fmt.Sprintf("index.backend must be auto, bruteforce or hnsw, got %q", c.Index.Backend))
	}

	switch c.History.Driver {
	case "sqlite":
		if c.History.Path == "" {
			errs = append(errs, "history.path is required for sqlite")
		}
	case "postgres":
		if c.History.DSN == "" {
			errs = append(errs, "history.dsn is required for postgres")
		}
	case "none":
	default:
		errs = append(errs, fmt.Sprintf("history.driver must be sqlite, postgres or none, got %q", c.History.Driver))
	}

	if s := c.Notify.Slack; s != nil && s.WebhookURL == "" && (s.BotToken == "" || s.Channel == "") {
		errs = append(errs, "notify.slack needs webhook_url or bot_token with channel")
	}
	if tg := c.Notify.Telegram; tg != nil {
		if tg.Token == "" {
			errs = append(errs, "notify.telegram.token is required")
		}
		if tg.ChatID == 0 {
			errs = append(errs, "notify.telegram.chat_id is required")
		}
	}
	if k := c.Notify.Kafka; k != nil {
		if len(k.Brokers) == 0 {
			errs = append(errs, "notify.kafka.brokers is required")
		}
		if k.Topic == "" {
			errs = append(errs, "notify.kafka.topic is required")
		}
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port out of range: %d", c.API.Port))
	}
	for name, src := range c.Intake.Sources {
		if src.Secret != "" && src.BearerToken != "" {
			errs = append(errs, fmt.Sprintf("intake.sources.%s: set secret or bearer_token, not both", name))
		}
	}
	if c.Digest.Schedule != "" {
		if _, err := cron.ParseStandard(c.Digest.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("digest.schedule: %v", err))
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Addr returns the API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
