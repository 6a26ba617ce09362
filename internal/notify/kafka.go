package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka write defaults. A notification must never hold up a ticket run
// for long, so retries are few and every publish has a deadline.
const (
	DefaultKafkaWriteTimeout = 5 * time.Second
	DefaultKafkaMaxAttempts  = 3
	DefaultKafkaTimeout      = 10 * time.Second
)

// KafkaConfig holds Kafka notifier configuration. Zero durations and
// attempts take the defaults above.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration // per write attempt
	MaxAttempts  int
	Timeout      time.Duration // whole publish, retries included
}

// messageWriter is the part of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events as JSON to a topic, keyed by run ID.
type Kafka struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewKafka creates a Kafka notifier. The writer connects lazily on the
// first event.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultKafkaWriteTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultKafkaMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultKafkaTimeout
	}
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: cfg.WriteTimeout,
			MaxAttempts:  cfg.MaxAttempts,
		},
		topic:   cfg.Topic,
		timeout: cfg.Timeout,
	}, nil
}

func (k *Kafka) Name() string { return "kafka" }

// Notify publishes ev, giving up after the configured timeout.
func (k *Kafka) Notify(ctx context.Context, ev Event) error {
	if k.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Key()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
