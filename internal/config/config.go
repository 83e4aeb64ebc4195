// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New(ctx) returns a Config holding every default.
//   - Load(ctx) layers a YAML file and the environment on top of New.
//   - Validate reports problems wrapped in ErrInvalidConfig.
package config

import (
	"context"
	"runtime"
	"time"

	"github.com/okian/guardian/internal/domain/escalation"
	"github.com/okian/guardian/internal/domain/features"
	"github.com/okian/guardian/internal/domain/ingest"
	"github.com/okian/guardian/internal/domain/scoring"
)

// Config contains process configuration.
type Config struct {
	Server     ServerConfig        `koanf:"server"`
	Pipeline   PipelineConfig      `koanf:"pipeline"`
	Window     features.WindowSpec `koanf:"window"`
	Baseline   BaselineConfig      `koanf:"baseline"`
	Scoring    ScoringConfig       `koanf:"scoring"`
	Escalation escalation.Policy   `koanf:"escalation"`
	Dispatch   DispatchConfig      `koanf:"dispatch"`
	Narrative  NarrativeConfig     `koanf:"narrative"`
	Telegram   TelegramConfig      `koanf:"telegram"`
	Webhook    WebhookConfig       `koanf:"webhook"`
	Kafka      KafkaConfig         `koanf:"kafka"`
	MQTT       MQTTConfig          `koanf:"mqtt"`

	// WatchDir is scanned for dropped CSV files when set.
	WatchDir string `koanf:"watch_dir"`

	// Channels registers the expected unit per channel name.
	Channels map[string]string `koanf:"channels"`
}

// ServerConfig configures the HTTP listener and logging.
type ServerConfig struct {
	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`
	// MaxBodyBytes caps ingest request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// PipelineConfig sizes the worker pool.
type PipelineConfig struct {
	Workers       int           `koanf:"workers"`
	QueueSize     int           `koanf:"queue_size"`
	CycleInterval time.Duration `koanf:"cycle_interval"`
	SkewTolerance time.Duration `koanf:"skew_tolerance"`
	// Retention drops readings older than watermark-retention. Zero keeps all.
	Retention time.Duration `koanf:"retention"`
}

// BaselineConfig configures trailing baselines.
type BaselineConfig struct {
	Trailing   time.Duration `koanf:"trailing"`
	MinSamples int           `koanf:"min_samples"`
	// Refresh is the data-time interval between snapshot rebuilds.
	Refresh time.Duration `koanf:"refresh"`
}

// ScoringConfig configures the risk scorer.
type ScoringConfig struct {
	K                     float64            `koanf:"k"`
	LowConfidenceDiscount float64            `koanf:"low_confidence_discount"`
	Weights               map[string]float64 `koanf:"weights"`
}

// DispatchConfig configures notification retries and the key ledger.
type DispatchConfig struct {
	Attempts    int           `koanf:"attempts"`
	BaseBackoff time.Duration `koanf:"base_backoff"`
	MaxBackoff  time.Duration `koanf:"max_backoff"`
	DedupeSize  int           `koanf:"dedupe_size"`
}

// NarrativeConfig configures the optional language-model narrative.
// Narratives are disabled while APIKey is empty.
type NarrativeConfig struct {
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxInFlight int           `koanf:"max_in_flight"`
	MaxTokens   int           `koanf:"max_tokens"`
}

// Enabled reports whether narratives are configured.
func (n NarrativeConfig) Enabled() bool { return n.APIKey != "" }

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	Token   string `koanf:"token"`
	ChatID  string `koanf:"chat_id"`
	BaseURL string `koanf:"base_url"`
}

// Enabled reports whether the notifier is configured.
func (t TelegramConfig) Enabled() bool { return t.Token != "" && t.ChatID != "" }

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL     string            `koanf:"url"`
	Headers map[string]string `koanf:"headers"`
}

// KafkaConfig configures the readings consumer and the alerts producer.
// Either topic may be left empty to disable that side.
type KafkaConfig struct {
	Brokers       []string `koanf:"brokers"`
	ReadingsTopic string   `koanf:"readings_topic"`
	GroupID       string   `koanf:"group_id"`
	AlertsTopic   string   `koanf:"alerts_topic"`
}

// MQTTConfig configures the readings subscriber.
type MQTTConfig struct {
	Broker   string `koanf:"broker"`
	Topic    string `koanf:"topic"`
	ClientID string `koanf:"client_id"`
	QoS      byte   `koanf:"qos"`
}

// New creates a Config holding the defaults. Context is accepted first to
// match Load.
func New(_ context.Context) *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":9080",
			LogLevel:     "info",
			LogFormat:    "text",
			MaxBodyBytes: 16 << 20,
		},
		Pipeline: PipelineConfig{
			Workers:       runtime.NumCPU(),
			QueueSize:     1024,
			CycleInterval: time.Minute,
			SkewTolerance: 5 * time.Minute,
		},
		Window: features.WindowSpec{
			Size:       15 * time.Minute,
			Stride:     5 * time.Minute,
			MinSamples: 3,
		},
		Baseline: BaselineConfig{
			Trailing:   30 * 24 * time.Hour,
			MinSamples: 10,
			Refresh:    time.Hour,
		},
		Scoring: ScoringConfig{
			K:                     scoring.DefaultK,
			LowConfidenceDiscount: scoring.DefaultLowConfidenceDiscount,
			Weights:               scoring.DefaultWeights(),
		},
		Escalation: escalation.DefaultPolicy(),
		Dispatch: DispatchConfig{
			Attempts:    3,
			BaseBackoff: 500 * time.Millisecond,
			MaxBackoff:  5 * time.Second,
			DedupeSize:  50_000,
		},
		Narrative: NarrativeConfig{
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "llama-3.3-70b-versatile",
			Timeout:     10 * time.Second,
			MaxInFlight: 4,
			MaxTokens:   800,
		},
		Telegram: TelegramConfig{BaseURL: "https://api.telegram.org"},
		Kafka:    KafkaConfig{GroupID: "guardian"},
		MQTT:     MQTTConfig{ClientID: "guardian", QoS: 1},
		Channels: ingest.DefaultUnits(),
	}
}
