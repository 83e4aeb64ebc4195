package config

import (
	"fmt"
	"strings"

	"github.com/okian/guardian/internal/domain/scoring"
)

// Validate checks the settings that would otherwise fail deep inside the
// pipeline.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		return invalid("server.addr must not be empty")
	}
	switch strings.ToLower(c.Server.LogFormat) {
	case "", "text", "json":
	default:
		return invalid("server.log_format %q is not text or json", c.Server.LogFormat)
	}
	if c.Pipeline.Workers <= 0 {
		return invalid("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueSize <= 0 {
		return invalid("pipeline.queue_size must be positive, got %d", c.Pipeline.QueueSize)
	}
	if c.Pipeline.CycleInterval <= 0 {
		return invalid("pipeline.cycle_interval must be positive")
	}
	if c.Pipeline.SkewTolerance < 0 {
		return invalid("pipeline.skew_tolerance must not be negative")
	}
	if err := c.Window.Validate(); err != nil {
		return fmt.Errorf("%w: window: %w", ErrInvalidConfig, err)
	}
	if c.Baseline.Trailing <= 0 {
		return invalid("baseline.trailing must be positive")
	}
	if c.Baseline.MinSamples < 2 {
		return invalid("baseline.min_samples must be at least 2, got %d", c.Baseline.MinSamples)
	}
	if c.Baseline.Refresh <= 0 {
		return invalid("baseline.refresh must be positive")
	}
	if c.Scoring.K <= 0 {
		return invalid("scoring.k must be positive")
	}
	if c.Scoring.LowConfidenceDiscount < 0 || c.Scoring.LowConfidenceDiscount > 1 {
		return invalid("scoring.low_confidence_discount must be within [0,1]")
	}
	if err := scoring.ValidateWeights(c.Scoring.Weights); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Escalation.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Dispatch.Attempts < 1 {
		return invalid("dispatch.attempts must be at least 1")
	}
	if c.Dispatch.BaseBackoff <= 0 || c.Dispatch.MaxBackoff < c.Dispatch.BaseBackoff {
		return invalid("dispatch backoff must satisfy 0 < base_backoff <= max_backoff")
	}
	if c.Dispatch.DedupeSize <= 0 {
		return invalid("dispatch.dedupe_size must be positive")
	}
	if c.Narrative.Enabled() && (c.Narrative.Timeout <= 0 || c.Narrative.MaxInFlight <= 0) {
		return invalid("narrative timeout and max_in_flight must be positive")
	}
	if c.Kafka.ReadingsTopic != "" || c.Kafka.AlertsTopic != "" {
		if len(c.Kafka.Brokers) == 0 {
			return invalid("kafka.brokers is required when a kafka topic is set")
		}
	}
	if c.MQTT.Topic != "" && c.MQTT.Broker == "" {
		return invalid("mqtt.broker is required when mqtt.topic is set")
	}
	if c.MQTT.QoS > 2 {
		return invalid("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}
