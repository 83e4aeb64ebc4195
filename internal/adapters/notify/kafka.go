package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/okian/guardian/internal/domain/model"
)

// messageWriter is the part of *kafka.Writer the notifier needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes notifications to a topic keyed by machine id.
type Kafka struct {
	writer messageWriter
}

// NewKafka creates a notifier writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

// NewKafkaWithWriter wraps an existing writer.
func NewKafkaWithWriter(w messageWriter) *Kafka { return &Kafka{writer: w} }

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Notify(ctx context.Context, n model.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return Permanent(err)
	}
	msg := kafka.Message{
		Key:   []byte(n.MachineID),
		Value: value,
		Time:  n.Timestamp,
		Headers: []kafka.Header{
			{Key: "notification-key", Value: []byte(n.Key)},
			{Key: "kind", Value: []byte(n.Kind)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.writer.Close() }
