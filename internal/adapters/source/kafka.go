package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/okian/guardian/pkg/logger"
	"github.com/okian/guardian/pkg/metrics"
)

// messageReader is the part of *kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig selects the readings topic.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
}

// KafkaConsumer reads JSON readings from a topic into a Batcher.
type KafkaConsumer struct {
	reader  messageReader
	batcher *Batcher
	poll    time.Duration
	log     logger.Logger
}

// NewKafkaConsumer validates cfg and creates a consumer-group reader.
func NewKafkaConsumer(cfg KafkaConfig, batcher *Batcher) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka: readings topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka: consumer group must not be empty")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	return newKafkaConsumer(reader, batcher, cfg.PollTimeout), nil
}

func newKafkaConsumer(r messageReader, b *Batcher, poll time.Duration) *KafkaConsumer {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &KafkaConsumer{reader: r, batcher: b, poll: poll, log: logger.Named("source.kafka")}
}

// Run consumes until ctx ends or the reader is closed.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.log.Info(ctx, "kafka consumer started")
	defer c.log.Info(ctx, "kafka consumer stopped")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fetchCtx, cancel := context.WithTimeout(ctx, c.poll)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				c.batcher.Flush(ctx)
				continue
			case errors.Is(err, context.Canceled):
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, kafka.ErrGroupClosed):
				return nil
			}
			c.log.Error(ctx, "kafka fetch failed", logger.Error(err))
			continue
		}

		recs, err := DecodePayload(msg.Value)
		if err != nil {
			metrics.RecordReadingRejected("undecodable")
			c.log.Warn(ctx, "kafka message dropped",
				logger.Int64("offset", msg.Offset), logger.Error(err))
		} else {
			c.batcher.Add(ctx, recs...)
		}

		commitCtx, commitCancel := context.WithTimeout(ctx, c.poll)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil && ctx.Err() == nil {
			c.log.Error(ctx, "kafka commit failed", logger.Error(fmt.Errorf("offset %d: %w", msg.Offset, err)))
		}
		commitCancel()
	}
}

// Close closes the reader.
func (c *KafkaConsumer) Close() error { return c.reader.Close() }
