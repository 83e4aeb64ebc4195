package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/okian/guardian/internal/domain/model"
	"github.com/okian/guardian/pkg/logger"
)

// Sink receives batches from a named source.
type Sink interface {
	IngestBatch(ctx context.Context, source string, records []model.RawRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, source string, records []model.RawRecord) error

func (f SinkFunc) IngestBatch(ctx context.Context, source string, records []model.RawRecord) error {
	return f(ctx, source, records)
}

const (
	defaultBatchSize     = 500
	defaultFlushInterval = time.Second
)

// Batcher groups streamed records into batches, flushing when full or on
// a timer.
type Batcher struct {
	sink     Sink
	source   string
	size     int
	interval time.Duration
	log      logger.Logger

	mu      sync.Mutex
	pending []model.RawRecord
}

// NewBatcher creates a batcher for source. Non-positive values use defaults.
func NewBatcher(sink Sink, source string, size int, interval time.Duration) *Batcher {
	if size <= 0 {
		size = defaultBatchSize
	}
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Batcher{sink: sink, source: source, size: size, interval: interval, log: logger.Named("source." + source)}
}

// Add queues records, flushing synchronously once the batch is full.
func (b *Batcher) Add(ctx context.Context, records ...model.RawRecord) {
	b.mu.Lock()
	b.pending = append(b.pending, records...)
	full := len(b.pending) >= b.size
	b.mu.Unlock()
	if full {
		b.Flush(ctx)
	}
}

// Flush hands pending records to the sink.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if err := b.sink.IngestBatch(ctx, b.source, batch); err != nil {
		b.log.Error(ctx, "batch ingest failed", logger.Int("records", len(batch)), logger.Error(err))
	}
}

// Run flushes on the interval until ctx ends, then flushes once more.
func (b *Batcher) Run(ctx context.Context) {
	t := time.NewTicker(b.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Flush(context.WithoutCancel(ctx))
			return
		case <-t.C:
			b.Flush(ctx)
		}
	}
}

// DecodePayload accepts a single record, an array of records, or an object
// with a "readings" array.
func DecodePayload(b []byte) ([]model.RawRecord, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var recs []model.RawRecord
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return recs, nil
	}
	var env struct {
		Readings []model.RawRecord `json:"readings"`
		model.RawRecord
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if env.Readings != nil {
		return env.Readings, nil
	}
	return []model.RawRecord{env.RawRecord}, nil
}
