// Package queue holds the bounded per-partition job queues feeding workers.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/guardian/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Job asks a worker to bring one machine's assessments up to date.
type Job struct {
	MachineID  string
	Reason     string // "ingest" or "cycle"
	EnqueuedAt time.Time
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a job. A job for a machine that is already pending is
	// coalesced and reported as accepted.
	Enqueue(ctx context.Context, j Job) error
	// Dequeue returns a channel closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Job
	Len(ctx context.Context) int
	// Done marks a dequeued job as finished.
	Done(j Job)
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue with a buffered channel.
type InMemoryQueue struct {
	jobs      chan Job
	capacity  int
	partition string

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool

	// outstanding counts queued plus handed-out jobs not yet marked Done.
	outstanding atomic.Int64
}

// NewInMemoryQueue creates a bounded queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:  defaultQueueCapacity,
		partition: "0",
		pending:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.capacity)
	metrics.UpdateQueueSize(q.partition, 0)
	return q
}

// Enqueue adds j without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.RecordQueueRejected("closed")
		return ErrClosed
	}
	if _, ok := q.pending[j.MachineID]; ok {
		metrics.RecordQueueRejected("coalesced")
		return nil
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueRejected("context_cancelled")
		return err
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	select {
	case q.jobs <- j:
		q.pending[j.MachineID] = struct{}{}
		q.outstanding.Add(1)
		metrics.UpdateQueueSize(q.partition, len(q.jobs))
		return nil
	default:
		metrics.RecordQueueRejected("full")
		return ErrFull
	}
}

// Dequeue forwards jobs, releasing each machine for re-enqueue as it is handed out.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case j, ok := <-q.jobs:
				if !ok {
					return
				}
				q.mu.Lock()
				delete(q.pending, j.MachineID)
				q.mu.Unlock()
				metrics.UpdateQueueSize(q.partition, len(q.jobs))
				select {
				case out <- j:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the number of pending jobs.
func (q *InMemoryQueue) Len(_ context.Context) int { return len(q.jobs) }

// Done marks a dequeued job as finished.
func (q *InMemoryQueue) Done(Job) { q.outstanding.Add(-1) }

// Outstanding returns the number of jobs queued or being processed.
func (q *InMemoryQueue) Outstanding() int { return int(q.outstanding.Load()) }

// Close stops accepting jobs; pending ones are still delivered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
