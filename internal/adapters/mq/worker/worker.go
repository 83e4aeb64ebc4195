// Package worker runs one worker per partition. A machine is always routed
// to the same partition, so its escalation state has exactly one owner.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/guardian/internal/adapters/mq/queue"
	"github.com/okian/guardian/pkg/logger"
	"github.com/okian/guardian/pkg/metrics"
)

const (
	defaultQueueCapacity  = 1024
	metricsUpdateInterval = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
	idlePollInterval      = 5 * time.Millisecond
)

// Processor handles the jobs of one partition. Process is only ever called
// from that partition's worker goroutine.
type Processor interface {
	Process(ctx context.Context, job queue.Job) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job queue.Job) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, job queue.Job) error { return f(ctx, job) }

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
	Done(j queue.Job)
}

// Worker processes jobs until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)
	// Shutdown waits for the loop to exit.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker over one queue.
type InMemoryWorker struct {
	queue Queue
	proc  Processor
	name  string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker(q Queue, proc Processor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		proc:     proc,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop. Jobs still queued when the queue closes are
// processed before Run returns.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}
}

// Shutdown signals the loop and waits for it.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) {
	start := time.Now()
	defer func() {
		w.queue.Done(job)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := w.proc.Process(ctx, job); err != nil {
		kind := "process"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = "cancelled"
		}
		metrics.RecordWorkerError(kind)
		w.logger.Error(ctx, "job failed",
			logger.String("machine_id", job.MachineID),
			logger.String("reason", job.Reason),
			logger.Error(err),
		)
	}
}

// Pool owns one queue and one worker per partition.
type Pool struct {
	queues   []*queue.InMemoryQueue
	workers  []*InMemoryWorker
	capacity int

	shutdown chan struct{}
	logger   logger.Logger
}

// NewPool creates a pool of partitions workers. newProc is called once per
// partition and the processor it returns is used by that partition only.
func NewPool(partitions int, newProc func(partition int) Processor, opts ...PoolOption) *Pool {
	if partitions < 1 {
		partitions = runtime.NumCPU()
	}
	p := &Pool{
		queues:   make([]*queue.InMemoryQueue, partitions),
		workers:  make([]*InMemoryWorker, partitions),
		capacity: defaultQueueCapacity,
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("worker-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	for i := 0; i < partitions; i++ {
		name := strconv.Itoa(i)
		p.queues[i] = queue.NewInMemoryQueue(queue.WithCapacity(p.capacity), queue.WithPartition(name))
		p.workers[i] = NewInMemoryWorker(p.queues[i], newProc(i), WithName("worker-"+name))
	}
	metrics.UpdateWorkerCount(partitions)
	metrics.UpdateQueueCapacity(partitions * p.capacity)
	return p
}

// Partitions returns the number of partitions.
func (p *Pool) Partitions() int { return len(p.queues) }

// Partition returns the partition owning machineID.
func (p *Pool) Partition(machineID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(machineID))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// Submit routes job to the partition owning its machine.
func (p *Pool) Submit(ctx context.Context, job queue.Job) error {
	if err := p.queues[p.Partition(job.MachineID)].Enqueue(ctx, job); err != nil {
		return fmt.Errorf("submit %s: %w", job.MachineID, err)
	}
	return nil
}

// Pending returns the number of queued jobs across partitions.
func (p *Pool) Pending(ctx context.Context) int {
	n := 0
	for _, q := range p.queues {
		n += q.Len(ctx)
	}
	return n
}

// Idle reports whether no job is queued or being processed.
func (p *Pool) Idle() bool {
	for _, q := range p.queues {
		if q.Outstanding() > 0 {
			return false
		}
	}
	return true
}

// WaitIdle blocks until the pool is idle or ctx ends.
func (p *Pool) WaitIdle(ctx context.Context) error {
	tick := time.NewTicker(idlePollInterval)
	defer tick.Stop()
	for !p.Idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}

// Start starts every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			for i, q := range p.queues {
				metrics.UpdateQueueSize(strconv.Itoa(i), q.Len(ctx))
			}
		}
	}
}

// Shutdown closes the queues and waits for the workers to drain them.
func (p *Pool) Shutdown(ctx context.Context) error {
	for _, q := range p.queues {
		if err := q.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	select {
	case <-p.shutdown:
	default:
		close(p.shutdown)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut {
		return fmt.Errorf("pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}
