package narrative

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/guardian/pkg/logger"
	"github.com/okian/guardian/pkg/metrics"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxInFlight = 4
)

// AttachFunc stores a generated narrative for an assessment.
type AttachFunc func(machineID string, ts time.Time, text string) error

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTimeout bounds each generation.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxInFlight bounds concurrent generations. Requests beyond it are dropped.
func WithMaxInFlight(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.sem = make(chan struct{}, n)
		}
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l logger.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// Runner generates narratives off the caller's goroutine.
type Runner struct {
	gen     Generator
	attach  AttachFunc
	timeout time.Duration
	sem     chan struct{}
	log     logger.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner. attach is called with each successful narrative.
func NewRunner(gen Generator, attach AttachFunc, opts ...RunnerOption) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		gen:     gen,
		attach:  attach,
		timeout: defaultTimeout,
		sem:     make(chan struct{}, defaultMaxInFlight),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Named("narrative")
	}
	return r
}

// Submit starts a generation and returns at once. It reports false when the
// runner is saturated or stopped.
func (r *Runner) Submit(req Request) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return false
	}
	select {
	case r.sem <- struct{}{}:
	default:
		metrics.RecordNarrative("dropped", 0)
		return false
	}
	r.wg.Add(1)
	go r.run(req)
	return true
}

func (r *Runner) run(req Request) {
	defer r.wg.Done()
	defer func() { <-r.sem }()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	a := req.Assessment
	start := time.Now()
	text, err := r.gen.Generate(ctx, req)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.RecordNarrative(outcome, latency)
		r.log.Warn(ctx, "narrative unavailable",
			logger.String("machine_id", a.MachineID),
			logger.Time("timestamp", a.Timestamp),
			logger.Error(err))
		return
	}
	metrics.RecordNarrative("success", latency)
	if r.attach == nil {
		return
	}
	if err := r.attach(a.MachineID, a.Timestamp, text); err != nil {
		r.log.Warn(ctx, "narrative not attached",
			logger.String("machine_id", a.MachineID), logger.Error(err))
	}
}

// Stop cancels running generations and waits for them to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}
