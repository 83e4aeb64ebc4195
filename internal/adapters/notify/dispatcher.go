package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/guardian/internal/domain/dedupe"
	"github.com/okian/guardian/internal/domain/model"
	"github.com/okian/guardian/pkg/logger"
	"github.com/okian/guardian/pkg/metrics"
)

const (
	defaultAttempts    = 3
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second
)

// Option applies a configuration option to the Dispatcher.
type Option func(*Dispatcher)

// WithRetry sets the attempt count and the exponential backoff bounds.
func WithRetry(attempts int, base, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.attempts = attempts
		}
		if base > 0 {
			d.base = base
		}
		if maxBackoff >= d.base {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithLedger replaces the default in-memory key ledger.
func WithLedger(l dedupe.Deduper) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.ledger = l
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithSleep overrides the backoff wait, mostly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

// Dispatcher fans each notification out to its targets, retrying transient
// failures per target and delivering every key at most once per target.
type Dispatcher struct {
	targets    []Notifier
	ledger     dedupe.Deduper
	attempts   int
	base       time.Duration
	maxBackoff time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	log        logger.Logger
}

// NewDispatcher creates a dispatcher over targets.
func NewDispatcher(targets []Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		targets:    targets,
		ledger:     dedupe.NewInMemoryDeduper(),
		attempts:   defaultAttempts,
		base:       defaultBaseBackoff,
		maxBackoff: defaultMaxBackoff,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logger.Named("dispatcher")
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff returns the wait before retry number attempt (1-based).
func (d *Dispatcher) Backoff(attempt int) time.Duration {
	wait := d.base
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= d.maxBackoff {
			return d.maxBackoff
		}
	}
	return wait
}

// Dispatch delivers n to every target that has not received its key yet
// and returns nil when none is left. Each target's share of the key is
// recorded before delivery and released again if that target failed, so a
// later dispatch of the same key reaches only the targets that missed it.
// The returned error wraps ErrDispatch when a target failed.
func (d *Dispatcher) Dispatch(ctx context.Context, n model.Notification) error {
	kind := string(n.Kind)
	start := time.Now()
	var (
		errs    []error
		pending int
	)
	for _, target := range d.targets {
		key := TargetKey(n.Key, target)
		if d.ledger.SeenAndRecord(ctx, key) {
			continue
		}
		pending++
		if err := d.deliver(ctx, target, n); err != nil {
			d.ledger.Unrecord(ctx, key)
			errs = append(errs, fmt.Errorf("%s: %w", target.Name(), err))
		}
	}
	if pending == 0 {
		if len(d.targets) > 0 {
			metrics.RecordNotificationDropped(kind, "duplicate")
			d.log.Debug(ctx, "notification already delivered", logger.String("key", n.Key))
		}
		return nil
	}
	metrics.RecordDispatchLatency(float64(time.Since(start).Milliseconds()))

	if len(errs) == pending {
		metrics.RecordNotificationDropped(kind, "failed")
		err := fmt.Errorf("%w: %s: %w", ErrDispatch, n.Key, errors.Join(errs...))
		d.log.Error(ctx, "notification not delivered",
			logger.String("key", n.Key), logger.String("machine_id", n.MachineID), logger.Error(err))
		return err
	}
	metrics.RecordNotificationSent(kind)
	if len(errs) > 0 {
		err := fmt.Errorf("%w: %s: %w", ErrDispatch, n.Key, errors.Join(errs...))
		d.log.Warn(ctx, "notification partially delivered",
			logger.String("key", n.Key), logger.String("machine_id", n.MachineID), logger.Error(err))
		return err
	}
	return nil
}

// TargetKey is the ledger key of one notification for one target.
func TargetKey(key string, target Notifier) string { return key + "|" + target.Name() }

func (d *Dispatcher) deliver(ctx context.Context, target Notifier, n model.Notification) error {
	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		err = target.Notify(ctx, n)
		if err == nil {
			metrics.RecordDispatchAttempt("success")
			return nil
		}
		if IsPermanent(err) {
			metrics.RecordDispatchAttempt("permanent")
			return err
		}
		metrics.RecordDispatchAttempt("retry")
		d.log.Warn(ctx, "notifier failed",
			logger.String("notifier", target.Name()),
			logger.String("key", n.Key),
			logger.Int("attempt", attempt),
			logger.Error(err))
		if attempt == d.attempts {
			break
		}
		if serr := d.sleep(ctx, d.Backoff(attempt)); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return err
}
