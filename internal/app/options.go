package service

import (
	"time"

	"github.com/okian/guardian/internal/adapters/narrative"
	"github.com/okian/guardian/internal/adapters/notify"
	"github.com/okian/guardian/internal/domain/escalation"
	"github.com/okian/guardian/internal/domain/features"
	"github.com/okian/guardian/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of partitions.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize bounds each partition queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithCycleInterval sets how often every machine is rescheduled.
func WithCycleInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cycleInterval = d
		}
	}
}

// WithSkewTolerance sets the future-timestamp tolerance, which is also the
// lateness a window waits before it is scored.
func WithSkewTolerance(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.skew = d
		}
	}
}

// WithRetention prunes readings older than watermark-d.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithUnits registers the expected unit per channel.
func WithUnits(units map[string]string) Option {
	return func(s *Service) {
		if units != nil {
			s.units = units
		}
	}
}

// WithWindow sets the window grid.
func WithWindow(spec features.WindowSpec) Option {
	return func(s *Service) { s.window = spec }
}

// WithBaseline configures the trailing baseline and its data-time refresh.
func WithBaseline(trailing time.Duration, minSamples int, refresh time.Duration) Option {
	return func(s *Service) {
		if trailing > 0 {
			s.trailing = trailing
		}
		if minSamples > 0 {
			s.baselineMin = minSamples
		}
		if refresh > 0 {
			s.refresh = refresh
		}
	}
}

// WithScoring sets channel weights, k and the low-confidence discount.
func WithScoring(weights map[string]float64, k, discount float64) Option {
	return func(s *Service) {
		if weights != nil {
			s.weights = weights
		}
		s.k = k
		s.discount = discount
	}
}

// WithPolicy sets the escalation thresholds.
func WithPolicy(p escalation.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithNotifiers adds dispatch targets.
func WithNotifiers(targets ...notify.Notifier) Option {
	return func(s *Service) { s.notifiers = append(s.notifiers, targets...) }
}

// WithDispatch configures retries and the notification-key ledger size.
func WithDispatch(attempts int, base, maxBackoff time.Duration, ledgerSize int) Option {
	return func(s *Service) {
		s.dispatchOpts = append(s.dispatchOpts, notify.WithRetry(attempts, base, maxBackoff))
		if ledgerSize > 0 {
			s.dedupeSize = ledgerSize
		}
	}
}

// WithDispatchOptions passes raw dispatcher options, mostly for tests.
func WithDispatchOptions(opts ...notify.Option) Option {
	return func(s *Service) { s.dispatchOpts = append(s.dispatchOpts, opts...) }
}

// WithNarrative enables narratives produced by gen.
func WithNarrative(gen narrative.Generator, timeout time.Duration, maxInFlight int) Option {
	return func(s *Service) {
		s.generator = gen
		s.narrativeOpts = append(s.narrativeOpts, narrative.WithTimeout(timeout), narrative.WithMaxInFlight(maxInFlight))
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
