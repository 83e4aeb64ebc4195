// Package escalation runs the per-machine alert state machine and decides
// which transitions produce a notification.
package escalation

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy reports unusable thresholds.
var ErrInvalidPolicy = errors.New("invalid escalation policy")

// Default policy values.
const (
	DefaultWatch           = 60.0
	DefaultCritical        = 85.0
	DefaultRecoveryWindows = 3
	DefaultDebounce        = time.Hour
	DefaultRenotifyDelta   = 10.0
)

// Suppression reasons reported in Decision.Suppressed.
const (
	SuppressedDebounce   = "debounce"
	SuppressedSilent     = "nothing_to_resolve"
	SuppressedStale      = "stale_assessment"
	SuppressedNoIncrease = "no_peak_increase"
)

// Policy holds the thresholds shared by every tracker.
type Policy struct {
	Watch           float64       `koanf:"watch" json:"watch"`
	Critical        float64       `koanf:"critical" json:"critical"`
	RecoveryWindows int           `koanf:"recovery_windows" json:"recovery_windows"`
	Debounce        time.Duration `koanf:"debounce" json:"debounce"`
	RenotifyDelta   float64       `koanf:"renotify_delta" json:"renotify_delta"`
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		Watch:           DefaultWatch,
		Critical:        DefaultCritical,
		RecoveryWindows: DefaultRecoveryWindows,
		Debounce:        DefaultDebounce,
		RenotifyDelta:   DefaultRenotifyDelta,
	}
}

// Validate checks threshold ordering and ranges.
func (p Policy) Validate() error {
	switch {
	case p.Watch <= 0 || p.Watch > 100:
		return fmt.Errorf("%w: watch threshold %v out of (0,100]", ErrInvalidPolicy, p.Watch)
	case p.Critical <= 0 || p.Critical > 100:
		return fmt.Errorf("%w: critical threshold %v out of (0,100]", ErrInvalidPolicy, p.Critical)
	case p.Watch >= p.Critical:
		return fmt.Errorf("%w: watch %v must be below critical %v", ErrInvalidPolicy, p.Watch, p.Critical)
	case p.RecoveryWindows < 1:
		return fmt.Errorf("%w: recovery_windows must be at least 1", ErrInvalidPolicy)
	case p.Debounce < 0:
		return fmt.Errorf("%w: debounce must not be negative", ErrInvalidPolicy)
	case p.RenotifyDelta < 0:
		return fmt.Errorf("%w: renotify_delta must not be negative", ErrInvalidPolicy)
	}
	return nil
}
