// Package ingest validates raw sensor records and maintains ordered time series.
package ingest

import (
	"strings"
	"time"
)

const (
	defaultSkewTolerance = 5 * time.Minute
)

// DefaultUnits is the channel registry of the plant CSV export.
func DefaultUnits() map[string]string {
	return map[string]string{
		"vibration_g":   "g",
		"temperature_c": "C",
		"pressure_bar":  "bar",
		"power_kw":      "kW",
		"rpm":           "rpm",
	}
}

// Option applies a configuration option to the Ingestor.
type Option func(*Ingestor)

// WithUnits registers the expected unit of each known channel.
func WithUnits(units map[string]string) Option {
	return func(in *Ingestor) {
		if units == nil {
			return
		}
		in.units = make(map[string]string, len(units))
		for ch, u := range units {
			in.units[strings.TrimSpace(ch)] = strings.TrimSpace(u)
		}
	}
}

// WithSkewTolerance sets how far into the future a timestamp may be.
func WithSkewTolerance(d time.Duration) Option {
	return func(in *Ingestor) {
		if d >= 0 {
			in.skew = d
		}
	}
}

// WithClock overrides the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(in *Ingestor) {
		if now != nil {
			in.now = now
		}
	}
}
