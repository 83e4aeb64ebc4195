// Package scoring turns the latest feature windows of a machine into a
// deterministic 0-100 risk score against a baseline snapshot.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/guardian/internal/domain/baseline"
	"github.com/okian/guardian/internal/domain/model"
)

// ErrConfig reports an unusable scorer configuration.
var ErrConfig = errors.New("scoring config error")

// Default scoring configuration constants.
const (
	DefaultK                     = 3.0
	DefaultLowConfidenceDiscount = 0.5
	weightTolerance              = 1e-6
	maxScoreValue                = 100
)

// DefaultWeights mirrors the relative importance used by the plant engineers.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"vibration_g":   0.30,
		"temperature_c": 0.25,
		"pressure_bar":  0.15,
		"power_kw":      0.15,
		"rpm":           0.15,
	}
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithK sets how many baseline standard deviations saturate a deviation.
func WithK(k float64) Option {
	return func(s *Scorer) {
		if k > 0 {
			s.k = k
		}
	}
}

// WithLowConfidenceDiscount scales the deviation of sparse windows.
func WithLowConfidenceDiscount(d float64) Option {
	return func(s *Scorer) {
		if d >= 0 && d <= 1 {
			s.discount = d
		}
	}
}

// Input is everything one assessment depends on.
type Input struct {
	MachineID string
	Timestamp time.Time
	// Windows holds the window to score per channel.
	Windows  map[string]model.FeatureWindow
	Baseline *baseline.Snapshot
}

// Scorer is pure: equal inputs give equal assessments.
type Scorer struct {
	weights  map[string]float64
	channels []string // sorted, fixes summation order
	k        float64
	discount float64
}

// ValidateWeights checks that every weight is positive and that they sum to 1.
func ValidateWeights(weights map[string]float64) error {
	if len(weights) == 0 {
		return fmt.Errorf("%w: no channel weights configured", ErrConfig)
	}
	var sum float64
	for ch, w := range weights {
		if ch == "" {
			return fmt.Errorf("%w: empty channel name", ErrConfig)
		}
		if !(w > 0) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight of %s must be positive, got %v", ErrConfig, ch, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %v, want 1", ErrConfig, sum)
	}
	return nil
}

// New creates a scorer for the given channel weights.
func New(weights map[string]float64, opts ...Option) (*Scorer, error) {
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}
	s := &Scorer{
		weights:  make(map[string]float64, len(weights)),
		k:        DefaultK,
		discount: DefaultLowConfidenceDiscount,
	}
	for ch, w := range weights {
		s.weights[ch] = w
		s.channels = append(s.channels, ch)
	}
	sort.Strings(s.channels)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Channels returns the weighted channels, sorted.
func (s *Scorer) Channels() []string {
	return append([]string(nil), s.channels...)
}

// Deviation normalizes the distance of a window mean from its baseline to [0,1].
func (s *Scorer) Deviation(w model.FeatureWindow, b model.Baseline) float64 {
	diff := math.Abs(w.Mean - b.Mean)
	var d float64
	switch {
	case b.StdDev == 0 && diff == 0:
		d = 0
	case b.StdDev == 0:
		d = 1
	default:
		d = clamp(diff/(s.k*b.StdDev), 0, 1)
	}
	if w.LowConfidence {
		d *= s.discount
	}
	return d
}

// Score computes the risk assessment of one machine. Channels lacking a
// window or a baseline are left out and the other weights renormalized.
func (s *Scorer) Score(in Input) (model.RiskAssessment, error) {
	if s == nil || len(s.weights) == 0 {
		return model.RiskAssessment{}, fmt.Errorf("%w: scorer not configured", ErrConfig)
	}
	a := model.RiskAssessment{
		MachineID:            in.MachineID,
		Timestamp:            in.Timestamp.UTC(),
		ContributingFeatures: make(map[string]float64),
		Deviations:           make(map[string]float64),
		Windows:              make(map[string]model.FeatureWindow),
		Baselines:            make(map[string]model.Baseline),
	}
	if in.Baseline != nil {
		a.BaselineVersion = in.Baseline.Version
	}

	var weightSum, weighted float64
	for _, ch := range s.channels {
		w, ok := in.Windows[ch]
		if !ok || w.Count == 0 {
			continue
		}
		b, ok := in.Baseline.Get(in.MachineID, ch)
		if !ok {
			continue
		}
		d := s.Deviation(w, b)
		weight := s.weights[ch]
		weightSum += weight
		weighted += weight * d
		a.Deviations[ch] = d
		a.Windows[ch] = w
		a.Baselines[ch] = b
		if w.LowConfidence {
			a.LowConfidence = true
		}
	}

	if weightSum == 0 {
		a.InsufficientBaseline = true
		return a, nil
	}
	for ch := range a.Deviations {
		a.ContributingFeatures[ch] = s.weights[ch] / weightSum
	}
	a.Score = clamp(maxScoreValue*weighted/weightSum, 0, maxScoreValue)
	return a, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
