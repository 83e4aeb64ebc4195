// Package features turns ordered time series into rolling trend windows.
package features

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"sort"
	"time"

	"github.com/okian/guardian/internal/domain/model"
)

// ErrInvalidWindow reports an unusable window specification.
var ErrInvalidWindow = errors.New("invalid window spec")

const defaultMinSamples = 3

// WindowSpec describes the window grid. Window k covers
// [k*Stride, k*Stride+Size) in Unix time.
type WindowSpec struct {
	Size       time.Duration `koanf:"size" json:"size"`
	Stride     time.Duration `koanf:"stride" json:"stride"`
	MinSamples int           `koanf:"min_samples" json:"min_samples"`
}

// Validate rejects specs whose windows would not cover every reading.
func (s WindowSpec) Validate() error {
	switch {
	case s.Size <= 0:
		return fmt.Errorf("%w: size must be positive, got %s", ErrInvalidWindow, s.Size)
	case s.Stride <= 0:
		return fmt.Errorf("%w: stride must be positive, got %s", ErrInvalidWindow, s.Stride)
	case s.Stride > s.Size:
		return fmt.Errorf("%w: stride %s exceeds size %s", ErrInvalidWindow, s.Stride, s.Size)
	case s.MinSamples < 0:
		return fmt.Errorf("%w: min_samples must not be negative", ErrInvalidWindow)
	}
	return nil
}

func (s WindowSpec) minSamples() int {
	if s.MinSamples == 0 {
		return defaultMinSamples
	}
	return s.MinSamples
}

// Start returns the start of window k.
func (s WindowSpec) Start(k int64) time.Time {
	return time.Unix(0, k*int64(s.Stride)).UTC()
}

// End returns the exclusive end of window k.
func (s WindowSpec) End(k int64) time.Time {
	return s.Start(k).Add(s.Size)
}

// IndexAtOrBefore returns the index of the latest window starting at or before t.
func (s WindowSpec) IndexAtOrBefore(t time.Time) int64 {
	return floorDiv(t.UnixNano(), int64(s.Stride))
}

// firstIndex returns the earliest window containing t.
func (s WindowSpec) firstIndex(t time.Time) int64 {
	// smallest k with k*stride+size > t
	return floorDiv(t.UnixNano()-int64(s.Size), int64(s.Stride)) + 1
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Windows yields the non-empty windows of series in chronological order.
// The sequence is finite and each range restarts from the first window.
func Windows(series model.TimeSeries, spec WindowSpec) (iter.Seq[model.FeatureWindow], error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	rs := series.Readings
	return func(yield func(model.FeatureWindow) bool) {
		if len(rs) == 0 {
			return
		}
		first := spec.firstIndex(rs[0].Timestamp)
		last := spec.IndexAtOrBefore(rs[len(rs)-1].Timestamp)
		lo := 0
		for k := first; k <= last; k++ {
			start, end := spec.Start(k), spec.End(k)
			for lo < len(rs) && rs[lo].Timestamp.Before(start) {
				lo++
			}
			hi := lo
			for hi < len(rs) && rs[hi].Timestamp.Before(end) {
				hi++
			}
			if hi == lo {
				// jump over gaps without walking every empty grid cell
				if lo < len(rs) {
					if next := spec.firstIndex(rs[lo].Timestamp); next > k+1 {
						k = next - 1
					}
				}
				continue
			}
			if !yield(Compute(series.Key, k, spec, rs[lo:hi])) {
				return
			}
		}
	}, nil
}

// Latest returns the most recent non-empty window of series.
func Latest(series model.TimeSeries, spec WindowSpec) (model.FeatureWindow, bool, error) {
	if err := spec.Validate(); err != nil {
		return model.FeatureWindow{}, false, err
	}
	rs := series.Readings
	if len(rs) == 0 {
		return model.FeatureWindow{}, false, nil
	}
	k := spec.IndexAtOrBefore(rs[len(rs)-1].Timestamp)
	return At(series, spec, k)
}

// At returns window k of series, or false when it holds no readings.
func At(series model.TimeSeries, spec WindowSpec, k int64) (model.FeatureWindow, bool, error) {
	if err := spec.Validate(); err != nil {
		return model.FeatureWindow{}, false, err
	}
	rs := series.Readings
	start, end := spec.Start(k), spec.End(k)
	lo := sort.Search(len(rs), func(i int) bool { return !rs[i].Timestamp.Before(start) })
	hi := sort.Search(len(rs), func(i int) bool { return !rs[i].Timestamp.Before(end) })
	if lo >= hi {
		return model.FeatureWindow{}, false, nil
	}
	return Compute(series.Key, k, spec, rs[lo:hi]), true, nil
}

// Compute derives the statistics of window k from its readings, which must
// be non-empty and ordered.
func Compute(key model.SeriesKey, k int64, spec WindowSpec, rs []model.SensorReading) model.FeatureWindow {
	start := spec.Start(k)
	n := len(rs)
	w := model.FeatureWindow{
		MachineID:     key.MachineID,
		Channel:       key.Channel,
		Index:         k,
		WindowStart:   start,
		WindowEnd:     spec.End(k),
		Count:         n,
		Last:          rs[n-1].Value,
		LowConfidence: n < spec.minSamples(),
	}

	var sumX, sumY float64
	constant := true
	for i, r := range rs {
		if r.Value != rs[0].Value {
			constant = false
		}
		sumX += r.Timestamp.Sub(start).Seconds()
		sumY += r.Value
		if i > 0 {
			if d := math.Abs(r.Value - rs[i-1].Value); d > w.MaxDelta {
				w.MaxDelta = d
			}
		}
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)
	if constant {
		w.Mean = rs[0].Value
		return w
	}
	w.Mean = meanY

	var sxx, sxy, syy float64
	for _, r := range rs {
		dx := r.Timestamp.Sub(start).Seconds() - meanX
		dy := r.Value - meanY
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if n >= 2 {
		w.StdDev = math.Sqrt(syy / float64(n-1))
	}
	if sxx > 0 {
		w.Slope = sxy / sxx
	}
	return w
}
