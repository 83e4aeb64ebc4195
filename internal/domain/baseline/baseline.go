// Package baseline builds versioned trailing references for the scorer.
package baseline

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/guardian/internal/domain/model"
)

const (
	DefaultTrailing   = 30 * 24 * time.Hour
	DefaultMinSamples = 10
)

// Snapshot is an immutable set of baselines taken at one point in data time.
type Snapshot struct {
	Version uint64
	AsOf    time.Time
	entries map[model.SeriesKey]model.Baseline
}

// Get returns the baseline of one channel.
func (s *Snapshot) Get(machineID, channel string) (model.Baseline, bool) {
	if s == nil {
		return model.Baseline{}, false
	}
	b, ok := s.entries[model.SeriesKey{MachineID: machineID, Channel: channel}]
	return b, ok
}

// Machine returns the baselines of one machine keyed by channel.
func (s *Snapshot) Machine(machineID string) map[string]model.Baseline {
	out := make(map[string]model.Baseline)
	if s == nil {
		return out
	}
	for k, b := range s.entries {
		if k.MachineID == machineID {
			out[k.Channel] = b
		}
	}
	return out
}

// Covers reports whether the snapshot holds any baseline for machine.
func (s *Snapshot) Covers(machineID string) bool {
	if s == nil {
		return false
	}
	for k := range s.entries {
		if k.MachineID == machineID {
			return true
		}
	}
	return false
}

// Len returns the number of channel baselines.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Keys returns the covered series, sorted.
func (s *Snapshot) Keys() []model.SeriesKey {
	if s == nil {
		return nil
	}
	out := make([]model.SeriesKey, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Build computes baselines over readings in [asOf-trailing, asOf). Channels
// with fewer than minSamples readings get no baseline. The version is left
// to the Cache.
func Build(asOf time.Time, trailing time.Duration, minSamples int, series ...model.TimeSeries) *Snapshot {
	if trailing <= 0 {
		trailing = DefaultTrailing
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	from := asOf.Add(-trailing)
	snap := &Snapshot{AsOf: asOf, entries: make(map[model.SeriesKey]model.Baseline, len(series))}
	for _, ts := range series {
		if b, ok := compute(ts.Readings, from, asOf, minSamples); ok {
			snap.entries[ts.Key] = b
		}
	}
	return snap
}

func compute(rs []model.SensorReading, from, to time.Time, minSamples int) (model.Baseline, bool) {
	var (
		n          int
		mean, m2   float64
		first, end time.Time
	)
	for _, r := range rs {
		if r.Timestamp.Before(from) || !r.Timestamp.Before(to) {
			continue
		}
		if n == 0 {
			first = r.Timestamp
		}
		end = r.Timestamp
		n++
		d := r.Value - mean
		mean += d / float64(n)
		m2 += d * (r.Value - mean)
	}
	if n < minSamples {
		return model.Baseline{}, false
	}
	b := model.Baseline{Mean: mean, Samples: n, From: first, To: end}
	if n > 1 && m2 > 0 {
		b.StdDev = math.Sqrt(m2 / float64(n-1))
	}
	return b, true
}

// Source returns every channel of a machine restricted to [from, to).
type Source func(machineID string, from, to time.Time) []model.TimeSeries

// Cache hands out per-machine snapshots aligned to refresh buckets. The
// snapshot for a window starting at t is built as of t truncated to the
// refresh interval, so it never holds the window's own readings or later
// ones. Only the newest bucket of each machine is kept.
type Cache struct {
	src        Source
	trailing   time.Duration
	minSamples int
	refresh    time.Duration

	mu      sync.Mutex
	entries map[string]*Snapshot
	version atomic.Uint64
}

// NewCache creates a cache reading from src. A non-positive refresh builds
// one snapshot per distinct window start.
func NewCache(src Source, trailing time.Duration, minSamples int, refresh time.Duration) *Cache {
	if trailing <= 0 {
		trailing = DefaultTrailing
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Cache{
		src:        src,
		trailing:   trailing,
		minSamples: minSamples,
		refresh:    refresh,
		entries:    make(map[string]*Snapshot),
	}
}

// AsOf returns the reference point used for a window starting at start.
func (c *Cache) AsOf(start time.Time) time.Time {
	if c.refresh <= 0 {
		return start
	}
	return start.Truncate(c.refresh)
}

// For returns the snapshot of machineID for a window starting at start. The
// second result reports whether a new snapshot was built.
func (c *Cache) For(machineID string, start time.Time) (*Snapshot, bool) {
	asOf := c.AsOf(start)
	c.mu.Lock()
	cached, ok := c.entries[machineID]
	c.mu.Unlock()
	if ok && cached.AsOf.Equal(asOf) {
		return cached, false
	}

	snap := Build(asOf, c.trailing, c.minSamples, c.src(machineID, asOf.Add(-c.trailing), asOf)...)
	snap.Version = c.version.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[machineID]; !ok || !cur.AsOf.After(asOf) {
		c.entries[machineID] = snap
	}
	return snap, true
}

// Version returns the version of the newest snapshot built.
func (c *Cache) Version() uint64 { return c.version.Load() }

// Machines returns the number of machines holding a cached snapshot.
func (c *Cache) Machines() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
