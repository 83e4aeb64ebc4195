package ingest

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/okian/guardian/internal/domain/model"
)

// StoreOption applies a configuration option to the Store.
type StoreOption func(*Store)

// WithRetention drops readings older than watermark-retention after each
// insert. Zero keeps everything.
func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// Store keeps one ordered series per (machine, channel). It is the source
// of truth from which windows, baselines and assessments are derived.
type Store struct {
	mu        sync.RWMutex
	series    map[model.SeriesKey][]model.SensorReading
	channels  map[string][]string // machine -> sorted channels
	high      map[string]time.Time
	watermark time.Time
	retention time.Duration
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		series:   make(map[model.SeriesKey][]model.SensorReading),
		channels: make(map[string][]string),
		high:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// insert places r in timestamp order. It returns false when the series
// already holds a reading with the same timestamp. Caller holds s.mu.
func (s *Store) insert(r model.SensorReading) bool {
	key := r.Key()
	rs, known := s.series[key]

	n := len(rs)
	switch {
	case n == 0 || r.Timestamp.After(rs[n-1].Timestamp):
		rs = append(rs, r)
	default:
		i := sort.Search(n, func(i int) bool { return !rs[i].Timestamp.Before(r.Timestamp) })
		if i < n && rs[i].Timestamp.Equal(r.Timestamp) {
			return false
		}
		rs = slices.Insert(rs, i, r)
	}
	s.series[key] = rs

	if !known {
		chs := s.channels[r.MachineID]
		i, _ := slices.BinarySearch(chs, r.Channel)
		s.channels[r.MachineID] = slices.Insert(chs, i, r.Channel)
	}
	if r.Timestamp.After(s.high[r.MachineID]) {
		s.high[r.MachineID] = r.Timestamp
	}
	if r.Timestamp.After(s.watermark) {
		s.watermark = r.Timestamp
	}
	return true
}

// prune applies retention. Caller holds s.mu.
func (s *Store) prune() {
	if s.retention <= 0 || s.watermark.IsZero() {
		return
	}
	cutoff := s.watermark.Add(-s.retention)
	for key, rs := range s.series {
		i := sort.Search(len(rs), func(i int) bool { return !rs[i].Timestamp.Before(cutoff) })
		if i > 0 {
			s.series[key] = slices.Clone(rs[i:])
		}
	}
}

// Since returns copies of every channel of machine holding readings at or
// after from, keyed by channel.
func (s *Store) Since(machineID string, from time.Time) map[string][]model.SensorReading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]model.SensorReading, len(s.channels[machineID]))
	for _, ch := range s.channels[machineID] {
		rs := s.series[model.SeriesKey{MachineID: machineID, Channel: ch}]
		i := sort.Search(len(rs), func(i int) bool { return !rs[i].Timestamp.Before(from) })
		if i < len(rs) {
			out[ch] = slices.Clone(rs[i:])
		}
	}
	return out
}

// Range returns a copy of the readings of one series within [from, to).
// A zero to means no upper bound.
func (s *Store) Range(key model.SeriesKey, from, to time.Time) model.TimeSeries {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.TimeSeries{Key: key, Readings: between(s.series[key], from, to)}
}

// MachineSeries returns copies of every channel of machineID restricted to
// [from, to), skipping channels without readings in range.
func (s *Store) MachineSeries(machineID string, from, to time.Time) []model.TimeSeries {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TimeSeries, 0, len(s.channels[machineID]))
	for _, ch := range s.channels[machineID] {
		key := model.SeriesKey{MachineID: machineID, Channel: ch}
		if part := between(s.series[key], from, to); len(part) > 0 {
			out = append(out, model.TimeSeries{Key: key, Readings: part})
		}
	}
	return out
}

func between(rs []model.SensorReading, from, to time.Time) []model.SensorReading {
	i := sort.Search(len(rs), func(i int) bool { return !rs[i].Timestamp.Before(from) })
	j := len(rs)
	if !to.IsZero() {
		j = sort.Search(len(rs), func(i int) bool { return !rs[i].Timestamp.Before(to) })
	}
	if i >= j {
		return nil
	}
	return slices.Clone(rs[i:j])
}

// Machines returns all known machine ids, sorted.
func (s *Store) Machines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.channels))
	for m := range s.channels {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Channels returns the channels of a machine, sorted.
func (s *Store) Channels(machineID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.channels[machineID])
}

// Watermark returns the latest reading timestamp across all series.
func (s *Store) Watermark() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermark
}

// MachineWatermark returns the latest reading timestamp of one machine.
func (s *Store) MachineWatermark(machineID string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.high[machineID]
}

// SeriesCount returns the number of series held.
func (s *Store) SeriesCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series)
}
