// Package model contains domain models passed between layers.
package model

import "time"

// RawRecord is an unvalidated sensor record as received from a source.
type RawRecord struct {
	MachineID string    `json:"machine_id"`
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	// ParseError describes a field a source could not decode.
	ParseError string `json:"-"`
}

// SensorReading is a validated reading. Immutable once ingested.
type SensorReading struct {
	MachineID string    `json:"machine_id"`
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
}

// SeriesKey identifies one time series.
type SeriesKey struct {
	MachineID string
	Channel   string
}

// String renders the key as machine/channel.
func (k SeriesKey) String() string { return k.MachineID + "/" + k.Channel }

// Key returns the series the reading belongs to.
func (r SensorReading) Key() SeriesKey {
	return SeriesKey{MachineID: r.MachineID, Channel: r.Channel}
}

// TimeSeries is the ordered reading sequence of one (machine, channel).
// Readings are sorted by timestamp ascending with no duplicate timestamps.
type TimeSeries struct {
	Key      SeriesKey
	Readings []SensorReading
}

// Len returns the number of readings.
func (s TimeSeries) Len() int { return len(s.Readings) }

// First returns the earliest timestamp, or the zero time for an empty series.
func (s TimeSeries) First() time.Time {
	if len(s.Readings) == 0 {
		return time.Time{}
	}
	return s.Readings[0].Timestamp
}

// Last returns the latest timestamp, or the zero time for an empty series.
func (s TimeSeries) Last() time.Time {
	if len(s.Readings) == 0 {
		return time.Time{}
	}
	return s.Readings[len(s.Readings)-1].Timestamp
}
