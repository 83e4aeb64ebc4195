package ingest

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/okian/guardian/internal/domain/model"
	"github.com/okian/guardian/pkg/metrics"
)

// Report summarizes one ingested batch.
type Report struct {
	Received   int                `json:"received"`
	Accepted   int                `json:"accepted"`
	Duplicates int                `json:"duplicates"`
	Rejected   []*ValidationError `json:"rejected,omitempty"`
	// Machines lists the machines that received at least one new reading.
	Machines  []string  `json:"machines"`
	Watermark time.Time `json:"watermark"`
}

// Ingestor validates raw records and appends them to a Store.
type Ingestor struct {
	store *Store
	units map[string]string
	skew  time.Duration
	now   func() time.Time
}

// New creates an Ingestor writing into store.
func New(store *Store, opts ...Option) *Ingestor {
	in := &Ingestor{
		store: store,
		units: DefaultUnits(),
		skew:  defaultSkewTolerance,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Store returns the underlying store.
func (in *Ingestor) Store() *Store { return in.store }

// Validate checks one record and returns the reading it becomes.
func (in *Ingestor) Validate(idx int, rec model.RawRecord) (model.SensorReading, *ValidationError) {
	machine := strings.TrimSpace(rec.MachineID)
	channel := strings.TrimSpace(rec.Channel)
	unit := strings.TrimSpace(rec.Unit)

	fail := func(reason, detail string) (model.SensorReading, *ValidationError) {
		return model.SensorReading{}, &ValidationError{
			Index: idx, MachineID: machine, Channel: channel, Reason: reason, Detail: detail,
		}
	}

	switch {
	case machine == "":
		return fail(ReasonMissingMachine, "")
	case channel == "":
		return fail(ReasonMissingChannel, "")
	case rec.ParseError != "":
		return fail(ReasonUnparseable, rec.ParseError)
	case rec.Timestamp.IsZero():
		return fail(ReasonMissingTime, "")
	case math.IsNaN(rec.Value) || math.IsInf(rec.Value, 0):
		return fail(ReasonNonFinite, "")
	}

	if limit := in.now().Add(in.skew); rec.Timestamp.After(limit) {
		return fail(ReasonFuture, rec.Timestamp.Format(time.RFC3339)+" is after "+limit.Format(time.RFC3339))
	}

	if want, known := in.units[channel]; known {
		switch {
		case unit == "":
			unit = want
		case !strings.EqualFold(unit, want):
			return fail(ReasonUnitMismatch, "got "+unit+", want "+want)
		default:
			unit = want
		}
	}

	return model.SensorReading{
		MachineID: machine,
		Channel:   channel,
		Timestamp: rec.Timestamp.UTC(),
		Value:     rec.Value,
		Unit:      unit,
	}, nil
}

// Ingest validates and appends a batch. Invalid records are reported and
// skipped; exact (machine, channel, timestamp) repeats keep the first value.
func (in *Ingestor) Ingest(ctx context.Context, records []model.RawRecord) (Report, error) {
	rep := Report{Received: len(records)}
	if len(records) == 0 {
		return rep, ErrEmptyBatch
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	valid := make([]model.SensorReading, 0, len(records))
	for i, rec := range records {
		r, verr := in.Validate(i, rec)
		if verr != nil {
			rep.Rejected = append(rep.Rejected, verr)
			metrics.RecordReadingRejected(verr.Reason)
			continue
		}
		valid = append(valid, r)
	}

	touched := make(map[string]struct{})
	in.store.mu.Lock()
	for _, r := range valid {
		if !in.store.insert(r) {
			rep.Duplicates++
			continue
		}
		rep.Accepted++
		touched[r.MachineID] = struct{}{}
	}
	in.store.prune()
	rep.Watermark = in.store.watermark
	seriesCount := len(in.store.series)
	in.store.mu.Unlock()

	rep.Machines = make([]string, 0, len(touched))
	for m := range touched {
		rep.Machines = append(rep.Machines, m)
	}
	sort.Strings(rep.Machines)

	metrics.RecordReadingsAccepted(rep.Accepted)
	metrics.RecordReadingsDuplicate(rep.Duplicates)
	metrics.UpdateSeriesTracked(seriesCount)
	return rep, nil
}
