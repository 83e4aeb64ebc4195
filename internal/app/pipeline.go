package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/okian/guardian/internal/adapters/mq/queue"
	"github.com/okian/guardian/internal/adapters/narrative"
	"github.com/okian/guardian/internal/domain/baseline"
	"github.com/okian/guardian/internal/domain/escalation"
	"github.com/okian/guardian/internal/domain/features"
	"github.com/okian/guardian/internal/domain/model"
	"github.com/okian/guardian/internal/domain/scoring"
	"github.com/okian/guardian/pkg/logger"
	"github.com/okian/guardian/pkg/metrics"
)

// partition processes the jobs of the machines routed to one worker. It owns
// their trackers and scoring cursors; nothing else touches them.
type partition struct {
	id       int
	svc      *Service
	trackers map[string]*escalation.Tracker
	// scored holds the grid index of the last scored window per machine.
	scored map[string]int64
	log    logger.Logger
}

func newPartition(id int, svc *Service) *partition {
	return &partition{
		id:       id,
		svc:      svc,
		trackers: make(map[string]*escalation.Tracker),
		scored:   make(map[string]int64),
		log:      svc.logger.Named(fmt.Sprintf("partition-%d", id)),
	}
}

// Process scores every window of the machine that closed since the last
// job and feeds the results through its tracker.
func (p *partition) Process(ctx context.Context, job queue.Job) error {
	machine := job.MachineID
	spec := p.svc.window
	cutoff := p.svc.now().Add(-p.svc.skew)

	last, seen := p.scored[machine]
	var from time.Time
	if seen {
		from = spec.Start(last + 1)
	}

	byIndex, err := p.closedWindows(machine, from, last, seen, cutoff)
	if err != nil {
		metrics.RecordScoringError("window")
		return fmt.Errorf("extract %s: %w", machine, err)
	}
	if len(byIndex) == 0 {
		return nil
	}

	indices := make([]int64, 0, len(byIndex))
	for k := range byIndex {
		indices = append(indices, k)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	tracker := p.tracker(machine)
	for _, k := range indices {
		snap := p.baseline(ctx, machine, spec.Start(k))
		a, err := p.svc.scorer.Score(scoring.Input{
			MachineID: machine,
			Timestamp: spec.End(k),
			Windows:   byIndex[k],
			Baseline:  snap,
		})
		if err != nil {
			metrics.RecordScoringError("config")
			return fmt.Errorf("score %s: %w", machine, err)
		}
		metrics.RecordAssessment(a.Score, a.InsufficientBaseline)
		if err := p.svc.repo.Append(ctx, a); err != nil {
			return fmt.Errorf("store assessment %s: %w", machine, err)
		}
		p.scored[machine] = k

		d := tracker.Step(a)
		p.apply(ctx, d, a)
	}

	if err := p.svc.repo.PutEpisode(ctx, tracker.Episode()); err != nil {
		return fmt.Errorf("publish episode %s: %w", machine, err)
	}
	return nil
}

// closedWindows groups the closed, not yet scored windows of every channel
// by grid index.
func (p *partition) closedWindows(machine string, from time.Time, last int64, seen bool, cutoff time.Time) (map[int64]map[string]model.FeatureWindow, error) {
	spec := p.svc.window
	out := make(map[int64]map[string]model.FeatureWindow)
	for channel, rs := range p.svc.store.Since(machine, from) {
		series := model.TimeSeries{Key: model.SeriesKey{MachineID: machine, Channel: channel}, Readings: rs}
		windows, err := features.Windows(series, spec)
		if err != nil {
			return nil, err
		}
		for w := range windows {
			if seen && w.Index <= last {
				continue
			}
			if w.WindowEnd.After(cutoff) {
				break
			}
			metrics.RecordWindowExtracted(w.LowConfidence)
			if out[w.Index] == nil {
				out[w.Index] = make(map[string]model.FeatureWindow)
			}
			out[w.Index][channel] = w
		}
	}
	return out, nil
}

// baseline returns the trailing snapshot for a window starting at start.
func (p *partition) baseline(ctx context.Context, machine string, start time.Time) *baseline.Snapshot {
	began := time.Now()
	snap, built := p.svc.baselines.For(machine, start)
	if built {
		metrics.RecordBaselineRefresh(snap.Version, snap.Len(), float64(time.Since(began).Microseconds())/1000)
		p.log.Debug(ctx, "baseline snapshot built",
			logger.String("machine_id", machine),
			logger.Int64("version", int64(snap.Version)),
			logger.Time("as_of", snap.AsOf),
			logger.Int("channels", snap.Len()),
		)
	}
	return snap
}

func (p *partition) tracker(machine string) *escalation.Tracker {
	t, ok := p.trackers[machine]
	if !ok {
		t = escalation.NewTracker(machine, p.svc.policy)
		p.trackers[machine] = t
		metrics.RecordMachineTracked(model.StateNormal.String())
	}
	return t
}

// apply records the side effects of one decision.
func (p *partition) apply(ctx context.Context, d escalation.Decision, a model.RiskAssessment) {
	if d.Transitioned() {
		metrics.RecordStateTransition(d.From.String(), d.To.String())
		p.log.Info(ctx, "state transition",
			logger.String("machine_id", d.MachineID),
			logger.String("from", d.From.String()),
			logger.String("to", d.To.String()),
			logger.Float64("score", a.Score),
			logger.Time("timestamp", a.Timestamp),
		)
	}
	if d.Suppressed != "" {
		p.log.Debug(ctx, "notification suppressed",
			logger.String("machine_id", d.MachineID),
			logger.String("state", d.To.String()),
			logger.String("reason", d.Suppressed),
		)
	}
	if d.Notification == nil {
		return
	}
	if err := p.svc.dispatcher.Dispatch(ctx, *d.Notification); err != nil {
		p.log.Error(ctx, "notification dispatch failed",
			logger.String("machine_id", d.MachineID),
			logger.String("key", d.Notification.Key),
			logger.Error(err),
		)
	}
	if p.svc.narratives != nil {
		p.svc.narratives.Submit(narrative.Request{Assessment: a, State: d.To})
	}
}
