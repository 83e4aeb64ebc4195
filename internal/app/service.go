// Package service wires ingest, scoring, escalation and dispatch into the
// application used by the HTTP API and the batch sources.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/guardian/internal/adapters/mq/queue"
	"github.com/okian/guardian/internal/adapters/mq/worker"
	"github.com/okian/guardian/internal/adapters/narrative"
	"github.com/okian/guardian/internal/adapters/notify"
	"github.com/okian/guardian/internal/adapters/repository"
	"github.com/okian/guardian/internal/domain/baseline"
	"github.com/okian/guardian/internal/domain/dedupe"
	"github.com/okian/guardian/internal/domain/escalation"
	"github.com/okian/guardian/internal/domain/features"
	"github.com/okian/guardian/internal/domain/ingest"
	"github.com/okian/guardian/internal/domain/model"
	"github.com/okian/guardian/internal/domain/scoring"
	"github.com/okian/guardian/pkg/logger"
	"github.com/okian/guardian/pkg/metrics"
)

// MachineView is what the dashboard shows for one machine.
type MachineView struct {
	MachineID   string                 `json:"machine_id"`
	Rank        int                    `json:"rank,omitempty"`
	Assessments []model.RiskAssessment `json:"assessments"`
	Episode     model.AlertEpisode     `json:"episode"`
}

// Service implements the API dependencies of the monitoring system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      *ingest.Store
	ingestor   *ingest.Ingestor
	baselines  *baseline.Cache
	scorer     *scoring.Scorer
	repo       *repository.MemoryStore
	ledger     dedupe.Deduper
	dispatcher *notify.Dispatcher
	narratives *narrative.Runner
	pool       *worker.Pool

	// Configuration
	workerCount   int
	queueSize     int
	cycleInterval time.Duration
	skew          time.Duration
	retention     time.Duration
	units         map[string]string
	window        features.WindowSpec
	trailing      time.Duration
	baselineMin   int
	refresh       time.Duration
	weights       map[string]float64
	k             float64
	discount      float64
	policy        escalation.Policy
	notifiers     []notify.Notifier
	dispatchOpts  []notify.Option
	dedupeSize    int
	generator     narrative.Generator
	narrativeOpts []narrative.RunnerOption
	now           func() time.Time

	// State
	started bool
	cancel  context.CancelFunc
	cycleWG sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service. Configuration errors in the window grid, the
// weights or the escalation policy are returned here.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		workerCount:   runtime.NumCPU(),
		queueSize:     1024,
		cycleInterval: time.Minute,
		skew:          5 * time.Minute,
		units:         ingest.DefaultUnits(),
		window:        features.WindowSpec{Size: 15 * time.Minute, Stride: 5 * time.Minute, MinSamples: 3},
		trailing:      baseline.DefaultTrailing,
		baselineMin:   baseline.DefaultMinSamples,
		refresh:       time.Hour,
		weights:       scoring.DefaultWeights(),
		k:             scoring.DefaultK,
		discount:      scoring.DefaultLowConfidenceDiscount,
		policy:        escalation.DefaultPolicy(),
		dedupeSize:    50_000,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	if err := s.window.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", scoring.ErrConfig, err)
	}
	if err := s.policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", scoring.ErrConfig, err)
	}
	scorer, err := scoring.New(s.weights, scoring.WithK(s.k), scoring.WithLowConfidenceDiscount(s.discount))
	if err != nil {
		return nil, err
	}
	s.scorer = scorer

	storeOpts := []ingest.StoreOption{}
	if s.retention > 0 {
		storeOpts = append(storeOpts, ingest.WithRetention(s.retention))
	}
	s.store = ingest.NewStore(storeOpts...)
	s.ingestor = ingest.New(s.store,
		ingest.WithUnits(s.units),
		ingest.WithSkewTolerance(s.skew),
		ingest.WithClock(s.now),
	)
	s.baselines = baseline.NewCache(s.store.MachineSeries, s.trailing, s.baselineMin, s.refresh)
	s.repo = repository.NewMemoryStore()
	s.ledger = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))

	targets := s.notifiers
	if len(targets) == 0 {
		targets = []notify.Notifier{notify.NewLogNotifier(s.logger.Named("alerts"))}
	}
	dispatchOpts := append([]notify.Option{notify.WithLedger(s.ledger)}, s.dispatchOpts...)
	s.dispatcher = notify.NewDispatcher(targets, dispatchOpts...)

	if s.generator != nil {
		s.narratives = narrative.NewRunner(s.generator, s.attachNarrative, s.narrativeOpts...)
	}

	s.pool = worker.NewPool(s.workerCount, func(i int) worker.Processor {
		return newPartition(i, s)
	}, worker.WithQueueCapacity(s.queueSize))
	return s, nil
}

// Start starts the workers and the monitoring cycle.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool.Start(runCtx)

	s.cycleWG.Add(1)
	go s.cycleLoop(runCtx)

	s.started = true
	s.logger.Info(ctx, "guardian service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Duration("cycleInterval", s.cycleInterval),
		logger.Int("notifiers", len(s.notifiers)),
		logger.Bool("narratives", s.narratives != nil),
	)
	return nil
}

// Stop drains the queues and stops every background goroutine.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping guardian service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
	}
	s.cancel()
	s.cycleWG.Wait()
	if s.narratives != nil {
		s.narratives.Stop()
	}

	s.started = false
	s.logger.Info(ctx, "guardian service stopped")
}

func (s *Service) cycleLoop(ctx context.Context) {
	defer s.cycleWG.Done()
	ticker := time.NewTicker(s.cycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle schedules every known machine.
func (s *Service) RunCycle(ctx context.Context) int {
	machines := s.store.Machines()
	s.schedule(ctx, "cycle", machines)
	return len(machines)
}

// IngestBatch implements source.Sink.
func (s *Service) IngestBatch(ctx context.Context, src string, recs []model.RawRecord) error {
	report, err := s.Ingest(ctx, src, recs)
	if err != nil {
		return err
	}
	if report.Accepted == 0 && len(report.Rejected) > 0 {
		return fmt.Errorf("%w: all %d records rejected, first: %w",
			ingest.ErrValidation, len(report.Rejected), report.Rejected[0])
	}
	return nil
}

// Ingest validates and stores a batch, then schedules the touched machines.
func (s *Service) Ingest(ctx context.Context, src string, recs []model.RawRecord) (ingest.Report, error) {
	batchID := uuid.NewString()
	report, err := s.ingestor.Ingest(ctx, recs)
	if err != nil {
		return report, err
	}
	metrics.RecordBatchIngested(src)
	metrics.UpdateSeriesTracked(s.store.SeriesCount())
	s.logger.Debug(ctx, "batch ingested",
		logger.String("batch_id", batchID),
		logger.String("source", src),
		logger.Int("received", report.Received),
		logger.Int("accepted", report.Accepted),
		logger.Int("duplicates", report.Duplicates),
		logger.Int("rejected", len(report.Rejected)),
	)

	if len(report.Machines) > 0 {
		s.schedule(ctx, "ingest", report.Machines)
	}
	return report, nil
}

func (s *Service) schedule(ctx context.Context, reason string, machines []string) {
	for _, m := range machines {
		if err := s.pool.Submit(ctx, queue.Job{MachineID: m, Reason: reason}); err != nil {
			if errors.Is(err, queue.ErrFull) {
				s.logger.Warn(ctx, "partition queue full, machine left for the next cycle",
					logger.String("machine_id", m))
				continue
			}
			s.logger.Debug(ctx, "job not scheduled", logger.String("machine_id", m), logger.Error(err))
		}
	}
}

// Baseline returns the snapshot a window of machineID starting at start is
// scored against.
func (s *Service) Baseline(machineID string, start time.Time) *baseline.Snapshot {
	snap, _ := s.baselines.For(machineID, start)
	return snap
}

// WaitIdle blocks until every scheduled job has been processed.
func (s *Service) WaitIdle(ctx context.Context) error { return s.pool.WaitIdle(ctx) }

func (s *Service) attachNarrative(machineID string, ts time.Time, text string) error {
	return s.repo.AttachNarrative(context.Background(), machineID, ts, text)
}

// Assessments returns the assessments of a machine within [from, to).
func (s *Service) Assessments(ctx context.Context, machineID string, from, to time.Time) ([]model.RiskAssessment, error) {
	return s.repo.Range(ctx, machineID, from, to)
}

// Episode returns the current episode of a machine.
func (s *Service) Episode(ctx context.Context, machineID string) (model.AlertEpisode, error) {
	return s.repo.Episode(ctx, machineID)
}

// MachineView returns the ordered assessments within [from, to) and the
// current episode of a machine.
func (s *Service) MachineView(ctx context.Context, machineID string, from, to time.Time) (MachineView, error) {
	as, err := s.repo.Range(ctx, machineID, from, to)
	if err != nil {
		return MachineView{}, err
	}
	ep, err := s.repo.Episode(ctx, machineID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return MachineView{}, err
	}
	if errors.Is(err, repository.ErrNotFound) {
		ep = model.AlertEpisode{MachineID: machineID, State: model.StateNormal}
	}
	view := MachineView{MachineID: machineID, Assessments: as, Episode: ep}
	if e, err := s.repo.Rank(ctx, machineID); err == nil {
		view.Rank = e.Rank
	}
	return view, nil
}

// Machines returns up to n machines ranked by latest risk score.
func (s *Service) Machines(ctx context.Context, n int) ([]repository.Entry, error) {
	return s.repo.TopN(ctx, n)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":        s.started,
		"workerCount":    s.workerCount,
		"queueSize":      s.queueSize,
		"pendingJobs":    s.pool.Pending(ctx),
		"machines":       len(s.store.Machines()),
		"series":         s.store.SeriesCount(),
		"watermark":      s.store.Watermark(),
		"scoredMachines": s.repo.Count(ctx),
		"ledgerSize":     s.ledger.Size(),
	}
	stats["baselineVersion"] = s.baselines.Version()
	stats["baselineMachines"] = s.baselines.Machines()
	return stats
}
