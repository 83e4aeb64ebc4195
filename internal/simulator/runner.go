package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/guardian/internal/domain/model"
	"github.com/okian/guardian/pkg/logger"
)

// Run generates a fleet, publishes its history and checks that the
// degrading machines rank above the healthy ones.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Named("simulator")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("transport", cfg.Transport),
		logger.Int("machines", cfg.Machines),
		logger.Int("degrading", cfg.Degrading),
		logger.Duration("history", cfg.History),
		logger.Duration("interval", cfg.Interval))

	if err := checkServiceHealth(ctx, cfg); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	pub, err := newPublisher(cfg)
	if err != nil {
		return stats, err
	}
	defer pub.Close()

	end := cfg.End
	if end.IsZero() {
		end = time.Now().UTC().Truncate(cfg.Interval)
	}
	fleet := Machines(cfg)
	var batches [][]model.RawRecord
	for _, m := range fleet {
		recs := Generate(cfg, m, end, cfg.Seed)
		stats.RecordsGenerated += len(recs)
		batches = append(batches, Batches(recs, cfg.BatchSize)...)
	}
	log.Info(ctx, "generated readings", logger.Int("records", stats.RecordsGenerated), logger.Int("batches", len(batches)))

	publishAll(ctx, cfg, pub, batches, stats)
	if stats.BatchesPublished == 0 {
		return stats, fmt.Errorf("no batch was published (%d failed)", stats.BatchesFailed)
	}

	if cfg.Settle > 0 {
		log.Info(ctx, "waiting for assessments", logger.Duration("settle", cfg.Settle))
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-time.After(cfg.Settle):
		}
	}

	ranking, err := fetchRanking(ctx, cfg, len(fleet))
	if err != nil {
		return stats, fmt.Errorf("ranking retrieval failed: %w", err)
	}
	verifyErr := verify(fleet, ranking, stats)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	log.Info(ctx, "final statistics",
		logger.Int("recordsGenerated", stats.RecordsGenerated),
		logger.Int("batchesPublished", stats.BatchesPublished),
		logger.Int("batchesFailed", stats.BatchesFailed),
		logger.Int("recordsRejected", stats.RecordsRejected),
		logger.Int("ranked", stats.Ranked),
		logger.Int("faultsDetected", stats.FaultsDetected),
		logger.Duration("duration", stats.Duration))
	return stats, verifyErr
}

func newPublisher(cfg *Config) (Publisher, error) {
	if cfg.Transport == TransportMQTT {
		return NewMQTTPublisher(cfg.Broker, cfg.Topic, cfg.Timeout)
	}
	return NewHTTPPublisher(cfg.BaseURL, cfg.Timeout), nil
}

// publishAll fans batches out to cfg.Workers publishers.
func publishAll(ctx context.Context, cfg *Config, pub Publisher, batches [][]model.RawRecord, stats *Stats) {
	var published, failed, rejected atomic.Int64
	work := make(chan []model.RawRecord, cfg.Workers*2)
	log := logger.Named("simulator")

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range work {
				n, err := pub.Publish(ctx, batch)
				if err != nil {
					failed.Add(1)
					if cfg.Verbose {
						log.Warn(ctx, "publish failed", logger.String("machine", batch[0].MachineID), logger.Error(err))
					}
					continue
				}
				published.Add(1)
				rejected.Add(int64(n))
			}
		}()
	}

	func() {
		defer close(work)
		for _, b := range batches {
			select {
			case <-ctx.Done():
				return
			case work <- b:
			}
		}
	}()
	wg.Wait()

	stats.BatchesPublished = int(published.Load())
	stats.BatchesFailed = int(failed.Load())
	stats.RecordsRejected = int(rejected.Load())
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, cfg *Config) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/healthz", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := (&http.Client{Timeout: cfg.Timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func fetchRanking(ctx context.Context, cfg *Config, limit int) ([]Entry, error) {
	url := cfg.BaseURL + "/machines?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := (&http.Client{Timeout: cfg.Timeout}).Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var out []Entry
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return out, nil
}

// verify checks that every degrading machine outranks every healthy one.
func verify(fleet []Machine, ranking []Entry, stats *Stats) error {
	stats.Ranked = len(ranking)
	pos := make(map[string]int, len(ranking))
	for i, e := range ranking {
		pos[e.MachineID] = i
	}

	worstFaulty, bestHealthy := -1, len(ranking)
	for _, m := range fleet {
		i, ok := pos[m.ID]
		if !ok {
			return fmt.Errorf("machine %s missing from ranking", m.ID)
		}
		if m.Degrading {
			if ranking[i].State != "NORMAL" {
				stats.FaultsDetected++
			}
			worstFaulty = max(worstFaulty, i)
		} else {
			bestHealthy = min(bestHealthy, i)
		}
	}
	if worstFaulty > bestHealthy {
		return fmt.Errorf("healthy machine %s ranks above degrading machine %s",
			ranking[bestHealthy].MachineID, ranking[worstFaulty].MachineID)
	}
	return nil
}
