package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/okian/guardian/internal/domain/model"
)

const defaultMaxPerMachine = 50_000

// MemoryStore implements AssessmentStore and EpisodeBoard in memory.
// Writers serialize on a mutex and keep the ranking index current, so a
// write costs O(log machines) and board reads only touch what they return.
type MemoryStore struct {
	mu            sync.RWMutex
	history       map[string][]model.RiskAssessment
	episodes      map[string]model.AlertEpisode
	index         *rankIndex
	maxPerMachine int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		history:       make(map[string][]model.RiskAssessment),
		episodes:      make(map[string]model.AlertEpisode),
		index:         newRankIndex(),
		maxPerMachine: defaultMaxPerMachine,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func search(hist []model.RiskAssessment, ts time.Time) int {
	return sort.Search(len(hist), func(i int) bool { return !hist[i].Timestamp.Before(ts) })
}

// Append stores a in timestamp order.
func (s *MemoryStore) Append(_ context.Context, a model.RiskAssessment) error {
	if a.MachineID == "" {
		return errors.New("append assessment: empty machine id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.history[a.MachineID]
	i := search(hist, a.Timestamp)
	switch {
	case i < len(hist) && hist[i].Timestamp.Equal(a.Timestamp):
		hist[i] = a
	case i == len(hist):
		hist = append(hist, a)
	default:
		hist = slices.Insert(hist, i, a)
	}
	if s.maxPerMachine > 0 && len(hist) > s.maxPerMachine {
		hist = slices.Clone(hist[len(hist)-s.maxPerMachine:])
	}
	s.history[a.MachineID] = hist
	s.index.Set(a.MachineID, hist[len(hist)-1].Score)
	return nil
}

// Range returns a copy of the assessments within [from, to).
func (s *MemoryStore) Range(_ context.Context, machineID string, from, to time.Time) ([]model.RiskAssessment, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fmt.Errorf("%w: to %s is before from %s", ErrInvalidRange, to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist, ok := s.history[machineID]
	if !ok {
		if _, known := s.episodes[machineID]; !known {
			return nil, ErrNotFound
		}
	}
	lo := 0
	if !from.IsZero() {
		lo = search(hist, from)
	}
	hi := len(hist)
	if !to.IsZero() {
		hi = search(hist, to)
	}
	if lo >= hi {
		return []model.RiskAssessment{}, nil
	}
	return slices.Clone(hist[lo:hi]), nil
}

// Latest returns the newest assessment of a machine.
func (s *MemoryStore) Latest(_ context.Context, machineID string) (model.RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.history[machineID]
	if len(hist) == 0 {
		return model.RiskAssessment{}, ErrNotFound
	}
	return hist[len(hist)-1], nil
}

// AttachNarrative swaps in a copy of the assessment carrying text.
func (s *MemoryStore) AttachNarrative(_ context.Context, machineID string, ts time.Time, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.history[machineID]
	i := search(hist, ts)
	if i == len(hist) || !hist[i].Timestamp.Equal(ts) {
		return fmt.Errorf("attach narrative %s@%s: %w", machineID, ts.Format(time.RFC3339), ErrNotFound)
	}
	hist[i] = hist[i].WithNarrative(text)
	return nil
}

// PutEpisode publishes the current episode of a machine.
func (s *MemoryStore) PutEpisode(_ context.Context, ep model.AlertEpisode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes[ep.MachineID] = ep
	if !s.index.Has(ep.MachineID) {
		s.index.Set(ep.MachineID, 0)
	}
	return nil
}

// Episode returns the published episode of a machine.
func (s *MemoryStore) Episode(_ context.Context, machineID string) (model.AlertEpisode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.episodes[machineID]
	if !ok {
		return model.AlertEpisode{}, ErrNotFound
	}
	return ep, nil
}

// TopN returns up to n machines ranked by latest score.
func (s *MemoryStore) TopN(_ context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ranking := make([]Entry, 0, min(n, s.index.Len()))
	s.index.Walk(n, func(id string, _ float64) {
		ranking = append(ranking, s.entryLocked(id, len(ranking)+1))
	})
	return ranking, nil
}

// Rank returns the ranking entry of one machine.
func (s *MemoryStore) Rank(_ context.Context, machineID string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos := s.index.Position(machineID)
	if pos == 0 {
		return Entry{}, ErrNotFound
	}
	return s.entryLocked(machineID, pos), nil
}

// Count returns the number of machines on the board.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

func (s *MemoryStore) entryLocked(machineID string, rank int) Entry {
	e := Entry{Rank: rank, MachineID: machineID, State: s.episodes[machineID].State}
	if hist := s.history[machineID]; len(hist) > 0 {
		e.Score = hist[len(hist)-1].Score
		e.Timestamp = hist[len(hist)-1].Timestamp
	}
	return e
}
