// Package repository keeps assessment history and the current alert episodes
// for the dashboard and API readers.
package repository

import (
	"context"
	"time"

	"github.com/okian/guardian/internal/domain/model"
)

// Entry is one row of the risk ranking.
type Entry struct {
	Rank      int         `json:"rank"`
	MachineID string      `json:"machine_id"`
	Score     float64     `json:"score"`
	State     model.State `json:"state"`
	Timestamp time.Time   `json:"timestamp"`
}

// AssessmentStore holds scored assessments per machine in timestamp order.
type AssessmentStore interface {
	// Append stores a, replacing an assessment with the same timestamp.
	Append(ctx context.Context, a model.RiskAssessment) error
	// Range returns assessments with from <= timestamp < to. Zero bounds are open.
	Range(ctx context.Context, machineID string, from, to time.Time) ([]model.RiskAssessment, error)
	// Latest returns the newest assessment of a machine, or ErrNotFound.
	Latest(ctx context.Context, machineID string) (model.RiskAssessment, error)
	// AttachNarrative replaces the stored assessment with a copy carrying text.
	AttachNarrative(ctx context.Context, machineID string, ts time.Time, text string) error
}

// EpisodeBoard publishes the current episode of every machine.
type EpisodeBoard interface {
	PutEpisode(ctx context.Context, ep model.AlertEpisode) error
	Episode(ctx context.Context, machineID string) (model.AlertEpisode, error)
	// TopN ranks machines by latest score desc, then machine id asc.
	TopN(ctx context.Context, n int) ([]Entry, error)
	Count(ctx context.Context) int
}
