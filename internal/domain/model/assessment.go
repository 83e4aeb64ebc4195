package model

import "time"

// RiskAssessment is the scored risk of one machine at one window end.
// Immutable: WithNarrative returns a copy.
type RiskAssessment struct {
	MachineID string    `json:"machine_id"`
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
	// ContributingFeatures maps channel to its renormalized weight.
	ContributingFeatures map[string]float64 `json:"contributing_features"`
	// Deviations maps channel to its normalized deviation in [0,1].
	Deviations           map[string]float64 `json:"deviations"`
	InsufficientBaseline bool               `json:"insufficient_baseline"`
	LowConfidence        bool               `json:"low_confidence"`
	BaselineVersion      uint64             `json:"baseline_version"`
	Narrative            string             `json:"narrative,omitempty"`

	// Windows carries the inputs behind the numeric score, for messages and narratives.
	Windows   map[string]FeatureWindow `json:"-"`
	Baselines map[string]Baseline      `json:"-"`
}

// WithNarrative returns a copy carrying the narrative text.
func (a RiskAssessment) WithNarrative(text string) RiskAssessment {
	a.Narrative = text
	return a
}

// SameScore reports whether two assessments agree on every numeric field.
func (a RiskAssessment) SameScore(b RiskAssessment) bool {
	if a.MachineID != b.MachineID || !a.Timestamp.Equal(b.Timestamp) || a.Score != b.Score ||
		a.InsufficientBaseline != b.InsufficientBaseline || a.LowConfidence != b.LowConfidence ||
		a.BaselineVersion != b.BaselineVersion {
		return false
	}
	return equalFloatMaps(a.ContributingFeatures, b.ContributingFeatures) &&
		equalFloatMaps(a.Deviations, b.Deviations)
}

func equalFloatMaps(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
