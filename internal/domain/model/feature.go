package model

import "time"

// FeatureWindow holds rolling statistics of one channel over one window.
// Derived data: never mutated, superseded by newer windows.
type FeatureWindow struct {
	MachineID   string    `json:"machine_id"`
	Channel     string    `json:"channel"`
	Index       int64     `json:"index"` // position on the stride grid
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Count       int       `json:"count"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"stddev"`
	Slope       float64   `json:"slope"` // units per second
	MaxDelta    float64   `json:"max_delta"`
	Last        float64   `json:"last"`
	// LowConfidence marks windows with fewer samples than the configured minimum.
	LowConfidence bool `json:"low_confidence"`
}

// Baseline is the trailing reference of one channel.
type Baseline struct {
	Mean    float64   `json:"mean"`
	StdDev  float64   `json:"stddev"`
	Samples int       `json:"samples"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
}
