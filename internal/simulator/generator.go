package simulator

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/okian/guardian/internal/domain/model"
)

// channel describes the healthy behaviour of one sensor and how it drifts
// while a fault develops.
type channel struct {
	name  string
	unit  string
	mean  float64
	noise float64
	drift float64 // added at the end of the fault, linearly ramped
}

var profiles = map[string][]channel{
	"PMP": {
		{name: "vibration_g", unit: "g", mean: 0.45, noise: 0.02, drift: 0.6},
		{name: "temperature_c", unit: "C", mean: 68, noise: 0.8, drift: 22},
		{name: "pressure_bar", unit: "bar", mean: 4.2, noise: 0.05, drift: -1.1},
		{name: "power_kw", unit: "kW", mean: 37, noise: 0.6, drift: 9},
		{name: "rpm", unit: "rpm", mean: 2950, noise: 8, drift: -140},
	},
	"CMP": {
		{name: "vibration_g", unit: "g", mean: 0.30, noise: 0.015, drift: 0.45},
		{name: "temperature_c", unit: "C", mean: 82, noise: 1.0, drift: 18},
		{name: "pressure_bar", unit: "bar", mean: 7.5, noise: 0.08, drift: -1.6},
		{name: "power_kw", unit: "kW", mean: 55, noise: 0.9, drift: 12},
		{name: "rpm", unit: "rpm", mean: 1480, noise: 5, drift: -90},
	},
}

var prefixes = []string{"PMP", "CMP"}

// Machine is one simulated asset.
type Machine struct {
	ID        string
	Degrading bool
	channels  []channel
}

// Machines returns the fleet described by cfg. The first cfg.Degrading
// machines develop a fault.
func Machines(cfg *Config) []Machine {
	out := make([]Machine, cfg.Machines)
	for i := range out {
		prefix := prefixes[i%len(prefixes)]
		out[i] = Machine{
			ID:        fmt.Sprintf("%s-%03d", prefix, i+1),
			Degrading: i < cfg.Degrading,
			channels:  profiles[prefix],
		}
	}
	return out
}

// Generate returns every reading of m in time order, ending at end.
func Generate(cfg *Config, m Machine, end time.Time, seed uint64) []model.RawRecord {
	steps := int(cfg.History / cfg.Interval)
	start := end.Add(-time.Duration(steps) * cfg.Interval)
	faultStart := end.Add(-cfg.Fault)
	rng := rand.New(rand.NewPCG(seed, hash(m.ID)))

	recs := make([]model.RawRecord, 0, (steps+1)*len(m.channels))
	for i := 0; i <= steps; i++ {
		ts := start.Add(time.Duration(i) * cfg.Interval)
		ramp := 0.0
		if m.Degrading && cfg.Fault > 0 && ts.After(faultStart) {
			ramp = math.Min(1, float64(ts.Sub(faultStart))/float64(cfg.Fault))
		}
		for _, ch := range m.channels {
			recs = append(recs, model.RawRecord{
				MachineID: m.ID,
				Channel:   ch.name,
				Timestamp: ts,
				Value:     ch.mean + rng.NormFloat64()*ch.noise + ramp*ch.drift,
				Unit:      ch.unit,
			})
		}
	}
	return recs
}

// Batches splits recs into chunks of at most size records.
func Batches(recs []model.RawRecord, size int) [][]model.RawRecord {
	var out [][]model.RawRecord
	for len(recs) > size {
		out = append(out, recs[:size:size])
		recs = recs[size:]
	}
	if len(recs) > 0 {
		out = append(out, recs)
	}
	return out
}

func hash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
