package simulator

import (
	"errors"
	"time"
)

// Transports accepted by Config.Transport.
const (
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
)

// maxMachines matches the largest ranking page GET /machines serves.
const maxMachines = 500

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL   string        // Base URL of the service, also used for verification
	Transport string        // "http" or "mqtt"
	Broker    string        // MQTT broker URL when Transport is mqtt
	Topic     string        // MQTT topic when Transport is mqtt
	Machines  int           // Number of simulated machines
	Degrading int           // How many of them develop a fault
	History   time.Duration // Span of generated readings ending at End
	Interval  time.Duration // Sampling interval per channel
	Fault     time.Duration // Length of the fault at the end of History
	BatchSize int           // Records per publish
	Workers   int           // Concurrent publishers
	Timeout   time.Duration // HTTP request timeout
	Settle    time.Duration // Wait before verifying the ranking
	Seed      uint64        // Noise seed
	End       time.Time     // Last sample time; zero means now
	Verbose   bool          // Enable verbose logging
}

// Validate reports the first problem with c.
func (c *Config) Validate() error {
	switch {
	case c.Machines <= 0 || c.Machines > maxMachines:
		return errors.New("simulator: machines must be within [1, 500]")
	case c.Degrading < 0 || c.Degrading > c.Machines:
		return errors.New("simulator: degrading must be within [0, machines]")
	case c.Interval <= 0 || c.History < c.Interval:
		return errors.New("simulator: history must cover at least one interval")
	case c.Fault < 0 || c.Fault > c.History:
		return errors.New("simulator: fault must be within history")
	case c.BatchSize <= 0 || c.Workers <= 0:
		return errors.New("simulator: batch size and workers must be positive")
	case c.Transport != TransportHTTP && c.Transport != TransportMQTT:
		return errors.New("simulator: transport must be http or mqtt")
	case c.Transport == TransportMQTT && (c.Broker == "" || c.Topic == ""):
		return errors.New("simulator: mqtt transport needs broker and topic")
	}
	return nil
}

// Entry mirrors one row of GET /machines.
type Entry struct {
	Rank      int     `json:"rank"`
	MachineID string  `json:"machine_id"`
	Score     float64 `json:"score"`
	State     string  `json:"state"`
}

// Stats holds run statistics.
type Stats struct {
	RecordsGenerated int
	BatchesPublished int
	BatchesFailed    int
	RecordsRejected  int
	Ranked           int
	FaultsDetected   int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
