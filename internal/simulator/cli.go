package simulator

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/okian/guardian/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging initialises the logger and, when logFile is set, tees its
// output to that file.
func SetupLogging(logFile string) (func(), error) {
	if logFile == "" {
		if err := logger.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		return func() {}, nil
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	if err := logger.Init(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return func() { _ = file.Close() }, nil
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	os.Stdout.WriteString(`Guardian Fleet Simulator
========================

Generates sensor history for a fleet of pumps and compressors, lets some of
them develop a fault, publishes the readings and checks the risk ranking.

Usage:
  go run ./cmd/simulator [options]

Options:
  -url string         Base URL of the service (default "http://localhost:9080")
  -transport string   http or mqtt (default "http")
  -broker string      MQTT broker, e.g. tcp://localhost:1883
  -topic string       MQTT topic (default "plant/readings")
  -machines int       Fleet size (default 20)
  -degrading int      Machines that develop a fault (default 3)
  -history duration   Span of generated history (default 26h)
  -interval duration  Sampling interval (default 1m)
  -fault duration     Length of the fault ramp (default 45m)
  -batch int          Records per publish (default 500)
  -workers int        Concurrent publishers (default CPU cores * 2)
  -settle duration    Wait before checking the ranking (default 5s)
  -seed uint          Noise seed (default 1)
  -log string         Also write logs to this file
  -verbose            Log every failed publish
  -help               Show this help message

Examples:
  go run ./cmd/simulator -machines 50 -degrading 5
  go run ./cmd/simulator -transport mqtt -broker tcp://localhost:1883
`)
}
