package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/guardian/internal/simulator"
)

// Default configuration constants.
const (
	defaultMachines  = 20
	defaultDegrading = 3
	defaultHistory   = 26 * time.Hour
	defaultInterval  = time.Minute
	defaultFault     = 45 * time.Minute
	defaultBatch     = 500
	defaultWorkers   = 2 // multiplier for runtime.NumCPU()
	defaultTimeout   = 30 * time.Second
	defaultSettle    = 5 * time.Second
	defaultRunLimit  = 10 * time.Minute
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		transport = flag.String("transport", simulator.TransportHTTP, "Transport: http or mqtt")
		broker    = flag.String("broker", "", "MQTT broker URL")
		topic     = flag.String("topic", "plant/readings", "MQTT topic")
		machines  = flag.Int("machines", defaultMachines, "Fleet size")
		degrading = flag.Int("degrading", defaultDegrading, "Machines that develop a fault")
		history   = flag.Duration("history", defaultHistory, "Span of generated history")
		interval  = flag.Duration("interval", defaultInterval, "Sampling interval")
		fault     = flag.Duration("fault", defaultFault, "Length of the fault ramp")
		batch     = flag.Int("batch", defaultBatch, "Records per publish")
		workers   = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Concurrent publishers")
		timeout   = flag.Duration("timeout", defaultTimeout, "Request timeout")
		settle    = flag.Duration("settle", defaultSettle, "Wait before checking the ranking")
		seed      = flag.Uint64("seed", 1, "Noise seed")
		logFile   = flag.String("log", "", "Also write logs to this file")
		verbose   = flag.Bool("verbose", false, "Enable verbose logging")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulator.ShowHelp()
		return
	}

	closeLog, err := simulator.SetupLogging(*logFile)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunLimit)
	defer cancel()

	cfg := &simulator.Config{
		BaseURL:   *baseURL,
		Transport: *transport,
		Broker:    *broker,
		Topic:     *topic,
		Machines:  *machines,
		Degrading: *degrading,
		History:   *history,
		Interval:  *interval,
		Fault:     *fault,
		BatchSize: *batch,
		Workers:   *workers,
		Timeout:   *timeout,
		Settle:    *settle,
		Seed:      *seed,
		Verbose:   *verbose,
	}
	if _, err := simulator.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		closeLog()
		os.Exit(1)
	}
}
