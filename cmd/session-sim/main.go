package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/openplay/internal/simulate"
)

// Default configuration constants.
const (
	defaultPlayers     = 64
	defaultCourts      = 6
	defaultHours       = 2
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultRetries     = 5
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL = flag.String("url", "http://localhost:9080", "Base URL of the service")
		players = flag.Int("players", defaultPlayers, "Players to register and queue")
		courts  = flag.Int("courts", defaultCourts, "Courts of the simulated session")
		hours   = flag.Int("hours", defaultHours, "Session duration in hours")
		rounds  = flag.Int("rounds", 0, "Upper bound on finish rounds (default: players)")
		workers = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Concurrent requests")
		retries = flag.Int("retries", defaultRetries, "Retries on 409 conflict")
		seed    = flag.Int64("seed", 0, "Seed for match winners (default: time-based)")
		timeout = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		logFile = flag.String("log", "", "Log file (default: session_sim_TIMESTAMP.log)")
		verbose = flag.Bool("verbose", false, "Enable verbose logging")
		help    = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	closer, err := simulate.SetupLogging(*logFile, *verbose)
	if err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = closer.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:       *baseURL,
		Players:       *players,
		Courts:        *courts,
		DurationHours: *hours,
		Rounds:        *rounds,
		Workers:       *workers,
		Retries:       *retries,
		Seed:          *seed,
		Timeout:       *timeout,
		Verbose:       *verbose,
	}

	if _, err := simulate.Run(ctx, cfg); err != nil {
		_, _ = os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1) //nolint:gocritic // cancel already called
	}
}
