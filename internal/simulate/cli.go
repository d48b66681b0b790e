package simulate

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/openplay/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string, verbose bool) (io.Closer, error) {
	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "session_sim_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	if err := logger.Init(logger.WithWriter(io.MultiWriter(os.Stdout, file))); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	return file, nil
}

// ShowHelp prints usage information for the session simulator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`openplay session simulator
==========================

Registers players, opens a session, queues everyone concurrently, then
finishes matches with random winners until the queue drains. After every
round it checks that no court is double-booked and that nobody is queued
while seated; at the end it checks that every match moved ratings by a
zero-sum amount and that the leaderboard is ordered.

Usage:
  go run ./cmd/session-sim [options]

Options:
  -url string        Base URL of the service (default "http://localhost:9080")
  -players int       Players to register and queue (default 64)
  -courts int        Courts of the simulated session (default 6)
  -hours int         Session duration in hours (default 2)
  -rounds int        Upper bound on finish rounds (default: players)
  -workers int       Concurrent requests (default CPU cores * 2)
  -retries int       Retries on 409 conflict (default 5)
  -seed int          Seed for match winners (default: time-based)
  -timeout duration  HTTP request timeout (default 30s)
  -log string        Log file (default: session_sim_TIMESTAMP.log)
  -verbose           Enable verbose logging
  -help              Show this help message
`)
}
