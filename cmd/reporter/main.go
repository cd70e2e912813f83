// SPDX-License-Identifier: MIT

// Command reporter runs on the primary host next to the streaming worker
// and posts periodic status heartbeats to the secondary monitor.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/storesace-cv/bwb-stream2yt/internal/config"
	xlog "github.com/storesace-cv/bwb-stream2yt/internal/log"
	"github.com/storesace-cv/bwb-stream2yt/internal/reporter"
)

var (
	version   = "v1.2.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xlog.Configure(xlog.Config{Service: "bwb-reporter"})
	logger := xlog.WithComponent("reporter-main")

	baseURL := config.ParseString("", "BWB_STATUS_URL", "YTR_STATUS_URL")
	if baseURL == "" {
		logger.Fatal().Msg("BWB_STATUS_URL is required (monitor base URL)")
	}

	machineID := config.ParseString("", "BWB_STATUS_MACHINE_ID")
	if machineID == "" {
		if host, err := os.Hostname(); err == nil {
			machineID = host
		} else {
			machineID = "primary"
		}
	}

	statusPath := config.ParseString("", "BWB_PRIMARY_STATUS_FILE")

	cfg := reporter.Config{
		BaseURL:    baseURL,
		Token:      config.ParseString("", "BWB_STATUS_TOKEN", "YTR_TOKEN"),
		MachineID:  machineID,
		Interval:   config.ParseDuration(0, "BWB_STATUS_INTERVAL"),
		Timeout:    config.ParseDuration(0, "BWB_STATUS_TIMEOUT"),
		MaxBackoff: config.ParseDuration(0, "BWB_STATUS_MAX_BACKOFF"),
		LogPath:    config.ParseString("", "BWB_STATUS_LOG_FILE"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := reporter.New(cfg, statusFromFile(statusPath))
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("reporter failed")
	}
}

// statusFromFile reads the local state snapshot the streaming worker
// maintains. When the file is absent the heartbeat still goes out, carrying
// the read error so the monitor sees the primary alive but degraded.
func statusFromFile(path string) reporter.StatusFunc {
	return func() reporter.Status {
		if path == "" {
			return reporter.Status{}
		}
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return reporter.Status{LastError: "status file: " + err.Error()}
		}
		var status reporter.Status
		if err := json.Unmarshal(data, &status); err != nil {
			return reporter.Status{LastError: "status file: " + err.Error()}
		}
		return status
	}
}
