// SPDX-License-Identifier: MIT

// Command fallback-runner is the slate encoder supervisor launched by the
// service manager. It rotates scenes, forwards termination signals to the
// encoder child and mirrors its progress to a small status file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/storesace-cv/bwb-stream2yt/internal/config"
	"github.com/storesace-cv/bwb-stream2yt/internal/encoder"
	xlog "github.com/storesace-cv/bwb-stream2yt/internal/log"
)

var (
	version   = "v1.2.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	envFile := flag.String("env-file", "", "encoder profile env file (default /etc/youtube-fallback.env)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xlog.Configure(xlog.Config{Service: "youtube-fallback"})
	logger := xlog.WithComponent("fallback-runner")

	path := *envFile
	if path == "" {
		path = config.ParseString("/etc/youtube-fallback.env", "YTF_ENV_FILE")
	}

	values, err := config.ParseEnvFile(path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("cannot read encoder profile")
	}

	profile, err := encoder.LoadProfile(values)
	if err != nil {
		// A broken profile must fail the unit visibly, not stream garbage.
		logger.Fatal().Err(err).Str("path", path).Msg("encoder profile invalid")
	}

	runner := encoder.NewRunner(profile)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("termination signal received, forwarding to child")
		if s, ok := sig.(syscall.Signal); ok {
			runner.Stop(s)
		} else {
			runner.Stop(syscall.SIGTERM)
		}
	}()

	err = runner.Run(context.Background())

	// Mirror the terminating signal in the exit code so the service manager
	// records the correct cause.
	if sig := runner.StopSignal(); sig != 0 {
		os.Exit(128 + int(sig))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("runner stopped with error")
		os.Exit(1)
	}
}
