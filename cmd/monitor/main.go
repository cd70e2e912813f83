// SPDX-License-Identifier: MIT

// Command monitor is the secondary-host fallback controller: it receives
// heartbeats from the primary, decides when the slate must carry the
// channel, and drives the encoder unit through the service manager.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storesace-cv/bwb-stream2yt/internal/api"
	"github.com/storesace-cv/bwb-stream2yt/internal/config"
	"github.com/storesace-cv/bwb-stream2yt/internal/decider"
	"github.com/storesace-cv/bwb-stream2yt/internal/encoder"
	xlog "github.com/storesace-cv/bwb-stream2yt/internal/log"
	"github.com/storesace-cv/bwb-stream2yt/internal/pinger"
	"github.com/storesace-cv/bwb-stream2yt/internal/service"
	"github.com/storesace-cv/bwb-stream2yt/internal/store"
	"github.com/storesace-cv/bwb-stream2yt/internal/youtube"
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

	cfg := config.MonitorFromEnv()

	xlog.Configure(xlog.Config{
		Service: "bwb-monitor",
		File:    cfg.LogFilePath,
	})
	logger := xlog.WithComponent("monitor")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records := store.New(cfg.StateFilePath, cfg.HistoryWindow, cfg.MaxRecords)
	records.Load()

	ctrl := service.NewSystemd(cfg.SecondaryUnit)

	setMode := func(mode string) {
		if err := encoder.WriteModeFile(cfg.ModeFilePath, encoder.ParseMode(mode, encoder.ModeLife)); err != nil {
			logger.Warn().Err(err).Str("path", cfg.ModeFilePath).Msg("failed to write fallback mode")
		}
	}

	// The OAuth client is rebuilt per recovery so a refreshed token file is
	// picked up without a restart.
	hint := func(ctx context.Context) {
		client, err := youtube.NewClient(ctx, cfg.TokenFilePath)
		if err != nil {
			logger.Warn().Err(err).Msg("recovery hint skipped, oauth credentials unavailable")
			return
		}
		youtube.NewRecoveryProbe(client, cfg.StreamID).Run(ctx)
	}

	engine := decider.New(decider.Config{
		MissedThreshold:      cfg.MissedThreshold,
		RecoveryReports:      cfg.RecoveryReports,
		Cooldown:             cfg.Cooldown,
		CheckInterval:        cfg.CheckInterval,
		RecoveryHintCooldown: cfg.RecoveryHintCooldown,
	}, records, ctrl, hint, setMode)

	var camera *pinger.Pinger
	if cfg.CameraPingEnabled {
		camera = pinger.New(cfg.CameraPingHost, cfg.CameraPingEvery)
	}

	handler := api.New(api.Config{
		Token:        cfg.Token,
		RequireToken: cfg.RequireToken,
	}, records, engine, camera).Handler()

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("addr", cfg.ListenAddr()).
		Str("unit", cfg.SecondaryUnit).
		Dur("missed_threshold", cfg.MissedThreshold).
		Msg("starting bwb monitor")
	if cfg.RequireToken {
		logger.Info().Msg("→ Bearer auth: required for /status")
	} else if cfg.Token != "" {
		logger.Info().Msg("→ Bearer auth: token set, required for /status")
	} else {
		logger.Warn().Msg("→ Bearer auth: NOT configured; set YTR_TOKEN to protect /status")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := engine.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("monitor failed")
	}
	logger.Info().Msg("monitor exiting")
}
