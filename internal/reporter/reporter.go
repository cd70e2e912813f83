// SPDX-License-Identifier: MIT

// Package reporter runs on the primary host and pushes periodic status
// snapshots to the secondary monitor. It never blocks the streaming worker:
// everything happens on its own goroutine with bounded timeouts.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/storesace-cv/bwb-stream2yt/internal/log"
)

// Status is the local state snapshot serialized into each heartbeat.
type Status struct {
	StreamingActive        bool           `json:"streamingActive"`
	FfmpegRunning          bool           `json:"ffmpegRunning"`
	DayWindowActive        bool           `json:"dayWindowActive"`
	CameraSignalAvailable  *bool          `json:"cameraSignalAvailable"`
	CameraNetworkReachable *bool          `json:"cameraNetworkReachable"`
	LastError              string         `json:"lastError,omitempty"`
	Config                 map[string]any `json:"config,omitempty"`
}

// StatusFunc supplies the current local state. It must be fast and must not
// block on the streaming worker.
type StatusFunc func() Status

// Config carries the reporter parameters.
type Config struct {
	BaseURL   string
	Token     string
	MachineID string

	Interval   time.Duration
	Timeout    time.Duration
	MaxBackoff time.Duration

	// LogPath, when set, receives a JSONL delivery log pruned to LogRetention.
	LogPath      string
	LogRetention time.Duration
}

// Reporter posts heartbeats with exponential backoff on transport failure.
type Reporter struct {
	cfg      Config
	statusFn StatusFunc
	client   *http.Client
	logger   zerolog.Logger
	now      func() time.Time

	bo *backoff.ExponentialBackOff
}

// New builds a reporter. Defaults: 20 s interval, 10 s timeout, 120 s
// backoff cap, 1 h delivery-log retention.
func New(cfg Config, statusFn StatusFunc) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 120 * time.Second
	}
	if cfg.LogRetention <= 0 {
		cfg.LogRetention = time.Hour
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.Interval
	bo.MaxInterval = cfg.MaxBackoff
	bo.Reset()

	return &Reporter{
		cfg:      cfg,
		statusFn: statusFn,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   log.WithComponent("reporter"),
		now:      time.Now,
		bo:       bo,
	}
}

// Run sends heartbeats until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	r.logger.Info().
		Str("endpoint", r.endpoint()).
		Dur("interval", r.cfg.Interval).
		Msg("heartbeat reporter started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("heartbeat reporter stopped")
			return ctx.Err()
		case <-timer.C:
		}

		delay := r.cfg.Interval
		if err := r.sendOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay = r.bo.NextBackOff()
			if delay > r.cfg.MaxBackoff {
				delay = r.cfg.MaxBackoff
			}
			r.logger.Warn().Err(err).Dur("retry_in", delay).Msg("heartbeat delivery failed")
		} else {
			r.bo.Reset()
		}
		timer.Reset(delay)
	}
}

func (r *Reporter) endpoint() string {
	return strings.TrimRight(r.cfg.BaseURL, "/") + "/status"
}

// sendOnce delivers one heartbeat. A 401 is not a transport failure: the
// report cadence stays normal while the operator fixes the token.
func (r *Reporter) sendOnce(ctx context.Context) error {
	payload := map[string]any{
		"reportedAt": r.now().UTC().Format(time.RFC3339Nano),
		"machine_id": r.cfg.MachineID,
	}
	status := r.statusFn()
	payload["streamingActive"] = status.StreamingActive
	payload["ffmpegRunning"] = status.FfmpegRunning
	payload["dayWindowActive"] = status.DayWindowActive
	payload["cameraSignalAvailable"] = status.CameraSignalAvailable
	payload["cameraNetworkReachable"] = status.CameraNetworkReachable
	if status.LastError != "" {
		payload["lastError"] = status.LastError
	}
	if status.Config != nil {
		payload["config"] = status.Config
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	started := time.Now()
	resp, err := r.client.Do(req)
	latency := time.Since(started)

	entry := deliveryEntry{
		Timestamp: r.now().UTC(),
		Endpoint:  r.endpoint(),
		LatencyMS: latency.Milliseconds(),
	}

	if err != nil {
		entry.Error = err.Error()
		r.appendDeliveryLog(entry)
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	entry.StatusCode = resp.StatusCode
	entry.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	r.appendDeliveryLog(entry)

	switch {
	case entry.Success:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		// Auth problems are config problems; keep the normal cadence.
		r.logger.Warn().Msg("monitor rejected the bearer token")
		return nil
	default:
		return fmt.Errorf("monitor answered HTTP %d", resp.StatusCode)
	}
}
