// SPDX-License-Identifier: MIT

// Package pinger probes the camera host with the system ping binary so the
// monitor can cross-check the primary's camera-network claims.
package pinger

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/storesace-cv/bwb-stream2yt/internal/log"
)

var rttPattern = regexp.MustCompile(`time[=<]([0-9]+(?:\.[0-9]+)?)\s*ms`)

// runFunc executes ping; tests substitute it.
type runFunc func(ctx context.Context, host string, count int, timeout time.Duration) (output string, exitCode int, err error)

// Pinger caches the last probe result and refreshes it at most once per
// interval. A nil result means the probe could not run at all.
type Pinger struct {
	host     string
	interval time.Duration
	count    int
	timeout  time.Duration
	run      runFunc
	now      func() time.Time
	logger   zerolog.Logger

	mu            sync.Mutex
	lastChecked   time.Time
	lastReachable *bool
	lastRTTms     float64
	unavailLogged bool
}

// New creates a pinger for host, probing at most once per interval.
func New(host string, interval time.Duration) *Pinger {
	return &Pinger{
		host:     host,
		interval: interval,
		count:    1,
		timeout:  2 * time.Second,
		run:      runPing,
		now:      time.Now,
		logger:   log.WithComponent("pinger").With().Str("host", host).Logger(),
	}
}

func runPing(ctx context.Context, host string, count int, timeout time.Duration) (string, int, error) {
	deadline := time.Duration(count)*timeout + time.Second
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	cmd := exec.CommandContext(ctx, "ping", "-n", "-c", strconv.Itoa(count), "-W", strconv.Itoa(secs), host) // #nosec G204
	out, err := cmd.CombinedOutput()
	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			err = nil
		}
	}
	return string(out), code, err
}

// Reachable returns the cached probe result, refreshing it if the interval
// has elapsed. nil means unknown (probe unavailable).
func (p *Pinger) Reachable(ctx context.Context) *bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.lastChecked.IsZero() && now.Sub(p.lastChecked) < p.interval {
		return p.lastReachable
	}

	out, code, err := p.run(ctx, p.host, p.count, p.timeout)
	p.lastChecked = now

	if err != nil {
		// ping binary missing or unrunnable: unknown, not unreachable.
		p.lastReachable = nil
		if !p.unavailLogged {
			p.unavailLogged = true
			p.logger.Warn().Err(err).Msg("camera ping unavailable")
		}
		return nil
	}

	reachable := code == 0
	p.lastReachable = &reachable
	p.lastRTTms = 0
	if m := rttPattern.FindStringSubmatch(out); m != nil {
		if rtt, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.lastRTTms = rtt
		}
	}

	if reachable {
		p.logger.Debug().Float64("rtt_ms", p.lastRTTms).Msg("camera reachable")
	} else {
		p.logger.Warn().Str("output", strings.TrimSpace(out)).Msg("camera unreachable")
	}
	return p.lastReachable
}
