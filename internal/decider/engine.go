// SPDX-License-Identifier: MIT

// Package decider evaluates the heartbeat window on a fixed tick and drives
// the slate encoder unit with hysteresis so a flapping primary cannot cause
// rapid start/stop cycles.
package decider

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/storesace-cv/bwb-stream2yt/internal/log"
	"github.com/storesace-cv/bwb-stream2yt/internal/metrics"
	"github.com/storesace-cv/bwb-stream2yt/internal/service"
	"github.com/storesace-cv/bwb-stream2yt/internal/store"
)

// Mode values written to the fallback-mode file on transitions.
const (
	ModeLife  = "life"
	ModeSMPTE = "smpte"
)

// Config carries the hysteresis parameters.
type Config struct {
	MissedThreshold      time.Duration
	RecoveryReports      int
	Cooldown             time.Duration
	CheckInterval        time.Duration
	RecoveryHintCooldown time.Duration
}

// HintFunc is invoked on recovery transitions to refresh the broadcast
// binding on the platform side.
type HintFunc func(ctx context.Context)

// ModeFunc persists the fallback scene mode for the encoder runner.
type ModeFunc func(mode string)

// Status is the engine state exposed through the ingress snapshot.
type Status struct {
	FallbackActive bool
	LastDecision   string
	DecidedAt      time.Time
}

// Engine is the two-state decision machine. PrimaryUp means the fallback is
// inactive; PrimaryDown means the slate encoder carries the channel.
type Engine struct {
	cfg     Config
	records *store.Store
	ctrl    service.Controller
	hint    HintFunc
	setMode ModeFunc
	now     func() time.Time
	logger  zerolog.Logger

	hintCh chan struct{}

	mu                 sync.Mutex
	fallbackActive     bool
	consecutiveHealthy int
	lastTransitionAt   time.Time
	cooldownUntil      time.Time
	lastDecision       string
	decidedAt          time.Time
	lastHintAt         time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the monotonic time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine over the record store and service controller. hint and
// setMode may be nil.
func New(cfg Config, records *store.Store, ctrl service.Controller, hint HintFunc, setMode ModeFunc, opts ...Option) *Engine {
	if cfg.RecoveryReports <= 0 {
		cfg.RecoveryReports = 2
	}
	e := &Engine{
		cfg:     cfg,
		records: records,
		ctrl:    ctrl,
		hint:    hint,
		setMode: setMode,
		now:     time.Now,
		logger:  log.WithComponent("decider"),
		hintCh:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the decision loop until ctx is cancelled. The initial unit
// state is queried once so a restarted monitor picks up an already-running
// fallback.
func (e *Engine) Run(ctx context.Context) error {
	if active, err := e.ctrl.IsActive(ctx); err == nil {
		e.mu.Lock()
		e.fallbackActive = active
		e.mu.Unlock()
		metrics.SetFallbackActive(active)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.hintWorker(ctx)
	}()

	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	e.logger.Info().
		Dur("missed_threshold", e.cfg.MissedThreshold).
		Dur("check_interval", e.cfg.CheckInterval).
		Dur("cooldown", e.cfg.Cooldown).
		Int("recovery_reports", e.cfg.RecoveryReports).
		Msg("decision loop started")

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Status returns the engine view for the ingress snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		FallbackActive: e.fallbackActive,
		LastDecision:   e.lastDecision,
		DecidedAt:      e.decidedAt,
	}
}

// Tick runs one evaluation. Exported so tests can drive the engine with a
// fake clock instead of waiting on the ticker.
func (e *Engine) Tick(ctx context.Context) {
	e.records.EvictNow()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	snap := e.records.Snapshot()

	if e.fallbackActive {
		e.tickPrimaryDown(ctx, now, snap)
	} else {
		e.tickPrimaryUp(ctx, now, snap)
	}
	e.decidedAt = now
}

func (e *Engine) tickPrimaryUp(ctx context.Context, now time.Time, snap []store.Report) {
	if len(snap) == 0 {
		// No heartbeat on record at all: the primary is absent.
		e.transitionDown(ctx, now, ModeLife, "no heartbeats on record")
		return
	}

	latest := snap[len(snap)-1]
	age := now.Sub(latest.ReceivedAt)

	// A report exactly at the threshold is still fresh.
	stale := age > e.cfg.MissedThreshold
	hard := latest.HardCameraFailure()

	switch {
	case stale:
		e.transitionDown(ctx, now, ModeLife, "heartbeat missed threshold exceeded")
	case hard:
		e.transitionDown(ctx, now, ModeSMPTE, "camera signal and network both down")
	default:
		e.lastDecision = "primary healthy, fallback idle"
		e.logger.Debug().Dur("age", age).Msg("heartbeat fresh, keeping fallback off")
	}
}

func (e *Engine) tickPrimaryDown(ctx context.Context, now time.Time, snap []store.Report) {
	streak := e.healthyStreak(snap)
	e.consecutiveHealthy = streak

	fresh := false
	if len(snap) > 0 {
		fresh = now.Sub(snap[len(snap)-1].ReceivedAt) <= e.cfg.MissedThreshold
	}

	if streak >= e.cfg.RecoveryReports && fresh {
		e.transitionUp(ctx, now)
		return
	}

	// While down, mirror a hard camera failure into the scene mode so the
	// runner switches to bars without a unit restart.
	if len(snap) > 0 && fresh && snap[len(snap)-1].HardCameraFailure() {
		e.writeMode(ModeSMPTE)
	}

	e.lastDecision = "fallback active, awaiting recovery"
	e.logger.Debug().
		Int("healthy_streak", streak).
		Int("required", e.cfg.RecoveryReports).
		Bool("fresh", fresh).
		Msg("fallback stays active")
}

// healthyStreak counts consecutive healthy reports at the tail of the
// window, considering only reports that arrived after the last transition.
func (e *Engine) healthyStreak(snap []store.Report) int {
	streak := 0
	for i := len(snap) - 1; i >= 0; i-- {
		r := snap[i]
		if !e.lastTransitionAt.IsZero() && !r.ReceivedAt.After(e.lastTransitionAt) {
			break
		}
		if !r.Healthy() {
			break
		}
		streak++
	}
	return streak
}

func (e *Engine) transitionDown(ctx context.Context, now time.Time, mode, reason string) {
	if now.Before(e.cooldownUntil) {
		e.lastDecision = "start wanted (" + reason + "), suppressed by cooldown"
		e.logger.Info().Str("reason", reason).Time("cooldown_until", e.cooldownUntil).
			Msg("transition suppressed by cooldown")
		return
	}

	transitionID := uuid.NewString()
	e.writeMode(mode)

	res := e.ctrl.Start(ctx)
	if !res.Succeeded() {
		e.lastDecision = "start failed (" + res.String() + "), will retry"
		e.logger.Warn().Str("transition", transitionID).Str("result", res.String()).
			Msg("fallback start failed, retrying next tick")
		return
	}

	e.fallbackActive = true
	e.consecutiveHealthy = 0
	e.lastTransitionAt = now
	e.cooldownUntil = now.Add(e.cfg.Cooldown)
	e.lastDecision = "fallback started: " + reason
	metrics.TransitionsTotal.WithLabelValues("down").Inc()
	metrics.SetFallbackActive(true)
	e.logger.Warn().Str("transition", transitionID).Str("reason", reason).Str("mode", mode).
		Msg("primary lost, fallback started")
}

func (e *Engine) transitionUp(ctx context.Context, now time.Time) {
	if now.Before(e.cooldownUntil) {
		e.lastDecision = "stop wanted, suppressed by cooldown"
		e.logger.Info().Time("cooldown_until", e.cooldownUntil).
			Msg("recovery transition suppressed by cooldown")
		return
	}

	transitionID := uuid.NewString()
	res := e.ctrl.Stop(ctx)
	if !res.Succeeded() {
		e.lastDecision = "stop failed (" + res.String() + "), will retry"
		e.logger.Warn().Str("transition", transitionID).Str("result", res.String()).
			Msg("fallback stop failed, retrying next tick")
		return
	}

	e.fallbackActive = false
	e.consecutiveHealthy = 0
	e.lastTransitionAt = now
	e.cooldownUntil = now.Add(e.cfg.Cooldown)
	e.lastDecision = "fallback stopped: primary recovered"
	// Reset the scene mode so the next outage starts on the animated slate.
	e.writeMode(ModeLife)
	metrics.TransitionsTotal.WithLabelValues("up").Inc()
	metrics.SetFallbackActive(false)
	e.logger.Info().Str("transition", transitionID).Msg("primary recovered, fallback stopped")

	e.scheduleHint()
}

func (e *Engine) writeMode(mode string) {
	if e.setMode != nil {
		e.setMode(mode)
	}
}

// scheduleHint queues exactly one recovery hint; the worker applies its own
// cooldown. Callers hold e.mu.
func (e *Engine) scheduleHint() {
	if e.hint == nil {
		return
	}
	select {
	case e.hintCh <- struct{}{}:
	default:
	}
}

func (e *Engine) hintWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.hintCh:
			e.mu.Lock()
			now := e.now()
			tooSoon := !e.lastHintAt.IsZero() && now.Sub(e.lastHintAt) < e.cfg.RecoveryHintCooldown
			if !tooSoon {
				e.lastHintAt = now
			}
			e.mu.Unlock()

			if tooSoon {
				e.logger.Debug().Msg("recovery hint skipped, cooldown active")
				metrics.RecoveryHintsTotal.WithLabelValues("skipped_cooldown").Inc()
				continue
			}
			e.hint(ctx)
		}
	}
}
