// SPDX-License-Identifier: MIT

package decider

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storesace-cv/bwb-stream2yt/internal/service"
	"github.com/storesace-cv/bwb-stream2yt/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeCtrl struct {
	mu         sync.Mutex
	active     bool
	startCalls int
	stopCalls  int
	startRes   service.Result
	stopRes    service.Result
}

func (f *fakeCtrl) Start(context.Context) service.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startRes.Succeeded() {
		f.active = true
	}
	return f.startRes
}

func (f *fakeCtrl) Stop(context.Context) service.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if f.stopRes.Succeeded() {
		f.active = false
	}
	return f.stopRes
}

func (f *fakeCtrl) IsActive(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}

func boolPtr(b bool) *bool { return &b }

type harness struct {
	clock *fakeClock
	store *store.Store
	ctrl  *fakeCtrl
	eng   *Engine
	modes []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock: &fakeClock{t: time.Unix(10_000, 0)},
		ctrl:  &fakeCtrl{startRes: service.Ok, stopRes: service.Ok},
	}
	h.store = store.New(filepath.Join(t.TempDir(), "state.json"), 300*time.Second, 256, store.WithClock(h.clock.Now))
	h.eng = New(Config{
		MissedThreshold:      40 * time.Second,
		RecoveryReports:      2,
		Cooldown:             30 * time.Second,
		CheckInterval:        5 * time.Second,
		RecoveryHintCooldown: 300 * time.Second,
	}, h.store, h.ctrl, nil, func(mode string) { h.modes = append(h.modes, mode) }, WithClock(h.clock.Now))
	return h
}

func (h *harness) healthyReport() store.Report {
	return store.Report{
		ReceivedAt:            h.clock.Now(),
		StreamingActive:       true,
		CameraSignalAvailable: boolPtr(true),
	}
}

func TestColdStartNoPrimaryStartsFallback(t *testing.T) {
	h := newHarness(t)

	h.clock.Advance(5 * time.Second)
	h.eng.Tick(context.Background())

	assert.Equal(t, 1, h.ctrl.startCalls)
	assert.True(t, h.eng.Status().FallbackActive)
	assert.Equal(t, []string{ModeLife}, h.modes)
}

func TestHappyHeartbeatStreamNeverStarts(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 10; i++ {
		h.store.Append(h.healthyReport())
		h.clock.Advance(20 * time.Second)
		h.eng.Tick(context.Background())
	}

	assert.Equal(t, 0, h.ctrl.startCalls)
	assert.False(t, h.eng.Status().FallbackActive)
}

func TestOutageAfterMissedThreshold(t *testing.T) {
	h := newHarness(t)

	h.store.Append(h.healthyReport())

	h.clock.Advance(40 * time.Second) // exactly at the threshold: still fresh
	h.eng.Tick(context.Background())
	assert.Equal(t, 0, h.ctrl.startCalls, "report exactly at threshold is fresh")

	h.clock.Advance(5 * time.Second)
	h.eng.Tick(context.Background())
	assert.Equal(t, 1, h.ctrl.startCalls)
	assert.True(t, h.eng.Status().FallbackActive)
}

func TestRecoveryAfterConsecutiveHealthyReports(t *testing.T) {
	h := newHarness(t)

	// Outage: fallback comes up.
	h.clock.Advance(5 * time.Second)
	h.eng.Tick(context.Background())
	require.True(t, h.eng.Status().FallbackActive)

	// Past the cooldown, one healthy report is not enough.
	h.clock.Advance(60 * time.Second)
	h.store.Append(h.healthyReport())
	h.eng.Tick(context.Background())
	assert.Equal(t, 0, h.ctrl.stopCalls)

	// Second consecutive healthy report clears the outage.
	h.clock.Advance(20 * time.Second)
	h.store.Append(h.healthyReport())
	h.clock.Advance(5 * time.Second)
	h.eng.Tick(context.Background())

	assert.Equal(t, 1, h.ctrl.stopCalls)
	assert.False(t, h.eng.Status().FallbackActive)
	// Mode reset to the animated slate for the next outage.
	assert.Equal(t, ModeLife, h.modes[len(h.modes)-1])
}

func TestUnhealthyReportResetsStreak(t *testing.T) {
	h := newHarness(t)

	h.clock.Advance(5 * time.Second)
	h.eng.Tick(context.Background())
	require.True(t, h.eng.Status().FallbackActive)

	h.clock.Advance(60 * time.Second)
	h.store.Append(h.healthyReport())
	h.clock.Advance(20 * time.Second)

	bad := h.healthyReport()
	bad.StreamingActive = false
	h.store.Append(bad)
	h.clock.Advance(20 * time.Second)

	h.store.Append(h.healthyReport())
	h.eng.Tick(context.Background())

	assert.Equal(t, 0, h.ctrl.stopCalls, "streak restarts after an unhealthy report")
}

func TestCameraHardFailureStartsFallbackDespiteFreshReports(t *testing.T) {
	h := newHarness(t)

	r := store.Report{
		ReceivedAt:             h.clock.Now(),
		StreamingActive:        true,
		CameraSignalAvailable:  boolPtr(false),
		CameraNetworkReachable: boolPtr(false),
	}
	h.store.Append(r)
	h.clock.Advance(5 * time.Second)
	h.eng.Tick(context.Background())

	assert.Equal(t, 1, h.ctrl.startCalls)
	assert.Equal(t, []string{ModeSMPTE}, h.modes)
}

func TestCooldownSuppressesTransitions(t *testing.T) {
	h := newHarness(t)

	// Start the fallback.
	h.clock.Advance(5 * time.Second)
	h.eng.Tick(context.Background())
	require.Equal(t, 1, h.ctrl.startCalls)

	// Two healthy reports land inside the cooldown window.
	h.clock.Advance(5 * time.Second)
	h.store.Append(h.healthyReport())
	h.clock.Advance(5 * time.Second)
	h.store.Append(h.healthyReport())
	h.clock.Advance(5 * time.Second)
	h.eng.Tick(context.Background())

	assert.Equal(t, 0, h.ctrl.stopCalls, "stop suppressed while cooling down")
	assert.Contains(t, h.eng.Status().LastDecision, "cooldown")

	// After the cooldown the stop goes through.
	h.clock.Advance(15 * time.Second)
	h.eng.Tick(context.Background())
	assert.Equal(t, 1, h.ctrl.stopCalls)
}

func TestServiceFailureIsRetriedNextTick(t *testing.T) {
	h := newHarness(t)
	h.ctrl.startRes = service.PermissionDenied

	h.clock.Advance(5 * time.Second)
	h.eng.Tick(context.Background())
	assert.False(t, h.eng.Status().FallbackActive)
	assert.Equal(t, 1, h.ctrl.startCalls)

	// No cooldown was armed by the failed attempt: the next tick retries.
	h.ctrl.startRes = service.Ok
	h.clock.Advance(5 * time.Second)
	h.eng.Tick(context.Background())
	assert.True(t, h.eng.Status().FallbackActive)
	assert.Equal(t, 2, h.ctrl.startCalls)
}

func TestRecoveryHintScheduledOncePerTransition(t *testing.T) {
	h := newHarness(t)

	var hintMu sync.Mutex
	hints := 0
	h.eng.hint = func(context.Context) {
		hintMu.Lock()
		hints++
		hintMu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.eng.hintWorker(ctx)
	}()

	// Outage, then recovery.
	h.clock.Advance(5 * time.Second)
	h.eng.Tick(ctx)
	h.clock.Advance(60 * time.Second)
	h.store.Append(h.healthyReport())
	h.clock.Advance(20 * time.Second)
	h.store.Append(h.healthyReport())
	h.clock.Advance(5 * time.Second)
	h.eng.Tick(ctx)
	require.False(t, h.eng.Status().FallbackActive)

	// Additional ticks must not queue further hints.
	h.eng.Tick(ctx)
	h.eng.Tick(ctx)

	assert.Eventually(t, func() bool {
		hintMu.Lock()
		defer hintMu.Unlock()
		return hints == 1
	}, time.Second, 10*time.Millisecond)

	// A second recovery inside the hint cooldown is skipped by the worker.
	h.clock.Advance(40 * time.Second)
	h.eng.Tick(ctx) // outage again
	h.clock.Advance(60 * time.Second)
	h.store.Append(h.healthyReport())
	h.clock.Advance(20 * time.Second)
	h.store.Append(h.healthyReport())
	h.clock.Advance(5 * time.Second)
	h.eng.Tick(ctx)

	time.Sleep(50 * time.Millisecond)
	hintMu.Lock()
	assert.Equal(t, 1, hints, "hint cooldown holds across transitions")
	hintMu.Unlock()

	cancel()
	<-done
}
