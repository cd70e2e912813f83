// SPDX-License-Identifier: MIT

package encoder

import (
	"bufio"
	"context"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/storesace-cv/bwb-stream2yt/internal/log"
	"github.com/storesace-cv/bwb-stream2yt/internal/procgroup"
)

const terminateGrace = 5 * time.Second

// Runner rotates through the configured scenes, supervising one encoder
// child at a time. The child is owned exclusively by the runner; nothing
// else signals it.
type Runner struct {
	profile Profile
	logger  zerolog.Logger

	cancel context.CancelFunc

	mu      sync.Mutex
	stopSig syscall.Signal

	// modeCh is pulsed when the mode file changes so the current scene can
	// be cut over without waiting for its full duration.
	modeCh chan struct{}

	// argsFn builds the child argument list; tests substitute it.
	argsFn func(Profile, string, Mode) []string
}

// NewRunner builds a runner for the given profile.
func NewRunner(p Profile) *Runner {
	return &Runner{
		profile: p,
		logger:  log.WithComponent("runner"),
		modeCh:  make(chan struct{}, 1),
		argsFn:  BuildArgs,
	}
}

// Stop terminates the current child with sig and ends the rotation loop.
func (r *Runner) Stop(sig syscall.Signal) {
	r.mu.Lock()
	r.stopSig = sig
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// StopSignal returns the signal passed to Stop, or 0 when the runner ended
// for another reason.
func (r *Runner) StopSignal() syscall.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopSig
}

// Run executes the scene rotation until Stop is called or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.watchModeFile(ctx)

	r.logger.Info().
		Str("target", maskKey(r.profile.TargetURL)).
		Int("scenes", len(r.profile.Scenes)).
		Int("scene_seconds", r.profile.SceneSeconds).
		Msg("scene rotation started")

	for idx := 0; ctx.Err() == nil; idx++ {
		scene := r.profile.Scenes[idx%len(r.profile.Scenes)]
		mode := ReadModeFile(r.profile.ModeFilePath, r.profile.DefaultMode)

		started := time.Now()
		err := r.runScene(ctx, scene, mode)
		if ctx.Err() != nil {
			break
		}

		elapsed := time.Since(started)
		completed := r.profile.SceneSeconds > 0 &&
			elapsed >= time.Duration(r.profile.SceneSeconds)*time.Second-2*time.Second

		if err != nil || !completed {
			if err != nil {
				r.logger.Warn().Err(err).Str("scene", scene).Msg("encoder child failed, backing off")
			} else {
				r.logger.Warn().Str("scene", scene).Dur("uptime", elapsed).
					Msg("encoder child exited early, backing off")
			}
			select {
			case <-ctx.Done():
			case <-time.After(r.profile.RetryDelay):
			}
		}
	}
	return ctx.Err()
}

// runScene launches one encoder child and returns when it exits, the mode
// file changes, or the runner stops.
func (r *Runner) runScene(ctx context.Context, scene string, mode Mode) error {
	args := r.argsFn(r.profile, scene, mode)
	cmd := exec.Command(r.profile.BinPath, args...) // #nosec G204
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	tracker := &progressTracker{}
	var ioWg sync.WaitGroup
	ioWg.Add(2)
	go func() {
		defer ioWg.Done()
		tracker.consume(stdout)
	}()
	go func() {
		defer ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				r.logger.Warn().Str("stderr", line).Msg("encoder child output")
			}
		}
	}()

	if err := cmd.Start(); err != nil {
		return err
	}
	r.logger.Info().Str("scene", scene).Str("mode", string(mode)).Msg("encoder child started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	ticker := time.NewTicker(r.profile.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitCh:
			ioWg.Wait()
			r.flushProgress(tracker)
			return err

		case <-ticker.C:
			r.flushProgress(tracker)

		case <-r.modeCh:
			r.logger.Info().Msg("mode file changed, cutting current scene over")
			if err := procgroup.Terminate(cmd, waitCh, syscall.SIGTERM, terminateGrace); err != nil {
				r.logger.Debug().Err(err).Msg("encoder child terminated for mode change")
			}
			ioWg.Wait()
			return nil

		case <-ctx.Done():
			sig := r.StopSignal()
			if sig == 0 {
				sig = syscall.SIGTERM
			}
			err := procgroup.Terminate(cmd, waitCh, sig, terminateGrace)
			ioWg.Wait()
			if err != nil {
				r.logger.Debug().Err(err).Msg("encoder child terminated")
			}
			return ctx.Err()
		}
	}
}

func (r *Runner) flushProgress(tracker *progressTracker) {
	sample, ok := tracker.snapshot()
	if !ok || r.profile.ProgressFilePath == "" {
		return
	}
	if err := WriteProgressFile(r.profile.ProgressFilePath, sample); err != nil {
		r.logger.Warn().Err(err).Msg("failed to write progress file")
	}
}

// watchModeFile pulses modeCh whenever the mode file is written. Watch
// failures are logged; the runner still re-reads the file on every scene.
func (r *Runner) watchModeFile(ctx context.Context) {
	if r.profile.ModeFilePath == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn().Err(err).Msg("mode file watch unavailable")
		return
	}
	dir := filepath.Dir(r.profile.ModeFilePath)
	if err := watcher.Add(dir); err != nil {
		r.logger.Warn().Err(err).Str("dir", dir).Msg("mode file watch unavailable")
		_ = watcher.Close()
		return
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != r.profile.ModeFilePath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case r.modeCh <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Debug().Err(err).Msg("mode file watch error")
			}
		}
	}()
}
