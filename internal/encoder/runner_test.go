// SPDX-License-Identifier: MIT

//go:build unix

package encoder

import (
	"context"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shProfile runs /bin/sh children so the rotation loop can be exercised
// without an encoder binary.
func shProfile(t *testing.T) Profile {
	t.Helper()
	dir := t.TempDir()
	return Profile{
		TargetURL:        "rtmps://b.rtmps.youtube.com/live2?backup=1/test",
		Scenes:           []string{"one", "two"},
		SceneSeconds:     1,
		RetryDelay:       10 * time.Millisecond,
		ProgressInterval: time.Hour,
		ProgressFilePath: filepath.Join(dir, "progress"),
		ModeFilePath:     filepath.Join(dir, "mode"),
		DefaultMode:      ModeLife,
		BinPath:          "sh",
	}
}

func TestRunnerRotatesScenes(t *testing.T) {
	p := shProfile(t)
	r := NewRunner(p)

	var mu sync.Mutex
	var launched []string
	r.argsFn = func(_ Profile, scene string, _ Mode) []string {
		mu.Lock()
		launched = append(launched, scene)
		mu.Unlock()
		return []string{"-c", "exit 0"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(launched) >= 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "one", launched[0])
	assert.Equal(t, "two", launched[1])
	assert.Equal(t, "one", launched[2], "rotation wraps around")
}

func TestRunnerStopForwardsSignal(t *testing.T) {
	p := shProfile(t)
	r := NewRunner(p)
	r.argsFn = func(_ Profile, _ string, _ Mode) []string {
		return []string{"-c", "sleep 30"}
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	// Give the child time to start, then stop as the service manager would.
	time.Sleep(200 * time.Millisecond)
	r.Stop(syscall.SIGTERM)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, syscall.SIGTERM, r.StopSignal())
}

func TestRunnerBacksOffOnChildFailure(t *testing.T) {
	p := shProfile(t)
	r := NewRunner(p)

	var mu sync.Mutex
	starts := 0
	r.argsFn = func(_ Profile, _ string, _ Mode) []string {
		mu.Lock()
		starts++
		mu.Unlock()
		return []string{"-c", "exit 1"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = r.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, starts, 2, "failed child is relaunched")
}
