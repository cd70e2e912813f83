// SPDX-License-Identifier: MIT

// Package service adapts the OS service manager for the slate encoder unit.
// Every invocation is bounded by a timeout and reported as a typed result so
// the decision engine can branch without parsing errors.
package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/storesace-cv/bwb-stream2yt/internal/log"
	"github.com/storesace-cv/bwb-stream2yt/internal/metrics"
)

// Result classifies the outcome of a service-manager invocation.
type Result int

const (
	Ok Result = iota
	AlreadyInDesiredState
	PermissionDenied
	Timeout
	Other
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case AlreadyInDesiredState:
		return "already_in_desired_state"
	case PermissionDenied:
		return "permission_denied"
	case Timeout:
		return "timeout"
	default:
		return "other"
	}
}

// Succeeded reports whether the unit ended up in the desired state.
func (r Result) Succeeded() bool {
	return r == Ok || r == AlreadyInDesiredState
}

// Controller starts, stops and queries the fallback encoder unit.
type Controller interface {
	Start(ctx context.Context) Result
	Stop(ctx context.Context) Result
	IsActive(ctx context.Context) (bool, error)
}

// runFunc executes a command and returns combined output and exit code.
// Tests substitute this to avoid touching systemctl.
type runFunc func(ctx context.Context, name string, args ...string) (output string, exitCode int, err error)

// Systemd drives a single systemd unit through systemctl, falling back to a
// sudo wrapper when the direct invocation lacks privileges.
type Systemd struct {
	unit    string
	timeout time.Duration
	run     runFunc
	euid    func() int

	mu             sync.Mutex
	permHintLogged bool
	logger         zerolog.Logger
}

// NewSystemd creates a controller for the named unit with a 10 s timeout
// per invocation.
func NewSystemd(unit string) *Systemd {
	return &Systemd{
		unit:    unit,
		timeout: 10 * time.Second,
		run:     runCommand,
		euid:    os.Geteuid,
		logger:  log.WithComponent("service").With().Str("unit", unit).Logger(),
	}
}

func runCommand(ctx context.Context, name string, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			err = nil
		}
	}
	return buf.String(), code, err
}

// Start brings the unit up. Idempotent: an already-active unit is a no-op.
func (s *Systemd) Start(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.isActiveLocked(ctx)
	if err == nil && active {
		s.logger.Debug().Msg("unit already active")
		return AlreadyInDesiredState
	}
	return s.invokeLocked(ctx, "start")
}

// Stop brings the unit down. Idempotent: an already-inactive unit is a no-op.
func (s *Systemd) Stop(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.isActiveLocked(ctx)
	if err == nil && !active {
		s.logger.Debug().Msg("unit already inactive")
		return AlreadyInDesiredState
	}
	return s.invokeLocked(ctx, "stop")
}

// IsActive queries the unit state.
func (s *Systemd) IsActive(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isActiveLocked(ctx)
}

func (s *Systemd) isActiveLocked(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, code, err := s.run(ctx, "systemctl", "--no-ask-password", "is-active", s.unit)
	if err != nil {
		return false, err
	}
	return code == 0 && strings.TrimSpace(out) == "active", nil
}

func (s *Systemd) invokeLocked(ctx context.Context, verb string) Result {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, code, err := s.run(ctx, "systemctl", "--no-ask-password", verb, s.unit)
	if err == nil && code == 0 {
		s.logger.Info().Str("verb", verb).Msg("unit state changed")
		return Ok
	}

	result := s.classify(ctx, out, err)
	if result == PermissionDenied && s.euid() != 0 {
		// Direct invocation lacks privileges; retry through sudo -n.
		out, code, err = s.run(ctx, "sudo", "-n", "systemctl", "--no-ask-password", verb, s.unit)
		if err == nil && code == 0 {
			s.logger.Info().Str("verb", verb).Msg("unit state changed via sudo")
			return Ok
		}
		result = s.classify(ctx, out, err)
	}

	s.logFailure(verb, out, result)
	metrics.ServiceControlFailures.WithLabelValues(verb, result.String()).Inc()
	return result
}

func (s *Systemd) classify(ctx context.Context, output string, err error) Result {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	lowered := strings.ToLower(output)
	switch {
	case strings.Contains(lowered, "no new privileges"),
		strings.Contains(lowered, "password is required"),
		strings.Contains(lowered, "permission denied"),
		strings.Contains(lowered, "access denied"),
		strings.Contains(lowered, "interactive authentication required"):
		return PermissionDenied
	default:
		return Other
	}
}

func (s *Systemd) logFailure(verb, output string, result Result) {
	message := strings.TrimSpace(output)
	if message == "" {
		message = "systemctl gave no output"
	}
	evt := s.logger.Error().Str("verb", verb).Str("result", result.String()).Str("output", message)
	if result == PermissionDenied && !s.permHintLogged {
		s.permHintLogged = true
		evt.Msg("service manager refused the operation; grant the monitor account " +
			"passwordless systemctl for this unit or run the monitor as root")
		return
	}
	evt.Msg("service manager invocation failed")
}
