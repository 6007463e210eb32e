// Package api is the §6.3–6.4 HTTP + WebSocket control surface: the
// operator-facing view onto an otherwise headless coordination runtime.
package api

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/agentrium/runtime/internal/obs"
)

// BackendConfig describes the optional external process the runtime
// supervises (§6.3's "external process supervised by the core"). A zero
// Command means no process is configured; BackendSupervisor's endpoints
// then report {status: "not_configured"}.
type BackendConfig struct {
	Command string
	Args    []string
	Dir     string
}

// BackendStatus is the JSON shape returned by GET /backend/status.
type BackendStatus struct {
	Status          string     `json:"status"`
	PID             *int       `json:"pid,omitempty"`
	UptimeSecs      *float64   `json:"uptime_secs,omitempty"`
	RestartCount    int        `json:"restart_count"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
}

// BackendSupervisor manages the lifecycle of the optional external process
// behind §6.3's /backend endpoints. Adapted from the teacher's Aider
// process-supervision shape (spawn, heartbeat, graceful-then-forced stop),
// generalized from one hardcoded Aider invocation to any configured command.
type BackendSupervisor struct {
	cfg BackendConfig
	log *obs.Logger

	mu              sync.Mutex
	cmd             *exec.Cmd
	startedAt       time.Time
	restartCount    int
	lastHealthCheck time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBackendSupervisor returns a supervisor for cfg. A supervisor with an
// empty cfg.Command reports itself as not configured rather than erroring.
func NewBackendSupervisor(cfg BackendConfig, log *obs.Logger) *BackendSupervisor {
	return &BackendSupervisor{cfg: cfg, log: log}
}

func (s *BackendSupervisor) Configured() bool { return s.cfg.Command != "" }

// Start launches the configured process if it is not already running.
func (s *BackendSupervisor) Start() error {
	if !s.Configured() {
		return obs.Config("no supervised backend process is configured", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil && s.isRunningLocked() {
		return nil
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	if err := cmd.Start(); err != nil {
		return obs.Config(fmt.Sprintf("failed to start supervised backend %s", s.cfg.Command), err)
	}

	s.cmd = cmd
	s.startedAt = time.Now()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.monitor(s.stopCh, s.doneCh)

	s.log.WithFields(nil).WithField("pid", cmd.Process.Pid).Info("supervised backend started")
	return nil
}

// Stop gracefully terminates the process (SIGTERM, then SIGKILL after a
// grace period), mirroring the teacher's Aider shutdown sequence.
func (s *BackendSupervisor) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if stopCh != nil {
		close(stopCh)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.log.WithFields(nil).WithField("error", err.Error()).Warn("failed to send SIGTERM to supervised backend")
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if err := cmd.Process.Kill(); err != nil {
			s.log.WithFields(nil).WithField("error", err.Error()).Warn("failed to force-kill supervised backend")
		}
		<-done
	}

	if doneCh != nil {
		<-doneCh
	}

	s.mu.Lock()
	s.cmd = nil
	s.mu.Unlock()
	return nil
}

// Restart stops then starts the process, incrementing the restart counter.
func (s *BackendSupervisor) Restart() error {
	if err := s.Stop(); err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	s.restartCount++
	s.mu.Unlock()
	return nil
}

// Status reports the current lifecycle state for GET /backend/status.
func (s *BackendSupervisor) Status() BackendStatus {
	if !s.Configured() {
		return BackendStatus{Status: "not_configured"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil || !s.isRunningLocked() {
		return BackendStatus{Status: "stopped", RestartCount: s.restartCount}
	}

	pid := s.cmd.Process.Pid
	uptime := time.Since(s.startedAt).Seconds()
	healthCheck := s.lastHealthCheck
	return BackendStatus{
		Status: "running", PID: &pid, UptimeSecs: &uptime,
		RestartCount: s.restartCount, LastHealthCheck: &healthCheck,
	}
}

func (s *BackendSupervisor) isRunningLocked() bool {
	if s.cmd == nil || s.cmd.Process == nil {
		return false
	}
	return s.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// monitor polls process liveness on a fixed interval, matching the
// teacher's 10-second crash-detection cadence.
func (s *BackendSupervisor) monitor(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.lastHealthCheck = time.Now()
			running := s.isRunningLocked()
			s.mu.Unlock()
			if !running {
				s.log.WithFields(nil).Warn("supervised backend process is no longer running")
				return
			}
		}
	}
}

// StopWithContext stops the process, respecting ctx's deadline for the
// graceful-wait portion (used by the server's shutdown path).
func (s *BackendSupervisor) StopWithContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.Stop() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
