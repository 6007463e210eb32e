package api

import (
	"testing"
	"time"

	"github.com/agentrium/runtime/internal/obs"
)

func testLog() *obs.Logger { return obs.New("api-test", "error", "text") }

func TestBackendSupervisorReportsNotConfigured(t *testing.T) {
	s := NewBackendSupervisor(BackendConfig{}, testLog())
	if err := s.Start(); err == nil {
		t.Fatal("expected an error starting an unconfigured backend")
	}
	status := s.Status()
	if status.Status != "not_configured" {
		t.Fatalf("expected not_configured, got %q", status.Status)
	}
}

func TestBackendSupervisorStartStopReportsStatus(t *testing.T) {
	s := NewBackendSupervisor(BackendConfig{Command: "sleep", Args: []string{"5"}}, testLog())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })

	time.Sleep(50 * time.Millisecond)
	status := s.Status()
	if status.Status != "running" {
		t.Fatalf("expected running, got %+v", status)
	}
	if status.PID == nil || *status.PID == 0 {
		t.Fatal("expected a nonzero pid")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	status = s.Status()
	if status.Status != "stopped" {
		t.Fatalf("expected stopped, got %+v", status)
	}
}

func TestBackendSupervisorRestartIncrementsCounter(t *testing.T) {
	s := NewBackendSupervisor(BackendConfig{Command: "sleep", Args: []string{"5"}}, testLog())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })

	if err := s.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	status := s.Status()
	if status.RestartCount != 1 {
		t.Fatalf("expected restart_count 1, got %d", status.RestartCount)
	}
}
