package agentstate

import (
	"testing"

	"github.com/agentrium/runtime/internal/memory"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := memory.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open persistent memory: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func TestRecordDecisionPersistsAndLoads(t *testing.T) {
	m := newTestManager(t)

	decision, err := m.RecordDecision("agent-1", "invest", map[string]interface{}{"amount": 100}, "buy", 0.8)
	if err != nil {
		t.Fatalf("record decision: %v", err)
	}
	if decision.ID == "" {
		t.Fatal("expected assigned decision id")
	}

	decisions, err := m.Decisions("agent-1")
	if err != nil {
		t.Fatalf("decisions: %v", err)
	}
	if len(decisions) != 1 || decisions[0].ID != decision.ID {
		t.Fatalf("expected the recorded decision to round-trip, got %+v", decisions)
	}
}

func TestDecisionLogIsBoundedTo100(t *testing.T) {
	m := newTestManager(t)

	var lastID string
	for i := 0; i < 150; i++ {
		d, err := m.RecordDecision("agent-1", "invest", nil, nil, 0.5)
		if err != nil {
			t.Fatalf("record decision %d: %v", i, err)
		}
		lastID = d.ID
	}

	decisions, err := m.Decisions("agent-1")
	if err != nil {
		t.Fatalf("decisions: %v", err)
	}
	if len(decisions) != maxDecisions {
		t.Fatalf("expected log bounded to %d, got %d", maxDecisions, len(decisions))
	}
	if decisions[len(decisions)-1].ID != lastID {
		t.Fatal("expected the most recent decision to survive truncation")
	}
}

func TestRecordOutcomeAttachesToExistingDecision(t *testing.T) {
	m := newTestManager(t)

	decision, err := m.RecordDecision("agent-1", "invest", nil, nil, 0.5)
	if err != nil {
		t.Fatalf("record decision: %v", err)
	}
	if err := m.RecordOutcome("agent-1", decision.ID, "profitable"); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	decisions, err := m.Decisions("agent-1")
	if err != nil {
		t.Fatalf("decisions: %v", err)
	}
	if decisions[0].Outcome == nil || *decisions[0].Outcome != "profitable" {
		t.Fatalf("expected outcome to be attached, got %+v", decisions[0])
	}
	if decisions[0].OutcomeMeasuredAt == nil {
		t.Fatal("expected outcome_measured_at to be stamped")
	}
}

func TestRecordOutcomeOnUnknownDecisionErrors(t *testing.T) {
	m := newTestManager(t)
	m.RecordDecision("agent-1", "invest", nil, nil, 0.5)

	if err := m.RecordOutcome("agent-1", "does-not-exist", "profitable"); err == nil {
		t.Fatal("expected an error for an unknown decision id")
	}
}

func TestUpdatePerformanceClampsAndKeepsMonotoneTotal(t *testing.T) {
	m := newTestManager(t)

	if err := m.UpdatePerformance("agent-1", PerformanceMetrics{SuccessRate: 1.5, TotalDecisions: 10}); err != nil {
		t.Fatalf("update performance: %v", err)
	}
	metrics, err := m.Performance("agent-1")
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if metrics.SuccessRate != 1.0 {
		t.Fatalf("expected success rate clamped to 1.0, got %v", metrics.SuccessRate)
	}

	if err := m.UpdatePerformance("agent-1", PerformanceMetrics{SuccessRate: 0.5, TotalDecisions: 3}); err != nil {
		t.Fatalf("update performance again: %v", err)
	}
	metrics, err = m.Performance("agent-1")
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if metrics.TotalDecisions < 10 {
		t.Fatalf("expected total_decisions to stay monotone non-decreasing, got %d", metrics.TotalDecisions)
	}
}

func TestGetPerformanceComparisonSnapshotsAllAgents(t *testing.T) {
	m := newTestManager(t)

	m.UpdatePerformance("agent-1", PerformanceMetrics{SuccessRate: 0.9})
	m.UpdatePerformance("agent-2", PerformanceMetrics{SuccessRate: 0.4})

	snapshot, err := m.GetPerformanceComparison()
	if err != nil {
		t.Fatalf("comparison: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 agents in snapshot, got %d", len(snapshot))
	}
	if snapshot["agent-1"].SuccessRate != 0.9 {
		t.Fatalf("unexpected snapshot for agent-1: %+v", snapshot["agent-1"])
	}
}
