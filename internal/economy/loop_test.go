package economy

import (
	"testing"
	"time"

	"github.com/agentrium/runtime/internal/agentstate"
	"github.com/agentrium/runtime/internal/bus"
	"github.com/agentrium/runtime/internal/memory"
	"github.com/agentrium/runtime/internal/obs"
)

func testLoop(t *testing.T, produce ArtifactProducer) *Loop {
	t.Helper()
	b := bus.New(bus.DefaultConfig(), obs.New("economy-test", "error", "text"))
	t.Cleanup(b.Close)

	store, err := memory.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open persistent memory: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	states := agentstate.New(store)

	cfg := Config{PhaseSettle: 0, InterPhaseSleep: 0, CycleInterval: time.Hour}
	return New(cfg, b, states, produce, obs.New("economy-test", "error", "text"))
}

func staticArtifact(phase Phase, data CycleData) Artifact {
	switch phase {
	case PhaseSalesAnalysis:
		return Artifact{"revenue_performance": map[string]interface{}{"total_revenue": 400000.0}}
	case PhaseFinancialPlanning:
		return Artifact{"cost_projections": map[string]interface{}{"total_costs": 100000.0}}
	case PhaseUserEngagement:
		return Artifact{"user_base": map[string]interface{}{"user_growth_rate": 0.25}}
	default:
		return Artifact{"phase": string(phase)}
	}
}

func TestRunCycleExecutesAllEightPhasesInOrder(t *testing.T) {
	var visited []Phase
	l := testLoop(t, func(phase Phase, data CycleData) Artifact {
		visited = append(visited, phase)
		return staticArtifact(phase, data)
	})
	perf := l.RunCycle()

	if perf.FailedPhase != "" {
		t.Fatalf("expected a fully completed cycle, failed at %q", perf.FailedPhase)
	}
	if len(visited) != len(phaseOrder) {
		t.Fatalf("expected %d phases to run, got %v", len(phaseOrder), visited)
	}
	for i, phase := range phaseOrder {
		if visited[i] != phase {
			t.Fatalf("expected phase %d to be %q, got %q", i, phase, visited[i])
		}
	}
	if l.State().CycleNumber != 1 {
		t.Fatalf("expected cycle number to advance to 1, got %d", l.State().CycleNumber)
	}
}

func TestGrowthAssessmentFormulas(t *testing.T) {
	l := testLoop(t, staticArtifact)
	perf := l.RunCycle()

	wantROI := (400000.0 - 100000.0) / 100000.0
	if perf.ROI != wantROI {
		t.Fatalf("expected roi=%v, got %v", wantROI, perf.ROI)
	}
	if perf.Revenue != 400000.0 || perf.Costs != 100000.0 {
		t.Fatalf("unexpected revenue/costs: %+v", perf)
	}

	foundStrongROI, foundHighGrowth, foundRevenueTarget := false, false, false
	for _, insight := range perf.Insights {
		switch insight {
		case "Strong ROI":
			foundStrongROI = true
		case "High user growth":
			foundHighGrowth = true
		case "Revenue target exceeded":
			foundRevenueTarget = true
		}
	}
	if !foundStrongROI || !foundHighGrowth || !foundRevenueTarget {
		t.Fatalf("expected all three insight thresholds to fire, got %v", perf.Insights)
	}
}

func TestMissingArtifactSubstitutesEmptyPayload(t *testing.T) {
	l := testLoop(t, func(phase Phase, data CycleData) Artifact { return nil })
	perf := l.RunCycle()

	if perf.FailedPhase != "" {
		t.Fatalf("a nil artifact must not abort the cycle, got failure at %q", perf.FailedPhase)
	}
	if perf.ROI != 0 || perf.Revenue != 0 {
		t.Fatalf("expected zeroed financials when artifacts are absent, got %+v", perf)
	}
}

func TestCycleHealthIsClampedToUnitInterval(t *testing.T) {
	l := testLoop(t, func(phase Phase, data CycleData) Artifact {
		if phase == PhaseSalesAnalysis {
			return Artifact{"revenue_performance": map[string]interface{}{"total_revenue": 10000000.0}}
		}
		if phase == PhaseFinancialPlanning {
			return Artifact{"cost_projections": map[string]interface{}{"total_costs": 1.0}}
		}
		return Artifact{}
	})
	l.RunCycle()

	health := l.State().CycleHealth
	if health < 0 || health > 1 {
		t.Fatalf("expected cycle_health clamped to [0,1], got %v", health)
	}
}

func TestPerformanceHistoryIsBoundedTo100(t *testing.T) {
	l := testLoop(t, staticArtifact)
	for i := 0; i < 105; i++ {
		l.RunCycle()
	}
	if len(l.History()) != maxPerformanceHistory {
		t.Fatalf("expected history bounded to %d, got %d", maxPerformanceHistory, len(l.History()))
	}
}
