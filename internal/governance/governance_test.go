package governance

import (
	"testing"
	"time"

	"github.com/agentrium/runtime/internal/agentstate"
	"github.com/agentrium/runtime/internal/bus"
	"github.com/agentrium/runtime/internal/economy"
	"github.com/agentrium/runtime/internal/memory"
	"github.com/agentrium/runtime/internal/obs"
)

func testLayer(t *testing.T, cfg Config) (*Layer, *economy.Loop) {
	t.Helper()
	b := bus.New(bus.DefaultConfig(), obs.New("gov-test", "error", "text"))
	t.Cleanup(b.Close)

	store, err := memory.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open persistent memory: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	states := agentstate.New(store)

	loop := economy.New(economy.DefaultConfig(), b, states, func(p economy.Phase, d economy.CycleData) economy.Artifact { return economy.Artifact{} }, obs.New("gov-test", "error", "text"))

	l, err := Open(t.TempDir(), cfg, b, states, loop, obs.New("gov-test", "error", "text"))
	if err != nil {
		t.Fatalf("open governance layer: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, loop
}

func TestDefaultWeightsSeedOnFirstOpen(t *testing.T) {
	l, _ := testLayer(t, DefaultConfig())
	w := l.Weights()
	if w.InvestmentWeight != 0.3 {
		t.Fatalf("expected seeded default investment weight, got %v", w.InvestmentWeight)
	}
}

func poorCycle(n int64, roi float64) economy.CyclePerformance {
	return economy.CyclePerformance{CycleNumber: n, ROI: roi, CycleHealth: 0.5}
}

func TestConsistentPoorROITriggerFiresAfterThreeBadCycles(t *testing.T) {
	l, _ := testLayer(t, DefaultConfig())
	cycles := []economy.CyclePerformance{poorCycle(1, 0.01), poorCycle(2, 0.02), poorCycle(3, 0.0)}

	events := l.DetectTriggers(cycles, nil)
	found := false
	for _, e := range events {
		if e.Kind == TriggerConsistentPoorROI {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ConsistentPoorROI trigger, got %+v", events)
	}
}

func TestAgentUnderperformanceTriggerFiresOnLowSuccessRate(t *testing.T) {
	l, _ := testLayer(t, DefaultConfig())
	metrics := map[string]agentstate.PerformanceMetrics{
		"agent-1": {SuccessRate: 0.3, AccuracyScore: 0.9},
	}
	events := l.DetectTriggers(nil, metrics)
	if len(events) != 1 || events[0].Kind != TriggerAgentUnderperformance || events[0].AgentID != "agent-1" {
		t.Fatalf("expected AgentUnderperformance for agent-1, got %+v", events)
	}
}

func TestPerformanceInstabilityTriggerFiresOnHighVariance(t *testing.T) {
	// Alternating 0.1/0.9 healths have a variance of 0.1536; no set of
	// values in [0,1] exceeds the default 0.3, so the threshold is lowered.
	cfg := DefaultConfig()
	cfg.Thresholds.MaxPerformanceVariance = 0.1
	l, _ := testLayer(t, cfg)
	cycles := []economy.CyclePerformance{
		{CycleNumber: 1, CycleHealth: 0.1}, {CycleNumber: 2, CycleHealth: 0.9},
		{CycleNumber: 3, CycleHealth: 0.1}, {CycleNumber: 4, CycleHealth: 0.9},
		{CycleNumber: 5, CycleHealth: 0.1},
	}
	events := l.DetectTriggers(cycles, nil)
	found := false
	for _, e := range events {
		if e.Kind == TriggerPerformanceInstability {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected PerformanceInstability trigger, got %+v", events)
	}
}

func TestReallocateMovesInvestmentToMarketingUnderLowEfficiency(t *testing.T) {
	l, _ := testLayer(t, DefaultConfig())
	cycles := []economy.CyclePerformance{poorCycle(1, -0.5)}
	metrics := map[string]agentstate.PerformanceMetrics{"agent-1": {SuccessRate: 0.1, AccuracyScore: 0.1}}

	before := l.Weights()
	reallocations := l.Reallocate(cycles, metrics, 0.0)
	if len(reallocations) == 0 {
		t.Fatal("expected at least one reallocation under low efficiency")
	}

	after := l.Weights()
	if after.InvestmentWeight >= before.InvestmentWeight {
		t.Fatalf("expected investment weight to decrease: before=%v after=%v", before.InvestmentWeight, after.InvestmentWeight)
	}
	if after.MarketingWeight <= before.MarketingWeight {
		t.Fatalf("expected marketing weight to increase: before=%v after=%v", before.MarketingWeight, after.MarketingWeight)
	}
	if after.InvestmentWeight < 0.1 {
		t.Fatalf("expected investment weight clamped to >= 0.1, got %v", after.InvestmentWeight)
	}
}

func TestConfidenceScoreGrowsAndCaps(t *testing.T) {
	l, _ := testLayer(t, DefaultConfig())
	before := l.Weights().ConfidenceScore
	for i := 0; i < 20; i++ {
		l.Reallocate(nil, nil, 1.0)
	}
	w := l.Weights()
	if w.ConfidenceScore <= before {
		t.Fatalf("expected confidence_score to grow from %v, got %v", before, w.ConfidenceScore)
	}
	if w.ConfidenceScore > 1.0 {
		t.Fatalf("expected confidence_score capped at 1.0, got %v", w.ConfidenceScore)
	}
}

func TestApplyAdjustmentsRespectsAutoAdjustmentFlag(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoAdjustment = false
	l, _ := testLayer(t, cfg)

	events := []TriggerEvent{{Kind: TriggerAgentUnderperformance, AgentID: "agent-1"}}
	adjustments := l.ApplyAdjustments(events)
	if len(adjustments) != 1 {
		t.Fatalf("expected 1 adjustment, got %d", len(adjustments))
	}
	if adjustments[0].AutoApplied {
		t.Fatal("expected AutoApplied false when auto_adjustment_enabled is false")
	}
}

func TestAdjustmentHistoryIsBoundedTo50(t *testing.T) {
	l, _ := testLayer(t, DefaultConfig())
	events := make([]TriggerEvent, 0)
	for i := 0; i < 60; i++ {
		events = append(events, TriggerEvent{Kind: TriggerAgentUnderperformance, AgentID: "agent-1"})
	}
	l.ApplyAdjustments(events)

	if len(l.AdjustmentHistory()) != maxAdjustmentHistory {
		t.Fatalf("expected history bounded to %d, got %d", maxAdjustmentHistory, len(l.AdjustmentHistory()))
	}
}

func TestTickRunsFullPassWithoutError(t *testing.T) {
	l, _ := testLayer(t, DefaultConfig())
	_, _, _ = l.Tick()
}

func TestRunAndStopTerminatesCleanly(t *testing.T) {
	l, _ := testLayer(t, DefaultConfig())
	l.Run(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	l.Stop()
}
