// Package economy implements the eight-phase Economy Loop of §4.6: a
// deterministic state machine that sequences targeted agent requests over
// the Shared Bus and accumulates a per-cycle performance record.
package economy

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentrium/runtime/internal/agentstate"
	"github.com/agentrium/runtime/internal/bus"
	"github.com/agentrium/runtime/internal/obs"
)

// Phase is one of the eight fixed stations of a cycle, always visited in
// this order.
type Phase string

const (
	PhaseMarketAnalysis     Phase = "market_analysis"
	PhaseInvestmentAnalysis Phase = "investment_analysis"
	PhaseBusinessStrategy   Phase = "business_strategy"
	PhaseFinancialPlanning  Phase = "financial_planning"
	PhaseAirdropMarketing   Phase = "airdrop_marketing"
	PhaseUserEngagement     Phase = "user_engagement"
	PhaseSalesAnalysis      Phase = "sales_analysis"
	PhaseGrowthAssessment   Phase = "growth_assessment"
)

var phaseOrder = []Phase{
	PhaseMarketAnalysis, PhaseInvestmentAnalysis, PhaseBusinessStrategy,
	PhaseFinancialPlanning, PhaseAirdropMarketing, PhaseUserEngagement,
	PhaseSalesAnalysis, PhaseGrowthAssessment,
}

// deliveryMode selects how a phase's request reaches its target.
type deliveryMode int

const (
	deliverTargeted deliveryMode = iota
	deliverBroadcast
)

type phaseSpec struct {
	agentKind string
	agentID   string // fixed target id for send_to_agent phases
	delivery  deliveryMode
}

// phaseSpecs is the phase -> (agent kind, topic, delivery) table.
var phaseSpecs = map[Phase]phaseSpec{
	PhaseMarketAnalysis:     {agentKind: "investor", agentID: "investor-primary", delivery: deliverTargeted},
	PhaseInvestmentAnalysis: {agentKind: "investor", agentID: "investor-primary", delivery: deliverTargeted},
	PhaseBusinessStrategy:   {agentKind: "business", agentID: "business-primary", delivery: deliverTargeted},
	PhaseFinancialPlanning:  {agentKind: "business", agentID: "business-primary", delivery: deliverTargeted},
	PhaseAirdropMarketing:   {agentKind: "business", delivery: deliverBroadcast},
	PhaseUserEngagement:     {agentKind: "user", agentID: "user-primary", delivery: deliverTargeted},
	PhaseSalesAnalysis:      {agentKind: "business", delivery: deliverBroadcast},
	PhaseGrowthAssessment:   {agentKind: "system", agentID: "system-primary", delivery: deliverTargeted},
}

// Artifact is the opaque, phase-produced payload merged into CycleData.
// Concrete agent bodies are out of scope; this runtime treats whatever a
// phase produces as an opaque map.
type Artifact map[string]interface{}

// CycleData is the append-only per-cycle record: one optional slot per
// phase, filled once and never rewritten until the cycle advances (§3.5).
type CycleData struct {
	MarketAnalysis     Artifact
	InvestmentAnalysis Artifact
	BusinessStrategy   Artifact
	FinancialPlanning  Artifact
	AirdropMarketing   Artifact
	UserEngagement     Artifact
	SalesAnalysis      Artifact
	GrowthAssessment   Artifact
}

func (c *CycleData) slot(p Phase) Artifact {
	switch p {
	case PhaseMarketAnalysis:
		return c.MarketAnalysis
	case PhaseInvestmentAnalysis:
		return c.InvestmentAnalysis
	case PhaseBusinessStrategy:
		return c.BusinessStrategy
	case PhaseFinancialPlanning:
		return c.FinancialPlanning
	case PhaseAirdropMarketing:
		return c.AirdropMarketing
	case PhaseUserEngagement:
		return c.UserEngagement
	case PhaseSalesAnalysis:
		return c.SalesAnalysis
	case PhaseGrowthAssessment:
		return c.GrowthAssessment
	default:
		return nil
	}
}

func (c *CycleData) setSlot(p Phase, a Artifact) {
	switch p {
	case PhaseMarketAnalysis:
		c.MarketAnalysis = a
	case PhaseInvestmentAnalysis:
		c.InvestmentAnalysis = a
	case PhaseBusinessStrategy:
		c.BusinessStrategy = a
	case PhaseFinancialPlanning:
		c.FinancialPlanning = a
	case PhaseAirdropMarketing:
		c.AirdropMarketing = a
	case PhaseUserEngagement:
		c.UserEngagement = a
	case PhaseSalesAnalysis:
		c.SalesAnalysis = a
	case PhaseGrowthAssessment:
		c.GrowthAssessment = a
	}
}

// CycleState is the loop's live position (§3.5).
type CycleState struct {
	CycleNumber    int64
	CurrentPhase   Phase
	PhaseStartedAt time.Time
	CycleStartedAt time.Time
	CycleData      CycleData
	CycleHealth    float64
}

// CyclePerformance is the record appended on cycle completion (§3.6).
type CyclePerformance struct {
	CycleNumber    int64
	DurationMinutes float64
	ROI            float64
	Revenue        float64
	Costs          float64
	UserGrowth     float64
	AgentScores    map[string]float64
	Insights       []string
	CycleHealth    float64
	CompletedAt    time.Time
	FailedPhase    Phase // zero value ("") means the cycle completed in full
}

const maxPerformanceHistory = 100

// ArtifactProducer derives a phase's artifact from the cycle data
// accumulated so far. Concrete agent bodies are out of scope (§1
// Non-goals); the driver supplies this deterministically, mirroring the
// reference behavior of deriving artifacts from inputs rather than
// waiting on a live bus round-trip.
type ArtifactProducer func(phase Phase, data CycleData) Artifact

// Loop is the Economy Loop of §4.6.
type Loop struct {
	b        *bus.Bus
	states   *agentstate.Manager
	produce  ArtifactProducer
	log      *obs.Logger
	settle   time.Duration
	interPhase time.Duration

	mu      sync.Mutex
	state   CycleState
	history []CyclePerformance

	stopCh chan struct{}
	doneCh chan struct{}
}

// Config tunes the loop's timing; the field names follow §6.5's env-var
// surface (settle/inter-phase sleeps, cycle interval).
type Config struct {
	PhaseSettle      time.Duration
	InterPhaseSleep  time.Duration
	CycleInterval    time.Duration
}

func DefaultConfig() Config {
	return Config{PhaseSettle: 3 * time.Second, InterPhaseSleep: 5 * time.Second, CycleInterval: 24 * time.Hour}
}

// New constructs a loop at cycle 0, MarketAnalysis, not yet started.
func New(cfg Config, b *bus.Bus, states *agentstate.Manager, produce ArtifactProducer, log *obs.Logger) *Loop {
	return &Loop{
		b: b, states: states, produce: produce, log: log,
		settle: cfg.PhaseSettle, interPhase: cfg.InterPhaseSleep,
		state: CycleState{CurrentPhase: PhaseMarketAnalysis, CycleStartedAt: time.Now()},
	}
}

// State returns a snapshot of the loop's current position.
func (l *Loop) State() CycleState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// History returns the bounded CyclePerformance history, oldest first.
func (l *Loop) History() []CyclePerformance {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CyclePerformance, len(l.history))
	copy(out, l.history)
	return out
}

// RunCycle executes all eight phases in order once, appending a
// CyclePerformance record. A persistence failure in the state manager
// (§4.6.4) ends the cycle early; a missing artifact or publish failure
// does not.
func (l *Loop) RunCycle() CyclePerformance {
	l.mu.Lock()
	l.state.CycleStartedAt = time.Now()
	l.state.CycleData = CycleData{}
	startedAt := l.state.CycleStartedAt
	cycleNumber := l.state.CycleNumber
	l.mu.Unlock()

	for _, phase := range phaseOrder {
		if failed := l.runPhase(phase); failed {
			perf := l.finishCycle(cycleNumber, startedAt, phase)
			l.advanceCycleNumber()
			return perf
		}
	}

	perf := l.finishCycle(cycleNumber, startedAt, "")
	l.advanceCycleNumber()
	return perf
}

// runPhase executes one phase's protocol (§4.6.1), returning true if a
// state-manager persistence failure ended the phase early.
func (l *Loop) runPhase(phase Phase) (failed bool) {
	l.mu.Lock()
	l.state.CurrentPhase = phase
	l.state.PhaseStartedAt = time.Now()
	data := l.state.CycleData
	l.mu.Unlock()

	spec := phaseSpecs[phase]
	payload := map[string]interface{}{"phase": string(phase), "cycle_data": data}

	var err error
	if spec.delivery == deliverBroadcast {
		err = l.b.Broadcast("economy-loop", string(phase), payload)
	} else {
		err = l.b.SendToAgent("economy-loop", spec.agentID, string(phase), payload)
	}
	if err != nil {
		l.log.WithFields(nil).WithField("phase", phase).Warn("bus publish failed during phase, continuing best-effort")
	}

	time.Sleep(l.settle)

	artifact := l.produce(phase, data)
	if artifact == nil {
		artifact = Artifact{}
	}

	l.mu.Lock()
	l.state.CycleData.setSlot(phase, artifact)
	l.mu.Unlock()

	if isPlanningPhase(phase) {
		target := spec.agentID
		if target == "" {
			target = spec.agentKind
		}
		if _, err := l.states.RecordDecision(target, string(phase), data, artifact, 0.5); err != nil {
			l.log.WithFields(nil).WithField("phase", phase).Error("state manager persistence failed, ending cycle early")
			return true
		}
	}

	time.Sleep(l.interPhase)
	return false
}

func isPlanningPhase(p Phase) bool {
	switch p {
	case PhaseMarketAnalysis, PhaseInvestmentAnalysis, PhaseBusinessStrategy, PhaseFinancialPlanning:
		return true
	default:
		return false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func floatField(a Artifact, path ...string) float64 {
	var cur interface{} = map[string]interface{}(a)
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return 0
		}
		cur, ok = m[key]
		if !ok {
			return 0
		}
	}
	if f, ok := cur.(float64); ok {
		return f
	}
	return 0
}

// finishCycle computes the GrowthAssessment formulas (§4.6.2), appends a
// bounded CyclePerformance record, and broadcasts cycle_completed.
// failedPhase is "" for a cycle that completed all eight phases.
func (l *Loop) finishCycle(cycleNumber int64, startedAt time.Time, failedPhase Phase) CyclePerformance {
	l.mu.Lock()
	data := l.state.CycleData
	l.mu.Unlock()

	revenue := floatField(data.SalesAnalysis, "revenue_performance", "total_revenue")
	costs := floatField(data.FinancialPlanning, "cost_projections", "total_costs")

	var roi float64
	if costs > 0 {
		roi = (revenue - costs) / costs
	}
	userGrowth := floatField(data.UserEngagement, "user_base", "user_growth_rate")
	cycleHealth := clamp01(roi*0.4 + userGrowth*0.3 + 0.3)

	var insights []string
	if roi > 0.3 {
		insights = append(insights, "Strong ROI")
	}
	if roi < 0.05 {
		insights = append(insights, "Low ROI")
	}
	if userGrowth > 0.2 {
		insights = append(insights, "High user growth")
	}
	if revenue > 300000 {
		insights = append(insights, "Revenue target exceeded")
	}

	agentScores := map[string]float64{}
	if comparison, err := l.states.GetPerformanceComparison(); err == nil {
		for agentID, metrics := range comparison {
			agentScores[agentID] = metrics.SuccessRate
		}
	}

	perf := CyclePerformance{
		CycleNumber: cycleNumber, DurationMinutes: time.Since(startedAt).Minutes(),
		ROI: roi, Revenue: revenue, Costs: costs, UserGrowth: userGrowth,
		AgentScores: agentScores, Insights: insights, CycleHealth: cycleHealth,
		CompletedAt: time.Now(), FailedPhase: failedPhase,
	}

	l.mu.Lock()
	l.state.CycleHealth = cycleHealth
	l.history = append(l.history, perf)
	if len(l.history) > maxPerformanceHistory {
		l.history = l.history[len(l.history)-maxPerformanceHistory:]
	}
	l.mu.Unlock()

	if err := l.b.Broadcast("economy-loop", bus.TopicCycleCompleted, perf); err != nil {
		l.log.WithFields(nil).WithField("cycle", cycleNumber).Warn("failed to broadcast cycle_completed")
	}
	return perf
}

func (l *Loop) advanceCycleNumber() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.CycleNumber++
	l.state.CurrentPhase = PhaseMarketAnalysis
	l.state.CycleData = CycleData{}
}

// RunContinuous starts cycles on a fixed wall-clock interval until Stop is
// called. A cycle failure is logged and does not abort the scheduler
// (§4.6.3).
func (l *Loop) RunContinuous(interval time.Duration) {
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})

	go func() {
		defer close(l.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						l.log.WithFields(nil).WithField("panic", fmt.Sprintf("%v", r)).Error("cycle panicked, continuing scheduler")
					}
				}()
				l.RunCycle()
			}()
			select {
			case <-l.stopCh:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the continuous scheduler, if running, and waits for the
// in-flight cycle to finish.
func (l *Loop) Stop() {
	if l.stopCh == nil {
		return
	}
	close(l.stopCh)
	<-l.doneCh
}
