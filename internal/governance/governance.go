// Package governance implements the feedback controller of §4.7: trigger
// detection over recent performance, self-learning strategy-weight
// reallocation, and triggered adjustments dispatched back onto the bus.
package governance

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentrium/runtime/internal/agentstate"
	"github.com/agentrium/runtime/internal/bus"
	"github.com/agentrium/runtime/internal/economy"
	"github.com/agentrium/runtime/internal/obs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema_governance.sql
var schemaGovernance string

// Trigger is one of the three adverse-condition checks run each tick.
type Trigger string

const (
	TriggerConsistentPoorROI      Trigger = "ConsistentPoorROI"
	TriggerAgentUnderperformance  Trigger = "AgentUnderperformance"
	TriggerPerformanceInstability Trigger = "PerformanceInstability"
)

// TriggerEvent is one fired trigger, with the agent it concerns when
// applicable.
type TriggerEvent struct {
	Kind    Trigger
	AgentID string
	Detail  string
}

// Thresholds are the tunable trigger-detection parameters (§4.7.2),
// defaulting to the values spec'd.
type Thresholds struct {
	MinROI                 float64
	PoorCycleCount         int
	MinSuccessRate         float64
	MinAccuracyScore       float64
	MaxPerformanceVariance float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{MinROI: 0.05, PoorCycleCount: 3, MinSuccessRate: 0.6, MinAccuracyScore: 0.5, MaxPerformanceVariance: 0.3}
}

// StrategyWeights is the named tuple of §3.7, individually clamped rather
// than strictly renormalized to sum to 1.0.
type StrategyWeights struct {
	InvestmentWeight      float64
	MarketingWeight       float64
	BusinessDevWeight     float64
	RiskManagementWeight  float64
	UserAcquisitionWeight float64
	ConfidenceScore       float64
	UpdatedAt             time.Time
}

func DefaultStrategyWeights() StrategyWeights {
	return StrategyWeights{
		InvestmentWeight: 0.3, MarketingWeight: 0.2, BusinessDevWeight: 0.2,
		RiskManagementWeight: 0.15, UserAcquisitionWeight: 0.15,
		ConfidenceScore: 0.3, UpdatedAt: time.Now(),
	}
}

func clamp(lo, hi, v float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AllocationPattern is a snapshot of weights that performed well, kept
// for later recall (bounded to 5, oldest evicted).
type AllocationPattern struct {
	ID         string
	Name       string
	Weights    StrategyWeights
	Efficiency float64
	ROI        float64
	RecordedAt time.Time
}

const maxAllocationPatterns = 5
const maxAdjustmentHistory = 50

// AdjustmentKind enumerates the triggered-adjustment vocabulary (§4.7.4).
type AdjustmentKind string

const (
	AdjustInvestmentRebalancing AdjustmentKind = "InvestmentRebalancing"
	AdjustStrategyPivot         AdjustmentKind = "StrategyPivot"
	AdjustMarketingOptimization AdjustmentKind = "MarketingOptimization"
	AdjustRiskAdjustment        AdjustmentKind = "RiskAdjustment"
	AdjustAgentReplacement      AdjustmentKind = "AgentReplacement"
	AdjustCoordinationTuning    AdjustmentKind = "CoordinationTuning"
)

// ExpectedImpact quantifies what an adjustment is predicted to buy.
type ExpectedImpact struct {
	ROIImprovement          float64
	EfficiencyGain          float64
	RiskReduction           float64
	MeasurementTimelineDays int
}

// StrategyAdjustment is one triggered response to a detected trigger.
type StrategyAdjustment struct {
	ID             string
	Kind           AdjustmentKind
	Trigger        Trigger
	BeforeParams   map[string]float64
	AfterParams    map[string]float64
	ExpectedImpact ExpectedImpact
	AutoApplied    bool
	CreatedAt      time.Time
}

// Reallocation is one weight transfer broadcast on strategy_reallocation.
type Reallocation struct {
	FromStrategy         string
	ToStrategy           string
	TransferAmount       float64
	Reason               string
	ExpectedImprovement  float64
}

// Layer is the Governance Layer of §4.7.
type Layer struct {
	db           *sql.DB
	b            *bus.Bus
	states       *agentstate.Manager
	loop         *economy.Loop
	thresholds   Thresholds
	autoAdjust   bool
	log          *obs.Logger

	mu                 sync.Mutex
	weights            StrategyWeights
	effectiveness      map[string]float64
	adjustmentHistory  []StrategyAdjustment

	stopCh chan struct{}
	doneCh chan struct{}
}

// Config wires the layer to its peers and tunables.
type Config struct {
	Thresholds        Thresholds
	AutoAdjustment    bool
	GovernanceInterval time.Duration
}

func DefaultConfig() Config {
	return Config{Thresholds: DefaultThresholds(), AutoAdjustment: true, GovernanceInterval: 6 * time.Hour}
}

// Open opens (creating if absent) the governance ledger rooted at
// root/governance.db, loading persisted weights or seeding defaults.
func Open(root string, cfg Config, b *bus.Bus, states *agentstate.Manager, loop *economy.Loop, log *obs.Logger) (*Layer, error) {
	db, err := sql.Open("sqlite", filepath.Join(root, "governance.db"))
	if err != nil {
		return nil, obs.Storage("failed to open governance database", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, obs.Storage("failed to configure governance database", err)
		}
	}
	if _, err := db.Exec(schemaGovernance); err != nil {
		db.Close()
		return nil, obs.Storage("failed to apply governance schema", err)
	}

	l := &Layer{
		db: db, b: b, states: states, loop: loop, thresholds: cfg.Thresholds,
		autoAdjust: cfg.AutoAdjustment, log: log, effectiveness: make(map[string]float64),
	}
	if err := l.loadWeights(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Layer) Close() error { return l.db.Close() }

func (l *Layer) loadWeights() error {
	row := l.db.QueryRow(`SELECT investment_weight, marketing_weight, business_dev_weight, risk_management_weight, user_acquisition_weight, confidence_score, updated_at FROM strategy_weights WHERE id = 1`)
	var w StrategyWeights
	err := row.Scan(&w.InvestmentWeight, &w.MarketingWeight, &w.BusinessDevWeight, &w.RiskManagementWeight, &w.UserAcquisitionWeight, &w.ConfidenceScore, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		w = DefaultStrategyWeights()
		if err := l.persistWeights(w); err != nil {
			return err
		}
	} else if err != nil {
		return obs.Storage("failed to load strategy weights", err)
	}
	l.mu.Lock()
	l.weights = w
	l.mu.Unlock()
	return nil
}

func (l *Layer) persistWeights(w StrategyWeights) error {
	_, err := l.db.Exec(
		`INSERT INTO strategy_weights (id, investment_weight, marketing_weight, business_dev_weight, risk_management_weight, user_acquisition_weight, confidence_score, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET investment_weight=excluded.investment_weight, marketing_weight=excluded.marketing_weight,
		   business_dev_weight=excluded.business_dev_weight, risk_management_weight=excluded.risk_management_weight,
		   user_acquisition_weight=excluded.user_acquisition_weight, confidence_score=excluded.confidence_score, updated_at=excluded.updated_at`,
		w.InvestmentWeight, w.MarketingWeight, w.BusinessDevWeight, w.RiskManagementWeight, w.UserAcquisitionWeight, w.ConfidenceScore, w.UpdatedAt,
	)
	if err != nil {
		return obs.Storage("failed to persist strategy weights", err)
	}
	return nil
}

// Weights returns the current strategy weights.
func (l *Layer) Weights() StrategyWeights {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.weights
}

func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(len(values))
}

// DetectTriggers implements §4.7.2's three checks against recent cycle
// history and current per-agent metrics.
func (l *Layer) DetectTriggers(cycles []economy.CyclePerformance, agentMetrics map[string]agentstate.PerformanceMetrics) []TriggerEvent {
	var events []TriggerEvent

	if n := l.thresholds.PoorCycleCount; len(cycles) >= n {
		recent := cycles[len(cycles)-n:]
		allPoor := true
		for _, c := range recent {
			if c.ROI >= l.thresholds.MinROI {
				allPoor = false
				break
			}
		}
		if allPoor {
			events = append(events, TriggerEvent{Kind: TriggerConsistentPoorROI, Detail: fmt.Sprintf("last %d cycles all below roi %.2f", n, l.thresholds.MinROI)})
		}
	}

	for agentID, m := range agentMetrics {
		if m.SuccessRate < l.thresholds.MinSuccessRate || m.AccuracyScore < l.thresholds.MinAccuracyScore {
			events = append(events, TriggerEvent{Kind: TriggerAgentUnderperformance, AgentID: agentID, Detail: fmt.Sprintf("success_rate=%.2f accuracy=%.2f", m.SuccessRate, m.AccuracyScore)})
		}
	}

	if len(cycles) >= 5 {
		recent := cycles[len(cycles)-5:]
		healths := make([]float64, len(recent))
		for i, c := range recent {
			healths[i] = c.CycleHealth
		}
		if v := variance(healths); v > l.thresholds.MaxPerformanceVariance {
			events = append(events, TriggerEvent{Kind: TriggerPerformanceInstability, Detail: fmt.Sprintf("variance=%.3f", v)})
		}
	}

	return events
}

// computeEfficiency implements §4.7.3's efficiency/roi formulas.
func computeEfficiency(avgSuccessRate, communicationHealth float64, recentROIs []float64) (efficiency, weightedROI float64) {
	var roiSum float64
	for _, r := range recentROIs {
		roiSum += r * 0.2
	}
	recentROIFactor := 0.0
	if len(recentROIs) > 0 {
		recentROIFactor = math.Min(0.4, roiSum/float64(len(recentROIs)))
	}
	efficiency = clamp(0, 1, avgSuccessRate*0.5+communicationHealth*0.3+recentROIFactor)

	var weightedSum, weightSum float64
	for i, r := range recentROIs {
		weight := float64(i + 1) // more recent cycles (later in slice) weighted higher
		weightedSum += r * weight
		weightSum += weight
	}
	if weightSum > 0 {
		weightedROI = weightedSum / weightSum
	}
	return efficiency, weightedROI
}

// Reallocate implements the self-learning reallocation of §4.7.3: two
// ordered rules producing zero or more Reallocation records, persisted
// weight/effectiveness updates, and allocation-pattern discovery.
func (l *Layer) Reallocate(cycles []economy.CyclePerformance, agentMetrics map[string]agentstate.PerformanceMetrics, communicationHealth float64) []Reallocation {
	var avgSuccessRate float64
	if len(agentMetrics) > 0 {
		for _, m := range agentMetrics {
			avgSuccessRate += m.SuccessRate
		}
		avgSuccessRate /= float64(len(agentMetrics))
	}

	last5 := cycles
	if len(last5) > 5 {
		last5 = last5[len(last5)-5:]
	}
	roiValues := make([]float64, len(last5))
	for i, c := range last5 {
		roiValues[i] = c.ROI
	}
	efficiency, roi := computeEfficiency(avgSuccessRate, communicationHealth, roiValues)

	l.mu.Lock()
	w := l.weights
	l.mu.Unlock()

	var reallocations []Reallocation

	if efficiency < 0.5 {
		amount := 0.20
		w.InvestmentWeight -= amount
		w.MarketingWeight += amount
		reallocations = append(reallocations, Reallocation{
			FromStrategy: "investment_weight", ToStrategy: "marketing_weight", TransferAmount: amount,
			Reason: "efficiency below 0.5", ExpectedImprovement: amount * 0.5,
		})

		if roi < 0.1 {
			amount2 := 0.10
			w.InvestmentWeight -= amount2
			w.BusinessDevWeight += amount2
			reallocations = append(reallocations, Reallocation{
				FromStrategy: "investment_weight", ToStrategy: "business_dev_weight", TransferAmount: amount2,
				Reason: "efficiency below 0.5 and roi below 0.1", ExpectedImprovement: amount2 * 0.5,
			})
		}
	} else if efficiency > 0.8 && roi > 0.2 {
		amount := 0.05
		w.RiskManagementWeight -= amount
		w.UserAcquisitionWeight += amount
		reallocations = append(reallocations, Reallocation{
			FromStrategy: "risk_management_weight", ToStrategy: "user_acquisition_weight", TransferAmount: amount,
			Reason: "efficiency above 0.8 and roi above 0.2", ExpectedImprovement: amount * 0.5,
		})
	}

	w.InvestmentWeight = clamp(0.1, 1, w.InvestmentWeight)
	w.MarketingWeight = clamp(0.05, 0.5, w.MarketingWeight)
	w.BusinessDevWeight = clamp(0.05, 0.4, w.BusinessDevWeight)
	w.RiskManagementWeight = clamp(0.05, 1, w.RiskManagementWeight)
	w.UserAcquisitionWeight = clamp(0.05, 1, w.UserAcquisitionWeight)
	w.ConfidenceScore = clamp(0, 1, w.ConfidenceScore+0.1)
	w.UpdatedAt = time.Now()

	l.mu.Lock()
	l.weights = w
	for _, r := range reallocations {
		l.effectiveness[r.ToStrategy] = clamp(0, 1, l.effectiveness[r.ToStrategy]+0.1*r.ExpectedImprovement)
		l.effectiveness[r.FromStrategy] = clamp(0, 1, l.effectiveness[r.FromStrategy]-0.05*r.TransferAmount)
	}
	l.mu.Unlock()

	if err := l.persistWeights(w); err != nil {
		l.log.WithFields(nil).WithField("error", err.Error()).Error("failed to persist reallocated strategy weights")
	}
	l.persistEffectiveness()

	for _, r := range reallocations {
		if err := l.publishReallocation(r); err != nil {
			l.log.WithFields(nil).WithField("error", err.Error()).Warn("failed to broadcast strategy_reallocation")
		}
	}

	if efficiency > 0.7 && roi > 0.15 {
		l.recordAllocationPattern(w, efficiency, roi)
	}

	return reallocations
}

func (l *Layer) publishReallocation(r Reallocation) error {
	return l.b.Broadcast("governance", bus.TopicStrategyReallocation, r)
}

func (l *Layer) persistEffectiveness() {
	l.mu.Lock()
	snapshot := make(map[string]float64, len(l.effectiveness))
	for k, v := range l.effectiveness {
		snapshot[k] = v
	}
	l.mu.Unlock()

	for name, score := range snapshot {
		if _, err := l.db.Exec(
			`INSERT INTO strategy_effectiveness (strategy_name, effectiveness) VALUES (?, ?)
			 ON CONFLICT(strategy_name) DO UPDATE SET effectiveness = excluded.effectiveness`,
			name, score,
		); err != nil {
			l.log.WithFields(nil).WithField("error", err.Error()).Warn("failed to persist strategy effectiveness")
		}
	}
}

func (l *Layer) recordAllocationPattern(w StrategyWeights, efficiency, roi float64) {
	weightsJSON, err := json.Marshal(w)
	if err != nil {
		return
	}
	pattern := AllocationPattern{
		ID: uuid.New().String(), Name: fmt.Sprintf("pattern-%d", time.Now().UnixNano()),
		Weights: w, Efficiency: efficiency, ROI: roi, RecordedAt: time.Now(),
	}
	if _, err := l.db.Exec(
		`INSERT INTO allocation_patterns (id, name, weights, efficiency, roi, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		pattern.ID, pattern.Name, string(weightsJSON), pattern.Efficiency, pattern.ROI, pattern.RecordedAt,
	); err != nil {
		l.log.WithFields(nil).WithField("error", err.Error()).Warn("failed to persist allocation pattern")
		return
	}

	var count int
	l.db.QueryRow(`SELECT COUNT(*) FROM allocation_patterns`).Scan(&count)
	if count > maxAllocationPatterns {
		l.db.Exec(`DELETE FROM allocation_patterns WHERE id IN (SELECT id FROM allocation_patterns ORDER BY recorded_at ASC LIMIT ?)`, count-maxAllocationPatterns)
	}
}

// AllocationPatterns returns the bounded (≤5) set of recorded patterns,
// most recent first.
func (l *Layer) AllocationPatterns() ([]AllocationPattern, error) {
	rows, err := l.db.Query(`SELECT id, name, weights, efficiency, roi, recorded_at FROM allocation_patterns ORDER BY recorded_at DESC`)
	if err != nil {
		return nil, obs.Storage("failed to load allocation patterns", err)
	}
	defer rows.Close()

	var patterns []AllocationPattern
	for rows.Next() {
		var p AllocationPattern
		var weightsJSON string
		if err := rows.Scan(&p.ID, &p.Name, &weightsJSON, &p.Efficiency, &p.ROI, &p.RecordedAt); err != nil {
			return nil, obs.Storage("failed to scan allocation pattern", err)
		}
		json.Unmarshal([]byte(weightsJSON), &p.Weights)
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// triggerAdjustment builds the adjustment for a fired trigger (§4.7.4).
func triggerAdjustment(event TriggerEvent, weights StrategyWeights) StrategyAdjustment {
	before := map[string]float64{
		"investment_weight": weights.InvestmentWeight, "marketing_weight": weights.MarketingWeight,
		"business_dev_weight": weights.BusinessDevWeight, "risk_management_weight": weights.RiskManagementWeight,
		"user_acquisition_weight": weights.UserAcquisitionWeight,
	}
	after := map[string]float64{}
	for k, v := range before {
		after[k] = v
	}

	var kind AdjustmentKind
	impact := ExpectedImpact{MeasurementTimelineDays: 14}

	switch event.Kind {
	case TriggerConsistentPoorROI:
		kind = AdjustInvestmentRebalancing
		after["investment_weight"] = clamp(0.1, 1, before["investment_weight"]-0.15)
		after["marketing_weight"] = clamp(0.05, 0.5, before["marketing_weight"]+0.15)
		impact.ROIImprovement = 0.1
		impact.EfficiencyGain = 0.05
	case TriggerAgentUnderperformance:
		kind = AdjustAgentReplacement
		impact.EfficiencyGain = 0.1
		impact.MeasurementTimelineDays = 7
	case TriggerPerformanceInstability:
		kind = AdjustCoordinationTuning
		impact.RiskReduction = 0.1
		impact.EfficiencyGain = 0.05
	default:
		kind = AdjustStrategyPivot
	}

	return StrategyAdjustment{
		ID: uuid.New().String(), Kind: kind, Trigger: event.Kind,
		BeforeParams: before, AfterParams: after, ExpectedImpact: impact, CreatedAt: time.Now(),
	}
}

// ApplyAdjustments constructs a StrategyAdjustment per fired trigger and
// either dispatches a concrete command or publishes a recommendation,
// per auto_adjustment_enabled (§4.7.4). History is bounded to 50.
func (l *Layer) ApplyAdjustments(events []TriggerEvent) []StrategyAdjustment {
	weights := l.Weights()
	var adjustments []StrategyAdjustment

	for _, event := range events {
		adj := triggerAdjustment(event, weights)
		adj.AutoApplied = l.autoAdjust

		if l.autoAdjust {
			cmd := &bus.BusMessage{
				ID: uuid.New().String(), Timestamp: time.Now(), FromAgent: "governance",
				Topic: bus.TopicStrategyReallocation, Type: bus.MessageCommand, Payload: adj, Priority: 8,
			}
			if err := l.b.Publish(cmd); err != nil {
				l.log.WithFields(nil).WithField("error", err.Error()).Warn("failed to dispatch governance command")
			}
		} else if err := l.b.Broadcast("governance", "governance_recommendation", adj); err != nil {
			l.log.WithFields(nil).WithField("error", err.Error()).Warn("failed to publish governance recommendation")
		}

		l.persistAdjustment(adj)
		adjustments = append(adjustments, adj)
	}

	l.mu.Lock()
	l.adjustmentHistory = append(l.adjustmentHistory, adjustments...)
	if len(l.adjustmentHistory) > maxAdjustmentHistory {
		l.adjustmentHistory = l.adjustmentHistory[len(l.adjustmentHistory)-maxAdjustmentHistory:]
	}
	l.mu.Unlock()

	return adjustments
}

func (l *Layer) persistAdjustment(adj StrategyAdjustment) {
	before, _ := json.Marshal(adj.BeforeParams)
	after, _ := json.Marshal(adj.AfterParams)
	autoApplied := 0
	if adj.AutoApplied {
		autoApplied = 1
	}
	if _, err := l.db.Exec(
		`INSERT INTO adjustment_history (id, kind, trigger, before_params, after_params, expected_roi_improvement, expected_efficiency_gain, expected_risk_reduction, measurement_timeline_days, auto_applied, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		adj.ID, string(adj.Kind), string(adj.Trigger), string(before), string(after),
		adj.ExpectedImpact.ROIImprovement, adj.ExpectedImpact.EfficiencyGain, adj.ExpectedImpact.RiskReduction,
		adj.ExpectedImpact.MeasurementTimelineDays, autoApplied, adj.CreatedAt,
	); err != nil {
		l.log.WithFields(nil).WithField("error", err.Error()).Warn("failed to persist adjustment history")
	}
}

// AdjustmentHistory returns the bounded (≤50) in-memory adjustment history.
func (l *Layer) AdjustmentHistory() []StrategyAdjustment {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StrategyAdjustment, len(l.adjustmentHistory))
	copy(out, l.adjustmentHistory)
	return out
}

// Tick runs one full governance pass: trigger detection, self-learning
// reallocation, and triggered adjustments (§4.7.2-4.7.4).
func (l *Layer) Tick() ([]TriggerEvent, []Reallocation, []StrategyAdjustment) {
	cycles := l.loop.History()
	agentMetrics, err := l.states.GetPerformanceComparison()
	if err != nil {
		l.log.WithFields(nil).WithField("error", err.Error()).Warn("failed to snapshot agent performance for governance tick")
		agentMetrics = map[string]agentstate.PerformanceMetrics{}
	}

	stats := l.b.GetStats()
	communicationHealth := 1.0
	if stats.ActiveSubscriptions == 0 {
		communicationHealth = 0.5
	}

	events := l.DetectTriggers(cycles, agentMetrics)
	reallocations := l.Reallocate(cycles, agentMetrics, communicationHealth)
	adjustments := l.ApplyAdjustments(events)
	return events, reallocations, adjustments
}

// Run starts the governance loop's own timer (default six hours),
// running independently of the Economy Loop's phase progression (§4.7.5).
func (l *Layer) Run(interval time.Duration) {
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})

	go func() {
		defer close(l.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.Tick()
			}
		}
	}()
}

// Stop halts the governance timer and waits for any in-flight tick.
func (l *Layer) Stop() {
	if l.stopCh == nil {
		return
	}
	close(l.stopCh)
	<-l.doneCh
}
