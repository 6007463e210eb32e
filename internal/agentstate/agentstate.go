// Package agentstate tracks each agent's decision history and rolling
// performance metrics, persisted eagerly so the runtime can restart without
// losing track record (§4.4).
package agentstate

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/agentrium/runtime/internal/memory"
	"github.com/agentrium/runtime/internal/obs"
	"github.com/google/uuid"
)

const (
	keyPrefix       = "agentstate:"
	maxDecisions    = 100
)

// Decision is one recorded choice an agent made, with an outcome attached
// later once it can be measured (§3.4).
type Decision struct {
	ID                 string      `json:"id"`
	DecisionType        string      `json:"decision_type"`
	InputData           interface{} `json:"input_data"`
	Output              interface{} `json:"output"`
	Confidence          float64     `json:"confidence"`
	Outcome             *string     `json:"outcome,omitempty"`
	DecidedAt           time.Time   `json:"decided_at"`
	OutcomeMeasuredAt   *time.Time  `json:"outcome_measured_at,omitempty"`
}

// PerformanceMetrics is an agent's rolling scorecard (§3.4). SuccessRate and
// AccuracyScore are held in [0,1]; TotalDecisions is monotone non-decreasing.
type PerformanceMetrics struct {
	SuccessRate      float64 `json:"success_rate"`
	AvgROI           float64 `json:"avg_roi"`
	TotalDecisions   int64   `json:"total_decisions"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	AccuracyScore    float64 `json:"accuracy_score"`
	ConfidenceLevel  float64 `json:"confidence_level"`
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

type record struct {
	AgentID     string              `json:"agent_id"`
	Decisions   []Decision          `json:"decisions"`
	Performance PerformanceMetrics  `json:"performance"`
}

// Manager is the Agent State Manager of §4.4, backed by Persistent Memory
// under a fixed key namespace.
type Manager struct {
	store *memory.PersistentMemory

	mu sync.Mutex
}

// New wraps an already-opened Persistent Memory store.
func New(store *memory.PersistentMemory) *Manager {
	return &Manager{store: store}
}

func keyFor(agentID string) string { return keyPrefix + agentID }

func (m *Manager) load(agentID string) (record, error) {
	raw, ok, err := m.store.Get(keyFor(agentID))
	if err != nil {
		return record{}, obs.Storage("failed to load agent state", err)
	}
	if !ok {
		return record{AgentID: agentID}, nil
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return record{}, obs.Storage("failed to decode agent state", err)
	}
	return r, nil
}

func (m *Manager) save(r record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return obs.Storage("failed to encode agent state", err)
	}
	if err := m.store.Put(keyFor(r.AgentID), raw); err != nil {
		return err
	}
	return m.store.Flush()
}

// RecordDecision appends a new decision to the agent's log, capping it to
// the last maxDecisions entries, and returns the assigned decision.
func (m *Manager) RecordDecision(agentID, decisionType string, inputData, output interface{}, confidence float64) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.load(agentID)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		ID:           uuid.New().String(),
		DecisionType: decisionType,
		InputData:    inputData,
		Output:       output,
		Confidence:   clamp01(confidence),
		DecidedAt:    time.Now(),
	}
	r.Decisions = append(r.Decisions, decision)
	if len(r.Decisions) > maxDecisions {
		r.Decisions = r.Decisions[len(r.Decisions)-maxDecisions:]
	}

	if err := m.save(r); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

// RecordOutcome attaches a measured outcome to a prior decision, stamping
// OutcomeMeasuredAt. Returns obs.KindAgent if the decision is not found
// (it may have rolled out of the bounded log).
func (m *Manager) RecordOutcome(agentID, decisionID, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.load(agentID)
	if err != nil {
		return err
	}

	found := false
	for i := range r.Decisions {
		if r.Decisions[i].ID == decisionID {
			r.Decisions[i].Outcome = &outcome
			now := time.Now()
			r.Decisions[i].OutcomeMeasuredAt = &now
			found = true
			break
		}
	}
	if !found {
		return obs.Agent(agentID, nil).WithDetail("reason", "decision not found, may have rolled out of bounded log").WithDetail("decision_id", decisionID)
	}
	return m.save(r)
}

// UpdatePerformance replaces the agent's current metrics snapshot.
func (m *Manager) UpdatePerformance(agentID string, metrics PerformanceMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.load(agentID)
	if err != nil {
		return err
	}
	metrics.SuccessRate = clamp01(metrics.SuccessRate)
	metrics.AccuracyScore = clamp01(metrics.AccuracyScore)
	if metrics.TotalDecisions < r.Performance.TotalDecisions {
		metrics.TotalDecisions = r.Performance.TotalDecisions
	}
	r.Performance = metrics
	return m.save(r)
}

// Decisions returns the agent's bounded decision log, oldest first.
func (m *Manager) Decisions(agentID string) ([]Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.load(agentID)
	if err != nil {
		return nil, err
	}
	return r.Decisions, nil
}

// Performance returns the agent's current rolling metrics.
func (m *Manager) Performance(agentID string) (PerformanceMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.load(agentID)
	if err != nil {
		return PerformanceMetrics{}, err
	}
	return r.Performance, nil
}

// GetPerformanceComparison snapshots every tracked agent's current metrics
// by scanning the fixed key namespace.
func (m *Manager) GetPerformanceComparison() (map[string]PerformanceMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.store.ScanPrefix(keyPrefix)
	if err != nil {
		return nil, err
	}

	out := make(map[string]PerformanceMetrics, len(entries))
	for _, e := range entries {
		var r record
		if err := json.Unmarshal(e.Value, &r); err != nil {
			continue
		}
		out[r.AgentID] = r.Performance
	}
	return out, nil
}
