// Package agentmgr is the registry and message-routing layer of §4.5: it
// owns agent handlers, times their think() calls, and keeps a bounded
// interaction history per agent.
package agentmgr

import (
	"sort"
	"sync"
	"time"

	"github.com/agentrium/runtime/internal/bus"
	"github.com/agentrium/runtime/internal/obs"
)

// Kind is the agent archetype the manager can instantiate handlers for.
type Kind string

const (
	KindInvestor Kind = "investor"
	KindBusiness Kind = "business"
	KindUser     Kind = "user"
	KindGeneral  Kind = "general"
	KindSystem   Kind = "system"
)

// ResponseStyle tunes how a handler's replies read — a supplement over the
// distilled handler contract, carried per-agent.
type ResponseStyle struct {
	Verbosity float64 // 0 terse .. 1 elaborate
	Formality float64 // 0 casual .. 1 formal
	Tone      string
}

func DefaultResponseStyle() ResponseStyle {
	return ResponseStyle{Verbosity: 0.5, Formality: 0.5, Tone: "neutral"}
}

// MemorySettings bounds how much per-agent memory state is retained.
type MemorySettings struct {
	MaxEntries   int
	RetentionDays int
}

func DefaultMemorySettings() MemorySettings {
	return MemorySettings{MaxEntries: 500, RetentionDays: 30}
}

// Config is the mutable per-agent configuration passed to update_config.
type Config struct {
	ResponseStyle  ResponseStyle
	MemorySettings MemorySettings
}

// Summary is the handler-reported state snapshot (the spec's own
// "AgentState" — named Summary here to avoid colliding with the memory
// package's operational AgentState).
type Summary struct {
	ID           string
	Kind         Kind
	LastActive   time.Time
	Capabilities []string
}

// Handler is the contract every agent body implements (§4.5).
type Handler interface {
	ID() string
	Kind() Kind
	Think(input string) (string, error)
	Recall(query *string) (string, error)
	Memorize(key, value string)
	ReceiveMessage(from, message string) (*string, error)
	Capabilities() []string
	UpdateConfig(cfg Config)
	StateSummary() Summary
	// MemoryKeys reports the set of memory keys currently touched by this
	// handler, used by process_with_agent's before/after diffing.
	MemoryKeys() []string
}

// HandlerFactory constructs a new handler of the given kind and id.
type HandlerFactory func(id string, kind Kind) Handler

// Interaction is one processed request/response, recorded in the bounded
// history.
type Interaction struct {
	At                time.Time
	AgentID           string
	AgentKind         Kind
	Input             string
	Output            string
	Duration          time.Duration
	MemoryKeysAccessed []string
	MemoryKeysUpdated  []string
	Err               string
}

const maxInteractionHistory = 500

type agentRecord struct {
	handler     Handler
	mu          sync.Mutex // serializes this agent's Think calls
	lastActive  time.Time
	createdAt   time.Time
	interactions int64
	totalTime   time.Duration
}

// Manager is the Agent Manager of §4.5.
type Manager struct {
	factory HandlerFactory
	log     *obs.Logger
	b       *bus.Bus // optional; enabled via EnableSharedBus

	mu     sync.RWMutex
	agents map[string]*agentRecord

	histMu  sync.Mutex
	history []Interaction
}

// New creates an empty registry. factory constructs handler bodies on
// first use of a given agent id.
func New(factory HandlerFactory, log *obs.Logger) *Manager {
	return &Manager{factory: factory, log: log, agents: make(map[string]*agentRecord)}
}

// EnableSharedBus wires the manager to a Shared Bus so it can publish
// coordination traffic directly, not just relay agent replies onto it.
func (m *Manager) EnableSharedBus(b *bus.Bus) { m.b = b }

// GetOrCreate returns the existing handler for id, constructing one of
// kind if this is the first reference.
func (m *Manager) GetOrCreate(id string, kind Kind) Handler {
	m.mu.RLock()
	rec, ok := m.agents[id]
	m.mu.RUnlock()
	if ok {
		return rec.handler
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.agents[id]; ok {
		return rec.handler
	}
	handler := m.factory(id, kind)
	now := time.Now()
	m.agents[id] = &agentRecord{handler: handler, lastActive: now, createdAt: now}
	return handler
}

func diffKeys(before, after []string) []string {
	seen := make(map[string]bool, len(before))
	for _, k := range before {
		seen[k] = true
	}
	var added []string
	for _, k := range after {
		if !seen[k] {
			added = append(added, k)
		}
	}
	return added
}

// ProcessWithAgent runs the 5-step protocol of §4.5: snapshot memory keys,
// invoke think() timed, diff memory keys, append an interaction record,
// and update running averages.
func (m *Manager) ProcessWithAgent(agentID string, input string) (string, error) {
	m.mu.RLock()
	rec, ok := m.agents[agentID]
	m.mu.RUnlock()
	if !ok {
		return "", obs.Agent(agentID, nil).WithDetail("reason", "unknown agent; call GetOrCreate first")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	before := rec.handler.MemoryKeys()
	start := time.Now()
	output, thinkErr := rec.handler.Think(input)
	duration := time.Since(start)
	after := rec.handler.MemoryKeys()

	rec.lastActive = time.Now()
	rec.interactions++
	rec.totalTime += duration

	interaction := Interaction{
		At: rec.lastActive, AgentID: agentID, AgentKind: rec.handler.Kind(),
		Input: input, Output: output, Duration: duration,
		MemoryKeysAccessed: before, MemoryKeysUpdated: diffKeys(before, after),
	}
	if thinkErr != nil {
		interaction.Err = thinkErr.Error()
	}
	m.appendHistory(interaction)

	if thinkErr != nil {
		return "", obs.Agent(agentID, thinkErr)
	}
	return output, nil
}

func (m *Manager) appendHistory(i Interaction) {
	m.histMu.Lock()
	defer m.histMu.Unlock()
	m.history = append(m.history, i)
	if len(m.history) > maxInteractionHistory {
		m.history = m.history[len(m.history)-maxInteractionHistory:]
	}
}

// ArchiveInactive removes handlers whose last_active predates the
// threshold; the underlying persisted memory (owned by the handler, not
// the manager) survives for later re-attachment.
func (m *Manager) ArchiveInactive(threshold time.Duration) int {
	cutoff := time.Now().Add(-threshold)
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, rec := range m.agents {
		if rec.lastActive.Before(cutoff) {
			delete(m.agents, id)
			removed++
		}
	}
	return removed
}

// CleanupLogs prunes the interaction history independently of
// ArchiveInactive, dropping entries older than retainDays.
func (m *Manager) CleanupLogs(retainDays int) int {
	cutoff := time.Now().AddDate(0, 0, -retainDays)
	m.histMu.Lock()
	defer m.histMu.Unlock()

	kept := m.history[:0:0]
	for _, i := range m.history {
		if i.At.After(cutoff) {
			kept = append(kept, i)
		}
	}
	removed := len(m.history) - len(kept)
	m.history = kept
	return removed
}

// Statistics is the aggregate counters surfaced by get_statistics.
type Statistics struct {
	AgentCount        int
	TotalInteractions int64
	AvgResponseTimeMs float64
}

// GetStatistics returns manager-wide aggregate counters.
func (m *Manager) GetStatistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	var sumTime time.Duration
	for _, rec := range m.agents {
		total += rec.interactions
		sumTime += rec.totalTime
	}
	stats := Statistics{AgentCount: len(m.agents), TotalInteractions: total}
	if total > 0 {
		stats.AvgResponseTimeMs = float64(sumTime.Milliseconds()) / float64(total)
	}
	return stats
}

// AgentStatistics is the per-agent counterpart of GetStatistics.
type AgentStatistics struct {
	AgentID           string
	Kind              Kind
	Interactions      int64
	AvgResponseTimeMs float64
	LastActive        time.Time
	CreatedAt         time.Time
}

// GetAgentStatistics returns per-agent counters, ordered by agent id.
func (m *Manager) GetAgentStatistics() []AgentStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AgentStatistics, 0, len(m.agents))
	for id, rec := range m.agents {
		stat := AgentStatistics{
			AgentID: id, Kind: rec.handler.Kind(), Interactions: rec.interactions,
			LastActive: rec.lastActive, CreatedAt: rec.createdAt,
		}
		if rec.interactions > 0 {
			stat.AvgResponseTimeMs = float64(rec.totalTime.Milliseconds()) / float64(rec.interactions)
		}
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// ExportedAgentData is one agent's full interaction history plus its
// memory-key footprint, for operator diagnostics.
type ExportedAgentData struct {
	AgentID      string
	Kind         Kind
	MemoryKeys   []string
	Interactions []Interaction
}

// ExportAgentData serializes one agent's interaction history and memory
// footprint.
func (m *Manager) ExportAgentData(agentID string) (ExportedAgentData, error) {
	m.mu.RLock()
	rec, ok := m.agents[agentID]
	m.mu.RUnlock()
	if !ok {
		return ExportedAgentData{}, obs.Agent(agentID, nil).WithDetail("reason", "unknown agent")
	}

	m.histMu.Lock()
	var interactions []Interaction
	for _, i := range m.history {
		if i.AgentID == agentID {
			interactions = append(interactions, i)
		}
	}
	m.histMu.Unlock()

	return ExportedAgentData{
		AgentID: agentID, Kind: rec.handler.Kind(),
		MemoryKeys: rec.handler.MemoryKeys(), Interactions: interactions,
	}, nil
}

// BroadcastToAgents publishes a coordination broadcast to every
// subscriber of topic, requiring the Shared Bus to have been enabled.
func (m *Manager) BroadcastToAgents(fromAgent, topic string, payload interface{}) error {
	if m.b == nil {
		return obs.Publish("shared bus not enabled on agent manager", nil)
	}
	return m.b.Broadcast(fromAgent, topic, payload)
}

// CoordinateAgents issues a coordination request on the bus's fixed
// "coordination" topic via the Shared Bus's Coordinate helper.
func (m *Manager) CoordinateAgents(fromAgent string, payload interface{}) error {
	if m.b == nil {
		return obs.Publish("shared bus not enabled on agent manager", nil)
	}
	return m.b.Coordinate(fromAgent, payload)
}

// String helps tests/diagnostics render a Kind without a type assertion.
func (k Kind) String() string { return string(k) }
