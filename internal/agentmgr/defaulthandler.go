package agentmgr

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentrium/runtime/internal/memory"
)

// DefaultHandler is the stock Handler body every agent kind gets when no
// bespoke implementation is wired in — concrete agent reasoning is out of
// scope, but process_with_agent, the interaction history, and memory-key
// diffing all need a real Handler to exercise against. It grounds its
// recall/memorize pair directly in the Memory Store rather than an
// in-process map, so ExportAgentData reflects durable state.
type DefaultHandler struct {
	id   string
	kind Kind

	store *memory.MemoryStore

	mu          sync.Mutex
	cfg         Config
	lastActive  time.Time
	touchedKeys map[string]struct{}
}

// NewDefaultHandlerFactory returns a HandlerFactory backed by store.
func NewDefaultHandlerFactory(store *memory.MemoryStore) HandlerFactory {
	return func(id string, kind Kind) Handler {
		return &DefaultHandler{
			id: id, kind: kind, store: store,
			cfg:         Config{ResponseStyle: DefaultResponseStyle(), MemorySettings: DefaultMemorySettings()},
			touchedKeys: make(map[string]struct{}),
		}
	}
}

func (h *DefaultHandler) ID() string   { return h.id }
func (h *DefaultHandler) Kind() Kind   { return h.kind }

// Think records the request against the Memory Store under a category
// named for the agent kind and returns a deterministic acknowledgement.
func (h *DefaultHandler) Think(input string) (string, error) {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()

	entry, err := h.store.Store(h.id, string(h.kind), fmt.Sprintf("think:%d", time.Now().UnixNano()), input)
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	h.touchedKeys[entry.ID] = struct{}{}
	h.mu.Unlock()

	return fmt.Sprintf("%s acknowledged: %s", h.id, input), nil
}

// Recall searches the agent's own memories, optionally filtered by query.
func (h *DefaultHandler) Recall(query *string) (string, error) {
	q := memory.Query{AgentID: h.id, SortBy: memory.SortRelevance, Limit: 5}
	if query != nil {
		q.RequiredTags = []string{*query}
	}
	entries, err := h.store.Search(q)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[0].Content, nil
}

// Memorize persists a key/value pair under the "general" category.
func (h *DefaultHandler) Memorize(key, value string) {
	entry, err := h.store.Store(h.id, "general", key, value)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.touchedKeys[entry.ID] = struct{}{}
	h.mu.Unlock()
}

// ReceiveMessage treats an inter-agent message like a Think call scoped
// to the sender.
func (h *DefaultHandler) ReceiveMessage(from, message string) (*string, error) {
	out, err := h.Think(fmt.Sprintf("[from %s] %s", from, message))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *DefaultHandler) Capabilities() []string {
	switch h.kind {
	case KindInvestor:
		return []string{"market_analysis", "investment_allocation"}
	case KindBusiness:
		return []string{"strategy_development", "budget_planning", "marketing"}
	case KindUser:
		return []string{"engagement_analysis"}
	case KindSystem:
		return []string{"growth_assessment"}
	default:
		return []string{"general_reasoning"}
	}
}

func (h *DefaultHandler) UpdateConfig(cfg Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
}

func (h *DefaultHandler) StateSummary() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Summary{ID: h.id, Kind: h.kind, LastActive: h.lastActive, Capabilities: h.Capabilities()}
}

func (h *DefaultHandler) MemoryKeys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.touchedKeys))
	for k := range h.touchedKeys {
		keys = append(keys, k)
	}
	return keys
}
