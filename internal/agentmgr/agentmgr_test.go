package agentmgr

import (
	"fmt"
	"testing"
	"time"

	"github.com/agentrium/runtime/internal/obs"
)

type fakeHandler struct {
	id         string
	kind       Kind
	calls      int
	memoryKeys []string
	failNext   bool
}

func (f *fakeHandler) ID() string   { return f.id }
func (f *fakeHandler) Kind() Kind   { return f.kind }
func (f *fakeHandler) Capabilities() []string { return []string{"analyze"} }
func (f *fakeHandler) UpdateConfig(Config)    {}
func (f *fakeHandler) Memorize(key, value string) {
	f.memoryKeys = append(f.memoryKeys, key)
}
func (f *fakeHandler) MemoryKeys() []string { return append([]string(nil), f.memoryKeys...) }
func (f *fakeHandler) Recall(query *string) (string, error) { return "", nil }
func (f *fakeHandler) ReceiveMessage(from, message string) (*string, error) { return nil, nil }
func (f *fakeHandler) StateSummary() Summary {
	return Summary{ID: f.id, Kind: f.kind, LastActive: time.Now(), Capabilities: f.Capabilities()}
}
func (f *fakeHandler) Think(input string) (string, error) {
	f.calls++
	if f.failNext {
		f.failNext = false
		return "", fmt.Errorf("boom")
	}
	f.Memorize(fmt.Sprintf("note-%d", f.calls), input)
	return "did: " + input, nil
}

func testManager(t *testing.T) (*Manager, *fakeHandler) {
	t.Helper()
	var h *fakeHandler
	factory := func(id string, kind Kind) Handler {
		h = &fakeHandler{id: id, kind: kind}
		return h
	}
	m := New(factory, obs.New("agentmgr-test", "error", "text"))
	m.GetOrCreate("agent-1", KindInvestor)
	return m, h
}

func TestGetOrCreateReusesHandler(t *testing.T) {
	m, _ := testManager(t)
	h1 := m.GetOrCreate("agent-1", KindInvestor)
	h2 := m.GetOrCreate("agent-1", KindInvestor)
	if h1 != h2 {
		t.Fatal("expected the same handler instance on repeated GetOrCreate")
	}
}

func TestProcessWithAgentRecordsInteractionAndMemoryDiff(t *testing.T) {
	m, _ := testManager(t)

	output, err := m.ProcessWithAgent("agent-1", "analyze market")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if output != "did: analyze market" {
		t.Fatalf("unexpected output: %q", output)
	}

	stats := m.GetStatistics()
	if stats.TotalInteractions != 1 {
		t.Fatalf("expected 1 interaction, got %d", stats.TotalInteractions)
	}

	exported, err := m.ExportAgentData("agent-1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(exported.Interactions) != 1 {
		t.Fatalf("expected 1 exported interaction, got %d", len(exported.Interactions))
	}
	if len(exported.Interactions[0].MemoryKeysUpdated) != 1 {
		t.Fatalf("expected exactly one new memory key recorded, got %v", exported.Interactions[0].MemoryKeysUpdated)
	}
}

func TestProcessWithAgentPropagatesThinkError(t *testing.T) {
	m, h := testManager(t)
	h.failNext = true

	_, err := m.ProcessWithAgent("agent-1", "bad input")
	if err == nil {
		t.Fatal("expected an error from a failing think()")
	}
}

func TestProcessWithUnknownAgentErrors(t *testing.T) {
	m, _ := testManager(t)
	if _, err := m.ProcessWithAgent("nonexistent", "x"); err == nil {
		t.Fatal("expected an error for an unregistered agent")
	}
}

func TestArchiveInactiveRemovesStaleHandlers(t *testing.T) {
	m, _ := testManager(t)
	removed := m.ArchiveInactive(-time.Hour) // everything is "older" than a negative threshold
	if removed != 1 {
		t.Fatalf("expected 1 handler archived, got %d", removed)
	}
	if _, err := m.ProcessWithAgent("agent-1", "x"); err == nil {
		t.Fatal("expected archived agent to require re-registration")
	}
}

func TestGetAgentStatisticsReportsPerAgentCounters(t *testing.T) {
	m, _ := testManager(t)
	m.ProcessWithAgent("agent-1", "a")
	m.ProcessWithAgent("agent-1", "b")

	stats := m.GetAgentStatistics()
	if len(stats) != 1 || stats[0].Interactions != 2 {
		t.Fatalf("expected agent-1 with 2 interactions, got %+v", stats)
	}
}

func TestCleanupLogsPrunesOldInteractions(t *testing.T) {
	m, _ := testManager(t)
	m.ProcessWithAgent("agent-1", "a")

	removed := m.CleanupLogs(-1) // cutoff in the future: everything is "older"
	if removed != 1 {
		t.Fatalf("expected 1 log entry pruned, got %d", removed)
	}
}

func TestBroadcastAndCoordinateRequireSharedBus(t *testing.T) {
	m, _ := testManager(t)
	if err := m.BroadcastToAgents("agent-1", "topic", "payload"); err == nil {
		t.Fatal("expected an error when the shared bus is not enabled")
	}
	if err := m.CoordinateAgents("agent-1", "payload"); err == nil {
		t.Fatal("expected an error when the shared bus is not enabled")
	}
}
