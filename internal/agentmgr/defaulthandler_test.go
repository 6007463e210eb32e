package agentmgr

import (
	"testing"

	"github.com/agentrium/runtime/internal/memory"
)

func TestDefaultHandlerThinkPersistsToMemoryStore(t *testing.T) {
	store, err := memory.NewMemoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	factory := NewDefaultHandlerFactory(store)
	h := factory("investor-primary", KindInvestor)

	out, err := h.Think("scan fintech sector")
	if err != nil {
		t.Fatalf("think: %v", err)
	}
	if out == "" {
		t.Fatal("expected a nonempty acknowledgement")
	}
	if len(h.MemoryKeys()) != 1 {
		t.Fatalf("expected one touched memory key, got %v", h.MemoryKeys())
	}

	recalled, err := h.Recall(nil)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if recalled != "scan fintech sector" {
		t.Fatalf("expected recall to surface the stored think, got %q", recalled)
	}
}

func TestDefaultHandlerCapabilitiesVaryByKind(t *testing.T) {
	store, err := memory.NewMemoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	factory := NewDefaultHandlerFactory(store)
	investor := factory("investor-primary", KindInvestor)
	if len(investor.Capabilities()) == 0 {
		t.Fatal("expected nonempty capabilities for investor kind")
	}
	general := factory("general-1", KindGeneral)
	if investor.Capabilities()[0] == general.Capabilities()[0] {
		t.Fatal("expected capabilities to differ by kind")
	}
}
