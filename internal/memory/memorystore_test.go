package memory

import (
	"testing"
	"time"
)

func openTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreThenRetrieveRoundTrips(t *testing.T) {
	store := openTestMemoryStore(t)

	entry, err := store.Store("agent-1", "business", "quarterly-note", "revenue is up this quarter")
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := store.Retrieve(entry.ID)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got == nil {
		t.Fatal("expected entry, got nil")
	}
	if got.Content != "revenue is up this quarter" {
		t.Fatalf("unexpected content: %q", got.Content)
	}
}

func TestDeleteThenRetrieveIsNil(t *testing.T) {
	store := openTestMemoryStore(t)

	entry, err := store.Store("agent-1", "system", "k", "some note")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.Delete(entry.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := store.Retrieve(entry.ID)
	if err != nil {
		t.Fatalf("retrieve after delete: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil after delete")
	}
}

func TestImportanceOrderingByCategory(t *testing.T) {
	investment := calculateImportance("investment", "a note")
	system := calculateImportance("system", "a note")
	if !(investment >= system) {
		t.Fatalf("expected investment importance (%v) >= system importance (%v)", investment, system)
	}
}

func TestMonetaryContentRaisesImportanceAndClamps(t *testing.T) {
	base := calculateImportance("system", "a plain note with no markers")
	monetary := calculateImportance("system", "profit of $500 this week")
	if monetary < base*1.2-1e-9 && monetary < 1.0 {
		t.Fatalf("expected monetary multiplier to raise importance: base=%v monetary=%v", base, monetary)
	}
	if monetary > 1.0 {
		t.Fatalf("importance must be clamped to 1.0, got %v", monetary)
	}

	investmentMonetary := calculateImportance("investment", "$ gains everywhere")
	if investmentMonetary != 1.0 {
		t.Fatalf("expected investment + monetary content to clamp to 1.0, got %v", investmentMonetary)
	}
}

func TestExtractTagsHeuristics(t *testing.T) {
	tags := extractTags("our investment portfolio saw a $500 profit this week, watch the risk")
	want := map[string]bool{"investment": false, "financial": false, "risk": false, "monetary": false}
	for _, tag := range tags {
		if _, ok := want[tag]; ok {
			want[tag] = true
		}
	}
	for tag, found := range want {
		if !found {
			t.Fatalf("expected tag %q to be extracted, got %v", tag, tags)
		}
	}
}

func TestSearchFiltersByAgentAndCategory(t *testing.T) {
	store := openTestMemoryStore(t)

	store.Store("agent-1", "business", "a", "note a")
	store.Store("agent-1", "personal", "b", "note b")
	store.Store("agent-2", "business", "c", "note c")

	results, err := store.Search(Query{AgentID: "agent-1", Category: "business"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Key != "a" {
		t.Fatalf("expected exactly entry 'a', got %+v", results)
	}
}

func TestRelevanceSortIsMonotonicInAccessCount(t *testing.T) {
	store := openTestMemoryStore(t)

	lowEntry, _ := store.Store("agent-1", "system", "low", "a note")
	highEntry, _ := store.Store("agent-1", "system", "high", "a note")

	for i := 0; i < 5; i++ {
		if _, err := store.Retrieve(highEntry.ID); err != nil {
			t.Fatalf("retrieve: %v", err)
		}
	}

	results, err := store.Search(Query{AgentID: "agent-1", SortBy: SortRelevance})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != highEntry.ID {
		t.Fatalf("expected frequently-accessed entry first, got %+v", results)
	}
	_ = lowEntry
}

func TestUpdateRecomputesImportanceAndTags(t *testing.T) {
	store := openTestMemoryStore(t)

	entry, _ := store.Store("agent-1", "system", "k", "a plain note")
	updated, err := store.Update(entry.ID, "huge profit of $1000000 realized")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Importance <= entry.Importance {
		t.Fatalf("expected importance to rise after monetary update: before=%v after=%v", entry.Importance, updated.Importance)
	}
	found := false
	for _, tag := range updated.Tags {
		if tag == "monetary" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected monetary tag after update, got %v", updated.Tags)
	}
}

func TestStoreUpsertsOnIdentityConflict(t *testing.T) {
	store := openTestMemoryStore(t)

	first, err := store.Store("agent-1", "business", "slot", "first content")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	second, err := store.Store("agent-1", "business", "slot", "second content")
	if err != nil {
		t.Fatalf("store again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same identity to upsert in place, got %s vs %s", first.ID, second.ID)
	}

	got, err := store.Retrieve(first.ID)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.Content != "second content" {
		t.Fatalf("expected upsert to replace content, got %q", got.Content)
	}
}

func TestCleanupRemovesOldLowImportanceEntries(t *testing.T) {
	store := openTestMemoryStore(t)

	entry, err := store.Store("agent-1", "system", "stale", "a note")
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	n, err := store.Cleanup(-time.Hour, 1.0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 entry removed, got %d", n)
	}

	got, err := store.Retrieve(entry.ID)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got != nil {
		t.Fatal("expected entry to be cleaned up")
	}
}

func TestRecentActivityTracksOperations(t *testing.T) {
	store := openTestMemoryStore(t)

	entry, _ := store.Store("agent-1", "system", "k", "a note")
	store.Retrieve(entry.ID)
	store.Delete(entry.ID)

	activity := store.RecentActivity()
	if len(activity) < 3 {
		t.Fatalf("expected at least 3 activity records, got %d", len(activity))
	}
	if activity[len(activity)-1].Kind != ActivityDeleted {
		t.Fatalf("expected last activity to be delete, got %s", activity[len(activity)-1].Kind)
	}
}
