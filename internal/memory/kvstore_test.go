package memory

import (
	"testing"
)

func openTestStore(t *testing.T) *PersistentMemory {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetDelete(t *testing.T) {
	store := openTestStore(t)

	if err := store.Put("ctx:u1:1", []byte("hello")); err != nil {
		t.Fatalf("put: %v", err)
	}

	value, ok, err := store.Get("ctx:u1:1")
	if err != nil || !ok {
		t.Fatalf("get: value=%q ok=%v err=%v", value, ok, err)
	}
	if string(value) != "hello" {
		t.Fatalf("expected hello, got %q", value)
	}

	if err := store.Delete("ctx:u1:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get("ctx:u1:1"); ok {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestScanPrefix(t *testing.T) {
	store := openTestStore(t)

	keys := []string{"pref:u1:a", "pref:u1:b", "pref:u2:a", "ctx:u1:100"}
	for _, k := range keys {
		if err := store.Put(k, []byte(k)); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	entries, err := store.ScanPrefix("pref:u1:")
	if err != nil {
		t.Fatalf("scan_prefix: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries under pref:u1:, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Key != "pref:u1:a" && e.Key != "pref:u1:b" {
			t.Fatalf("unexpected key in scan: %s", e.Key)
		}
	}
}

func TestStats(t *testing.T) {
	store := openTestStore(t)
	store.Put("a", []byte("1"))
	store.Put("b", []byte("2"))

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ItemCount != 2 {
		t.Fatalf("expected 2 items, got %d", stats.ItemCount)
	}
}

func TestFlush(t *testing.T) {
	store := openTestStore(t)
	if err := store.Put("k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
