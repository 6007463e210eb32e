package memory

import (
	"database/sql"
	_ "embed"
	"os"
	"path/filepath"
	"time"

	"github.com/agentrium/runtime/internal/obs"
	_ "modernc.org/sqlite"
)

//go:embed schema_kv.sql
var schemaKV string

// PersistentMemory is the durable, ordered key-value store of §4.1: a
// single-writer-per-key store whose prefix scans return the whole matching
// set at once rather than a lazy sequence. The Agent State Manager uses it
// to survive restarts; the Memory Store keeps its own database.
type PersistentMemory struct {
	db   *sql.DB
	path string
}

// KVEntry is one (key, bytes) pair returned by ScanPrefix.
type KVEntry struct {
	Key   string
	Value []byte
}

// Open creates or opens a store rooted at path (a directory). Fails with a
// StorageError if the path cannot be created or the database locked.
func Open(path string) (*PersistentMemory, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, obs.Storage("failed to create persistent memory root", err)
	}
	dbPath := filepath.Join(path, "memory.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, obs.Storage("failed to open persistent memory database", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, obs.Storage("failed to configure persistent memory database", err)
		}
	}
	if _, err := db.Exec(schemaKV); err != nil {
		db.Close()
		return nil, obs.Storage("failed to apply persistent memory schema", err)
	}

	return &PersistentMemory{db: db, path: dbPath}, nil
}

// Put writes key/value atomically with respect to concurrent callers.
func (m *PersistentMemory) Put(key string, value []byte) error {
	_, err := m.db.Exec(
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now(),
	)
	if err != nil {
		return obs.Storage("put failed", err)
	}
	return nil
}

// Get returns the value for key, or (nil, false, nil) if absent.
func (m *PersistentMemory) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := m.db.QueryRow(`SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, obs.Storage("get failed", err)
	}
	return value, true, nil
}

// Delete removes key if present; deleting an absent key is not an error.
func (m *PersistentMemory) Delete(key string) error {
	if _, err := m.db.Exec(`DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return obs.Storage("delete failed", err)
	}
	return nil
}

// ScanPrefix returns every (key, value) pair whose key starts with prefix,
// ordered by key. SQLite's default collation sorts TEXT lexicographically,
// so the half-open range [prefix, prefix+0xff) captures exactly the prefix
// set without a LIKE-escaping concern.
func (m *PersistentMemory) ScanPrefix(prefix string) ([]KVEntry, error) {
	upper := prefix + "\xff"
	rows, err := m.db.Query(
		`SELECT key, value FROM kv_store WHERE key >= ? AND key < ? ORDER BY key`,
		prefix, upper,
	)
	if err != nil {
		return nil, obs.Storage("scan_prefix failed", err)
	}
	defer rows.Close()

	var entries []KVEntry
	for rows.Next() {
		var e KVEntry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, obs.Storage("scan_prefix scan failed", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Flush durably persists pending writes. SQLite's WAL mode already
// fsyncs each transaction; this forces a checkpoint back into the main
// database file so callers who flush after a batch see it reflected there.
func (m *PersistentMemory) Flush() error {
	if _, err := m.db.Exec(`PRAGMA wal_checkpoint(PASSIVE)`); err != nil {
		return obs.Storage("flush failed", err)
	}
	return nil
}

// Stats reports item count and on-disk size, for operator diagnostics.
type MemoryStats struct {
	ItemCount    int64
	SizeOnDiskBytes int64
}

func (m *PersistentMemory) Stats() (MemoryStats, error) {
	var stats MemoryStats
	if err := m.db.QueryRow(`SELECT COUNT(*) FROM kv_store`).Scan(&stats.ItemCount); err != nil {
		return stats, obs.Storage("stats failed", err)
	}
	if info, err := os.Stat(m.path); err == nil {
		stats.SizeOnDiskBytes = info.Size()
	}
	return stats, nil
}

// Close releases the underlying database handle.
func (m *PersistentMemory) Close() error {
	return m.db.Close()
}
