package memory

import (
	"database/sql"
	_ "embed"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentrium/runtime/internal/obs"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

//go:embed schema_memorystore.sql
var schemaMemoryStore string

// MemoryEntry is a structured memory record keyed by (agent, category, key)
// (§3.3).
type MemoryEntry struct {
	ID           string
	AgentID      string
	Category     string
	Key          string
	Content      string
	Importance   float64
	Tags         []string
	RelatedIDs   []string
	AccessCount  int
	CreatedAt    time.Time
	LastAccessed time.Time
}

// SortBy selects one of the five orderings search results may be returned in.
type SortBy string

const (
	SortCreatedAt    SortBy = "created_at"
	SortLastAccessed SortBy = "last_accessed"
	SortImportance   SortBy = "importance"
	SortAccessCount  SortBy = "access_count"
	SortRelevance    SortBy = "relevance"
)

// Query filters a search over the store.
type Query struct {
	AgentID       string
	Category      string
	Substring     string
	RequiredTags  []string
	MinImportance float64
	SortBy        SortBy
	Limit         int
}

// ActivityKind tags one observability event in the bounded activity ring.
type ActivityKind string

const (
	ActivityCreated  ActivityKind = "created"
	ActivityAccessed ActivityKind = "accessed"
	ActivityUpdated  ActivityKind = "updated"
	ActivityDeleted  ActivityKind = "deleted"
)

// Activity is one entry in the bounded (last 100) activity ring (§4.2).
type Activity struct {
	EntryID string
	Kind    ActivityKind
	At      time.Time
}

const activityRingSize = 100

// MemoryStore is the structured memory layer of §4.2: store/retrieve/
// search/update/delete over a durable index, with an advisory in-process
// cache and a bounded activity ring for observability.
type MemoryStore struct {
	db *sql.DB

	cacheMu sync.Mutex
	cache   map[string]*MemoryEntry // advisory; up to 256 stored/retrieved entries, an arbitrary one evicted when full; lookups read the database, not this map

	activityMu sync.Mutex
	activity   []Activity
}

// NewMemoryStore opens (creating if absent) the memory store index rooted
// at root/memorystore.db.
func NewMemoryStore(root string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", filepath.Join(root, "memorystore.db"))
	if err != nil {
		return nil, obs.Storage("failed to open memory store database", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, obs.Storage("failed to configure memory store database", err)
		}
	}
	if _, err := db.Exec(schemaMemoryStore); err != nil {
		db.Close()
		return nil, obs.Storage("failed to apply memory store schema", err)
	}
	return &MemoryStore{db: db, cache: make(map[string]*MemoryEntry)}, nil
}

func (s *MemoryStore) Close() error { return s.db.Close() }

// categoryBase is the per-category importance floor documented in §4.2.
func categoryBase(category string) float64 {
	switch category {
	case "investment":
		return 0.9
	case "business":
		return 0.8
	case "personal":
		return 0.7
	case "system":
		return 0.5
	default:
		return 0.6
	}
}

// calculateImportance implements f(category, content): base by category,
// multiplied by 1.2 for monetary markers, 1.1 for length > 200, clamped
// to 1.0.
func calculateImportance(category, content string) float64 {
	base := categoryBase(category)
	lower := strings.ToLower(content)

	multiplier := 1.0
	if strings.Contains(content, "$") || strings.Contains(lower, "profit") || strings.Contains(lower, "loss") {
		multiplier = 1.2
	} else if len(content) > 200 {
		multiplier = 1.1
	}

	importance := base * multiplier
	if importance > 1.0 {
		importance = 1.0
	}
	return importance
}

// extractTags implements g(content): substring heuristics over the
// lower-cased content.
func extractTags(content string) []string {
	lower := strings.ToLower(content)
	var tags []string
	add := func(tag string) {
		for _, t := range tags {
			if t == tag {
				return
			}
		}
		tags = append(tags, tag)
	}

	if strings.Contains(lower, "investment") || strings.Contains(lower, "portfolio") {
		add("investment")
	}
	if strings.Contains(lower, "profit") || strings.Contains(lower, "revenue") {
		add("financial")
	}
	if strings.Contains(lower, "campaign") || strings.Contains(lower, "marketing") {
		add("marketing")
	}
	if strings.Contains(lower, "risk") || strings.Contains(lower, "warning") {
		add("risk")
	}
	if strings.Contains(content, "$") {
		add("monetary")
	}
	return tags
}

// Store assigns a fresh id on first write, or updates in place when
// (agent_id, category, key) already exists — recomputing importance and
// tags either way (§4.2).
func (s *MemoryStore) Store(agentID, category, key, content string) (*MemoryEntry, error) {
	importance := calculateImportance(category, content)
	tags := extractTags(content)
	now := time.Now()

	var existingID string
	err := s.db.QueryRow(
		`SELECT id FROM memory_entries WHERE agent_id = ? AND category = ? AND entry_key = ?`,
		agentID, category, key,
	).Scan(&existingID)

	switch {
	case err == sql.ErrNoRows:
		entry := &MemoryEntry{
			ID: uuid.New().String(), AgentID: agentID, Category: category, Key: key,
			Content: content, Importance: importance, Tags: tags,
			CreatedAt: now, LastAccessed: now,
		}
		_, err := s.db.Exec(
			`INSERT INTO memory_entries (id, agent_id, category, entry_key, content, importance, tags, related_ids, access_count, created_at, last_accessed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			entry.ID, entry.AgentID, entry.Category, entry.Key, entry.Content,
			entry.Importance, strings.Join(entry.Tags, ","), "", entry.CreatedAt, entry.LastAccessed,
		)
		if err != nil {
			return nil, obs.Storage("store failed", err)
		}
		s.recordActivity(entry.ID, ActivityCreated)
		s.cachePut(entry)
		return entry, nil

	case err != nil:
		return nil, obs.Storage("store lookup failed", err)

	default:
		if _, err := s.db.Exec(
			`UPDATE memory_entries SET content = ?, importance = ?, tags = ?, last_accessed = ? WHERE id = ?`,
			content, importance, strings.Join(tags, ","), now, existingID,
		); err != nil {
			return nil, obs.Storage("store update failed", err)
		}
		s.recordActivity(existingID, ActivityUpdated)
		return s.Retrieve(existingID)
	}
}

// Retrieve returns the entry by id, bumping last_accessed/access_count on
// hit (§4.2).
func (s *MemoryStore) Retrieve(id string) (*MemoryEntry, error) {
	entry, err := s.scanOne(id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	entry.AccessCount++
	entry.LastAccessed = time.Now()
	if _, err := s.db.Exec(
		`UPDATE memory_entries SET access_count = ?, last_accessed = ? WHERE id = ?`,
		entry.AccessCount, entry.LastAccessed, id,
	); err != nil {
		return nil, obs.Storage("retrieve bump failed", err)
	}
	s.recordActivity(id, ActivityAccessed)
	s.cachePut(entry)
	return entry, nil
}

func (s *MemoryStore) scanOne(id string) (*MemoryEntry, error) {
	var e MemoryEntry
	var tags, relatedIDs string
	err := s.db.QueryRow(
		`SELECT id, agent_id, category, entry_key, content, importance, tags, related_ids, access_count, created_at, last_accessed
		 FROM memory_entries WHERE id = ?`, id,
	).Scan(&e.ID, &e.AgentID, &e.Category, &e.Key, &e.Content, &e.Importance, &tags, &relatedIDs, &e.AccessCount, &e.CreatedAt, &e.LastAccessed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, obs.Storage("retrieve failed", err)
	}
	e.Tags = splitNonEmpty(tags)
	e.RelatedIDs = splitNonEmpty(relatedIDs)
	return &e, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Update recomputes importance and tags for id from a new content value.
func (s *MemoryStore) Update(id, content string) (*MemoryEntry, error) {
	existing, err := s.scanOne(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, obs.Storage(fmt.Sprintf("memory entry %s not found", id), nil)
	}
	importance := calculateImportance(existing.Category, content)
	tags := extractTags(content)
	if _, err := s.db.Exec(
		`UPDATE memory_entries SET content = ?, importance = ?, tags = ? WHERE id = ?`,
		content, importance, strings.Join(tags, ","), id,
	); err != nil {
		return nil, obs.Storage("update failed", err)
	}
	s.recordActivity(id, ActivityUpdated)
	s.cacheDelete(id)
	return s.scanOne(id)
}

// Delete removes the entry from the store and the cache.
func (s *MemoryStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM memory_entries WHERE id = ?`, id); err != nil {
		return obs.Storage("delete failed", err)
	}
	s.recordActivity(id, ActivityDeleted)
	s.cacheDelete(id)
	return nil
}

// Search filters by the query's fields, sorting by the requested mode.
func (s *MemoryStore) Search(q Query) ([]*MemoryEntry, error) {
	sqlQuery := `SELECT id, agent_id, category, entry_key, content, importance, tags, related_ids, access_count, created_at, last_accessed FROM memory_entries WHERE 1=1`
	var args []interface{}

	if q.AgentID != "" {
		sqlQuery += " AND agent_id = ?"
		args = append(args, q.AgentID)
	}
	if q.Category != "" {
		sqlQuery += " AND category = ?"
		args = append(args, q.Category)
	}
	if q.Substring != "" {
		sqlQuery += " AND content LIKE ?"
		args = append(args, "%"+q.Substring+"%")
	}
	if q.MinImportance > 0 {
		sqlQuery += " AND importance >= ?"
		args = append(args, q.MinImportance)
	}

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, obs.Storage("search failed", err)
	}
	defer rows.Close()

	var results []*MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		var tags, relatedIDs string
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Category, &e.Key, &e.Content, &e.Importance, &tags, &relatedIDs, &e.AccessCount, &e.CreatedAt, &e.LastAccessed); err != nil {
			return nil, obs.Storage("search scan failed", err)
		}
		e.Tags = splitNonEmpty(tags)
		e.RelatedIDs = splitNonEmpty(relatedIDs)

		if !hasAllTags(e.Tags, q.RequiredTags) {
			continue
		}
		results = append(results, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, obs.Storage("search iteration failed", err)
	}

	sortEntries(results, q.SortBy)
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Relevance = importance + 0.1 * access_count (§4.2).
func relevance(e *MemoryEntry) float64 {
	return e.Importance + 0.1*float64(e.AccessCount)
}

func sortEntries(entries []*MemoryEntry, by SortBy) {
	switch by {
	case SortLastAccessed:
		sort.Slice(entries, func(i, j int) bool { return entries[i].LastAccessed.After(entries[j].LastAccessed) })
	case SortImportance:
		sort.Slice(entries, func(i, j int) bool { return entries[i].Importance > entries[j].Importance })
	case SortAccessCount:
		sort.Slice(entries, func(i, j int) bool { return entries[i].AccessCount > entries[j].AccessCount })
	case SortRelevance:
		sort.Slice(entries, func(i, j int) bool { return relevance(entries[i]) > relevance(entries[j]) })
	default: // SortCreatedAt
		sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	}
}

// GetAgentMemories returns every entry for an agent, most recent first —
// a full, working implementation where the reference leaves this as a
// placeholder (see DESIGN.md).
func (s *MemoryStore) GetAgentMemories(agentID string, limit int) ([]*MemoryEntry, error) {
	return s.Search(Query{AgentID: agentID, SortBy: SortCreatedAt, Limit: limit})
}

// Cleanup evicts entries older than maxAge whose importance is below
// minImportance, returning the count removed. A working implementation of
// what the reference leaves as a placeholder.
func (s *MemoryStore) Cleanup(maxAge time.Duration, minImportance float64) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	result, err := s.db.Exec(
		`DELETE FROM memory_entries WHERE created_at < ? AND importance < ?`,
		cutoff, minImportance,
	)
	if err != nil {
		return 0, obs.Storage("cleanup failed", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, obs.Storage("cleanup rows affected failed", err)
	}
	return int(n), nil
}

func (s *MemoryStore) cachePut(e *MemoryEntry) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache[e.ID] = e
	if len(s.cache) > 256 {
		for k := range s.cache {
			delete(s.cache, k)
			break
		}
	}
}

func (s *MemoryStore) cacheDelete(id string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.cache, id)
}

func (s *MemoryStore) recordActivity(entryID string, kind ActivityKind) {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	s.activity = append(s.activity, Activity{EntryID: entryID, Kind: kind, At: time.Now()})
	if len(s.activity) > activityRingSize {
		s.activity = s.activity[len(s.activity)-activityRingSize:]
	}
	if _, err := s.db.Exec(`INSERT INTO memory_activity (entry_id, kind, at) VALUES (?, ?, ?)`, entryID, string(kind), time.Now()); err != nil {
		obs.Default().WithFields(logrus.Fields{"entry_id": entryID}).Warn("failed to persist memory activity record")
	}
}

// RecentActivity returns the in-memory bounded ring (most recent last).
func (s *MemoryStore) RecentActivity() []Activity {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	out := make([]Activity, len(s.activity))
	copy(out, s.activity)
	return out
}
