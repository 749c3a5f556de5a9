// Package memory implements the bot's durable memory: write intents
// extracted from chat, idempotent persistence, and the safe-injection and
// read-policy filters that decide what stored memory may reach a prompt.
package memory

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rooniethecat/roonie/internal/roonie"
)

// Store owns the SQLite database backing durable memory.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (creating if needed) the memory database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	s := &Store{db: db}
	if err := s.configure(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("set pragma: %w", err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS memory_write_events (
	write_id           TEXT PRIMARY KEY,
	case_id            TEXT NOT NULL,
	event_id           TEXT NOT NULL,
	subject_id         TEXT NOT NULL,
	memory_key         TEXT NOT NULL,
	ttl_days           INTEGER NOT NULL,
	memory_intent_json TEXT NOT NULL,
	created_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_items (
	subject_id         TEXT NOT NULL,
	memory_key         TEXT NOT NULL,
	ttl_days           INTEGER NOT NULL,
	memory_intent_json TEXT NOT NULL,
	last_write_id      TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	PRIMARY KEY (subject_id, memory_key)
);

CREATE TABLE IF NOT EXISTS cultural_notes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	note       TEXT NOT NULL,
	tags       TEXT NOT NULL DEFAULT '',
	is_active  INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init memory schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// WriteID derives the idempotency key for an intent payload. The payload is
// serialized with sorted keys so semantically identical intents always map
// to the same id.
func WriteID(intent map[string]any) string {
	canonical, err := json.Marshal(canonicalize(intent))
	if err != nil {
		canonical = []byte(fmt.Sprintf("%v", intent))
	}
	sum := sha256.Sum256(canonical)
	return "mw_" + hex.EncodeToString(sum[:])
}

// canonicalize rebuilds nested maps so json.Marshal emits sorted keys at
// every level.
func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = canonicalize(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalize(item)
		}
		return out
	}
	return v
}

// PersistWriteIntents applies every MEMORY_WRITE_INTENT record in records.
// Replaying the same records is a no-op: the derived write_id dedupes at
// the event table and the item upsert is last-writer-wins per
// (subject, key). Other record kinds are ignored.
func (s *Store) PersistWriteIntents(records []roonie.DecisionRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, rec := range records {
		if rec.Action != roonie.ActionMemoryWriteIntent || rec.Trace.MemoryIntent == nil {
			continue
		}
		intent := rec.Trace.MemoryIntent
		subjectID, _ := intent["subject_id"].(string)
		memoryKey, _ := intent["memory_key"].(string)
		if subjectID == "" || memoryKey == "" {
			log.Printf("[memory] dropping malformed intent on event %s", rec.EventID)
			continue
		}
		if !AllowedKey(memoryKey) {
			log.Printf("[memory] dropping intent with unapproved key %q", memoryKey)
			continue
		}
		ttlDays := intTTL(intent["ttl_days"])
		writeID := WriteID(intent)
		intentJSON, err := json.Marshal(canonicalize(intent))
		if err != nil {
			return applied, fmt.Errorf("marshal intent: %w", err)
		}
		now := time.Now().UTC().Format(time.RFC3339)

		res, err := s.db.Exec(`
INSERT OR IGNORE INTO memory_write_events
	(write_id, case_id, event_id, subject_id, memory_key, ttl_days, memory_intent_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			writeID, rec.CaseID, rec.EventID, subjectID, memoryKey, ttlDays, string(intentJSON), now)
		if err != nil {
			return applied, fmt.Errorf("insert write event: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Duplicate replay; the item row already reflects this write.
			continue
		}

		if _, err := s.db.Exec(`
INSERT INTO memory_items (subject_id, memory_key, ttl_days, memory_intent_json, last_write_id, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(subject_id, memory_key) DO UPDATE SET
	ttl_days = excluded.ttl_days,
	memory_intent_json = excluded.memory_intent_json,
	last_write_id = excluded.last_write_id,
	updated_at = excluded.updated_at`,
			subjectID, memoryKey, ttlDays, string(intentJSON), writeID, now); err != nil {
			return applied, fmt.Errorf("upsert memory item: %w", err)
		}
		applied++
	}
	return applied, nil
}

func intTTL(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// Item is one persisted memory entry.
type Item struct {
	SubjectID string
	MemoryKey string
	TTLDays   int
	Intent    map[string]any
	UpdatedAt string
}

// Items returns all persisted items for a subject, ordered by key.
func (s *Store) Items(subjectID string) ([]Item, error) {
	rows, err := s.db.Query(`
SELECT subject_id, memory_key, ttl_days, memory_intent_json, updated_at
FROM memory_items WHERE subject_id = ? ORDER BY memory_key`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query memory items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *Store) allItems() ([]Item, error) {
	rows, err := s.db.Query(`
SELECT subject_id, memory_key, ttl_days, memory_intent_json, updated_at
FROM memory_items ORDER BY updated_at DESC, subject_id, memory_key`)
	if err != nil {
		return nil, fmt.Errorf("query memory items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var it Item
		var intentJSON string
		if err := rows.Scan(&it.SubjectID, &it.MemoryKey, &it.TTLDays, &intentJSON, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan memory item: %w", err)
		}
		if err := json.Unmarshal([]byte(intentJSON), &it.Intent); err != nil {
			log.Printf("[memory] skipping undecodable item %s/%s: %v", it.SubjectID, it.MemoryKey, err)
			continue
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// AddCulturalNote stores a curated note for injection.
func (s *Store) AddCulturalNote(note string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
INSERT INTO cultural_notes (note, tags, is_active, created_at, updated_at)
VALUES (?, ?, 1, ?, ?)`, note, strings.Join(tags, ","), now, now)
	if err != nil {
		return fmt.Errorf("insert cultural note: %w", err)
	}
	return nil
}

// CulturalNote is one curated note plus the tags it was stored under.
type CulturalNote struct {
	Note string
	Tags []string
}

// CulturalNotes returns active notes, newest first.
func (s *Store) CulturalNotes() ([]CulturalNote, error) {
	rows, err := s.db.Query(`SELECT note, tags FROM cultural_notes WHERE is_active = 1 ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query cultural notes: %w", err)
	}
	defer rows.Close()
	var notes []CulturalNote
	for rows.Next() {
		var n CulturalNote
		var tags string
		if err := rows.Scan(&n.Note, &tags); err != nil {
			return nil, fmt.Errorf("scan cultural note: %w", err)
		}
		for _, part := range strings.Split(tags, ",") {
			if tag := strings.TrimSpace(part); tag != "" {
				n.Tags = append(n.Tags, tag)
			}
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
