package memory

import (
	"path/filepath"
	"testing"

	"github.com/rooniethecat/roonie/internal/roonie"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func intentRecord(eventID, subjectID, key, value string) roonie.DecisionRecord {
	return roonie.DecisionRecord{
		CaseID:  "case-" + eventID,
		EventID: eventID,
		Action:  roonie.ActionMemoryWriteIntent,
		Route:   "none",
		Trace: roonie.Trace{MemoryIntent: map[string]any{
			"scope":      "viewer",
			"subject_id": subjectID,
			"memory_key": key,
			"value":      value,
			"confidence": 0.8,
			"ttl_days":   90,
			"cue":        "stated_preference",
			"source":     "chat",
		}},
	}
}

func TestPersistWriteIntentsIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	recs := []roonie.DecisionRecord{intentRecord("ev1", "viewer:ana", "tone_preferences", "keep it chill")}

	n, err := s.PersistWriteIntents(recs)
	if err != nil {
		t.Fatalf("PersistWriteIntents: %v", err)
	}
	if n != 1 {
		t.Fatalf("applied = %d, want 1", n)
	}
	// Replay of the identical record must change nothing.
	n, err = s.PersistWriteIntents(recs)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 0 {
		t.Fatalf("replay applied = %d, want 0", n)
	}

	items, err := s.Items("viewer:ana")
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if v, _ := items[0].Intent["value"].(string); v != "keep it chill" {
		t.Fatalf("value = %q", v)
	}
}

func TestPersistLastWriterWinsPerKey(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.PersistWriteIntents([]roonie.DecisionRecord{
		intentRecord("ev1", "viewer:ana", "tone_preferences", "keep it chill"),
	}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := s.PersistWriteIntents([]roonie.DecisionRecord{
		intentRecord("ev2", "viewer:ana", "tone_preferences", "hype me up"),
	}); err != nil {
		t.Fatalf("second write: %v", err)
	}
	items, err := s.Items("viewer:ana")
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if v, _ := items[0].Intent["value"].(string); v != "hype me up" {
		t.Fatalf("value = %q, want last write", v)
	}
}

func TestPersistDropsUnapprovedKeys(t *testing.T) {
	s := newTestStore(t)
	n, err := s.PersistWriteIntents([]roonie.DecisionRecord{
		intentRecord("ev1", "viewer:ana", "secret_profile", "whatever"),
	})
	if err != nil {
		t.Fatalf("PersistWriteIntents: %v", err)
	}
	if n != 0 {
		t.Fatalf("applied = %d, want 0", n)
	}
}

func TestPersistIgnoresNonIntentRecords(t *testing.T) {
	s := newTestStore(t)
	n, err := s.PersistWriteIntents([]roonie.DecisionRecord{{
		CaseID: "c1", EventID: "ev1", Action: roonie.ActionNoop, Route: "none",
	}})
	if err != nil {
		t.Fatalf("PersistWriteIntents: %v", err)
	}
	if n != 0 {
		t.Fatalf("applied = %d, want 0", n)
	}
}

func TestWriteIDIsOrderInsensitive(t *testing.T) {
	a := map[string]any{"memory_key": "do_not_do", "subject_id": "viewer:ana", "value": "x"}
	b := map[string]any{"value": "x", "subject_id": "viewer:ana", "memory_key": "do_not_do"}
	if WriteID(a) != WriteID(b) {
		t.Fatal("WriteID differs for identical payloads")
	}
	c := map[string]any{"memory_key": "do_not_do", "subject_id": "viewer:ana", "value": "y"}
	if WriteID(a) == WriteID(c) {
		t.Fatal("WriteID collides for different payloads")
	}
}
