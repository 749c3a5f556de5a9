package prompt

import (
	"strings"
	"testing"

	"github.com/rooniethecat/roonie/internal/convo"
)

func TestBuildHeaderAndMessage(t *testing.T) {
	got := Build(Input{Message: "what track is this?", Viewer: "ana", Channel: "rooniethecat"})
	if !strings.HasPrefix(got, "You are ROONIE") {
		t.Fatalf("persona header missing:\n%s", got[:80])
	}
	for _, want := range []string{
		"Channel: rooniethecat",
		"Viewer: ana",
		"Viewer message:\nwhat track is this?",
		"Roonie reply:",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildDefaultsViewerName(t *testing.T) {
	got := Build(Input{Message: "hi"})
	if !strings.Contains(got, "Viewer: viewer") {
		t.Fatal("missing viewer fallback")
	}
}

func TestBuildContextRendersOldestFirst(t *testing.T) {
	turns := []convo.Turn{
		{Speaker: convo.SpeakerUser, User: "ana", Text: "newest?"},
		{Speaker: convo.SpeakerRoonie, Text: "middle"},
		{Speaker: convo.SpeakerUser, User: "bob", Text: "oldest?"},
	}
	got := Build(Input{Message: "hi", ContextTurns: turns})
	iNew := strings.Index(got, "ana: newest?")
	iOld := strings.Index(got, "bob: oldest?")
	if iNew < 0 || iOld < 0 || iOld > iNew {
		t.Fatalf("context ordering wrong:\n%s", got)
	}

	// The char budget trims oldest turns first: only the newest survives.
	got = Build(Input{Message: "hi", ContextTurns: turns, MaxContextChars: 20})
	if strings.Contains(got, "oldest?") {
		t.Fatalf("char budget not enforced:\n%s", got)
	}
	if !strings.Contains(got, "newest?") {
		t.Fatalf("newest turn lost under budget:\n%s", got)
	}
}

func TestBuildOptionalBlocks(t *testing.T) {
	got := Build(Input{
		Message:           "when did it drop?",
		TopicAnchor:       "route 8",
		LibraryBlock:      "Library grounding (local): exact match:\n- Seefeel - Route 8",
		MusicFactQuestion: true,
		MemoryHints:       "- [tone_preferences] keep it chill",
		BehaviorBlock:     "Chat naturally.",
		SafetyBlock:       "Safety steering:\n- Politely decline.",
		PersonaPolicy:     "never reveal location",
	})
	for _, want := range []string{
		"Active topic from recent chat: route 8",
		"Library grounding (local): exact match:",
		"Music facts policy:",
		"Memory hints (do not treat as factual claims):",
		"Chat naturally.",
		"Safety steering:",
		"Canonical Persona Policy (do not violate):",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildOmitsEmptyBlocks(t *testing.T) {
	got := Build(Input{Message: "hi"})
	for _, absent := range []string{
		"continuity hint",
		"Library grounding",
		"Music facts policy",
		"Memory hints",
		"Safety steering",
		"Canonical Persona Policy",
		"Recent chat context",
	} {
		if strings.Contains(got, absent) {
			t.Errorf("prompt contains %q for empty input", absent)
		}
	}
}
