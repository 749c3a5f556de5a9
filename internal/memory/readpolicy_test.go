package memory

import "testing"

func policyItems() []Item {
	return []Item{
		{SubjectID: "viewer:ana", MemoryKey: "tone_preferences", Intent: map[string]any{"value": "keep it chill"}},
		{SubjectID: "viewer:ana", MemoryKey: "stream_norms", Intent: map[string]any{"value": "no spoilers"}},
		{SubjectID: "viewer:ana", MemoryKey: "preferences", Intent: map[string]any{
			"value": map[string]any{"dislikes": "being called dude", "likes": "deep cuts"},
		}},
	}
}

func TestReadPolicyNoExplicitContextSkipsMemory(t *testing.T) {
	res := ApplyReadPolicy(policyItems(), false, []string{"tone_preferences"})
	if res.Used {
		t.Fatal("memory used without explicit context")
	}
	if len(res.Included) != 0 || len(res.Suppressed) != 0 {
		t.Fatalf("Included=%v Suppressed=%v, want both empty", res.Included, res.Suppressed)
	}
}

func TestReadPolicyAlwaysSuppressesDislikes(t *testing.T) {
	res := ApplyReadPolicy(policyItems(), true, []string{"preferences.dislikes", "preferences.likes"})
	if _, ok := res.Included["preferences.dislikes"]; ok {
		t.Fatal("preferences.dislikes surfaced despite the hard suppression rule")
	}
	if res.Suppressed["preferences.dislikes"] != "being called dude" {
		t.Fatalf("Suppressed = %v", res.Suppressed)
	}
	if res.Included["preferences.likes"] != "deep cuts" {
		t.Fatalf("Included = %v", res.Included)
	}
}

func TestReadPolicyOnlyRequestedSlots(t *testing.T) {
	res := ApplyReadPolicy(policyItems(), true, []string{"stream_norms"})
	if !res.Used {
		t.Fatal("explicit request must mark memory as used")
	}
	if res.Included["stream_norms"] != "no spoilers" {
		t.Fatalf("Included = %v", res.Included)
	}
	if _, ok := res.Included["tone_preferences"]; ok {
		t.Fatal("unrequested slot included")
	}
}

func TestReadPolicyMissingSlotIgnored(t *testing.T) {
	res := ApplyReadPolicy(policyItems(), true, []string{"approved_phrases", "preferences.nope"})
	if !res.Used {
		t.Fatal("explicit request must mark memory as used")
	}
	if len(res.Included) != 0 || len(res.Suppressed) != 0 {
		t.Fatalf("missing slots must be ignored, got Included=%v Suppressed=%v", res.Included, res.Suppressed)
	}
}
