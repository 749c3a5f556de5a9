package provider

import "testing"

func TestClassifyRequestCategories(t *testing.T) {
	rules := DefaultRoutingConfig().ClassificationRules
	for _, cat := range []string{"TRACK_ID", "utility_track_id", "utility_library"} {
		if got := ClassifyRequest(cat, "whatever", rules); got != ClassMusic {
			t.Errorf("ClassifyRequest(%s) = %s, want music", cat, got)
		}
	}
	if got := ClassifyRequest("OTHER", "how was your day", rules); got != ClassGeneral {
		t.Errorf("plain chat classified %s, want general", got)
	}
}

func TestClassifyRequestKeywords(t *testing.T) {
	rules := DefaultRoutingConfig().ClassificationRules
	if got := ClassifyRequest("OTHER", "that bassline is unreal", rules); got != ClassMusic {
		t.Errorf("keyword message classified %s, want music", got)
	}
	// Keyword must match whole words.
	if got := ClassifyRequest("OTHER", "i'm setting up my desk", rules); got != ClassGeneral {
		t.Errorf("substring false positive: %s", got)
	}
}

func TestClassifyRequestArtistTitlePattern(t *testing.T) {
	rules := DefaultRoutingConfig().ClassificationRules
	if got := ClassifyRequest("OTHER", "was that Overmono - So U Kno?", rules); got != ClassMusic {
		t.Errorf("artist-title message classified %s, want music", got)
	}
	rules.ArtistTitlePattern = false
	if got := ClassifyRequest("OTHER", "Overmono - So U Kno", rules); got != ClassGeneral {
		t.Errorf("pattern disabled but still classified %s", got)
	}
}

func TestBlocklistModerator(t *testing.T) {
	m := NewBlocklistModerator(nil)
	v := m.Check(nil, "great set today")
	if !v.Allowed || v.Status != ModerationAllowed {
		t.Fatalf("clean text verdict = %+v", v)
	}
	v = m.Check(nil, "just KYS already")
	if v.Allowed || v.Status != ModerationBlocked {
		t.Fatalf("blocked text verdict = %+v", v)
	}
}
