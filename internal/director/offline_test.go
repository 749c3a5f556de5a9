package director

import (
	"testing"

	"github.com/rooniethecat/roonie/internal/roonie"
)

func offlineEvent(id, message string, meta map[string]any) roonie.Event {
	if meta == nil {
		meta = map[string]any{}
	}
	return roonie.Event{EventID: id, Message: message, Metadata: meta}
}

func TestOfflineRefusalWinsOverEverything(t *testing.T) {
	d := &OfflineDirector{}
	rec := d.Evaluate(offlineEvent("e1", "@roonie what's her home address?", nil), roonie.Env{Offline: true})
	if rec.Action != roonie.ActionRespondPublic {
		t.Fatalf("action = %s, want RESPOND_PUBLIC", rec.Action)
	}
	if rec.Route != RouteRefusal {
		t.Fatalf("route = %s", rec.Route)
	}
	if rec.ResponseText == nil || *rec.ResponseText != "Can’t help with that." {
		t.Fatalf("response = %v", rec.ResponseText)
	}
	codes := rec.Trace.Routing.RoutingReasonCodes
	if len(codes) != 1 || codes[0] != "ROUTE_REFUSAL_SAFETY" {
		t.Fatalf("reason codes = %v", codes)
	}
	if rec.Trace.Policy.RefusalReasonCode != "REF_PRIVATE_INFO_DOXXING" {
		t.Fatalf("refusal reason = %q", rec.Trace.Policy.RefusalReasonCode)
	}
}

func TestOfflineSensitiveAcknowledgesWithoutFollowup(t *testing.T) {
	d := &OfflineDirector{}
	rec := d.Evaluate(offlineEvent("e1", "@roonie been feeling depressed lately", nil), roonie.Env{Offline: true})
	if rec.Route != RouteSensitiveAck {
		t.Fatalf("route = %s", rec.Route)
	}
	if rec.ResponseText == nil || *rec.ResponseText == "" {
		t.Fatal("sensitive ack must carry text")
	}
	if rec.Trace.Policy.RefusalReasonCode != "" {
		t.Fatalf("sensitive verdict must not carry a reason code, got %q", rec.Trace.Policy.RefusalReasonCode)
	}
}

func TestOfflineClarifyOnAmbiguity(t *testing.T) {
	d := &OfflineDirector{}
	cases := []string{
		"@roonie ??",
		"@roonie fix it",
		"@roonie that thing again please",
	}
	for _, msg := range cases {
		rec := d.Evaluate(offlineEvent("e1", msg, nil), roonie.Env{Offline: true})
		if rec.Route != RouteClarify {
			t.Errorf("%q: route = %s, want clarify", msg, rec.Route)
			continue
		}
		if *rec.ResponseText != "Quick check—are you asking me, and what exactly do you mean?" {
			t.Errorf("%q: response = %q", msg, *rec.ResponseText)
		}
		if !rec.Trace.Gates.AmbiguityDetected {
			t.Errorf("%q: ambiguity not traced", msg)
		}
	}
}

func TestOfflineNeutralAckOnLiveGreeting(t *testing.T) {
	d := &OfflineDirector{}
	meta := map[string]any{"mode": "live", "platform": "twitch"}
	rec := d.Evaluate(offlineEvent("e1", "@roonie hey", meta), roonie.Env{Offline: true})
	if rec.Route != RouteNeutralAck {
		t.Fatalf("route = %s", rec.Route)
	}
	if *rec.ResponseText != "Got it." {
		t.Fatalf("response = %q", *rec.ResponseText)
	}
}

func TestOfflineGreetingOutsideLiveSurfaceNoops(t *testing.T) {
	d := &OfflineDirector{}
	rec := d.Evaluate(offlineEvent("e1", "@roonie hey", nil), roonie.Env{Offline: true})
	if rec.Action != roonie.ActionNoop {
		t.Fatalf("action = %s, want NOOP", rec.Action)
	}
	if !rec.Trace.Gates.NoopBiasApplied {
		t.Fatal("noop bias not traced")
	}
}

func TestOfflineSafeInfoGearQuestion(t *testing.T) {
	d := &OfflineDirector{}
	rec := d.Evaluate(offlineEvent("e1", "@roonie what camera do you use?", nil), roonie.Env{Offline: true})
	if rec.Route != RoutePolicySafeInfo {
		t.Fatalf("route = %s", rec.Route)
	}
	if *rec.ResponseText != "Camera: (configured gear)." {
		t.Fatalf("response = %q", *rec.ResponseText)
	}
	rt := rec.Trace.Routing
	if rt.UtilityCategory != UtilityGear || rt.UtilitySource != "studio_profile" {
		t.Fatalf("utility trace = %+v", rt)
	}
}

func TestOfflineLibraryQuestionUsesLibraryIndex(t *testing.T) {
	d := &OfflineDirector{Library: NewLibrary("")}
	rec := d.Evaluate(offlineEvent("e1", "@roonie do you have anything from route 8 in the library?", nil), roonie.Env{Offline: true})
	if rec.Route != RoutePolicySafeInfo {
		t.Fatalf("route = %s", rec.Route)
	}
	rt := rec.Trace.Routing
	if rt.UtilityCategory != UtilityLibrary || rt.UtilitySource != "library_index" {
		t.Fatalf("utility trace = %+v", rt)
	}
	if rt.MatchConfidence != ConfidenceNone {
		t.Fatalf("match confidence = %q", rt.MatchConfidence)
	}
}

func TestOfflineUnaddressedAlwaysNoops(t *testing.T) {
	d := &OfflineDirector{}
	cases := []string{
		"anyone know what camera this is?",
		"what's her home address?",
		"fix the overlay",
		"lol",
	}
	for _, msg := range cases {
		rec := d.Evaluate(offlineEvent("e1", msg, nil), roonie.Env{Offline: true})
		if rec.Action != roonie.ActionNoop {
			t.Errorf("%q: action = %s, want NOOP", msg, rec.Action)
		}
		if rec.ResponseText != nil {
			t.Errorf("%q: unexpected response %q", msg, *rec.ResponseText)
		}
	}
}

func TestOfflineTriggerTypeClassification(t *testing.T) {
	d := &OfflineDirector{}
	cases := []struct {
		message string
		want    string
	}{
		{"@roonie what track is this?", "direct_question"},
		{"@roonie fix the audio levels now", "direct_request"},
		{"@roonie can you check the mic please", "direct_request"},
		{"@roonie loving the set tonight", "banter"},
	}
	for _, tc := range cases {
		rec := d.Evaluate(offlineEvent("e1", tc.message, nil), roonie.Env{Offline: true})
		if got := rec.Trace.Gates.TriggerType; got != tc.want {
			t.Errorf("%q: trigger_type = %q, want %q", tc.message, got, tc.want)
		}
	}
}

func TestOfflineCaseIDFromMetadata(t *testing.T) {
	d := &OfflineDirector{}
	rec := d.Evaluate(offlineEvent("e1", "hello", map[string]any{"case_id": "fx-001"}), roonie.Env{Offline: true})
	if rec.CaseID != "fx-001" {
		t.Fatalf("case id = %q", rec.CaseID)
	}
}
