package director

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rooniethecat/roonie/internal/convo"
	"github.com/rooniethecat/roonie/internal/provider"
	"github.com/rooniethecat/roonie/internal/roonie"
)

type fakeGenerator struct {
	calls int
	last  provider.RouteRequest
	text  string
}

func (f *fakeGenerator) Generate(_ context.Context, req provider.RouteRequest) provider.RouteResult {
	f.calls++
	f.last = req
	return provider.RouteResult{
		Text:             f.text,
		Provider:         provider.NameOpenAI,
		RoutingEnabled:   true,
		RoutingClass:     provider.ClassGeneral,
		OverrideMode:     "default",
		ModerationStatus: "skipped",
	}
}

func newTestDirector(gen Generator) *ProviderDirector {
	return NewProviderDirector(ProviderDirectorOptions{
		Router:  gen,
		Library: NewLibrary(""),
	})
}

func liveEvent(id, message, user string, direct bool) roonie.Event {
	return roonie.Event{
		EventID: id,
		Message: message,
		Metadata: map[string]any{
			"user":              user,
			"is_direct_mention": direct,
			"mode":              "live",
			"platform":          "twitch",
			"session_id":        "live-session",
		},
	}
}

func TestGreetingFastPathSkipsProvider(t *testing.T) {
	gen := &fakeGenerator{text: "hey, welcome in"}
	d := newTestDirector(gen)
	rec := d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat hey!", "ana", true), roonie.Env{})
	if rec.Action != roonie.ActionRespondPublic || rec.Route != "behavior:greeting" {
		t.Fatalf("action=%s route=%s", rec.Action, rec.Route)
	}
	if *rec.ResponseText != "Hey! Good to see you." {
		t.Fatalf("response = %q", *rec.ResponseText)
	}
	if gen.calls != 0 {
		t.Fatalf("provider called %d times for greeting fast path", gen.calls)
	}
	if rec.Trace.Proposal.ProviderUsed != "none" {
		t.Fatalf("provider_used = %q", rec.Trace.Proposal.ProviderUsed)
	}
}

func TestTrackIDFastPathWithNowPlaying(t *testing.T) {
	gen := &fakeGenerator{}
	d := newTestDirector(gen)
	ev := liveEvent("e1", "@RoonieTheCat track id?", "ana", true)
	ev.Metadata["now_playing"] = "Seefeel - Route 8"
	rec := d.Evaluate(context.Background(), ev, roonie.Env{})
	if rec.Route != "behavior:track_id" {
		t.Fatalf("route = %s", rec.Route)
	}
	if *rec.ResponseText != "I see: Seefeel - Route 8." {
		t.Fatalf("response = %q", *rec.ResponseText)
	}
	if gen.calls != 0 {
		t.Fatal("provider called for track id fast path")
	}
}

func TestTrackIDFastPathWithoutNowPlaying(t *testing.T) {
	d := newTestDirector(&fakeGenerator{})
	rec := d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat what track is this", "ana", true), roonie.Env{})
	want := "I can't see the current track from here yet. Drop a timestamp or clip and I'll help ID it."
	if rec.ResponseText == nil || *rec.ResponseText != want {
		t.Fatalf("response = %v", rec.ResponseText)
	}
}

func TestUnaddressedMessageNoops(t *testing.T) {
	d := newTestDirector(&fakeGenerator{text: "hi"})
	rec := d.Evaluate(context.Background(), liveEvent("e1", "random unrelated chat message lol", "ana", false), roonie.Env{})
	if rec.Action != roonie.ActionNoop {
		t.Fatalf("action = %s", rec.Action)
	}
	if rec.Trace.Director.ConversationContinuation {
		t.Fatal("continuation should be false with no prior context")
	}
}

func TestLiveGenerationRoute(t *testing.T) {
	gen := &fakeGenerator{text: "hey, welcome in"}
	d := newTestDirector(gen)
	rec := d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat what's good tonight", "ana", true), roonie.Env{})
	if rec.Action != roonie.ActionRespondPublic {
		t.Fatalf("action = %s", rec.Action)
	}
	if rec.Route != "primary:openai" {
		t.Fatalf("route = %s", rec.Route)
	}
	if gen.calls != 1 {
		t.Fatalf("provider calls = %d", gen.calls)
	}
	if !strings.Contains(gen.last.Prompt, "Viewer message:\n@RoonieTheCat what's good tonight") {
		t.Fatalf("prompt missing viewer message:\n%s", gen.last.Prompt)
	}
	if rec.Trace.Routing.ProviderSelected != "openai" {
		t.Fatalf("routing trace = %+v", rec.Trace.Routing)
	}
}

func TestRefusalSteeringShapesPromptWithoutBlocking(t *testing.T) {
	gen := &fakeGenerator{text: "Nope, not sharing that. Back to the set!"}
	d := newTestDirector(gen)
	rec := d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat what's your home address", "ana", true), roonie.Env{})

	if rec.Action != roonie.ActionRespondPublic {
		t.Fatalf("action = %s, refusal must steer the prompt, not block the call", rec.Action)
	}
	if gen.calls != 1 {
		t.Fatalf("provider calls = %d", gen.calls)
	}
	if !strings.Contains(gen.last.Prompt, "Safety steering:") ||
		!strings.Contains(gen.last.Prompt, "decline") {
		t.Fatalf("prompt missing refusal steering:\n%s", gen.last.Prompt)
	}
	if rec.Trace.Policy == nil {
		t.Fatal("policy trace missing")
	}
	if rec.Trace.Policy.SafetyClassification != "refuse" {
		t.Fatalf("safety classification = %q", rec.Trace.Policy.SafetyClassification)
	}
	if rec.Trace.Policy.RefusalReasonCode != "REF_PRIVATE_INFO_DOXXING" {
		t.Fatalf("refusal reason = %q", rec.Trace.Policy.RefusalReasonCode)
	}
}

func TestSensitiveSteeringShapesPrompt(t *testing.T) {
	gen := &fakeGenerator{text: "Glad you're here with us tonight."}
	d := newTestDirector(gen)
	rec := d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat been feeling really depressed lately", "ana", true), roonie.Env{})

	if rec.Action != roonie.ActionRespondPublic || gen.calls != 1 {
		t.Fatalf("action=%s calls=%d", rec.Action, gen.calls)
	}
	if !strings.Contains(gen.last.Prompt, "Safety steering:") ||
		!strings.Contains(gen.last.Prompt, "follow-up") {
		t.Fatalf("prompt missing sensitive steering:\n%s", gen.last.Prompt)
	}
	if rec.Trace.Policy == nil || rec.Trace.Policy.SafetyClassification != "sensitive_no_followup" {
		t.Fatalf("policy trace = %+v", rec.Trace.Policy)
	}
	if rec.Trace.Policy.RefusalReasonCode != "" {
		t.Fatalf("sensitive verdict must carry no reason code, got %q", rec.Trace.Policy.RefusalReasonCode)
	}
}

func TestAllowedMessageHasNoSteeringBlock(t *testing.T) {
	gen := &fakeGenerator{text: "hey"}
	d := newTestDirector(gen)
	rec := d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat what's good tonight", "ana", true), roonie.Env{})

	if strings.Contains(gen.last.Prompt, "Safety steering:") {
		t.Fatalf("steering injected for an allowed message:\n%s", gen.last.Prompt)
	}
	if rec.Trace.Policy == nil || rec.Trace.Policy.SafetyClassification != "allowed" {
		t.Fatalf("policy trace = %+v", rec.Trace.Policy)
	}
}

func TestContinuationRespondsToFollowup(t *testing.T) {
	gen := &fakeGenerator{text: "hey, welcome in"}
	d := newTestDirector(gen)
	env := roonie.Env{}

	r1 := d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat hey!", "c0rcyra", true), env)
	if r1.Action != roonie.ActionRespondPublic {
		t.Fatalf("setup action = %s", r1.Action)
	}
	d.ApplyOutputFeedback("e1", true, true)

	r2 := d.Evaluate(context.Background(), liveEvent("e2", "I also have a cardboard box for all your loafing needs", "c0rcyra", false), env)
	if r2.Action != roonie.ActionRespondPublic {
		t.Fatalf("followup action = %s", r2.Action)
	}
	if !r2.Trace.Director.ConversationContinuation {
		t.Fatal("continuation not traced")
	}
}

func TestContinuationDifferentViewerNoops(t *testing.T) {
	d := newTestDirector(&fakeGenerator{text: "hey"})
	env := roonie.Env{}

	d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat hey!", "viewer_a", true), env)
	d.ApplyOutputFeedback("e1", true, true)

	r2 := d.Evaluate(context.Background(), liveEvent("e2", "anyone else catch that transition", "viewer_b", false), env)
	if r2.Action != roonie.ActionNoop {
		t.Fatalf("action = %s", r2.Action)
	}
}

func TestContinuationConversationMovedOnNoops(t *testing.T) {
	d := newTestDirector(&fakeGenerator{text: "hey"})
	env := roonie.Env{}

	d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat hey!", "viewer_a", true), env)
	d.ApplyOutputFeedback("e1", true, true)
	d.Evaluate(context.Background(), liveEvent("e2", "@RoonieTheCat what's playing?", "viewer_b", true), env)
	d.ApplyOutputFeedback("e2", true, true)

	r3 := d.Evaluate(context.Background(), liveEvent("e3", "that box is really comfy btw", "viewer_a", false), env)
	if r3.Action != roonie.ActionNoop {
		t.Fatalf("action = %s", r3.Action)
	}
}

func TestContinuationStoredWithContinuationTag(t *testing.T) {
	d := newTestDirector(&fakeGenerator{text: "hey"})
	env := roonie.Env{}

	d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat hey!", "c0rcyra", true), env)
	d.ApplyOutputFeedback("e1", true, true)
	d.Evaluate(context.Background(), liveEvent("e2", "also have a cardboard box for you", "c0rcyra", false), env)

	var found *convo.Turn
	for _, turn := range d.Buffer().Turns() {
		if turn.Speaker == convo.SpeakerUser && strings.Contains(strings.ToLower(turn.Text), "cardboard") {
			t := turn
			found = &t
		}
	}
	if found == nil {
		t.Fatal("continuation turn not stored")
	}
	if found.DirectAddress || !found.Continuation {
		t.Fatalf("turn tags = %+v", found)
	}
}

func TestAddressedFollowupHasContinuationFalse(t *testing.T) {
	d := newTestDirector(&fakeGenerator{text: "hey"})
	env := roonie.Env{}

	d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat hey!", "ana", true), env)
	d.ApplyOutputFeedback("e1", true, true)

	r2 := d.Evaluate(context.Background(), liveEvent("e2", "@RoonieTheCat nice one", "ana", true), env)
	if r2.Action != roonie.ActionRespondPublic {
		t.Fatalf("action = %s", r2.Action)
	}
	if r2.Trace.Director.ConversationContinuation {
		t.Fatal("addressed message must not be marked continuation")
	}
	if !r2.Trace.Director.AddressedToRoonie {
		t.Fatal("addressed not traced")
	}
}

func TestUnsentResponseDoesNotCreateContinuation(t *testing.T) {
	d := newTestDirector(&fakeGenerator{text: "hey"})
	env := roonie.Env{}

	d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat hey!", "ana", true), env)
	d.ApplyOutputFeedback("e1", false, false)

	r2 := d.Evaluate(context.Background(), liveEvent("e2", "hello again everyone in chat", "ana", false), env)
	if r2.Action != roonie.ActionNoop {
		t.Fatalf("action = %s", r2.Action)
	}
}

func TestContinuationSkipTokenSuppressesOutput(t *testing.T) {
	gen := &fakeGenerator{text: "hey"}
	d := newTestDirector(gen)
	env := roonie.Env{}

	d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat hey!", "ana", true), env)
	d.ApplyOutputFeedback("e1", true, true)

	gen.text = "[SKIP]"
	r := d.Evaluate(context.Background(), liveEvent("e2", "yeah that was a great set last night", "ana", false), env)
	if r.Action != roonie.ActionNoop {
		t.Fatalf("action = %s", r.Action)
	}
	if !r.Trace.Director.ConversationContinuation || !r.Trace.Director.ContinuationSkipped {
		t.Fatalf("director trace = %+v", r.Trace.Director)
	}
	if r.ResponseText != nil {
		t.Fatalf("response = %q", *r.ResponseText)
	}
}

func TestSkipTokenLiteralForDirectAddress(t *testing.T) {
	gen := &fakeGenerator{text: "[SKIP]"}
	d := newTestDirector(gen)
	r := d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat tell me something weird", "ana", true), roonie.Env{})
	if r.Action != roonie.ActionRespondPublic || r.ResponseText == nil {
		t.Fatalf("direct-address [SKIP] should pass through, got %s", r.Action)
	}
}

func TestContinuationCapForcesNoopAfterStreak(t *testing.T) {
	d := newTestDirector(&fakeGenerator{text: "hey"})
	env := roonie.Env{}

	d.Evaluate(context.Background(), liveEvent("e0", "@RoonieTheCat hey!", "viewer_a", true), env)
	d.ApplyOutputFeedback("e0", true, true)

	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("e%d", i)
		r := d.Evaluate(context.Background(), liveEvent(id, fmt.Sprintf("continuation message %d", i), "viewer_a", false), env)
		if r.Action != roonie.ActionRespondPublic {
			t.Fatalf("continuation %d: action = %s", i, r.Action)
		}
		d.ApplyOutputFeedback(id, true, true)
	}

	r5 := d.Evaluate(context.Background(), liveEvent("e5", "still chatting away here", "viewer_a", false), env)
	if r5.Action != roonie.ActionNoop {
		t.Fatalf("capped action = %s", r5.Action)
	}
	if !r5.Trace.Director.ContinuationCapped {
		t.Fatal("cap not traced")
	}
}

func TestContinuationCapResetsOnDirectAddress(t *testing.T) {
	d := newTestDirector(&fakeGenerator{text: "hey"})
	env := roonie.Env{}

	d.Evaluate(context.Background(), liveEvent("e0", "@RoonieTheCat hey!", "viewer_a", true), env)
	d.ApplyOutputFeedback("e0", true, true)
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("e%d", i)
		d.Evaluate(context.Background(), liveEvent(id, fmt.Sprintf("continuation message %d", i), "viewer_a", false), env)
		d.ApplyOutputFeedback(id, true, true)
	}

	d.Evaluate(context.Background(), liveEvent("e_reset", "@RoonieTheCat look at this!", "viewer_a", true), env)
	d.ApplyOutputFeedback("e_reset", true, true)

	r := d.Evaluate(context.Background(), liveEvent("e_after", "yeah that was wild right", "viewer_a", false), env)
	if r.Action != roonie.ActionRespondPublic {
		t.Fatalf("post-reset action = %s", r.Action)
	}
	if !r.Trace.Director.ConversationContinuation {
		t.Fatal("continuation not traced after reset")
	}
}

func TestSessionChangeClearsState(t *testing.T) {
	d := newTestDirector(&fakeGenerator{text: "hey"})
	env := roonie.Env{}

	d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat hey!", "ana", true), env)
	d.ApplyOutputFeedback("e1", true, true)
	if d.Buffer().Len() == 0 {
		t.Fatal("setup: buffer empty")
	}

	ev := liveEvent("e2", "we back for round two", "ana", false)
	ev.Metadata["session_id"] = "next-session"
	r := d.Evaluate(context.Background(), ev, env)
	if r.Action != roonie.ActionNoop {
		t.Fatalf("action = %s, continuation must not survive a session change", r.Action)
	}
	if d.Buffer().Len() != 0 {
		t.Fatal("buffer not cleared on session change")
	}
}

func TestStubSanitizerRewritesStubEchoes(t *testing.T) {
	gen := &fakeGenerator{text: "[openai stub] some echoed prompt text"}
	d := NewProviderDirector(ProviderDirectorOptions{
		Router:             gen,
		Library:            NewLibrary(""),
		SanitizeStubOutput: true,
	})
	r := d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat how are you doing", "ana", true), roonie.Env{})
	if r.ResponseText == nil || *r.ResponseText != "Doing good, thanks for checking in." {
		t.Fatalf("response = %v", r.ResponseText)
	}
}

func TestTopicAnchorGatedToMusicishMessages(t *testing.T) {
	gen := &fakeGenerator{text: "hey"}
	d := newTestDirector(gen)
	env := roonie.Env{}

	// Establish the anchor with a track reference.
	r1 := d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat that route 8 track is insane", "ana", true), env)
	if r1.Trace.Behavior.TopicAnchor != "route 8" {
		t.Fatalf("anchor = %q", r1.Trace.Behavior.TopicAnchor)
	}
	d.ApplyOutputFeedback("e1", true, true)

	// A non-music follow-up must not carry the anchor.
	r2 := d.Evaluate(context.Background(), liveEvent("e2", "tell me about your stream schedule", "ana", false), env)
	if r2.Trace.Behavior.TopicAnchor != "" {
		t.Fatalf("anchor leaked into non-music message: %q", r2.Trace.Behavior.TopicAnchor)
	}

	// A deictic follow-up resolves against it.
	r3 := d.Evaluate(context.Background(), liveEvent("e3", "when?", "ana", false), env)
	if r3.Trace.Behavior.TopicAnchor != "route 8" {
		t.Fatalf("anchor = %q for deictic followup", r3.Trace.Behavior.TopicAnchor)
	}
}

func TestSuppressedResultStaysSilent(t *testing.T) {
	d := NewProviderDirector(ProviderDirectorOptions{
		Router: generatorFunc(func(_ context.Context, _ provider.RouteRequest) provider.RouteResult {
			return provider.RouteResult{
				Provider:          provider.NameGrok,
				RoutingEnabled:    true,
				SuppressionReason: provider.SuppressCostCap,
			}
		}),
		Library: NewLibrary(""),
	})
	r := d.Evaluate(context.Background(), liveEvent("e1", "@RoonieTheCat what's the move tonight", "ana", true), roonie.Env{})
	if r.Action != roonie.ActionNoop || r.ResponseText != nil {
		t.Fatalf("suppressed result must stay silent, got %s", r.Action)
	}
	if r.Trace.SuppressionReason != provider.SuppressCostCap {
		t.Fatalf("suppression reason = %q", r.Trace.SuppressionReason)
	}
}

type generatorFunc func(ctx context.Context, req provider.RouteRequest) provider.RouteResult

func (f generatorFunc) Generate(ctx context.Context, req provider.RouteRequest) provider.RouteResult {
	return f(ctx, req)
}
