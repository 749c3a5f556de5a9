package director

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/rooniethecat/roonie/internal/behavior"
	"github.com/rooniethecat/roonie/internal/convo"
	"github.com/rooniethecat/roonie/internal/memory"
	"github.com/rooniethecat/roonie/internal/prompt"
	"github.com/rooniethecat/roonie/internal/provider"
	"github.com/rooniethecat/roonie/internal/roonie"
	"github.com/rooniethecat/roonie/internal/safety"
)

const (
	topicAnchorTTLTurns = 8
	// A viewer keeps the floor for this many foreign messages after a
	// confirmed reply; after that the follow-up window closes.
	continuationRecencyWindow = 4
	// Consecutive continuation replies allowed before forcing silence.
	continuationStreakCap = 4
	// Providers emit this token to decline a continuation turn.
	skipToken = "[SKIP]"
)

var (
	topicAnchorRE = regexp.MustCompile(`\b([A-Za-z][A-Za-z0-9]*(?:\s+[A-Za-z0-9]+){0,2}\s+\d{1,3})\b`)
	musicFactRE   = regexp.MustCompile(`(?i)\b(label|release|released|out on|came out|drop|dropped|release date|when)\b`)
	deicticRE     = regexp.MustCompile(`(?i)\b(it|that|this|the latest one|latest one|that one|which one|which track|remind me|what was it)\b`)
	mentionRE     = regexp.MustCompile(`^@\w+\s*`)
)

var anchorStopWords = map[string]bool{
	"the": true, "latest": true, "this": true, "that": true, "a": true, "an": true,
}

var deicticExact = map[string]bool{
	"when": true, "when?": true, "the latest one": true, "latest one": true,
	"that one": true, "which one": true, "which track": true,
}

// Generator produces routed provider output. *provider.Router satisfies it;
// tests substitute a canned implementation.
type Generator interface {
	Generate(ctx context.Context, req provider.RouteRequest) provider.RouteResult
}

// ProviderDirectorOptions wires a ProviderDirector.
type ProviderDirectorOptions struct {
	Router  Generator
	Store   *memory.Store
	Library *Library
	// PersonaPolicy, when non-empty, is appended verbatim to every prompt.
	PersonaPolicy string
	// SanitizeStubOutput rewrites stub provider echoes into canned chat
	// lines. Enabled for replay runs, never for live generation.
	SanitizeStubOutput bool
	// Rules drives the routing-class hint in traces.
	Rules provider.ClassificationRules
}

type pendingReply struct {
	user         string
	text         string
	continuation bool
	// related records whether the prompting user turn entered the buffer,
	// so a confirmed send can be linked back to it.
	related bool
}

// ProviderDirector generates live responses through the provider router.
// It is single-goroutine by contract; the gateway serializes evaluations.
type ProviderDirector struct {
	buffer        *convo.Buffer
	router        Generator
	store         *memory.Store
	library       *Library
	personaPolicy string
	sanitizeStub  bool
	rules         provider.ClassificationRules

	sessionID       string
	turnCounter     int
	topicAnchor     string
	topicAnchorTurn int

	// Follow-up tracking. A confirmed send gives that viewer the floor:
	// their next unaddressed messages are treated as addressed until the
	// conversation moves on, the recency window closes, or the streak cap
	// hits.
	continuationUser   string
	continuationAge    int
	continuationStreak int
	pending            map[string]pendingReply
}

// NewProviderDirector builds a director over a three-turn context buffer.
func NewProviderDirector(opts ProviderDirectorOptions) *ProviderDirector {
	return &ProviderDirector{
		buffer:        convo.NewBuffer(3),
		router:        opts.Router,
		store:         opts.Store,
		library:       opts.Library,
		personaPolicy: opts.PersonaPolicy,
		sanitizeStub:  opts.SanitizeStubOutput,
		rules:         opts.Rules,
		pending:       map[string]pendingReply{},
	}
}

// Buffer exposes the context buffer for inspection in tests and status.
func (d *ProviderDirector) Buffer() *convo.Buffer { return d.buffer }

func isDirectAddress(ev roonie.Event) bool {
	if ev.MetaBool("is_direct_mention") {
		return true
	}
	msg := strings.ToLower(strings.TrimSpace(ev.Message))
	return strings.Contains(msg, "@roonie") || strings.HasPrefix(msg, "roonie")
}

func isTriggerMessage(message string) bool {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return false
	}
	if strings.Contains(text, "?") {
		return true
	}
	if behavior.StartsWithDirectVerb(text) {
		return true
	}
	return len(text) <= 3
}

func approvedEmotes(ev roonie.Event) []string {
	raw := ev.MetaStrings("approved_emotes")
	if len(raw) > 24 {
		raw = raw[:24]
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if text := strings.TrimSpace(item); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func nowPlayingText(ev roonie.Event) string {
	for _, key := range []string{"now_playing", "now_playing_track", "track_line"} {
		if v := strings.TrimSpace(ev.MetaString(key)); v != "" {
			return v
		}
	}
	artist := strings.TrimSpace(ev.MetaString("now_playing_artist"))
	if artist == "" {
		artist = strings.TrimSpace(ev.MetaString("artist"))
	}
	title := strings.TrimSpace(ev.MetaString("now_playing_title"))
	if title == "" {
		title = strings.TrimSpace(ev.MetaString("title"))
	}
	if artist != "" && title != "" {
		return artist + " - " + title
	}
	return title
}

// extractTopicAnchor pulls a short "name + number" phrase (e.g. a track or
// episode reference) from the message, stripping leading determiners.
func extractTopicAnchor(message string) string {
	text := strings.TrimSpace(message)
	if text == "" {
		return ""
	}
	text = strings.TrimSpace(mentionRE.ReplaceAllString(text, ""))
	m := topicAnchorRE.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	anchor := strings.Join(strings.Fields(m[1]), " ")
	tokens := strings.Fields(anchor)
	for len(tokens) > 0 && anchorStopWords[strings.ToLower(tokens[0])] {
		tokens = tokens[1:]
	}
	if normalized := strings.TrimSpace(strings.Join(tokens, " ")); normalized != "" {
		return normalized
	}
	return anchor
}

func isMusicFactQuestion(message, topicAnchor string) bool {
	text := strings.TrimSpace(message)
	if text == "" {
		return false
	}
	if musicFactRE.MatchString(text) {
		return true
	}
	if topicAnchor != "" {
		lower := strings.ToLower(text)
		return lower == "when" || lower == "when?"
	}
	return false
}

func isDeicticFollowup(message string) bool {
	text := strings.TrimSpace(message)
	if text == "" {
		return false
	}
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if deicticExact[normalized] {
		return true
	}
	return deicticRE.MatchString(text)
}

// safetySteering turns a safety verdict into prompt guidance. On the live
// path classification shapes the prompt instead of blocking the call; the
// model still answers in public, just within the guardrail.
func safetySteering(class safety.Classification) string {
	switch class {
	case safety.Refuse:
		return "Safety steering:\n" +
			"- The viewer is asking for personal, contact, or identifying info.\n" +
			"- Politely decline to share it and redirect to the stream or the music.\n" +
			"- Never reveal addresses, numbers, legal names, or network details."
	case safety.SensitiveNoFollowup:
		return "Safety steering:\n" +
			"- The viewer touched on a heavy personal topic.\n" +
			"- Respond gently and supportively in one short line.\n" +
			"- Do not probe or ask follow-up questions about it."
	}
	return ""
}

// sanitizeStubOutput maps stub provider echoes to canned chat lines so
// replay transcripts read naturally. Real provider text passes through.
func sanitizeStubOutput(text string, category behavior.Category, userMessage string) string {
	raw := strings.TrimSpace(text)
	if raw == "" || !provider.IsStubOutput(raw) {
		return raw
	}
	msg := strings.ToLower(strings.TrimSpace(userMessage))
	switch category {
	case behavior.CategoryGreeting:
		return "Hey! Good to see you."
	case behavior.CategoryBanter:
		switch {
		case strings.Contains(msg, "vibe"):
			return "Vibes are good over here."
		case strings.Contains(msg, "you there"):
			return "Yep, I'm here with you."
		case strings.Contains(msg, "how are"), strings.Contains(msg, "how you"), strings.Contains(msg, "how's"):
			return "Doing good, thanks for checking in."
		default:
			return "Doing good, thanks for checking in."
		}
	case behavior.CategoryEventFollow:
		return "Thanks for the follow."
	case behavior.CategoryEventSub:
		return "Thanks for the sub."
	case behavior.CategoryEventCheer:
		return "Thanks for the bits."
	case behavior.CategoryEventRaid:
		return "Thanks for the raid."
	default:
		return "Hey! I'm here."
	}
}

// Evaluate decides one live event. Every non-silent outcome registers a
// pending reply; the caller reports the send result through
// ApplyOutputFeedback so follow-up tracking and the transcript stay honest.
func (d *ProviderDirector) Evaluate(ctx context.Context, ev roonie.Event, env roonie.Env) roonie.DecisionRecord {
	sessionID := strings.TrimSpace(ev.MetaString("session_id"))
	if sessionID != "" && sessionID != d.sessionID {
		d.buffer.Clear()
		d.sessionID = sessionID
		d.turnCounter = 0
		d.topicAnchor = ""
		d.topicAnchorTurn = 0
		d.continuationUser = ""
		d.continuationAge = 0
		d.continuationStreak = 0
	}

	user := strings.ToLower(strings.TrimSpace(ev.MetaString("user")))
	addressed := isDirectAddress(ev)
	category := behavior.Classify(ev)
	safetyClass, refusalReason := safety.Classify(ev.Message)
	policyTrace := &roonie.PolicyTrace{
		SafetyClassification: string(safetyClass),
		RefusalReasonCode:    refusalReason,
	}
	trigger := category != behavior.CategoryOther || isTriggerMessage(ev.Message)
	emotes := approvedEmotes(ev)
	nowPlaying := nowPlayingText(ev)
	contextTurns := d.buffer.Context(3)
	contextActive := len(contextTurns) > 0

	continuation := false
	if !addressed && d.continuationUser != "" {
		if user == d.continuationUser && d.continuationAge <= continuationRecencyWindow {
			continuation = true
		} else {
			d.continuationAge++
			if d.continuationAge > continuationRecencyWindow {
				d.continuationUser = ""
				d.continuationAge = 0
			}
		}
	}

	caseID := ev.MetaString("case_id")
	if caseID == "" {
		caseID = "live"
	}

	if continuation && d.continuationStreak >= continuationStreakCap {
		return roonie.DecisionRecord{
			CaseID:  caseID,
			EventID: ev.EventID,
			Action:  roonie.ActionNoop,
			Route:   "none",
			Trace: roonie.Trace{
				Director: &roonie.DirectorTrace{
					Type:                     "ProviderDirector",
					AddressedToRoonie:        addressed,
					Trigger:                  trigger,
					ConversationContinuation: true,
					ContinuationCapped:       true,
				},
				Policy: policyTrace,
			},
			ContextActive:    contextActive,
			ContextTurnsUsed: len(contextTurns),
		}
	}

	d.turnCounter++
	if anchor := extractTopicAnchor(ev.Message); anchor != "" {
		d.topicAnchor = anchor
		d.topicAnchorTurn = d.turnCounter
	}
	anchorCandidate := ""
	if d.topicAnchor != "" {
		if d.turnCounter-d.topicAnchorTurn <= topicAnchorTTLTurns {
			anchorCandidate = d.topicAnchor
		} else {
			d.topicAnchor = ""
			d.topicAnchorTurn = 0
		}
	}

	metaCategory := strings.TrimSpace(ev.MetaString("category"))
	classifyCategory := metaCategory
	if classifyCategory == "" {
		classifyCategory = string(category)
	}
	routingClassHint := provider.ClassifyRequest(classifyCategory, ev.Message, d.rules)
	musicish := routingClassHint == provider.ClassMusic ||
		category == behavior.CategoryTrackID ||
		isMusicFactQuestion(ev.Message, anchorCandidate)
	deictic := anchorCandidate != "" && isDeicticFollowup(ev.Message)

	// A stale anchor must not bleed into unrelated chat: only music-ish
	// messages and explicit deictic follow-ups may use it.
	topicAnchor := ""
	if musicish || deictic {
		topicAnchor = anchorCandidate
	}

	libraryBlock := ""
	libraryConfidence := ConfidenceNone
	if musicish || deictic {
		grounding := d.library.Ground(ev.Message, topicAnchor)
		libraryBlock = strings.TrimSpace(grounding.Block)
		libraryConfidence = grounding.Confidence
	}
	musicFactQuestion := isMusicFactQuestion(ev.Message, topicAnchor)

	storedUserTurn := d.buffer.AddUserTurn(convo.UserTurn{
		Text:          ev.Message,
		User:          user,
		DirectAddress: addressed,
		Category:      strings.ToLower(metaCategory),
		Continuation:  continuation,
	})

	memResult := memory.InjectionResult{}
	if (addressed || continuation) && (trigger || continuation) && d.store != nil {
		res, err := d.store.SafeInjection()
		if err != nil {
			log.Printf("[director] memory injection: %v", err)
		} else {
			memResult = res
		}
	}

	memTrace := &roonie.MemoryTrace{
		KeysUsed:     memResult.KeysUsed,
		CharsUsed:    memResult.CharsUsed,
		ItemsUsed:    memResult.ItemsUsed,
		DroppedCount: memResult.DroppedCount,
	}
	behaviorTrace := &roonie.BehaviorTrace{
		Category:            string(category),
		ApprovedEmotes:      emotes,
		NowPlayingAvailable: nowPlaying != "",
		TopicAnchor:         topicAnchor,
		LibraryConfidence:   libraryConfidence,
		RoutingClassHint:    routingClassHint,
	}

	if !(addressed || continuation) || !(trigger || continuation) {
		return roonie.DecisionRecord{
			CaseID:  caseID,
			EventID: ev.EventID,
			Action:  roonie.ActionNoop,
			Route:   "none",
			Trace: roonie.Trace{
				Director: &roonie.DirectorTrace{
					Type:                     "ProviderDirector",
					AddressedToRoonie:        addressed,
					Trigger:                  trigger,
					ConversationContinuation: continuation,
				},
				Policy:   policyTrace,
				Behavior: behaviorTrace,
				Memory:   memTrace,
				Proposal: &roonie.ProposalTrace{
					RouteUsed:          "none",
					ModerationStatus:   "not_applicable",
					SessionID:          sessionID,
					MemoryKeysUsed:     memResult.KeysUsed,
					MemoryCharsUsed:    memResult.CharsUsed,
					MemoryItemsUsed:    memResult.ItemsUsed,
					MemoryDroppedCount: memResult.DroppedCount,
				},
			},
			ContextActive:    contextActive,
			ContextTurnsUsed: len(contextTurns),
		}
	}

	fastPath := func(route, text string) roonie.DecisionRecord {
		d.pending[ev.EventID] = pendingReply{user: user, text: text, continuation: continuation, related: storedUserTurn}
		return roonie.DecisionRecord{
			CaseID:       caseID,
			EventID:      ev.EventID,
			Action:       roonie.ActionRespondPublic,
			Route:        route,
			ResponseText: roonie.StringPtr(text),
			Trace: roonie.Trace{
				Director: &roonie.DirectorTrace{
					Type:                     "ProviderDirector",
					AddressedToRoonie:        addressed,
					Trigger:                  trigger,
					ConversationContinuation: continuation,
				},
				Policy:   policyTrace,
				Behavior: behaviorTrace,
				Memory:   memTrace,
				Proposal: &roonie.ProposalTrace{
					Text:               roonie.StringPtr(text),
					ProviderUsed:       "none",
					RouteUsed:          route,
					ModerationStatus:   "not_applicable",
					SessionID:          sessionID,
					MemoryKeysUsed:     memResult.KeysUsed,
					MemoryCharsUsed:    memResult.CharsUsed,
					MemoryItemsUsed:    memResult.ItemsUsed,
					MemoryDroppedCount: memResult.DroppedCount,
				},
			},
			ContextActive:    contextActive,
			ContextTurnsUsed: len(contextTurns),
		}
	}

	if category == behavior.CategoryTrackID {
		if nowPlaying != "" {
			return fastPath("behavior:track_id", "I see: "+nowPlaying+".")
		}
		return fastPath("behavior:track_id",
			"I can't see the current track from here yet. Drop a timestamp or clip and I'll help ID it.")
	}
	if category == behavior.CategoryGreeting {
		return fastPath("behavior:greeting", "Hey! Good to see you.")
	}

	promptText := prompt.Build(prompt.Input{
		Message:           ev.Message,
		Viewer:            ev.MetaString("user"),
		Channel:           ev.MetaString("channel"),
		ContextTurns:      contextTurns,
		MaxContextTurns:   3,
		MaxContextChars:   480,
		BehaviorBlock:     behavior.Guidance(category, emotes, nowPlaying != "", topicAnchor),
		SafetyBlock:       safetySteering(safetyClass),
		TopicAnchor:       topicAnchor,
		LibraryBlock:      libraryBlock,
		MusicFactQuestion: musicFactQuestion,
		MemoryHints:       memResult.Text,
		PersonaPolicy:     d.personaPolicy,
	})

	res := d.router.Generate(ctx, provider.RouteRequest{
		EventID:   ev.EventID,
		SessionID: sessionID,
		Prompt:    promptText,
		Message:   ev.Message,
		Category:  classifyCategory,
	})

	providerUsed := res.Provider
	if providerUsed == "" {
		providerUsed = provider.NameOpenAI
	}
	moderationStatus := res.ModerationStatus
	if moderationStatus == "" {
		moderationStatus = "not_applicable"
	}

	action := roonie.ActionNoop
	route := "none"
	var responseText *string
	skipped := false
	if text := strings.TrimSpace(res.Text); text != "" {
		if d.sanitizeStub {
			text = sanitizeStubOutput(text, category, ev.Message)
		}
		if continuation && text == skipToken {
			skipped = true
		} else {
			action = roonie.ActionRespondPublic
			route = "primary:" + providerUsed
			responseText = roonie.StringPtr(text)
			d.pending[ev.EventID] = pendingReply{user: user, text: text, continuation: continuation, related: storedUserTurn}
		}
	}

	trace := roonie.Trace{
		Director: &roonie.DirectorTrace{
			Type:                     "ProviderDirector",
			AddressedToRoonie:        addressed,
			Trigger:                  trigger,
			ConversationContinuation: continuation,
			ContinuationSkipped:      skipped,
			RoutingEnabled:           res.RoutingEnabled,
		},
		Policy:   policyTrace,
		Behavior: behaviorTrace,
		Memory:   memTrace,
		Routing: &roonie.RoutingTrace{
			RoutingEnabled:   res.RoutingEnabled,
			RoutingClass:     res.RoutingClass,
			ProviderSelected: providerUsed,
			ModerationResult: moderationStatus,
			OverrideMode:     res.OverrideMode,
			GeneralRouteMode: res.GeneralRouteMode,
		},
		Proposal: &roonie.ProposalTrace{
			Text:               responseText,
			ProviderUsed:       providerUsed,
			RouteUsed:          route,
			ModerationStatus:   moderationStatus,
			SessionID:          sessionID,
			LatencyMS:          res.LatencyMS,
			MemoryKeysUsed:     memResult.KeysUsed,
			MemoryCharsUsed:    memResult.CharsUsed,
			MemoryItemsUsed:    memResult.ItemsUsed,
			MemoryDroppedCount: memResult.DroppedCount,
		},
	}
	if res.SuppressionReason != "" {
		trace.SuppressionReason = res.SuppressionReason
		trace.ProviderBlockReason = res.SuppressionReason
	}

	return roonie.DecisionRecord{
		CaseID:           caseID,
		EventID:          ev.EventID,
		Action:           action,
		Route:            route,
		ResponseText:     responseText,
		Trace:            trace,
		ContextActive:    contextActive,
		ContextTurnsUsed: len(contextTurns),
	}
}

// ApplyOutputFeedback reports what happened to a proposed reply. A confirmed
// send enters the transcript and hands the floor to that viewer; anything
// else just clears the pending entry.
func (d *ProviderDirector) ApplyOutputFeedback(eventID string, emitted, sent bool) {
	reply, ok := d.pending[eventID]
	if !ok {
		return
	}
	delete(d.pending, eventID)
	if !emitted || !sent {
		return
	}
	// Only confirmed sends enter the transcript; the output gate is the
	// final authority on posting.
	d.buffer.AddRoonieTurn(reply.text, true, reply.related)
	d.continuationUser = reply.user
	d.continuationAge = 0
	if reply.continuation {
		d.continuationStreak++
	} else {
		d.continuationStreak = 0
	}
}
