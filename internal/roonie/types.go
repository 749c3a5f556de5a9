// Package roonie holds the core decision-pipeline types shared by the
// directors, the provider router, and the gateway.
package roonie

// Action is the terminal outcome of evaluating one Event.
type Action string

const (
	ActionNoop              Action = "NOOP"
	ActionRespondPublic     Action = "RESPOND_PUBLIC"
	ActionMemoryWriteIntent Action = "MEMORY_WRITE_INTENT"
)

// Event is one inbound stimulus: a chat message or a platform event.
// Constructed once by an adapter and immutable during evaluation.
type Event struct {
	EventID  string         `json:"event_id"`
	Message  string         `json:"message"`
	Actor    string         `json:"actor"`
	Metadata map[string]any `json:"metadata"`
}

// MetaString returns a trimmed string metadata value, or "" when absent.
func (e Event) MetaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	v, ok := e.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// MetaBool returns a bool metadata value, false when absent or non-bool.
func (e Event) MetaBool(key string) bool {
	if e.Metadata == nil {
		return false
	}
	v, ok := e.Metadata[key].(bool)
	return ok && v
}

// MetaStrings returns a string-slice metadata value, tolerating []any payloads
// that arrive from decoded JSON.
func (e Event) MetaStrings(key string) []string {
	if e.Metadata == nil {
		return nil
	}
	switch v := e.Metadata[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Env is the process-wide evaluation context, passed by reference through a
// single Evaluate call and never mutated.
type Env struct {
	Offline     bool   `json:"offline"`
	StreamState string `json:"stream_state"`
}

// DecisionRecord is the output of one evaluation. ResponseText is non-nil
// iff Action == RESPOND_PUBLIC.
type DecisionRecord struct {
	CaseID           string  `json:"case_id"`
	EventID          string  `json:"event_id"`
	Action           Action  `json:"action"`
	Route            string  `json:"route"`
	ResponseText     *string `json:"response_text"`
	Trace            Trace   `json:"trace"`
	ContextActive    bool    `json:"context_active"`
	ContextTurnsUsed int     `json:"context_turns_used"`
}

// Trace carries structured diagnostics so offline fixtures can assert on
// intermediate gate values without re-deriving them from output text.
type Trace struct {
	Director            *DirectorTrace `json:"director,omitempty"`
	Gates               *GatesTrace    `json:"gates,omitempty"`
	Policy              *PolicyTrace   `json:"policy,omitempty"`
	Behavior            *BehaviorTrace `json:"behavior,omitempty"`
	Memory              *MemoryTrace   `json:"memory,omitempty"`
	Routing             *RoutingTrace  `json:"routing,omitempty"`
	Proposal            *ProposalTrace `json:"proposal,omitempty"`
	MemoryIntent        map[string]any `json:"memory_intent,omitempty"`
	SuppressionReason   string         `json:"suppression_reason,omitempty"`
	ProviderBlockReason string         `json:"provider_block_reason,omitempty"`
}

type DirectorTrace struct {
	Type                     string `json:"type"`
	AddressedToRoonie        bool   `json:"addressed_to_roonie"`
	Trigger                  bool   `json:"trigger"`
	ConversationContinuation bool   `json:"conversation_continuation"`
	ContinuationSkipped      bool   `json:"continuation_skipped,omitempty"`
	ContinuationCapped       bool   `json:"continuation_capped,omitempty"`
	RoutingEnabled           bool   `json:"routing_enabled,omitempty"`
}

type GatesTrace struct {
	AddressedToRoonie bool   `json:"addressed_to_roonie"`
	TriggerType       string `json:"trigger_type"`
	AmbiguityDetected bool   `json:"ambiguity_detected"`
	NoopBiasApplied   bool   `json:"noop_bias_applied"`
}

type PolicyTrace struct {
	SafetyClassification string `json:"safety_classification"`
	RefusalReasonCode    string `json:"refusal_reason_code,omitempty"`
}

type BehaviorTrace struct {
	Category            string   `json:"category"`
	ApprovedEmotes      []string `json:"approved_emotes,omitempty"`
	NowPlayingAvailable bool     `json:"now_playing_available"`
	TopicAnchor         string   `json:"topic_anchor,omitempty"`
	LibraryConfidence   string   `json:"library_confidence,omitempty"`
	RoutingClassHint    string   `json:"routing_class_hint,omitempty"`
}

type MemoryTrace struct {
	KeysUsed     []string `json:"keys_used,omitempty"`
	CharsUsed    int      `json:"chars_used"`
	ItemsUsed    int      `json:"items_used"`
	DroppedCount int      `json:"dropped_count"`
}

type RoutingTrace struct {
	SelectedResponder  string   `json:"selected_responder,omitempty"`
	RoutingReasonCodes []string `json:"routing_reason_codes,omitempty"`
	UtilityCategory    string   `json:"utility_category,omitempty"`
	UtilitySource      string   `json:"utility_source,omitempty"`
	MatchConfidence    string   `json:"match_confidence,omitempty"`
	RoutingEnabled     bool     `json:"routing_enabled,omitempty"`
	RoutingClass       string   `json:"routing_class,omitempty"`
	ProviderSelected   string   `json:"provider_selected,omitempty"`
	ModerationResult   string   `json:"moderation_result,omitempty"`
	OverrideMode       string   `json:"override_mode,omitempty"`
	GeneralRouteMode   string   `json:"general_route_mode,omitempty"`
}

type ProposalTrace struct {
	Text               *string  `json:"text"`
	ProviderUsed       string   `json:"provider_used,omitempty"`
	RouteUsed          string   `json:"route_used"`
	ModerationStatus   string   `json:"moderation_status"`
	SessionID          string   `json:"session_id,omitempty"`
	LatencyMS          int64    `json:"latency_ms,omitempty"`
	MemoryKeysUsed     []string `json:"memory_keys_used,omitempty"`
	MemoryCharsUsed    int      `json:"memory_chars_used"`
	MemoryItemsUsed    int      `json:"memory_items_used"`
	MemoryDroppedCount int      `json:"memory_dropped_count"`
}

// StringPtr is a small helper for building DecisionRecords.
func StringPtr(s string) *string { return &s }
