// Package convo keeps the short rolling transcript used to ground live
// responses. The buffer is bounded, process-local, and deliberately
// non-persistent; admission is gated so idle chatter never enters it.
package convo

import (
	"regexp"
	"strings"
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerRoonie Speaker = "roonie"
)

// Turn is one admitted line of conversation.
type Turn struct {
	TS            time.Time `json:"ts"`
	Speaker       Speaker   `json:"speaker"`
	Text          string    `json:"text"`
	User          string    `json:"user,omitempty"`
	DirectAddress bool      `json:"direct_address,omitempty"`
	Category      string    `json:"category,omitempty"`
	Continuation  bool      `json:"continuation,omitempty"`
}

var (
	interrogativeRE  = regexp.MustCompile(`(?i)^(what|why|how|where|when|can|do|does|is|are)\b`)
	leadingMentionRE = regexp.MustCompile(`^@\w+\s+`)
)

// Utility categories that make an unaddressed user message worth keeping.
var utilityCategories = map[string]bool{
	"utility_track_id": true,
	"utility_gear":     true,
	"utility_library":  true,
	"courtesy":         true,
	"operator_queue":   true,
}

// Buffer is a bounded FIFO of admitted turns. Not safe for concurrent use;
// the owning director serializes access.
type Buffer struct {
	max   int
	turns []Turn
	now   func() time.Time
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// NewBuffer returns a buffer bounded at maxTurns (minimum one).
func NewBuffer(maxTurns int, opts ...Option) *Buffer {
	if maxTurns < 1 {
		maxTurns = 1
	}
	b := &Buffer{max: maxTurns, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// UserTurn describes a candidate viewer turn.
type UserTurn struct {
	Text          string
	User          string
	DirectAddress bool
	Category      string
	Continuation  bool
}

// AddUserTurn admits a viewer line when it addresses the bot, asks a
// question, or carries a utility category. Returns whether it was stored.
func (b *Buffer) AddUserTurn(turn UserTurn) bool {
	text := strings.TrimSpace(turn.Text)
	if text == "" {
		return false
	}
	if !turn.Continuation && !userRelevant(text, turn.DirectAddress, strings.ToLower(strings.TrimSpace(turn.Category))) {
		return false
	}
	b.push(Turn{
		TS:            b.now(),
		Speaker:       SpeakerUser,
		Text:          text,
		User:          strings.ToLower(strings.TrimSpace(turn.User)),
		DirectAddress: turn.DirectAddress,
		Category:      strings.ToLower(strings.TrimSpace(turn.Category)),
		Continuation:  turn.Continuation,
	})
	return true
}

func userRelevant(text string, directAddress bool, category string) bool {
	if directAddress {
		return true
	}
	if strings.Contains(text, "?") {
		return true
	}
	probe := leadingMentionRE.ReplaceAllString(strings.TrimSpace(text), "")
	if interrogativeRE.MatchString(probe) {
		return true
	}
	return utilityCategories[category]
}

// AddRoonieTurn admits a bot line only when it was actually sent, relates
// to a stored user turn, and a user turn exists in the buffer. Unsent
// proposals never enter the transcript.
func (b *Buffer) AddRoonieTurn(text string, sent, relatedToStoredUser bool) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || !sent || !relatedToStoredUser {
		return false
	}
	hasUser := false
	for _, t := range b.turns {
		if t.Speaker == SpeakerUser {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return false
	}
	b.push(Turn{TS: b.now(), Speaker: SpeakerRoonie, Text: trimmed})
	return true
}

func (b *Buffer) push(t Turn) {
	b.turns = append(b.turns, t)
	if len(b.turns) > b.max {
		b.turns = b.turns[len(b.turns)-b.max:]
	}
}

// Context returns up to maxTurns most recent turns, newest first, as a
// copy for deterministic prompt packing.
func (b *Buffer) Context(maxTurns int) []Turn {
	if maxTurns < 0 {
		maxTurns = 0
	}
	if maxTurns > len(b.turns) {
		maxTurns = len(b.turns)
	}
	out := make([]Turn, maxTurns)
	for i := 0; i < maxTurns; i++ {
		out[i] = b.turns[len(b.turns)-1-i]
	}
	return out
}

// Turns returns every stored turn, oldest first, as a copy.
func (b *Buffer) Turns() []Turn {
	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Len reports the number of stored turns.
func (b *Buffer) Len() int { return len(b.turns) }

// Clear drops all turns.
func (b *Buffer) Clear() { b.turns = nil }
