// Package behavior maps inbound events to interaction categories and owns
// the per-category pacing and guidance rules used by the live prompt.
package behavior

import (
	"regexp"
	"strings"
	"time"

	"github.com/rooniethecat/roonie/internal/roonie"
)

// Category is the interaction class of one event.
type Category string

const (
	CategoryGreeting    Category = "GREETING"
	CategoryBanter      Category = "BANTER"
	CategoryTrackID     Category = "TRACK_ID"
	CategoryEventFollow Category = "EVENT_FOLLOW"
	CategoryEventSub    Category = "EVENT_SUB"
	CategoryEventCheer  Category = "EVENT_CHEER"
	CategoryEventRaid   Category = "EVENT_RAID"
	CategoryOther       Category = "OTHER"
)

var eventTypeCategories = map[string]Category{
	"FOLLOW": CategoryEventFollow,
	"SUB":    CategoryEventSub,
	"CHEER":  CategoryEventCheer,
	"RAID":   CategoryEventRaid,
}

var (
	trackIDRE  = regexp.MustCompile(`(?i)\b(track\s*id|what(?:'s| is)?\s+(?:this|that)\s+track|id\?|what\s+track|track\?)\b`)
	questionRE = regexp.MustCompile(`\?`)
)

// Classify determines the category of an event. Platform event types win
// over message text.
func Classify(ev roonie.Event) Category {
	if et := strings.ToUpper(strings.TrimSpace(ev.MetaString("event_type"))); et != "" {
		if cat, ok := eventTypeCategories[et]; ok {
			return cat
		}
	}
	text := strings.TrimSpace(ev.Message)
	if text == "" {
		return CategoryOther
	}
	if trackIDRE.MatchString(text) {
		return CategoryTrackID
	}
	if IsPureGreeting(text) {
		return CategoryGreeting
	}
	if questionRE.MatchString(text) || len(text) <= 80 {
		return CategoryBanter
	}
	return CategoryOther
}

// Event reaction cooldowns, plus the greeting spacing.
var eventCooldowns = map[Category]time.Duration{
	CategoryEventFollow: 45 * time.Second,
	CategoryEventSub:    20 * time.Second,
	CategoryEventCheer:  20 * time.Second,
	CategoryEventRaid:   30 * time.Second,
}

const greetingCooldown = 15 * time.Second

// Cooldown returns the cooldown bucket, its duration, and a reason code for
// the trace. A zero duration means the category is not cooldown-gated.
func Cooldown(cat Category) (Category, time.Duration, string) {
	if d, ok := eventCooldowns[cat]; ok {
		return cat, d, "EVENT_COOLDOWN"
	}
	if cat == CategoryGreeting {
		return cat, greetingCooldown, "GREETING_COOLDOWN"
	}
	return "", 0, ""
}

// IsEventCategory reports whether cat comes from a platform signal.
func IsEventCategory(cat Category) bool {
	_, ok := eventCooldowns[cat]
	return ok
}

// Guidance builds the behavior block injected into the live prompt.
func Guidance(cat Category, approvedEmotes []string, nowPlayingAvailable bool, topicAnchor string) string {
	var lines []string
	switch {
	case cat == CategoryTrackID:
		lines = append(lines, "This is a track ID question. Don't guess track names you're not sure about. Show you're curious about the track too.")
		if nowPlayingAvailable {
			lines = append(lines, "You have now-playing info available to reference.")
		} else {
			lines = append(lines, "You don't have track info right now. Ask for a timestamp or clip if needed.")
		}
	case IsEventCategory(cat):
		lines = append(lines, "Quick thank-you for the event. Be warm and hyped, make them feel like it matters. Keep it brief.")
	case cat == CategoryGreeting:
		lines = append(lines, "Greet them like a friend you're happy to see. Match their energy or bring it up a notch.")
	case cat == CategoryBanter:
		if topicAnchor != "" {
			lines = append(lines, "Recent topic: "+topicAnchor+". Pick up the thread if relevant.")
		}
		lines = append(lines, "Chat naturally. Be warm, react to what they actually said. Light teasing is welcome if the moment is right.")
	}
	if topicAnchor != "" && cat != CategoryBanter {
		lines = append(lines, "Recent topic: "+topicAnchor+". Pick up the thread if relevant.")
	}
	if len(approvedEmotes) > 0 {
		lines = append(lines, "Approved emotes: "+strings.Join(approvedEmotes, ", ")+". One per message maximum, at the END only. Most messages: no emote.")
	}
	return strings.Join(lines, "\n")
}
