package memory

import (
	"regexp"
	"strings"

	"github.com/rooniethecat/roonie/internal/roonie"
)

// AllowedKeys is the closed set of memory keys the bot may write. Anything
// outside it is dropped at intent time and again at persistence time.
var AllowedKeys = []string{
	"tone_preferences",
	"stream_norms",
	"approved_phrases",
	"do_not_do",
}

// AllowedKey reports whether key may be written.
func AllowedKey(key string) bool {
	for _, k := range AllowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// cue maps a phrasing pattern to a memory key with a fixed confidence and
// retention. Patterns capture the remembered value in group 1.
type cue struct {
	re         *regexp.Regexp
	memoryKey  string
	scope      string
	confidence float64
	ttlDays    int
	name       string
}

var cues = []cue{
	{regexp.MustCompile(`(?i)\b(?:don't|dont|do\s+not|stop)\s+(?:call(?:ing)?\s+me|say(?:ing)?)\s+(.+)`), "do_not_do", "viewer", 0.9, 180, "explicit_prohibition"},
	{regexp.MustCompile(`(?i)\bplease\s+(?:don't|dont|do\s+not)\s+(.+)`), "do_not_do", "viewer", 0.7, 90, "polite_prohibition"},
	{regexp.MustCompile(`(?i)\b(?:call\s+me|i\s+go\s+by)\s+(.+)`), "tone_preferences", "viewer", 0.85, 180, "name_preference"},
	{regexp.MustCompile(`(?i)\bi(?:'d)?\s+prefer\s+(?:it\s+)?(?:if\s+you\s+)?(.+)`), "tone_preferences", "viewer", 0.8, 180, "stated_preference"},
	{regexp.MustCompile(`(?i)\b(?:i\s+love\s+(?:it\s+)?when\s+you\s+say|you\s+can\s+(?:always\s+)?say)\s+(.+)`), "approved_phrases", "viewer", 0.6, 90, "approved_phrase"},
	{regexp.MustCompile(`(?i)\b(?:on\s+this\s+stream\s+we|in\s+this\s+chat\s+we|here\s+we)\s+(?:always\s+|never\s+)?(.+)`), "stream_norms", "stream", 0.7, 365, "stream_norm"},
}

// Trailing clauses after a contrast word usually negate or qualify the
// preference, so the captured value stops there.
var stopTokens = []string{" but ", " though ", " however "}

func clipAtStopToken(value string) string {
	lower := strings.ToLower(value)
	cut := len(value)
	for _, tok := range stopTokens {
		if idx := strings.Index(lower, tok); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return strings.TrimRight(strings.TrimSpace(value[:cut]), ".!,?")
}

const (
	minValueLen = 2
	maxValueLen = 120
)

// EvaluateIntents scans one event for memory-worthy cues and returns a
// MEMORY_WRITE_INTENT record per match. The records carry no response text
// and never short-circuit the response pipeline.
func EvaluateIntents(ev roonie.Event) []roonie.DecisionRecord {
	msg := strings.TrimSpace(ev.Message)
	if msg == "" || ev.Actor == "" {
		return nil
	}
	var records []roonie.DecisionRecord
	for _, c := range cues {
		m := c.re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		value := clipAtStopToken(m[1])
		if len(value) < minValueLen || len(value) > maxValueLen {
			continue
		}
		subjectID := "viewer:" + ev.Actor
		if c.scope == "stream" {
			subjectID = "stream"
		}
		intent := map[string]any{
			"scope":      c.scope,
			"subject_id": subjectID,
			"memory_key": c.memoryKey,
			"value":      value,
			"confidence": c.confidence,
			"ttl_days":   c.ttlDays,
			"cue":        c.name,
			"source":     "chat",
		}
		records = append(records, roonie.DecisionRecord{
			CaseID:  "memint-" + ev.EventID + "-" + c.name,
			EventID: ev.EventID,
			Action:  roonie.ActionMemoryWriteIntent,
			Route:   "none",
			Trace:   roonie.Trace{MemoryIntent: intent},
		})
	}
	return records
}
