package behavior

import (
	"regexp"
	"strings"
)

// Imperative verbs that mark a message as a direct request when it opens
// with one.
var DirectVerbs = []string{
	"fix", "switch", "change", "do", "tell", "show", "check",
	"turn", "mute", "unmute", "refresh", "restart", "help",
}

var (
	greetingRE   = regexp.MustCompile(`(?i)^(?:@[\w_]+\s*)?(?:hey|heya|hi|hello|yo|sup|what'?s up|whats up)\b`)
	followupRE   = regexp.MustCompile(`(?i)\b(how|what|why|when|where|which|who|can|do|does|did|is|are)\b`)
	nonVerbCharRE = regexp.MustCompile(`[^a-z0-9_]+`)
)

func verbTokens(text string) []string {
	cleaned := strings.TrimSpace(nonVerbCharRE.ReplaceAllString(strings.ToLower(text), " "))
	if cleaned == "" {
		return nil
	}
	return strings.Fields(cleaned)
}

// StartsWithDirectVerb reports whether the first token is an imperative
// verb.
func StartsWithDirectVerb(message string) bool {
	tokens := verbTokens(message)
	if len(tokens) == 0 {
		return false
	}
	return isDirectVerb(tokens[0])
}

// ContainsDirectVerbWord reports whether any token is an imperative verb.
func ContainsDirectVerbWord(message string) bool {
	for _, tok := range verbTokens(message) {
		if isDirectVerb(tok) {
			return true
		}
	}
	return false
}

func isDirectVerb(tok string) bool {
	for _, v := range DirectVerbs {
		if tok == v {
			return true
		}
	}
	return false
}

// IsPureGreeting reports whether message is a greeting with no question or
// follow-up attached. One-word tails ("hey there") stay in the greeting
// bucket.
func IsPureGreeting(message string) bool {
	text := strings.TrimSpace(message)
	if text == "" {
		return false
	}
	loc := greetingRE.FindStringIndex(text)
	if loc == nil {
		return false
	}
	tail := strings.Trim(text[loc[1]:], " \t\r\n,!.?-")
	if tail == "" {
		return true
	}
	if strings.Contains(tail, "?") {
		return false
	}
	if followupRE.MatchString(tail) {
		return false
	}
	return len(strings.Fields(tail)) <= 2
}

// IsLiveGreeting reports whether message is a pure greeting arriving on the
// live stream surface.
func IsLiveGreeting(message, mode, platform string) bool {
	m := strings.ToLower(strings.TrimSpace(mode))
	p := strings.ToLower(strings.TrimSpace(platform))
	if m != "live" && p != "twitch" {
		return false
	}
	return IsPureGreeting(message)
}
