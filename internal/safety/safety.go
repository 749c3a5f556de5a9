// Package safety classifies inbound chat messages before any response text
// is composed. Pure pattern matching over a normalized copy of the message,
// so results are deterministic and replayable.
package safety

import (
	"regexp"
	"strings"
)

// Classification is the safety verdict for one message.
type Classification string

const (
	Allowed             Classification = "allowed"
	Refuse              Classification = "refuse"
	SensitiveNoFollowup Classification = "sensitive_no_followup"
)

// ReasonPrivateInfoDoxxing is the reason code carried into the trace for
// refusals. Sensitive verdicts carry no reason code.
const ReasonPrivateInfoDoxxing = "REF_PRIVATE_INFO_DOXXING"

// Personal/contact info and doxxing asks refuse outright.
var refusePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:your|my|his|her|their)\s+address\b`),
	regexp.MustCompile(`(?i)\b(?:home|house|street|mailing)\s+address\b`),
	regexp.MustCompile(`(?i)\b(?:phone|cell|mobile|telephone)\s+(?:number|#)\b`),
	regexp.MustCompile(`(?i)\b(?:real|full|legal)\s+name\b`),
	regexp.MustCompile(`(?i)\b(?:email|e-mail)\s+address\b`),
	regexp.MustCompile(`(?i)\b(?:doxx?|doxing|doxxing)\b`),
	regexp.MustCompile(`(?i)\b(?:ip|ip\s+address|ipv4|ipv6)\b`),
}

// Self-harm adjacent topics stay answerable but gently, with no probing
// follow-up question.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdepress(?:ed|ion)?\b`),
	regexp.MustCompile(`(?i)\bsuicid(?:e|al)\b`),
	regexp.MustCompile(`(?i)\bself[-\s]?harm\b`),
	regexp.MustCompile(`(?i)\bkill\s+myself\b`),
	regexp.MustCompile(`(?i)\b(?:want|wanna)\s+to\s+die\b`),
	regexp.MustCompile(`(?i)\bend\s+my\s+life\b`),
}

// Prompt-injection wrappers are stripped before classification so a
// bracketed "[system] ..." prefix cannot smuggle a request past the rules.
var injectionPrefixes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*\[(?:system|assistant|user|inst)[^\]]*\]\s*`),
	regexp.MustCompile(`(?i)^\s*</?(?:system|assistant|user|inst|s)\b[^>]*>\s*`),
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// Normalize collapses whitespace and strips injection wrappers. Exposed so
// tests can assert the pre-classification view of a message.
func Normalize(message string) string {
	text := strings.TrimSpace(message)
	if text == "" {
		return ""
	}
	for text != "" {
		changed := false
		for _, re := range injectionPrefixes {
			if updated := re.ReplaceAllString(text, ""); updated != text {
				text = strings.TrimSpace(updated)
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
}

// Classify returns the verdict and, for refusals, the reason code. Refusal
// patterns win over sensitive patterns.
func Classify(message string) (Classification, string) {
	normalized := Normalize(message)
	if normalized == "" {
		return Allowed, ""
	}
	for _, re := range refusePatterns {
		if re.MatchString(normalized) {
			return Refuse, ReasonPrivateInfoDoxxing
		}
	}
	for _, re := range sensitivePatterns {
		if re.MatchString(normalized) {
			return SensitiveNoFollowup, ""
		}
	}
	return Allowed, ""
}
