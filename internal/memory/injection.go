package memory

import (
	"fmt"
	"regexp"
	"strings"
)

// Injection budget. Memory is seasoning, not the meal; the prompt gets at
// most this much of it.
const (
	MaxInjectionChars = 900
	MaxInjectionItems = 10
)

// InjectionResult is what SafeInjection hands the prompt builder.
type InjectionResult struct {
	Text         string
	KeysUsed     []string
	CharsUsed    int
	ItemsUsed    int
	DroppedCount int
}

// Secret and contact patterns that must never reach a prompt, whatever key
// or tag the value was stored under.
var (
	emailRE       = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	ipv4RE        = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	bearerRE      = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]{8,}\b`)
	oauthRE       = regexp.MustCompile(`(?i)\boauth:[A-Za-z0-9._\-]{8,}\b`)
	tokenAssignRE = regexp.MustCompile(`(?i)\b(?:token|secret|api[_\-]?key)\s*[:=]\s*\S+`)
	phoneRE       = regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`)
)

func containsPII(text string) bool {
	return emailRE.MatchString(text) ||
		ipv4RE.MatchString(text) ||
		bearerRE.MatchString(text) ||
		oauthRE.MatchString(text) ||
		tokenAssignRE.MatchString(text) ||
		phoneRE.MatchString(text)
}

// normalizeTag folds a stored tag into whitelist form.
func normalizeTag(tag string) string {
	text := strings.ToLower(strings.TrimSpace(tag))
	text = strings.NewReplacer("-", "_", " ", "_").Replace(text)
	var sb strings.Builder
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// matchedTag returns the first whitelist key present in tags, or "".
func matchedTag(tags []string) string {
	for _, key := range AllowedKeys {
		for _, tag := range tags {
			if normalizeTag(tag) == key {
				return key
			}
		}
	}
	return ""
}

// SafeInjection assembles the memory block for a live prompt: whitelisted
// item values first (most recently updated wins), then cultural notes
// carrying a whitelisted tag. DroppedCount counts candidates removed by the
// secret filter; nothing they contain is ever exposed.
func (s *Store) SafeInjection() (InjectionResult, error) {
	items, err := s.allItems()
	if err != nil {
		return InjectionResult{}, err
	}
	notes, err := s.CulturalNotes()
	if err != nil {
		return InjectionResult{}, err
	}

	var res InjectionResult
	type candidate struct {
		line string
		key  string
	}
	var cands []candidate

	for _, it := range items {
		if !AllowedKey(it.MemoryKey) {
			continue
		}
		value, _ := it.Intent["value"].(string)
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if containsPII(value) {
			res.DroppedCount++
			continue
		}
		cands = append(cands, candidate{fmt.Sprintf("- [%s] %s", it.MemoryKey, value), it.MemoryKey})
	}
	for _, note := range notes {
		text := strings.TrimSpace(note.Note)
		if text == "" {
			continue
		}
		if containsPII(text) {
			res.DroppedCount++
			continue
		}
		key := matchedTag(note.Tags)
		if key == "" {
			continue
		}
		cands = append(cands, candidate{fmt.Sprintf("- [%s] %s", key, text), key})
	}

	var lines []string
	keysSeen := map[string]bool{}
	addKey := func(key string) {
		if !keysSeen[key] {
			keysSeen[key] = true
			res.KeysUsed = append(res.KeysUsed, key)
		}
	}
	for _, c := range cands {
		if len(lines) >= MaxInjectionItems {
			break
		}
		sep := 0
		if len(lines) > 0 {
			sep = 1
		}
		if res.CharsUsed+sep+len(c.line) > MaxInjectionChars {
			// Truncate the last fitting line with an ellipsis and stop;
			// the block must never exceed the character budget.
			remaining := MaxInjectionChars - res.CharsUsed - sep
			if remaining <= 0 {
				break
			}
			var truncated string
			if remaining <= 3 {
				truncated = c.line[:remaining]
			} else {
				truncated = strings.TrimRight(c.line[:remaining-3], " ") + "..."
			}
			if truncated != "" {
				lines = append(lines, truncated)
				res.CharsUsed += sep + len(truncated)
				addKey(c.key)
			}
			break
		}
		lines = append(lines, c.line)
		res.CharsUsed += sep + len(c.line)
		addKey(c.key)
	}

	res.ItemsUsed = len(lines)
	res.Text = strings.Join(lines, "\n")
	return res, nil
}
