package provider

import (
	"regexp"
	"strings"
)

// Routing classes.
const (
	ClassMusic   = "music_culture"
	ClassGeneral = "general"
)

// Looks like "Artist - Title" or "Artist – Title".
var artistTitleRE = regexp.MustCompile(`\S+\s+[-–]\s+\S+`)

// ClassifyRequest decides the routing class of one request from its
// behavior category and message text. Music-shaped requests go to the
// music route; everything else is general.
func ClassifyRequest(category, message string, rules ClassificationRules) string {
	switch strings.ToUpper(strings.TrimSpace(category)) {
	case "TRACK_ID", "UTILITY_TRACK_ID", "UTILITY_LIBRARY":
		return ClassMusic
	}
	lower := strings.ToLower(message)
	for _, kw := range rules.MusicCultureKeywords {
		if kw == "" {
			continue
		}
		if matchesWord(lower, strings.ToLower(kw)) {
			return ClassMusic
		}
	}
	if rules.ArtistTitlePattern && artistTitleRE.MatchString(message) {
		return ClassMusic
	}
	return ClassGeneral
}

func matchesWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
