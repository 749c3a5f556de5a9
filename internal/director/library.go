package director

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Library grounding confidence levels.
const (
	ConfidenceNone  = "NONE"
	ConfidenceClose = "CLOSE"
	ConfidenceExact = "EXACT"
)

const (
	exactThreshold = 0.98
	closeThreshold = 0.82
)

// Track is one entry of the local library index.
type Track struct {
	Artist    string `json:"artist"`
	Title     string `json:"title"`
	Mix       string `json:"mix"`
	SearchKey string `json:"search_key"`
}

// Grounding is the result of matching a message against the library.
type Grounding struct {
	Confidence string
	Matches    []Track
	Block      string
}

// Library is an mtime-cached view over the JSON library index. A missing
// or unreadable index yields empty groundings, never errors.
type Library struct {
	path   string
	mtime  int64
	tracks []Track
}

// NewLibrary returns a library over the index at path.
func NewLibrary(path string) *Library {
	return &Library{path: path}
}

func (l *Library) load() []Track {
	if l == nil || l.path == "" {
		return nil
	}
	info, err := os.Stat(l.path)
	if err != nil {
		l.mtime = 0
		l.tracks = nil
		return nil
	}
	mtime := info.ModTime().UnixNano()
	if len(l.tracks) > 0 && l.mtime == mtime {
		return l.tracks
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		l.mtime = mtime
		l.tracks = nil
		return nil
	}
	var raw struct {
		Tracks []Track `json:"tracks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		l.mtime = mtime
		l.tracks = nil
		return nil
	}
	tracks := make([]Track, 0, len(raw.Tracks))
	for _, t := range raw.Tracks {
		tracks = append(tracks, Track{
			Artist:    strings.TrimSpace(t.Artist),
			Title:     strings.TrimSpace(t.Title),
			Mix:       strings.TrimSpace(t.Mix),
			SearchKey: strings.TrimSpace(t.SearchKey),
		})
	}
	l.mtime = mtime
	l.tracks = tracks
	return tracks
}

var (
	nonWordRE = regexp.MustCompile(`[^\w\s]+`)
	tokenRE   = regexp.MustCompile(`(?i)[a-z0-9]{3,}`)
	spacesRE  = regexp.MustCompile(`\s+`)
)

func normalizeText(value string) string {
	text := strings.ToLower(strings.TrimSpace(value))
	text = nonWordRE.ReplaceAllString(text, " ")
	return strings.TrimSpace(spacesRE.ReplaceAllString(text, " "))
}

// score rates query against candidate in [0,1]. Equality is 1.0 and
// containment floors at 0.9; otherwise a bigram overlap ratio.
func score(query, candidate string) float64 {
	if query == "" || candidate == "" {
		return 0
	}
	if query == candidate {
		return 1
	}
	ratio := bigramRatio(query, candidate)
	if strings.Contains(candidate, query) || strings.Contains(query, candidate) {
		if ratio < 0.9 {
			ratio = 0.9
		}
	}
	return ratio
}

func bigramRatio(a, b string) float64 {
	ga, gb := bigrams(a), bigrams(b)
	if len(ga) == 0 || len(gb) == 0 {
		return 0
	}
	overlap := 0
	for g, n := range ga {
		if m, ok := gb[g]; ok {
			if m < n {
				overlap += m
			} else {
				overlap += n
			}
		}
	}
	total := 0
	for _, n := range ga {
		total += n
	}
	for _, n := range gb {
		total += n
	}
	return 2 * float64(overlap) / float64(total)
}

func bigrams(s string) map[string]int {
	out := map[string]int{}
	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])]++
	}
	return out
}

func (t Track) key() string {
	if t.SearchKey != "" {
		return strings.ToLower(t.SearchKey)
	}
	return normalizeText(t.Artist + " - " + t.Title)
}

const (
	maxScanTracks    = 5000
	maxCandidates    = 600
	maxAnchorMatches = 200
)

// Ground matches message (optionally anchored on a known topic) against
// the library index.
func (l *Library) Ground(message, topicAnchor string) Grounding {
	tracks := l.load()
	if len(tracks) == 0 {
		return Grounding{Confidence: ConfidenceNone, Block: formatLibraryBlock(nil, ConfidenceNone)}
	}

	msgNorm := normalizeText(message)
	anchorNorm := normalizeText(topicAnchor)
	queryNorm := anchorNorm
	if queryNorm == "" {
		queryNorm = msgNorm
	}
	tokens := tokenRE.FindAllString(msgNorm, 4)

	var candidates []Track
	scan := tracks
	if len(scan) > maxScanTracks {
		scan = scan[:maxScanTracks]
	}
	for _, row := range scan {
		key := row.key()
		if anchorNorm != "" && !strings.Contains(key, anchorNorm) {
			continue
		}
		if len(tokens) > 0 && !anyTokenIn(key, tokens) && anchorNorm == "" {
			continue
		}
		row.SearchKey = key
		candidates = append(candidates, row)
		if len(candidates) >= maxCandidates {
			break
		}
	}
	if len(candidates) == 0 && anchorNorm != "" {
		for _, row := range scan {
			key := row.key()
			if strings.Contains(key, anchorNorm) {
				row.SearchKey = key
				candidates = append(candidates, row)
				if len(candidates) >= maxAnchorMatches {
					break
				}
			}
		}
	}
	if len(candidates) == 0 {
		return Grounding{Confidence: ConfidenceNone, Block: formatLibraryBlock(nil, ConfidenceNone)}
	}

	type scored struct {
		s   float64
		row Track
	}
	var ranked []scored
	for _, row := range candidates {
		if s := score(queryNorm, row.SearchKey); s > 0 {
			ranked = append(ranked, scored{s, row})
		}
	}
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].s > ranked[j-1].s; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	best := make([]Track, 0, 5)
	for i := 0; i < len(ranked) && i < 5; i++ {
		best = append(best, ranked[i].row)
	}
	conf := ConfidenceNone
	if len(ranked) > 0 {
		switch {
		case ranked[0].s >= exactThreshold:
			conf = ConfidenceExact
		case ranked[0].s >= closeThreshold:
			conf = ConfidenceClose
		}
	}
	return Grounding{Confidence: conf, Matches: best, Block: formatLibraryBlock(best, conf)}
}

func anyTokenIn(key string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(key, strings.ToLower(tok)) {
			return true
		}
	}
	return false
}

func formatLibraryBlock(matches []Track, confidence string) string {
	var lines []string
	for i, row := range matches {
		if i >= 5 {
			break
		}
		label := strings.Trim(fmt.Sprintf("%s - %s", row.Artist, row.Title), " -")
		if row.Mix != "" {
			label = fmt.Sprintf("%s (%s)", label, row.Mix)
		}
		if label != "" {
			lines = append(lines, "- "+label)
		}
	}
	if len(lines) == 0 {
		return "Library grounding (local): no close matches."
	}
	head := "Library grounding (local):"
	switch confidence {
	case ConfidenceExact:
		head = "Library grounding (local): exact match:"
	case ConfidenceClose:
		head = "Library grounding (local): possible matches:"
	}
	return head + "\n" + strings.Join(lines, "\n")
}
