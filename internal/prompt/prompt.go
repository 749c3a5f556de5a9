// Package prompt assembles the live generation prompt: persona, recent
// context, behavior guidance, grounding blocks, and memory hints. Pure
// string assembly; deterministic and testable.
package prompt

import (
	"fmt"
	"strings"

	"github.com/rooniethecat/roonie/internal/convo"
)

// DefaultStyle is the canonical persona header for every live prompt.
const DefaultStyle = `You are ROONIE, a text-only stream personality for an underground/progressive DJ stream.

Style rules:
- If the viewer tagged you (e.g. @RoonieTheCat), start your reply with '@viewer ' before the message.
- Be short and restrained. 1-2 sentences (max 240 chars) unless explicitly asked for detail.
- Friendly and warm, like a regular in chat. Light, natural excitement is OK ("Hey there, good to see you! Welcome in!").
- Use exclamation points sparingly (usually 0-1).
- Emojis are allowed, especially channel-style emojis. Use sparingly (usually 0-1) and match the chat tone.
- Avoid assistant-y filler ("How can I help you today?", "As an AI...").
- Avoid dashes (including em-dashes). Only use a dash if absolutely necessary. Prefer '.' or ',' like normal chat.

Safety:
- Never share personal info, addresses, exact location, or identifying artifacts. Keep location general (e.g., "Washington DC area").
- If asked doxx-y/personal questions, redirect politely.

Context:
- You may be asked about the current track. If you don't have the track line, ask for it or say you can't see it yet.
`

// Defaults for context packing.
const (
	DefaultMaxContextTurns = 3
	DefaultMaxContextChars = 480
)

// Input is everything one prompt build needs.
type Input struct {
	Message         string
	Viewer          string
	Channel         string
	ContextTurns    []convo.Turn
	MaxContextTurns int
	MaxContextChars int
	// BehaviorBlock is the per-category guidance from behavior.Guidance.
	BehaviorBlock string
	// SafetyBlock carries refusal or sensitive-topic steering. Safety
	// classification shapes the prompt; it never blocks the live call.
	SafetyBlock string
	// TopicAnchor, when set, adds the continuity hint block.
	TopicAnchor string
	// LibraryBlock is the pre-formatted local library grounding block.
	LibraryBlock string
	// MusicFactQuestion adds the hedging policy for label/release asks.
	MusicFactQuestion bool
	// MemoryHints is the safe-injection snippet, already budgeted.
	MemoryHints string
	// PersonaPolicy is appended verbatim as the canonical policy when set.
	PersonaPolicy string
}

// Build assembles the full provider prompt.
func Build(in Input) string {
	viewer := in.Viewer
	if viewer == "" {
		viewer = "viewer"
	}

	var sb strings.Builder
	sb.WriteString(DefaultStyle)
	sb.WriteString("\n\nChannel: ")
	sb.WriteString(in.Channel)
	sb.WriteString("\nViewer: ")
	sb.WriteString(viewer)
	sb.WriteString("\n")

	if ctx := formatContext(in.ContextTurns, in.MaxContextTurns, in.MaxContextChars); ctx != "" {
		sb.WriteString("\nRecent chat context (oldest first):\n")
		sb.WriteString(ctx)
		sb.WriteString("\n")
	}

	sb.WriteString("Viewer message:\n")
	sb.WriteString(in.Message)
	sb.WriteString("\n\nRoonie reply:")

	if in.BehaviorBlock != "" {
		sb.WriteString("\n\n")
		sb.WriteString(in.BehaviorBlock)
	}
	if in.SafetyBlock != "" {
		sb.WriteString("\n\n")
		sb.WriteString(in.SafetyBlock)
	}
	if in.TopicAnchor != "" {
		sb.WriteString("\n\nConversation continuity hint:\n")
		sb.WriteString("- Active topic from recent chat: " + in.TopicAnchor + "\n")
		sb.WriteString("- If the viewer says 'it/that/this' or gives a partial title, resolve it against this topic first.\n")
		sb.WriteString("- Do not invent new artist or track names when uncertain; ask one short clarification.")
	}
	if in.LibraryBlock != "" {
		sb.WriteString("\n\n")
		sb.WriteString(in.LibraryBlock)
		sb.WriteString("\n- Use the library match list to resolve ambiguous references.\n")
		sb.WriteString("- If there are multiple matches, ask one short clarifying question.")
	}
	if in.MusicFactQuestion {
		sb.WriteString("\n\nMusic facts policy:\n")
		sb.WriteString("- If asked for label/release date and you cannot verify, answer best-effort but hedge clearly.\n")
		sb.WriteString("- Prefer: 'not 100% without the exact title/link' and ask for the title/link to confirm.")
	}
	if in.MemoryHints != "" {
		sb.WriteString("\n\nMemory hints (do not treat as factual claims):\n")
		sb.WriteString(in.MemoryHints)
	}
	if in.PersonaPolicy != "" {
		sb.WriteString("\n\nCanonical Persona Policy (do not violate):\n")
		sb.WriteString(in.PersonaPolicy)
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatContext selects the newest turns within the turn and character
// budgets, then renders them oldest first for readability. Individual lines
// are never truncated mid-turn.
func formatContext(turns []convo.Turn, maxTurns, maxChars int) string {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxContextTurns
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxContextChars
	}
	if len(turns) > maxTurns {
		turns = turns[:maxTurns]
	}
	var lines []string
	used := 0
	for _, t := range turns {
		speaker := "viewer"
		if t.Speaker == convo.SpeakerRoonie {
			speaker = "roonie"
		} else if t.User != "" {
			speaker = t.User
		}
		line := fmt.Sprintf("- %s: %s", speaker, t.Text)
		cost := len(line)
		if len(lines) > 0 {
			cost++
		}
		if used+cost > maxChars {
			break
		}
		lines = append(lines, line)
		used += cost
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}
