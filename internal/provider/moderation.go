package provider

import (
	"context"
	"log"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Moderation outcomes as recorded in traces.
const (
	ModerationAllowed  = "allowed"
	ModerationBlocked  = "blocked"
	ModerationAPIError = "api_error_fail_open"
	ModerationSkipped  = "skipped"
)

// ModerationVerdict is the result of checking one proposed output.
type ModerationVerdict struct {
	Allowed  bool
	Status   string
	Category string
}

// Moderator screens provider output before it can be sent.
type Moderator interface {
	Check(ctx context.Context, text string) ModerationVerdict
}

// BlocklistModerator is the deterministic moderator used offline and in
// tests: a fixed phrase list, no network.
type BlocklistModerator struct {
	Phrases []string
}

// DefaultBlocklist covers the phrases the offline moderation path screens.
var DefaultBlocklist = []string{
	"kill yourself",
	"kys",
	"slur",
	"nazi",
	"doxx",
}

// NewBlocklistModerator returns a moderator over phrases, falling back to
// the default list when phrases is empty.
func NewBlocklistModerator(phrases []string) *BlocklistModerator {
	if len(phrases) == 0 {
		phrases = DefaultBlocklist
	}
	return &BlocklistModerator{Phrases: phrases}
}

func (m *BlocklistModerator) Check(_ context.Context, text string) ModerationVerdict {
	lower := strings.ToLower(text)
	for _, phrase := range m.Phrases {
		if strings.Contains(lower, phrase) {
			return ModerationVerdict{Allowed: false, Status: ModerationBlocked, Category: "blocklist"}
		}
	}
	return ModerationVerdict{Allowed: true, Status: ModerationAllowed}
}

// OpenAIModerator screens output through the OpenAI moderation endpoint.
// API failures fail open: a broken moderation service must not silence the
// bot, but the fail-open is flagged in the verdict for the trace.
type OpenAIModerator struct {
	client openai.Client
}

// NewOpenAIModerator returns a live moderator, or nil when no key is
// available.
func NewOpenAIModerator(apiKey string) *OpenAIModerator {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil
	}
	return &OpenAIModerator{client: openai.NewClient(option.WithAPIKey(key))}
}

func (m *OpenAIModerator) Check(ctx context.Context, text string) ModerationVerdict {
	resp, err := m.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.ModerationModelOmniModerationLatest,
	})
	if err != nil {
		log.Printf("[provider] moderation api error, failing open: %v", err)
		return ModerationVerdict{Allowed: true, Status: ModerationAPIError}
	}
	if len(resp.Results) == 0 {
		return ModerationVerdict{Allowed: true, Status: ModerationAllowed}
	}
	res := resp.Results[0]
	if res.Flagged {
		return ModerationVerdict{Allowed: false, Status: ModerationBlocked, Category: flaggedCategory(res)}
	}
	return ModerationVerdict{Allowed: true, Status: ModerationAllowed}
}

func flaggedCategory(res openai.Moderation) string {
	switch {
	case res.Categories.Harassment:
		return "harassment"
	case res.Categories.Hate:
		return "hate"
	case res.Categories.SelfHarm:
		return "self_harm"
	case res.Categories.Sexual:
		return "sexual"
	case res.Categories.Violence:
		return "violence"
	}
	return "flagged"
}
