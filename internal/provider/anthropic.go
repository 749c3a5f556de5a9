package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Anthropic-backed provider.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

type anthropicProvider struct {
	client    anthropicsdk.Client
	model     anthropicsdk.Model
	maxTokens int64
}

// NewAnthropic builds a live provider over the Messages API.
func NewAnthropic(cfg AnthropicConfig) (Provider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return &disabledProvider{name: NameAnthropic}, nil
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &anthropicProvider{
		client:    anthropicsdk.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropicsdk.Model(model),
		maxTokens: int64(maxTokens),
	}, nil
}

func (p *anthropicProvider) Name() string  { return NameAnthropic }
func (p *anthropicProvider) Enabled() bool { return true }

func (p *anthropicProvider) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropicsdk.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages: []anthropicsdk.MessageParam{
			{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(prompt)},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic message: %w", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
