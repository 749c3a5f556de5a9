package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures the OpenAI-backed provider. The same adapter
// serves Grok by pointing BaseURL at the xAI endpoint; both speak the
// chat-completions wire format.
type OpenAIConfig struct {
	Name      string
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

type openAIProvider struct {
	name      string
	client    openai.Client
	model     string
	maxTokens int64
}

const defaultMaxTokens = 300

// NewOpenAI builds a live provider over the chat-completions API.
func NewOpenAI(cfg OpenAIConfig) (Provider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return &disabledProvider{name: cfg.Name}, nil
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &openAIProvider{
		name:      cfg.Name,
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
	}, nil
}

// NewGrok builds the Grok provider over the xAI chat-completions endpoint.
func NewGrok(apiKey, model string, maxTokens int) (Provider, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		key = os.Getenv("XAI_API_KEY")
	}
	if model == "" {
		model = "grok-3-mini"
	}
	return NewOpenAI(OpenAIConfig{
		Name:      NameGrok,
		APIKey:    key,
		Model:     model,
		BaseURL:   "https://api.x.ai/v1",
		MaxTokens: maxTokens,
	})
}

func (p *openAIProvider) Name() string  { return p.name }
func (p *openAIProvider) Enabled() bool { return true }

func (p *openAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(p.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", p.name, err)
	}
	if len(completion.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
