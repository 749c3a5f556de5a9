package provider

import (
	"fmt"
	"log"
)

// Credentials carries the per-provider API keys and model overrides used
// when building live providers.
type Credentials struct {
	OpenAIKey      string
	OpenAIModel    string
	AnthropicKey   string
	AnthropicModel string
	GrokKey        string
	GrokModel      string
	MaxTokens      int
}

// Registry holds the constructed providers by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds providers for every known name. Offline mode swaps
// every backend for its stub so the routing path stays exercised without
// network access. Live providers missing credentials come up disabled.
func NewRegistry(offline bool, creds Credentials) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider)}
	if offline {
		for _, name := range KnownProviders {
			r.providers[name] = NewStub(name)
		}
		return r, nil
	}

	oa, err := NewOpenAI(OpenAIConfig{
		Name:      NameOpenAI,
		APIKey:    creds.OpenAIKey,
		Model:     creds.OpenAIModel,
		MaxTokens: creds.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("init openai provider: %w", err)
	}
	r.providers[NameOpenAI] = oa

	grok, err := NewGrok(creds.GrokKey, creds.GrokModel, creds.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("init grok provider: %w", err)
	}
	r.providers[NameGrok] = grok

	an, err := NewAnthropic(AnthropicConfig{
		APIKey:    creds.AnthropicKey,
		Model:     creds.AnthropicModel,
		MaxTokens: creds.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("init anthropic provider: %w", err)
	}
	r.providers[NameAnthropic] = an

	for name, p := range r.providers {
		if !p.Enabled() {
			log.Printf("[provider] %s has no credentials, disabled", name)
		}
	}
	return r, nil
}

// NewRegistryWith builds a registry from explicit providers, for tests and
// custom wiring.
func NewRegistryWith(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under name, or nil. The "none"
// sentinel always resolves to nil.
func (r *Registry) Get(name string) Provider {
	if name == NameNone {
		return nil
	}
	return r.providers[name]
}

// Names returns the registered provider names in canonical order.
func (r *Registry) Names() []string {
	var out []string
	for _, name := range KnownProviders {
		if _, ok := r.providers[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
