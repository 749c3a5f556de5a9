// Package provider routes response generation across LLM backends: a
// registry of named providers, weighted selection, cost caps, output
// moderation, shadow sampling, and per-provider metrics.
package provider

import (
	"context"
	"fmt"
)

// Provider generates one response for one prompt. An empty string with a
// nil error means the provider chose silence; callers treat that as a
// successful no-response.
type Provider interface {
	Name() string
	Enabled() bool
	Generate(ctx context.Context, prompt string) (string, error)
}

// Known provider names. "none" is a valid active provider meaning the bot
// never speaks through the live path.
const (
	NameOpenAI    = "openai"
	NameGrok      = "grok"
	NameAnthropic = "anthropic"
	NameNone      = "none"
)

// KnownProviders lists every routable provider name, in canonical order.
var KnownProviders = []string{NameOpenAI, NameGrok, NameAnthropic}

// KnownProvider reports whether name is routable or the "none" sentinel.
func KnownProvider(name string) bool {
	if name == NameNone {
		return true
	}
	for _, n := range KnownProviders {
		if n == name {
			return true
		}
	}
	return false
}

// stubProvider echoes the prompt behind a fixed tag. Used offline and in
// tests so the full routing path runs without network access.
type stubProvider struct {
	name string
}

func (p *stubProvider) Name() string    { return p.name }
func (p *stubProvider) Enabled() bool   { return true }
func (p *stubProvider) Generate(_ context.Context, prompt string) (string, error) {
	return fmt.Sprintf("[%s stub] %s", p.name, prompt), nil
}

// NewStub returns the offline stand-in for a named provider.
func NewStub(name string) Provider {
	return &stubProvider{name: name}
}

// IsStubOutput reports whether text came from a stub provider.
func IsStubOutput(text string) bool {
	for _, n := range KnownProviders {
		if len(text) > len(n)+8 && text[:len(n)+8] == "["+n+" stub] " {
			return true
		}
	}
	return false
}

// StubPrefix returns the tag a stub for name emits.
func StubPrefix(name string) string {
	return "[" + name + " stub] "
}

// disabledProvider is registered for providers without credentials. It is
// never called by the router; Enabled() false short-circuits to silence.
type disabledProvider struct {
	name string
}

func (p *disabledProvider) Name() string  { return p.name }
func (p *disabledProvider) Enabled() bool { return false }
func (p *disabledProvider) Generate(context.Context, string) (string, error) {
	return "", fmt.Errorf("provider %s disabled", p.name)
}
