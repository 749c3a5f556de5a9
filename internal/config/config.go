// Package config loads the bot configuration: built-in defaults, optional
// ~/.roonie/config.json, then environment overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultBotName         = "roonie"
	DefaultChatID          = "rooniethecat"
	DefaultBufSize         = 100
	DefaultEmitEverySecs   = 6
	DefaultSilenceTTLSecs  = 300
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultGrokModel       = "grok-3-mini"
	DefaultAnthropicModel  = "claude-3-5-haiku-latest"
	DefaultReplyMaxTokens  = 300
)

type Config struct {
	Bot       BotConfig       `json:"bot"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Memory    MemoryConfig    `json:"memory"`
	Gate      GateConfig      `json:"gate"`
	Gateway   GatewayConfig   `json:"gateway"`
}

type BotConfig struct {
	Name string `json:"name"`
	// PersonaPolicyPath points at the canonical persona policy text appended
	// to every live prompt. Missing file means no policy block.
	PersonaPolicyPath string `json:"personaPolicyPath,omitempty"`
	LibraryIndexPath  string `json:"libraryIndexPath,omitempty"`
	// DataDir holds runtime state: memory DB, provider/routing config,
	// shadow log.
	DataDir string `json:"dataDir,omitempty"`
}

type ChannelsConfig struct {
	Console ConsoleConfig `json:"console"`
}

type ConsoleConfig struct {
	Enabled bool   `json:"enabled"`
	ChatID  string `json:"chatId,omitempty"`
}

type ProvidersConfig struct {
	// Offline swaps every live adapter for a deterministic stub.
	Offline   bool           `json:"offline"`
	OpenAI    ProviderConfig `json:"openai"`
	Grok      ProviderConfig `json:"grok"`
	Anthropic ProviderConfig `json:"anthropic"`
	// SanitizeStubOutput rewrites stub echoes into canned chat lines.
	SanitizeStubOutput bool `json:"sanitizeStubOutput,omitempty"`
}

type ProviderConfig struct {
	APIKey    string `json:"apiKey,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

type MemoryConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

type GateConfig struct {
	EmitEverySeconds  int  `json:"emitEverySeconds"`
	SilenceTTLSeconds int  `json:"silenceTtlSeconds"`
	DryRun            bool `json:"dryRun"`
}

type GatewayConfig struct {
	BufSize int `json:"bufSize"`
}

func DefaultConfig() *Config {
	dataDir := filepath.Join(ConfigDir(), "data")
	return &Config{
		Bot: BotConfig{
			Name:              DefaultBotName,
			PersonaPolicyPath: filepath.Join(ConfigDir(), "persona_policy.txt"),
			LibraryIndexPath:  filepath.Join(dataDir, "library", "library_index.json"),
			DataDir:           dataDir,
		},
		Channels: ChannelsConfig{
			Console: ConsoleConfig{Enabled: true, ChatID: DefaultChatID},
		},
		Providers: ProvidersConfig{
			Offline:   true,
			OpenAI:    ProviderConfig{Model: DefaultOpenAIModel, MaxTokens: DefaultReplyMaxTokens},
			Grok:      ProviderConfig{Model: DefaultGrokModel, MaxTokens: DefaultReplyMaxTokens},
			Anthropic: ProviderConfig{Model: DefaultAnthropicModel, MaxTokens: DefaultReplyMaxTokens},
		},
		Memory: MemoryConfig{
			DBPath: filepath.Join(dataDir, "memory.sqlite"),
		},
		Gate: GateConfig{
			EmitEverySeconds:  DefaultEmitEverySecs,
			SilenceTTLSeconds: DefaultSilenceTTLSecs,
		},
		Gateway: GatewayConfig{BufSize: DefaultBufSize},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".roonie")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// RuntimeConfigPath is where the provider runtime state (active provider,
// caps, usage) persists.
func (c *Config) RuntimeConfigPath() string {
	return filepath.Join(c.Bot.DataDir, "provider_config.json")
}

// RoutingConfigPath is where the routing controls persist.
func (c *Config) RoutingConfigPath() string {
	return filepath.Join(c.Bot.DataDir, "routing_config.json")
}

// ShadowLogPath is the JSONL shadow-comparison sink.
func (c *Config) ShadowLogPath() string {
	return filepath.Join(c.Bot.DataDir, "shadow", "shadow.jsonl")
}

func envBool(name string) (bool, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return false, false
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	if parsed, err := strconv.ParseBool(raw); err == nil {
		return parsed, true
	}
	return false, false
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = key
	}
	if key := os.Getenv("XAI_API_KEY"); key != "" && cfg.Providers.Grok.APIKey == "" {
		cfg.Providers.Grok.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Providers.Anthropic.APIKey == "" {
		cfg.Providers.Anthropic.APIKey = key
	}
	if on, ok := envBool("ROONIE_ENABLE_LIVE_PROVIDER_NETWORK"); ok {
		cfg.Providers.Offline = !on
	}
	if on, ok := envBool("ROONIE_SANITIZE_PROVIDER_STUB_OUTPUT"); ok {
		cfg.Providers.SanitizeStubOutput = on
	}
	if dir := os.Getenv("ROONIE_DATA_DIR"); dir != "" {
		cfg.Bot.DataDir = dir
		cfg.Memory.DBPath = filepath.Join(dir, "memory.sqlite")
		cfg.Bot.LibraryIndexPath = filepath.Join(dir, "library", "library_index.json")
	}
	if path := os.Getenv("ROONIE_MEMORY_DB_PATH"); path != "" {
		cfg.Memory.DBPath = path
	}
	if path := os.Getenv("ROONIE_LIBRARY_INDEX_PATH"); path != "" {
		cfg.Bot.LibraryIndexPath = path
	}
	if path := os.Getenv("ROONIE_PERSONA_POLICY_PATH"); path != "" {
		cfg.Bot.PersonaPolicyPath = path
	}
	if raw := os.Getenv("ROONIE_OUTPUT_RATE_LIMIT_SECONDS"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			cfg.Gate.EmitEverySeconds = parsed
		}
	}
	if raw := os.Getenv("ROONIE_SILENCE_TTL_SECONDS"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.Gate.SilenceTTLSeconds = parsed
		}
	}
	if on, ok := envBool("ROONIE_DRY_RUN"); ok && on {
		cfg.Gate.DryRun = true
	}
	if on, ok := envBool("ROONIE_READ_ONLY_MODE"); ok && on {
		cfg.Gate.DryRun = true
	}
	if chat := os.Getenv("TWITCH_CHANNEL"); chat != "" {
		cfg.Channels.Console.ChatID = chat
	}

	if cfg.Bot.Name == "" {
		cfg.Bot.Name = DefaultBotName
	}
	if cfg.Bot.DataDir == "" {
		cfg.Bot.DataDir = DefaultConfig().Bot.DataDir
	}
	if cfg.Gateway.BufSize <= 0 {
		cfg.Gateway.BufSize = DefaultBufSize
	}
	if cfg.Gate.EmitEverySeconds < 0 {
		cfg.Gate.EmitEverySeconds = DefaultEmitEverySecs
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
