package provider

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Manual override modes.
const (
	OverrideDefault     = "default"
	OverrideForceOpenAI = "force_openai"
	OverrideForceGrok   = "force_grok"
)

// General-route modes.
const (
	RouteModeSingle         = "single"
	RouteModeWeightedRandom = "weighted_random"
)

// ClassificationRules tunes the music/general split.
type ClassificationRules struct {
	MusicCultureKeywords []string `json:"music_culture_keywords"`
	ArtistTitlePattern   bool     `json:"artist_title_pattern"`
}

// RoutingConfig is the operator-controlled routing policy, persisted as
// JSON beside the provider runtime config.
type RoutingConfig struct {
	Version             int                 `json:"version"`
	Enabled             bool                `json:"enabled"`
	DefaultProvider     string              `json:"default_provider"`
	MusicRouteProvider  string              `json:"music_route_provider"`
	ModerationProvider  string              `json:"moderation_provider"`
	ManualOverride      string              `json:"manual_override"`
	GeneralRouteMode    string              `json:"general_route_mode"`
	ProviderWeights     map[string]int      `json:"provider_weights"`
	ClassificationRules ClassificationRules `json:"classification_rules"`
}

const routingConfigVersion = 1

// DefaultRoutingConfig returns the shipped routing policy: music questions
// to Grok, everything else to OpenAI, weights ready for the weighted mode.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		Version:            routingConfigVersion,
		Enabled:            true,
		DefaultProvider:    NameOpenAI,
		MusicRouteProvider: NameGrok,
		ModerationProvider: NameOpenAI,
		ManualOverride:     OverrideDefault,
		GeneralRouteMode:   RouteModeSingle,
		ProviderWeights:    map[string]int{NameGrok: 50, NameOpenAI: 25, NameAnthropic: 25},
		ClassificationRules: ClassificationRules{
			MusicCultureKeywords: []string{
				"track", "song", "tune", "mix", "set", "vinyl", "genre", "bpm",
				"remix", "label", "artist", "producer", "dj", "bassline", "drop",
			},
			ArtistTitlePattern: true,
		},
	}
}

// Normalize repairs a loaded config in place: unknown enum values fall back
// to defaults, negative weights clamp to zero, and an all-zero weight table
// resets to the shipped weights so the weighted mode can never divide by
// zero.
func (c *RoutingConfig) Normalize() {
	def := DefaultRoutingConfig()
	if c.Version == 0 {
		c.Version = routingConfigVersion
	}
	if !KnownProvider(c.DefaultProvider) || c.DefaultProvider == NameNone {
		c.DefaultProvider = def.DefaultProvider
	}
	if !KnownProvider(c.MusicRouteProvider) || c.MusicRouteProvider == NameNone {
		c.MusicRouteProvider = def.MusicRouteProvider
	}
	if !KnownProvider(c.ModerationProvider) || c.ModerationProvider == NameNone {
		c.ModerationProvider = def.ModerationProvider
	}
	switch c.ManualOverride {
	case OverrideDefault, OverrideForceOpenAI, OverrideForceGrok:
	default:
		c.ManualOverride = OverrideDefault
	}
	switch c.GeneralRouteMode {
	case RouteModeSingle, RouteModeWeightedRandom:
	default:
		c.GeneralRouteMode = RouteModeSingle
	}

	weights := make(map[string]int, len(KnownProviders))
	total := 0
	for _, name := range KnownProviders {
		w := c.ProviderWeights[name]
		if w < 0 {
			w = 0
		}
		weights[name] = w
		total += w
	}
	if total == 0 {
		weights = def.ProviderWeights
	}
	c.ProviderWeights = weights

	if len(c.ClassificationRules.MusicCultureKeywords) == 0 {
		c.ClassificationRules = def.ClassificationRules
	}
}

// RoutingStore persists RoutingConfig the same way ConfigStore persists the
// provider runtime state: mtime cache, atomic replace, reseed on corruption.
type RoutingStore struct {
	path   string
	mu     sync.Mutex
	cached *RoutingConfig
	mtime  time.Time
}

// NewRoutingStore returns a store over path.
func NewRoutingStore(path string) *RoutingStore {
	return &RoutingStore{path: path}
}

// Load returns the current normalized routing config.
func (s *RoutingStore) Load() (RoutingConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *RoutingStore) loadLocked() (RoutingConfig, error) {
	info, err := os.Stat(s.path)
	if err == nil && s.cached != nil && info.ModTime().Equal(s.mtime) {
		return *s.cached, nil
	}
	data, readErr := os.ReadFile(s.path)
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			return RoutingConfig{}, fmt.Errorf("read routing config: %w", readErr)
		}
		cfg := DefaultRoutingConfig()
		if err := s.saveLocked(cfg); err != nil {
			return RoutingConfig{}, err
		}
		return cfg, nil
	}
	var cfg RoutingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("[provider] routing config at %s unreadable, reseeding defaults", s.path)
		cfg = DefaultRoutingConfig()
	}
	cfg.Normalize()
	if err := s.saveLocked(cfg); err != nil {
		return RoutingConfig{}, err
	}
	return cfg, nil
}

func (s *RoutingStore) saveLocked(cfg RoutingConfig) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	// Compact, stable serialization keeps file diffs reproducible.
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal routing config: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write routing config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace routing config: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.mtime = info.ModTime()
	}
	s.cached = &cfg
	return nil
}

// RoutingControls is a partial update from an operator surface. Nil fields
// are left unchanged.
type RoutingControls struct {
	Enabled            *bool
	ManualOverride     *string
	DefaultProvider    *string
	MusicRouteProvider *string
	GeneralRouteMode   *string
	ProviderWeights    map[string]int
}

// UpdateControls validates and applies a partial update, returning the
// previous and the resulting config. Invalid values reject the whole
// update; self-healing normalization is reserved for loads, not for
// operator mistakes.
func (s *RoutingStore) UpdateControls(patch RoutingControls) (RoutingConfig, RoutingConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, err := s.loadLocked()
	if err != nil {
		return RoutingConfig{}, RoutingConfig{}, err
	}
	next := old
	next.ProviderWeights = make(map[string]int, len(old.ProviderWeights))
	for k, v := range old.ProviderWeights {
		next.ProviderWeights[k] = v
	}

	if patch.Enabled != nil {
		next.Enabled = *patch.Enabled
	}
	if patch.ManualOverride != nil {
		switch *patch.ManualOverride {
		case OverrideDefault, OverrideForceOpenAI, OverrideForceGrok:
			next.ManualOverride = *patch.ManualOverride
		default:
			return RoutingConfig{}, RoutingConfig{}, fmt.Errorf("invalid manual_override %q", *patch.ManualOverride)
		}
	}
	if patch.DefaultProvider != nil {
		if !KnownProvider(*patch.DefaultProvider) || *patch.DefaultProvider == NameNone {
			return RoutingConfig{}, RoutingConfig{}, fmt.Errorf("invalid default_provider %q", *patch.DefaultProvider)
		}
		next.DefaultProvider = *patch.DefaultProvider
	}
	if patch.MusicRouteProvider != nil {
		if !KnownProvider(*patch.MusicRouteProvider) || *patch.MusicRouteProvider == NameNone {
			return RoutingConfig{}, RoutingConfig{}, fmt.Errorf("invalid music_route_provider %q", *patch.MusicRouteProvider)
		}
		next.MusicRouteProvider = *patch.MusicRouteProvider
	}
	if patch.GeneralRouteMode != nil {
		switch *patch.GeneralRouteMode {
		case RouteModeSingle, RouteModeWeightedRandom:
			next.GeneralRouteMode = *patch.GeneralRouteMode
		default:
			return RoutingConfig{}, RoutingConfig{}, fmt.Errorf("invalid general_route_mode %q", *patch.GeneralRouteMode)
		}
	}
	if patch.ProviderWeights != nil {
		for name, w := range patch.ProviderWeights {
			if !KnownProvider(name) || name == NameNone {
				return RoutingConfig{}, RoutingConfig{}, fmt.Errorf("unknown provider in weights: %q", name)
			}
			if w < 0 {
				return RoutingConfig{}, RoutingConfig{}, fmt.Errorf("negative weight for %q", name)
			}
			next.ProviderWeights[name] = w
		}
	}

	next.Normalize()
	if err := s.saveLocked(next); err != nil {
		return RoutingConfig{}, RoutingConfig{}, err
	}
	return old, next, nil
}
