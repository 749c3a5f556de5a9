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

// Caps bounds daily spend through the live path.
type Caps struct {
	DailyRequestsMax int  `json:"daily_requests_max"`
	DailyTokensMax   int  `json:"daily_tokens_max"`
	HardStopOnCap    bool `json:"hard_stop_on_cap"`
}

// Usage is the running counter for the current broadcast day.
type Usage struct {
	Day      string `json:"day"`
	Requests int    `json:"requests"`
	Tokens   int    `json:"tokens"`
}

// RuntimeConfig is the operator-controlled provider state, persisted as a
// small JSON file so it survives restarts and can be edited by hand.
type RuntimeConfig struct {
	Version           int      `json:"version"`
	ActiveProvider    string   `json:"active_provider"`
	ApprovedProviders []string `json:"approved_providers"`
	Caps              Caps     `json:"caps"`
	Usage             Usage    `json:"usage"`
}

const runtimeConfigVersion = 1

// DefaultRuntimeConfig seeds a fresh runtime config: live path off until
// an operator approves a provider.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Version:           runtimeConfigVersion,
		ActiveProvider:    NameNone,
		ApprovedProviders: []string{NameOpenAI, NameGrok, NameAnthropic},
		Caps: Caps{
			DailyRequestsMax: 200,
			DailyTokensMax:   150000,
			HardStopOnCap:    true,
		},
		Usage: Usage{Day: TodayBroadcast()},
	}
}

// Broadcast days roll over on US Eastern midnight, matching the stream
// schedule rather than UTC.
var broadcastTZ = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// TodayBroadcast returns the current broadcast day as YYYY-MM-DD.
func TodayBroadcast() string {
	return time.Now().In(broadcastTZ).Format("2006-01-02")
}

// ConfigStore persists RuntimeConfig with mtime-based read caching and
// atomic writes. Missing or corrupt files reseed with defaults instead of
// failing the pipeline.
type ConfigStore struct {
	path   string
	mu     sync.Mutex
	cached *RuntimeConfig
	mtime  time.Time

	today func() string
}

// NewConfigStore returns a store over path. The file is created lazily on
// first Load or Update.
func NewConfigStore(path string) *ConfigStore {
	return &ConfigStore{path: path, today: TodayBroadcast}
}

// Load returns the current config, reseeding on missing or corrupt state
// and rolling usage over on day change.
func (s *ConfigStore) Load() (RuntimeConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.loadLocked()
	if err != nil {
		return RuntimeConfig{}, err
	}
	if cfg.Usage.Day != s.today() {
		cfg.Usage = Usage{Day: s.today()}
		if err := s.saveLocked(cfg); err != nil {
			return RuntimeConfig{}, err
		}
	}
	return cfg, nil
}

func (s *ConfigStore) loadLocked() (RuntimeConfig, error) {
	info, err := os.Stat(s.path)
	if err == nil && s.cached != nil && info.ModTime().Equal(s.mtime) {
		return *s.cached, nil
	}
	data, readErr := os.ReadFile(s.path)
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			return RuntimeConfig{}, fmt.Errorf("read provider config: %w", readErr)
		}
		cfg := DefaultRuntimeConfig()
		if err := s.saveLocked(cfg); err != nil {
			return RuntimeConfig{}, err
		}
		return cfg, nil
	}
	var cfg RuntimeConfig
	if err := json.Unmarshal(data, &cfg); err != nil || cfg.ActiveProvider == "" {
		log.Printf("[provider] config at %s unreadable, reseeding defaults", s.path)
		cfg = DefaultRuntimeConfig()
	}
	if err := s.saveLocked(cfg); err != nil {
		return RuntimeConfig{}, err
	}
	return cfg, nil
}

func (s *ConfigStore) saveLocked(cfg RuntimeConfig) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	// Compact, stable serialization keeps file diffs reproducible.
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal provider config: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write provider config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace provider config: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.mtime = info.ModTime()
	}
	s.cached = &cfg
	return nil
}

// Update applies fn to the current config under the store lock and
// persists the result atomically.
func (s *ConfigStore) Update(fn func(*RuntimeConfig) error) (RuntimeConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.loadLocked()
	if err != nil {
		return RuntimeConfig{}, err
	}
	if cfg.Usage.Day != s.today() {
		cfg.Usage = Usage{Day: s.today()}
	}
	if err := fn(&cfg); err != nil {
		return RuntimeConfig{}, err
	}
	if err := s.saveLocked(cfg); err != nil {
		return RuntimeConfig{}, err
	}
	return cfg, nil
}

// SetActiveProvider switches the live provider. The name must be known and
// approved; validation failures surface to the caller and leave the file
// untouched.
func (s *ConfigStore) SetActiveProvider(name string) (RuntimeConfig, error) {
	return s.Update(func(cfg *RuntimeConfig) error {
		if !KnownProvider(name) {
			return fmt.Errorf("unknown provider %q", name)
		}
		if name != NameNone && !contains(cfg.ApprovedProviders, name) {
			return fmt.Errorf("provider %q not approved", name)
		}
		cfg.ActiveProvider = name
		return nil
	})
}

// SetCaps replaces the daily caps. Negative values are rejected.
func (s *ConfigStore) SetCaps(caps Caps) (RuntimeConfig, error) {
	return s.Update(func(cfg *RuntimeConfig) error {
		if caps.DailyRequestsMax < 0 || caps.DailyTokensMax < 0 {
			return fmt.Errorf("caps must be non-negative")
		}
		cfg.Caps = caps
		return nil
	})
}

// CapReached reports whether today's usage has hit either cap.
func (cfg RuntimeConfig) CapReached() bool {
	if cfg.Caps.DailyRequestsMax > 0 && cfg.Usage.Requests >= cfg.Caps.DailyRequestsMax {
		return true
	}
	if cfg.Caps.DailyTokensMax > 0 && cfg.Usage.Tokens >= cfg.Caps.DailyTokensMax {
		return true
	}
	return false
}

// RecordUsage adds one request and the token estimate to today's counter.
func (s *ConfigStore) RecordUsage(tokens int) error {
	_, err := s.Update(func(cfg *RuntimeConfig) error {
		cfg.Usage.Requests++
		cfg.Usage.Tokens += tokens
		return nil
	})
	return err
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
