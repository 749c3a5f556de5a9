package provider

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigStoreSeedsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	s := NewConfigStore(path)
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ActiveProvider != NameNone {
		t.Fatalf("ActiveProvider = %q, want none", cfg.ActiveProvider)
	}
	if !cfg.Caps.HardStopOnCap {
		t.Fatal("HardStopOnCap default should be true")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
}

func TestConfigStoreReseedsOnCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewConfigStore(path)
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ActiveProvider != NameNone {
		t.Fatalf("ActiveProvider = %q after reseed", cfg.ActiveProvider)
	}
}

func TestConfigStoreUsageRollsOverOnNewDay(t *testing.T) {
	s := NewConfigStore(filepath.Join(t.TempDir(), "providers.json"))
	s.today = func() string { return "2026-03-01" }
	if _, err := s.Update(func(cfg *RuntimeConfig) error {
		cfg.Usage = Usage{Day: "2026-03-01", Requests: 50, Tokens: 9000}
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	s.today = func() string { return "2026-03-02" }
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Usage.Day != "2026-03-02" || cfg.Usage.Requests != 0 || cfg.Usage.Tokens != 0 {
		t.Fatalf("Usage after rollover = %+v", cfg.Usage)
	}
}

func TestSetActiveProviderValidates(t *testing.T) {
	s := NewConfigStore(filepath.Join(t.TempDir(), "providers.json"))
	if _, err := s.SetActiveProvider("bard"); err == nil {
		t.Fatal("unknown provider accepted")
	}
	if _, err := s.Update(func(cfg *RuntimeConfig) error {
		cfg.ApprovedProviders = []string{NameOpenAI}
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := s.SetActiveProvider(NameGrok); err == nil {
		t.Fatal("unapproved provider accepted")
	}
	cfg, err := s.SetActiveProvider(NameOpenAI)
	if err != nil {
		t.Fatalf("SetActiveProvider: %v", err)
	}
	if cfg.ActiveProvider != NameOpenAI {
		t.Fatalf("ActiveProvider = %q", cfg.ActiveProvider)
	}
	// "none" is always settable.
	if _, err := s.SetActiveProvider(NameNone); err != nil {
		t.Fatalf("SetActiveProvider(none): %v", err)
	}
}

func TestSetCapsRejectsNegatives(t *testing.T) {
	s := NewConfigStore(filepath.Join(t.TempDir(), "providers.json"))
	if _, err := s.SetCaps(Caps{DailyRequestsMax: -1}); err == nil {
		t.Fatal("negative cap accepted")
	}
	cfg, err := s.SetCaps(Caps{DailyRequestsMax: 10, DailyTokensMax: 1000, HardStopOnCap: true})
	if err != nil {
		t.Fatalf("SetCaps: %v", err)
	}
	if cfg.Caps.DailyRequestsMax != 10 {
		t.Fatalf("Caps = %+v", cfg.Caps)
	}
}

func TestCapReached(t *testing.T) {
	cfg := RuntimeConfig{Caps: Caps{DailyRequestsMax: 10, DailyTokensMax: 100}}
	if cfg.CapReached() {
		t.Fatal("fresh usage reported capped")
	}
	cfg.Usage.Requests = 10
	if !cfg.CapReached() {
		t.Fatal("request cap not detected")
	}
	cfg.Usage.Requests = 0
	cfg.Usage.Tokens = 100
	if !cfg.CapReached() {
		t.Fatal("token cap not detected")
	}
	// Zero caps mean unlimited.
	cfg = RuntimeConfig{Usage: Usage{Requests: 9999, Tokens: 999999}}
	if cfg.CapReached() {
		t.Fatal("zero caps should be unlimited")
	}
}

func TestRecordUsageAccumulates(t *testing.T) {
	s := NewConfigStore(filepath.Join(t.TempDir(), "providers.json"))
	if err := s.RecordUsage(120); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := s.RecordUsage(80); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Usage.Requests != 2 || cfg.Usage.Tokens != 200 {
		t.Fatalf("Usage = %+v", cfg.Usage)
	}
}
