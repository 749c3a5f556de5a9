package provider

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestRoutingConfigNormalizeClampsNegativeWeights(t *testing.T) {
	cfg := DefaultRoutingConfig()
	cfg.ProviderWeights = map[string]int{NameGrok: -10, NameOpenAI: 70, NameAnthropic: 30}
	cfg.Normalize()
	if cfg.ProviderWeights[NameGrok] != 0 {
		t.Fatalf("grok weight = %d, want clamped to 0", cfg.ProviderWeights[NameGrok])
	}
	if cfg.ProviderWeights[NameOpenAI] != 70 {
		t.Fatalf("openai weight = %d", cfg.ProviderWeights[NameOpenAI])
	}
}

func TestRoutingConfigNormalizeResetsAllZeroWeights(t *testing.T) {
	cfg := DefaultRoutingConfig()
	cfg.ProviderWeights = map[string]int{NameGrok: 0, NameOpenAI: 0, NameAnthropic: 0}
	cfg.Normalize()
	def := DefaultRoutingConfig()
	for name, want := range def.ProviderWeights {
		if cfg.ProviderWeights[name] != want {
			t.Fatalf("weight[%s] = %d, want default %d", name, cfg.ProviderWeights[name], want)
		}
	}
}

func TestRoutingConfigNormalizeRepairsEnums(t *testing.T) {
	cfg := DefaultRoutingConfig()
	cfg.ManualOverride = "force_bard"
	cfg.GeneralRouteMode = "roulette"
	cfg.DefaultProvider = "bard"
	cfg.Normalize()
	if cfg.ManualOverride != OverrideDefault {
		t.Fatalf("ManualOverride = %q", cfg.ManualOverride)
	}
	if cfg.GeneralRouteMode != RouteModeSingle {
		t.Fatalf("GeneralRouteMode = %q", cfg.GeneralRouteMode)
	}
	if cfg.DefaultProvider != NameOpenAI {
		t.Fatalf("DefaultProvider = %q", cfg.DefaultProvider)
	}
}

func TestRoutingStoreSeedsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.json")
	s := NewRoutingStore(path)
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Enabled || cfg.MusicRouteProvider != NameGrok {
		t.Fatalf("seeded config = %+v", cfg)
	}

	// Hand-edited file is picked up by mtime.
	data, _ := os.ReadFile(path)
	var onDisk RoutingConfig
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("unmarshal on-disk config: %v", err)
	}
	if onDisk.DefaultProvider != NameOpenAI {
		t.Fatalf("on-disk DefaultProvider = %q", onDisk.DefaultProvider)
	}
}

func TestRoutingStoreReseedsOnCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := NewRoutingStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProvider != NameOpenAI {
		t.Fatalf("reseeded config = %+v", cfg)
	}
}

func TestUpdateControlsRejectsInvalidValues(t *testing.T) {
	s := NewRoutingStore(filepath.Join(t.TempDir(), "routing.json"))

	bad := "force_bard"
	if _, _, err := s.UpdateControls(RoutingControls{ManualOverride: &bad}); err == nil {
		t.Fatal("invalid manual_override accepted")
	}
	badProv := "bard"
	if _, _, err := s.UpdateControls(RoutingControls{DefaultProvider: &badProv}); err == nil {
		t.Fatal("invalid default_provider accepted")
	}
	if _, _, err := s.UpdateControls(RoutingControls{ProviderWeights: map[string]int{NameGrok: -5}}); err == nil {
		t.Fatal("negative weight accepted")
	}
	// Failed updates leave the stored config untouched.
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ManualOverride != OverrideDefault {
		t.Fatalf("ManualOverride = %q after rejected updates", cfg.ManualOverride)
	}
}

func TestUpdateControlsAppliesPartialPatch(t *testing.T) {
	s := NewRoutingStore(filepath.Join(t.TempDir(), "routing.json"))
	mode := RouteModeWeightedRandom
	old, next, err := s.UpdateControls(RoutingControls{
		GeneralRouteMode: &mode,
		ProviderWeights:  map[string]int{NameAnthropic: 10},
	})
	if err != nil {
		t.Fatalf("UpdateControls: %v", err)
	}
	if old.GeneralRouteMode != RouteModeSingle {
		t.Fatalf("old mode = %q", old.GeneralRouteMode)
	}
	if next.GeneralRouteMode != RouteModeWeightedRandom {
		t.Fatalf("next mode = %q", next.GeneralRouteMode)
	}
	if next.ProviderWeights[NameAnthropic] != 10 {
		t.Fatalf("anthropic weight = %d", next.ProviderWeights[NameAnthropic])
	}
	// Untouched weights survive.
	if next.ProviderWeights[NameGrok] != 50 {
		t.Fatalf("grok weight = %d", next.ProviderWeights[NameGrok])
	}
}
