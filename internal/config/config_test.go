package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/san-kum/odectl/internal/simulation"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model != "pendulum" {
		t.Errorf("expected model pendulum, got %s", cfg.Model)
	}
	if cfg.Settings() != simulation.DefaultSettings() {
		t.Errorf("expected default settings, got %+v", cfg.Settings())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to validate, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	data := `model: decay
options:
  execution_time_limit: 1m30s
  check_for_negative_values: false
parameters:
  k: 0.25
output:
  entities: [y, conc]
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "decay" {
		t.Errorf("expected model decay, got %s", cfg.Model)
	}
	if cfg.Options.ExecutionTimeLimit != 90*time.Second {
		t.Errorf("expected 1m30s time limit, got %s", cfg.Options.ExecutionTimeLimit)
	}
	if cfg.Options.CheckForNegativeValues {
		t.Error("expected negative value check disabled")
	}
	if !cfg.Options.StopOnWarnings {
		t.Error("expected unset options to keep their defaults")
	}
	if cfg.Parameters["k"] != 0.25 {
		t.Errorf("expected k=0.25, got %f", cfg.Parameters["k"])
	}
	if len(cfg.Output.Entities) != 2 {
		t.Errorf("expected 2 output entities, got %d", len(cfg.Output.Entities))
	}
}

func TestLoadPreset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	if err := os.WriteFile(path, []byte("model: exponential\npreset: fast\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Options.ExecutionTimeLimit != 30*time.Second {
		t.Errorf("expected fast preset time limit, got %s", cfg.Options.ExecutionTimeLimit)
	}

	if err := os.WriteFile(path, []byte("model: exponential\npreset: nope\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	cfg := DefaultConfig()
	cfg.Model = "dosing"
	cfg.Options.ExecutionTimeLimit = 5 * time.Second
	cfg.Species = map[string]float64{"amount": 1}

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Model != "dosing" || got.Options.ExecutionTimeLimit != 5*time.Second || got.Species["amount"] != 1 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no model", func(c *Config) { c.Model = "" }},
		{"negative limit", func(c *Config) { c.Options.ExecutionTimeLimit = -time.Second }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestApplyPreset(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.ApplyPreset("strict"); err != nil {
		t.Fatal(err)
	}
	s := cfg.Settings()
	if !s.ValidateWithXMLSchema || s.AutoReduceTolerances {
		t.Errorf("expected strict profile, got %+v", s)
	}
	if cfg.ApplyPreset("nonexistent") == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestGetPreset(t *testing.T) {
	cfg := GetPreset("pendulum", "small")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.Species["theta"] != 0.2 {
		t.Errorf("expected theta 0.2, got %f", cfg.Species["theta"])
	}
}

func TestGetPreset_NotFound(t *testing.T) {
	cfg := GetPreset("pendulum", "nonexistent")
	if cfg != nil {
		t.Error("expected nil for nonexistent preset")
	}

	cfg = GetPreset("nonexistent", "small")
	if cfg != nil {
		t.Error("expected nil for nonexistent model")
	}
}

func TestListPresets(t *testing.T) {
	presets := ListPresets("pendulum")
	if len(presets) != 3 || presets[0] != "large" {
		t.Errorf("expected sorted pendulum presets, got %v", presets)
	}

	presets = ListPresets("nonexistent")
	if presets != nil {
		t.Error("expected nil for nonexistent model")
	}

	if got := ListOptionPresets(); len(got) != 3 || got[0] != "fast" {
		t.Errorf("expected sorted option presets, got %v", got)
	}
}
