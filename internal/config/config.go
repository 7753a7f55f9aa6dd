package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/odectl/internal/simulation"
)

const (
	DefaultModel   = "pendulum"
	DefaultWorkers = 4
)

// Config describes one run: the model, engine options and value overrides.
type Config struct {
	// Model is a built-in model name or the path of a model document.
	Model      string             `yaml:"model"`
	Preset     string             `yaml:"preset,omitempty"`
	Options    OptionsConfig      `yaml:"options"`
	Parameters map[string]float64 `yaml:"parameters,omitempty"`
	Species    map[string]float64 `yaml:"species,omitempty"`
	Output     OutputConfig       `yaml:"output"`
	Workers    int                `yaml:"workers"`
}

type OptionsConfig struct {
	ShowProgress           bool          `yaml:"show_progress"`
	ExecutionTimeLimit     time.Duration `yaml:"execution_time_limit"`
	StopOnWarnings         bool          `yaml:"stop_on_warnings"`
	AutoReduceTolerances   bool          `yaml:"auto_reduce_tolerances"`
	WriteLogFile           bool          `yaml:"write_log_file"`
	CheckForNegativeValues bool          `yaml:"check_for_negative_values"`
	ValidateWithXMLSchema  bool          `yaml:"validate_with_xml_schema"`
	IdentifyUsedParameters bool          `yaml:"identify_used_parameters"`
	KeepXMLNodeAsString    bool          `yaml:"keep_xml_node_as_string"`
	FloatTimeComparison    bool          `yaml:"float_time_comparison"`
}

type OutputConfig struct {
	// Dir overrides the run store directory.
	Dir      string   `yaml:"dir,omitempty"`
	Entities []string `yaml:"entities,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Model:   DefaultModel,
		Options: FromSettings(simulation.DefaultSettings()),
		Workers: DefaultWorkers,
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Preset != "" {
		if err := cfg.ApplyPreset(cfg.Preset); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model must be set")
	}
	if c.Options.ExecutionTimeLimit < 0 {
		return fmt.Errorf("execution_time_limit must not be negative, got %s", c.Options.ExecutionTimeLimit)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// ApplyPreset replaces the options with a named profile.
func (c *Config) ApplyPreset(name string) error {
	p, ok := OptionPresets[name]
	if !ok {
		return fmt.Errorf("unknown preset: %s", name)
	}
	c.Options = p
	c.Preset = name
	return nil
}

func (c *Config) Settings() simulation.Settings {
	o := c.Options
	return simulation.Settings{
		ShowProgress:                             o.ShowProgress,
		ExecutionTimeLimit:                       o.ExecutionTimeLimit,
		StopOnWarnings:                           o.StopOnWarnings,
		AutoReduceTolerances:                     o.AutoReduceTolerances,
		WriteLogFile:                             o.WriteLogFile,
		CheckForNegativeValues:                   o.CheckForNegativeValues,
		ValidateWithXMLSchema:                    o.ValidateWithXMLSchema,
		IdentifyUsedParameters:                   o.IdentifyUsedParameters,
		KeepXMLNodeAsString:                      o.KeepXMLNodeAsString,
		UseFloatComparisonInUserOutputTimePoints: o.FloatTimeComparison,
	}
}

func FromSettings(s simulation.Settings) OptionsConfig {
	return OptionsConfig{
		ShowProgress:           s.ShowProgress,
		ExecutionTimeLimit:     s.ExecutionTimeLimit,
		StopOnWarnings:         s.StopOnWarnings,
		AutoReduceTolerances:   s.AutoReduceTolerances,
		WriteLogFile:           s.WriteLogFile,
		CheckForNegativeValues: s.CheckForNegativeValues,
		ValidateWithXMLSchema:  s.ValidateWithXMLSchema,
		IdentifyUsedParameters: s.IdentifyUsedParameters,
		KeepXMLNodeAsString:    s.KeepXMLNodeAsString,
		FloatTimeComparison:    s.UseFloatComparisonInUserOutputTimePoints,
	}
}
