package config

import (
	"sort"
	"time"
)

// OptionPresets are named engine option profiles.
var OptionPresets = map[string]OptionsConfig{
	"strict": {
		StopOnWarnings:         true,
		AutoReduceTolerances:   false,
		WriteLogFile:           true,
		CheckForNegativeValues: true,
		ValidateWithXMLSchema:  true,
		IdentifyUsedParameters: true,
		FloatTimeComparison:    true,
	},
	"fast": {
		AutoReduceTolerances: true,
		ExecutionTimeLimit:   30 * time.Second,
		FloatTimeComparison:  true,
	},
	"interactive": {
		ShowProgress:           true,
		StopOnWarnings:         true,
		AutoReduceTolerances:   true,
		CheckForNegativeValues: true,
		KeepXMLNodeAsString:    true,
		FloatTimeComparison:    true,
	},
}

// Presets are named starting points per built-in model, expressed as
// species initial values and parameter overrides.
var Presets = map[string]map[string]*Config{
	"pendulum": {
		"small":    {Model: "pendulum", Species: map[string]float64{"theta": 0.2}},
		"large":    {Model: "pendulum", Species: map[string]float64{"theta": 2.5}},
		"spinning": {Model: "pendulum", Species: map[string]float64{"theta": 0.1, "omega": 8.0}},
	},
	"double_pendulum": {
		"symmetric": {Model: "double_pendulum", Species: map[string]float64{"theta1": 1.5, "theta2": 1.5}},
		"chaos":     {Model: "double_pendulum", Species: map[string]float64{"theta1": 3.0, "theta2": 3.0}},
		"gentle":    {Model: "double_pendulum", Species: map[string]float64{"theta1": 0.3, "theta2": 0.3}},
	},
	"spring_mass": {
		"bounce": {Model: "spring_mass", Species: map[string]float64{"x": 2.0}},
		"fast":   {Model: "spring_mass", Species: map[string]float64{"x": 1.0, "v": 5.0}},
		"stiff":  {Model: "spring_mass", Parameters: map[string]float64{"k": 100}},
	},
	"decay": {
		"slow": {Model: "decay", Parameters: map[string]float64{"k": 0.1}},
		"fast": {Model: "decay", Parameters: map[string]float64{"k": 2}},
	},
}

func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	return cfg
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ListOptionPresets() []string {
	names := make([]string, 0, len(OptionPresets))
	for name := range OptionPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
