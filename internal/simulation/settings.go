package simulation

import (
	"time"

	"github.com/san-kum/odectl/internal/native"
)

// Settings holds the engine options of one simulation. Changes take effect
// through [Simulation.ApplySettings] or [Simulation.UpdateSettings].
type Settings struct {
	ShowProgress bool
	// ExecutionTimeLimit bounds a single Run; zero means unlimited.
	ExecutionTimeLimit     time.Duration
	StopOnWarnings         bool
	AutoReduceTolerances   bool
	WriteLogFile           bool
	CheckForNegativeValues bool
	ValidateWithXMLSchema  bool
	IdentifyUsedParameters bool
	// KeepXMLNodeAsString must be set before Load for SimulationXMLString.
	KeepXMLNodeAsString                      bool
	UseFloatComparisonInUserOutputTimePoints bool
}

func DefaultSettings() Settings {
	return Settings{
		StopOnWarnings:                           true,
		AutoReduceTolerances:                     true,
		WriteLogFile:                             true,
		CheckForNegativeValues:                   true,
		UseFloatComparisonInUserOutputTimePoints: true,
	}
}

func (s Settings) options() native.Options {
	return native.Options{
		ShowProgress:                             s.ShowProgress,
		ExecutionTimeLimit:                       s.ExecutionTimeLimit.Seconds(),
		StopOnWarnings:                           s.StopOnWarnings,
		AutoReduceTolerances:                     s.AutoReduceTolerances,
		WriteLogFile:                             s.WriteLogFile,
		CheckForNegativeValues:                   s.CheckForNegativeValues,
		ValidateWithXMLSchema:                    s.ValidateWithXMLSchema,
		IdentifyUsedParameters:                   s.IdentifyUsedParameters,
		KeepXMLNodeAsString:                      s.KeepXMLNodeAsString,
		UseFloatComparisonInUserOutputTimePoints: s.UseFloatComparisonInUserOutputTimePoints,
	}
}

func settingsFrom(o native.Options) Settings {
	return Settings{
		ShowProgress:                             o.ShowProgress,
		ExecutionTimeLimit:                       time.Duration(o.ExecutionTimeLimit * float64(time.Second)),
		StopOnWarnings:                           o.StopOnWarnings,
		AutoReduceTolerances:                     o.AutoReduceTolerances,
		WriteLogFile:                             o.WriteLogFile,
		CheckForNegativeValues:                   o.CheckForNegativeValues,
		ValidateWithXMLSchema:                    o.ValidateWithXMLSchema,
		IdentifyUsedParameters:                   o.IdentifyUsedParameters,
		KeepXMLNodeAsString:                      o.KeepXMLNodeAsString,
		UseFloatComparisonInUserOutputTimePoints: o.UseFloatComparisonInUserOutputTimePoints,
	}
}
