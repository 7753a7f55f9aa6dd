package native

import "context"

// Engine is the full call surface of the native simulation engine.
type Engine interface {
	Lifecycle
	Configurator
	PropertyAccess
	VariableRegistry
	OutputReader
	Diagnostics
	Exporter
}

type Lifecycle interface {
	CreateSimulation() (SimHandle, Status)
	DisposeSimulation(h SimHandle)
	CreateParameterInfoVector() (VectorHandle, Status)
	DisposeParameterInfoVector(v VectorHandle)
	CreateSpeciesInfoVector() (VectorHandle, Status)
	DisposeSpeciesInfoVector(v VectorHandle)

	LoadFromFile(h SimHandle, path string) Status
	LoadFromString(h SimHandle, document string) Status
	Finalize(h SimHandle) Status

	// Run integrates the finalized system. ctx is the cancellation token;
	// it is checked by the engine between solver steps.
	Run(ctx context.Context, h SimHandle) (RunResult, Status)
	// Cancel requests cooperative termination of an in-flight Run.
	Cancel(h SimHandle)
	// Progress returns 0..100; safe to call while Run executes.
	Progress(h SimHandle) int
	ReleaseMemory(h SimHandle) Status
}

type Configurator interface {
	FillOptions(h SimHandle) (Options, Status)
	SetOptions(h SimHandle, opts Options) Status
}

// PropertyAccess addresses info vectors by index. Indices are valid for the
// snapshot produced by the most recent Fill call on the vector.
type PropertyAccess interface {
	FillParameterInfos(h SimHandle, v VectorHandle) Status
	NumberOfParameterInfos(v VectorHandle) (int, Status)
	ParameterInfo(v VectorHandle, idx int) (ParameterInfo, Status)
	SetParameterValue(v VectorHandle, idx int, value float64) Status
	SetParameterTablePoints(v VectorHandle, idx int, points []TablePoint) Status
	SetParameterCalculateSensitivity(v VectorHandle, idx int, calculate bool) Status
	ParameterIsUsedInSimulation(v VectorHandle, idx int) (bool, Status)

	FillSpeciesInfos(h SimHandle, v VectorHandle) Status
	NumberOfSpeciesInfos(v VectorHandle) (int, Status)
	SpeciesInfo(v VectorHandle, idx int) (SpeciesInfo, Status)
	SetSpeciesInitialValue(v VectorHandle, idx int, value float64) Status
	SetSpeciesScaleFactor(v VectorHandle, idx int, value float64) Status
	SpeciesIsUsedInSimulation(v VectorHandle, idx int) (bool, Status)
}

// VariableRegistry registers info vector indices as variable and pushes
// their current vector values into the simulation.
type VariableRegistry interface {
	SetVariableParameters(h SimHandle, v VectorHandle, indices []int) Status
	SetVariableSpecies(h SimHandle, v VectorHandle, indices []int) Status
	SetParameterValues(h SimHandle, v VectorHandle, indices []int) Status
	SetSpeciesValues(h SimHandle, v VectorHandle, indices []int) Status
}

type OutputReader interface {
	NumberOfTimePoints(h SimHandle) int
	FillTimeValues(h SimHandle, dst []float64) Status

	NumberOfQuantitiesWithValues(h SimHandle) (int, Status)
	FillIDsForQuantitiesWithValues(h SimHandle, dst []int) Status

	SpeciesByEntityID(h SimHandle, entityID string) (QuantityHandle, Status)
	SpeciesByID(h SimHandle, id int) (QuantityHandle, Status)
	ObserverByEntityID(h SimHandle, entityID string) (QuantityHandle, Status)
	ObserverByID(h SimHandle, id int) (QuantityHandle, Status)
	QuantityByPath(h SimHandle, path string) (QuantityHandle, Status)

	QuantityProperties(q QuantityHandle) (QuantityProperties, Status)
	QuantityIsConstant(q QuantityHandle) bool
	QuantityValuesSize(q QuantityHandle) (int, Status)
	FillQuantityValues(q QuantityHandle, dst []float64) Status
	QuantityComparisonThreshold(q QuantityHandle) (float64, Status)
	FillSensitivityValues(q QuantityHandle, dst []float64, parameterPath string) Status
}

type Diagnostics interface {
	NumberOfSolverWarnings(h SimHandle) int
	FillSolverWarnings(h SimHandle, dst []SolverWarning) Status
	XMLVersion(h SimHandle) int
	SimulationXMLString(h SimHandle) (string, Status)
	ContainsPersistableParameters(h SimHandle) (bool, Status)
	ObjectPathDelimiter(h SimHandle) string
}

type Exporter interface {
	// ExportToCode writes the equation system to outDir. fullMode selects
	// symbolic formulas over numeric values.
	ExportToCode(h SimHandle, lang ExportLanguage, outDir, baseName string, fullMode bool) Status
}
