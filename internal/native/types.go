package native

// Opaque handles. The zero value never names a live resource.
type (
	SimHandle      uint64
	VectorHandle   uint64
	QuantityHandle uint64
)

// Options is the fixed set of engine options.
type Options struct {
	ShowProgress                             bool
	ExecutionTimeLimit                       float64 // seconds; 0 = unlimited
	StopOnWarnings                           bool
	AutoReduceTolerances                     bool
	WriteLogFile                             bool
	CheckForNegativeValues                   bool
	ValidateWithXMLSchema                    bool
	IdentifyUsedParameters                   bool
	KeepXMLNodeAsString                      bool
	UseFloatComparisonInUserOutputTimePoints bool
}

// TablePoint is one breakpoint of a piecewise-linear table formula.
// RestartSolver marks a point where the solution is not smooth.
type TablePoint struct {
	X             float64
	Y             float64
	RestartSolver bool
}

type ParameterInfo struct {
	ID                   int
	EntityID             string
	Path                 string
	Name                 string
	Description          string
	Unit                 string
	Value                float64
	IsFormula            bool
	Formula              string
	CalculateSensitivity bool
	TablePoints          []TablePoint
}

type SpeciesInfo struct {
	ID           int
	EntityID     string
	Path         string
	Name         string
	Unit         string
	InitialValue float64
	ScaleFactor  float64
}

type QuantityProperties struct {
	EntityID string
	Path     string
	Name     string
}

// RunResult holds the tolerances actually used by a successful run.
type RunResult struct {
	ToleranceWasReduced   bool
	UsedAbsoluteTolerance float64
	UsedRelativeTolerance float64
}

type SolverWarning struct {
	OutputTime float64
	Message    string
}

type ExportLanguage int

const (
	ExportMatlab ExportLanguage = iota + 1
	ExportCpp
	ExportR
)

func (l ExportLanguage) String() string {
	switch l {
	case ExportMatlab:
		return "matlab"
	case ExportCpp:
		return "cpp"
	case ExportR:
		return "r"
	default:
		return "unknown"
	}
}
