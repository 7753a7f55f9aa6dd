package memengine

import (
	"context"
	"errors"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/san-kum/odectl/internal/native"
)

var _ native.Engine = (*Engine)(nil)

// Engine owns every simulation, info vector and quantity handle it hands
// out. It is safe for concurrent use across distinct simulation handles.
type Engine struct {
	mu         sync.Mutex
	next       uint64
	sims       map[native.SimHandle]*simulation
	vectors    map[native.VectorHandle]*infoVector
	quantities map[native.QuantityHandle]quantityRef
}

type simulation struct {
	token   string
	options native.Options

	model     *model
	sys       *system
	finalized bool

	results  *results
	released bool
	warnings []native.SolverWarning

	progress atomic.Int32
	canceled atomic.Bool
	running  atomic.Bool

	handles map[int]native.QuantityHandle
}

type quantityRef struct {
	sim native.SimHandle
	id  int
}

func New() *Engine {
	return &Engine{
		sims:       make(map[native.SimHandle]*simulation),
		vectors:    make(map[native.VectorHandle]*infoVector),
		quantities: make(map[native.QuantityHandle]quantityRef),
	}
}

func defaultOptions() native.Options {
	var o native.Options
	o.StopOnWarnings = true
	o.AutoReduceTolerances = true
	o.WriteLogFile = true
	o.CheckForNegativeValues = true
	o.UseFloatComparisonInUserOutputTimePoints = true
	return o
}

func (e *Engine) handle() uint64 {
	e.next++
	return e.next
}

func (e *Engine) CreateSimulation() (native.SimHandle, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := native.SimHandle(e.handle())
	sim := &simulation{
		token:   uuid.NewString(),
		options: defaultOptions(),
		handles: make(map[int]native.QuantityHandle),
	}
	e.sims[h] = sim
	Logger().Debug("simulation created", zap.Uint64("handle", uint64(h)), zap.String("token", sim.token))
	return h, native.Success()
}

func (e *Engine) DisposeSimulation(h native.SimHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, ok := e.sims[h]
	if !ok {
		return
	}
	for _, q := range sim.handles {
		delete(e.quantities, q)
	}
	delete(e.sims, h)
	Logger().Debug("simulation disposed", zap.Uint64("handle", uint64(h)), zap.String("token", sim.token))
}

// lookup returns the simulation for h. The caller holds e.mu.
func (e *Engine) lookup(h native.SimHandle) (*simulation, native.Status) {
	sim, ok := e.sims[h]
	if !ok {
		return nil, native.Failure("invalid simulation handle %d", uint64(h))
	}
	return sim, native.Success()
}

func (e *Engine) loaded(h native.SimHandle) (*simulation, native.Status) {
	sim, st := e.lookup(h)
	if !st.OK {
		return nil, st
	}
	if sim.model == nil {
		return nil, native.Failure("Simulation is not loaded")
	}
	return sim, st
}

func (e *Engine) finalizedSim(h native.SimHandle) (*simulation, native.Status) {
	sim, st := e.loaded(h)
	if !st.OK {
		return nil, st
	}
	if !sim.finalized {
		return nil, native.Failure("Simulation is not finalized")
	}
	return sim, st
}

func (e *Engine) LoadFromFile(h native.SimHandle, path string) native.Status {
	data, err := os.ReadFile(path)
	if err != nil {
		return native.Failure("cannot read model file: %v", err)
	}
	return e.load(h, data)
}

func (e *Engine) LoadFromString(h native.SimHandle, document string) native.Status {
	return e.load(h, []byte(document))
}

func (e *Engine) load(h native.SimHandle, data []byte) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.lookup(h)
	if !st.OK {
		return st
	}
	if sim.model != nil {
		return native.Failure("Simulation is already loaded")
	}
	m, err := parseModel(data, sim.options.ValidateWithXMLSchema)
	if err != nil {
		return native.Fail(err.Error())
	}
	if sim.options.KeepXMLNodeAsString {
		m.source = string(data)
	}
	sim.model = m
	Logger().Debug("simulation loaded",
		zap.String("token", sim.token),
		zap.Int("parameters", len(m.params)),
		zap.Int("species", len(m.species)),
		zap.Int("observers", len(m.observers)))
	return native.Success()
}

func (e *Engine) Finalize(h native.SimHandle) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.loaded(h)
	if !st.OK {
		return st
	}
	if sim.finalized {
		return native.Failure("Simulation is already finalized")
	}
	sys, err := finalize(sim.model, sim.options)
	if err != nil {
		return native.Fail(err.Error())
	}
	sim.sys = sys
	sim.finalized = true
	Logger().Debug("simulation finalized",
		zap.String("token", sim.token),
		zap.Int("ode_variables", len(sys.ode)),
		zap.Int("time_points", len(sys.outputTimes)))
	return native.Success()
}

func (e *Engine) Run(ctx context.Context, h native.SimHandle) (native.RunResult, native.Status) {
	e.mu.Lock()
	sim, st := e.finalizedSim(h)
	if !st.OK {
		e.mu.Unlock()
		return native.RunResult{}, st
	}
	if !sim.running.CompareAndSwap(false, true) {
		e.mu.Unlock()
		return native.RunResult{}, native.Failure("Simulation is already running")
	}
	defer sim.running.Store(false)

	sim.canceled.Store(false)
	sim.progress.Store(0)
	sim.warnings = nil
	opts := sim.options
	sys := sim.sys
	token := sim.token
	e.mu.Unlock()

	log := Logger().With(zap.String("token", token))
	logf := log.Debug
	if opts.WriteLogFile {
		logf = log.Info
	}
	logf("Starting simulation run...")

	res, result, warnings, err := run(ctx, sys, opts, sim)

	e.mu.Lock()
	defer e.mu.Unlock()
	sim.warnings = warnings
	if err != nil {
		log.Warn("simulation run failed", zap.Error(err), zap.Int("warnings", len(warnings)))
		return native.RunResult{}, native.Fail(err.Error())
	}
	sim.results = res
	sim.released = false
	sim.progress.Store(100)
	logf("Simulation finished!",
		zap.Bool("tolerance_reduced", result.ToleranceWasReduced),
		zap.Float64("abs_tol", result.UsedAbsoluteTolerance),
		zap.Float64("rel_tol", result.UsedRelativeTolerance))
	return result, native.Success()
}

func run(ctx context.Context, sys *system, opts native.Options, sim *simulation) (*results, native.RunResult, []native.SolverWarning, error) {
	if err := sys.refresh(); err != nil {
		return nil, native.RunResult{}, nil, err
	}

	var deadline time.Time
	if opts.ExecutionTimeLimit > 0 {
		deadline = time.Now().Add(time.Duration(opts.ExecutionTimeLimit * float64(time.Second)))
	}

	absTol, relTol := sys.m.absTol, sys.m.relTol
	reduced := false
	var warnings []warning
	var tr *trajectory
	for {
		warnings = warnings[:0]
		cfg := &runConfig{
			absTol:         absTol,
			relTol:         relTol,
			stopOnWarnings: opts.StopOnWarnings,
			checkNegative:  opts.CheckForNegativeValues,
			showProgress:   opts.ShowProgress,
			deadline:       deadline,
			progress:       &sim.progress,
			canceled:       &sim.canceled,
			warnings:       &warnings,
		}
		var err error
		tr, err = solve(ctx, sys, cfg)
		if err == nil {
			break
		}
		var se *solverError
		if errors.As(err, &se) && se.reducible && opts.AutoReduceTolerances {
			if a, r, ok := reduceTolerances(absTol, relTol); ok {
				absTol, relTol, reduced = a, r, true
				continue
			}
		}
		return nil, native.RunResult{}, solverWarnings(warnings), err
	}

	res, err := collect(sys, tr)
	if err != nil {
		return nil, native.RunResult{}, solverWarnings(warnings), err
	}

	quiet := &runConfig{
		absTol:   absTol,
		relTol:   relTol,
		deadline: deadline,
		canceled: &sim.canceled,
	}
	res.sensitivities, err = sensitivities(ctx, sys, res, quiet)
	if err != nil {
		return nil, native.RunResult{}, solverWarnings(warnings), err
	}

	return res, native.RunResult{
		ToleranceWasReduced:   reduced,
		UsedAbsoluteTolerance: absTol,
		UsedRelativeTolerance: relTol,
	}, solverWarnings(warnings), nil
}

// sensitivities perturbs every variable parameter flagged for sensitivity
// and differentiates all value series by central differences.
func sensitivities(ctx context.Context, sys *system, base *results, cfg *runConfig) (map[string]map[int][]float64, error) {
	out := make(map[string]map[int][]float64)
	for _, p := range sys.m.params {
		if !p.variable || !p.sensitivity || p.isFormula() || len(p.table) > 0 {
			continue
		}
		v := p.value
		h := math.Max(math.Abs(v)*1e-4, 1e-8)

		perturbed := func(x float64) (*results, error) {
			p.value = x
			defer func() { p.value = v }()
			tr, err := solve(ctx, sys, cfg)
			if err != nil {
				return nil, err
			}
			return collect(sys, tr)
		}
		plus, err := perturbed(v + h)
		if err != nil {
			return nil, errors.New("sensitivity calculation for " + p.path + " failed: " + err.Error())
		}
		minus, err := perturbed(v - h)
		if err != nil {
			return nil, errors.New("sensitivity calculation for " + p.path + " failed: " + err.Error())
		}
		out[p.path] = sensitivity(base, plus, minus, h)
	}
	return out, nil
}

func solverWarnings(ws []warning) []native.SolverWarning {
	out := make([]native.SolverWarning, len(ws))
	for i, w := range ws {
		out[i] = native.SolverWarning{OutputTime: w.t, Message: w.msg}
	}
	return out
}

func (e *Engine) Cancel(h native.SimHandle) {
	e.mu.Lock()
	sim, ok := e.sims[h]
	e.mu.Unlock()
	if ok {
		sim.canceled.Store(true)
	}
}

func (e *Engine) Progress(h native.SimHandle) int {
	e.mu.Lock()
	sim, ok := e.sims[h]
	e.mu.Unlock()
	if !ok {
		return 0
	}
	return int(sim.progress.Load())
}

func (e *Engine) ReleaseMemory(h native.SimHandle) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.loaded(h)
	if !st.OK {
		return st
	}
	sim.results = nil
	sim.released = true
	return native.Success()
}

func (e *Engine) FillOptions(h native.SimHandle) (native.Options, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.lookup(h)
	if !st.OK {
		return native.Options{}, st
	}
	return sim.options, st
}

func (e *Engine) SetOptions(h native.SimHandle, opts native.Options) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.lookup(h)
	if !st.OK {
		return st
	}
	if opts.ExecutionTimeLimit < 0 {
		return native.Failure("execution time limit must not be negative, got %g", opts.ExecutionTimeLimit)
	}
	sim.options = opts
	return st
}
