package simulation

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/odectl/internal/native"
	"github.com/san-kum/odectl/internal/simerr"
)

type State int

const (
	StateCreated State = iota
	StateLoaded
	StateFinalized
	StateRunComplete
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoaded:
		return "loaded"
	case StateFinalized:
		return "finalized"
	case StateRunComplete:
		return "run_complete"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// RunStatistics describes the tolerances of the last successful run. The
// tolerances are NaN before any run succeeded.
type RunStatistics struct {
	ToleranceWasReduced   bool
	UsedAbsoluteTolerance float64
	UsedRelativeTolerance float64
}

func noStatistics() RunStatistics {
	return RunStatistics{UsedAbsoluteTolerance: math.NaN(), UsedRelativeTolerance: math.NaN()}
}

type SolverWarning struct {
	OutputTime float64
	Message    string
}

// Recorder receives the outcome of lifecycle operations.
type Recorder interface {
	ObserveOperation(op string, elapsed time.Duration, err error)
	HandleAcquired()
	HandleReleased()
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, time.Duration, error) {}
func (nopRecorder) HandleAcquired()                               {}
func (nopRecorder) HandleReleased()                               {}

type Option func(*Simulation)

func WithLogger(l *zap.Logger) Option {
	return func(s *Simulation) {
		if l != nil {
			s.log = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Simulation) {
		if r != nil {
			s.rec = r
		}
	}
}

// Simulation drives one engine simulation through its lifecycle.
type Simulation struct {
	h       *handle
	cleanup runtime.Cleanup
	log     *zap.Logger
	rec     Recorder

	settings Settings
	state    State
	gen      uint64
	released bool
	canceled atomic.Bool

	params          []*Parameter
	species         []*Species
	variableParams  []*Parameter
	variableSpecies []*Species

	stats    RunStatistics
	warnings []SolverWarning
}

type orphan struct {
	h   *handle
	rec Recorder
	log *zap.Logger
}

func releaseOrphan(o orphan) {
	if o.h.release() {
		o.rec.HandleReleased()
		o.log.Warn("simulation was not disposed; released by garbage collector")
	}
}

// New acquires an engine handle and applies settings to it.
func New(eng native.Engine, settings Settings, opts ...Option) (*Simulation, error) {
	id, st := eng.CreateSimulation()
	if err := st.Err(simerr.KindEngine, "create"); err != nil {
		return nil, err
	}

	s := &Simulation{
		h:     &handle{eng: eng, id: id},
		log:   Logger(),
		rec:   nopRecorder{},
		stats: noStatistics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.Uint64("handle", uint64(id)))
	s.cleanup = runtime.AddCleanup(s, releaseOrphan, orphan{h: s.h, rec: s.rec, log: s.log})
	s.rec.HandleAcquired()

	if err := s.ApplySettings(settings); err != nil {
		s.Dispose()
		return nil, err
	}
	s.log.Debug("simulation created")
	return s, nil
}

func (s *Simulation) State() State {
	if s.h.closed() {
		return StateDisposed
	}
	return s.state
}

func (s *Simulation) require(op string, legal ...State) error {
	if s.h.closed() {
		return simerr.InvalidState(op, "simulation disposed")
	}
	for _, st := range legal {
		if s.state == st {
			return nil
		}
	}
	return simerr.InvalidState(op, "not allowed in state %s", s.state)
}

func (s *Simulation) requireLoaded(op string) error {
	return s.require(op, StateLoaded, StateFinalized, StateRunComplete)
}

func (s *Simulation) observe(op string, start time.Time, err error) error {
	s.rec.ObserveOperation(op, time.Since(start), err)
	if err != nil {
		s.log.Warn("simulation operation failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

// Settings returns the settings last applied.
func (s *Simulation) Settings() Settings {
	return s.settings
}

// ApplySettings pushes settings to the engine.
func (s *Simulation) ApplySettings(settings Settings) error {
	const op = "set_options"
	if s.h.closed() {
		return simerr.InvalidState(op, "simulation disposed")
	}
	if err := s.h.eng.SetOptions(s.h.id, settings.options()).Err(simerr.KindEngine, op); err != nil {
		return err
	}
	s.settings = settings
	return nil
}

// UpdateSettings applies fn to a copy of the current settings and pushes
// the result.
func (s *Simulation) UpdateSettings(fn func(*Settings)) error {
	next := s.settings
	fn(&next)
	return s.ApplySettings(next)
}

// EngineSettings reads the options currently held by the engine.
func (s *Simulation) EngineSettings() (Settings, error) {
	const op = "fill_options"
	if s.h.closed() {
		return Settings{}, simerr.InvalidState(op, "simulation disposed")
	}
	opts, st := s.h.eng.FillOptions(s.h.id)
	if err := st.Err(simerr.KindEngine, op); err != nil {
		return Settings{}, err
	}
	return settingsFrom(opts), nil
}

func (s *Simulation) LoadFromFile(path string) error {
	return s.load("load_file", func() native.Status {
		return s.h.eng.LoadFromFile(s.h.id, path)
	})
}

func (s *Simulation) LoadFromString(document string) error {
	return s.load("load_string", func() native.Status {
		return s.h.eng.LoadFromString(s.h.id, document)
	})
}

func (s *Simulation) load(op string, call func() native.Status) (err error) {
	start := time.Now()
	defer func() { err = s.observe(op, start, err) }()

	if err := s.require(op, StateCreated); err != nil {
		return err
	}
	if err := call().Err(simerr.KindLoad, op); err != nil {
		return err
	}
	s.state = StateLoaded
	if err := s.nextGeneration(op); err != nil {
		return err
	}
	s.log.Debug("simulation loaded",
		zap.Int("parameters", len(s.params)),
		zap.Int("species", len(s.species)))
	return nil
}

// nextGeneration invalidates every fetched proxy and fetches the current
// parameter and species collections.
func (s *Simulation) nextGeneration(op string) error {
	s.gen++
	s.h.dropVectors()
	s.params, s.species = nil, nil
	s.variableParams, s.variableSpecies = nil, nil

	params, err := s.fetchParameters(op)
	if err != nil {
		return err
	}
	species, err := s.fetchSpecies(op)
	if err != nil {
		return err
	}
	s.params, s.species = params, species
	return nil
}

// Finalize lets the engine optimize the loaded system. Proxies fetched
// before are invalid afterwards; registered variable sets are carried over
// by entity id.
func (s *Simulation) Finalize() (err error) {
	const op = "finalize"
	start := time.Now()
	defer func() { err = s.observe(op, start, err) }()

	if err := s.require(op, StateLoaded); err != nil {
		return err
	}
	paramIDs := make([]string, len(s.variableParams))
	for i, p := range s.variableParams {
		paramIDs[i] = p.EntityID
	}
	speciesIDs := make([]string, len(s.variableSpecies))
	for i, sp := range s.variableSpecies {
		speciesIDs[i] = sp.EntityID
	}

	if err := s.h.eng.Finalize(s.h.id).Err(simerr.KindFinalize, op); err != nil {
		return err
	}
	s.state = StateFinalized
	if err := s.nextGeneration(op); err != nil {
		return err
	}
	if err := s.rederive(op, paramIDs, speciesIDs); err != nil {
		return err
	}
	s.log.Debug("simulation finalized",
		zap.Uint64("generation", s.gen),
		zap.Int("variable_parameters", len(s.variableParams)),
		zap.Int("variable_species", len(s.variableSpecies)))
	return nil
}

func (s *Simulation) rederive(op string, paramIDs, speciesIDs []string) error {
	if len(paramIDs) > 0 {
		params := make([]*Parameter, len(paramIDs))
		for i, id := range paramIDs {
			if params[i] = FindParameter(s.params, id); params[i] == nil {
				return simerr.New(simerr.KindFinalize, op).Entity(id).Detail("variable parameter is no longer part of the simulation").Build()
			}
		}
		if err := s.registerParameters(op, params); err != nil {
			return err
		}
	}
	if len(speciesIDs) > 0 {
		species := make([]*Species, len(speciesIDs))
		for i, id := range speciesIDs {
			if species[i] = FindSpecies(s.species, id); species[i] == nil {
				return simerr.New(simerr.KindFinalize, op).Entity(id).Detail("variable species is no longer part of the simulation").Build()
			}
		}
		if err := s.registerSpecies(op, species); err != nil {
			return err
		}
	}
	return nil
}

// Run integrates the finalized system. A finished simulation can be run
// again after variable values changed, without finalizing it again.
// Cancelling ctx or calling Cancel stops the run cooperatively.
func (s *Simulation) Run(ctx context.Context) (err error) {
	const op = "run"
	start := time.Now()
	defer func() { err = s.observe(op, start, err) }()

	if err := s.require(op, StateFinalized, StateRunComplete); err != nil {
		return err
	}
	s.stats = noStatistics()
	s.warnings = nil
	s.canceled.Store(false)

	s.log.Debug("simulation run started", zap.Duration("time_limit", s.settings.ExecutionTimeLimit))
	res, st := s.h.eng.Run(ctx, s.h.id)

	warnings, werr := s.fetchWarnings(op)
	s.warnings = warnings

	if !st.OK {
		b := simerr.New(simerr.KindSolve, op).DetailText(st.Message)
		switch {
		case ctx.Err() != nil:
			b.Cause(ctx.Err())
		case s.canceled.Load():
			b.Cause(context.Canceled)
		}
		return b.Build()
	}
	if werr != nil {
		return werr
	}

	s.stats = RunStatistics{
		ToleranceWasReduced:   res.ToleranceWasReduced,
		UsedAbsoluteTolerance: res.UsedAbsoluteTolerance,
		UsedRelativeTolerance: res.UsedRelativeTolerance,
	}
	s.state = StateRunComplete
	s.released = false
	s.log.Debug("simulation run finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("tolerance_reduced", res.ToleranceWasReduced),
		zap.Int("warnings", len(warnings)))
	return nil
}

func (s *Simulation) fetchWarnings(op string) ([]SolverWarning, error) {
	n := s.h.eng.NumberOfSolverWarnings(s.h.id)
	if n == 0 {
		return nil, nil
	}
	raw := make([]native.SolverWarning, n)
	if err := s.h.eng.FillSolverWarnings(s.h.id, raw).Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}
	out := make([]SolverWarning, n)
	for i, w := range raw {
		out[i] = SolverWarning{OutputTime: w.OutputTime, Message: w.Message}
	}
	return out, nil
}

// RunStatistics returns the statistics of the last successful run.
func (s *Simulation) RunStatistics() RunStatistics {
	return s.stats
}

// SolverWarnings returns the warnings of the last run, successful or not.
func (s *Simulation) SolverWarnings() []SolverWarning {
	return append([]SolverWarning(nil), s.warnings...)
}

// Cancel asks an in-flight Run to stop. It may be called from any goroutine.
func (s *Simulation) Cancel() {
	if s.h.closed() {
		return
	}
	s.canceled.Store(true)
	s.h.eng.Cancel(s.h.id)
}

// Progress returns the progress of the current run in percent. It may be
// called from any goroutine and is advisory only.
func (s *Simulation) Progress() int {
	if s.h.closed() {
		return 0
	}
	return s.h.eng.Progress(s.h.id)
}

// ReleaseMemory frees the engine's result buffers. Values must not be read
// until the next successful Run.
func (s *Simulation) ReleaseMemory() error {
	const op = "release_memory"
	if err := s.requireLoaded(op); err != nil {
		return err
	}
	if err := s.h.eng.ReleaseMemory(s.h.id).Err(simerr.KindEngine, op); err != nil {
		return err
	}
	s.released = true
	return nil
}

// Dispose releases the engine handle. It is safe to call more than once;
// every other operation fails afterwards.
func (s *Simulation) Dispose() {
	if !s.h.release() {
		return
	}
	s.cleanup.Stop()
	s.state = StateDisposed
	s.params, s.species = nil, nil
	s.variableParams, s.variableSpecies = nil, nil
	s.rec.HandleReleased()
	s.log.Debug("simulation disposed")
}

// IsCanceled reports whether err is a run stopped by cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, simerr.ErrSolve) && errors.Is(err, context.Canceled)
}
