package memengine

import (
	"math"

	"github.com/san-kum/odectl/internal/formula"
	"github.com/san-kum/odectl/internal/native"
)

type vectorKind int

const (
	parameterVector vectorKind = iota
	speciesVector
)

// infoVector is a snapshot of a simulation's parameter or species
// collection. Edits stay local until pushed with a Set*Values call.
type infoVector struct {
	kind    vectorKind
	sim     native.SimHandle
	filled  bool
	params  []native.ParameterInfo
	species []native.SpeciesInfo
}

func (e *Engine) createVector(kind vectorKind) (native.VectorHandle, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := native.VectorHandle(e.handle())
	e.vectors[v] = &infoVector{kind: kind}
	return v, native.Success()
}

func (e *Engine) CreateParameterInfoVector() (native.VectorHandle, native.Status) {
	return e.createVector(parameterVector)
}

func (e *Engine) CreateSpeciesInfoVector() (native.VectorHandle, native.Status) {
	return e.createVector(speciesVector)
}

func (e *Engine) DisposeParameterInfoVector(v native.VectorHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.vectors, v)
}

func (e *Engine) DisposeSpeciesInfoVector(v native.VectorHandle) {
	e.DisposeParameterInfoVector(v)
}

func (e *Engine) vector(v native.VectorHandle, kind vectorKind) (*infoVector, native.Status) {
	vec, ok := e.vectors[v]
	if !ok || vec.kind != kind {
		return nil, native.Failure("invalid info vector handle %d", uint64(v))
	}
	return vec, native.Success()
}

func (e *Engine) entry(v native.VectorHandle, kind vectorKind, idx int) (*infoVector, native.Status) {
	vec, st := e.vector(v, kind)
	if !st.OK {
		return nil, st
	}
	n := len(vec.params)
	if kind == speciesVector {
		n = len(vec.species)
	}
	if idx < 0 || idx >= n {
		return nil, native.Failure("index %d out of range [0, %d)", idx, n)
	}
	return vec, st
}

func (e *Engine) FillParameterInfos(h native.SimHandle, v native.VectorHandle) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.loaded(h)
	if !st.OK {
		return st
	}
	vec, st := e.vector(v, parameterVector)
	if !st.OK {
		return st
	}

	values := currentValues(sim.model)
	vec.sim, vec.filled = h, true
	vec.params = vec.params[:0]
	for _, p := range sim.model.params {
		info := native.ParameterInfo{
			ID:                   p.id,
			EntityID:             p.entityID,
			Path:                 p.path,
			Name:                 p.name,
			Description:          p.description,
			Unit:                 p.unit,
			Value:                values[p.entityID],
			CalculateSensitivity: p.sensitivity,
		}
		if p.expr != nil {
			info.IsFormula = true
			info.Formula = p.expr.String()
		}
		if len(p.table) > 0 {
			info.TablePoints = append([]native.TablePoint(nil), p.table...)
		}
		vec.params = append(vec.params, info)
	}
	return st
}

func (e *Engine) FillSpeciesInfos(h native.SimHandle, v native.VectorHandle) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.loaded(h)
	if !st.OK {
		return st
	}
	vec, st := e.vector(v, speciesVector)
	if !st.OK {
		return st
	}

	vec.sim, vec.filled = h, true
	vec.species = vec.species[:0]
	for _, s := range sim.model.species {
		vec.species = append(vec.species, native.SpeciesInfo{
			ID:           s.id,
			EntityID:     s.entityID,
			Path:         s.path,
			Name:         s.name,
			Unit:         s.unit,
			InitialValue: s.initial,
			ScaleFactor:  s.scale,
		})
	}
	return st
}

// currentValues evaluates every parameter at the start of the simulation.
// Values that cannot be computed yet are NaN.
func currentValues(m *model) map[string]float64 {
	out := make(map[string]float64, len(m.params))
	vars := make(formula.Vars, len(m.params)+len(m.species)+1)

	start := 0.0
	if times := outputTimes(m, true); len(times) > 0 {
		start = times[0]
	}
	vars[formula.TimeVariable] = start
	for _, s := range m.species {
		vars[s.entityID] = s.initial
	}

	order, err := parameterOrder(m.params)
	if err != nil {
		order = m.params
	}
	for _, p := range order {
		v := p.value
		switch {
		case len(p.table) > 0:
			v = interpolate(p.table, start)
		case p.expr != nil:
			var err error
			if v, err = p.expr.Eval(vars); err != nil {
				v = math.NaN()
			}
		}
		vars[p.entityID] = v
		out[p.entityID] = v
	}
	return out
}

func (e *Engine) NumberOfParameterInfos(v native.VectorHandle) (int, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vec, st := e.vector(v, parameterVector)
	if !st.OK {
		return 0, st
	}
	return len(vec.params), st
}

func (e *Engine) ParameterInfo(v native.VectorHandle, idx int) (native.ParameterInfo, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vec, st := e.entry(v, parameterVector, idx)
	if !st.OK {
		return native.ParameterInfo{}, st
	}
	info := vec.params[idx]
	info.TablePoints = append([]native.TablePoint(nil), info.TablePoints...)
	return info, st
}

func (e *Engine) SetParameterValue(v native.VectorHandle, idx int, value float64) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	vec, st := e.entry(v, parameterVector, idx)
	if !st.OK {
		return st
	}
	if math.IsNaN(value) {
		return native.Failure("parameter %s: value must be a number", vec.params[idx].EntityID)
	}
	info := &vec.params[idx]
	info.Value = value
	info.IsFormula = false
	info.Formula = ""
	info.TablePoints = nil
	return st
}

func (e *Engine) SetParameterTablePoints(v native.VectorHandle, idx int, points []native.TablePoint) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	vec, st := e.entry(v, parameterVector, idx)
	if !st.OK {
		return st
	}
	sorted := append([]native.TablePoint(nil), points...)
	sortTable(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i].X == sorted[i-1].X {
			return native.Failure("parameter %s: duplicate table point x=%g", vec.params[idx].EntityID, sorted[i].X)
		}
	}
	info := &vec.params[idx]
	info.TablePoints = sorted
	info.IsFormula = false
	info.Formula = ""
	return st
}

func (e *Engine) SetParameterCalculateSensitivity(v native.VectorHandle, idx int, calculate bool) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	vec, st := e.entry(v, parameterVector, idx)
	if !st.OK {
		return st
	}
	vec.params[idx].CalculateSensitivity = calculate
	return st
}

func (e *Engine) ParameterIsUsedInSimulation(v native.VectorHandle, idx int) (bool, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vec, st := e.entry(v, parameterVector, idx)
	if !st.OK {
		return false, st
	}
	sim, st := e.loaded(vec.sim)
	if !st.OK {
		return false, st
	}
	p := findParameter(sim.model, vec.params[idx].EntityID)
	if p == nil {
		return false, native.Failure("parameter %s is no longer part of the simulation", vec.params[idx].EntityID)
	}
	if !sim.finalized {
		return true, st
	}
	return p.used, st
}

func (e *Engine) NumberOfSpeciesInfos(v native.VectorHandle) (int, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vec, st := e.vector(v, speciesVector)
	if !st.OK {
		return 0, st
	}
	return len(vec.species), st
}

func (e *Engine) SpeciesInfo(v native.VectorHandle, idx int) (native.SpeciesInfo, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vec, st := e.entry(v, speciesVector, idx)
	if !st.OK {
		return native.SpeciesInfo{}, st
	}
	return vec.species[idx], st
}

func (e *Engine) SetSpeciesInitialValue(v native.VectorHandle, idx int, value float64) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	vec, st := e.entry(v, speciesVector, idx)
	if !st.OK {
		return st
	}
	if math.IsNaN(value) {
		return native.Failure("species %s: initial value must be a number", vec.species[idx].EntityID)
	}
	vec.species[idx].InitialValue = value
	return st
}

func (e *Engine) SetSpeciesScaleFactor(v native.VectorHandle, idx int, value float64) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	vec, st := e.entry(v, speciesVector, idx)
	if !st.OK {
		return st
	}
	if !(value > 0) || math.IsInf(value, 0) {
		return native.Failure("species %s: scale factor must be positive, got %g", vec.species[idx].EntityID, value)
	}
	vec.species[idx].ScaleFactor = value
	return st
}

func (e *Engine) SpeciesIsUsedInSimulation(v native.VectorHandle, idx int) (bool, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vec, st := e.entry(v, speciesVector, idx)
	if !st.OK {
		return false, st
	}
	sim, st := e.loaded(vec.sim)
	if !st.OK {
		return false, st
	}
	s := findSpecies(sim.model, vec.species[idx].EntityID)
	if s == nil {
		return false, native.Failure("species %s is no longer part of the simulation", vec.species[idx].EntityID)
	}
	if !sim.finalized {
		return true, st
	}
	return s.used, st
}

func (e *Engine) SetVariableParameters(h native.SimHandle, v native.VectorHandle, indices []int) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, vec, st := e.registration(h, v, parameterVector, indices)
	if !st.OK {
		return st
	}
	targets := make([]*parameter, len(indices))
	for i, idx := range indices {
		if targets[i] = findParameter(sim.model, vec.params[idx].EntityID); targets[i] == nil {
			return native.Failure("parameter %s is no longer part of the simulation", vec.params[idx].EntityID)
		}
	}
	for _, p := range sim.model.params {
		p.variable = false
		p.sensitivity = false
	}
	for i, idx := range indices {
		targets[i].variable = true
		targets[i].sensitivity = vec.params[idx].CalculateSensitivity
	}
	return pushParameters(sim, vec, indices)
}

func (e *Engine) SetParameterValues(h native.SimHandle, v native.VectorHandle, indices []int) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, vec, st := e.registration(h, v, parameterVector, indices)
	if !st.OK {
		return st
	}
	return pushParameters(sim, vec, indices)
}

func pushParameters(sim *simulation, vec *infoVector, indices []int) native.Status {
	targets := make([]*parameter, len(indices))
	for i, idx := range indices {
		info := vec.params[idx]
		p := findParameter(sim.model, info.EntityID)
		if p == nil {
			return native.Failure("parameter %s is no longer part of the simulation", info.EntityID)
		}
		if !p.variable {
			return native.Failure("parameter %s is not a variable parameter", info.EntityID)
		}
		targets[i] = p
	}
	for i, idx := range indices {
		info := vec.params[idx]
		p := targets[i]
		switch {
		case info.IsFormula:
		case len(info.TablePoints) > 0:
			p.table = append(p.table[:0], info.TablePoints...)
			p.expr = nil
		default:
			p.value = info.Value
			p.expr = nil
			p.table = nil
		}
	}
	if sim.finalized {
		if err := sim.sys.refresh(); err != nil {
			return native.Fail(err.Error())
		}
	}
	return native.Success()
}

func (e *Engine) SetVariableSpecies(h native.SimHandle, v native.VectorHandle, indices []int) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, vec, st := e.registration(h, v, speciesVector, indices)
	if !st.OK {
		return st
	}
	targets := make([]*species, len(indices))
	for i, idx := range indices {
		if targets[i] = findSpecies(sim.model, vec.species[idx].EntityID); targets[i] == nil {
			return native.Failure("species %s is no longer part of the simulation", vec.species[idx].EntityID)
		}
	}
	for _, s := range sim.model.species {
		s.variable = false
	}
	for _, s := range targets {
		s.variable = true
	}
	return pushSpecies(sim, vec, indices)
}

func (e *Engine) SetSpeciesValues(h native.SimHandle, v native.VectorHandle, indices []int) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, vec, st := e.registration(h, v, speciesVector, indices)
	if !st.OK {
		return st
	}
	return pushSpecies(sim, vec, indices)
}

func pushSpecies(sim *simulation, vec *infoVector, indices []int) native.Status {
	targets := make([]*species, len(indices))
	for i, idx := range indices {
		info := vec.species[idx]
		s := findSpecies(sim.model, info.EntityID)
		if s == nil {
			return native.Failure("species %s is no longer part of the simulation", info.EntityID)
		}
		if !s.variable {
			return native.Failure("species %s is not a variable species", info.EntityID)
		}
		targets[i] = s
	}
	for i, idx := range indices {
		targets[i].initial = vec.species[idx].InitialValue
		targets[i].scale = vec.species[idx].ScaleFactor
	}
	return native.Success()
}

// registration checks that a vector belongs to h and every index addresses
// an entry of its current snapshot.
func (e *Engine) registration(h native.SimHandle, v native.VectorHandle, kind vectorKind, indices []int) (*simulation, *infoVector, native.Status) {
	sim, st := e.loaded(h)
	if !st.OK {
		return nil, nil, st
	}
	vec, st := e.vector(v, kind)
	if !st.OK {
		return nil, nil, st
	}
	if !vec.filled || vec.sim != h {
		return nil, nil, native.Failure("info vector %d was not filled from simulation %d", uint64(v), uint64(h))
	}
	n := len(vec.params)
	if kind == speciesVector {
		n = len(vec.species)
	}
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, nil, native.Failure("index %d out of range [0, %d)", idx, n)
		}
	}
	return sim, vec, st
}

func findParameter(m *model, entityID string) *parameter {
	for _, p := range m.params {
		if p.entityID == entityID {
			return p
		}
	}
	return nil
}

func findSpecies(m *model, entityID string) *species {
	for _, s := range m.species {
		if s.entityID == entityID {
			return s
		}
	}
	return nil
}
