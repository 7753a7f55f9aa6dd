package memengine

import (
	"strconv"

	"github.com/san-kum/odectl/internal/native"
)

func (e *Engine) NumberOfTimePoints(h native.SimHandle) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, ok := e.sims[h]
	if !ok || !sim.finalized {
		return 0
	}
	return len(sim.sys.outputTimes)
}

func (e *Engine) FillTimeValues(h native.SimHandle, dst []float64) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.finalizedSim(h)
	if !st.OK {
		return st
	}
	times := sim.sys.outputTimes
	if sim.results != nil {
		times = sim.results.times
	}
	if len(dst) < len(times) {
		return native.Failure("time buffer too small: %d < %d", len(dst), len(times))
	}
	copy(dst, times)
	return st
}

func (e *Engine) withResults(h native.SimHandle) (*simulation, native.Status) {
	sim, st := e.finalizedSim(h)
	if !st.OK {
		return nil, st
	}
	if sim.results == nil {
		if sim.released {
			return nil, native.Failure("Simulation results were released")
		}
		return nil, native.Failure("Simulation has not been run")
	}
	return sim, st
}

func (e *Engine) NumberOfQuantitiesWithValues(h native.SimHandle) (int, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.withResults(h)
	if !st.OK {
		return 0, st
	}
	return len(sim.results.series), st
}

func (e *Engine) FillIDsForQuantitiesWithValues(h native.SimHandle, dst []int) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.withResults(h)
	if !st.OK {
		return st
	}
	if len(dst) < len(sim.results.series) {
		return native.Failure("id buffer too small: %d < %d", len(dst), len(sim.results.series))
	}
	for i, s := range sim.results.series {
		dst[i] = s.entity.id
	}
	return st
}

// quantity returns the handle for quantity id of h, allocating it once.
// The caller holds e.mu.
func (e *Engine) quantity(h native.SimHandle, sim *simulation, id int) native.QuantityHandle {
	if q, ok := sim.handles[id]; ok {
		return q
	}
	q := native.QuantityHandle(e.handle())
	sim.handles[id] = q
	e.quantities[q] = quantityRef{sim: h, id: id}
	return q
}

func (e *Engine) SpeciesByEntityID(h native.SimHandle, entityID string) (native.QuantityHandle, native.Status) {
	return e.find(h, "Species", "entity id "+entityID, func(m *model) (int, bool) {
		for _, s := range m.species {
			if s.entityID == entityID {
				return s.id, true
			}
		}
		return 0, false
	})
}

func (e *Engine) SpeciesByID(h native.SimHandle, id int) (native.QuantityHandle, native.Status) {
	return e.find(h, "Species", "id "+strconv.Itoa(id), func(m *model) (int, bool) {
		for _, s := range m.species {
			if s.id == id {
				return id, true
			}
		}
		return 0, false
	})
}

// ObserverByEntityID also finds persistable parameters, which produce output
// series like observers do.
func (e *Engine) ObserverByEntityID(h native.SimHandle, entityID string) (native.QuantityHandle, native.Status) {
	return e.find(h, "Observer", "entity id "+entityID, func(m *model) (int, bool) {
		for _, o := range m.observers {
			if o.entityID == entityID {
				return o.id, true
			}
		}
		for _, p := range m.params {
			if p.persistable && p.entityID == entityID {
				return p.id, true
			}
		}
		return 0, false
	})
}

func (e *Engine) ObserverByID(h native.SimHandle, id int) (native.QuantityHandle, native.Status) {
	return e.find(h, "Observer", "id "+strconv.Itoa(id), func(m *model) (int, bool) {
		for _, o := range m.observers {
			if o.id == id {
				return id, true
			}
		}
		for _, p := range m.params {
			if p.persistable && p.id == id {
				return id, true
			}
		}
		return 0, false
	})
}

func (e *Engine) QuantityByPath(h native.SimHandle, path string) (native.QuantityHandle, native.Status) {
	return e.find(h, "Quantity", "path "+path, func(m *model) (int, bool) {
		for _, s := range m.species {
			if s.path == path {
				return s.id, true
			}
		}
		for _, o := range m.observers {
			if o.path == path {
				return o.id, true
			}
		}
		for _, p := range m.params {
			if p.path == path {
				return p.id, true
			}
		}
		return 0, false
	})
}

func (e *Engine) find(h native.SimHandle, what, key string, match func(*model) (int, bool)) (native.QuantityHandle, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.loaded(h)
	if !st.OK {
		return 0, st
	}
	id, ok := match(sim.model)
	if !ok {
		return 0, native.Failure("%s with %s not found", what, key)
	}
	return e.quantity(h, sim, id), st
}

// resolve maps a quantity handle back to its simulation. The caller holds e.mu.
func (e *Engine) resolve(q native.QuantityHandle) (*simulation, quantityRef, native.Status) {
	ref, ok := e.quantities[q]
	if !ok {
		return nil, ref, native.Failure("invalid quantity handle %d", uint64(q))
	}
	sim, st := e.lookup(ref.sim)
	return sim, ref, st
}

func (e *Engine) QuantityProperties(q native.QuantityHandle) (native.QuantityProperties, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, ref, st := e.resolve(q)
	if !st.OK {
		return native.QuantityProperties{}, st
	}
	ent, ok := entityByID(sim.model, ref.id)
	if !ok {
		return native.QuantityProperties{}, native.Failure("quantity %d is no longer part of the simulation", ref.id)
	}
	return native.QuantityProperties{EntityID: ent.entityID, Path: ent.path, Name: ent.name}, st
}

func (e *Engine) QuantityIsConstant(q native.QuantityHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, ref, st := e.resolve(q)
	if !st.OK {
		return false
	}
	if sim.results != nil {
		if s, ok := sim.results.lookup(ref.id); ok {
			return s.constant
		}
	}
	for _, s := range sim.model.species {
		if s.id == ref.id {
			return s.constant()
		}
	}
	for _, o := range sim.model.observers {
		if o.id == ref.id {
			return sim.finalized && o.constant
		}
	}
	for _, p := range sim.model.params {
		if p.id == ref.id {
			return sim.finalized && !p.dynamic
		}
	}
	return false
}

func (e *Engine) seriesFor(q native.QuantityHandle) (*simulation, *series, native.Status) {
	_, ref, st := e.resolve(q)
	if !st.OK {
		return nil, nil, st
	}
	sim, st := e.withResults(ref.sim)
	if !st.OK {
		return nil, nil, st
	}
	s, ok := sim.results.lookup(ref.id)
	if !ok {
		return nil, nil, native.Failure("quantity %d has no values", ref.id)
	}
	return sim, s, st
}

func (e *Engine) QuantityValuesSize(q native.QuantityHandle) (int, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, s, st := e.seriesFor(q)
	if !st.OK {
		return 0, st
	}
	return len(s.values), st
}

func (e *Engine) FillQuantityValues(q native.QuantityHandle, dst []float64) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, s, st := e.seriesFor(q)
	if !st.OK {
		return st
	}
	if len(dst) < len(s.values) {
		return native.Failure("value buffer too small: %d < %d", len(dst), len(s.values))
	}
	copy(dst, s.values)
	return st
}

func (e *Engine) QuantityComparisonThreshold(q native.QuantityHandle) (float64, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, s, st := e.seriesFor(q)
	if !st.OK {
		return 0, st
	}
	return s.threshold, st
}

func (e *Engine) FillSensitivityValues(q native.QuantityHandle, dst []float64, parameterPath string) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, s, st := e.seriesFor(q)
	if !st.OK {
		return st
	}
	byQuantity, ok := sim.results.sensitivities[parameterPath]
	if !ok {
		return native.Failure("Sensitivity for parameter %s was not calculated", parameterPath)
	}
	values, ok := byQuantity[s.entity.id]
	if !ok {
		return native.Failure("Sensitivity of %s with respect to %s is not available", s.entity.path, parameterPath)
	}
	if len(dst) < len(values) {
		return native.Failure("sensitivity buffer too small: %d < %d", len(dst), len(values))
	}
	copy(dst, values)
	return st
}

func (e *Engine) NumberOfSolverWarnings(h native.SimHandle) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, ok := e.sims[h]
	if !ok {
		return 0
	}
	return len(sim.warnings)
}

func (e *Engine) FillSolverWarnings(h native.SimHandle, dst []native.SolverWarning) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.lookup(h)
	if !st.OK {
		return st
	}
	if len(dst) < len(sim.warnings) {
		return native.Failure("warning buffer too small: %d < %d", len(dst), len(sim.warnings))
	}
	copy(dst, sim.warnings)
	return st
}

func (e *Engine) XMLVersion(h native.SimHandle) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, ok := e.sims[h]
	if !ok || sim.model == nil {
		return 0
	}
	return sim.model.version
}

func (e *Engine) SimulationXMLString(h native.SimHandle) (string, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.loaded(h)
	if !st.OK {
		return "", st
	}
	if sim.model.source == "" {
		return "", native.Failure("Simulation XML string is not available: set KeepXMLNodeAsString before loading")
	}
	return sim.model.source, st
}

func (e *Engine) ContainsPersistableParameters(h native.SimHandle) (bool, native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.loaded(h)
	if !st.OK {
		return false, st
	}
	return sim.model.persistable(), st
}

func (e *Engine) ObjectPathDelimiter(native.SimHandle) string {
	return pathDelimiter
}

func entityByID(m *model, id int) (entity, bool) {
	for _, s := range m.species {
		if s.id == id {
			return s.entity, true
		}
	}
	for _, o := range m.observers {
		if o.id == id {
			return o.entity, true
		}
	}
	for _, p := range m.params {
		if p.id == id {
			return p.entity, true
		}
	}
	return entity{}, false
}
