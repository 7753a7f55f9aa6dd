package simulation

import (
	"github.com/san-kum/odectl/internal/native"
	"github.com/san-kum/odectl/internal/simerr"
)

// Parameters returns the parameter proxies fetched by the last Load or
// Finalize without querying the engine.
func (s *Simulation) Parameters() []*Parameter {
	return append([]*Parameter(nil), s.params...)
}

// Species returns the species proxies fetched by the last Load or Finalize.
func (s *Simulation) Species() []*Species {
	return append([]*Species(nil), s.species...)
}

// ParameterProperties fetches fresh parameter proxies carrying the engine's
// current values. Proxies from earlier fetches of this generation stop
// working unless they belong to the registered variable set.
func (s *Simulation) ParameterProperties() ([]*Parameter, error) {
	const op = "parameter_properties"
	if err := s.requireLoaded(op); err != nil {
		return nil, err
	}
	params, err := s.fetchParameters(op)
	if err != nil {
		return nil, err
	}
	keep := []native.VectorHandle{}
	if len(params) > 0 {
		keep = append(keep, params[0].col.vec)
	}
	if len(s.variableParams) > 0 {
		keep = append(keep, s.variableParams[0].col.vec)
	}
	s.h.supersede(parameterVector, keep...)
	s.params = params
	return append([]*Parameter(nil), params...), nil
}

// SpeciesProperties fetches fresh species proxies carrying the engine's
// current values.
func (s *Simulation) SpeciesProperties() ([]*Species, error) {
	const op = "species_properties"
	if err := s.requireLoaded(op); err != nil {
		return nil, err
	}
	species, err := s.fetchSpecies(op)
	if err != nil {
		return nil, err
	}
	keep := []native.VectorHandle{}
	if len(species) > 0 {
		keep = append(keep, species[0].col.vec)
	}
	if len(s.variableSpecies) > 0 {
		keep = append(keep, s.variableSpecies[0].col.vec)
	}
	s.h.supersede(speciesVector, keep...)
	s.species = species
	return append([]*Species(nil), species...), nil
}

// owner checks that every proxy belongs to this simulation's current
// generation and to a single fetched collection, and returns that
// collection.
func (s *Simulation) owner(op string, cols []*collection, ids []string) (*collection, error) {
	var col *collection
	for i, c := range cols {
		if c == nil || c.sim != s {
			return nil, simerr.New(simerr.KindInvalidState, op).Entity(ids[i]).Detail("proxy belongs to another simulation").Build()
		}
		if err := c.check(op, ids[i]); err != nil {
			return nil, err
		}
		if col != nil && c != col {
			return nil, simerr.New(simerr.KindInvalidState, op).Entity(ids[i]).Detail("variable set mixes proxies from different fetches").Build()
		}
		col = c
	}
	return col, nil
}

// SetVariableParameters registers params as the variable parameters,
// replacing any earlier registration, and pushes their current values.
func (s *Simulation) SetVariableParameters(params []*Parameter) error {
	const op = "set_variable_parameters"
	if err := s.requireLoaded(op); err != nil {
		return err
	}
	return s.registerParameters(op, params)
}

func (s *Simulation) registerParameters(op string, params []*Parameter) error {
	cols := make([]*collection, len(params))
	ids := make([]string, len(params))
	indices := make([]int, len(params))
	for i, p := range params {
		if p == nil {
			return simerr.InvalidState(op, "nil parameter at position %d", i)
		}
		cols[i], ids[i], indices[i] = p.col, p.EntityID, p.index
	}
	col, err := s.owner(op, cols, ids)
	if err != nil {
		return err
	}
	if col == nil {
		if len(s.params) == 0 {
			s.variableParams = nil
			return nil
		}
		col = s.params[0].col
	}
	if err := s.h.eng.SetVariableParameters(s.h.id, col.vec, indices).Err(simerr.KindEngine, op); err != nil {
		return err
	}
	s.variableParams = append([]*Parameter(nil), params...)
	return nil
}

// VariableParameters returns the registered variable parameters. After
// Finalize these are proxies of the new generation.
func (s *Simulation) VariableParameters() []*Parameter {
	return append([]*Parameter(nil), s.variableParams...)
}

// SetParameterValues pushes the current values of the registered variable
// parameters to the engine.
func (s *Simulation) SetParameterValues() error {
	const op = "set_parameter_values"
	if err := s.requireLoaded(op); err != nil {
		return err
	}
	if len(s.variableParams) == 0 {
		return nil
	}
	cols := make([]*collection, len(s.variableParams))
	ids := make([]string, len(s.variableParams))
	indices := make([]int, len(s.variableParams))
	for i, p := range s.variableParams {
		cols[i], ids[i], indices[i] = p.col, p.EntityID, p.index
	}
	col, err := s.owner(op, cols, ids)
	if err != nil {
		return err
	}
	return s.h.eng.SetParameterValues(s.h.id, col.vec, indices).Err(simerr.KindEngine, op)
}

// SetVariableSpecies registers species as the variable species, replacing
// any earlier registration, and pushes their current values.
func (s *Simulation) SetVariableSpecies(species []*Species) error {
	const op = "set_variable_species"
	if err := s.requireLoaded(op); err != nil {
		return err
	}
	return s.registerSpecies(op, species)
}

func (s *Simulation) registerSpecies(op string, species []*Species) error {
	cols := make([]*collection, len(species))
	ids := make([]string, len(species))
	indices := make([]int, len(species))
	for i, sp := range species {
		if sp == nil {
			return simerr.InvalidState(op, "nil species at position %d", i)
		}
		cols[i], ids[i], indices[i] = sp.col, sp.EntityID, sp.index
	}
	col, err := s.owner(op, cols, ids)
	if err != nil {
		return err
	}
	if col == nil {
		if len(s.species) == 0 {
			s.variableSpecies = nil
			return nil
		}
		col = s.species[0].col
	}
	if err := s.h.eng.SetVariableSpecies(s.h.id, col.vec, indices).Err(simerr.KindEngine, op); err != nil {
		return err
	}
	s.variableSpecies = append([]*Species(nil), species...)
	return nil
}

func (s *Simulation) VariableSpecies() []*Species {
	return append([]*Species(nil), s.variableSpecies...)
}

// SetSpeciesValues pushes the current initial values and scale factors of
// the registered variable species to the engine.
func (s *Simulation) SetSpeciesValues() error {
	const op = "set_species_values"
	if err := s.requireLoaded(op); err != nil {
		return err
	}
	if len(s.variableSpecies) == 0 {
		return nil
	}
	cols := make([]*collection, len(s.variableSpecies))
	ids := make([]string, len(s.variableSpecies))
	indices := make([]int, len(s.variableSpecies))
	for i, sp := range s.variableSpecies {
		cols[i], ids[i], indices[i] = sp.col, sp.EntityID, sp.index
	}
	col, err := s.owner(op, cols, ids)
	if err != nil {
		return err
	}
	return s.h.eng.SetSpeciesValues(s.h.id, col.vec, indices).Err(simerr.KindEngine, op)
}
