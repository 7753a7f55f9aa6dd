package simulation

import (
	"github.com/san-kum/odectl/internal/native"
	"github.com/san-kum/odectl/internal/simerr"
)

// Species is a view of one entry of a fetched species collection.
type Species struct {
	EntityReference

	col   *collection
	index int

	id           int
	unit         string
	initialValue float64
	scaleFactor  float64
}

func newSpecies(col *collection, index int, info native.SpeciesInfo) *Species {
	scale := info.ScaleFactor
	if scale == 0 {
		scale = 1
	}
	return &Species{
		EntityReference: EntityReference{EntityID: info.EntityID, Path: info.Path, Name: info.Name},
		col:             col,
		index:           index,
		id:              info.ID,
		unit:            info.Unit,
		initialValue:    info.InitialValue,
		scaleFactor:     scale,
	}
}

func (sp *Species) Index() int            { return sp.index }
func (sp *Species) ID() int               { return sp.id }
func (sp *Species) Unit() string          { return sp.unit }
func (sp *Species) InitialValue() float64 { return sp.initialValue }
func (sp *Species) ScaleFactor() float64  { return sp.scaleFactor }

func (sp *Species) SetInitialValue(v float64) error {
	const op = "set_species_initial_value"
	if err := sp.col.check(op, sp.EntityID); err != nil {
		return err
	}
	if err := sp.err(sp.col.sim.h.eng.SetSpeciesInitialValue(sp.col.vec, sp.index, v), op); err != nil {
		return err
	}
	sp.initialValue = v
	return nil
}

// SetScaleFactor sets the factor the solver divides the species by. It must
// be positive.
func (sp *Species) SetScaleFactor(v float64) error {
	const op = "set_species_scale_factor"
	if err := sp.col.check(op, sp.EntityID); err != nil {
		return err
	}
	if err := sp.err(sp.col.sim.h.eng.SetSpeciesScaleFactor(sp.col.vec, sp.index, v), op); err != nil {
		return err
	}
	sp.scaleFactor = v
	return nil
}

func (sp *Species) IsUsedInSimulation() (bool, error) {
	const op = "species_is_used"
	if err := sp.col.check(op, sp.EntityID); err != nil {
		return false, err
	}
	used, st := sp.col.sim.h.eng.SpeciesIsUsedInSimulation(sp.col.vec, sp.index)
	if err := sp.err(st, op); err != nil {
		return false, err
	}
	return used, nil
}

func (sp *Species) err(st native.Status, op string) error {
	if st.OK {
		return nil
	}
	return simerr.New(simerr.KindEngine, op).Entity(sp.EntityID).DetailText(st.Message).Build()
}

func (s *Simulation) fetchSpecies(op string) (species []*Species, err error) {
	eng := s.h.eng
	vec, st := s.h.newVector(speciesVector)
	if err := st.Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.h.discard(speciesVector, vec)
		}
	}()
	if err := eng.FillSpeciesInfos(s.h.id, vec).Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}
	n, st := eng.NumberOfSpeciesInfos(vec)
	if err := st.Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}

	col := &collection{sim: s, kind: speciesVector, vec: vec, gen: s.gen}
	species = make([]*Species, n)
	for i := range species {
		info, st := eng.SpeciesInfo(vec, i)
		if err := st.Err(simerr.KindEngine, op); err != nil {
			return nil, err
		}
		species[i] = newSpecies(col, i, info)
	}
	return species, nil
}

// FindSpecies returns the species whose entity id or path is key.
func FindSpecies(species []*Species, key string) *Species {
	for _, sp := range species {
		if sp.EntityID == key || sp.Path == key {
			return sp
		}
	}
	return nil
}
