package simulation

import (
	"fmt"

	"github.com/san-kum/odectl/internal/native"
	"github.com/san-kum/odectl/internal/simerr"
)

type QuantityKind int

const (
	KindSpecies QuantityKind = iota
	KindObserver
)

func (k QuantityKind) String() string {
	if k == KindObserver {
		return "observer"
	}
	return "species"
}

// VariableValues is an immutable snapshot of one output series. A constant
// series holds exactly one value, any other one value per output time.
type VariableValues struct {
	EntityReference
	Kind                QuantityKind
	IsConstant          bool
	ComparisonThreshold float64
	Values              []float64
}

// At returns the value at output time index k.
func (v *VariableValues) At(k int) float64 {
	if v.IsConstant {
		return v.Values[0]
	}
	return v.Values[k]
}

// NumberOfTimePoints returns the size of the output time raster.
func (s *Simulation) NumberOfTimePoints() (int, error) {
	if err := s.require("number_of_time_points", StateFinalized, StateRunComplete); err != nil {
		return 0, err
	}
	return s.h.eng.NumberOfTimePoints(s.h.id), nil
}

// SimulationTimes returns the output time raster.
func (s *Simulation) SimulationTimes() ([]float64, error) {
	const op = "simulation_times"
	if err := s.require(op, StateFinalized, StateRunComplete); err != nil {
		return nil, err
	}
	times := make([]float64, s.h.eng.NumberOfTimePoints(s.h.id))
	if err := s.h.eng.FillTimeValues(s.h.id, times).Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}
	return times, nil
}

func (s *Simulation) requireValues(op string) error {
	if err := s.require(op, StateRunComplete); err != nil {
		return err
	}
	if s.released {
		return simerr.InvalidState(op, "simulation memory was released")
	}
	return nil
}

// ValuesFor returns the series of the species or observer with the given
// entity id. Persistable parameters are reported as observers.
func (s *Simulation) ValuesFor(entityID string) (*VariableValues, error) {
	const op = "values_for"
	if err := s.requireValues(op); err != nil {
		return nil, err
	}
	eng := s.h.eng
	if q, st := eng.SpeciesByEntityID(s.h.id, entityID); st.OK {
		return s.series(op, q, KindSpecies)
	}
	if q, st := eng.ObserverByEntityID(s.h.id, entityID); st.OK {
		return s.series(op, q, KindObserver)
	}
	return nil, simerr.UnknownEntity(op, entityID)
}

// ValuesForID is ValuesFor by numeric id.
func (s *Simulation) ValuesForID(id int) (*VariableValues, error) {
	const op = "values_for_id"
	if err := s.requireValues(op); err != nil {
		return nil, err
	}
	return s.valuesForID(op, id)
}

func (s *Simulation) valuesForID(op string, id int) (*VariableValues, error) {
	eng := s.h.eng
	if q, st := eng.SpeciesByID(s.h.id, id); st.OK {
		return s.series(op, q, KindSpecies)
	}
	if q, st := eng.ObserverByID(s.h.id, id); st.OK {
		return s.series(op, q, KindObserver)
	}
	return nil, simerr.UnknownEntity(op, fmt.Sprint(id))
}

// AllValues returns every series of the last run in engine order.
func (s *Simulation) AllValues() ([]*VariableValues, error) {
	const op = "all_values"
	if err := s.requireValues(op); err != nil {
		return nil, err
	}
	eng := s.h.eng
	n, st := eng.NumberOfQuantitiesWithValues(s.h.id)
	if err := st.Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}
	ids := make([]int, n)
	if err := eng.FillIDsForQuantitiesWithValues(s.h.id, ids).Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}
	out := make([]*VariableValues, 0, n)
	for _, id := range ids {
		v, err := s.valuesForID(op, id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Simulation) series(op string, q native.QuantityHandle, kind QuantityKind) (*VariableValues, error) {
	eng := s.h.eng
	props, st := eng.QuantityProperties(q)
	if err := st.Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}
	n, st := eng.QuantityValuesSize(q)
	if err := st.Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}
	values := make([]float64, n)
	if err := eng.FillQuantityValues(q, values).Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}
	threshold, st := eng.QuantityComparisonThreshold(q)
	if err := st.Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}
	return &VariableValues{
		EntityReference:     EntityReference{EntityID: props.EntityID, Path: props.Path, Name: props.Name},
		Kind:                kind,
		IsConstant:          eng.QuantityIsConstant(q),
		ComparisonThreshold: threshold,
		Values:              values,
	}, nil
}

// SensitivityValuesByPathFor returns d quantity / d parameter at every
// output time. The parameter must have been a variable parameter with
// CalculateSensitivity set before Finalize.
func (s *Simulation) SensitivityValuesByPathFor(quantityPath, parameterPath string) ([]float64, error) {
	const op = "sensitivity_values"
	if err := s.requireValues(op); err != nil {
		return nil, err
	}
	eng := s.h.eng
	q, st := eng.QuantityByPath(s.h.id, quantityPath)
	if !st.OK {
		return nil, simerr.New(simerr.KindUnknownEntity, op).Entity(quantityPath).DetailText(st.Message).Build()
	}
	values := make([]float64, eng.NumberOfTimePoints(s.h.id))
	if err := eng.FillSensitivityValues(q, values, parameterPath).Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}
	return values, nil
}
