package simulation

import (
	"cmp"
	"slices"

	"github.com/san-kum/odectl/internal/native"
	"github.com/san-kum/odectl/internal/simerr"
)

// TablePoint is one breakpoint of a table formula. RestartSolver marks a
// point the solution is not smooth across.
type TablePoint = native.TablePoint

// collection is one fetched snapshot of an engine info vector. Proxies
// address entries by index and are valid only while gen is current.
type collection struct {
	sim  *Simulation
	kind vectorKind
	vec  native.VectorHandle
	gen  uint64
}

func (c *collection) check(op, entityID string) error {
	s := c.sim
	if s.h.closed() {
		return simerr.New(simerr.KindInvalidState, op).Entity(entityID).Detail("simulation disposed").Build()
	}
	if c.gen != s.gen {
		return simerr.New(simerr.KindInvalidState, op).
			Entity(entityID).
			Detail("proxy from generation %d used in generation %d; refetch after Load or Finalize", c.gen, s.gen).
			Build()
	}
	if !s.h.live(c.kind, c.vec) {
		return simerr.New(simerr.KindInvalidState, op).
			Entity(entityID).
			Detail("proxy superseded by a later fetch; use the latest proxies").
			Build()
	}
	return nil
}

// Parameter is a view of one entry of a fetched parameter collection.
// Getters return the values cached at fetch time; setters write through to
// the engine and update the cache only when the engine accepts the change.
type Parameter struct {
	EntityReference

	col   *collection
	index int

	id                   int
	description          string
	unit                 string
	value                float64
	isFormula            bool
	formula              string
	calculateSensitivity bool
	tablePoints          []TablePoint
}

func newParameter(col *collection, index int, info native.ParameterInfo) *Parameter {
	return &Parameter{
		EntityReference:      EntityReference{EntityID: info.EntityID, Path: info.Path, Name: info.Name},
		col:                  col,
		index:                index,
		id:                   info.ID,
		description:          info.Description,
		unit:                 info.Unit,
		value:                info.Value,
		isFormula:            info.IsFormula,
		formula:              info.Formula,
		calculateSensitivity: info.CalculateSensitivity,
		tablePoints:          sortedTable(info.TablePoints),
	}
}

// Index is the position in the engine collection the proxy was fetched from.
func (p *Parameter) Index() int { return p.index }

func (p *Parameter) ID() int                    { return p.id }
func (p *Parameter) Description() string        { return p.description }
func (p *Parameter) Unit() string               { return p.unit }
func (p *Parameter) Value() float64             { return p.value }
func (p *Parameter) IsFormula() bool            { return p.isFormula }
func (p *Parameter) Formula() string            { return p.formula }
func (p *Parameter) IsTable() bool              { return len(p.tablePoints) > 0 }
func (p *Parameter) CalculateSensitivity() bool { return p.calculateSensitivity }

func (p *Parameter) TablePoints() []TablePoint {
	return append([]TablePoint(nil), p.tablePoints...)
}

// SetValue replaces the parameter definition with a constant value.
func (p *Parameter) SetValue(v float64) error {
	const op = "set_parameter_value"
	if err := p.col.check(op, p.EntityID); err != nil {
		return err
	}
	st := p.col.sim.h.eng.SetParameterValue(p.col.vec, p.index, v)
	if err := p.err(st, op); err != nil {
		return err
	}
	p.value = v
	p.isFormula = false
	p.formula = ""
	p.tablePoints = nil
	return nil
}

// SetTablePoints replaces all breakpoints of the table formula.
func (p *Parameter) SetTablePoints(points []TablePoint) error {
	const op = "set_parameter_table_points"
	if err := p.col.check(op, p.EntityID); err != nil {
		return err
	}
	st := p.col.sim.h.eng.SetParameterTablePoints(p.col.vec, p.index, points)
	if err := p.err(st, op); err != nil {
		return err
	}
	p.tablePoints = sortedTable(points)
	p.isFormula = false
	p.formula = ""
	return nil
}

// SetCalculateSensitivity takes effect for variable parameters registered
// before Finalize.
func (p *Parameter) SetCalculateSensitivity(calculate bool) error {
	const op = "set_parameter_sensitivity"
	if err := p.col.check(op, p.EntityID); err != nil {
		return err
	}
	st := p.col.sim.h.eng.SetParameterCalculateSensitivity(p.col.vec, p.index, calculate)
	if err := p.err(st, op); err != nil {
		return err
	}
	p.calculateSensitivity = calculate
	return nil
}

// IsUsedInSimulation queries the engine on every call.
func (p *Parameter) IsUsedInSimulation() (bool, error) {
	const op = "parameter_is_used"
	if err := p.col.check(op, p.EntityID); err != nil {
		return false, err
	}
	used, st := p.col.sim.h.eng.ParameterIsUsedInSimulation(p.col.vec, p.index)
	if err := p.err(st, op); err != nil {
		return false, err
	}
	return used, nil
}

func (p *Parameter) err(st native.Status, op string) error {
	if st.OK {
		return nil
	}
	return simerr.New(simerr.KindEngine, op).Entity(p.EntityID).DetailText(st.Message).Build()
}

func (s *Simulation) fetchParameters(op string) (params []*Parameter, err error) {
	eng := s.h.eng
	vec, st := s.h.newVector(parameterVector)
	if err := st.Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.h.discard(parameterVector, vec)
		}
	}()
	if err := eng.FillParameterInfos(s.h.id, vec).Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}
	n, st := eng.NumberOfParameterInfos(vec)
	if err := st.Err(simerr.KindEngine, op); err != nil {
		return nil, err
	}

	col := &collection{sim: s, kind: parameterVector, vec: vec, gen: s.gen}
	params = make([]*Parameter, n)
	for i := range params {
		info, st := eng.ParameterInfo(vec, i)
		if err := st.Err(simerr.KindEngine, op); err != nil {
			return nil, err
		}
		params[i] = newParameter(col, i, info)
	}
	return params, nil
}

// FindParameter returns the parameter whose entity id or path is key.
func FindParameter(params []*Parameter, key string) *Parameter {
	for _, p := range params {
		if p.EntityID == key || p.Path == key {
			return p
		}
	}
	return nil
}

// sortedTable returns a copy of points ordered by x, the order the engine
// stores them in.
func sortedTable(points []TablePoint) []TablePoint {
	if len(points) == 0 {
		return nil
	}
	sorted := slices.Clone(points)
	slices.SortStableFunc(sorted, func(a, b TablePoint) int {
		return cmp.Compare(a.X, b.X)
	})
	return sorted
}
