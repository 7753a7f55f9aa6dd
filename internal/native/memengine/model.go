package memengine

import (
	"encoding/xml"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/odectl/internal/formula"
	"github.com/san-kum/odectl/internal/native"
)

const pathDelimiter = "|"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Document is the XML model format read by the engine. It can be built in
// code and rendered with [Document.Marshal].
type Document struct {
	XMLName    xml.Name      `xml:"Simulation"`
	Version    string        `xml:"version,attr,omitempty"`
	Solver     Solver        `xml:"Solver"`
	Output     OutputSchema  `xml:"OutputSchema"`
	Parameters []Parameter   `xml:"Parameters>Parameter,omitempty"`
	Species    []SpeciesNode `xml:"Species>Species,omitempty"`
	Observers  []Observer    `xml:"Observers>Observer,omitempty"`
}

type Solver struct {
	AbsTol   string `xml:"absTol,attr,omitempty"`
	RelTol   string `xml:"relTol,attr,omitempty"`
	Method   string `xml:"method,attr,omitempty"`
	H0       string `xml:"h0,attr,omitempty"`
	MaxSteps string `xml:"maxSteps,attr,omitempty"`
}

type OutputSchema struct {
	Intervals  []Interval `xml:"Interval"`
	TimePoints []string   `xml:"TimePoint,omitempty"`
}

type Interval struct {
	Start        string `xml:"start,attr"`
	End          string `xml:"end,attr"`
	Points       string `xml:"points,attr,omitempty"`
	Distribution string `xml:"distribution,attr,omitempty"`
}

// Entity holds the attributes shared by parameters, species and observers.
type Entity struct {
	ID          string `xml:"id,attr"`
	EntityID    string `xml:"entityId,attr"`
	Name        string `xml:"name,attr,omitempty"`
	Path        string `xml:"path,attr,omitempty"`
	Unit        string `xml:"unit,attr,omitempty"`
	Description string `xml:"description,attr,omitempty"`
}

// Parameter is defined by exactly one of Value, Formula or Table.
type Parameter struct {
	Entity
	Value       string  `xml:"value,attr,omitempty"`
	Formula     string  `xml:"formula,attr,omitempty"`
	Persistable string  `xml:"persistable,attr,omitempty"`
	Table       []Point `xml:"Table>Point,omitempty"`
}

type Point struct {
	X             string `xml:"x,attr"`
	Y             string `xml:"y,attr"`
	RestartSolver string `xml:"restartSolver,attr,omitempty"`
}

type SpeciesNode struct {
	Entity
	InitialValue          string `xml:"initialValue,attr"`
	RHS                   string `xml:"rhs,attr,omitempty"`
	ScaleFactor           string `xml:"scaleFactor,attr,omitempty"`
	NegativeValuesAllowed string `xml:"negativeValuesAllowed,attr,omitempty"`
}

type Observer struct {
	Entity
	Formula string `xml:"formula,attr"`
}

// Marshal renders the document as indented XML.
func (d *Document) Marshal() (string, error) {
	out, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type entity struct {
	id          int
	entityID    string
	name        string
	path        string
	unit        string
	description string
}

type parameter struct {
	entity
	value       float64
	expr        *formula.Expr
	table       []native.TablePoint
	persistable bool

	variable    bool
	sensitivity bool

	// set by finalize
	dynamic bool
	used    bool
}

func (p *parameter) isFormula() bool { return p.expr != nil }

type species struct {
	entity
	initial         float64
	scale           float64
	rhs             *formula.Expr
	negativeAllowed bool

	variable bool
	used     bool
}

// constant reports whether the species has no dynamics.
func (s *species) constant() bool {
	if s.rhs == nil {
		return true
	}
	v, ok := s.rhs.Literal()
	return ok && v == 0
}

type observer struct {
	entity
	expr *formula.Expr

	constant bool
	used     bool
}

type interval struct {
	start, end  float64
	points      int
	logarithmic bool
}

type model struct {
	version  int
	absTol   float64
	relTol   float64
	method   string
	h0       float64
	maxSteps int

	intervals  []interval
	timePoints []float64

	params    []*parameter
	species   []*species
	observers []*observer

	source string
}

// parseModel decodes and checks a model document. validate enables the
// stricter checks of ValidateWithXMLSchema.
func parseModel(data []byte, validate bool) (*model, error) {
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed model document: %w", err)
	}

	m := &model{method: "rk45", absTol: 1e-10, relTol: 1e-10}
	var p attrParser

	if doc.Version != "" {
		m.version = p.int("Simulation", "version", doc.Version, 0)
	} else if validate {
		return nil, fmt.Errorf("schema validation failed: Simulation element has no version attribute")
	}

	m.absTol = p.float("Solver", "absTol", doc.Solver.AbsTol, m.absTol)
	m.relTol = p.float("Solver", "relTol", doc.Solver.RelTol, m.relTol)
	m.h0 = p.float("Solver", "h0", doc.Solver.H0, 0)
	m.maxSteps = p.int("Solver", "maxSteps", doc.Solver.MaxSteps, 100000)
	if doc.Solver.Method != "" {
		m.method = strings.ToLower(doc.Solver.Method)
	}

	for _, in := range doc.Output.Intervals {
		iv := interval{
			start:  p.float("Interval", "start", in.Start, math.NaN()),
			end:    p.float("Interval", "end", in.End, math.NaN()),
			points: p.int("Interval", "points", in.Points, 2),
		}
		switch strings.ToLower(in.Distribution) {
		case "", "uniform", "equidistant":
		case "log", "logarithmic":
			iv.logarithmic = true
		default:
			p.fail("Interval: unknown distribution %q", in.Distribution)
		}
		m.intervals = append(m.intervals, iv)
	}
	for _, tp := range doc.Output.TimePoints {
		m.timePoints = append(m.timePoints, p.float("TimePoint", "value", strings.TrimSpace(tp), math.NaN()))
	}

	for _, n := range doc.Parameters {
		par := &parameter{
			entity:      p.entity("Parameter", n.Entity),
			persistable: p.bool("Parameter", "persistable", n.Persistable, false),
		}
		switch {
		case len(n.Table) > 0:
			for _, pt := range n.Table {
				par.table = append(par.table, native.TablePoint{
					X:             p.float("Point", "x", pt.X, math.NaN()),
					Y:             p.float("Point", "y", pt.Y, math.NaN()),
					RestartSolver: p.bool("Point", "restartSolver", pt.RestartSolver, false),
				})
			}
			sortTable(par.table)
		case n.Formula != "":
			par.expr = p.formula(par.entityID, n.Formula)
		default:
			par.value = p.float("Parameter "+par.entityID, "value", n.Value, math.NaN())
		}
		m.params = append(m.params, par)
	}

	for _, n := range doc.Species {
		sp := &species{
			entity:          p.entity("Species", n.Entity),
			initial:         p.float("Species "+n.EntityID, "initialValue", n.InitialValue, math.NaN()),
			scale:           p.float("Species "+n.EntityID, "scaleFactor", n.ScaleFactor, 1),
			negativeAllowed: p.bool("Species", "negativeValuesAllowed", n.NegativeValuesAllowed, true),
		}
		if strings.TrimSpace(n.RHS) != "" {
			sp.rhs = p.formula(sp.entityID, n.RHS)
		}
		m.species = append(m.species, sp)
	}

	for _, n := range doc.Observers {
		ob := &observer{entity: p.entity("Observer", n.Entity)}
		if strings.TrimSpace(n.Formula) == "" {
			p.fail("Observer %s: missing formula", ob.entityID)
		} else {
			ob.expr = p.formula(ob.entityID, n.Formula)
		}
		m.observers = append(m.observers, ob)
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := m.check(validate); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *model) check(validate bool) error {
	if m.absTol <= 0 || m.relTol <= 0 {
		return fmt.Errorf("solver tolerances must be positive (absTol=%g, relTol=%g)", m.absTol, m.relTol)
	}
	switch m.method {
	case "rk45", "rk4", "euler":
	default:
		return fmt.Errorf("unknown solver method %q", m.method)
	}
	if len(m.intervals) == 0 && len(m.timePoints) == 0 {
		return fmt.Errorf("output schema defines no time points")
	}
	for _, iv := range m.intervals {
		if iv.end < iv.start {
			return fmt.Errorf("output interval end %g is before start %g", iv.end, iv.start)
		}
		if iv.logarithmic && iv.start <= 0 {
			return fmt.Errorf("logarithmic output interval must start after 0")
		}
		if validate && iv.points < 2 {
			return fmt.Errorf("schema validation failed: output interval needs at least 2 points, got %d", iv.points)
		}
	}

	ids := make(map[int]string)
	known := map[string]bool{formula.TimeVariable: true}
	register := func(e entity) error {
		if prev, ok := ids[e.id]; ok {
			return fmt.Errorf("duplicate id %d (%s and %s)", e.id, prev, e.entityID)
		}
		if known[e.entityID] {
			return fmt.Errorf("duplicate entity id %q", e.entityID)
		}
		if validate {
			if !identifier.MatchString(e.entityID) {
				return fmt.Errorf("schema validation failed: entity id %q is not a valid identifier", e.entityID)
			}
			if strings.Contains(e.name, pathDelimiter) {
				return fmt.Errorf("schema validation failed: name %q of %s contains the path delimiter", e.name, e.entityID)
			}
		}
		ids[e.id] = e.entityID
		known[e.entityID] = true
		return nil
	}

	for _, p := range m.params {
		if err := register(p.entity); err != nil {
			return err
		}
	}
	for _, s := range m.species {
		if err := register(s.entity); err != nil {
			return err
		}
		if s.scale <= 0 {
			return fmt.Errorf("species %s: scale factor must be positive, got %g", s.entityID, s.scale)
		}
	}
	// observers may not be referenced by other formulas
	quantities := make(map[string]bool, len(known))
	for k := range known {
		quantities[k] = true
	}
	for _, o := range m.observers {
		if err := register(o.entity); err != nil {
			return err
		}
	}

	resolve := func(owner string, e *formula.Expr) error {
		if e == nil {
			return nil
		}
		for _, ref := range e.References() {
			if !quantities[ref] {
				return fmt.Errorf("%s: formula %q references unknown entity %q", owner, e, ref)
			}
		}
		return nil
	}
	for _, p := range m.params {
		if err := resolve(p.entityID, p.expr); err != nil {
			return err
		}
		for i := 1; i < len(p.table); i++ {
			if p.table[i].X == p.table[i-1].X {
				return fmt.Errorf("%s: duplicate table point x=%g", p.entityID, p.table[i].X)
			}
		}
	}
	for _, s := range m.species {
		if err := resolve(s.entityID, s.rhs); err != nil {
			return err
		}
	}
	for _, o := range m.observers {
		if err := resolve(o.entityID, o.expr); err != nil {
			return err
		}
	}
	return nil
}

func (m *model) persistable() bool {
	for _, p := range m.params {
		if p.persistable {
			return true
		}
	}
	return false
}

func sortTable(points []native.TablePoint) {
	sort.SliceStable(points, func(i, j int) bool { return points[i].X < points[j].X })
}

// attrParser collects the first attribute conversion error.
type attrParser struct {
	err error
}

func (p *attrParser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf(format, args...)
	}
}

func (p *attrParser) float(elem, attr, raw string, def float64) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if math.IsNaN(def) {
			p.fail("%s: missing %s", elem, attr)
		}
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail("%s: invalid %s %q", elem, attr, raw)
		return def
	}
	return v
}

func (p *attrParser) int(elem, attr, raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail("%s: invalid %s %q", elem, attr, raw)
		return def
	}
	return v
}

func (p *attrParser) bool(elem, attr, raw string, def bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	p.fail("%s: invalid %s %q", elem, attr, raw)
	return def
}

func (p *attrParser) entity(elem string, a Entity) entity {
	e := entity{
		entityID:    strings.TrimSpace(a.EntityID),
		name:        a.Name,
		path:        a.Path,
		unit:        a.Unit,
		description: a.Description,
	}
	if e.entityID == "" {
		p.fail("%s: missing entityId", elem)
	}
	if strings.TrimSpace(a.ID) == "" {
		p.fail("%s %s: missing id", elem, e.entityID)
	} else {
		e.id = p.int(elem+" "+e.entityID, "id", a.ID, 0)
	}
	if e.name == "" {
		e.name = e.entityID
	}
	if e.path == "" {
		e.path = e.name
	}
	return e
}

func (p *attrParser) formula(owner, src string) *formula.Expr {
	e, err := formula.Parse(src)
	if err != nil {
		p.fail("%s: %v", owner, err)
		return nil
	}
	return e
}
