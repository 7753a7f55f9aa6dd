package memengine

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/san-kum/odectl/internal/formula"
	"github.com/san-kum/odectl/internal/native"
)

// system is the evaluation-ready view of a finalized model.
type system struct {
	m *model

	static  []*parameter // formulas evaluated once per run, dependency ordered
	dynamic []*parameter // tables and formulas evaluated on every RHS call
	ode     []*species
	fixed   []*species

	outputTimes []float64
}

// finalize orders parameters for evaluation, separates dynamic from constant
// quantities and reorders the model collections accordingly.
func finalize(m *model, opts native.Options) (*system, error) {
	sys := &system{m: m}
	for _, s := range m.species {
		if s.constant() {
			sys.fixed = append(sys.fixed, s)
		} else {
			sys.ode = append(sys.ode, s)
		}
	}
	if err := sys.refresh(); err != nil {
		return nil, err
	}

	markUsed(m, opts.IdentifyUsedParameters)

	var params []*parameter
	for _, p := range m.params {
		if !p.isFormula() && len(p.table) == 0 {
			params = append(params, p)
		}
	}
	params = append(params, sys.static...)
	m.params = append(params, sys.dynamic...)
	m.species = append(append([]*species{}, sys.ode...), sys.fixed...)

	sys.outputTimes = outputTimes(m, opts.UseFloatComparisonInUserOutputTimePoints)
	if len(sys.outputTimes) == 0 {
		return nil, fmt.Errorf("output schema produced no time points")
	}
	return sys, nil
}

// refresh recomputes the static/dynamic split after parameter definitions
// changed between runs, keeping the finalized collection order.
func (s *system) refresh() error {
	order, err := parameterOrder(s.m.params)
	if err != nil {
		return err
	}
	varying := map[string]bool{formula.TimeVariable: true}
	for _, sp := range s.ode {
		varying[sp.entityID] = true
	}
	s.static, s.dynamic = s.static[:0], s.dynamic[:0]
	for _, p := range order {
		if !p.isFormula() && len(p.table) == 0 {
			p.dynamic = false
			continue
		}
		p.dynamic = len(p.table) > 0
		if p.expr != nil {
			for _, ref := range p.expr.References() {
				if varying[ref] {
					p.dynamic = true
					break
				}
			}
		}
		if p.dynamic {
			varying[p.entityID] = true
			s.dynamic = append(s.dynamic, p)
		} else {
			s.static = append(s.static, p)
		}
	}
	for _, o := range s.m.observers {
		o.constant = true
		for _, ref := range o.expr.References() {
			if varying[ref] {
				o.constant = false
				break
			}
		}
	}
	return nil
}

// parameterOrder sorts parameters so every formula follows the parameters it
// reads. Declaration order is kept among independent parameters.
func parameterOrder(params []*parameter) ([]*parameter, error) {
	index := make(map[string]int, len(params))
	for i, p := range params {
		index[p.entityID] = i
	}

	indegree := make([]int, len(params))
	dependents := make([][]int, len(params))
	for i, p := range params {
		if p.expr == nil {
			continue
		}
		for _, ref := range p.expr.References() {
			j, ok := index[ref]
			if !ok {
				continue
			}
			if j == i {
				return nil, fmt.Errorf("parameter %s references itself", p.entityID)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i := range params {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	out := make([]*parameter, 0, len(params))
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		out = append(out, params[i])
		for _, d := range dependents[i] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(out) != len(params) {
		var cycle []string
		for i, p := range params {
			if indegree[i] > 0 {
				cycle = append(cycle, p.entityID)
			}
		}
		return nil, fmt.Errorf("circular reference between parameters: %s", strings.Join(cycle, ", "))
	}
	return out, nil
}

func markUsed(m *model, identify bool) {
	if !identify {
		for _, p := range m.params {
			p.used = true
		}
		for _, s := range m.species {
			s.used = true
		}
		for _, o := range m.observers {
			o.used = true
		}
		return
	}

	referenced := make(map[string]bool)
	var queue []*formula.Expr
	for _, s := range m.species {
		if s.rhs != nil {
			queue = append(queue, s.rhs)
		}
	}
	for _, o := range m.observers {
		o.used = true
		queue = append(queue, o.expr)
	}
	byID := make(map[string]*parameter, len(m.params))
	for _, p := range m.params {
		byID[p.entityID] = p
		if p.persistable {
			referenced[p.entityID] = true
			if p.expr != nil {
				queue = append(queue, p.expr)
			}
		}
	}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		for _, ref := range e.References() {
			if referenced[ref] {
				continue
			}
			referenced[ref] = true
			if p, ok := byID[ref]; ok && p.expr != nil {
				queue = append(queue, p.expr)
			}
		}
	}
	for _, p := range m.params {
		p.used = referenced[p.entityID]
	}
	for _, s := range m.species {
		s.used = !s.constant() || referenced[s.entityID]
	}
}

func outputTimes(m *model, floatComparison bool) []float64 {
	var times []float64
	for _, iv := range m.intervals {
		if iv.points <= 1 || iv.end == iv.start {
			times = append(times, iv.start)
			continue
		}
		n := iv.points - 1
		for i := 0; i <= n; i++ {
			frac := float64(i) / float64(n)
			if iv.logarithmic {
				times = append(times, iv.start*math.Pow(iv.end/iv.start, frac))
			} else {
				times = append(times, iv.start+frac*(iv.end-iv.start))
			}
		}
	}
	times = append(times, m.timePoints...)
	sort.Float64s(times)

	out := times[:0]
	for _, t := range times {
		if len(out) > 0 && sameTime(out[len(out)-1], t, floatComparison) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func sameTime(a, b float64, floatComparison bool) bool {
	if !floatComparison {
		return a == b
	}
	return math.Abs(a-b) <= 1e-10*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// restartTimes lists table breakpoints inside (start, end) flagged as
// solver restarts.
func (s *system) restartTimes(start, end float64) []float64 {
	var out []float64
	for _, p := range s.dynamic {
		for _, pt := range p.table {
			if pt.RestartSolver && pt.X > start && pt.X < end {
				out = append(out, pt.X)
			}
		}
	}
	sort.Float64s(out)
	return out
}

// env holds the variable bindings used to evaluate formulas.
type env struct {
	sys  *system
	vars formula.Vars
	y    []float64
}

func (s *system) newEnv() (*env, error) {
	e := &env{
		sys:  s,
		vars: make(formula.Vars, len(s.m.params)+len(s.m.species)+1),
		y:    make([]float64, len(s.ode)),
	}
	e.vars[formula.TimeVariable] = 0.0
	for _, p := range s.m.params {
		if !p.isFormula() && len(p.table) == 0 {
			e.vars[p.entityID] = p.value
		}
	}
	for _, sp := range s.m.species {
		e.vars[sp.entityID] = sp.initial
	}
	for _, p := range s.static {
		v, err := p.expr.Eval(e.vars)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.entityID, err)
		}
		e.vars[p.entityID] = v
	}
	for _, p := range s.dynamic {
		if len(p.table) > 0 {
			e.vars[p.entityID] = interpolate(p.table, 0)
		} else {
			e.vars[p.entityID] = math.NaN()
		}
	}
	return e, nil
}

// set binds time and the unscaled ODE state, then recomputes dynamic
// parameters.
func (e *env) set(t float64, y []float64) error {
	e.vars[formula.TimeVariable] = t
	for i, sp := range e.sys.ode {
		e.vars[sp.entityID] = y[i]
	}
	for _, p := range e.sys.dynamic {
		if len(p.table) > 0 {
			e.vars[p.entityID] = interpolate(p.table, t)
			continue
		}
		v, err := p.expr.Eval(e.vars)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", p.entityID, err)
		}
		e.vars[p.entityID] = v
	}
	return nil
}

func (e *env) value(id string) float64 {
	v, _ := e.vars[id].(float64)
	return v
}

// derivative evaluates the right-hand sides in scaled space.
func (e *env) derivative(t float64, z, dz []float64) error {
	for i, sp := range e.sys.ode {
		e.y[i] = z[i] * sp.scale
	}
	if err := e.set(t, e.y); err != nil {
		return err
	}
	for i, sp := range e.sys.ode {
		v, err := sp.rhs.Eval(e.vars)
		if err != nil {
			return fmt.Errorf("species %s: %w", sp.entityID, err)
		}
		dz[i] = v / sp.scale
	}
	return nil
}

// interpolate evaluates a piecewise-linear table, holding the end values
// outside its range.
func interpolate(points []native.TablePoint, x float64) float64 {
	if len(points) == 0 {
		return math.NaN()
	}
	if x <= points[0].X {
		return points[0].Y
	}
	last := points[len(points)-1]
	if x >= last.X {
		return last.Y
	}
	i := sort.Search(len(points), func(i int) bool { return points[i].X > x })
	a, b := points[i-1], points[i]
	return a.Y + (b.Y-a.Y)*(x-a.X)/(b.X-a.X)
}
