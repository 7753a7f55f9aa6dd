package memengine

import "fmt"

type quantityKind int

const (
	kindParameter quantityKind = iota
	kindSpecies
	kindObserver
)

type series struct {
	kind      quantityKind
	entity    entity
	constant  bool
	values    []float64
	threshold float64
}

type results struct {
	times  []float64
	series []*series
	byID   map[int]*series

	// parameter path -> quantity id -> d(quantity)/d(parameter) per time point
	sensitivities map[string]map[int][]float64
}

func (r *results) lookup(id int) (*series, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// collect turns a trajectory into value series in engine order: species,
// observers, then persistable parameters.
func collect(sys *system, tr *trajectory) (*results, error) {
	m := sys.m
	res := &results{
		times: tr.times,
		byID:  make(map[int]*series),
	}
	add := func(s *series) {
		res.series = append(res.series, s)
		res.byID[s.entity.id] = s
	}

	variableThreshold := 10 * tr.absTol
	odeIndex := make(map[*species]int, len(sys.ode))
	for i, sp := range sys.ode {
		odeIndex[sp] = i
	}

	for _, sp := range m.species {
		s := &series{kind: kindSpecies, entity: sp.entity, threshold: variableThreshold}
		if i, ok := odeIndex[sp]; ok {
			s.values = tr.ode[i]
			s.threshold = variableThreshold * sp.scale
		} else {
			s.constant = true
			s.values = []float64{sp.initial}
		}
		add(s)
	}

	thresholdEnv, err := sys.newEnv()
	if err != nil {
		return nil, err
	}
	y := make([]float64, len(sys.ode))
	for i, sp := range sys.ode {
		y[i] = variableThreshold * sp.scale
	}
	if err := thresholdEnv.set(0, y); err != nil {
		return nil, err
	}

	values, err := sys.newEnv()
	if err != nil {
		return nil, err
	}
	for i, o := range m.observers {
		s := &series{kind: kindObserver, entity: o.entity, threshold: variableThreshold}
		if o.constant {
			v, err := o.expr.Eval(values.vars)
			if err != nil {
				return nil, fmt.Errorf("observer %s: %w", o.entityID, err)
			}
			s.constant = true
			s.values = []float64{v}
		} else {
			s.values = tr.observers[i]
			t, err := o.expr.Eval(thresholdEnv.vars)
			if err != nil {
				return nil, fmt.Errorf("observer %s threshold: %w", o.entityID, err)
			}
			s.threshold = t
		}
		add(s)
	}

	for i, p := range m.params {
		if !p.persistable {
			continue
		}
		s := &series{kind: kindParameter, entity: p.entity, threshold: variableThreshold}
		if tr.persisted[i] != nil {
			s.values = tr.persisted[i]
		} else {
			s.constant = true
			s.values = []float64{values.value(p.entityID)}
		}
		add(s)
	}
	return res, nil
}

// sensitivity derives d(series)/d(parameter) from two perturbed trajectories
// by central differences. Constant series are broadcast over the time grid.
func sensitivity(base *results, plus, minus *results, h float64) map[int][]float64 {
	out := make(map[int][]float64, len(base.series))
	n := len(base.times)
	for _, s := range base.series {
		p, ok1 := plus.byID[s.entity.id]
		q, ok2 := minus.byID[s.entity.id]
		if !ok1 || !ok2 {
			continue
		}
		d := make([]float64, n)
		for k := 0; k < n; k++ {
			d[k] = (at(p.values, k) - at(q.values, k)) / (2 * h)
		}
		out[s.entity.id] = d
	}
	return out
}

func at(values []float64, k int) float64 {
	if len(values) == 1 {
		return values[0]
	}
	return values[k]
}
