package models

import (
	"github.com/san-kum/odectl/internal/native/memengine"
)

// Exponential is the coupled system y1' = y2, y2' = y1 with y1(0) = 2 and
// y2(0) = 0, whose solution is y1 = exp(t) + exp(-t), y2 = exp(t) - exp(-t).
// y3 is constant and obs1 = 2 * y1.
type Exponential struct{}

func (Exponential) Document() *memengine.Document {
	d := document(1, 11, 1e-10)
	d.Species = []memengine.SpeciesNode{
		state(1, "y1", 2, "y2"),
		state(2, "y2", 0, "y1"),
		state(3, "y3", 2, "0"),
	}
	d.Observers = []memengine.Observer{
		{Entity: entity(4, "obs1"), Formula: "2 * y1"},
	}
	return d
}

// Decay is first-order elimination y' = -k * y with a persisted half-life.
type Decay struct {
	Rate    float64
	Initial float64
	Volume  float64
}

func NewDecay() *Decay {
	return &Decay{Rate: 0.5, Initial: 10, Volume: 2}
}

func (dc *Decay) Document() *memengine.Document {
	d := document(10, 101, 1e-10)
	halfLife := derived(3, "halfLife", "ln(2) / k")
	halfLife.Persistable = "true"
	d.Parameters = []memengine.Parameter{
		value(1, "k", dc.Rate),
		value(2, "V", dc.Volume),
		halfLife,
	}
	y := state(10, "y", dc.Initial, "-k * y")
	y.NegativeValuesAllowed = "false"
	d.Species = []memengine.SpeciesNode{y}
	d.Observers = []memengine.Observer{
		{Entity: entity(20, "conc"), Formula: "y / V"},
	}
	return d
}

// Depletion consumes y at a constant rate, so y crosses zero at
// t = Initial / Rate.
type Depletion struct {
	Rate    float64
	Initial float64
}

func NewDepletion() *Depletion {
	return &Depletion{Rate: 1, Initial: 1}
}

func (dp *Depletion) Document() *memengine.Document {
	d := document(2, 21, 1e-8)
	d.Parameters = []memengine.Parameter{value(1, "rate", dp.Rate)}
	y := state(10, "y", dp.Initial, "-rate")
	y.NegativeValuesAllowed = "false"
	d.Species = []memengine.SpeciesNode{y}
	return d
}

// Dosing drives an elimination compartment with a table-defined infusion
// that stops abruptly.
type Dosing struct {
	Rate     float64
	Infusion float64
	Stop     float64
}

func NewDosing() *Dosing {
	return &Dosing{Rate: 0.3, Infusion: 2, Stop: 4}
}

func (ds *Dosing) Document() *memengine.Document {
	d := document(12, 121, 1e-9)
	d.Parameters = []memengine.Parameter{
		value(1, "k", ds.Rate),
		{
			Entity: entity(2, "infusion"),
			Table: []memengine.Point{
				{X: "0", Y: num(ds.Infusion)},
				{X: num(ds.Stop), Y: num(ds.Infusion), RestartSolver: "true"},
				{X: num(ds.Stop + 1e-6), Y: "0", RestartSolver: "true"},
			},
		},
	}
	a := state(10, "amount", 0, "infusion - k * amount")
	a.NegativeValuesAllowed = "false"
	d.Species = []memengine.SpeciesNode{a}
	return d
}

// Additive has a formula parameter P10 = P1 + P2 feeding a decay.
type Additive struct{}

func (Additive) Document() *memengine.Document {
	d := document(1, 11, 1e-10)
	d.Parameters = []memengine.Parameter{
		value(1, "P1", 1),
		value(2, "P2", 2),
		derived(3, "P10", "P1 + P2"),
	}
	d.Species = []memengine.SpeciesNode{state(10, "y", 1, "-P10 * y")}
	return d
}
