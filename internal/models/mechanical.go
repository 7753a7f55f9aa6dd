package models

import (
	"github.com/san-kum/odectl/internal/native/memengine"
)

const DefaultStiffness = 10.0

type Pendulum struct {
	Mass    float64
	Length  float64
	Damping float64
	Gravity float64
	Theta0  float64
}

func NewPendulum() *Pendulum {
	return &Pendulum{
		Mass:    DefaultMass,
		Length:  DefaultLength,
		Damping: 0.1,
		Gravity: DefaultGravity,
		Theta0:  0.5,
	}
}

func (p *Pendulum) Document() *memengine.Document {
	d := document(10, 201, 1e-8)
	d.Parameters = []memengine.Parameter{
		value(1, "m", p.Mass),
		value(2, "L", p.Length),
		value(3, "c", p.Damping),
		value(4, "g", p.Gravity),
		derived(5, "inertia", "m * L * L"),
	}
	d.Species = []memengine.SpeciesNode{
		state(10, "theta", p.Theta0, "omega"),
		state(11, "omega", 0, "(-c * omega - m * g * L * sin(theta)) / inertia"),
	}
	d.Observers = []memengine.Observer{
		{Entity: entity(20, "energy"), Formula: "0.5 * inertia * omega * omega + m * g * L * (1 - cos(theta))"},
	}
	return d
}

type SpringMass struct {
	Mass      float64
	Stiffness float64
	Damping   float64
	X0        float64
}

func NewSpringMass() *SpringMass {
	return &SpringMass{
		Mass:      DefaultMass,
		Stiffness: DefaultStiffness,
		Damping:   0.5,
		X0:        1,
	}
}

func (s *SpringMass) Document() *memengine.Document {
	d := document(10, 201, 1e-8)
	d.Parameters = []memengine.Parameter{
		value(1, "m", s.Mass),
		value(2, "k", s.Stiffness),
		value(3, "c", s.Damping),
	}
	d.Species = []memengine.SpeciesNode{
		state(10, "x", s.X0, "v"),
		state(11, "v", 0, "(-k * x - c * v) / m"),
	}
	d.Observers = []memengine.Observer{
		{Entity: entity(20, "energy"), Formula: "0.5 * m * v * v + 0.5 * k * x * x"},
	}
	return d
}

type DoublePendulum struct {
	M1, M2  float64
	L1, L2  float64
	Gravity float64
}

func NewDoublePendulum() *DoublePendulum {
	return &DoublePendulum{
		M1: DefaultMass, M2: DefaultMass,
		L1: DefaultLength, L2: DefaultLength,
		Gravity: DefaultGravity,
	}
}

func (dp *DoublePendulum) Document() *memengine.Document {
	d := document(10, 501, 1e-9)
	d.Parameters = []memengine.Parameter{
		value(1, "m1", dp.M1),
		value(2, "m2", dp.M2),
		value(3, "l1", dp.L1),
		value(4, "l2", dp.L2),
		value(5, "g", dp.Gravity),
		derived(6, "delta", "theta2 - theta1"),
		derived(7, "den1", "(m1 + m2) * l1 - m2 * l1 * cos(delta) * cos(delta)"),
		derived(8, "den2", "(l2 / l1) * den1"),
	}
	d.Species = []memengine.SpeciesNode{
		state(10, "theta1", 1.0, "omega1"),
		state(11, "theta2", 0.5, "omega2"),
		state(12, "omega1", 0, "(m2 * l1 * omega1 * omega1 * sin(delta) * cos(delta) + m2 * g * sin(theta2) * cos(delta) + m2 * l2 * omega2 * omega2 * sin(delta) - (m1 + m2) * g * sin(theta1)) / den1"),
		state(13, "omega2", 0, "(-m2 * l2 * omega2 * omega2 * sin(delta) * cos(delta) + (m1 + m2) * g * sin(theta1) * cos(delta) - (m1 + m2) * l1 * omega1 * omega1 * sin(delta) - (m1 + m2) * g * sin(theta2)) / den2"),
	}
	return d
}
