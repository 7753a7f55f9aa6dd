// Package models is a catalog of ready-made model documents: mechanical
// systems expressed as first-order ODEs plus small reference systems with
// known analytic solutions.
package models

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/san-kum/odectl/internal/native/memengine"
)

const (
	DefaultMass    = 1.0
	DefaultLength  = 1.0
	DefaultGravity = 9.81
)

// Model produces a model document.
type Model interface {
	Document() *memengine.Document
}

var registry = map[string]func() Model{
	"pendulum":        func() Model { return NewPendulum() },
	"spring_mass":     func() Model { return NewSpringMass() },
	"double_pendulum": func() Model { return NewDoublePendulum() },
	"exponential":     func() Model { return Exponential{} },
	"decay":           func() Model { return NewDecay() },
	"depletion":       func() Model { return NewDepletion() },
	"dosing":          func() Model { return NewDosing() },
	"additive":        func() Model { return Additive{} },
}

func Get(name string) (Model, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", name)
	}
	return ctor(), nil
}

func List() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// XML renders m as a model document string.
func XML(m Model) (string, error) {
	return m.Document().Marshal()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func document(end float64, points int, tol float64) *memengine.Document {
	return &memengine.Document{
		Version: "4",
		Solver:  memengine.Solver{AbsTol: num(tol), RelTol: num(tol)},
		Output: memengine.OutputSchema{
			Intervals: []memengine.Interval{{Start: "0", End: num(end), Points: strconv.Itoa(points)}},
		},
	}
}

func entity(id int, entityID string) memengine.Entity {
	return memengine.Entity{ID: strconv.Itoa(id), EntityID: entityID, Name: entityID, Path: "Model|" + entityID}
}

func value(id int, entityID string, v float64) memengine.Parameter {
	return memengine.Parameter{Entity: entity(id, entityID), Value: num(v)}
}

func derived(id int, entityID, formula string) memengine.Parameter {
	return memengine.Parameter{Entity: entity(id, entityID), Formula: formula}
}

func state(id int, entityID string, initial float64, rhs string) memengine.SpeciesNode {
	return memengine.SpeciesNode{Entity: entity(id, entityID), InitialValue: num(initial), RHS: rhs}
}
