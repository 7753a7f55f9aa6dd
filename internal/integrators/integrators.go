// Package integrators holds the explicit Runge-Kutta steppers used by the
// in-process engine. All steppers share the same right-hand-side signature
// and write into caller-owned buffers.
package integrators

import (
	"errors"
	"math"
)

// Func evaluates dy/dt at time t into dydt. len(dydt) == len(y).
type Func func(t float64, y, dydt []float64) error

// Stepper advances y by a fixed step dt, writing the result into out.
type Stepper interface {
	Step(f Func, t, dt float64, y, out []float64) error
}

// Tolerance controls the mixed absolute/relative error test of adaptive steps.
type Tolerance struct {
	Abs float64
	Rel float64
}

var (
	ErrTooManySteps = errors.New("maximum number of internal steps exceeded")
	ErrNonFinite    = errors.New("solution became non-finite")
)

func finite(y []float64) bool {
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
