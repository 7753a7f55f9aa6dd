package memengine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/san-kum/odectl/internal/integrators"
)

const (
	absTolMin = 1e-12
	relTolMin = 1e-9

	msgTimeLimit = "Simulation execution time limit exceeded"
	msgCanceled  = "Simulation run canceled by user"
)

var errCanceled = errors.New(msgCanceled)

// solverError is an integration failure. Reducible failures may succeed
// with tighter tolerances.
type solverError struct {
	msg       string
	reducible bool
}

func (e *solverError) Error() string { return e.msg }

type warning struct {
	t   float64
	msg string
}

type runConfig struct {
	absTol, relTol float64

	stopOnWarnings bool
	checkNegative  bool
	showProgress   bool
	deadline       time.Time

	progress *atomic.Int32
	canceled *atomic.Bool
	warnings *[]warning
}

func (c *runConfig) warn(t float64, msg string) {
	if c.warnings != nil {
		*c.warnings = append(*c.warnings, warning{t: t, msg: msg})
	}
}

func (c *runConfig) interrupted(ctx context.Context) error {
	if ctx.Err() != nil || (c.canceled != nil && c.canceled.Load()) {
		return errCanceled
	}
	if !c.deadline.IsZero() && time.Now().After(c.deadline) {
		return errors.New(msgTimeLimit)
	}
	return nil
}

// trajectory holds the unscaled values recorded at each output time.
type trajectory struct {
	times     []float64
	ode       [][]float64
	observers [][]float64
	persisted [][]float64
	absTol    float64
}

func solve(ctx context.Context, sys *system, cfg *runConfig) (*trajectory, error) {
	env, err := sys.newEnv()
	if err != nil {
		return nil, err
	}
	m := sys.m
	times := sys.outputTimes
	n := len(sys.ode)

	tr := &trajectory{
		times:     append([]float64(nil), times...),
		ode:       make([][]float64, n),
		observers: make([][]float64, len(m.observers)),
		persisted: make([][]float64, len(m.params)),
		absTol:    cfg.absTol,
	}
	for i := range tr.ode {
		tr.ode[i] = make([]float64, len(times))
	}
	for i, o := range m.observers {
		if !o.constant {
			tr.observers[i] = make([]float64, len(times))
		}
	}
	for i, p := range m.params {
		if p.persistable && p.dynamic {
			tr.persisted[i] = make([]float64, len(times))
		}
	}

	z := make([]float64, n)
	for i, sp := range sys.ode {
		z[i] = sp.initial / sp.scale
	}
	y := make([]float64, n)

	record := func(k int, t float64) error {
		for i, sp := range sys.ode {
			v := z[i]
			if math.Abs(v) < cfg.absTol {
				v = 0
			}
			y[i] = v * sp.scale
		}
		if err := env.set(t, y); err != nil {
			return err
		}
		for i := range sys.ode {
			tr.ode[i][k] = y[i]
		}
		for i, o := range m.observers {
			if tr.observers[i] == nil {
				continue
			}
			v, err := o.expr.Eval(env.vars)
			if err != nil {
				return fmt.Errorf("observer %s: %w", o.entityID, err)
			}
			tr.observers[i][k] = v
		}
		for i, p := range m.params {
			if tr.persisted[i] != nil {
				tr.persisted[i][k] = env.value(p.entityID)
			}
		}
		if cfg.checkNegative {
			return negativeValues(sys, z, cfg.absTol, t)
		}
		return nil
	}

	if err := record(0, times[0]); err != nil {
		return nil, err
	}
	if n == 0 {
		// nothing to integrate; observers still need every output time
		for k := 1; k < len(times); k++ {
			if err := record(k, times[k]); err != nil {
				return nil, err
			}
		}
		return tr, nil
	}

	span := times[len(times)-1] - times[0]
	h0 := m.h0
	if h0 <= 0 {
		h0 = span / 100
		if h0 <= 0 {
			h0 = 1e-3
		}
	}

	rk := integrators.NewRK45()
	rk.MaxSteps = m.maxSteps
	tol := integrators.Tolerance{Abs: cfg.absTol, Rel: cfg.relTol}
	var fixed integrators.Stepper
	switch m.method {
	case "rk4":
		fixed = integrators.NewRK4()
	case "euler":
		fixed = integrators.NewEuler()
	}

	restarts := sys.restartTimes(times[0], times[len(times)-1])
	dt := h0
	advance := func(t0, t1 float64) error {
		if fixed != nil {
			return integrators.Fixed(fixed, env.derivative, t0, t1, h0, z)
		}
		rep, err := rk.Advance(env.derivative, t0, t1, dt, z, tol)
		dt = rep.LastStep
		if err != nil {
			return err
		}
		if rep.Forced > 0 {
			msg := fmt.Sprintf("Error solving ODE at time t=%g: error test failed repeatedly at the minimum step size", t1)
			cfg.warn(t1, msg)
			if cfg.stopOnWarnings {
				return &solverError{msg: msg, reducible: true}
			}
		}
		return nil
	}

	for k := 1; k < len(times); k++ {
		if err := cfg.interrupted(ctx); err != nil {
			return nil, err
		}

		prev, target := times[k-1], times[k]
		for len(restarts) > 0 && restarts[0] <= target {
			r := restarts[0]
			restarts = restarts[1:]
			if err := step(advance, prev, r, cfg); err != nil {
				return nil, err
			}
			prev = r
			dt = h0
		}
		if err := step(advance, prev, target, cfg); err != nil {
			return nil, err
		}

		if err := record(k, target); err != nil {
			return nil, err
		}
		if cfg.showProgress && cfg.progress != nil {
			cfg.progress.Store(int32(k * 100 / len(times)))
		}
	}
	return tr, nil
}

// step runs one integration segment and classifies its failures.
func step(advance func(t0, t1 float64) error, t0, t1 float64, cfg *runConfig) error {
	if t1 <= t0 {
		return nil
	}
	err := advance(t0, t1)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, integrators.ErrNonFinite):
		return &solverError{msg: fmt.Sprintf("Error solving ODE at time t=%g: %v", t1, err), reducible: true}
	case errors.Is(err, integrators.ErrTooManySteps):
		msg := fmt.Sprintf("Error solving ODE at time t=%g: %v", t1, err)
		cfg.warn(t1, msg)
		if cfg.stopOnWarnings {
			return &solverError{msg: msg}
		}
		return nil
	}
	return err
}

func negativeValues(sys *system, z []float64, absTol, t float64) error {
	var names []string
	for i, sp := range sys.ode {
		if sp.negativeAllowed {
			continue
		}
		if z[i] < -100*absTol {
			names = append(names, sp.path)
		}
	}
	if len(names) == 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Simulation run failed at t=%g: some variables became negative. There are different possible reasons for this:\n\n", t)
	b.WriteString("  - Solver tolerances are too high. Please reduce the absolute and relative tolerances by one order of magnitude and restart the simulation.\n")
	b.WriteString("  - Some variables which are allowed to be negative were defined as non-negative.\n")
	b.WriteString("  - Model is not properly established.\n\n")
	b.WriteString("The following variables became negative:\n")
	for _, name := range names {
		b.WriteString(name)
		b.WriteString("\n")
	}
	return errors.New(b.String())
}

// reduceTolerances divides both tolerances by ten, stopping at their lower
// bounds. It reports false when neither tolerance can be reduced.
func reduceTolerances(absTol, relTol float64) (float64, float64, bool) {
	if absTol <= absTolMin && relTol <= relTolMin {
		return absTol, relTol, false
	}
	if absTol > absTolMin {
		absTol = math.Max(absTolMin, absTol/10)
	}
	if relTol > relTolMin {
		relTol = math.Max(relTolMin, relTol/10)
	}
	return absTol, relTol, true
}
