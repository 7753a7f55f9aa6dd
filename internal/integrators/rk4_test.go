package integrators

import (
	"math"
	"testing"
)

func TestRK4Accuracy(t *testing.T) {
	integ := NewRK4()

	x := []float64{1.0, 0.0}
	out := make([]float64, 2)
	dt := 0.01
	steps := 100

	for i := 0; i < steps; i++ {
		if err := integ.Step(oscillator, float64(i)*dt, dt, x, out); err != nil {
			t.Fatal(err)
		}
		copy(x, out)
	}

	expectedX := math.Cos(float64(steps) * dt)
	expectedV := -math.Sin(float64(steps) * dt)

	if math.Abs(x[0]-expectedX) > 1e-4 {
		t.Errorf("position error too large: got %.6f, expected %.6f", x[0], expectedX)
	}

	if math.Abs(x[1]-expectedV) > 1e-4 {
		t.Errorf("velocity error too large: got %.6f, expected %.6f", x[1], expectedV)
	}
}

func TestFixedHitsIntervalEnd(t *testing.T) {
	tests := []struct {
		name    string
		stepper Stepper
		tol     float64
	}{
		{"rk4", NewRK4(), 1e-8},
		{"euler", NewEuler(), 1e-2},
	}

	for _, tt := range tests {
		y := []float64{1.0}
		if err := Fixed(tt.stepper, growth, 0, 1, 0.003, y); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if math.Abs(y[0]-math.E) > tt.tol {
			t.Errorf("%s: expected %v, got %v", tt.name, math.E, y[0])
		}
	}
}

func BenchmarkRK4(b *testing.B) {
	integrator := NewRK4()
	x := []float64{1.0, 0.0}
	out := make([]float64, 2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = integrator.Step(oscillator, 0, 0.01, x, out)
		x, out = out, x
	}
}

func BenchmarkRK45Advance(b *testing.B) {
	integrator := NewRK45()
	tol := Tolerance{Abs: 1e-8, Rel: 1e-8}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		y := []float64{1.0, 0.0}
		_, _ = integrator.Advance(oscillator, 0, 1, 0.01, y, tol)
	}
}
