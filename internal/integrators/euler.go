package integrators

type Euler struct {
	k []float64
}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(f Func, t, dt float64, y, out []float64) error {
	if len(e.k) != len(y) {
		e.k = make([]float64, len(y))
	}
	if err := f(t, y, e.k); err != nil {
		return err
	}
	for i := range y {
		out[i] = y[i] + dt*e.k[i]
	}
	return nil
}
