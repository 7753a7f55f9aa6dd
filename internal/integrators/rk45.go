package integrators

import "math"

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

type RK45 struct {
	safety   float64
	minScale float64
	maxScale float64

	// MinStep is the smallest step the controller will shrink to. A step at
	// MinStep is accepted even when it fails the error test.
	MinStep float64
	// MaxSteps bounds the accepted plus rejected steps of a single Advance.
	MaxSteps int

	k1, k2, k3, k4, k5, k6, k7 []float64
	tmp, next                  []float64
}

// Report summarizes one call to Advance.
type Report struct {
	Steps    int
	Rejected int
	// Forced counts steps accepted at MinStep despite failing the error test.
	Forced int
	// LastStep is the step size proposed for the next call.
	LastStep float64
}

func NewRK45() *RK45 {
	return &RK45{
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
		MinStep:  1e-12,
		MaxSteps: 100000,
	}
}

func (r *RK45) ensureScratch(n int) {
	if len(r.k1) == n {
		return
	}
	r.k1 = make([]float64, n)
	r.k2 = make([]float64, n)
	r.k3 = make([]float64, n)
	r.k4 = make([]float64, n)
	r.k5 = make([]float64, n)
	r.k6 = make([]float64, n)
	r.k7 = make([]float64, n)
	r.tmp = make([]float64, n)
	r.next = make([]float64, n)
}

// Step takes one Dormand-Prince step without error control.
func (r *RK45) Step(f Func, t, dt float64, y, out []float64) error {
	if _, err := r.stage(f, t, dt, y, Tolerance{Abs: 1, Rel: 0}); err != nil {
		return err
	}
	copy(out, r.next)
	return nil
}

// StepAdaptive attempts one step of size dt. The candidate solution is written
// to out only when the step is accepted. dtNew is the size proposed for the
// following attempt in either case.
func (r *RK45) StepAdaptive(f Func, t, dt float64, y, out []float64, tol Tolerance) (accepted bool, dtNew float64, err error) {
	errRatio, err := r.stage(f, t, dt, y, tol)
	if err != nil {
		return false, dt, err
	}

	if errRatio > 1 {
		scale := math.Max(r.minScale, r.safety*math.Pow(errRatio, -0.25))
		return false, dt * scale, nil
	}

	copy(out, r.next)
	if errRatio > 0 {
		scale := math.Min(r.maxScale, r.safety*math.Pow(errRatio, -0.2))
		return true, dt * scale, nil
	}
	return true, dt * r.maxScale, nil
}

// Advance integrates y in place from t0 to exactly t1, starting with step dt.
func (r *RK45) Advance(f Func, t0, t1, dt float64, y []float64, tol Tolerance) (Report, error) {
	r.ensureScratch(len(y))
	out := make([]float64, len(y))
	rep := Report{LastStep: dt}

	if dt <= 0 {
		dt = (t1 - t0) / 100
	}
	t := t0
	for t < t1 {
		if rep.Steps+rep.Rejected >= r.MaxSteps {
			return rep, ErrTooManySteps
		}
		h := dt
		last := false
		if t+h >= t1 {
			h = t1 - t
			last = true
		}
		accepted, dtNew, err := r.StepAdaptive(f, t, h, y, out, tol)
		if err != nil {
			return rep, err
		}
		if !accepted && h <= r.MinStep {
			// cannot shrink further; take the step and let the caller warn
			copy(out, r.next)
			accepted = true
			rep.Forced++
			dtNew = r.MinStep
		}
		if !accepted {
			rep.Rejected++
			dt = math.Max(dtNew, r.MinStep)
			continue
		}
		if !finite(out) {
			return rep, ErrNonFinite
		}
		copy(y, out)
		rep.Steps++
		if last {
			t = t1
		} else {
			t += h
			dt = math.Max(dtNew, r.MinStep)
		}
	}
	rep.LastStep = dt
	return rep, nil
}

func (r *RK45) stage(f Func, t, dt float64, y []float64, tol Tolerance) (float64, error) {
	n := len(y)
	r.ensureScratch(n)

	if err := f(t, y, r.k1); err != nil {
		return 0, err
	}

	for i := 0; i < n; i++ {
		r.tmp[i] = y[i] + dt*b21*r.k1[i]
	}
	if err := f(t+a2*dt, r.tmp, r.k2); err != nil {
		return 0, err
	}

	for i := 0; i < n; i++ {
		r.tmp[i] = y[i] + dt*(b31*r.k1[i]+b32*r.k2[i])
	}
	if err := f(t+a3*dt, r.tmp, r.k3); err != nil {
		return 0, err
	}

	for i := 0; i < n; i++ {
		r.tmp[i] = y[i] + dt*(b41*r.k1[i]+b42*r.k2[i]+b43*r.k3[i])
	}
	if err := f(t+a4*dt, r.tmp, r.k4); err != nil {
		return 0, err
	}

	for i := 0; i < n; i++ {
		r.tmp[i] = y[i] + dt*(b51*r.k1[i]+b52*r.k2[i]+b53*r.k3[i]+b54*r.k4[i])
	}
	if err := f(t+a5*dt, r.tmp, r.k5); err != nil {
		return 0, err
	}

	for i := 0; i < n; i++ {
		r.tmp[i] = y[i] + dt*(b61*r.k1[i]+b62*r.k2[i]+b63*r.k3[i]+b64*r.k4[i]+b65*r.k5[i])
	}
	if err := f(t+dt, r.tmp, r.k6); err != nil {
		return 0, err
	}

	for i := 0; i < n; i++ {
		r.next[i] = y[i] + dt*(c1*r.k1[i]+c3*r.k3[i]+c4*r.k4[i]+c5*r.k5[i]+c6*r.k6[i])
	}

	if err := f(t+dt, r.next, r.k7); err != nil {
		return 0, err
	}

	errMax := 0.0
	for i := 0; i < n; i++ {
		errEst := dt * (dc1*r.k1[i] + dc3*r.k3[i] + dc4*r.k4[i] + dc5*r.k5[i] + dc6*r.k6[i] + dc7*r.k7[i])
		scale := tol.Abs + tol.Rel*math.Max(math.Abs(y[i]), math.Abs(r.next[i]))
		if scale <= 0 {
			scale = 1e-300
		}
		errMax = math.Max(errMax, math.Abs(errEst)/scale)
	}
	return errMax, nil
}
