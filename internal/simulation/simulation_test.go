package simulation_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/odectl/internal/models"
	"github.com/san-kum/odectl/internal/native"
	"github.com/san-kum/odectl/internal/native/memengine"
	"github.com/san-kum/odectl/internal/simerr"
	"github.com/san-kum/odectl/internal/simulation"
)

func document(m models.Model) string {
	doc, err := models.XML(m)
	Expect(err).NotTo(HaveOccurred())
	return doc
}

func newSimulation(eng *memengine.Engine, settings simulation.Settings, opts ...simulation.Option) *simulation.Simulation {
	sim, err := simulation.New(eng, settings, opts...)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(sim.Dispose)
	return sim
}

func loaded(eng *memengine.Engine, m models.Model) *simulation.Simulation {
	sim := newSimulation(eng, simulation.DefaultSettings())
	Expect(sim.LoadFromString(document(m))).To(Succeed())
	return sim
}

func finalized(eng *memengine.Engine, m models.Model) *simulation.Simulation {
	sim := loaded(eng, m)
	Expect(sim.Finalize()).To(Succeed())
	return sim
}

type recorder struct {
	mu       sync.Mutex
	ops      map[string]int
	failures map[string]int
	open     int
}

func newRecorder() *recorder {
	return &recorder{ops: make(map[string]int), failures: make(map[string]int)}
}

func (r *recorder) ObserveOperation(op string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op]++
	if err != nil {
		r.failures[op]++
	}
}

func (r *recorder) HandleAcquired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open++
}

func (r *recorder) HandleReleased() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open--
}

// vectorCounter tracks the info vectors alive in the wrapped engine.
type vectorCounter struct {
	*memengine.Engine

	mu   sync.Mutex
	live map[native.VectorHandle]bool
}

func newVectorCounter(eng *memengine.Engine) *vectorCounter {
	return &vectorCounter{Engine: eng, live: make(map[native.VectorHandle]bool)}
}

func (c *vectorCounter) track(v native.VectorHandle, alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if alive {
		c.live[v] = true
	} else {
		delete(c.live, v)
	}
}

func (c *vectorCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

func (c *vectorCounter) CreateParameterInfoVector() (native.VectorHandle, native.Status) {
	v, st := c.Engine.CreateParameterInfoVector()
	if st.OK {
		c.track(v, true)
	}
	return v, st
}

func (c *vectorCounter) CreateSpeciesInfoVector() (native.VectorHandle, native.Status) {
	v, st := c.Engine.CreateSpeciesInfoVector()
	if st.OK {
		c.track(v, true)
	}
	return v, st
}

func (c *vectorCounter) DisposeParameterInfoVector(v native.VectorHandle) {
	c.track(v, false)
	c.Engine.DisposeParameterInfoVector(v)
}

func (c *vectorCounter) DisposeSpeciesInfoVector(v native.VectorHandle) {
	c.track(v, false)
	c.Engine.DisposeSpeciesInfoVector(v)
}

var _ = Describe("Simulation", func() {
	var eng *memengine.Engine

	BeforeEach(func() {
		eng = memengine.New()
	})

	Describe("lifecycle", func() {
		It("starts in the created state", func() {
			sim := newSimulation(eng, simulation.DefaultSettings())
			Expect(sim.State()).To(Equal(simulation.StateCreated))
			Expect(sim.RunStatistics().UsedAbsoluteTolerance).To(Satisfy(math.IsNaN))
			Expect(sim.RunStatistics().ToleranceWasReduced).To(BeFalse())
		})

		It("rejects operations outside their legal state", func() {
			sim := newSimulation(eng, simulation.DefaultSettings())

			Expect(sim.Finalize()).To(MatchError(simerr.ErrInvalidState))
			Expect(sim.Run(context.Background())).To(MatchError(simerr.ErrInvalidState))
			_, err := sim.SimulationTimes()
			Expect(err).To(MatchError(simerr.ErrInvalidState))
			Expect(sim.ReleaseMemory()).To(MatchError(simerr.ErrInvalidState))

			Expect(sim.LoadFromString(document(models.Exponential{}))).To(Succeed())
			Expect(sim.LoadFromString(document(models.Exponential{}))).To(MatchError(simerr.ErrInvalidState))
			Expect(sim.Run(context.Background())).To(MatchError(simerr.ErrInvalidState))
			_, err = sim.ValuesFor("y1")
			Expect(err).To(MatchError(simerr.ErrInvalidState))

			Expect(sim.Finalize()).To(Succeed())
			Expect(sim.Finalize()).To(MatchError(simerr.ErrInvalidState))
			_, err = sim.ValuesFor("y1")
			Expect(err).To(MatchError(simerr.ErrInvalidState))
		})

		It("fetches parameters and species on load", func() {
			sim := loaded(eng, models.NewPendulum())

			Expect(sim.State()).To(Equal(simulation.StateLoaded))
			Expect(sim.Parameters()).To(HaveLen(5))
			Expect(sim.Species()).To(HaveLen(2))
			Expect(simulation.FindParameter(sim.Parameters(), "Model|g").Value()).To(Equal(models.DefaultGravity))
		})

		It("reports load failures with the engine message", func() {
			sim := newSimulation(eng, simulation.DefaultSettings())

			err := sim.LoadFromString("<Simulation>")
			Expect(err).To(MatchError(simerr.ErrLoad))
			Expect(err.Error()).To(ContainSubstring("malformed"))
			Expect(sim.State()).To(Equal(simulation.StateCreated))
		})

		It("loads from a file", func() {
			dir, err := os.MkdirTemp("", "simulation")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(os.RemoveAll, dir)

			path := filepath.Join(dir, "model.xml")
			Expect(os.WriteFile(path, []byte(document(models.NewDecay())), 0o644)).To(Succeed())

			sim := newSimulation(eng, simulation.DefaultSettings())
			Expect(sim.LoadFromFile(path)).To(Succeed())
			Expect(sim.XMLVersion()).To(Equal(4))
		})

		It("can be disposed twice", func() {
			sim, err := simulation.New(eng, simulation.DefaultSettings())
			Expect(err).NotTo(HaveOccurred())
			Expect(sim.LoadFromString(document(models.Exponential{}))).To(Succeed())
			params := sim.Parameters()

			sim.Dispose()
			sim.Dispose()

			Expect(sim.State()).To(Equal(simulation.StateDisposed))
			Expect(sim.Progress()).To(Equal(0))
			sim.Cancel()
			err = sim.Finalize()
			Expect(err).To(MatchError(simerr.ErrInvalidState))
			Expect(err.Error()).To(ContainSubstring("disposed"))
			Expect(sim.ApplySettings(simulation.DefaultSettings())).To(MatchError(simerr.ErrInvalidState))
			for _, p := range params {
				Expect(p.SetValue(1)).To(MatchError(simerr.ErrInvalidState))
			}
		})

		It("records operations and handles", func() {
			rec := newRecorder()
			sim, err := simulation.New(eng, simulation.DefaultSettings(), simulation.WithRecorder(rec))
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.open).To(Equal(1))

			Expect(sim.LoadFromString("<Simulation>")).NotTo(Succeed())
			Expect(sim.LoadFromString(document(models.Exponential{}))).To(Succeed())
			Expect(sim.Finalize()).To(Succeed())
			Expect(sim.Run(context.Background())).To(Succeed())
			sim.Dispose()

			Expect(rec.open).To(Equal(0))
			Expect(rec.ops["load_string"]).To(Equal(2))
			Expect(rec.failures["load_string"]).To(Equal(1))
			Expect(rec.ops["finalize"]).To(Equal(1))
			Expect(rec.ops["run"]).To(Equal(1))
		})
	})

	Describe("running the exponential system", func() {
		var sim *simulation.Simulation

		BeforeEach(func() {
			sim = finalized(eng, models.Exponential{})
			Expect(sim.Run(context.Background())).To(Succeed())
		})

		It("matches the analytic solution", func() {
			times, err := sim.SimulationTimes()
			Expect(err).NotTo(HaveOccurred())
			y1, err := sim.ValuesFor("y1")
			Expect(err).NotTo(HaveOccurred())
			y2, err := sim.ValuesFor("y2")
			Expect(err).NotTo(HaveOccurred())

			for k, t := range times {
				Expect(y1.At(k)).To(BeNumerically("~", math.Exp(t)+math.Exp(-t), 1e-5*(math.Exp(t)+math.Exp(-t))))
				Expect(y2.At(k)).To(BeNumerically("~", math.Exp(t)-math.Exp(-t), 1e-5*math.Max(1, math.Exp(t))))
			}
			Expect(sim.State()).To(Equal(simulation.StateRunComplete))
		})

		It("reports the constant species with a single value", func() {
			y3, err := sim.ValuesFor("y3")
			Expect(err).NotTo(HaveOccurred())
			Expect(y3.IsConstant).To(BeTrue())
			Expect(y3.Values).To(Equal([]float64{2}))
			Expect(y3.Kind).To(Equal(simulation.KindSpecies))
		})

		It("keeps series lengths consistent with the time raster", func() {
			n, err := sim.NumberOfTimePoints()
			Expect(err).NotTo(HaveOccurred())
			times, err := sim.SimulationTimes()
			Expect(err).NotTo(HaveOccurred())
			Expect(times).To(HaveLen(n))

			all, err := sim.AllValues()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(4))
			for _, v := range all {
				if v.IsConstant {
					Expect(v.Values).To(HaveLen(1))
				} else {
					Expect(v.Values).To(HaveLen(n))
				}
			}
		})

		It("scales observer thresholds with their formula", func() {
			y1, err := sim.ValuesFor("y1")
			Expect(err).NotTo(HaveOccurred())
			obs, err := sim.ValuesForID(4)
			Expect(err).NotTo(HaveOccurred())

			Expect(obs.Kind).To(Equal(simulation.KindObserver))
			Expect(obs.EntityID).To(Equal("obs1"))
			Expect(obs.ComparisonThreshold).To(BeNumerically("~", 2*y1.ComparisonThreshold, 1e-20))
		})

		It("captures run statistics", func() {
			stats := sim.RunStatistics()
			Expect(stats.ToleranceWasReduced).To(BeFalse())
			Expect(stats.UsedAbsoluteTolerance).To(Equal(1e-10))
			Expect(stats.UsedRelativeTolerance).To(Equal(1e-10))
			Expect(sim.SolverWarnings()).To(BeEmpty())
			Expect(sim.Progress()).To(Equal(100))
		})

		It("fails for unknown entities", func() {
			_, err := sim.ValuesFor("nope")
			Expect(err).To(MatchError(simerr.ErrUnknownEntity))
			_, err = sim.ValuesForID(99)
			Expect(err).To(MatchError(simerr.ErrUnknownEntity))
		})

		It("refuses value reads after releasing memory until the next run", func() {
			Expect(sim.ReleaseMemory()).To(Succeed())
			_, err := sim.ValuesFor("y1")
			Expect(err).To(MatchError(simerr.ErrInvalidState))

			Expect(sim.Run(context.Background())).To(Succeed())
			_, err = sim.ValuesFor("y1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("runs again with new settings without finalizing", func() {
			Expect(sim.UpdateSettings(func(s *simulation.Settings) {
				s.ExecutionTimeLimit = 30 * time.Second
			})).To(Succeed())
			Expect(sim.Run(context.Background())).To(Succeed())
		})
	})

	Describe("parameter and species proxies", func() {
		It("reads back a written value", func() {
			sim := loaded(eng, models.Additive{})
			p := simulation.FindParameter(sim.Parameters(), "P1")
			Expect(p).NotTo(BeNil())

			Expect(p.SetValue(3.25)).To(Succeed())
			Expect(p.Value()).To(Equal(3.25))
		})

		It("turns a formula parameter into a constant when a value is written", func() {
			sim := loaded(eng, models.Additive{})
			p := simulation.FindParameter(sim.Parameters(), "P10")
			Expect(p.IsFormula()).To(BeTrue())
			Expect(p.Formula()).To(Equal("P1 + P2"))

			Expect(p.SetValue(5)).To(Succeed())
			Expect(p.IsFormula()).To(BeFalse())
			Expect(p.Formula()).To(BeEmpty())
		})

		It("replaces table points", func() {
			sim := loaded(eng, models.NewDosing())
			p := simulation.FindParameter(sim.Parameters(), "infusion")
			Expect(p.IsTable()).To(BeTrue())
			Expect(p.TablePoints()).To(HaveLen(3))

			points := []simulation.TablePoint{{X: 0, Y: 1}, {X: 2, Y: 0, RestartSolver: true}}
			Expect(p.SetTablePoints(points)).To(Succeed())
			Expect(p.TablePoints()).To(Equal(points))

			bad := []simulation.TablePoint{{X: 1, Y: 1}, {X: 1, Y: 2}}
			Expect(p.SetTablePoints(bad)).To(MatchError(simerr.ErrEngine))
			Expect(p.TablePoints()).To(Equal(points))
		})

		It("keeps table points in engine order", func() {
			sim := loaded(eng, models.NewDosing())
			p := simulation.FindParameter(sim.Parameters(), "infusion")

			points := []simulation.TablePoint{{X: 5, Y: 0}, {X: 0, Y: 1}, {X: 2, Y: 3, RestartSolver: true}}
			Expect(p.SetTablePoints(points)).To(Succeed())
			Expect(points[0].X).To(Equal(5.0))
			Expect(p.TablePoints()).To(Equal([]simulation.TablePoint{{X: 0, Y: 1}, {X: 2, Y: 3, RestartSolver: true}, {X: 5, Y: 0}}))
		})

		It("leaves the cache unchanged when the engine rejects a write", func() {
			sim := loaded(eng, models.Exponential{})
			sp := simulation.FindSpecies(sim.Species(), "y1")
			Expect(sp.ScaleFactor()).To(Equal(1.0))

			err := sp.SetScaleFactor(0)
			Expect(err).To(MatchError(simerr.ErrEngine))
			Expect(err.Error()).To(ContainSubstring("y1"))
			Expect(sp.ScaleFactor()).To(Equal(1.0))

			Expect(sp.SetInitialValue(math.NaN())).To(MatchError(simerr.ErrEngine))
			Expect(sp.InitialValue()).To(Equal(2.0))
		})

		It("invalidates proxies fetched before finalize", func() {
			sim := loaded(eng, models.Additive{})
			old := simulation.FindParameter(sim.Parameters(), "P1")
			Expect(sim.Finalize()).To(Succeed())

			err := old.SetValue(1)
			Expect(err).To(MatchError(simerr.ErrInvalidState))
			Expect(err.Error()).To(ContainSubstring("generation"))
			Expect(sim.SetVariableParameters([]*simulation.Parameter{old})).To(MatchError(simerr.ErrInvalidState))

			fresh := simulation.FindParameter(sim.Parameters(), "P1")
			Expect(fresh.SetValue(1)).To(Succeed())
		})

		It("rejects proxies of another simulation", func() {
			a := loaded(eng, models.Additive{})
			b := loaded(eng, models.Additive{})

			err := a.SetVariableParameters(b.Parameters()[:1])
			Expect(err).To(MatchError(simerr.ErrInvalidState))
		})

		It("rejects a variable set mixing two fetches", func() {
			sim := loaded(eng, models.Additive{})
			first := simulation.FindParameter(sim.Parameters(), "P1")
			again, err := sim.ParameterProperties()
			Expect(err).NotTo(HaveOccurred())
			second := simulation.FindParameter(again, "P2")

			Expect(sim.SetVariableParameters([]*simulation.Parameter{first, second})).To(MatchError(simerr.ErrInvalidState))
		})

		It("disposes collections superseded by a refetch", func() {
			counter := newVectorCounter(eng)
			sim, err := simulation.New(counter, simulation.DefaultSettings())
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(sim.Dispose)
			Expect(sim.LoadFromString(document(models.Additive{}))).To(Succeed())
			Expect(counter.count()).To(Equal(2))

			registered := simulation.FindParameter(sim.Parameters(), "P1")
			Expect(sim.SetVariableParameters([]*simulation.Parameter{registered})).To(Succeed())

			first, err := sim.ParameterProperties()
			Expect(err).NotTo(HaveOccurred())
			for range 1000 {
				_, err := sim.ParameterProperties()
				Expect(err).NotTo(HaveOccurred())
				_, err = sim.SpeciesProperties()
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(counter.count()).To(Equal(3))

			err = simulation.FindParameter(first, "P2").SetValue(1)
			Expect(err).To(MatchError(simerr.ErrInvalidState))
			Expect(err.Error()).To(ContainSubstring("superseded"))

			Expect(registered.SetValue(2)).To(Succeed())
			Expect(sim.SetParameterValues()).To(Succeed())
			Expect(simulation.FindParameter(sim.Parameters(), "P2").SetValue(1)).To(Succeed())

			sim.Dispose()
			Expect(counter.count()).To(BeZero())
		})

		It("queries usage from the engine", func() {
			settings := simulation.DefaultSettings()
			settings.IdentifyUsedParameters = true
			sim := newSimulation(eng, settings)
			Expect(sim.LoadFromString(document(models.NewDecay()))).To(Succeed())
			Expect(sim.Finalize()).To(Succeed())

			used, err := simulation.FindParameter(sim.Parameters(), "k").IsUsedInSimulation()
			Expect(err).NotTo(HaveOccurred())
			Expect(used).To(BeTrue())
			used, err = simulation.FindSpecies(sim.Species(), "y").IsUsedInSimulation()
			Expect(err).NotTo(HaveOccurred())
			Expect(used).To(BeTrue())
		})
	})

	Describe("variable sets", func() {
		It("recomputes dependent formulas from pushed values", func() {
			sim := loaded(eng, models.Additive{})
			params := sim.Parameters()
			Expect(sim.SetVariableParameters([]*simulation.Parameter{
				simulation.FindParameter(params, "P1"),
				simulation.FindParameter(params, "P2"),
			})).To(Succeed())
			Expect(sim.Finalize()).To(Succeed())
			Expect(sim.Run(context.Background())).To(Succeed())

			variable := sim.VariableParameters()
			Expect(variable).To(HaveLen(2))
			Expect(variable[0].SetValue(3)).To(Succeed())
			Expect(variable[1].SetValue(4)).To(Succeed())
			Expect(sim.SetParameterValues()).To(Succeed())

			current, err := sim.ParameterProperties()
			Expect(err).NotTo(HaveOccurred())
			Expect(simulation.FindParameter(current, "P10").Value()).To(BeNumerically("~", 7.0, 1e-5))

			Expect(sim.Run(context.Background())).To(Succeed())
			y, err := sim.ValuesFor("y")
			Expect(err).NotTo(HaveOccurred())
			Expect(y.Values[len(y.Values)-1]).To(BeNumerically("~", math.Exp(-7), 1e-5*math.Exp(-7)))
		})

		It("pushes variable species values", func() {
			sim := loaded(eng, models.Exponential{})
			Expect(sim.SetVariableSpecies([]*simulation.Species{simulation.FindSpecies(sim.Species(), "y1")})).To(Succeed())
			Expect(sim.Finalize()).To(Succeed())

			y1 := sim.VariableSpecies()[0]
			Expect(y1.SetInitialValue(4)).To(Succeed())
			Expect(y1.SetScaleFactor(10)).To(Succeed())
			Expect(sim.SetSpeciesValues()).To(Succeed())
			Expect(sim.Run(context.Background())).To(Succeed())

			v, err := sim.ValuesFor("y1")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Values[0]).To(BeNumerically("~", 4, 1e-12))
			Expect(v.ComparisonThreshold).To(BeNumerically("~", 10*1e-10*10, 1e-18))
		})

		It("clears the registration with an empty set", func() {
			sim := loaded(eng, models.Additive{})
			Expect(sim.SetVariableParameters(sim.Parameters()[:1])).To(Succeed())
			Expect(sim.SetVariableParameters(nil)).To(Succeed())
			Expect(sim.VariableParameters()).To(BeEmpty())
			Expect(sim.SetParameterValues()).To(Succeed())
		})

		It("calculates sensitivities for flagged parameters", func() {
			decay := models.NewDecay()
			sim := loaded(eng, decay)
			k := simulation.FindParameter(sim.Parameters(), "k")
			Expect(k.SetCalculateSensitivity(true)).To(Succeed())
			Expect(sim.SetVariableParameters([]*simulation.Parameter{k})).To(Succeed())
			Expect(sim.Finalize()).To(Succeed())
			Expect(sim.VariableParameters()[0].CalculateSensitivity()).To(BeTrue())
			Expect(sim.Run(context.Background())).To(Succeed())

			times, err := sim.SimulationTimes()
			Expect(err).NotTo(HaveOccurred())
			sens, err := sim.SensitivityValuesByPathFor("Model|y", "Model|k")
			Expect(err).NotTo(HaveOccurred())
			Expect(sens).To(HaveLen(len(times)))
			for i, t := range times {
				want := -t * decay.Initial * math.Exp(-decay.Rate*t)
				Expect(sens[i]).To(BeNumerically("~", want, 1e-4*math.Max(1, math.Abs(want))))
			}

			_, err = sim.SensitivityValuesByPathFor("Model|y", "Model|V")
			Expect(err).To(MatchError(simerr.ErrEngine))
			_, err = sim.SensitivityValuesByPathFor("Model|nope", "Model|k")
			Expect(err).To(MatchError(simerr.ErrUnknownEntity))
		})
	})

	Describe("solver failures", func() {
		It("reports negative values when checking is enabled", func() {
			sim := finalized(eng, models.NewDepletion())

			err := sim.Run(context.Background())
			Expect(err).To(MatchError(simerr.ErrSolve))
			Expect(err.Error()).To(ContainSubstring("negative"))
			Expect(err.Error()).To(ContainSubstring("t="))
			Expect(sim.State()).To(Equal(simulation.StateFinalized))
			Expect(sim.RunStatistics().UsedAbsoluteTolerance).To(Satisfy(math.IsNaN))
		})

		It("completes when negative values are not checked", func() {
			settings := simulation.DefaultSettings()
			settings.CheckForNegativeValues = false
			sim := newSimulation(eng, settings)
			Expect(sim.LoadFromString(document(models.NewDepletion()))).To(Succeed())
			Expect(sim.Finalize()).To(Succeed())

			Expect(sim.Run(context.Background())).To(Succeed())
			y, err := sim.ValuesFor("y")
			Expect(err).NotTo(HaveOccurred())
			Expect(y.Values[len(y.Values)-1]).To(BeNumerically("~", -1, 1e-6))
		})

		It("surfaces cancellation", func() {
			sim := finalized(eng, models.NewDoublePendulum())
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := sim.Run(ctx)
			Expect(err).To(MatchError(simerr.ErrSolve))
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(simulation.IsCanceled(err)).To(BeTrue())
		})

		It("stops a run cancelled from another goroutine", func() {
			doc := models.NewDoublePendulum().Document()
			doc.Output.Intervals[0].End = "2000"
			doc.Output.Intervals[0].Points = "200000"
			src, err := doc.Marshal()
			Expect(err).NotTo(HaveOccurred())

			settings := simulation.DefaultSettings()
			settings.ShowProgress = true
			sim := newSimulation(eng, settings)
			Expect(sim.LoadFromString(src)).To(Succeed())
			Expect(sim.Finalize()).To(Succeed())

			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				done <- sim.Run(context.Background())
			}()
			Eventually(sim.Progress).WithTimeout(30 * time.Second).WithPolling(time.Millisecond).Should(BeNumerically(">", 0))
			sim.Cancel()

			var runErr error
			Eventually(done).WithTimeout(30 * time.Second).Should(Receive(&runErr))
			Expect(simulation.IsCanceled(runErr)).To(BeTrue())
			Expect(runErr.Error()).To(ContainSubstring("canceled by user"))
			Expect(sim.State()).To(Equal(simulation.StateFinalized))
		})

		It("keeps solver warnings of a run", func() {
			doc := models.Exponential{}.Document()
			doc.Solver.MaxSteps = "1"
			doc.Solver.H0 = "1e-4"
			src, err := doc.Marshal()
			Expect(err).NotTo(HaveOccurred())

			settings := simulation.DefaultSettings()
			settings.StopOnWarnings = false
			sim := newSimulation(eng, settings)
			Expect(sim.LoadFromString(src)).To(Succeed())
			Expect(sim.Finalize()).To(Succeed())
			Expect(sim.Run(context.Background())).To(Succeed())

			warnings := sim.SolverWarnings()
			Expect(warnings).NotTo(BeEmpty())
			Expect(warnings[0].Message).To(ContainSubstring("t="))
		})
	})

	Describe("settings", func() {
		It("pushes settings to the engine", func() {
			sim := newSimulation(eng, simulation.DefaultSettings())
			Expect(sim.UpdateSettings(func(s *simulation.Settings) {
				s.ExecutionTimeLimit = 2 * time.Second
				s.ShowProgress = true
			})).To(Succeed())

			got, err := sim.EngineSettings()
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(sim.Settings()))
			Expect(got.ExecutionTimeLimit).To(Equal(2 * time.Second))
		})

		It("keeps the previous settings when the engine rejects new ones", func() {
			sim := newSimulation(eng, simulation.DefaultSettings())
			err := sim.UpdateSettings(func(s *simulation.Settings) { s.ExecutionTimeLimit = -time.Second })
			Expect(err).To(MatchError(simerr.ErrEngine))
			Expect(sim.Settings()).To(Equal(simulation.DefaultSettings()))
		})

		It("keeps the document only when asked to", func() {
			sim := loaded(eng, models.Exponential{})
			_, err := sim.SimulationXMLString()
			Expect(err).To(MatchError(simerr.ErrEngine))

			settings := simulation.DefaultSettings()
			settings.KeepXMLNodeAsString = true
			kept := newSimulation(eng, settings)
			Expect(kept.LoadFromString(document(models.Exponential{}))).To(Succeed())
			doc, err := kept.SimulationXMLString()
			Expect(err).NotTo(HaveOccurred())
			Expect(doc).To(ContainSubstring("obs1"))
		})
	})

	Describe("diagnostics and export", func() {
		It("reports persistable parameters as observers", func() {
			sim := finalized(eng, models.NewDecay())
			ok, err := sim.ContainsPersistableParameters()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(sim.ObjectPathDelimiter()).To(Equal("|"))

			Expect(sim.Run(context.Background())).To(Succeed())
			halfLife, err := sim.ValuesFor("halfLife")
			Expect(err).NotTo(HaveOccurred())
			Expect(halfLife.Kind).To(Equal(simulation.KindObserver))
			Expect(halfLife.Values).To(HaveLen(1))
			Expect(halfLife.Values[0]).To(BeNumerically("~", math.Ln2/0.5, 1e-12))
		})

		It("exports code for every language", func() {
			dir, err := os.MkdirTemp("", "export")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(os.RemoveAll, dir)

			sim := loaded(eng, models.NewSpringMass())
			Expect(sim.ExportToCode(dir, "spring", simulation.LanguageR, simulation.ExportFormula)).To(MatchError(simerr.ErrInvalidState))
			Expect(sim.Finalize()).To(Succeed())

			for _, name := range []string{"matlab", "cpp", "r"} {
				lang, err := simulation.ParseLanguage(name)
				Expect(err).NotTo(HaveOccurred())
				Expect(sim.ExportToCode(dir, "spring", lang, simulation.ExportValues)).To(Succeed())
			}
			for _, file := range []string{"spring.m", "spring.cpp", "spring.R"} {
				Expect(filepath.Join(dir, file)).To(BeAnExistingFile())
			}

			Expect(sim.ExportToCode(dir, "not a name", simulation.LanguageCpp, simulation.ExportFormula)).To(MatchError(simerr.ErrExport))
			_, err = simulation.ParseLanguage("fortran")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ensembles", func() {
		It("runs members independently", func() {
			decay := models.NewDecay()
			ens := simulation.NewEnsemble(eng, document(decay), simulation.DefaultSettings())
			ens.SetLimit(2)

			rates := []float64{0.1, 0.5, 1}
			members := make([]simulation.Member, len(rates))
			for i, k := range rates {
				members[i] = simulation.Member{"k": k}
			}

			results, err := ens.Run(context.Background(), members, "y")
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(len(rates)))
			for i, k := range rates {
				y := results[i].Values["y"]
				Expect(results[i].Index).To(Equal(i))
				Expect(y.Values[len(y.Values)-1]).To(BeNumerically("~", decay.Initial*math.Exp(-k*10), 1e-6))
			}
		})

		It("fails on unknown parameters", func() {
			ens := simulation.NewEnsemble(eng, document(models.NewDecay()), simulation.DefaultSettings())
			_, err := ens.Run(context.Background(), []simulation.Member{{"nope": 1}}, "y")
			Expect(err).To(MatchError(simerr.ErrUnknownEntity))
		})
	})
})
