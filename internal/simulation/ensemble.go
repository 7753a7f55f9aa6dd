package simulation

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/odectl/internal/native"
	"github.com/san-kum/odectl/internal/simerr"
)

// Member is one ensemble run: parameter values keyed by entity id or path.
type Member map[string]float64

type EnsembleResult struct {
	Index      int
	Statistics RunStatistics
	Values     map[string]*VariableValues
}

// Ensemble runs independent simulations of one model document in parallel,
// one Simulation and engine handle per member.
type Ensemble struct {
	eng      native.Engine
	document string
	settings Settings
	limit    int
	opts     []Option
}

func NewEnsemble(eng native.Engine, document string, settings Settings, opts ...Option) *Ensemble {
	return &Ensemble{eng: eng, document: document, settings: settings, opts: opts}
}

// SetLimit bounds the number of members running at once. n <= 0 means no
// limit.
func (e *Ensemble) SetLimit(n int) {
	e.limit = n
}

// Run simulates every member and collects the series of entities. The first
// failure cancels the remaining members.
func (e *Ensemble) Run(ctx context.Context, members []Member, entities ...string) ([]EnsembleResult, error) {
	results := make([]EnsembleResult, len(members))

	g, ctx := errgroup.WithContext(ctx)
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i, m := range members {
		g.Go(func() error {
			res, err := e.runMember(ctx, i, m, entities)
			if err != nil {
				return fmt.Errorf("member %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Ensemble) runMember(ctx context.Context, index int, m Member, entities []string) (EnsembleResult, error) {
	sim, err := New(e.eng, e.settings, e.opts...)
	if err != nil {
		return EnsembleResult{}, err
	}
	defer sim.Dispose()

	if err := sim.LoadFromString(e.document); err != nil {
		return EnsembleResult{}, err
	}
	params := sim.Parameters()
	variable := make([]*Parameter, 0, len(m))
	for key, v := range m {
		p := FindParameter(params, key)
		if p == nil {
			return EnsembleResult{}, simerr.New(simerr.KindUnknownEntity, "ensemble").Entity(key).Detail("%s is not a parameter", key).Build()
		}
		if err := p.SetValue(v); err != nil {
			return EnsembleResult{}, err
		}
		variable = append(variable, p)
	}
	if err := sim.SetVariableParameters(variable); err != nil {
		return EnsembleResult{}, err
	}
	if err := sim.Finalize(); err != nil {
		return EnsembleResult{}, err
	}
	if err := sim.Run(ctx); err != nil {
		return EnsembleResult{}, err
	}

	res := EnsembleResult{Index: index, Statistics: sim.RunStatistics(), Values: make(map[string]*VariableValues, len(entities))}
	for _, id := range entities {
		v, err := sim.ValuesFor(id)
		if err != nil {
			return EnsembleResult{}, err
		}
		res.Values[id] = v
	}
	sim.log.Debug("ensemble member finished", zap.Int("member", index))
	return res, nil
}
