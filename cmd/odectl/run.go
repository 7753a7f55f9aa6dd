package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/odectl/internal/config"
	"github.com/san-kum/odectl/internal/models"
	"github.com/san-kum/odectl/internal/simulation"
	"github.com/san-kum/odectl/internal/storage"
	"github.com/san-kum/odectl/internal/viz"
)

const builtinPrefix = "builtin:"

// builtinDocument resolves a built-in model name. ok is false when name is
// not a built-in model and should be treated as a file path.
func builtinDocument(name string) (doc string, ok bool, err error) {
	key, explicit := strings.CutPrefix(name, builtinPrefix)
	m, err := models.Get(key)
	if err != nil {
		if explicit {
			return "", true, err
		}
		return "", false, nil
	}
	doc, err = models.XML(m)
	return doc, true, err
}

func loadModel(sim *simulation.Simulation, name string) error {
	doc, ok, err := builtinDocument(name)
	if err != nil {
		return err
	}
	if ok {
		return sim.LoadFromString(doc)
	}
	return sim.LoadFromFile(name)
}

func readModel(name string) (string, error) {
	doc, ok, err := builtinDocument(name)
	if err != nil || ok {
		return doc, err
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseAssignments(list []string) (map[string]float64, error) {
	out := make(map[string]float64, len(list))
	for _, a := range list {
		name, raw, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected name=value", a)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", name, err)
		}
		out[strings.TrimSpace(name)] = v
	}
	return out, nil
}

func merge(dst, src map[string]float64) map[string]float64 {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]float64, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// resolveConfig layers defaults, the config file, presets and flags, in
// that order.
func resolveConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if len(args) > 0 {
		cfg.Model = args[0]
	}

	if preset != "" {
		if err := cfg.ApplyPreset(preset); err != nil {
			return nil, fmt.Errorf("%w (available: %v)", err, config.ListOptionPresets())
		}
	}
	if start != "" {
		model := strings.TrimPrefix(cfg.Model, builtinPrefix)
		p := config.GetPreset(model, start)
		if p == nil {
			return nil, fmt.Errorf("unknown start preset: %s (available: %v)", start, config.ListPresets(model))
		}
		cfg.Parameters = merge(cfg.Parameters, p.Parameters)
		cfg.Species = merge(cfg.Species, p.Species)
	}

	if timeLimit != "" {
		d, err := time.ParseDuration(timeLimit)
		if err != nil {
			return nil, fmt.Errorf("invalid time limit: %w", err)
		}
		cfg.Options.ExecutionTimeLimit = d
	}
	if f := cmd.Flags().Lookup("progress"); f != nil && f.Changed {
		cfg.Options.ShowProgress = progress
	}
	params, err := parseAssignments(sets)
	if err != nil {
		return nil, err
	}
	cfg.Parameters = merge(cfg.Parameters, params)
	species, err := parseAssignments(speciesSet)
	if err != nil {
		return nil, err
	}
	cfg.Species = merge(cfg.Species, species)
	if len(entities) > 0 {
		cfg.Output.Entities = entities
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	return cfg, cfg.Validate()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// applyOverrides sets the configured values on a loaded simulation and
// registers them as variable so they survive Finalize.
func applyOverrides(sim *simulation.Simulation, cfg *config.Config) error {
	params := sim.Parameters()
	variable := make([]*simulation.Parameter, 0, len(cfg.Parameters))
	for _, key := range sortedKeys(cfg.Parameters) {
		p := simulation.FindParameter(params, key)
		if p == nil {
			return fmt.Errorf("unknown parameter: %s", key)
		}
		if err := p.SetValue(cfg.Parameters[key]); err != nil {
			return err
		}
		variable = append(variable, p)
	}
	if len(variable) > 0 {
		if err := sim.SetVariableParameters(variable); err != nil {
			return err
		}
	}

	all := sim.Species()
	species := make([]*simulation.Species, 0, len(cfg.Species))
	for _, key := range sortedKeys(cfg.Species) {
		sp := simulation.FindSpecies(all, key)
		if sp == nil {
			return fmt.Errorf("unknown species: %s", key)
		}
		if err := sp.SetInitialValue(cfg.Species[key]); err != nil {
			return err
		}
		species = append(species, sp)
	}
	if len(species) > 0 {
		return sim.SetVariableSpecies(species)
	}
	return nil
}

func selectSeries(all []*simulation.VariableValues, ids []string) ([]*simulation.VariableValues, error) {
	if len(ids) == 0 {
		return all, nil
	}
	byID := make(map[string]*simulation.VariableValues, len(all))
	for _, v := range all {
		byID[v.EntityID] = v
	}
	out := make([]*simulation.VariableValues, 0, len(ids))
	for _, id := range ids {
		v, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("no output series for %s", id)
		}
		out = append(out, v)
	}
	return out, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	sim, err := simulation.New(engine, cfg.Settings(), simOptions(cfg.Model)...)
	if err != nil {
		return err
	}
	defer sim.Dispose()

	if err := loadModel(sim, cfg.Model); err != nil {
		return err
	}
	if err := applyOverrides(sim, cfg); err != nil {
		return err
	}
	if err := sim.Finalize(); err != nil {
		return err
	}

	fmt.Printf("running %s simulation...\n", cfg.Model)
	started := time.Now()
	if cfg.Options.ShowProgress {
		err = viz.RunWithProgress(ctx, os.Stderr, cfg.Model, sim, sim.Run)
	} else {
		err = sim.Run(ctx)
	}
	printWarnings(sim.SolverWarnings())
	if err != nil {
		if simulation.IsCanceled(err) {
			return fmt.Errorf("run canceled: %w", err)
		}
		return err
	}
	elapsed := time.Since(started)

	times, err := sim.SimulationTimes()
	if err != nil {
		return err
	}
	all, err := sim.AllValues()
	if err != nil {
		return err
	}
	values, err := selectSeries(all, cfg.Output.Entities)
	if err != nil {
		return err
	}

	stats := sim.RunStatistics()
	fmt.Printf("completed in %v\n", elapsed)
	fmt.Println(viz.Row("time points", strconv.Itoa(len(times))))
	fmt.Println(viz.Row("abs tol", fmt.Sprintf("%g", stats.UsedAbsoluteTolerance)))
	fmt.Println(viz.Row("rel tol", fmt.Sprintf("%g", stats.UsedRelativeTolerance)))
	if stats.ToleranceWasReduced {
		fmt.Println(viz.Row("tolerances", "reduced"))
	}
	fmt.Println(viz.Separator(60))
	printSeries(values)

	if noSave {
		return nil
	}
	st, err := openStore(cfg.Output.Dir)
	if err != nil {
		return err
	}
	runID, err := st.Save(&storage.Run{
		Model:      cfg.Model,
		Preset:     cfg.Preset,
		Parameters: cfg.Parameters,
		Statistics: stats,
		Warnings:   sim.SolverWarnings(),
		Times:      times,
		Values:     values,
	})
	if err != nil {
		return err
	}
	log.Debug("run stored", zap.String("run_id", runID))
	fmt.Printf("\nrun id: %s\n", runID)
	return nil
}

func printWarnings(warnings []simulation.SolverWarning) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning at t=%g: %s\n", w.OutputTime, w.Message)
	}
}

func printSeries(values []*simulation.VariableValues) {
	for _, v := range values {
		last := v.Values[len(v.Values)-1]
		line := viz.Sparkline(v.Values, 30)
		if v.IsConstant {
			line = viz.Subtle.Render("constant")
		}
		fmt.Printf("%s %s  %s\n", viz.Row(v.EntityID, fmt.Sprintf("%-12.6g", last)), line, viz.Subtle.Render(v.Kind.String()))
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	if len(cfg.Species) > 0 {
		return fmt.Errorf("sweep varies parameters only; drop --species")
	}
	doc, err := readModel(cfg.Model)
	if err != nil {
		return err
	}

	members := make([]simulation.Member, len(sweepValues))
	for i, v := range sweepValues {
		m := simulation.Member{}
		for k, fixed := range cfg.Parameters {
			m[k] = fixed
		}
		m[sweepParam] = v
		members[i] = m
	}

	ens := simulation.NewEnsemble(engine, doc, cfg.Settings(), simOptions(cfg.Model)...)
	ens.SetLimit(cfg.Workers)

	fmt.Printf("sweeping %s over %d values (%d workers)...\n", sweepParam, len(members), cfg.Workers)
	started := time.Now()
	results, err := ens.Run(cmd.Context(), members, cfg.Output.Entities...)
	if err != nil {
		return err
	}
	fmt.Printf("completed in %v\n\n", time.Since(started))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := []string{"MEMBER", strings.ToUpper(sweepParam), "ABS TOL"}
	for _, id := range cfg.Output.Entities {
		header = append(header, id+"(END)")
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, r := range results {
		row := []string{
			strconv.Itoa(r.Index),
			strconv.FormatFloat(sweepValues[r.Index], 'g', -1, 64),
			strconv.FormatFloat(r.Statistics.UsedAbsoluteTolerance, 'g', 3, 64),
		}
		for _, id := range cfg.Output.Entities {
			v := r.Values[id]
			row = append(row, strconv.FormatFloat(v.Values[len(v.Values)-1], 'g', 6, 64))
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}
