package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/odectl/internal/config"
	"github.com/san-kum/odectl/internal/models"
	"github.com/san-kum/odectl/internal/simulation"
	"github.com/san-kum/odectl/internal/storage"
	"github.com/san-kum/odectl/internal/viz"
)

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tPOINTS\tSERIES\tWARNINGS\tREDUCED")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%t\n",
			run.ID,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.TimePoints,
			len(run.Series),
			len(run.Warnings),
			run.ToleranceWasReduced,
		)
	}

	return w.Flush()
}

func columns(values *storage.Values, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return values.Columns, nil
	}
	for _, id := range ids {
		if _, ok := values.Series[id]; !ok {
			return nil, fmt.Errorf("no stored series for %s (available: %v)", id, values.Columns)
		}
	}
	return ids, nil
}

func printValues(cmd *cobra.Command, args []string) error {
	values, err := storage.New(dataDir).LoadValues(args[0])
	if err != nil {
		return err
	}
	cols, err := columns(values, entities)
	if err != nil {
		return err
	}

	w := csv.NewWriter(os.Stdout)
	if err := w.Write(append([]string{"time"}, cols...)); err != nil {
		return err
	}
	for k, t := range values.Times {
		row := []string{strconv.FormatFloat(t, 'g', -1, 64)}
		for _, c := range cols {
			row = append(row, strconv.FormatFloat(values.Series[c][k], 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	values, err := st.LoadValues(runID)
	if err != nil {
		return err
	}
	if len(values.Times) == 0 {
		return fmt.Errorf("no data to plot")
	}
	cols, err := columns(values, entities)
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("samples: %d\n\n", len(values.Times))

	series := make([]*simulation.VariableValues, len(cols))
	for i, c := range cols {
		series[i] = &simulation.VariableValues{
			EntityReference: simulation.EntityReference{EntityID: c},
			Values:          values.Series[c],
		}
	}
	graph, err := viz.Plot(values.Times, series, viz.PlotOptions{Caption: meta.Model})
	if err != nil {
		return err
	}
	fmt.Println(graph)
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	return storage.New(dataDir).ExportJSON(os.Stdout, args[0])
}

// finalized loads and finalizes a model without running it.
func finalized(name string, settings simulation.Settings) (*simulation.Simulation, error) {
	sim, err := simulation.New(engine, settings, simOptions(name)...)
	if err != nil {
		return nil, err
	}
	if err := loadModel(sim, name); err != nil {
		sim.Dispose()
		return nil, err
	}
	if err := sim.Finalize(); err != nil {
		sim.Dispose()
		return nil, err
	}
	return sim, nil
}

func generateCode(cmd *cobra.Command, args []string) error {
	lang, err := simulation.ParseLanguage(language)
	if err != nil {
		return err
	}
	sim, err := finalized(args[0], simulation.DefaultSettings())
	if err != nil {
		return err
	}
	defer sim.Dispose()

	mode := simulation.ExportFormula
	if numeric {
		mode = simulation.ExportValues
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	base := strings.TrimPrefix(args[0], builtinPrefix)
	base = strings.TrimSuffix(filepath.Base(base), filepath.Ext(base))
	if err := sim.ExportToCode(outDir, base, lang, mode); err != nil {
		return err
	}
	fmt.Printf("exported %s to %s\n", base, outDir)
	return nil
}

func inspectModel(cmd *cobra.Command, args []string) error {
	settings := simulation.DefaultSettings()
	settings.IdentifyUsedParameters = true
	sim, err := finalized(args[0], settings)
	if err != nil {
		return err
	}
	defer sim.Dispose()

	version, err := sim.XMLVersion()
	if err != nil {
		return err
	}
	delimiter, err := sim.ObjectPathDelimiter()
	if err != nil {
		return err
	}
	persistable, err := sim.ContainsPersistableParameters()
	if err != nil {
		return err
	}
	points, err := sim.NumberOfTimePoints()
	if err != nil {
		return err
	}

	fmt.Println(viz.TitleStyle.Render(args[0]))
	fmt.Println(viz.Row("version", strconv.Itoa(version)))
	fmt.Println(viz.Row("delimiter", delimiter))
	fmt.Println(viz.Row("time points", strconv.Itoa(points)))
	fmt.Println(viz.Row("persistable", strconv.FormatBool(persistable)))
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARAMETER\tPATH\tVALUE\tKIND\tUSED")
	for _, p := range sim.Parameters() {
		used, err := p.IsUsedInSimulation()
		if err != nil {
			return err
		}
		kind, value := "constant", strconv.FormatFloat(p.Value(), 'g', 6, 64)
		switch {
		case p.IsTable():
			kind, value = "table", fmt.Sprintf("%d points", len(p.TablePoints()))
		case p.IsFormula():
			kind, value = "formula", p.Formula()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", p.EntityID, p.Path, value, kind, used)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SPECIES\tPATH\tINITIAL\tSCALE\tUSED")
	for _, sp := range sim.Species() {
		used, err := sp.IsUsedInSimulation()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%g\t%g\t%t\n", sp.EntityID, sp.Path, sp.InitialValue(), sp.ScaleFactor(), used)
	}
	return w.Flush()
}

func listPresets(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Println("option presets:")
		for _, name := range config.ListOptionPresets() {
			p := config.OptionPresets[name]
			fmt.Printf("  %-12s stop_on_warnings=%t auto_reduce=%t time_limit=%s\n",
				name, p.StopOnWarnings, p.AutoReduceTolerances, p.ExecutionTimeLimit)
		}
		return nil
	}

	model := strings.TrimPrefix(args[0], builtinPrefix)
	presets := config.ListPresets(model)
	if len(presets) == 0 {
		fmt.Printf("no start presets for %s\n", model)
		return nil
	}

	fmt.Printf("start presets for %s:\n", model)
	for _, name := range presets {
		p := config.GetPreset(model, name)
		var parts []string
		for _, k := range sortedKeys(p.Species) {
			parts = append(parts, fmt.Sprintf("%s=%g", k, p.Species[k]))
		}
		for _, k := range sortedKeys(p.Parameters) {
			parts = append(parts, fmt.Sprintf("%s=%g", k, p.Parameters[k]))
		}
		fmt.Printf("  %-12s %s\n", name, strings.Join(parts, " "))
	}
	return nil
}

func listModels(cmd *cobra.Command, args []string) error {
	for _, name := range models.List() {
		fmt.Println(builtinPrefix + name)
	}
	return nil
}
