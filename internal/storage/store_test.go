package storage

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/san-kum/odectl/internal/simulation"
)

func testRun() *Run {
	return &Run{
		Model:      "decay",
		Parameters: map[string]float64{"k": 0.5},
		Statistics: simulation.RunStatistics{UsedAbsoluteTolerance: 1e-10, UsedRelativeTolerance: 1e-8},
		Warnings:   []simulation.SolverWarning{{OutputTime: 0.5, Message: "step size too small"}},
		Times:      []float64{0, 0.5, 1},
		Values: []*simulation.VariableValues{
			{
				EntityReference: simulation.EntityReference{EntityID: "y", Path: "Model|y"},
				Values:          []float64{10, 7.788, 6.065},
			},
			{
				EntityReference: simulation.EntityReference{EntityID: "halfLife", Path: "Model|halfLife"},
				Kind:            simulation.KindObserver,
				IsConstant:      true,
				Values:          []float64{1.386},
			},
		},
	}
}

func TestStoreSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runID, err := st.Save(testRun())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if _, err := uuid.Parse(runID); err != nil {
		t.Errorf("expected uuid run id, got %q", runID)
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if meta.Model != "decay" {
		t.Errorf("expected model 'decay', got '%s'", meta.Model)
	}
	if meta.Parameters["k"] != 0.5 {
		t.Errorf("expected k 0.5, got %f", meta.Parameters["k"])
	}
	if meta.UsedAbsoluteTolerance == nil || *meta.UsedAbsoluteTolerance != 1e-10 {
		t.Errorf("expected absolute tolerance 1e-10, got %v", meta.UsedAbsoluteTolerance)
	}
	if len(meta.Warnings) != 1 || !strings.Contains(meta.Warnings[0], "step size too small") {
		t.Errorf("expected stored warning, got %v", meta.Warnings)
	}
	if meta.TimePoints != 3 {
		t.Errorf("expected 3 time points, got %d", meta.TimePoints)
	}
	if len(meta.Series) != 2 || meta.Series[1].Kind != "observer" || !meta.Series[1].Constant {
		t.Errorf("unexpected series metadata: %+v", meta.Series)
	}

	values, err := st.LoadValues(runID)
	if err != nil {
		t.Fatalf("load values failed: %v", err)
	}

	if len(values.Times) != 3 {
		t.Errorf("expected 3 times, got %d", len(values.Times))
	}
	if got := values.Series["y"][2]; got != 6.065 {
		t.Errorf("expected y(1)=6.065, got %f", got)
	}
	for i, v := range values.Series["halfLife"] {
		if v != 1.386 {
			t.Errorf("expected constant series repeated at row %d, got %f", i, v)
		}
	}
}

func TestStoreNaNStatistics(t *testing.T) {
	st := New(t.TempDir())
	run := testRun()
	run.Statistics = simulation.RunStatistics{UsedAbsoluteTolerance: math.NaN(), UsedRelativeTolerance: math.NaN()}

	runID, err := st.Save(run)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.UsedAbsoluteTolerance != nil || meta.UsedRelativeTolerance != nil {
		t.Error("expected NaN tolerances to be omitted")
	}
}

func TestStoreList(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	if _, err := st.Save(testRun()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(tmpDir, "junk"), 0755); err != nil {
		t.Fatal(err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

func TestStoreListMissingDir(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "missing"))

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}
}

func TestStoreFileStructure(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	runID, err := st.Save(testRun())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	runDir := filepath.Join(tmpDir, runID)
	if _, err := os.Stat(filepath.Join(runDir, "metadata.json")); os.IsNotExist(err) {
		t.Error("metadata.json not created")
	}
	if _, err := os.Stat(filepath.Join(runDir, "values.csv")); os.IsNotExist(err) {
		t.Error("values.csv not created")
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	run := testRun()
	if err := WriteCSV(&buf, run.Times, run.Values); err != nil {
		t.Fatal(err)
	}

	want := "time,y,halfLife\n0,10,1.386\n0.5,7.788,1.386\n1,6.065,1.386\n"
	if buf.String() != want {
		t.Errorf("expected\n%s\ngot\n%s", want, buf.String())
	}
}

func TestExportJSON(t *testing.T) {
	st := New(t.TempDir())
	runID, err := st.Save(testRun())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var buf bytes.Buffer
	if err := st.ExportJSON(&buf, runID); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	var data ExportData
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if data.ID != runID {
		t.Errorf("expected id %s, got %s", runID, data.ID)
	}
	if len(data.Values["y"]) != 3 {
		t.Errorf("expected 3 y values, got %d", len(data.Values["y"]))
	}
}

func TestLoadMissingRun(t *testing.T) {
	st := New(t.TempDir())
	if _, err := st.Load("nope"); err == nil {
		t.Error("expected error for missing run")
	}
	if _, err := st.LoadValues("nope"); err == nil {
		t.Error("expected error for missing values")
	}
}
