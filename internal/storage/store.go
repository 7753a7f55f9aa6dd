package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/odectl/internal/simulation"
)

const (
	metadataFile = "metadata.json"
	valuesFile   = "values.csv"
)

// Store keeps completed runs on disk, one directory per run.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type SeriesMetadata struct {
	EntityID  string  `json:"entity_id"`
	Path      string  `json:"path"`
	Kind      string  `json:"kind"`
	Constant  bool    `json:"constant"`
	Threshold float64 `json:"comparison_threshold"`
}

type RunMetadata struct {
	ID                    string             `json:"id"`
	Model                 string             `json:"model"`
	Preset                string             `json:"preset,omitempty"`
	Timestamp             time.Time          `json:"timestamp"`
	Parameters            map[string]float64 `json:"parameters,omitempty"`
	ToleranceWasReduced   bool               `json:"tolerance_was_reduced"`
	UsedAbsoluteTolerance *float64           `json:"used_absolute_tolerance,omitempty"`
	UsedRelativeTolerance *float64           `json:"used_relative_tolerance,omitempty"`
	Warnings              []string           `json:"warnings,omitempty"`
	TimePoints            int                `json:"time_points"`
	Series                []SeriesMetadata   `json:"series"`
}

// Run is what Save persists: the outcome of one completed simulation.
type Run struct {
	Model      string
	Preset     string
	Parameters map[string]float64
	Statistics simulation.RunStatistics
	Warnings   []simulation.SolverWarning
	Times      []float64
	Values     []*simulation.VariableValues
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (r *Run) metadata(id string) RunMetadata {
	meta := RunMetadata{
		ID:                    id,
		Model:                 r.Model,
		Preset:                r.Preset,
		Timestamp:             time.Now(),
		Parameters:            r.Parameters,
		ToleranceWasReduced:   r.Statistics.ToleranceWasReduced,
		UsedAbsoluteTolerance: finite(r.Statistics.UsedAbsoluteTolerance),
		UsedRelativeTolerance: finite(r.Statistics.UsedRelativeTolerance),
		TimePoints:            len(r.Times),
		Series:                make([]SeriesMetadata, 0, len(r.Values)),
	}
	for _, w := range r.Warnings {
		meta.Warnings = append(meta.Warnings, fmt.Sprintf("t=%g: %s", w.OutputTime, w.Message))
	}
	for _, v := range r.Values {
		meta.Series = append(meta.Series, SeriesMetadata{
			EntityID:  v.EntityID,
			Path:      v.Path,
			Kind:      v.Kind.String(),
			Constant:  v.IsConstant,
			Threshold: v.ComparisonThreshold,
		})
	}
	return meta
}

// Save writes metadata.json and values.csv under a fresh run id.
func (s *Store) Save(run *Run) (string, error) {
	runID := uuid.NewString()
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, metadataFile))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run.metadata(runID)); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, valuesFile))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	if err := WriteCSV(csvFile, run.Times, run.Values); err != nil {
		return "", err
	}
	return runID, nil
}

// WriteCSV writes one row per output time with a column per series.
// Constant series repeat their single value.
func WriteCSV(out io.Writer, times []float64, values []*simulation.VariableValues) error {
	w := csv.NewWriter(out)

	header := []string{"time"}
	for _, v := range values {
		header = append(header, v.EntityID)
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for k, t := range times {
		row := []string{strconv.FormatFloat(t, 'g', -1, 64)}
		for _, v := range values {
			row = append(row, strconv.FormatFloat(v.At(k), 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// List returns stored runs, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Values is the tabular content of values.csv.
type Values struct {
	Times   []float64
	Columns []string
	Series  map[string][]float64
}

func (s *Store) LoadValues(runID string) (*Values, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, valuesFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	out := &Values{Series: make(map[string][]float64)}
	if len(records) == 0 {
		return out, nil
	}
	out.Columns = records[0][1:]

	for i, record := range records[1:] {
		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: time: %w", i+1, err)
		}
		out.Times = append(out.Times, t)

		for j, col := range out.Columns {
			v, err := strconv.ParseFloat(record[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: %s: %w", i+1, col, err)
			}
			out.Series[col] = append(out.Series[col], v)
		}
	}
	return out, nil
}

type ExportData struct {
	RunMetadata
	Times  []float64            `json:"times"`
	Values map[string][]float64 `json:"values"`
}

// ExportJSON writes a stored run, metadata and values, as one JSON document.
func (s *Store) ExportJSON(w io.Writer, runID string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	values, err := s.LoadValues(runID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ExportData{RunMetadata: *meta, Times: values.Times, Values: values.Series})
}
