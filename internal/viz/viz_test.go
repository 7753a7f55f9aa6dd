package viz

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/odectl/internal/simulation"
)

func series(id string, constant bool, values ...float64) *simulation.VariableValues {
	return &simulation.VariableValues{
		EntityReference: simulation.EntityReference{EntityID: id},
		IsConstant:      constant,
		Values:          values,
	}
}

func TestPlot(t *testing.T) {
	times := []float64{0, 1, 2, 3}
	out, err := Plot(times, []*simulation.VariableValues{
		series("y", false, 8, 4, 2, 1),
		series("V", true, 2),
	}, PlotOptions{Width: 20, Height: 5, Caption: "decay"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"decay", "y", "V"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected plot to contain %q:\n%s", want, out)
		}
	}
}

func TestPlotDefaultCaption(t *testing.T) {
	out, err := Plot([]float64{0, 10}, []*simulation.VariableValues{series("y", false, 1, 2)}, PlotOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "t = 0 .. 10") {
		t.Errorf("expected default caption, got:\n%s", out)
	}
}

func TestPlotErrors(t *testing.T) {
	if _, err := Plot([]float64{0}, nil, PlotOptions{}); err == nil {
		t.Error("expected error for no series")
	}
	if _, err := Plot(nil, []*simulation.VariableValues{series("y", true, 1)}, PlotOptions{}); err == nil {
		t.Error("expected error for no time points")
	}
	if _, err := Plot([]float64{0, 1, 2}, []*simulation.VariableValues{series("y", false, 1, 2)}, PlotOptions{}); err == nil {
		t.Error("expected error for length mismatch")
	}
}

func TestSparkline(t *testing.T) {
	s := Sparkline([]float64{0, 1, 2, 3, 4, 5, 6, 7}, 8)
	if !strings.ContainsRune(s, '▁') || !strings.ContainsRune(s, '█') {
		t.Errorf("expected full range of blocks, got %q", s)
	}
	if got := Sparkline(nil, 4); got != "────" {
		t.Errorf("expected flat line for empty input, got %q", got)
	}
}

func TestThemes(t *testing.T) {
	defer SetTheme("cyberpunk")

	if GetTheme("nope").Name != "cyberpunk" {
		t.Error("expected fallback to cyberpunk")
	}
	SetTheme("ocean")
	if CurrentTheme.Name != "ocean" {
		t.Errorf("expected ocean, got %s", CurrentTheme.Name)
	}
	if len(ThemeNames()) != len(Themes) {
		t.Error("expected a name per theme")
	}
	for _, th := range Themes {
		if len(th.Series) == 0 {
			t.Errorf("theme %s has no series colors", th.Name)
		}
	}
}

type fakeRunner struct {
	progress int
	canceled int
}

func (f *fakeRunner) Progress() int { return f.progress }
func (f *fakeRunner) Cancel()       { f.canceled++ }

func TestProgressPolls(t *testing.T) {
	r := &fakeRunner{progress: 40}
	m := NewProgress("exponential", r, make(chan error))

	next, cmd := m.Update(pollMsg{})
	if cmd == nil {
		t.Error("expected another poll to be scheduled")
	}
	pm := next.(ProgressModel)
	if pm.percent != 40 {
		t.Errorf("expected 40%%, got %d", pm.percent)
	}
	if !strings.Contains(pm.View(), "40%") {
		t.Errorf("expected view to show 40%%, got:\n%s", pm.View())
	}
}

func TestProgressCancel(t *testing.T) {
	r := &fakeRunner{}
	m := NewProgress("exponential", r, make(chan error))

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	next, _ = next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if r.canceled != 1 {
		t.Errorf("expected a single cancel, got %d", r.canceled)
	}
	if !strings.Contains(next.View(), "canceling") {
		t.Errorf("expected canceling hint, got:\n%s", next.View())
	}
}

func TestProgressDone(t *testing.T) {
	m := NewProgress("exponential", &fakeRunner{}, make(chan error))

	next, cmd := m.Update(doneMsg{})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected quit message")
	}
	pm := next.(ProgressModel)
	if pm.Err() != nil || pm.percent != 100 {
		t.Errorf("expected clean completion, got err=%v percent=%d", pm.Err(), pm.percent)
	}

	failure := errors.New("solver failed")
	next, _ = m.Update(doneMsg{err: failure})
	if !errors.Is(next.(ProgressModel).Err(), failure) {
		t.Error("expected run error to be kept")
	}
	if !strings.Contains(next.View(), "solver failed") {
		t.Errorf("expected error in view, got:\n%s", next.View())
	}
}
