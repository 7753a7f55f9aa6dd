package viz

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = 100 * time.Millisecond

// Runner is a simulation run that reports progress and can be canceled.
type Runner interface {
	Progress() int
	Cancel()
}

type pollMsg time.Time

type doneMsg struct{ err error }

func poll() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return pollMsg(t) })
}

// ProgressModel shows a spinner and a progress bar while a run executes.
type ProgressModel struct {
	title    string
	runner   Runner
	done     <-chan error
	spinner  spinner.Model
	bar      progress.Model
	percent  int
	started  time.Time
	elapsed  time.Duration
	finished bool
	canceled bool
	err      error
}

// NewProgress builds a model for a run whose outcome is delivered on done.
func NewProgress(title string, runner Runner, done <-chan error) ProgressModel {
	return ProgressModel{
		title:   title,
		runner:  runner,
		done:    done,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(lipgloss.NewStyle().Foreground(CurrentTheme.Primary))),
		bar:     progress.New(progress.WithGradient(string(CurrentTheme.Primary), string(CurrentTheme.Secondary)), progress.WithWidth(40)),
		started: time.Now(),
	}
}

func (m ProgressModel) wait() tea.Cmd {
	return func() tea.Msg { return doneMsg{err: <-m.done} }
}

func (m ProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, poll(), m.wait())
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.canceled {
				m.canceled = true
				m.runner.Cancel()
			}
		}
	case pollMsg:
		if m.finished {
			return m, nil
		}
		m.percent = m.runner.Progress()
		m.elapsed = time.Since(m.started)
		return m, poll()
	case doneMsg:
		m.finished = true
		m.err = msg.err
		m.elapsed = time.Since(m.started)
		if msg.err == nil {
			m.percent = 100
		}
		return m, tea.Quit
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m ProgressModel) View() string {
	var b strings.Builder
	switch {
	case !m.finished:
		b.WriteString(m.spinner.View() + " " + TitleStyle.Render(m.title))
	case m.err != nil:
		b.WriteString(StatusStyle(false).Render("✗ ") + TitleStyle.Render(m.title))
	default:
		b.WriteString(StatusStyle(true).Render("✓ ") + TitleStyle.Render(m.title))
	}
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(float64(m.percent) / 100))
	b.WriteString("  " + Subtle.Render(m.elapsed.Round(time.Millisecond).String()))
	b.WriteString("\n")
	switch {
	case m.finished && m.err != nil:
		b.WriteString(StatusStyle(false).Render(m.err.Error()) + "\n")
	case m.canceled:
		b.WriteString(KeyHint.Render("canceling...") + "\n")
	case !m.finished:
		b.WriteString(KeyHint.Render("q: cancel") + "\n")
	}
	return b.String()
}

func (m ProgressModel) Err() error { return m.err }

// RunWithProgress executes run while rendering progress to out. The run's
// error is returned once both the run and the view have finished.
func RunWithProgress(ctx context.Context, out io.Writer, title string, runner Runner, run func(context.Context) error) error {
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	p := tea.NewProgram(NewProgress(title, runner, done), tea.WithOutput(out), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		runner.Cancel()
		return fmt.Errorf("progress view: %w", err)
	}
	return final.(ProgressModel).Err()
}
