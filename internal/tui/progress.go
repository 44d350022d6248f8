// Package tui renders live deploy progress in the terminal. The model is
// fed pipeline events through tea.Program.Send and draws one line per
// stage.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/initializ/slipway/pipeline"
)

// RunDoneMsg ends the program once the pipeline run returns.
type RunDoneMsg struct {
	Run *pipeline.Run
	Err error
}

type stageState int

const (
	stagePending stageState = iota
	stageRunning
	stageOK
	stageFailed
	stageSkipped
)

type stageLine struct {
	name    string
	state   stageState
	began   time.Time
	elapsed time.Duration
	retries int
	err     string
}

// ProgressModel is the bubbletea model for a live deploy.
type ProgressModel struct {
	styles      *StyleSet
	spinner     spinner.Model
	revision    string
	environment string
	runID       string
	stages      []stageLine

	abort    func()
	aborting bool

	done bool
	run  *pipeline.Run
	err  error
}

// NewProgressModel creates a progress display for the given stage plan.
// abort, when non-nil, is invoked on the first ctrl+c; a second ctrl+c
// quits immediately.
func NewProgressModel(theme TermTheme, stages []string, revision, environment string, abort func()) ProgressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Accent)

	lines := make([]stageLine, len(stages))
	for i, name := range stages {
		lines[i] = stageLine{name: name}
	}
	return ProgressModel{
		styles:      NewStyleSet(theme),
		spinner:     sp,
		revision:    revision,
		environment: environment,
		stages:      lines,
		abort:       abort,
	}
}

// Init starts the spinner.
func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles spinner ticks, pipeline events, and interrupts.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() != "ctrl+c" {
			return m, nil
		}
		if m.aborting || m.abort == nil {
			return m, tea.Quit
		}
		m.aborting = true
		abort := m.abort
		return m, func() tea.Msg {
			abort()
			return nil
		}

	case pipeline.Event:
		if m.runID == "" {
			m.runID = msg.RunID
		}
		if msg.Index >= 0 && msg.Index < len(m.stages) {
			switch msg.Kind {
			case pipeline.EventStageStarted:
				m.stages[msg.Index].state = stageRunning
				m.stages[msg.Index].began = time.Now()
			case pipeline.EventStageFinished:
				line := &m.stages[msg.Index]
				line.elapsed = time.Since(line.began)
				line.retries = msg.Retries
				line.err = msg.Err
				switch msg.Outcome {
				case pipeline.OutcomeOK:
					line.state = stageOK
				case pipeline.OutcomeSkipped:
					line.state = stageSkipped
				default:
					line.state = stageFailed
				}
			}
		}
		return m, nil

	case RunDoneMsg:
		m.done = true
		m.run = msg.Run
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

// View renders the stage plan with one status line per stage.
func (m ProgressModel) View() string {
	var out string

	target := m.revision
	if len(target) > 12 {
		target = target[:12]
	}
	header := m.styles.Title.Render("slipway deploy " + target)
	if m.environment != "" {
		header += m.styles.SecondaryTxt.Render(" → ")
		header += m.styles.AccentTxt.Render(m.environment)
	}
	if m.runID != "" {
		header += m.styles.DimTxt.Render("  " + m.runID)
	}
	out += "\n" + header + "\n\n"

	for _, line := range m.stages {
		out += "  " + m.renderStage(line) + "\n"
	}

	out += "\n" + m.footer() + "\n"
	return out
}

func (m ProgressModel) renderStage(line stageLine) string {
	name := fmt.Sprintf("%-10s", line.name)

	switch line.state {
	case stageRunning:
		return m.spinner.View() + " " + m.styles.PrimaryTxt.Render(name)
	case stageOK:
		note := line.elapsed.Round(100 * time.Millisecond).String()
		if line.retries > 0 {
			note += fmt.Sprintf(", %s", plural(line.retries, "retry", "retries"))
		}
		return m.styles.SuccessTxt.Render("✓") + " " +
			m.styles.PrimaryTxt.Render(name) + m.styles.DimTxt.Render(note)
	case stageFailed:
		return m.styles.ErrorTxt.Render("✗") + " " +
			m.styles.PrimaryTxt.Render(name) + m.styles.ErrorTxt.Render(firstLine(line.err))
	case stageSkipped:
		return m.styles.DimTxt.Render("- " + name + "skipped")
	default:
		return m.styles.DimTxt.Render("· " + name)
	}
}

func (m ProgressModel) footer() string {
	switch {
	case m.done && m.err == nil:
		d := time.Duration(0)
		if m.run != nil {
			d = m.run.FinishedAt.Sub(m.run.StartedAt).Round(100 * time.Millisecond)
		}
		return m.styles.SuccessTxt.Render(fmt.Sprintf("run succeeded in %s", d))
	case m.done:
		return m.styles.ErrorTxt.Render("run failed: " + firstLine(m.err.Error()))
	case m.aborting:
		return m.styles.WarningTxt.Render("abort requested, waiting for the stage boundary")
	default:
		return m.styles.DimTxt.Render("ctrl+c to abort")
	}
}

// Run returns the finished run, if the pipeline got far enough to create one.
func (m ProgressModel) Run() *pipeline.Run { return m.run }

// Err returns the pipeline error, if any.
func (m ProgressModel) Err() error { return m.err }

// Done reports whether the pipeline returned.
func (m ProgressModel) Done() bool { return m.done }

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
