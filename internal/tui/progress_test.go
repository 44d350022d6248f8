package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/initializ/slipway/pipeline"
)

func event(kind pipeline.EventKind, index int, outcome pipeline.Outcome) pipeline.Event {
	return pipeline.Event{
		Kind:    kind,
		RunID:   "run-1",
		Index:   index,
		Total:   2,
		Outcome: outcome,
	}
}

func TestProgressModel_StageLifecycle(t *testing.T) {
	m := NewProgressModel(DarkTheme, []string{"checkout", "build"}, "abc123def4567890", "staging", nil)

	var model tea.Model = m
	model, _ = model.Update(event(pipeline.EventStageStarted, 0, ""))
	model, _ = model.Update(pipeline.Event{
		Kind: pipeline.EventStageFinished, RunID: "run-1", Index: 0, Total: 2,
		Outcome: pipeline.OutcomeOK, Retries: 1,
	})

	pm := model.(ProgressModel)
	if pm.runID != "run-1" {
		t.Errorf("runID = %q, want run-1", pm.runID)
	}
	if got := pm.stages[0]; got.state != stageOK || got.retries != 1 {
		t.Errorf("checkout line = %+v, want ok with 1 retry", got)
	}
	if got := pm.stages[1].state; got != stagePending {
		t.Errorf("build line state = %v, want pending", got)
	}

	view := pm.View()
	for _, want := range []string{"checkout", "build", "staging", "abc123def456", "1 retry"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestProgressModel_FailedStage(t *testing.T) {
	m := NewProgressModel(DarkTheme, []string{"checkout", "build"}, "abc123", "", nil)

	var model tea.Model = m
	model, _ = model.Update(event(pipeline.EventStageStarted, 1, ""))
	model, _ = model.Update(pipeline.Event{
		Kind: pipeline.EventStageFinished, RunID: "run-1", Index: 1, Total: 2,
		Outcome: pipeline.OutcomeFailed, Err: "build api: compilation error\nmore detail",
	})
	model, cmd := model.Update(RunDoneMsg{Err: errors.New("stage build: compilation error")})
	if cmd == nil {
		t.Fatal("RunDoneMsg returned no quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("RunDoneMsg did not quit the program")
	}

	pm := model.(ProgressModel)
	if !pm.Done() || pm.Err() == nil {
		t.Fatalf("Done() = %v, Err() = %v", pm.Done(), pm.Err())
	}

	view := pm.View()
	if !strings.Contains(view, "run failed") {
		t.Errorf("view missing failure footer:\n%s", view)
	}
	if strings.Contains(view, "more detail") {
		t.Errorf("view shows more than the first error line:\n%s", view)
	}
}

func TestProgressModel_SucceededFooter(t *testing.T) {
	m := NewProgressModel(DarkTheme, []string{"checkout"}, "abc123", "", nil)

	var model tea.Model = m
	model, _ = model.Update(RunDoneMsg{Run: &pipeline.Run{ID: "run-1", Status: pipeline.StatusSucceeded}})

	view := model.(ProgressModel).View()
	if !strings.Contains(view, "run succeeded") {
		t.Errorf("view missing success footer:\n%s", view)
	}
}

func TestProgressModel_CtrlCRequestsAbortThenQuits(t *testing.T) {
	called := make(chan struct{}, 1)
	m := NewProgressModel(DarkTheme, []string{"deploy"}, "abc123", "", func() {
		called <- struct{}{}
	})

	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("first ctrl+c returned no command")
	}
	cmd()
	select {
	case <-called:
	default:
		t.Error("abort callback not invoked")
	}

	pm := model.(ProgressModel)
	if !strings.Contains(pm.View(), "abort requested") {
		t.Errorf("view missing abort notice:\n%s", pm.View())
	}

	_, cmd = pm.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("second ctrl+c returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("second ctrl+c did not quit")
	}
}

func TestDetectTheme(t *testing.T) {
	if got := DetectTheme("light"); got.Name != "light" {
		t.Errorf("DetectTheme(light) = %s", got.Name)
	}
	t.Setenv("SLIPWAY_THEME", "light")
	if got := DetectTheme(""); got.Name != "light" {
		t.Errorf("DetectTheme with env = %s", got.Name)
	}
	t.Setenv("SLIPWAY_THEME", "")
	t.Setenv("COLORFGBG", "0;15")
	if got := DetectTheme(""); got.Name != "light" {
		t.Errorf("DetectTheme with COLORFGBG = %s", got.Name)
	}
}
