package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/initializ/slipway/deploy"
	"github.com/initializ/slipway/internal/tui"
	"github.com/initializ/slipway/pipeline"
	"github.com/initializ/slipway/store"
)

var deployEnv string

var deployCmd = &cobra.Command{
	Use:   "deploy <revision>",
	Short: "Build, test, and roll out one revision",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeploy,
}

func init() {
	deployCmd.Flags().StringVar(&deployEnv, "env", "", "target environment from the manifest's environments section")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	revision := args[0]
	userPrefs()

	cfgPath, err := resolveConfigPath()
	if err != nil {
		return err
	}
	m, err := loadValidManifest(cfgPath)
	if err != nil {
		return err
	}
	engine, err := resolveEngine()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(m.Store.Path)
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	defer st.Close()

	prev, err := lastGeneration(ctx, st)
	if err != nil {
		return err
	}

	useTUI := !plain && term.IsTerminal(int(os.Stdout.Fd()))

	// The observer is wired before the program exists; events only start
	// flowing once Deploy is called below.
	var program *tea.Program
	observer := func(ev pipeline.Event) {
		if program != nil {
			program.Send(ev)
		}
	}
	if !useTUI {
		observer = plainObserver(os.Stderr)
	}

	logger := newLogger()
	if useTUI {
		// Keep the progress view clean; errors still surface in the run log.
		logger = nil
	}
	orch, err := deploy.New(deploy.Options{
		Manifest:           m,
		Environment:        deployEnv,
		Engine:             engine,
		Recorder:           st,
		Observer:           observer,
		Logger:             logger,
		PreviousGeneration: prev,
	})
	if err != nil {
		return err
	}

	if !useTUI {
		run, err := orch.Deploy(ctx, revision, deployEnv)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "run %s succeeded in %s\n",
			run.ID, run.FinishedAt.Sub(run.StartedAt).Round(100*time.Millisecond))
		return nil
	}

	model := tui.NewProgressModel(
		tui.DetectTheme(themeOverride),
		orch.StageNames(),
		revision,
		deployEnv,
		func() {
			if id, ok := orch.Active(); ok {
				_ = orch.Abort(id)
			}
		},
	)
	program = tea.NewProgram(model)

	go func() {
		run, err := orch.Deploy(ctx, revision, deployEnv)
		program.Send(tui.RunDoneMsg{Run: run, Err: err})
	}()

	final, err := program.Run()
	if err != nil {
		return fmt.Errorf("progress view: %w", err)
	}
	pm := final.(tui.ProgressModel)
	if !pm.Done() {
		return fmt.Errorf("deploy interrupted")
	}
	return pm.Err()
}

// lastGeneration seeds cleanup pruning with the artifacts of the most recent
// succeeded run, if there is one.
func lastGeneration(ctx context.Context, st store.Store) (map[string]string, error) {
	last, err := st.LastSucceeded(ctx)
	if errors.Is(err, store.ErrRunNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading run log: %w", err)
	}
	return last.Artifacts, nil
}

func plainObserver(w io.Writer) pipeline.Observer {
	return func(ev pipeline.Event) {
		switch ev.Kind {
		case pipeline.EventStageStarted:
			fmt.Fprintf(w, "==> %s (%d/%d)\n", ev.Stage, ev.Index+1, ev.Total)
		case pipeline.EventStageFinished:
			switch {
			case ev.Err != "":
				fmt.Fprintf(w, "    %s: %s (%s)\n", ev.Stage, ev.Outcome, ev.Err)
			case ev.Retries > 0:
				fmt.Fprintf(w, "    %s: %s after %d retries\n", ev.Stage, ev.Outcome, ev.Retries)
			default:
				fmt.Fprintf(w, "    %s: %s\n", ev.Stage, ev.Outcome)
			}
		}
	}
}
