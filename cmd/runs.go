package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/initializ/slipway/config"
	"github.com/initializ/slipway/pipeline"
	"github.com/initializ/slipway/store"
)

var (
	runsLimit int
	runsJSON  bool
)

var runsCmd = &cobra.Command{
	Use:   "runs [runId]",
	Short: "List recorded runs, or show one run's stage log",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "emit the raw run record(s) as JSON")
}

func runRuns(cmd *cobra.Command, args []string) error {
	st, err := openRunLog()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()

	if len(args) == 1 {
		run, err := st.GetRun(ctx, args[0])
		if errors.Is(err, store.ErrRunNotFound) {
			return fmt.Errorf("no such run: %s", args[0])
		}
		if err != nil {
			return fmt.Errorf("reading run log: %w", err)
		}
		if runsJSON {
			return writeJSON(os.Stdout, run)
		}
		printRunDetail(os.Stdout, run)
		return nil
	}

	runs, err := st.ListRuns(ctx, runsLimit)
	if err != nil {
		return fmt.Errorf("reading run log: %w", err)
	}
	if runsJSON {
		return writeJSON(os.Stdout, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "no runs recorded yet")
		return nil
	}
	for _, run := range runs {
		fmt.Fprintln(os.Stdout, formatRunLine(run))
	}
	return nil
}

// openRunLog opens the store at the manifest's configured path. Unlike the
// pipeline-facing commands this skips semantic validation: an invalid unit
// list should not lock anyone out of reading past run logs.
func openRunLog() (store.Store, error) {
	cfgPath, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	m, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	anchorManifestPaths(m, filepath.Dir(cfgPath))
	st, err := store.Open(m.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	return st, nil
}

func formatRunLine(run *pipeline.Run) string {
	rev := run.Revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	age := "-"
	if !run.StartedAt.IsZero() {
		age = run.StartedAt.Local().Format("2006-01-02 15:04:05")
	}
	dur := "-"
	if run.Terminal() && !run.FinishedAt.IsZero() {
		dur = run.FinishedAt.Sub(run.StartedAt).Round(100 * time.Millisecond).String()
	}
	line := fmt.Sprintf("%s  %-9s  %-12s  %s  %s", run.ID, run.Status, rev, age, dur)
	if run.Environment != "" {
		line += "  env=" + run.Environment
	}
	return line
}

func printRunDetail(w io.Writer, run *pipeline.Run) {
	fmt.Fprintf(w, "run:      %s\n", run.ID)
	fmt.Fprintf(w, "revision: %s\n", run.Revision)
	if run.Environment != "" {
		fmt.Fprintf(w, "env:      %s\n", run.Environment)
	}
	fmt.Fprintf(w, "status:   %s\n", run.Status)
	fmt.Fprintf(w, "started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if run.Terminal() && !run.FinishedAt.IsZero() {
		fmt.Fprintf(w, "took:     %s\n", run.FinishedAt.Sub(run.StartedAt).Round(100*time.Millisecond))
	}
	fmt.Fprintln(w, "stages:")
	for _, res := range run.Results {
		line := fmt.Sprintf("  %-10s %-8s %s", res.Stage, res.Outcome, res.Duration().Round(time.Millisecond))
		if res.Retries > 0 {
			line += fmt.Sprintf("  (%d retries)", res.Retries)
		}
		fmt.Fprintln(w, line)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "error:    %s\n", run.Error)
	}
	for _, warn := range run.Warnings {
		fmt.Fprintf(w, "warning:  %s\n", warn)
	}
	if run.Diagnostics != "" {
		fmt.Fprintln(w, "diagnostics:")
		for _, line := range strings.Split(strings.TrimRight(run.Diagnostics, "\n"), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
