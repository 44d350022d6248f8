package pipeline

import (
	"fmt"

	"github.com/initializ/slipway/internal/tailbuf"
)

// RunContext carries all state shared between stages of one run. Each stage
// reads what earlier stages produced and records its own diagnostic output
// through the bounded capture buffer.
type RunContext struct {
	Run      *Run
	Revision string

	// Set by the checkout stage.
	SnapshotDir string
	Commit      string

	// Set by the build stage on full success; unit name -> artifact ref.
	// Artifacts from a failed build stage are never promoted here.
	Artifacts map[string]string

	// DeployBegun is set by the deploy stage before the new generation is
	// started; the failure path force-stops the new generation only then.
	DeployBegun bool

	out *tailbuf.Buffer
}

// NewRunContext creates a RunContext for the given run with a bounded
// diagnostic buffer of maxOutput bytes per stage.
func NewRunContext(run *Run, maxOutput int) *RunContext {
	return &RunContext{
		Run:       run,
		Revision:  run.Revision,
		Artifacts: make(map[string]string),
		out:       tailbuf.New(maxOutput),
	}
}

// Logf appends one formatted line to the current stage's diagnostic output.
func (rc *RunContext) Logf(format string, args ...any) {
	fmt.Fprintf(rc.out, format+"\n", args...)
}

// Capture appends raw collaborator output to the current stage's diagnostics.
func (rc *RunContext) Capture(s string) {
	if s == "" {
		return
	}
	rc.out.Write([]byte(s)) //nolint:errcheck
	if s[len(s)-1] != '\n' {
		rc.out.Write([]byte("\n")) //nolint:errcheck
	}
}

// Output returns the diagnostics captured since the last reset. When the
// bound forced older output out, the tail is prefixed with a marker so the
// reader knows lines are missing.
func (rc *RunContext) Output() string {
	out := rc.out.String()
	if rc.out.Truncated() {
		return "[earlier output dropped]\n" + out
	}
	return out
}

// resetOutput clears the capture buffer between stages, preserving the
// configured bound.
func (rc *RunContext) resetOutput(maxOutput int) {
	rc.out = tailbuf.New(maxOutput)
}
