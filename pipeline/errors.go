package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors surfaced by the trigger boundary before a run exists.
var (
	// ErrInvalidInput rejects a malformed trigger payload. No run is created.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPipelineBusy rejects a trigger while another run holds the service set.
	ErrPipelineBusy = errors.New("pipeline busy: another run is in progress")

	// ErrRunNotActive rejects an abort for a run that is not currently executing.
	ErrRunNotActive = errors.New("run is not active")

	// ErrAborted marks a run that was cancelled at a stage boundary.
	ErrAborted = errors.New("run aborted")
)

// SourceUnavailableError reports that source acquisition failed, regardless
// of which underlying method failed. Retries consumed are recorded on the
// stage result, not here.
type SourceUnavailableError struct {
	Ref string
	Err error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable for ref %q: %v", e.Ref, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// BuildError reports a failed image build for one unit.
type BuildError struct {
	Unit string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed for unit %q: %v", e.Unit, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// TestsFailedError reports a failed test suite for one unit, with the
// extracted failure lines.
type TestsFailedError struct {
	Unit     string
	Failures []string
	Err      error
}

func (e *TestsFailedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("tests failed for unit %q", e.Unit)
	}
	return fmt.Sprintf("tests failed for unit %q: %s", e.Unit, strings.Join(e.Failures, "; "))
}

func (e *TestsFailedError) Unwrap() error { return e.Err }

// DeployError reports a unit that failed to start.
type DeployError struct {
	Unit string
	Err  error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deploy failed for unit %q: %v", e.Unit, e.Err)
}

func (e *DeployError) Unwrap() error { return e.Err }

// HealthTimeoutError reports the first unit that did not become ready within
// its budget.
type HealthTimeoutError struct {
	Unit   string
	Waited time.Duration
}

func (e *HealthTimeoutError) Error() string {
	return fmt.Sprintf("health check timed out for unit %q after %s", e.Unit, e.Waited)
}
