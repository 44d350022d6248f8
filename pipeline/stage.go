package pipeline

import (
	"context"
	"time"
)

// Policy determines how the Runner reacts when a stage fails.
type Policy string

const (
	// FailFast aborts the run: remaining stages are skipped, the run turns
	// failed and the failure path runs.
	FailFast Policy = "fail-fast"

	// FailSoft records the failure as a run warning and continues. Used for
	// advisory stages that must not block a deployment.
	FailSoft Policy = "fail-soft"

	// BestEffort records the failure in the stage log only and continues.
	BestEffort Policy = "best-effort"
)

// Stage is a single unit of pipeline work.
type Stage interface {
	Name() string
	Execute(ctx context.Context, rc *RunContext) error
}

// StageSpec binds a Stage to its execution policy. Specs are defined by
// configuration before a run starts and are never mutated at runtime; the
// ordinal position is the spec's index in the Runner's stage list.
type StageSpec struct {
	Stage   Stage
	Policy  Policy
	Timeout time.Duration // per attempt; zero means unbounded
	Retries int           // extra attempts after the first; >0 only for checkout
}

// Name returns the underlying stage name.
func (s StageSpec) Name() string { return s.Stage.Name() }

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, rc *RunContext) error
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Execute(ctx context.Context, rc *RunContext) error {
	return s.Fn(ctx, rc)
}
