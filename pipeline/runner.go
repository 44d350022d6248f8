// Package pipeline provides the sequential stage executor at the core of the
// orchestrator: an ordered list of named stages driven over a shared run
// context with per-stage timeout, retry, and failure policy, producing an
// append-only log of stage results.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/initializ/slipway/logging"
)

// DefaultMaxOutput bounds the diagnostic output retained per stage result.
const DefaultMaxOutput = 16 * 1024

// failureCleanupTimeout bounds the failure path so a wedged collaborator
// cannot stall a run that is already failing.
const failureCleanupTimeout = 30 * time.Second

// Recorder persists run records as the run advances. Save is called once when
// the run is created, after every stage result, and once at terminal state.
type Recorder interface {
	Save(ctx context.Context, run *Run) error
}

// FailureFunc runs the failure path after a fail-fast stage failure: capture
// service diagnostics, then force-stop the partially started new generation.
// The returned string is recorded on the run; the previous generation is left
// exactly as the failing stage found it.
type FailureFunc func(ctx context.Context, rc *RunContext, cause error) string

// RunnerConfig assembles a Runner.
type RunnerConfig struct {
	Stages    []StageSpec
	Logger    logging.Logger
	Recorder  Recorder
	Observer  Observer
	OnFailure FailureFunc
	MaxOutput int // per-stage diagnostic bound in bytes; 0 = DefaultMaxOutput
}

// Runner executes the configured stage sequence for one revision at a time.
// It owns the mutual-exclusion guard over the service set: a second trigger
// while a run is active is rejected with ErrPipelineBusy, never interleaved.
type Runner struct {
	stages    []StageSpec
	logger    logging.Logger
	recorder  Recorder
	observer  Observer
	onFailure FailureFunc
	maxOutput int
	newID     func() string

	sem chan struct{}

	mu      sync.Mutex
	active  *Run
	aborted bool
}

// NewRunner creates a Runner from the given config. Stage names must be
// non-empty and unique.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if len(cfg.Stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	seen := make(map[string]bool, len(cfg.Stages))
	for _, s := range cfg.Stages {
		name := s.Name()
		if name == "" {
			return nil, fmt.Errorf("stage with empty name")
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate stage name %q", name)
		}
		seen[name] = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	maxOutput := cfg.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return &Runner{
		stages:    cfg.Stages,
		logger:    logger,
		recorder:  cfg.Recorder,
		observer:  cfg.Observer,
		onFailure: cfg.OnFailure,
		maxOutput: maxOutput,
		newID:     func() string { return uuid.New().String() },
		sem:       make(chan struct{}, 1),
	}, nil
}

// Run executes the full stage sequence for the given revision reference and
// waits for it to finish. The returned error is nil when the run succeeded,
// the triggering stage error when it failed, ErrInvalidInput for an empty
// revision (no run is created), or ErrPipelineBusy when another run is
// active.
func (r *Runner) Run(ctx context.Context, revision, environment string) (*Run, error) {
	run, err := r.acquire(ctx, revision, environment)
	if err != nil {
		return nil, err
	}
	return run, r.execute(ctx, run)
}

// Start begins a run without waiting for it to finish and returns a snapshot
// of the accepted run. The run proceeds on ctx, which must outlive the
// trigger (a server lifetime context, not a request context); progress is
// visible through the Recorder and Observer.
func (r *Runner) Start(ctx context.Context, revision, environment string) (*Run, error) {
	run, err := r.acquire(ctx, revision, environment)
	if err != nil {
		return nil, err
	}
	snapshot := *run
	go r.execute(ctx, run) //nolint:errcheck
	return &snapshot, nil
}

// acquire validates the trigger, takes the busy guard, and registers the new
// run. Once it succeeds, execute must run to release the guard.
func (r *Runner) acquire(ctx context.Context, revision, environment string) (*Run, error) {
	revision = strings.TrimSpace(revision)
	if revision == "" {
		return nil, fmt.Errorf("%w: empty revision reference", ErrInvalidInput)
	}

	select {
	case r.sem <- struct{}{}:
	default:
		return nil, ErrPipelineBusy
	}

	run := &Run{
		ID:          r.newID(),
		Revision:    revision,
		Environment: environment,
		StartedAt:   time.Now().UTC(),
		Status:      StatusRunning,
	}
	r.setActive(run)
	r.persist(ctx, run)
	return run, nil
}

func (r *Runner) execute(ctx context.Context, run *Run) error {
	defer func() { <-r.sem }()
	defer r.setActive(nil)

	r.logger.Info("run started", map[string]any{
		"run_id":   run.ID,
		"revision": run.Revision,
		"stages":   len(r.stages),
	})

	rc := NewRunContext(run, r.maxOutput)
	for i, spec := range r.stages {
		run.StageIndex = i
		if err := r.boundaryErr(ctx); err != nil {
			// Honored at the stage boundary, recorded as a fail-fast failure
			// of the stage that never started.
			now := time.Now().UTC()
			run.Results = append(run.Results, StageResult{
				Stage:      spec.Name(),
				StartedAt:  now,
				FinishedAt: now,
				Outcome:    OutcomeFailed,
				Output:     err.Error(),
			})
			r.notify(Event{
				Kind: EventStageFinished, RunID: run.ID, Stage: spec.Name(),
				Index: i, Total: len(r.stages), Outcome: OutcomeFailed, Err: err.Error(),
			})
			return r.fail(ctx, run, rc, i+1, fmt.Errorf("stage %s: %w", spec.Name(), err))
		}
		r.notify(Event{Kind: EventStageStarted, RunID: run.ID, Stage: spec.Name(), Index: i, Total: len(r.stages)})

		res, err := r.executeStage(ctx, spec, rc)
		run.Results = append(run.Results, res)
		r.persist(ctx, run)
		r.notify(Event{
			Kind: EventStageFinished, RunID: run.ID, Stage: spec.Name(),
			Index: i, Total: len(r.stages), Outcome: res.Outcome, Retries: res.Retries,
			Err: errString(err),
		})

		if err == nil {
			continue
		}
		switch spec.Policy {
		case FailSoft:
			warning := fmt.Sprintf("stage %s failed: %v", spec.Name(), err)
			run.Warnings = append(run.Warnings, warning)
			r.logger.Warn("stage failed, continuing", map[string]any{
				"run_id": run.ID, "stage": spec.Name(), "error": err.Error(),
			})
		case BestEffort:
			r.logger.Warn("stage failed, best effort", map[string]any{
				"run_id": run.ID, "stage": spec.Name(), "error": err.Error(),
			})
		default:
			return r.fail(ctx, run, rc, i+1, fmt.Errorf("stage %s: %w", spec.Name(), err))
		}
	}

	run.Status = StatusSucceeded
	run.Artifacts = rc.Artifacts
	run.FinishedAt = time.Now().UTC()
	r.persist(ctx, run)
	r.notify(Event{Kind: EventRunFinished, RunID: run.ID, Status: run.Status, Total: len(r.stages)})
	r.logger.Info("run succeeded", map[string]any{
		"run_id":   run.ID,
		"revision": run.Revision,
		"duration": run.FinishedAt.Sub(run.StartedAt).String(),
	})
	return nil
}

// StageNames returns the configured stage sequence in execution order.
func (r *Runner) StageNames() []string {
	names := make([]string, len(r.stages))
	for i, spec := range r.stages {
		names[i] = spec.Name()
	}
	return names
}

// Abort requests cancellation of the active run. It is honored at the next
// stage boundary; the in-flight stage is bounded only by its own timeout.
func (r *Runner) Abort(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || r.active.ID != runID {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}
	r.aborted = true
	return nil
}

// Active returns the ID of the currently executing run, if any.
func (r *Runner) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return "", false
	}
	return r.active.ID, true
}

func (r *Runner) setActive(run *Run) {
	r.mu.Lock()
	r.active = run
	r.aborted = false
	r.mu.Unlock()
}

// boundaryErr reports the abort or cancellation condition to honor before
// starting the next stage.
func (r *Runner) boundaryErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	r.mu.Lock()
	aborted := r.aborted
	r.mu.Unlock()
	if aborted {
		return ErrAborted
	}
	return nil
}

// executeStage runs one stage under its timeout, retrying up to the spec's
// budget with no backoff. The result's Retries field records the attempts
// consumed beyond the first.
func (r *Runner) executeStage(ctx context.Context, spec StageSpec, rc *RunContext) (StageResult, error) {
	res := StageResult{Stage: spec.Name(), StartedAt: time.Now().UTC()}
	rc.resetOutput(r.maxOutput)

	var err error
	for attempt := 0; attempt <= spec.Retries; attempt++ {
		if attempt > 0 {
			res.Retries = attempt
			r.logger.Warn("retrying stage", map[string]any{
				"run_id": rc.Run.ID, "stage": spec.Name(), "attempt": attempt,
			})
			rc.Logf("retry %d/%d", attempt, spec.Retries)
		}
		err = r.runAttempt(ctx, spec, rc)
		if err == nil {
			break
		}
		rc.Logf("attempt failed: %v", err)
		if ctx.Err() != nil {
			break
		}
	}

	res.FinishedAt = time.Now().UTC()
	res.Output = rc.Output()
	if err != nil {
		res.Outcome = OutcomeFailed
	} else {
		res.Outcome = OutcomeOK
	}
	r.logger.Info("stage finished", map[string]any{
		"run_id":  rc.Run.ID,
		"stage":   spec.Name(),
		"outcome": string(res.Outcome),
		"retries": res.Retries,
	})
	return res, err
}

func (r *Runner) runAttempt(ctx context.Context, spec StageSpec, rc *RunContext) error {
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}
	return spec.Stage.Execute(ctx, rc)
}

// fail finalizes a run after a fail-fast failure or a boundary abort: the
// remaining stages from index skipFrom are recorded as skipped, the failure
// path captures diagnostics and force-stops the partially started new
// generation, and the run turns failed with the triggering error attached.
func (r *Runner) fail(ctx context.Context, run *Run, rc *RunContext, skipFrom int, cause error) error {
	now := time.Now().UTC()
	for i := skipFrom; i < len(r.stages); i++ {
		run.Results = append(run.Results, StageResult{
			Stage:      r.stages[i].Name(),
			StartedAt:  now,
			FinishedAt: now,
			Outcome:    OutcomeSkipped,
		})
	}

	if r.onFailure != nil {
		cctx, cancel := context.WithTimeout(context.Background(), failureCleanupTimeout)
		run.Diagnostics = r.onFailure(cctx, rc, cause)
		cancel()
	}

	run.Status = StatusFailed
	run.Artifacts = rc.Artifacts
	run.Error = cause.Error()
	run.FinishedAt = now
	// ctx may already be cancelled when the failure is an external abort; the
	// terminal record must still reach the store.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureCleanupTimeout)
	r.persist(pctx, run)
	cancel()
	r.notify(Event{Kind: EventRunFinished, RunID: run.ID, Status: run.Status, Total: len(r.stages), Err: cause.Error()})
	r.logger.Error("run failed", map[string]any{
		"run_id":   run.ID,
		"revision": run.Revision,
		"error":    cause.Error(),
	})
	return cause
}

// persist saves the run record. Persistence faults are logged, never fatal:
// losing a log row must not abort a deployment in flight.
func (r *Runner) persist(ctx context.Context, run *Run) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Save(ctx, run); err != nil {
		r.logger.Warn("failed to persist run record", map[string]any{
			"run_id": run.ID, "error": err.Error(),
		})
	}
}

func (r *Runner) notify(ev Event) {
	if r.observer != nil {
		r.observer(ev)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
