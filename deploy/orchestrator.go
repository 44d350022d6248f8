package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/initializ/slipway/compose"
	"github.com/initializ/slipway/config"
	"github.com/initializ/slipway/container"
	"github.com/initializ/slipway/health"
	"github.com/initializ/slipway/internal/tailbuf"
	"github.com/initializ/slipway/logging"
	"github.com/initializ/slipway/notify"
	"github.com/initializ/slipway/pipeline"
	"github.com/initializ/slipway/source"
)

// Default per-stage timeouts, overridable per stage in the manifest.
const (
	defaultCheckoutTimeout = 5 * time.Minute
	defaultBuildTimeout    = 20 * time.Minute
	defaultTestTimeout     = 15 * time.Minute
	defaultStopTimeout     = 2 * time.Minute
	defaultDeployTimeout   = 5 * time.Minute
	defaultCleanupTimeout  = 2 * time.Minute
	defaultNotifyTimeout   = 30 * time.Second
)

// diagnosticLogTail bounds how many service log lines the failure path keeps.
const diagnosticLogTail = 200

// Options configures an Orchestrator. Manifest and Engine are required;
// collaborators left nil are built from the manifest.
type Options struct {
	Manifest    *config.Manifest
	Environment string
	Engine      container.Engine
	Source      Source
	Services    ServiceSet
	Tester      Tester
	Verifier    Verifier
	Notifier    Notifier
	Recorder    pipeline.Recorder
	Observer    pipeline.Observer
	Logger      logging.Logger

	// PreviousGeneration seeds the artifact refs the next cleanup stage may
	// prune, typically the artifacts of the last succeeded run.
	PreviousGeneration map[string]string
}

// Orchestrator owns one service set and runs deployments against it, one at
// a time.
type Orchestrator struct {
	manifest    *config.Manifest
	environment string
	runner      *pipeline.Runner
	services    ServiceSet
	logger      logging.Logger

	mu   sync.Mutex
	prev map[string]string
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Manifest == nil {
		return nil, errors.New("deploy: manifest is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("deploy: container engine is required")
	}

	m := opts.Manifest
	if opts.Environment != "" {
		var err error
		m, err = m.ForEnvironment(opts.Environment)
		if err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	src := opts.Source
	if src == nil {
		src = source.NewGitSource(m.Source.Repo, m.Source.WorkDir, logger)
	}
	services := opts.Services
	if services == nil {
		services = compose.NewServiceSet(compose.Config{
			File:    m.ComposeFile,
			Project: m.Project,
			Engine:  opts.Engine.Name(),
			Units:   m.Units,
			Logger:  logger,
		})
	}
	tester := opts.Tester
	if tester == nil {
		tester = container.NewImageTester(opts.Engine, logger)
	}
	verifier := opts.Verifier
	if verifier == nil {
		verifier = health.NewVerifier(services, health.Config{
			PerUnitTimeout: m.Health.PerUnitTimeout.Std(),
			PollInterval:   m.Health.PollInterval.Std(),
			Logger:         logger,
		})
	}

	o := &Orchestrator{
		manifest:    m,
		environment: opts.Environment,
		services:    services,
		logger:      logger,
		prev:        opts.PreviousGeneration,
	}

	budget := m.Health.OverallBudget.Std()
	if budget <= 0 {
		budget = config.DefaultOverallBudget
	}

	stages := []pipeline.StageSpec{
		{
			Stage:   &checkoutStage{src: src},
			Policy:  pipeline.FailFast,
			Timeout: m.StageTimeout(StageCheckout, defaultCheckoutTimeout),
			Retries: m.Source.CheckoutRetriesOrDefault(),
		},
		{
			Stage:   &buildStage{units: m.Units, builder: opts.Engine},
			Policy:  pipeline.FailFast,
			Timeout: m.StageTimeout(StageBuild, defaultBuildTimeout),
		},
		{
			Stage:   &testStage{units: m.Units, tester: tester},
			Policy:  pipeline.FailFast,
			Timeout: m.StageTimeout(StageTest, defaultTestTimeout),
		},
		{
			Stage:   &stopStage{services: services},
			Policy:  pipeline.FailFast,
			Timeout: m.StageTimeout(StageStop, defaultStopTimeout),
		},
		{
			Stage:   &deployStage{services: services},
			Policy:  pipeline.FailFast,
			Timeout: m.StageTimeout(StageDeploy, defaultDeployTimeout),
		},
		{
			Stage:   &healthStage{verifier: verifier, units: m.UnitNames()},
			Policy:  pipeline.FailFast,
			Timeout: m.StageTimeout(StageHealth, budget),
		},
		{
			Stage:   &cleanupStage{builder: opts.Engine, previous: o.previousGeneration},
			Policy:  pipeline.BestEffort,
			Timeout: m.StageTimeout(StageCleanup, defaultCleanupTimeout),
		},
	}
	if len(m.Notify.URLs) > 0 {
		notifier := opts.Notifier
		if notifier == nil {
			notifier = notify.NewWebhook(m.Notify.URLs, logger)
		}
		stages = append(stages, pipeline.StageSpec{
			Stage:   &notifyStage{notifier: notifier},
			Policy:  pipeline.FailSoft,
			Timeout: m.StageTimeout(StageNotify, defaultNotifyTimeout),
		})
	}

	runner, err := pipeline.NewRunner(pipeline.RunnerConfig{
		Stages:    stages,
		Logger:    logger,
		Recorder:  &generationTracker{inner: opts.Recorder, o: o},
		Observer:  opts.Observer,
		OnFailure: o.onFailure,
	})
	if err != nil {
		return nil, err
	}
	o.runner = runner
	return o, nil
}

// generationTracker observes persisted run snapshots so the orchestrator
// learns the image set of the latest successful run, for both synchronous
// and detached triggers. It wraps the caller's recorder, which may be nil.
type generationTracker struct {
	inner pipeline.Recorder
	o     *Orchestrator
}

func (g *generationTracker) Save(ctx context.Context, run *pipeline.Run) error {
	if run.Status == pipeline.StatusSucceeded && len(run.Artifacts) > 0 {
		g.o.setPreviousGeneration(run.Artifacts)
	}
	if g.inner == nil {
		return nil
	}
	return g.inner.Save(ctx, run)
}

// Deploy runs the full pipeline for a revision and waits for the result. The
// environment label, when set, must match the environment this orchestrator
// was started for; the service set is a singleton and cannot switch
// environments per trigger.
func (o *Orchestrator) Deploy(ctx context.Context, revision, environment string) (*pipeline.Run, error) {
	if err := o.checkEnvironment(environment); err != nil {
		return nil, err
	}
	return o.runner.Run(ctx, revision, o.environment)
}

// StartDeploy triggers a run without waiting for it and returns the accepted
// run's snapshot. ctx bounds the whole run, so callers pass a process
// lifetime context rather than a request one.
func (o *Orchestrator) StartDeploy(ctx context.Context, revision, environment string) (*pipeline.Run, error) {
	if err := o.checkEnvironment(environment); err != nil {
		return nil, err
	}
	return o.runner.Start(ctx, revision, o.environment)
}

func (o *Orchestrator) checkEnvironment(environment string) error {
	if environment != "" && environment != o.environment {
		return fmt.Errorf("%w: environment %q is not active", pipeline.ErrInvalidInput, environment)
	}
	return nil
}

// Abort requests cancellation of the active run at the next stage boundary.
func (o *Orchestrator) Abort(runID string) error { return o.runner.Abort(runID) }

// Active returns the in-flight run ID, if any.
func (o *Orchestrator) Active() (string, bool) { return o.runner.Active() }

// StageNames returns the stage plan in execution order.
func (o *Orchestrator) StageNames() []string { return o.runner.StageNames() }

// Environment returns the environment this orchestrator serves.
func (o *Orchestrator) Environment() string { return o.environment }

// Manifest returns the resolved manifest, with environment overrides applied.
func (o *Orchestrator) Manifest() *config.Manifest { return o.manifest }

func (o *Orchestrator) previousGeneration() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]string, len(o.prev))
	for k, v := range o.prev {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) setPreviousGeneration(artifacts map[string]string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prev = artifacts
}

// onFailure is the pipeline failure path. It captures service diagnostics
// while the failing containers still exist, then force-stops the new
// generation if the deploy stage had begun. The previous generation stays as
// the stop stage left it; recovery is an explicit redeploy of a known-good
// revision.
func (o *Orchestrator) onFailure(ctx context.Context, rc *pipeline.RunContext, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cause: %v\n", cause)

	logs, err := o.services.Logs(ctx, diagnosticLogTail)
	if err != nil {
		o.logger.Warn("could not capture service logs", map[string]any{"error": err.Error()})
	} else if logs != "" {
		// The tail is applied per service, so the combined output can
		// exceed the bound; cap it once more over the whole capture.
		b.WriteString(tailbuf.LastLines(logs, diagnosticLogTail))
	}

	if rc.DeployBegun {
		o.logger.Warn("force-stopping new generation after failed deploy", map[string]any{
			"run_id": rc.Run.ID,
		})
		if err := o.services.StopAll(ctx); err != nil {
			fmt.Fprintf(&b, "force-stop failed: %v\n", err)
		}
	}
	return b.String()
}
