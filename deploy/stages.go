package deploy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/initializ/slipway/compose"
	"github.com/initializ/slipway/config"
	"github.com/initializ/slipway/container"
	"github.com/initializ/slipway/pipeline"
)

// checkoutStage resolves the requested revision into an immutable source
// snapshot. Retries are owned by the pipeline runner.
type checkoutStage struct {
	src Source
}

func (s *checkoutStage) Name() string { return StageCheckout }

func (s *checkoutStage) Execute(ctx context.Context, rc *pipeline.RunContext) error {
	snap, err := s.src.Fetch(ctx, rc.Revision)
	if err != nil {
		return &pipeline.SourceUnavailableError{Ref: rc.Revision, Err: err}
	}
	rc.SnapshotDir = snap.Dir
	rc.Commit = snap.Commit
	rc.Logf("resolved %s to %s", rc.Revision, snap.Commit)
	return nil
}

// buildStage builds every unit image in parallel. Artifact refs are promoted
// only when all builds succeed; a partial failure discards what was built
// and nothing reaches later stages.
type buildStage struct {
	units   []config.UnitConfig
	builder Builder
}

func (s *buildStage) Name() string { return StageBuild }

func (s *buildStage) Execute(ctx context.Context, rc *pipeline.RunContext) error {
	type outcome struct {
		res *container.BuildResult
		err error
	}
	outcomes := make([]outcome, len(s.units))

	var wg sync.WaitGroup
	for i, u := range s.units {
		wg.Add(1)
		go func(i int, u config.UnitConfig) {
			defer wg.Done()
			res, err := s.builder.Build(ctx, container.BuildOptions{
				ContextDir: filepath.Join(rc.SnapshotDir, u.Context),
				Dockerfile: u.Dockerfile,
				Tag:        artifactRef(u.Image, rc.Commit),
			})
			outcomes[i] = outcome{res: res, err: err}
		}(i, u)
	}
	wg.Wait()

	built := make(map[string]string, len(s.units))
	var failedUnit string
	var failedErr error
	for i, u := range s.units {
		if err := outcomes[i].err; err != nil {
			rc.Logf("build %s: %v", u.Name, err)
			if failedErr == nil {
				failedUnit, failedErr = u.Name, err
			}
			continue
		}
		built[u.Name] = outcomes[i].res.Tag
		rc.Logf("built %s as %s", u.Name, outcomes[i].res.Tag)
	}

	if failedErr != nil {
		s.discard(built, rc)
		return &pipeline.BuildError{Unit: failedUnit, Err: failedErr}
	}
	for unit, ref := range built {
		rc.Artifacts[unit] = ref
	}
	return nil
}

// discard removes the images a partially failed build produced, detached
// from the stage context so an expired deadline cannot leave them behind.
func (s *buildStage) discard(built map[string]string, rc *pipeline.RunContext) {
	if len(built) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for unit, ref := range built {
		if err := s.builder.RemoveImage(ctx, ref); err != nil {
			rc.Logf("discard %s image %s: %v", unit, ref, err)
		}
	}
}

// testStage runs each unit's test command in its freshly built image, in
// parallel. Units without a test command are skipped with a log line.
type testStage struct {
	units  []config.UnitConfig
	tester Tester
}

func (s *testStage) Name() string { return StageTest }

func (s *testStage) Execute(ctx context.Context, rc *pipeline.RunContext) error {
	type outcome struct {
		report *container.TestReport
		err    error
	}
	outcomes := make([]outcome, len(s.units))

	var wg sync.WaitGroup
	for i, u := range s.units {
		if len(u.TestCommand) == 0 {
			rc.Logf("no test command for %s", u.Name)
			continue
		}
		wg.Add(1)
		go func(i int, u config.UnitConfig) {
			defer wg.Done()
			report, err := s.tester.Test(ctx, rc.Artifacts[u.Name], u.TestCommand)
			outcomes[i] = outcome{report: report, err: err}
		}(i, u)
	}
	wg.Wait()

	for i, u := range s.units {
		o := outcomes[i]
		if o.report == nil && o.err == nil {
			continue
		}
		if o.err != nil {
			return fmt.Errorf("test %s: %w", u.Name, o.err)
		}
		if !o.report.Passed {
			rc.Capture(o.report.Output)
			return &pipeline.TestsFailedError{Unit: u.Name, Failures: o.report.Failures}
		}
		rc.Logf("tests passed for %s", u.Name)
	}
	return nil
}

// stopStage takes the running generation down. This opens the planned outage
// window; the deploy stage closes it.
type stopStage struct {
	services ServiceSet
}

func (s *stopStage) Name() string { return StageStop }

func (s *stopStage) Execute(ctx context.Context, rc *pipeline.RunContext) error {
	rc.Logf("stopping previous generation")
	return s.services.StopAll(ctx)
}

// deployStage starts the new generation from the promoted artifacts. It
// marks the run context before touching the service set so the failure path
// knows a partial generation may exist.
type deployStage struct {
	services ServiceSet
}

func (s *deployStage) Name() string { return StageDeploy }

func (s *deployStage) Execute(ctx context.Context, rc *pipeline.RunContext) error {
	rc.DeployBegun = true
	if err := s.services.StartAll(ctx, rc.Artifacts); err != nil {
		var se *compose.StartError
		if errors.As(err, &se) {
			return &pipeline.DeployError{Unit: se.Unit, Err: se.Err}
		}
		return err
	}
	rc.Logf("started %d units", len(rc.Artifacts))
	return nil
}

// healthStage verifies the new generation answers its health endpoints. The
// stage timeout is the overall verification budget.
type healthStage struct {
	verifier Verifier
	units    []string
}

func (s *healthStage) Name() string { return StageHealth }

func (s *healthStage) Execute(ctx context.Context, rc *pipeline.RunContext) error {
	reports, err := s.verifier.Verify(ctx, s.units)
	for _, rep := range reports {
		rc.Logf("unit %s: ready=%t polls=%d waited=%s",
			rep.Unit, rep.Ready, rep.Polls, rep.Waited.Round(time.Millisecond))
	}
	return err
}

// cleanupStage prunes the previous generation's images once the new one is
// serving. It runs best-effort: a leftover image is a disk-space problem,
// not a deployment problem.
type cleanupStage struct {
	builder  Builder
	previous func() map[string]string
}

func (s *cleanupStage) Name() string { return StageCleanup }

func (s *cleanupStage) Execute(ctx context.Context, rc *pipeline.RunContext) error {
	prev := s.previous()
	if len(prev) == 0 {
		rc.Logf("no previous generation to clean up")
		return nil
	}

	var failed int
	for unit, ref := range prev {
		if rc.Artifacts[unit] == ref {
			continue
		}
		if err := s.builder.RemoveImage(ctx, ref); err != nil {
			rc.Logf("remove %s: %v", ref, err)
			failed++
			continue
		}
		rc.Logf("removed %s", ref)
	}
	if failed > 0 {
		return fmt.Errorf("could not remove %d old image(s)", failed)
	}
	return nil
}

// notifyStage posts the run summary after a successful deployment. Failed
// runs are reported through the failure path instead, since this stage never
// executes for them.
type notifyStage struct {
	notifier Notifier
}

func (s *notifyStage) Name() string { return StageNotify }

func (s *notifyStage) Execute(ctx context.Context, rc *pipeline.RunContext) error {
	return s.notifier.NotifyRun(ctx, rc.Run)
}
