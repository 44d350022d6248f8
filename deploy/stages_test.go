package deploy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/initializ/slipway/compose"
	"github.com/initializ/slipway/config"
	"github.com/initializ/slipway/container"
	"github.com/initializ/slipway/health"
	"github.com/initializ/slipway/pipeline"
)

func newRunContext(revision string) *pipeline.RunContext {
	run := &pipeline.Run{ID: "run-1", Revision: revision, Status: pipeline.StatusRunning}
	return pipeline.NewRunContext(run, 0)
}

func testUnits() []config.UnitConfig {
	return []config.UnitConfig{
		{
			Name:        "api",
			Context:     "api",
			Dockerfile:  "Dockerfile",
			Image:       "registry.local/acme/api",
			HealthURL:   "http://localhost:8000/",
			TestCommand: []string{"pytest", "-q"},
		},
		{
			Name:        "db",
			Context:     "db",
			Dockerfile:  "Dockerfile",
			Image:       "registry.local/acme/db",
			HealthURL:   "http://localhost:8001/health",
			TestCommand: []string{"pytest"},
		},
	}
}

func TestArtifactRef(t *testing.T) {
	tests := []struct {
		image  string
		commit string
		want   string
	}{
		{"acme/api", "abc123def4567890abcd", "acme/api:abc123def456"},
		{"acme/api", "abc123", "acme/api:abc123"},
		{"acme/api", "", "acme/api:latest"},
	}
	for _, tt := range tests {
		if got := artifactRef(tt.image, tt.commit); got != tt.want {
			t.Errorf("artifactRef(%q, %q) = %q, want %q", tt.image, tt.commit, got, tt.want)
		}
	}
}

func TestCheckoutStageSetsSnapshot(t *testing.T) {
	src := &fakeSource{dir: "/work/src", commit: "abc123def4567890"}
	stage := &checkoutStage{src: src}
	rc := newRunContext("abc123")

	if err := stage.Execute(context.Background(), rc); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rc.SnapshotDir != "/work/src" {
		t.Errorf("SnapshotDir = %q", rc.SnapshotDir)
	}
	if rc.Commit != "abc123def4567890" {
		t.Errorf("Commit = %q", rc.Commit)
	}
}

func TestCheckoutStageWrapsFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("connection reset")}
	stage := &checkoutStage{src: src}
	rc := newRunContext("abc123")

	err := stage.Execute(context.Background(), rc)
	var sue *pipeline.SourceUnavailableError
	if !errors.As(err, &sue) {
		t.Fatalf("expected *pipeline.SourceUnavailableError, got %T", err)
	}
	if sue.Ref != "abc123" {
		t.Errorf("Ref = %q, want abc123", sue.Ref)
	}
}

func TestBuildStagePromotesAllArtifacts(t *testing.T) {
	eng := &fakeEngine{}
	stage := &buildStage{units: testUnits(), builder: eng}
	rc := newRunContext("abc123")
	rc.SnapshotDir = "/work/src"
	rc.Commit = "abc123def4567890"

	if err := stage.Execute(context.Background(), rc); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := map[string]string{
		"api": "registry.local/acme/api:abc123def456",
		"db":  "registry.local/acme/db:abc123def456",
	}
	for unit, ref := range want {
		if rc.Artifacts[unit] != ref {
			t.Errorf("Artifacts[%s] = %q, want %q", unit, rc.Artifacts[unit], ref)
		}
	}
	if eng.buildCount() != 2 {
		t.Errorf("builds = %d, want 2", eng.buildCount())
	}
	for _, b := range eng.builds {
		if !strings.HasPrefix(b.ContextDir, "/work/src/") {
			t.Errorf("build context %q not under snapshot", b.ContextDir)
		}
	}
}

func TestBuildStagePromotesNothingOnPartialFailure(t *testing.T) {
	eng := &fakeEngine{failBuilds: map[string]error{"db": errors.New("COPY failed")}}
	stage := &buildStage{units: testUnits(), builder: eng}
	rc := newRunContext("abc123")
	rc.SnapshotDir = "/work/src"
	rc.Commit = "abc123def4567890"

	err := stage.Execute(context.Background(), rc)
	var be *pipeline.BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected *pipeline.BuildError, got %T", err)
	}
	if be.Unit != "db" {
		t.Errorf("BuildError.Unit = %q, want db", be.Unit)
	}
	if len(rc.Artifacts) != 0 {
		t.Errorf("artifacts promoted from failed stage: %v", rc.Artifacts)
	}

	// The api image built fine and must be discarded, not kept around.
	removed := eng.removedRefs()
	if len(removed) != 1 || removed[0] != "registry.local/acme/api:abc123def456" {
		t.Errorf("removed = %v", removed)
	}
}

func TestTestStageSkipsUnitsWithoutCommand(t *testing.T) {
	units := testUnits()
	units[1].TestCommand = nil

	tester := &fakeTester{}
	stage := &testStage{units: units, tester: tester}
	rc := newRunContext("abc123")
	rc.Artifacts["api"] = "registry.local/acme/api:abc123def456"
	rc.Artifacts["db"] = "registry.local/acme/db:abc123def456"

	if err := stage.Execute(context.Background(), rc); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	tested := tester.testedImages()
	if len(tested) != 1 || !strings.Contains(tested[0], "/api:") {
		t.Errorf("tested = %v, want only api", tested)
	}
	if !strings.Contains(rc.Output(), "no test command for db") {
		t.Errorf("output missing skip note: %q", rc.Output())
	}
}

func TestTestStageReportsFailingUnit(t *testing.T) {
	tester := &fakeTester{reports: map[string]*container.TestReport{
		"db": {Passed: false, Failures: []string{"tests/test_db.py::test_migrate"}, Output: "FAILED tests/test_db.py::test_migrate"},
	}}
	stage := &testStage{units: testUnits(), tester: tester}
	rc := newRunContext("abc123")
	rc.Artifacts["api"] = "registry.local/acme/api:abc123def456"
	rc.Artifacts["db"] = "registry.local/acme/db:abc123def456"

	err := stage.Execute(context.Background(), rc)
	var tfe *pipeline.TestsFailedError
	if !errors.As(err, &tfe) {
		t.Fatalf("expected *pipeline.TestsFailedError, got %T", err)
	}
	if tfe.Unit != "db" {
		t.Errorf("Unit = %q, want db", tfe.Unit)
	}
	if len(tfe.Failures) != 1 || tfe.Failures[0] != "tests/test_db.py::test_migrate" {
		t.Errorf("Failures = %v", tfe.Failures)
	}
	if !strings.Contains(rc.Output(), "FAILED tests/test_db.py::test_migrate") {
		t.Errorf("output missing captured test log: %q", rc.Output())
	}
}

func TestDeployStageMarksDeployBegun(t *testing.T) {
	svc := &fakeServices{}
	stage := &deployStage{services: svc}
	rc := newRunContext("abc123")
	rc.Artifacts["api"] = "registry.local/acme/api:abc123def456"

	if err := stage.Execute(context.Background(), rc); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !rc.DeployBegun {
		t.Error("DeployBegun not set")
	}
	starts := svc.starts()
	if len(starts) != 1 || starts[0]["api"] != "registry.local/acme/api:abc123def456" {
		t.Errorf("starts = %v", starts)
	}
}

func TestDeployStageWrapsStartError(t *testing.T) {
	svc := &fakeServices{startErr: &compose.StartError{Unit: "api", Err: errors.New("port in use")}}
	stage := &deployStage{services: svc}
	rc := newRunContext("abc123")

	err := stage.Execute(context.Background(), rc)
	var de *pipeline.DeployError
	if !errors.As(err, &de) {
		t.Fatalf("expected *pipeline.DeployError, got %T", err)
	}
	if de.Unit != "api" {
		t.Errorf("Unit = %q, want api", de.Unit)
	}
	if !rc.DeployBegun {
		t.Error("DeployBegun must be set even when starting fails")
	}
}

type staticVerifier struct {
	reports []health.UnitReport
	err     error
}

func (s *staticVerifier) Verify(ctx context.Context, units []string) ([]health.UnitReport, error) {
	return s.reports, s.err
}

func TestHealthStageLogsReports(t *testing.T) {
	v := &staticVerifier{reports: []health.UnitReport{
		{Unit: "api", Ready: true, Polls: 3},
		{Unit: "db", Ready: true, Polls: 1},
	}}
	stage := &healthStage{verifier: v, units: []string{"api", "db"}}
	rc := newRunContext("abc123")

	if err := stage.Execute(context.Background(), rc); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	out := rc.Output()
	if !strings.Contains(out, "unit api: ready=true polls=3") {
		t.Errorf("output = %q", out)
	}
}

func TestCleanupStagePrunesOnlyStaleRefs(t *testing.T) {
	eng := &fakeEngine{}
	prev := map[string]string{
		"api": "registry.local/acme/api:000000000000",
		"db":  "registry.local/acme/db:abc123def456",
	}
	stage := &cleanupStage{builder: eng, previous: func() map[string]string { return prev }}
	rc := newRunContext("abc123")
	rc.Artifacts["api"] = "registry.local/acme/api:abc123def456"
	rc.Artifacts["db"] = "registry.local/acme/db:abc123def456"

	if err := stage.Execute(context.Background(), rc); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	removed := eng.removedRefs()
	if len(removed) != 1 || removed[0] != "registry.local/acme/api:000000000000" {
		t.Errorf("removed = %v, want only the stale api image", removed)
	}
}

func TestCleanupStageNoPreviousGeneration(t *testing.T) {
	eng := &fakeEngine{}
	stage := &cleanupStage{builder: eng, previous: func() map[string]string { return nil }}
	rc := newRunContext("abc123")

	if err := stage.Execute(context.Background(), rc); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(eng.removedRefs()) != 0 {
		t.Errorf("removed = %v, want none", eng.removedRefs())
	}
}
