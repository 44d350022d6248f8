// Package deploy assembles the deployment pipeline: source checkout, image
// builds, tests, and the compose service set bound into the stage sequence
// executed for every run.
package deploy

import (
	"context"

	"github.com/initializ/slipway/compose"
	"github.com/initializ/slipway/container"
	"github.com/initializ/slipway/health"
	"github.com/initializ/slipway/pipeline"
	"github.com/initializ/slipway/source"
)

// Stage names in execution order. The notify stage is appended only when the
// manifest configures notification endpoints.
const (
	StageCheckout = "checkout"
	StageBuild    = "build"
	StageTest     = "test"
	StageStop     = "stop"
	StageDeploy   = "deploy"
	StageHealth   = "health"
	StageCleanup  = "cleanup"
	StageNotify   = "notify"
)

// Source acquires an immutable snapshot of the configured repository. Fresh
// clones and updates of an existing clone surface through the same call; the
// caller never learns which path ran.
type Source interface {
	Fetch(ctx context.Context, revision string) (*source.Snapshot, error)
}

// Builder builds and removes unit images.
type Builder interface {
	Build(ctx context.Context, opts container.BuildOptions) (*container.BuildResult, error)
	RemoveImage(ctx context.Context, ref string) error
}

// Tester runs a unit's test command inside its built image.
type Tester interface {
	Test(ctx context.Context, image string, command []string) (*container.TestReport, error)
}

// ServiceSet manipulates the deployed unit set as a whole.
type ServiceSet interface {
	StopAll(ctx context.Context) error
	StartAll(ctx context.Context, images map[string]string) error
	Probe(ctx context.Context, unit string) (compose.ProbeStatus, error)
	Logs(ctx context.Context, tail int) (string, error)
}

// Verifier waits for deployed units to answer their health endpoints.
type Verifier interface {
	Verify(ctx context.Context, units []string) ([]health.UnitReport, error)
}

// Notifier delivers run summaries to configured endpoints.
type Notifier interface {
	NotifyRun(ctx context.Context, run *pipeline.Run) error
}

// artifactRef tags a unit image with the resolved commit so each generation
// is addressable on its own and old generations can be pruned precisely.
func artifactRef(image, commit string) string {
	short := commit
	if len(short) > 12 {
		short = short[:12]
	}
	if short == "" {
		short = "latest"
	}
	return image + ":" + short
}
