package deploy

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"github.com/initializ/slipway/compose"
	"github.com/initializ/slipway/container"
	"github.com/initializ/slipway/health"
	"github.com/initializ/slipway/pipeline"
	"github.com/initializ/slipway/source"
)

// fakeSource scripts checkout outcomes: the first failures calls fail, the
// rest return a fixed snapshot.
type fakeSource struct {
	mu       sync.Mutex
	calls    int
	failures int
	dir      string
	commit   string
	err      error // permanent failure when set
}

func (f *fakeSource) Fetch(ctx context.Context, revision string) (*source.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= f.failures {
		return nil, errors.New("remote hung up unexpectedly")
	}
	return &source.Snapshot{Dir: f.dir, Commit: f.commit}, nil
}

func (f *fakeSource) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeEngine implements container.Engine, recording builds and removals.
// Builds fail for units listed in failBuilds, matched by context dir base.
type fakeEngine struct {
	mu         sync.Mutex
	builds     []container.BuildOptions
	removed    []string
	failBuilds map[string]error
	runOut     string
	runErr     error
}

func (f *fakeEngine) Name() string    { return "fake" }
func (f *fakeEngine) Available() bool { return true }

func (f *fakeEngine) Build(ctx context.Context, opts container.BuildOptions) (*container.BuildResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, opts)
	if err, ok := f.failBuilds[filepath.Base(opts.ContextDir)]; ok {
		return nil, err
	}
	return &container.BuildResult{ImageID: "sha256:feedface", Tag: opts.Tag}, nil
}

func (f *fakeEngine) Run(ctx context.Context, opts container.RunOptions) (string, error) {
	return f.runOut, f.runErr
}

func (f *fakeEngine) RemoveImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, ref)
	return nil
}

func (f *fakeEngine) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.builds)
}

func (f *fakeEngine) removedRefs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

// fakeTester scripts per-unit test reports, matched by "/<unit>:" in the
// image ref. Unmatched units pass.
type fakeTester struct {
	mu      sync.Mutex
	tested  []string
	reports map[string]*container.TestReport
}

func (f *fakeTester) Test(ctx context.Context, image string, command []string) (*container.TestReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tested = append(f.tested, image)
	for unit, report := range f.reports {
		if strings.Contains(image, "/"+unit+":") {
			return report, nil
		}
	}
	return &container.TestReport{Passed: true, Output: "ok"}, nil
}

func (f *fakeTester) testedImages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tested...)
}

// fakeServices records service-set calls. Probe replays a scripted sequence
// per unit, defaulting to ready.
type fakeServices struct {
	mu         sync.Mutex
	stopCalls  int
	stopErr    error
	startCalls []map[string]string
	startErr   error
	probeSeq   map[string][]compose.ProbeStatus
	probeCalls map[string]int
	logsOut    string
	logsCalls  int
}

func (f *fakeServices) StopAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeServices) StartAll(ctx context.Context, images map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[string]string, len(images))
	for k, v := range images {
		cp[k] = v
	}
	f.startCalls = append(f.startCalls, cp)
	return f.startErr
}

func (f *fakeServices) Probe(ctx context.Context, unit string) (compose.ProbeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeCalls == nil {
		f.probeCalls = make(map[string]int)
	}
	n := f.probeCalls[unit]
	f.probeCalls[unit] = n + 1

	seq, ok := f.probeSeq[unit]
	if !ok || len(seq) == 0 {
		return compose.StatusReady, nil
	}
	if n >= len(seq) {
		n = len(seq) - 1
	}
	return seq[n], nil
}

func (f *fakeServices) Logs(ctx context.Context, tail int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logsCalls++
	return f.logsOut, nil
}

func (f *fakeServices) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func (f *fakeServices) starts() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.startCalls...)
}

// gateVerifier blocks inside Verify until released, to hold a run open.
type gateVerifier struct {
	entered chan struct{}
	release chan struct{}
}

func newGateVerifier() *gateVerifier {
	return &gateVerifier{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateVerifier) Verify(ctx context.Context, units []string) ([]health.UnitReport, error) {
	close(g.entered)
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	reports := make([]health.UnitReport, len(units))
	for i, u := range units {
		reports[i] = health.UnitReport{Unit: u, Ready: true, Polls: 1}
	}
	return reports, nil
}

// fakeNotifier records notified runs.
type fakeNotifier struct {
	mu   sync.Mutex
	runs []*pipeline.Run
	err  error
}

func (f *fakeNotifier) NotifyRun(ctx context.Context, run *pipeline.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return f.err
}

func (f *fakeNotifier) notified() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

// memRecorder keeps the latest saved run snapshot.
type memRecorder struct {
	mu    sync.Mutex
	saves int
	last  *pipeline.Run
}

func (m *memRecorder) Save(ctx context.Context, run *pipeline.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	cp := *run
	m.last = &cp
	return nil
}
