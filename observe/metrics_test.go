package observe

import (
	"sync"
	"testing"

	"github.com/initializ/slipway/pipeline"
)

func TestCounterConcurrentIncrements(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Counter(RunsStarted).Inc()
		}()
	}
	wg.Wait()

	if got := reg.Counter(RunsStarted).Value(); got != 50 {
		t.Errorf("counter = %d, want 50", got)
	}
}

func TestRegistryReturnsSameMetric(t *testing.T) {
	reg := NewRegistry()
	if reg.Counter("x") != reg.Counter("x") {
		t.Error("Counter returned different instances for the same name")
	}
	if reg.Gauge("y") != reg.Gauge("y") {
		t.Error("Gauge returned different instances for the same name")
	}
	if reg.Histogram("z") != reg.Histogram("z") {
		t.Error("Histogram returned different instances for the same name")
	}
}

func TestHistogramSnapshot(t *testing.T) {
	h := &Histogram{}
	h.Observe(1.0)
	h.Observe(3.0)

	count, sum, avg, max := h.Snapshot()
	if count != 2 || sum != 4.0 || avg != 2.0 || max != 3.0 {
		t.Errorf("snapshot = (%d, %v, %v, %v)", count, sum, avg, max)
	}
}

func TestObserverTracksRunLifecycle(t *testing.T) {
	reg := NewRegistry()
	obs := Observer(reg)

	obs(pipeline.Event{Kind: pipeline.EventStageStarted, RunID: "r1", Stage: "checkout", Index: 0, Total: 7})
	if reg.Gauge(ActiveRuns).Value() != 1 {
		t.Error("active gauge not set on first stage start")
	}

	obs(pipeline.Event{Kind: pipeline.EventStageFinished, RunID: "r1", Stage: "checkout", Index: 0, Outcome: pipeline.OutcomeOK})
	obs(pipeline.Event{Kind: pipeline.EventStageFinished, RunID: "r1", Stage: "build", Index: 1, Outcome: pipeline.OutcomeFailed, Err: "boom"})
	obs(pipeline.Event{Kind: pipeline.EventRunFinished, RunID: "r1", Status: pipeline.StatusFailed, Err: "boom"})

	snap := reg.Snapshot()
	if snap["counter."+RunsStarted] != int64(1) {
		t.Errorf("runs started = %v", snap["counter."+RunsStarted])
	}
	if snap["counter."+RunsFailed] != int64(1) {
		t.Errorf("runs failed = %v", snap["counter."+RunsFailed])
	}
	if snap["counter."+StageFailures] != int64(1) {
		t.Errorf("stage failures = %v", snap["counter."+StageFailures])
	}
	if snap["gauge."+ActiveRuns] != int64(0) {
		t.Errorf("active runs = %v", snap["gauge."+ActiveRuns])
	}
	if snap["histogram."+RunDurationSecs+".count"] != int64(1) {
		t.Errorf("duration count = %v", snap["histogram."+RunDurationSecs+".count"])
	}
}

func TestObserverObservesStageDurations(t *testing.T) {
	reg := NewRegistry()
	obs := Observer(reg)

	obs(pipeline.Event{Kind: pipeline.EventStageStarted, RunID: "r1", Stage: "checkout", Index: 0, Total: 7})
	obs(pipeline.Event{Kind: pipeline.EventStageFinished, RunID: "r1", Stage: "checkout", Index: 0, Outcome: pipeline.OutcomeOK})
	obs(pipeline.Event{Kind: pipeline.EventStageStarted, RunID: "r1", Stage: "build", Index: 1, Total: 7})
	obs(pipeline.Event{Kind: pipeline.EventStageFinished, RunID: "r1", Stage: "build", Index: 1, Outcome: pipeline.OutcomeFailed, Err: "boom"})
	obs(pipeline.Event{Kind: pipeline.EventRunFinished, RunID: "r1", Status: pipeline.StatusFailed, Err: "boom"})

	snap := reg.Snapshot()
	if snap["histogram."+StageDurationSecs+".count"] != int64(2) {
		t.Errorf("stage duration count = %v, want 2", snap["histogram."+StageDurationSecs+".count"])
	}

	// A stage left unfinished at run end must not leak into a later run
	// that reuses the same stage name.
	obs(pipeline.Event{Kind: pipeline.EventStageStarted, RunID: "r2", Stage: "checkout", Index: 0, Total: 7})
	obs(pipeline.Event{Kind: pipeline.EventRunFinished, RunID: "r2", Status: pipeline.StatusFailed})
	obs(pipeline.Event{Kind: pipeline.EventStageFinished, RunID: "r2", Stage: "checkout", Index: 0, Outcome: pipeline.OutcomeFailed})

	snap = reg.Snapshot()
	if snap["histogram."+StageDurationSecs+".count"] != int64(2) {
		t.Errorf("stage duration count after aborted run = %v, want 2", snap["histogram."+StageDurationSecs+".count"])
	}
}

func TestFanoutDeliversInOrder(t *testing.T) {
	var order []string
	a := func(ev pipeline.Event) { order = append(order, "a") }
	b := func(ev pipeline.Event) { order = append(order, "b") }

	Fanout(a, nil, b)(pipeline.Event{Kind: pipeline.EventRunFinished})

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v", order)
	}
}
