// Package observe tracks pipeline counters and timings exposed through the
// serve API.
package observe

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/initializ/slipway/pipeline"
)

// Canonical metric names.
const (
	RunsStarted       = "runs_started"
	RunsSucceeded     = "runs_succeeded"
	RunsFailed        = "runs_failed"
	TriggersRejected  = "triggers_rejected"
	StageFailures     = "stage_failures"
	ActiveRuns        = "active_runs"
	RunDurationSecs   = "run_duration_seconds"
	StageDurationSecs = "stage_duration_seconds"
)

type Counter struct {
	value int64
}

func (c *Counter) Inc()         { atomic.AddInt64(&c.value, 1) }
func (c *Counter) Add(n int64)  { atomic.AddInt64(&c.value, n) }
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

type Gauge struct {
	value int64
}

func (g *Gauge) Set(v int64)  { atomic.StoreInt64(&g.value, v) }
func (g *Gauge) Inc()         { atomic.AddInt64(&g.value, 1) }
func (g *Gauge) Dec()         { atomic.AddInt64(&g.value, -1) }
func (g *Gauge) Value() int64 { return atomic.LoadInt64(&g.value) }

type Histogram struct {
	mu    sync.Mutex
	sum   float64
	count int64
	max   float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	if v > h.max {
		h.max = v
	}
}

func (h *Histogram) Snapshot() (count int64, sum, avg, max float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0, 0, 0, 0
	}
	return h.count, h.sum, h.sum / float64(h.count), h.max
}

// Registry hands out named metrics, creating them on first use.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

func (r *Registry) Counter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{}
	r.counters[name] = c
	return c
}

func (r *Registry) Gauge(name string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{}
	r.gauges[name] = g
	return g
}

func (r *Registry) Histogram(name string) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	h := &Histogram{}
	r.histograms[name] = h
	return h
}

// Snapshot flattens every metric into a JSON-friendly map.
func (r *Registry) Snapshot() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]any)
	for name, c := range r.counters {
		out["counter."+name] = c.Value()
	}
	for name, g := range r.gauges {
		out["gauge."+name] = g.Value()
	}
	for name, h := range r.histograms {
		count, sum, avg, max := h.Snapshot()
		out["histogram."+name+".count"] = count
		out["histogram."+name+".sum"] = sum
		out["histogram."+name+".avg"] = avg
		out["histogram."+name+".max"] = max
	}
	return out
}

// Observer returns a pipeline.Observer that keeps the registry current as
// runs progress. Chain it with any other observer via Fanout.
func Observer(reg *Registry) pipeline.Observer {
	var mu sync.Mutex
	startedAt := make(map[string]time.Time)
	stageStartedAt := make(map[string]time.Time)

	return func(ev pipeline.Event) {
		switch ev.Kind {
		case pipeline.EventStageStarted:
			mu.Lock()
			stageStartedAt[ev.RunID+"/"+ev.Stage] = time.Now()
			if ev.Index == 0 {
				startedAt[ev.RunID] = time.Now()
			}
			mu.Unlock()
			if ev.Index == 0 {
				reg.Counter(RunsStarted).Inc()
				reg.Gauge(ActiveRuns).Set(1)
			}
		case pipeline.EventStageFinished:
			mu.Lock()
			key := ev.RunID + "/" + ev.Stage
			if t0, ok := stageStartedAt[key]; ok {
				delete(stageStartedAt, key)
				reg.Histogram(StageDurationSecs).Observe(time.Since(t0).Seconds())
			}
			mu.Unlock()
			if ev.Outcome == pipeline.OutcomeFailed {
				reg.Counter(StageFailures).Inc()
			}
		case pipeline.EventRunFinished:
			reg.Gauge(ActiveRuns).Set(0)
			switch ev.Status {
			case pipeline.StatusSucceeded:
				reg.Counter(RunsSucceeded).Inc()
			case pipeline.StatusFailed:
				reg.Counter(RunsFailed).Inc()
			}
			mu.Lock()
			if t0, ok := startedAt[ev.RunID]; ok {
				delete(startedAt, ev.RunID)
				reg.Histogram(RunDurationSecs).Observe(time.Since(t0).Seconds())
			}
			for key := range stageStartedAt {
				if strings.HasPrefix(key, ev.RunID+"/") {
					delete(stageStartedAt, key)
				}
			}
			mu.Unlock()
		}
	}
}

// Fanout delivers each event to every observer in order.
func Fanout(observers ...pipeline.Observer) pipeline.Observer {
	return func(ev pipeline.Event) {
		for _, o := range observers {
			if o != nil {
				o(ev)
			}
		}
	}
}
