// Package health verifies that deployed units answer their health endpoints
// within bounded time.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/initializ/slipway/compose"
	"github.com/initializ/slipway/logging"
	"github.com/initializ/slipway/pipeline"
)

const (
	DefaultPerUnitTimeout = 60 * time.Second
	DefaultPollInterval   = 2 * time.Second
)

// Prober reports the current state of a single unit.
type Prober interface {
	Probe(ctx context.Context, unit string) (compose.ProbeStatus, error)
}

// UnitReport records what the verifier observed for one unit.
type UnitReport struct {
	Unit   string              `json:"unit"`
	Ready  bool                `json:"ready"`
	Waited time.Duration       `json:"waited"`
	Polls  int                 `json:"polls"`
	Last   compose.ProbeStatus `json:"last_status"`
}

// Config tunes the verifier. Zero fields fall back to defaults.
type Config struct {
	PerUnitTimeout time.Duration
	PollInterval   time.Duration
	Logger         logging.Logger
}

// Verifier polls every unit concurrently until it is ready or its per-unit
// timeout lapses. The caller bounds the whole verification with the context
// deadline.
type Verifier struct {
	prober   Prober
	perUnit  time.Duration
	interval time.Duration
	logger   logging.Logger
}

func NewVerifier(prober Prober, cfg Config) *Verifier {
	v := &Verifier{
		prober:   prober,
		perUnit:  cfg.PerUnitTimeout,
		interval: cfg.PollInterval,
		logger:   cfg.Logger,
	}
	if v.perUnit <= 0 {
		v.perUnit = DefaultPerUnitTimeout
	}
	if v.interval <= 0 {
		v.interval = DefaultPollInterval
	}
	if v.logger == nil {
		v.logger = logging.NewNop()
	}
	return v
}

// Verify watches all units and returns a report per unit. If any unit never
// became ready, the error is a *pipeline.HealthTimeoutError naming the first
// such unit in declared order. Units that did become ready are never undone
// here; the caller decides what a partial result means.
func (v *Verifier) Verify(ctx context.Context, units []string) ([]UnitReport, error) {
	reports := make([]UnitReport, len(units))

	var wg sync.WaitGroup
	for i, unit := range units {
		wg.Add(1)
		go func(i int, unit string) {
			defer wg.Done()
			reports[i] = v.watch(ctx, unit)
		}(i, unit)
	}
	wg.Wait()

	for _, rep := range reports {
		if !rep.Ready {
			return reports, &pipeline.HealthTimeoutError{Unit: rep.Unit, Waited: rep.Waited}
		}
	}
	return reports, nil
}

// watch polls one unit until ready, per-unit timeout, or context expiry.
// The first probe fires immediately so a ready unit costs no wait at all.
func (v *Verifier) watch(ctx context.Context, unit string) UnitReport {
	start := time.Now()
	deadline := start.Add(v.perUnit)

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	rep := UnitReport{Unit: unit}
	for {
		status, err := v.prober.Probe(ctx, unit)
		rep.Polls++
		rep.Last = status
		if err != nil {
			v.logger.Debug("probe failed", map[string]any{"unit": unit, "error": err.Error()})
		}

		if status == compose.StatusReady {
			rep.Ready = true
			rep.Waited = time.Since(start)
			v.logger.Info("unit healthy", map[string]any{"unit": unit, "polls": rep.Polls})
			return rep
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			rep.Waited = time.Since(start)
			v.logger.Warn("unit not healthy in time", map[string]any{
				"unit":   unit,
				"status": string(status),
				"waited": rep.Waited.String(),
			})
			return rep
		}

		select {
		case <-ctx.Done():
			rep.Waited = time.Since(start)
			return rep
		case <-ticker.C:
		}
	}
}
