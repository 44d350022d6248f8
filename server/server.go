// Package server exposes the deploy pipeline over HTTP: trigger and abort
// endpoints, the persisted run log, a git push webhook, and liveness plus
// metrics probes for the slipway daemon.
package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/initializ/slipway/logging"
	"github.com/initializ/slipway/observe"
	"github.com/initializ/slipway/pipeline"
)

// Deployer triggers and controls pipeline runs. *deploy.Orchestrator
// satisfies it.
type Deployer interface {
	// StartDeploy begins a run without waiting for it and returns the
	// accepted run's snapshot, pipeline.ErrPipelineBusy while another run
	// holds the service set, or pipeline.ErrInvalidInput for a bad trigger.
	StartDeploy(ctx context.Context, revision, environment string) (*pipeline.Run, error)

	// Abort requests cancellation of the active run at the next stage
	// boundary. Returns pipeline.ErrRunNotActive when the ID does not match
	// the in-flight run.
	Abort(runID string) error

	// Active returns the in-flight run ID, if any.
	Active() (string, bool)
}

// RunLog reads the persisted run history. store.Store satisfies it.
type RunLog interface {
	GetRun(ctx context.Context, id string) (*pipeline.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*pipeline.Run, error)
}

// Config carries the server's collaborators.
type Config struct {
	Deployer Deployer
	Runs     RunLog

	// Metrics backs GET /metrics and counts rejected triggers. A fresh
	// registry is used when nil.
	Metrics *observe.Registry

	Logger logging.Logger
}

// New assembles the HTTP API. ctx bounds runs started by triggers, so it
// must be the daemon's lifetime context, not a request context; shutting the
// context down cancels any detached run at its next stage boundary.
func New(ctx context.Context, cfg Config) *echo.Echo {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.NewRegistry()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.OFF)
	e.Use(middleware.Recover())
	e.Use(requestLog(cfg.Logger))

	e.POST("/api/runs", TriggerRunHandler(ctx, cfg.Deployer, cfg.Metrics))
	e.GET("/api/runs", ListRunsHandler(cfg.Runs))
	e.GET("/api/runs/:runId", GetRunHandler(cfg.Runs))
	e.POST("/api/runs/:runId/abort", AbortRunHandler(cfg.Deployer, cfg.Runs))
	e.POST("/hooks/push", PushHookHandler(ctx, cfg.Deployer, cfg.Metrics))
	e.GET("/healthz", HealthzHandler(cfg.Deployer))
	e.GET("/metrics", MetricsHandler(cfg.Metrics))
	return e
}

func requestLog(logger logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			began := time.Now()
			err := next(c)
			fields := map[string]any{
				"method":  c.Request().Method,
				"path":    c.Request().URL.Path,
				"status":  c.Response().Status,
				"elapsed": time.Since(began).String(),
			}
			if err != nil {
				fields["error"] = err.Error()
			}
			logger.Info("http request", fields)
			return err
		}
	}
}
