package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/initializ/slipway/observe"
	"github.com/initializ/slipway/pipeline"
	"github.com/initializ/slipway/store"
)

type triggerRequest struct {
	Revision    string `json:"revision"`
	Environment string `json:"environment,omitempty"`
}

// TriggerRunHandler accepts a deploy trigger. The response is 202 with the
// accepted run snapshot; the run itself proceeds on runCtx.
func TriggerRunHandler(runCtx context.Context, deployer Deployer, metrics *observe.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := triggerRequest{}
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "request body must be a JSON trigger")
		}

		run, err := deployer.StartDeploy(runCtx, req.Revision, req.Environment)
		if err != nil {
			return triggerError(err, metrics)
		}
		return c.JSON(http.StatusAccepted, run)
	}
}

// PushHookHandler accepts a git push event in the common forge shape
// ({"ref": ..., "after": ...}) and triggers a run for the pushed commit.
// The revision is taken from "after", falling back to "ref" for forges
// that only send the ref name. Deletion pushes carry the zero OID and are
// acknowledged without a run. The target environment, if any, comes from
// the "environment" query parameter configured in the forge's webhook URL.
func PushHookHandler(runCtx context.Context, deployer Deployer, metrics *observe.Registry) echo.HandlerFunc {
	type pushEvent struct {
		Ref   string `json:"ref"`
		After string `json:"after"`
	}

	return func(c echo.Context) error {
		ev := pushEvent{}
		if err := c.Bind(&ev); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "request body must be a JSON push event")
		}

		revision := ev.After
		if revision == "" || zeroOID(revision) {
			if ev.Ref == "" {
				return echo.NewHTTPError(http.StatusBadRequest, `push event carries neither "after" nor "ref"`)
			}
			if revision != "" {
				// Zero OID with a ref is a branch deletion.
				return c.JSON(http.StatusOK, map[string]string{
					"status": "ignored",
					"reason": "deletion push for " + ev.Ref,
				})
			}
			revision = ev.Ref
		}

		run, err := deployer.StartDeploy(runCtx, revision, c.QueryParam("environment"))
		if err != nil {
			return triggerError(err, metrics)
		}
		return c.JSON(http.StatusAccepted, run)
	}
}

func triggerError(err error, metrics *observe.Registry) error {
	switch {
	case errors.Is(err, pipeline.ErrPipelineBusy):
		metrics.Counter(observe.TriggersRejected).Inc()
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func zeroOID(s string) bool {
	for _, r := range s {
		if r != '0' {
			return false
		}
	}
	return true
}

// ListRunsHandler returns the persisted run log, newest first.
func ListRunsHandler(runs RunLog) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 0
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return echo.NewHTTPError(http.StatusBadRequest, `"limit" must be a positive integer`)
			}
			limit = n
		}

		out, err := runs.ListRuns(c.Request().Context(), limit)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, out)
	}
}

// GetRunHandler returns one run by ID.
func GetRunHandler(runs RunLog) echo.HandlerFunc {
	return func(c echo.Context) error {
		runID := c.Param("runId")

		run, err := runs.GetRun(c.Request().Context(), runID)
		if errors.Is(err, store.ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no such run: "+runID)
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, run)
	}
}

// AbortRunHandler requests cancellation of the active run. The abort takes
// effect at the next stage boundary, so the response is 202, not 200.
// A run the log has never seen is 404; a known run that is no longer
// active is 409.
func AbortRunHandler(deployer Deployer, runs RunLog) echo.HandlerFunc {
	return func(c echo.Context) error {
		runID := c.Param("runId")

		if err := deployer.Abort(runID); err != nil {
			if errors.Is(err, pipeline.ErrRunNotActive) {
				if _, lookupErr := runs.GetRun(c.Request().Context(), runID); errors.Is(lookupErr, store.ErrRunNotFound) {
					return echo.NewHTTPError(http.StatusNotFound, "no such run: "+runID)
				}
				return echo.NewHTTPError(http.StatusConflict, err.Error())
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusAccepted, map[string]string{
			"run_id": runID,
			"status": "aborting",
		})
	}
}

// HealthzHandler reports daemon liveness and the in-flight run, if any.
func HealthzHandler(deployer Deployer) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := map[string]string{"status": "ok"}
		if id, ok := deployer.Active(); ok {
			body["active_run"] = id
		}
		return c.JSON(http.StatusOK, body)
	}
}

// MetricsHandler dumps the metrics registry as JSON.
func MetricsHandler(metrics *observe.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, metrics.Snapshot())
	}
}
