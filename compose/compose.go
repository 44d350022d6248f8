// Package compose manages the deployed set of units through the compose CLI
// of a container engine.
package compose

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/initializ/slipway/config"
	"github.com/initializ/slipway/logging"
)

// ProbeStatus is the observed state of a single unit.
type ProbeStatus string

const (
	StatusReady    ProbeStatus = "ready"
	StatusNotReady ProbeStatus = "not-ready"
	StatusAbsent   ProbeStatus = "absent"
)

// StartError names the unit whose start failed.
type StartError struct {
	Unit string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Unit, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

type runFunc func(ctx context.Context, env []string, args ...string) (string, error)

// Config configures a ServiceSet.
type Config struct {
	// File is the compose file path.
	File string
	// Project overrides the compose project name.
	Project string
	// Engine is the CLI to shell out to, "docker" or "podman".
	Engine string
	// Units lists the managed units in start order.
	Units []config.UnitConfig
	// Logger defaults to a no-op logger.
	Logger logging.Logger
	// HTTPClient is used for health probes. Defaults to a 5s-timeout client.
	HTTPClient *http.Client
}

// ServiceSet drives the compose deployment: stopping and starting the full
// unit set and probing individual units.
type ServiceSet struct {
	file    string
	project string
	engine  string
	units   []config.UnitConfig
	logger  logging.Logger
	client  *http.Client
	run     runFunc
}

func NewServiceSet(cfg Config) *ServiceSet {
	s := &ServiceSet{
		file:    cfg.File,
		project: cfg.Project,
		engine:  cfg.Engine,
		units:   cfg.Units,
		logger:  cfg.Logger,
		client:  cfg.HTTPClient,
	}
	if s.engine == "" {
		s.engine = "docker"
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 5 * time.Second}
	}
	s.run = s.exec
	return s
}

// ImageEnvVar is the environment variable compose files interpolate to pick
// up the image built for a unit, e.g. SLIPWAY_IMAGE_API for unit "api".
func ImageEnvVar(unit string) string {
	return "SLIPWAY_IMAGE_" + strings.ToUpper(strings.ReplaceAll(unit, "-", "_"))
}

func imageEnv(images map[string]string) []string {
	env := make([]string, 0, len(images))
	for unit, ref := range images {
		env = append(env, ImageEnvVar(unit)+"="+ref)
	}
	return env
}

// StopAll takes the whole unit set down. It is idempotent: running it when
// nothing is up exits cleanly.
func (s *ServiceSet) StopAll(ctx context.Context) error {
	s.logger.Info("stopping units", map[string]any{"compose_file": s.file})
	if _, err := s.run(ctx, nil, "down", "--remove-orphans"); err != nil {
		return fmt.Errorf("compose down: %w", err)
	}
	return nil
}

// StartAll starts every unit in declared order with the given image refs. If
// a unit fails to start, the units already started are stopped again and the
// returned error is a *StartError naming the failed unit.
func (s *ServiceSet) StartAll(ctx context.Context, images map[string]string) error {
	env := imageEnv(images)

	var started []string
	for _, u := range s.units {
		s.logger.Info("starting unit", map[string]any{"unit": u.Name, "image": images[u.Name]})
		if _, err := s.run(ctx, env, "up", "-d", "--no-deps", "--no-build", u.Name); err != nil {
			s.rollback(env, started)
			return &StartError{Unit: u.Name, Err: err}
		}
		started = append(started, u.Name)
	}
	return nil
}

// rollback stops the units a failed StartAll already brought up. It runs
// detached from the caller's context so an expired deadline cannot leave
// half a generation running.
func (s *ServiceSet) rollback(env []string, started []string) {
	if len(started) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args := append([]string{"stop"}, started...)
	if _, err := s.run(ctx, env, args...); err != nil {
		s.logger.Warn("rollback stop failed", map[string]any{
			"units": strings.Join(started, ","),
			"error": err.Error(),
		})
	}
}

// Probe reports the state of one unit: absent when no container is running,
// not-ready when the container is up but its health endpoint does not answer
// 2xx, ready otherwise.
func (s *ServiceSet) Probe(ctx context.Context, unit string) (ProbeStatus, error) {
	out, err := s.run(ctx, nil, "ps", "--status", "running", "-q", unit)
	if err != nil {
		return StatusAbsent, fmt.Errorf("compose ps %s: %w", unit, err)
	}
	if strings.TrimSpace(out) == "" {
		return StatusAbsent, nil
	}

	url := s.healthURL(unit)
	if url == "" {
		return StatusAbsent, fmt.Errorf("unit %s has no health url", unit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StatusNotReady, fmt.Errorf("probe %s: %w", unit, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return StatusNotReady, ctx.Err()
		}
		return StatusNotReady, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return StatusReady, nil
	}
	return StatusNotReady, nil
}

// Logs returns the most recent tail lines of output across all units.
func (s *ServiceSet) Logs(ctx context.Context, tail int) (string, error) {
	if tail <= 0 {
		tail = 100
	}
	out, err := s.run(ctx, nil, "logs", "--no-color", "--tail", strconv.Itoa(tail))
	if err != nil {
		return "", fmt.Errorf("compose logs: %w", err)
	}
	return out, nil
}

func (s *ServiceSet) healthURL(unit string) string {
	for _, u := range s.units {
		if u.Name == unit {
			return u.HealthURL
		}
	}
	return ""
}

func (s *ServiceSet) exec(ctx context.Context, env []string, args ...string) (string, error) {
	full := []string{"compose", "-f", s.file}
	if s.project != "" {
		full = append(full, "-p", s.project)
	}
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, s.engine, full...)
	cmd.Env = append(os.Environ(), env...)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return out.String(), nil
}
