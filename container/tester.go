package container

import (
	"context"
	"strings"

	"github.com/initializ/slipway/logging"
)

// TestReport holds the outcome of running a unit's test command inside its
// freshly built image.
type TestReport struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
	Output   string   `json:"output,omitempty"`
}

// ImageTester runs test commands in disposable containers.
type ImageTester struct {
	engine Engine
	logger logging.Logger
}

func NewImageTester(engine Engine, logger logging.Logger) *ImageTester {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ImageTester{engine: engine, logger: logger}
}

// Test runs command in a one-shot container of image. A non-zero exit is a
// test failure, not a transport error: the report carries the failing test
// identifiers scraped from the output and err is nil.
func (t *ImageTester) Test(ctx context.Context, image string, command []string) (*TestReport, error) {
	t.logger.Debug("running tests", map[string]any{"image": image, "command": strings.Join(command, " ")})

	out, err := t.engine.Run(ctx, RunOptions{Image: image, Command: command})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &TestReport{Passed: false, Failures: extractFailures(out), Output: out}, nil
	}
	return &TestReport{Passed: true, Output: out}, nil
}

// extractFailures pulls failing test identifiers out of runner output. It
// understands the pytest summary format ("FAILED path::test - reason") and
// go test's ("--- FAIL: TestName"); anything unrecognized yields a single
// generic entry so a failure never reports an empty list.
func extractFailures(output string) []string {
	var failures []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "FAILED "):
			failures = append(failures, trimSummary(strings.TrimPrefix(line, "FAILED ")))
		case strings.HasPrefix(line, "ERROR ") && strings.Contains(line, "::"):
			failures = append(failures, trimSummary(strings.TrimPrefix(line, "ERROR ")))
		case strings.HasPrefix(line, "--- FAIL: "):
			name := strings.TrimPrefix(line, "--- FAIL: ")
			if idx := strings.IndexByte(name, ' '); idx > 0 {
				name = name[:idx]
			}
			failures = append(failures, name)
		}
	}
	if len(failures) == 0 {
		failures = append(failures, "test command exited non-zero")
	}
	return failures
}

func trimSummary(s string) string {
	if idx := strings.Index(s, " - "); idx > 0 {
		return s[:idx]
	}
	return s
}
