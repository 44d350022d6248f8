package container

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// fakeEngine scripts Run results for the tester.
type fakeEngine struct {
	output string
	err    error
	ran    []RunOptions
}

func (f *fakeEngine) Name() string     { return "fake" }
func (f *fakeEngine) Available() bool  { return true }
func (f *fakeEngine) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	return &BuildResult{Tag: opts.Tag}, nil
}
func (f *fakeEngine) Run(ctx context.Context, opts RunOptions) (string, error) {
	f.ran = append(f.ran, opts)
	return f.output, f.err
}
func (f *fakeEngine) RemoveImage(ctx context.Context, ref string) error { return nil }

func TestImageTesterPassing(t *testing.T) {
	eng := &fakeEngine{output: "===== 12 passed in 3.4s ====="}
	tester := NewImageTester(eng, nil)

	report, err := tester.Test(context.Background(), "api:abc123", []string{"pytest", "-q"})
	if err != nil {
		t.Fatalf("Test() error = %v", err)
	}
	if !report.Passed {
		t.Error("expected passing report")
	}
	if len(report.Failures) != 0 {
		t.Errorf("expected no failures, got %v", report.Failures)
	}
	if len(eng.ran) != 1 || eng.ran[0].Image != "api:abc123" {
		t.Errorf("unexpected run calls: %+v", eng.ran)
	}
}

func TestImageTesterPytestFailures(t *testing.T) {
	eng := &fakeEngine{
		output: "FAILED tests/test_models.py::test_create - AssertionError\nFAILED tests/test_views.py::test_list - ValueError\n===== 2 failed, 10 passed =====",
		err:    errors.New("exit status 1"),
	}
	tester := NewImageTester(eng, nil)

	report, err := tester.Test(context.Background(), "db:abc123", []string{"pytest"})
	if err != nil {
		t.Fatalf("Test() error = %v", err)
	}
	if report.Passed {
		t.Error("expected failing report")
	}
	want := []string{"tests/test_models.py::test_create", "tests/test_views.py::test_list"}
	if !reflect.DeepEqual(report.Failures, want) {
		t.Errorf("Failures = %v, want %v", report.Failures, want)
	}
}

func TestImageTesterGoTestFailures(t *testing.T) {
	eng := &fakeEngine{
		output: "--- FAIL: TestHandler (0.02s)\n    handler_test.go:41: status = 500\nFAIL",
		err:    errors.New("exit status 1"),
	}
	tester := NewImageTester(eng, nil)

	report, err := tester.Test(context.Background(), "api:1", []string{"go", "test", "./..."})
	if err != nil {
		t.Fatalf("Test() error = %v", err)
	}
	want := []string{"TestHandler"}
	if !reflect.DeepEqual(report.Failures, want) {
		t.Errorf("Failures = %v, want %v", report.Failures, want)
	}
}

func TestImageTesterUnrecognizedOutput(t *testing.T) {
	eng := &fakeEngine{output: "segmentation fault", err: errors.New("exit status 139")}
	tester := NewImageTester(eng, nil)

	report, err := tester.Test(context.Background(), "api:1", []string{"make", "test"})
	if err != nil {
		t.Fatalf("Test() error = %v", err)
	}
	if report.Passed {
		t.Error("expected failing report")
	}
	if len(report.Failures) != 1 {
		t.Fatalf("expected one generic failure entry, got %v", report.Failures)
	}
}

func TestImageTesterContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := &fakeEngine{err: errors.New("context canceled")}
	tester := NewImageTester(eng, nil)

	if _, err := tester.Test(ctx, "api:1", []string{"pytest"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
