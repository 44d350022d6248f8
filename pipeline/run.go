package pipeline

import "time"

// Status is the lifecycle state of a Run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome is the exit condition of one stage within a run.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// StageResult records the outcome of one stage. Results are appended to the
// run's log in ordinal order and never mutated afterwards.
type StageResult struct {
	Stage      string    `json:"stage"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    Outcome   `json:"outcome"`
	Output     string    `json:"output,omitempty"`
	Retries    int       `json:"retries,omitempty"`
}

// Duration returns the wall-clock time the stage took.
func (sr StageResult) Duration() time.Duration {
	return sr.FinishedAt.Sub(sr.StartedAt)
}

// Run is one end-to-end execution of the stage sequence for a revision.
// It is mutated only by the Runner advancing through stages and becomes
// immutable once Status is terminal.
type Run struct {
	ID          string        `json:"id"`
	Revision    string        `json:"revision"`
	Environment string        `json:"environment,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	StageIndex  int           `json:"stage_index"`
	Status      Status        `json:"status"`
	Results     []StageResult `json:"results"`

	// Artifacts maps unit names to the image refs promoted by the build
	// stage. Empty while no build has fully succeeded.
	Artifacts map[string]string `json:"artifacts,omitempty"`

	Error       string   `json:"error,omitempty"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Terminal reports whether the run has finished, successfully or not.
func (r *Run) Terminal() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

// Result returns the recorded result for the named stage.
func (r *Run) Result(stage string) (StageResult, bool) {
	for _, res := range r.Results {
		if res.Stage == stage {
			return res, true
		}
	}
	return StageResult{}, false
}
