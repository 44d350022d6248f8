// Package store persists the run log in SQLite. Every run is kept as a JSON
// document keyed by run ID; records are only ever inserted or overwritten
// with a newer snapshot of the same run, never deleted.
package store

import (
	"context"
	"errors"

	"github.com/initializ/slipway/pipeline"
)

// ErrRunNotFound reports a lookup for a run ID that was never recorded.
var ErrRunNotFound = errors.New("run not found")

// Store is the persisted run log.
type Store interface {
	// Save inserts or refreshes the run snapshot. It satisfies
	// pipeline.Recorder so the runner can persist mid-run progress.
	Save(ctx context.Context, run *pipeline.Run) error

	// GetRun returns one run by ID, or ErrRunNotFound.
	GetRun(ctx context.Context, id string) (*pipeline.Run, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*pipeline.Run, error)

	// LastSucceeded returns the most recent succeeded run, or ErrRunNotFound
	// when no run has succeeded yet.
	LastSucceeded(ctx context.Context) (*pipeline.Run, error)

	Close() error
}
