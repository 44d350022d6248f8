package pipeline

// EventKind discriminates run progress events.
type EventKind int

const (
	EventStageStarted EventKind = iota
	EventStageFinished
	EventRunFinished
)

// Event is a point-in-time progress notification. Events carry copies, not
// references, so observers may consume them from other goroutines while the
// run advances.
type Event struct {
	Kind    EventKind
	RunID   string
	Stage   string
	Index   int
	Total   int
	Outcome Outcome
	Retries int
	Status  Status
	Err     string
}

// Observer receives progress events. It is called synchronously from the
// run's goroutine and must return quickly.
type Observer func(Event)
