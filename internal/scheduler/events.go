package scheduler

import (
	"ranktrack/internal/models"
	"ranktrack/internal/trend"
)

// TargetOutcome is the per-target payload of a completed job: the recorded
// observation and its movement against the previous successful one.
type TargetOutcome struct {
	Observation models.Observation
	Movement    trend.Movement
}

// Listener receives scheduler progress events. Callbacks run on scheduler
// goroutines and must not block; a UI shell adapts them onto whatever event
// mechanism it uses.
type Listener interface {
	JobQueued(job *Job)
	JobStarted(job *Job)
	JobCompleted(job *Job, outcomes map[uint]TargetOutcome)
	JobFailed(job *Job, err error, willRetry bool)
	StateChanged(from, to State)
}

// NopListener discards all events.
type NopListener struct{}

func (NopListener) JobQueued(*Job)                            {}
func (NopListener) JobStarted(*Job)                           {}
func (NopListener) JobCompleted(*Job, map[uint]TargetOutcome) {}
func (NopListener) JobFailed(*Job, error, bool)               {}
func (NopListener) StateChanged(State, State)                 {}
