package domain

import "time"

// EventKind classifies job events published to subscribers.
type EventKind string

const (
	EventSubmitted    EventKind = "submitted"
	EventStateChanged EventKind = "state_changed"
	EventStatus       EventKind = "status"
	EventFinalized    EventKind = "finalized"
)

// JobEvent is fanned out after a job mutation commits.
type JobEvent struct {
	Kind      EventKind `json:"kind"`
	JobID     string    `json:"job_id"`
	Owner     string    `json:"owner"`
	Project   string    `json:"project,omitempty"`
	Provider  string    `json:"provider"`
	State     JobState  `json:"state"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewJobEvent builds an event describing the latest state of job.
func NewJobEvent(kind EventKind, job *Job, message string, at time.Time) JobEvent {
	return JobEvent{
		Kind:      kind,
		JobID:     job.ID,
		Owner:     job.Owner.CreatedBy,
		Project:   job.Owner.Project,
		Provider:  job.Provider(),
		State:     job.Status.State,
		Message:   message,
		Timestamp: at,
	}
}

// TaskRecord tracks the latest progress of a job for subscribers. It is not authoritative.
type TaskRecord struct {
	JobID     string    `json:"job_id" db:"job_id"`
	State     string    `json:"state" db:"state"`
	Message   string    `json:"message" db:"message"`
	Progress  int       `json:"progress" db:"progress"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
