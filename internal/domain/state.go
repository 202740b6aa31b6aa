package domain

// JobState is the lifecycle state of a job.
type JobState string

const (
	JobStateInQueue      JobState = "IN_QUEUE"
	JobStateProvisioning JobState = "PROVISIONING"
	JobStateRunning      JobState = "RUNNING"
	JobStateSuspended    JobState = "SUSPENDED"
	JobStateCanceling    JobState = "CANCELING"
	JobStateSuccess      JobState = "SUCCESS"
	JobStateFailure      JobState = "FAILURE"
	JobStateExpired      JobState = "EXPIRED"
)

// AllJobStates lists every state in lifecycle order.
var AllJobStates = []JobState{
	JobStateInQueue,
	JobStateProvisioning,
	JobStateRunning,
	JobStateSuspended,
	JobStateCanceling,
	JobStateSuccess,
	JobStateFailure,
	JobStateExpired,
}

var validTransitions = map[JobState][]JobState{
	JobStateInQueue: {
		JobStateProvisioning, JobStateRunning, JobStateCanceling,
		JobStateSuccess, JobStateFailure, JobStateExpired,
	},
	JobStateProvisioning: {
		JobStateRunning, JobStateCanceling,
		JobStateSuccess, JobStateFailure, JobStateExpired,
	},
	JobStateRunning: {
		JobStateSuspended, JobStateCanceling,
		JobStateSuccess, JobStateFailure, JobStateExpired,
	},
	// IN_QUEUE from SUSPENDED is the explicit restart.
	JobStateSuspended: {
		JobStateInQueue, JobStateCanceling,
		JobStateSuccess, JobStateFailure, JobStateExpired,
	},
	JobStateCanceling: {JobStateSuccess, JobStateFailure},
}

// Valid reports whether s is a known state.
func (s JobState) Valid() bool {
	for _, known := range AllJobStates {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s JobState) IsTerminal() bool {
	return s == JobStateSuccess || s == JobStateFailure || s == JobStateExpired
}

// CanTransitionTo reports whether s -> next is an edge of the state machine.
func (s JobState) CanTransitionTo(next JobState) bool {
	for _, candidate := range validTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// DefaultMessage is used when a transition arrives without a message.
func (s JobState) DefaultMessage() string {
	switch s {
	case JobStateInQueue:
		return "Job is waiting in the queue"
	case JobStateProvisioning:
		return "Job is being provisioned"
	case JobStateRunning:
		return "Job is now running"
	case JobStateSuspended:
		return "Job has been suspended"
	case JobStateCanceling:
		return "Job is being cancelled"
	case JobStateSuccess:
		return "Job has completed successfully"
	case JobStateFailure:
		return "Job has failed"
	case JobStateExpired:
		return "Job has exceeded its time allocation"
	default:
		return "Job state changed"
	}
}

// ValidPath reports whether the sequence of states is a walk through the state machine.
// Repeated states are not allowed.
func ValidPath(states []JobState) bool {
	for i := 1; i < len(states); i++ {
		if !states[i-1].CanTransitionTo(states[i]) {
			return false
		}
	}
	return true
}
