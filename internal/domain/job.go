package domain

import (
	"fmt"
	"time"
)

// SimpleDuration is a wall-time allocation as entered by users.
type SimpleDuration struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

func (d SimpleDuration) Duration() time.Duration {
	return time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second
}

// DurationOf converts d, truncated to whole seconds.
func DurationOf(d time.Duration) SimpleDuration {
	total := int(d / time.Second)
	return SimpleDuration{Hours: total / 3600, Minutes: (total % 3600) / 60, Seconds: total % 60}
}

func (d SimpleDuration) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", d.Hours, d.Minutes, d.Seconds)
}

// Owner identifies who a job belongs to.
type Owner struct {
	CreatedBy string `json:"createdBy"`
	Project   string `json:"project,omitempty"`
}

// WalletID is the accounting wallet charged for jobs of this owner.
func (o Owner) WalletID() string {
	if o.Project != "" {
		return "project:" + o.Project
	}
	return "user:" + o.CreatedBy
}

// JobSpecification is the immutable request a job was created from.
type JobSpecification struct {
	Name              string          `json:"name,omitempty"`
	Application       ApplicationRef  `json:"application"`
	Product           ProductRef      `json:"product"`
	Replicas          int             `json:"replicas"`
	TimeAllocation    *SimpleDuration `json:"timeAllocation,omitempty"`
	Parameters        Parameters      `json:"parameters"`
	Resources         Resources       `json:"resources"`
	AllowDuplicateJob bool            `json:"allowDuplicateJob,omitempty"`
}

// JobUpdate is one entry of a job's status history. State is empty for plain status messages.
type JobUpdate struct {
	Timestamp time.Time `json:"timestamp"`
	State     JobState  `json:"state,omitempty"`
	Status    string    `json:"status"`
}

// Replica holds provider side identifiers for one rank of a job.
type Replica struct {
	Rank          int    `json:"rank"`
	ProviderJobID string `json:"providerJobId,omitempty"`
	Node          string `json:"node,omitempty"`
}

// JobStatus is the mutable part of a job.
type JobStatus struct {
	State               JobState        `json:"state"`
	StartedAt           *time.Time      `json:"startedAt,omitempty"`
	AllocatedTime       *SimpleDuration `json:"allocatedTime,omitempty"`
	OutputFolder        string          `json:"outputFolder,omitempty"`
	Replicas            []Replica       `json:"replicas,omitempty"`
	PricePerMinute      int64           `json:"pricePerMinute"`
	SubmittedToProvider bool            `json:"submittedToProvider"`
	OutputExported      bool            `json:"outputExported"`
	Finalized           bool            `json:"finalized"`
}

// ReconcileInfo is the reconciliation bookkeeping for a job.
type ReconcileInfo struct {
	Attempts int        `json:"attempts"`
	NextAt   *time.Time `json:"nextAt,omitempty"`
	LastAt   *time.Time `json:"lastAt,omitempty"`
}

// Job is the central entity tracked through the state machine.
type Job struct {
	ID            string           `json:"id"`
	Owner         Owner            `json:"owner"`
	Specification JobSpecification `json:"specification"`
	Status        JobStatus        `json:"status"`
	Updates       []JobUpdate      `json:"updates"`
	Reconcile     ReconcileInfo    `json:"-"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Provider returns the id of the provider that owns the job.
func (j *Job) Provider() string {
	return j.Specification.Product.Provider
}

// CheckOwner returns ErrNotOwner unless provider owns j.
func (j *Job) CheckOwner(provider string) error {
	if provider == "" || j.Provider() != provider {
		return fmt.Errorf("%w: job %s belongs to %q, not %q", ErrNotOwner, j.ID, j.Provider(), provider)
	}
	return nil
}

// Transition moves j to next and records the update.
func (j *Job) Transition(next JobState, message string, at time.Time) error {
	if !next.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownState, next)
	}
	current := j.Status.State
	switch {
	case current.IsTerminal():
		return fmt.Errorf("%w: %s is final, refusing %s", ErrTerminalState, current, next)
	case current == next:
		return fmt.Errorf("%w: %s", ErrDuplicateState, next)
	case !current.CanTransitionTo(next):
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	if message == "" {
		message = next.DefaultMessage()
	}
	j.Status.State = next
	if next == JobStateRunning && j.Status.StartedAt == nil {
		started := at
		j.Status.StartedAt = &started
	}
	j.Updates = append(j.Updates, JobUpdate{Timestamp: at, State: next, Status: message})
	j.UpdatedAt = at
	return nil
}

// AddStatus records a message without changing state.
func (j *Job) AddStatus(message string, at time.Time) error {
	if j.Status.State.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, j.Status.State)
	}
	j.Updates = append(j.Updates, JobUpdate{Timestamp: at, Status: message})
	j.UpdatedAt = at
	return nil
}

// StateHistory returns the states recorded in the update log, in order.
func (j *Job) StateHistory() []JobState {
	var states []JobState
	for _, u := range j.Updates {
		if u.State != "" {
			states = append(states, u.State)
		}
	}
	return states
}

// LastStateChangeAt returns when the current state was entered.
func (j *Job) LastStateChangeAt() time.Time {
	for i := len(j.Updates) - 1; i >= 0; i-- {
		if j.Updates[i].State != "" {
			return j.Updates[i].Timestamp
		}
	}
	return j.CreatedAt
}

// ExpiresAt returns the wall-time deadline of a started job.
func (j *Job) ExpiresAt() (time.Time, bool) {
	if j.Status.StartedAt == nil || j.Status.AllocatedTime == nil {
		return time.Time{}, false
	}
	return j.Status.StartedAt.Add(j.Status.AllocatedTime.Duration()), true
}

// ElapsedSince returns the wall time consumed by a started job up to now.
func (j *Job) ElapsedSince(now time.Time) time.Duration {
	if j.Status.StartedAt == nil || now.Before(*j.Status.StartedAt) {
		return 0
	}
	return now.Sub(*j.Status.StartedAt)
}

// Clone returns a deep enough copy for callers that must not share slices.
func (j *Job) Clone() *Job {
	c := *j
	c.Updates = append([]JobUpdate(nil), j.Updates...)
	c.Status.Replicas = append([]Replica(nil), j.Status.Replicas...)
	if j.Status.StartedAt != nil {
		started := *j.Status.StartedAt
		c.Status.StartedAt = &started
	}
	if j.Status.AllocatedTime != nil {
		allocated := *j.Status.AllocatedTime
		c.Status.AllocatedTime = &allocated
	}
	return &c
}
