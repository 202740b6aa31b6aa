package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from JobState
		to   JobState
		want bool
	}{
		{JobStateInQueue, JobStateRunning, true},
		{JobStateInQueue, JobStateProvisioning, true},
		{JobStateProvisioning, JobStateRunning, true},
		{JobStateRunning, JobStateSuccess, true},
		{JobStateRunning, JobStateCanceling, true},
		{JobStateCanceling, JobStateSuccess, true},
		{JobStateCanceling, JobStateFailure, true},
		{JobStateSuspended, JobStateInQueue, true},
		{JobStateRunning, JobStateInQueue, false},
		{JobStateRunning, JobStateProvisioning, false},
		{JobStateCanceling, JobStateRunning, false},
		{JobStateCanceling, JobStateExpired, false},
		{JobStateSuccess, JobStateRunning, false},
		{JobStateFailure, JobStateSuccess, false},
		{JobStateExpired, JobStateFailure, false},
		{JobStateRunning, JobStateRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestJobState_CancelingReachableFromEveryActiveState(t *testing.T) {
	for _, s := range AllJobStates {
		if s.IsTerminal() || s == JobStateCanceling {
			continue
		}
		assert.True(t, s.CanTransitionTo(JobStateCanceling), "from %s", s)
	}
}

func TestJobState_TerminalStatesHaveNoEdges(t *testing.T) {
	for _, s := range AllJobStates {
		if !s.IsTerminal() {
			continue
		}
		for _, next := range AllJobStates {
			assert.False(t, s.CanTransitionTo(next), "%s -> %s", s, next)
		}
	}
}

func newTestJob() *Job {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &Job{
		ID:    "job-1",
		Owner: Owner{CreatedBy: "alice"},
		Specification: JobSpecification{
			Application: ApplicationRef{Name: "alpha", Version: "1.0"},
			Product:     ProductRef{ID: "u1-standard", Category: "u1", Provider: "k8s"},
			Replicas:    1,
		},
		Status:    JobStatus{State: JobStateInQueue},
		Updates:   []JobUpdate{{Timestamp: created, State: JobStateInQueue, Status: "submitted"}},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestJob_Transition(t *testing.T) {
	job := newTestJob()
	at := job.CreatedAt.Add(time.Minute)

	require.NoError(t, job.Transition(JobStateRunning, "", at))
	assert.Equal(t, JobStateRunning, job.Status.State)
	require.NotNil(t, job.Status.StartedAt)
	assert.Equal(t, at, *job.Status.StartedAt)
	assert.Equal(t, JobStateRunning.DefaultMessage(), job.Updates[len(job.Updates)-1].Status)

	err := job.Transition(JobStateRunning, "again", at)
	assert.ErrorIs(t, err, ErrDuplicateState)

	err = job.Transition(JobStateInQueue, "back", at)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, job.Transition(JobStateSuccess, "done", at.Add(time.Minute)))
	err = job.Transition(JobStateRunning, "late", at.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrTerminalState)
	assert.True(t, IsDiscardable(err))

	err = job.AddStatus("late message", at)
	assert.ErrorIs(t, err, ErrTerminalState)

	history := job.StateHistory()
	assert.Equal(t, []JobState{JobStateInQueue, JobStateRunning, JobStateSuccess}, history)
	assert.True(t, ValidPath(history))
}

func TestJob_TransitionUnknownState(t *testing.T) {
	job := newTestJob()
	err := job.Transition(JobState("DANCING"), "", time.Now())
	assert.ErrorIs(t, err, ErrUnknownState)
	assert.Equal(t, JobStateInQueue, job.Status.State)
}

func TestJob_CheckOwner(t *testing.T) {
	job := newTestJob()
	assert.NoError(t, job.CheckOwner("k8s"))
	assert.ErrorIs(t, job.CheckOwner("slurm"), ErrNotOwner)
	assert.ErrorIs(t, job.CheckOwner(""), ErrNotOwner)
}

func TestJob_ExpiresAt(t *testing.T) {
	job := newTestJob()
	_, ok := job.ExpiresAt()
	assert.False(t, ok)

	started := job.CreatedAt
	job.Status.StartedAt = &started
	job.Status.AllocatedTime = &SimpleDuration{Hours: 1, Minutes: 30}
	deadline, ok := job.ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, started.Add(90*time.Minute), deadline)
	assert.Equal(t, 10*time.Minute, job.ElapsedSince(started.Add(10*time.Minute)))
}

func TestValidPath(t *testing.T) {
	assert.True(t, ValidPath([]JobState{JobStateInQueue, JobStateRunning, JobStateCanceling, JobStateSuccess}))
	assert.False(t, ValidPath([]JobState{JobStateInQueue, JobStateSuccess, JobStateRunning}))
	assert.True(t, ValidPath(nil))
}
