package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage/memstore"
	"github.com/cuongbtq/ucloud-orchestrator/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func seed(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.AddMember("p1", "alice", domain.ProjectRoleUser)
	store.AddMember("p1", "bob", domain.ProjectRolePI)

	jobs := []struct {
		id      string
		owner   domain.Owner
		app     string
		state   domain.JobState
		created time.Time
	}{
		{"j1", domain.Owner{CreatedBy: "alice"}, "alpha", domain.JobStateRunning, base},
		{"j2", domain.Owner{CreatedBy: "alice"}, "beta", domain.JobStateSuccess, base.Add(time.Minute)},
		{"j3", domain.Owner{CreatedBy: "bob", Project: "p1"}, "alpha", domain.JobStateInQueue, base.Add(2 * time.Minute)},
		{"j4", domain.Owner{CreatedBy: "bob"}, "alpha", domain.JobStateFailure, base.Add(3 * time.Minute)},
		{"j5", domain.Owner{CreatedBy: "carol", Project: "p2"}, "alpha", domain.JobStateRunning, base.Add(3 * time.Minute)},
	}
	for _, j := range jobs {
		require.NoError(t, store.CreateJob(context.Background(), &domain.Job{
			ID:    j.id,
			Owner: j.owner,
			Specification: domain.JobSpecification{
				Application: domain.ApplicationRef{Name: j.app, Version: "1.0"},
				Replicas:    1,
			},
			Status:    domain.JobStatus{State: j.state},
			CreatedAt: j.created,
			UpdatedAt: j.created,
		}))
	}
	return New(Config{Jobs: store, Projects: store, Tasks: store, Logger: logger.Discard()}), store
}

func ids(jobs []*domain.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

func TestList_Visibility(t *testing.T) {
	svc, _ := seed(t)

	tests := []struct {
		name  string
		actor domain.Actor
		want  []string
	}{
		{"owner and project member", domain.Actor{Username: "alice", Role: domain.RoleUser}, []string{"j3", "j2", "j1"}},
		{"own jobs only", domain.Actor{Username: "bob", Role: domain.RoleUser}, []string{"j4", "j3"}},
		{"stranger", domain.Actor{Username: "mallory", Role: domain.RoleUser}, []string{}},
		{"admin sees everything", domain.Actor{Username: "root", Role: domain.RoleAdmin}, []string{"j5", "j4", "j3", "j2", "j1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := svc.List(context.Background(), tt.actor, Request{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(page.Jobs))
			assert.Empty(t, page.NextCursor)
		})
	}
}

func TestList_Filters(t *testing.T) {
	svc, _ := seed(t)
	admin := domain.Actor{Username: "root", Role: domain.RoleAdmin}
	after := base.Add(30 * time.Second)
	before := base.Add(3 * time.Minute)

	tests := []struct {
		name string
		req  Request
		want []string
	}{
		{"by owner", Request{Owner: "alice"}, []string{"j2", "j1"}},
		{"by project", Request{Project: "p1"}, []string{"j3"}},
		{"by application", Request{Application: "beta"}, []string{"j2"}},
		{"by states", Request{States: []domain.JobState{domain.JobStateRunning, domain.JobStateInQueue}}, []string{"j5", "j3", "j1"}},
		{"by date range", Request{CreatedAfter: &after, CreatedBefore: &before}, []string{"j3", "j2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := svc.List(context.Background(), admin, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(page.Jobs))
		})
	}
}

func TestList_Pagination(t *testing.T) {
	svc, _ := seed(t)
	admin := domain.Actor{Username: "root", Role: domain.RoleAdmin}

	var seen []string
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		page, err := svc.List(context.Background(), admin, Request{PageSize: 2, Cursor: cursor})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page.Jobs), 2)
		seen = append(seen, ids(page.Jobs)...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []string{"j5", "j4", "j3", "j2", "j1"}, seen)
}

func TestList_RejectsBadRequests(t *testing.T) {
	svc, _ := seed(t)
	alice := domain.Actor{Username: "alice", Role: domain.RoleUser}
	after := base.Add(time.Hour)

	tests := []struct {
		name string
		req  Request
	}{
		{"garbage cursor", Request{Cursor: "!!!"}},
		{"unknown state", Request{States: []domain.JobState{"DONE"}}},
		{"inverted range", Request{CreatedAfter: &after, CreatedBefore: &base}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.List(context.Background(), alice, tt.req)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestList_PageSizeIsCapped(t *testing.T) {
	store := memstore.New()
	for i := 0; i < MaxPageSize+5; i++ {
		require.NoError(t, store.CreateJob(context.Background(), &domain.Job{
			ID:        fmt.Sprintf("job-%03d", i),
			Owner:     domain.Owner{CreatedBy: "alice"},
			Status:    domain.JobStatus{State: domain.JobStateRunning},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	svc := New(Config{Jobs: store, Projects: store, Tasks: store, Logger: logger.Discard()})

	page, err := svc.List(context.Background(), domain.Actor{Username: "alice", Role: domain.RoleUser}, Request{PageSize: 1000})
	require.NoError(t, err)
	assert.Len(t, page.Jobs, MaxPageSize)
	assert.NotEmpty(t, page.NextCursor)
}

func TestGet(t *testing.T) {
	svc, _ := seed(t)

	job, err := svc.Get(context.Background(), domain.Actor{Username: "alice", Role: domain.RoleUser}, "j3")
	require.NoError(t, err)
	assert.Equal(t, "bob", job.Owner.CreatedBy)

	_, err = svc.Get(context.Background(), domain.Actor{Username: "alice", Role: domain.RoleUser}, "j4")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.Get(context.Background(), domain.Actor{Username: "alice", Role: domain.RoleUser}, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTask(t *testing.T) {
	svc, store := seed(t)
	alice := domain.Actor{Username: "alice", Role: domain.RoleUser}

	_, err := svc.Task(context.Background(), alice, "j1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, store.UpsertTask(context.Background(), &domain.TaskRecord{
		JobID:     "j1",
		State:     string(domain.JobStateRunning),
		Message:   "Job is now running",
		UpdatedAt: base,
	}))
	task, err := svc.Task(context.Background(), alice, "j1")
	require.NoError(t, err)
	assert.Equal(t, "Job is now running", task.Message)
}
