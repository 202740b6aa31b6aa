// Package query serves read-only job listings with visibility rules applied.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Request filters a job listing. Filters only ever narrow what the caller may see.
type Request struct {
	Owner         string
	Project       string
	Application   string
	States        []domain.JobState
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	PageSize      int
	Cursor        string
}

// Page is one page of jobs, newest first. NextCursor is empty on the last page.
type Page struct {
	Jobs       []*domain.Job
	NextCursor string
}

type Config struct {
	Jobs     storage.JobStore
	Projects storage.ProjectStore
	Tasks    storage.TaskStore
	Logger   *slog.Logger
}

type Service struct {
	jobs     storage.JobStore
	projects storage.ProjectStore
	tasks    storage.TaskStore
	logger   *slog.Logger
}

func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobs:     cfg.Jobs,
		projects: cfg.Projects,
		tasks:    cfg.Tasks,
		logger:   logger,
	}
}

// List returns the jobs matching req that actor may see.
func (s *Service) List(ctx context.Context, actor domain.Actor, req Request) (*Page, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if req.CreatedAfter != nil && req.CreatedBefore != nil && !req.CreatedAfter.Before(*req.CreatedBefore) {
		return nil, apperrors.Validation("createdAfter", "createdAfter must be before createdBefore")
	}
	for _, state := range req.States {
		if !state.Valid() {
			return nil, apperrors.Validation("state", fmt.Sprintf("unknown job state %q", state))
		}
	}

	cursor, err := storage.DecodeJobCursor(req.Cursor)
	if err != nil {
		return nil, apperrors.Validation("cursor", err.Error())
	}

	visibility, err := s.visibility(ctx, actor)
	if err != nil {
		return nil, err
	}

	jobs, err := s.jobs.ListJobs(ctx, storage.JobFilter{
		Visibility:    visibility,
		Owner:         req.Owner,
		Project:       req.Project,
		Application:   req.Application,
		States:        req.States,
		CreatedAfter:  req.CreatedAfter,
		CreatedBefore: req.CreatedBefore,
		PageSize:      pageSize,
		Cursor:        cursor,
	})
	if err != nil {
		s.logger.Error("Failed to list jobs",
			slog.String("actor", actor.Username),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	page := &Page{Jobs: jobs}
	if len(jobs) > pageSize {
		page.Jobs = jobs[:pageSize]
		last := page.Jobs[pageSize-1]
		page.NextCursor = storage.EncodeJobCursor(&storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID})
	}
	return page, nil
}

// Get returns one job. Jobs the actor may not see are reported as not found.
func (s *Service) Get(ctx context.Context, actor domain.Actor, jobID string) (*domain.Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, apperrors.NotFound("job", jobID)
	}
	if err != nil {
		return nil, err
	}
	visible, err := s.canView(ctx, actor, job)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, apperrors.NotFound("job", jobID)
	}
	return job, nil
}

// Task returns the progress record the worker keeps for a job.
func (s *Service) Task(ctx context.Context, actor domain.Actor, jobID string) (*domain.TaskRecord, error) {
	if _, err := s.Get(ctx, actor, jobID); err != nil {
		return nil, err
	}
	task, err := s.tasks.GetTask(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.NotFound("task", jobID)
	}
	return task, err
}

// visibility is nil for privileged callers.
func (s *Service) visibility(ctx context.Context, actor domain.Actor) (*storage.Visibility, error) {
	if actor.IsPrivileged() {
		return nil, nil
	}
	projects, err := s.projects.ProjectsOf(ctx, actor.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to load projects of %s: %w", actor.Username, err)
	}
	return &storage.Visibility{Username: actor.Username, Projects: projects}, nil
}

func (s *Service) canView(ctx context.Context, actor domain.Actor, job *domain.Job) (bool, error) {
	if actor.IsPrivileged() || job.Owner.CreatedBy == actor.Username {
		return true, nil
	}
	if job.Owner.Project == "" {
		return false, nil
	}
	_, member, err := s.projects.MemberRole(ctx, job.Owner.Project, actor.Username)
	return member, err
}
