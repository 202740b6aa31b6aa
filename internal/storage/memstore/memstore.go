// Package memstore implements the storage interfaces in memory. It backs tests and the
// "memory" database driver.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage"
)

type lease struct {
	holder    string
	expiresAt time.Time
}

// Store is safe for concurrent use. Mutations of one job or wallet are serialized.
type Store struct {
	now func() time.Time

	mu       sync.Mutex
	jobs     map[string]*domain.Job
	jobLocks map[string]*sync.Mutex
	wallets  map[string]*domain.Wallet
	walletMu map[string]*sync.Mutex
	ledger   []domain.LedgerEntry
	leases   map[string]lease
	apps     map[string]*domain.Application
	products map[domain.ProductRef]*domain.Product
	members  map[string]map[string]domain.ProjectRole
	bindings map[string]string
	tasks    map[string]*domain.TaskRecord
}

func New() *Store {
	return &Store{
		now:      time.Now,
		jobs:     map[string]*domain.Job{},
		jobLocks: map[string]*sync.Mutex{},
		wallets:  map[string]*domain.Wallet{},
		walletMu: map[string]*sync.Mutex{},
		leases:   map[string]lease{},
		apps:     map[string]*domain.Application{},
		products: map[domain.ProductRef]*domain.Product{},
		members:  map[string]map[string]domain.ProjectRole{},
		bindings: map[string]string{},
		tasks:    map[string]*domain.TaskRecord{},
	}
}

// SetClock replaces the clock used for leases.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

var (
	_ storage.JobStore      = (*Store)(nil)
	_ storage.LedgerStore   = (*Store)(nil)
	_ storage.LeaseStore    = (*Store)(nil)
	_ storage.CatalogStore  = (*Store)(nil)
	_ storage.ProjectStore  = (*Store)(nil)
	_ storage.ResourceStore = (*Store)(nil)
	_ storage.TaskStore     = (*Store)(nil)
)

// Jobs

func (s *Store) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return apperrors.Conflict("job", fmt.Sprintf("job %s already exists", job.ID))
	}
	s.jobs[job.ID] = job.Clone()
	s.jobLocks[job.ID] = &sync.Mutex{}
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *Store) UpdateJob(ctx context.Context, id string, fn storage.JobMutation) (*domain.Job, error) {
	s.mu.Lock()
	lock, ok := s.jobLocks[id]
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.jobs[id] = job.Clone()
	s.mu.Unlock()
	return job, nil
}

func (s *Store) selectJobs(match func(*domain.Job) bool) []*domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Job
	for _, job := range s.jobs {
		if match(job) {
			out = append(out, job.Clone())
		}
	}
	return out
}

func newestFirst(jobs []*domain.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsState(list []domain.JobState, v domain.JobState) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (s *Store) ListJobs(_ context.Context, f storage.JobFilter) ([]*domain.Job, error) {
	jobs := s.selectJobs(func(j *domain.Job) bool {
		if v := f.Visibility; v != nil &&
			j.Owner.CreatedBy != v.Username && !containsString(v.Projects, j.Owner.Project) {
			return false
		}
		if f.Owner != "" && j.Owner.CreatedBy != f.Owner {
			return false
		}
		if f.Project != "" && j.Owner.Project != f.Project {
			return false
		}
		if f.Application != "" && j.Specification.Application.Name != f.Application {
			return false
		}
		if len(f.States) > 0 && !containsState(f.States, j.Status.State) {
			return false
		}
		if f.CreatedAfter != nil && j.CreatedAt.Before(*f.CreatedAfter) {
			return false
		}
		if f.CreatedBefore != nil && !j.CreatedAt.Before(*f.CreatedBefore) {
			return false
		}
		if c := f.Cursor; c != nil {
			if j.CreatedAt.After(c.CreatedAt) {
				return false
			}
			if j.CreatedAt.Equal(c.CreatedAt) && j.ID >= c.JobID {
				return false
			}
		}
		return true
	})
	newestFirst(jobs)
	if len(jobs) > f.PageSize+1 {
		jobs = jobs[:f.PageSize+1]
	}
	return jobs, nil
}

func (s *Store) RecentActiveJobs(_ context.Context, owner domain.Owner, limit int) ([]*domain.Job, error) {
	jobs := s.selectJobs(func(j *domain.Job) bool {
		return j.Owner == owner && !j.Status.State.IsTerminal()
	})
	newestFirst(jobs)
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func oldestUpdateFirst(jobs []*domain.Job, limit int) []*domain.Job {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].UpdatedAt.Before(jobs[j].UpdatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

func (s *Store) StaleJobs(_ context.Context, staleBefore, now time.Time, limit int) ([]*domain.Job, error) {
	jobs := s.selectJobs(func(j *domain.Job) bool {
		if j.Status.State.IsTerminal() {
			return false
		}
		last := j.UpdatedAt
		if j.Reconcile.LastAt != nil && j.Reconcile.LastAt.After(last) {
			last = *j.Reconcile.LastAt
		}
		if !last.Before(staleBefore) {
			return false
		}
		return j.Reconcile.NextAt == nil || !j.Reconcile.NextAt.After(now)
	})
	return oldestUpdateFirst(jobs, limit), nil
}

func (s *Store) OverdueJobs(_ context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	jobs := s.selectJobs(func(j *domain.Job) bool {
		if j.Status.State != domain.JobStateRunning && j.Status.State != domain.JobStateSuspended {
			return false
		}
		deadline, ok := j.ExpiresAt()
		return ok && deadline.Before(now)
	})
	return oldestUpdateFirst(jobs, limit), nil
}

func (s *Store) UnfinalizedJobs(_ context.Context, limit int) ([]*domain.Job, error) {
	jobs := s.selectJobs(func(j *domain.Job) bool {
		return j.Status.State.IsTerminal() && !j.Status.Finalized
	})
	return oldestUpdateFirst(jobs, limit), nil
}

func (s *Store) UnsubmittedJobs(_ context.Context, createdBefore time.Time, limit int) ([]*domain.Job, error) {
	jobs := s.selectJobs(func(j *domain.Job) bool {
		return j.Status.State == domain.JobStateInQueue &&
			!j.Status.SubmittedToProvider &&
			j.CreatedAt.Before(createdBefore)
	})
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// JobCount returns the number of stored jobs.
func (s *Store) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
