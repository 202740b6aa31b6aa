package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
)

// Leases

func (s *Store) AcquireLease(_ context.Context, name, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	current, ok := s.leases[name]
	if ok && current.holder != holder && now.Before(current.expiresAt) {
		return false, nil
	}
	s.leases[name] = lease{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *Store) ReleaseLease(_ context.Context, name, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.leases[name]; ok && current.holder == holder {
		delete(s.leases, name)
	}
	return nil
}

// Catalog

func (s *Store) PutApplication(app domain.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.Ref().String()] = &app
}

func (s *Store) GetApplication(_ context.Context, name, version string) (*domain.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[domain.ApplicationRef{Name: name, Version: version}.String()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *app
	return &c, nil
}

func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ProductRef] = &p
}

func (s *Store) GetProduct(_ context.Context, ref domain.ProductRef) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *p
	return &c, nil
}

// Projects

func (s *Store) AddMember(project, username string, role domain.ProjectRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[project] == nil {
		s.members[project] = map[string]domain.ProjectRole{}
	}
	s.members[project][username] = role
}

func (s *Store) MemberRole(_ context.Context, project, username string) (domain.ProjectRole, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.members[project][username]
	return role, ok, nil
}

func (s *Store) ProjectsOf(_ context.Context, username string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for project, members := range s.members {
		if _, ok := members[username]; ok {
			out = append(out, project)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Resources

func (s *Store) BindResources(_ context.Context, jobID string, resources []domain.ResourceValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range resources {
		if _, ok := s.bindings[r.ID]; ok {
			return fmt.Errorf("%w: %s %s", domain.ErrAlreadyBound, r.ResourceKind, r.ID)
		}
	}
	for _, r := range resources {
		s.bindings[r.ID] = jobID
	}
	return nil
}

func (s *Store) UnbindResources(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, bound := range s.bindings {
		if bound == jobID {
			delete(s.bindings, id)
		}
	}
	return nil
}

func (s *Store) BoundTo(_ context.Context, resourceID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobID, ok := s.bindings[resourceID]
	return jobID, ok, nil
}

// Tasks

func (s *Store) UpsertTask(_ context.Context, task *domain.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.tasks[task.JobID]; ok && current.UpdatedAt.After(task.UpdatedAt) {
		return nil
	}
	c := *task
	s.tasks[task.JobID] = &c
	return nil
}

func (s *Store) GetTask(_ context.Context, jobID string) (*domain.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *task
	return &c, nil
}
