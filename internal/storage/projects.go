package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
)

func (s *Storage) MemberRole(ctx context.Context, project, username string) (domain.ProjectRole, bool, error) {
	var role string
	err := s.db.GetContext(ctx, &role,
		`SELECT role FROM project_members WHERE project = $1 AND username = $2`, project, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get project role: %w", err)
	}
	return domain.ProjectRole(role), true, nil
}

func (s *Storage) ProjectsOf(ctx context.Context, username string) ([]string, error) {
	var projects []string
	err := s.db.SelectContext(ctx, &projects,
		`SELECT project FROM project_members WHERE username = $1 ORDER BY project`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}
