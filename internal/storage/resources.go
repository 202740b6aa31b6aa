package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/jmoiron/sqlx"
)

// BindResources binds every resource to jobID or none of them.
func (s *Storage) BindResources(ctx context.Context, jobID string, resources []domain.ResourceValue) error {
	if len(resources) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, r := range resources {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO resource_bindings (resource_id, kind, job_id, bound_at) VALUES ($1, $2, $3, $4)`,
				r.ID, string(r.ResourceKind), jobID, s.now(),
			)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s %s", domain.ErrAlreadyBound, r.ResourceKind, r.ID)
				}
				return fmt.Errorf("failed to bind resource: %w", err)
			}
		}
		return nil
	})
}

func (s *Storage) UnbindResources(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resource_bindings WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to unbind resources: %w", err)
	}
	return nil
}

func (s *Storage) BoundTo(ctx context.Context, resourceID string) (string, bool, error) {
	var jobID string
	err := s.db.GetContext(ctx, &jobID, `SELECT job_id FROM resource_bindings WHERE resource_id = $1`, resourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to look up resource binding: %w", err)
	}
	return jobID, true, nil
}
