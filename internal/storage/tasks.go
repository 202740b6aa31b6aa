package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
)

// UpsertTask stores task unless a newer record already exists.
func (s *Storage) UpsertTask(ctx context.Context, task *domain.TaskRecord) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO job_tasks (job_id, state, message, progress, updated_at)
		VALUES (:job_id, :state, :message, :progress, :updated_at)
		ON CONFLICT (job_id) DO UPDATE
		SET state = EXCLUDED.state,
		    message = EXCLUDED.message,
		    progress = EXCLUDED.progress,
		    updated_at = EXCLUDED.updated_at
		WHERE job_tasks.updated_at <= EXCLUDED.updated_at
	`, task)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}

func (s *Storage) GetTask(ctx context.Context, jobID string) (*domain.TaskRecord, error) {
	var task domain.TaskRecord
	err := s.db.GetContext(ctx, &task,
		`SELECT job_id, state, message, progress, updated_at FROM job_tasks WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}
