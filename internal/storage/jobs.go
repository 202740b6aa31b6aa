package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const jobColumns = `
	id, created_by, project, provider, application_name, application_version,
	product_id, product_category, state, specification, status,
	reconcile_attempts, next_reconcile_at, last_reconciled_at, created_at, updated_at`

var terminalStates = []string{
	string(domain.JobStateSuccess),
	string(domain.JobStateFailure),
	string(domain.JobStateExpired),
}

type jobRow struct {
	ID                 string         `db:"id"`
	CreatedBy          string         `db:"created_by"`
	Project            sql.NullString `db:"project"`
	Provider           string         `db:"provider"`
	ApplicationName    string         `db:"application_name"`
	ApplicationVersion string         `db:"application_version"`
	ProductID          string         `db:"product_id"`
	ProductCategory    string         `db:"product_category"`
	State              string         `db:"state"`
	Specification      []byte         `db:"specification"`
	Status             []byte         `db:"status"`
	ReconcileAttempts  int            `db:"reconcile_attempts"`
	NextReconcileAt    sql.NullTime   `db:"next_reconcile_at"`
	LastReconciledAt   sql.NullTime   `db:"last_reconciled_at"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

type updateRow struct {
	JobID     string    `db:"job_id"`
	Seq       int       `db:"seq"`
	CreatedAt time.Time `db:"created_at"`
	State     string    `db:"state"`
	Status    string    `db:"status"`
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func newJobRow(job *domain.Job) (*jobRow, error) {
	spec, err := json.Marshal(job.Specification)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal specification: %w", err)
	}
	status, err := json.Marshal(job.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}
	return &jobRow{
		ID:                 job.ID,
		CreatedBy:          job.Owner.CreatedBy,
		Project:            sql.NullString{String: job.Owner.Project, Valid: job.Owner.Project != ""},
		Provider:           job.Provider(),
		ApplicationName:    job.Specification.Application.Name,
		ApplicationVersion: job.Specification.Application.Version,
		ProductID:          job.Specification.Product.ID,
		ProductCategory:    job.Specification.Product.Category,
		State:              string(job.Status.State),
		Specification:      spec,
		Status:             status,
		ReconcileAttempts:  job.Reconcile.Attempts,
		NextReconcileAt:    nullTime(job.Reconcile.NextAt),
		LastReconciledAt:   nullTime(job.Reconcile.LastAt),
		CreatedAt:          job.CreatedAt,
		UpdatedAt:          job.UpdatedAt,
	}, nil
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		ID:        r.ID,
		Owner:     domain.Owner{CreatedBy: r.CreatedBy, Project: r.Project.String},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Reconcile: domain.ReconcileInfo{
			Attempts: r.ReconcileAttempts,
			NextAt:   timePtr(r.NextReconcileAt),
			LastAt:   timePtr(r.LastReconciledAt),
		},
	}
	if err := json.Unmarshal(r.Specification, &job.Specification); err != nil {
		return nil, fmt.Errorf("failed to decode specification of job %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.Status, &job.Status); err != nil {
		return nil, fmt.Errorf("failed to decode status of job %s: %w", r.ID, err)
	}
	job.Status.State = domain.JobState(r.State)
	return job, nil
}

func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	row, err := newJobRow(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `
		) VALUES (
			:id, :created_by, :project, :provider, :application_name, :application_version,
			:product_id, :product_category, :state, :specification, :status,
			:reconcile_attempts, :next_reconcile_at, :last_reconciled_at, :created_at, :updated_at
		)
	`

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			if isUniqueViolation(err) {
				return apperrors.Conflict("job", fmt.Sprintf("job %s already exists", job.ID))
			}
			return fmt.Errorf("failed to create job: %w", err)
		}
		return insertUpdates(ctx, tx, job.ID, 0, job.Updates)
	})
}

func (s *Storage) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	jobs, err := s.withUpdates(ctx, s.db, []jobRow{row})
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

func (s *Storage) UpdateJob(ctx context.Context, id string, fn JobMutation) (*domain.Job, error) {
	var updated *domain.Job

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row jobRow
		err := tx.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrJobNotFound
			}
			return fmt.Errorf("failed to lock job: %w", err)
		}

		jobs, err := s.withUpdates(ctx, tx, []jobRow{row})
		if err != nil {
			return err
		}
		job := jobs[0]
		before := len(job.Updates)

		if err := fn(job); err != nil {
			return err
		}

		next, err := newJobRow(job)
		if err != nil {
			return err
		}
		query := `
			UPDATE jobs
			SET state = :state,
				status = :status,
				reconcile_attempts = :reconcile_attempts,
				next_reconcile_at = :next_reconcile_at,
				last_reconciled_at = :last_reconciled_at,
				updated_at = :updated_at
			WHERE id = :id
		`
		if _, err := tx.NamedExecContext(ctx, query, next); err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}

		if err := insertUpdates(ctx, tx, id, before, job.Updates[before:]); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func insertUpdates(ctx context.Context, tx *sqlx.Tx, jobID string, offset int, updates []domain.JobUpdate) error {
	for i, u := range updates {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO job_updates (job_id, seq, created_at, state, status) VALUES ($1, $2, $3, $4, $5)`,
			jobID, offset+i, u.Timestamp, string(u.State), u.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to record job update: %w", err)
		}
	}
	return nil
}

// withUpdates decodes rows and attaches their update logs, preserving row order.
func (s *Storage) withUpdates(ctx context.Context, q sqlx.QueryerContext, rows []jobRow) ([]*domain.Job, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}

	var updates []updateRow
	err := sqlx.SelectContext(ctx, q, &updates,
		`SELECT job_id, seq, created_at, state, status FROM job_updates WHERE job_id = ANY($1) ORDER BY job_id, seq`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load job updates: %w", err)
	}

	byJob := make(map[string][]domain.JobUpdate, len(rows))
	for _, u := range updates {
		byJob[u.JobID] = append(byJob[u.JobID], domain.JobUpdate{
			Timestamp: u.CreatedAt,
			State:     domain.JobState(u.State),
			Status:    u.Status,
		})
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		job.Updates = byJob[job.ID]
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *Storage) selectJobs(ctx context.Context, query string, args ...interface{}) ([]*domain.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select jobs: %w", err)
	}
	return s.withUpdates(ctx, s.db, rows)
}

// ListJobs returns up to PageSize+1 jobs so callers can tell whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if v := filter.Visibility; v != nil {
		query += fmt.Sprintf(" AND (created_by = $%d OR project = ANY($%d))", argIdx, argIdx+1)
		args = append(args, v.Username, pq.Array(v.Projects))
		argIdx += 2
	}

	if filter.Owner != "" {
		query += fmt.Sprintf(" AND created_by = $%d", argIdx)
		args = append(args, filter.Owner)
		argIdx++
	}

	if filter.Project != "" {
		query += fmt.Sprintf(" AND project = $%d", argIdx)
		args = append(args, filter.Project)
		argIdx++
	}

	if filter.Application != "" {
		query += fmt.Sprintf(" AND application_name = $%d", argIdx)
		args = append(args, filter.Application)
		argIdx++
	}

	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		query += fmt.Sprintf(" AND state = ANY($%d)", argIdx)
		args = append(args, pq.Array(states))
		argIdx++
	}

	if filter.CreatedAfter != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *filter.CreatedAfter)
		argIdx++
	}

	if filter.CreatedBefore != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, *filter.CreatedBefore)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	return s.selectJobs(ctx, query, args...)
}

func (s *Storage) RecentActiveJobs(ctx context.Context, owner domain.Owner, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE created_by = $1
		  AND project IS NOT DISTINCT FROM $2
		  AND state <> ALL($3)
		ORDER BY created_at DESC
		LIMIT $4`
	project := sql.NullString{String: owner.Project, Valid: owner.Project != ""}
	return s.selectJobs(ctx, query, owner.CreatedBy, project, pq.Array(terminalStates), limit)
}

// StaleJobs returns active jobs not reconciled or updated since staleBefore and due at now.
func (s *Storage) StaleJobs(ctx context.Context, staleBefore, now time.Time, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE state <> ALL($1)
		  AND GREATEST(updated_at, COALESCE(last_reconciled_at, updated_at)) < $2
		  AND (next_reconcile_at IS NULL OR next_reconcile_at <= $3)
		ORDER BY updated_at
		LIMIT $4`
	return s.selectJobs(ctx, query, pq.Array(terminalStates), staleBefore, now, limit)
}

// OverdueJobs returns running or suspended jobs whose time allocation ended before now.
func (s *Storage) OverdueJobs(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE state = ANY($1)
		  AND status->>'startedAt' IS NOT NULL
		  AND status->'allocatedTime' IS NOT NULL
		  AND (status->>'startedAt')::timestamptz + make_interval(
			hours => COALESCE((status->'allocatedTime'->>'hours')::int, 0),
			mins  => COALESCE((status->'allocatedTime'->>'minutes')::int, 0),
			secs  => COALESCE((status->'allocatedTime'->>'seconds')::double precision, 0)
		  ) < $2
		ORDER BY updated_at
		LIMIT $3`
	states := []string{string(domain.JobStateRunning), string(domain.JobStateSuspended)}
	return s.selectJobs(ctx, query, pq.Array(states), now, limit)
}

// UnfinalizedJobs returns terminal jobs whose billing and cleanup did not complete.
func (s *Storage) UnfinalizedJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE state = ANY($1)
		  AND NOT COALESCE((status->>'finalized')::boolean, false)
		ORDER BY updated_at
		LIMIT $2`
	return s.selectJobs(ctx, query, pq.Array(terminalStates), limit)
}

// UnsubmittedJobs returns queued jobs that never reached their provider.
func (s *Storage) UnsubmittedJobs(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE state = $1
		  AND NOT COALESCE((status->>'submittedToProvider')::boolean, false)
		  AND created_at < $2
		ORDER BY created_at
		LIMIT $3`
	return s.selectJobs(ctx, query, string(domain.JobStateInQueue), createdBefore, limit)
}
