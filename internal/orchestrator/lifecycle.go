package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
)

// fail moves a job to FAILURE on the orchestrator's own authority and finalizes it.
func (o *Orchestrator) fail(ctx context.Context, jobID, reason string) {
	if _, err := o.ForceState(ctx, jobID, domain.JobStateFailure, reason); err != nil {
		o.logger.Error("Failed to fail job",
			slog.String("job_id", jobID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

// ForceState moves a job to a terminal state without a provider's consent. It reports
// whether the transition was applied.
func (o *Orchestrator) ForceState(ctx context.Context, jobID string, state domain.JobState, reason string) (bool, error) {
	job, err := o.jobs.UpdateJob(ctx, jobID, func(j *domain.Job) error {
		return j.Transition(state, reason, o.now())
	})
	if domain.IsDiscardable(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	o.applied(ctx, job, reason)
	o.finalize(ctx, job, job.ElapsedSince(o.now()))
	return true, nil
}

// Expire cancels a job that used up its time allocation and bills the full allocation.
func (o *Orchestrator) Expire(ctx context.Context, job *domain.Job) (bool, error) {
	log := o.jobLogger(job)
	if err := o.providers.Cancel(ctx, job.Provider(), []*domain.Job{job}); err != nil {
		log.Warn("Failed to cancel expired job at provider", slog.String("error", err.Error()))
	}

	message := "Job has exceeded its time allocation"
	updated, err := o.jobs.UpdateJob(ctx, job.ID, func(j *domain.Job) error {
		return j.Transition(domain.JobStateExpired, message, o.now())
	})
	if domain.IsDiscardable(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	o.applied(ctx, updated, message)

	var total time.Duration
	if updated.Status.AllocatedTime != nil {
		total = updated.Status.AllocatedTime.Duration()
	}
	o.finalize(ctx, updated, total)
	return true, nil
}

// RetryFinalize finishes the accounting of a terminal job whose finalization failed earlier.
func (o *Orchestrator) RetryFinalize(ctx context.Context, job *domain.Job) {
	if !job.Status.State.IsTerminal() || job.Status.Finalized {
		return
	}
	total := time.Duration(0)
	if job.Status.StartedAt != nil {
		total = job.LastStateChangeAt().Sub(*job.Status.StartedAt)
	}
	if job.Status.State == domain.JobStateExpired && job.Status.AllocatedTime != nil {
		total = job.Status.AllocatedTime.Duration()
	}
	o.finalize(ctx, job, total)
}

// finalize settles the bill, releases the reservation, unbinds resources and indexes the
// output of a terminal job. Every step is idempotent; on failure the job stays unfinalized
// and the monitor retries.
func (o *Orchestrator) finalize(ctx context.Context, job *domain.Job, total time.Duration) {
	ctx, cancel := detach(ctx)
	defer cancel()
	log := o.jobLogger(job)

	// NotFound: nothing was reserved. Conflict: already released by an earlier attempt.
	_, err := o.payments.Settle(ctx, job, total)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrConflict) {
		log.Error("Failed to settle job", slog.String("error", err.Error()))
		return
	}
	if err := o.payments.Release(ctx, job); err != nil {
		log.Error("Failed to release reservation", slog.String("error", err.Error()))
		return
	}
	if err := o.resources.UnbindResources(ctx, job.ID); err != nil {
		log.Error("Failed to unbind resources", slog.String("error", err.Error()))
		return
	}

	exported := false
	if job.Status.OutputFolder != "" {
		n, err := o.files.IndexOutput(ctx, job.Status.OutputFolder)
		if err != nil {
			log.Warn("Failed to index job output", slog.String("error", err.Error()))
		} else {
			exported = true
			log.Info("Indexed job output", slog.Int("files", n))
		}
	}

	updated, err := o.jobs.UpdateJob(ctx, job.ID, func(j *domain.Job) error {
		j.Status.Finalized = true
		j.Status.OutputExported = exported
		return nil
	})
	if err != nil {
		log.Error("Failed to mark job finalized", slog.String("error", err.Error()))
		return
	}
	o.publish(ctx, domain.EventFinalized, updated, updated.Status.State.DefaultMessage())
}
