package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/provider"
	"github.com/google/uuid"
)

// Cancel moves a job to CANCELING and asks its provider to tear it down. Cancelling a job
// that is already canceling or finished returns it unchanged.
func (o *Orchestrator) Cancel(ctx context.Context, actor domain.Actor, jobID string) (*domain.Job, error) {
	job, err := o.loadManaged(ctx, actor, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.State.IsTerminal() || job.Status.State == domain.JobStateCanceling {
		return job, nil
	}

	message := "Job cancellation requested by " + actor.Username
	updated, err := o.jobs.UpdateJob(ctx, jobID, func(j *domain.Job) error {
		return j.Transition(domain.JobStateCanceling, message, o.now())
	})
	if domain.IsDiscardable(err) {
		return o.jobs.GetJob(ctx, jobID)
	}
	if err != nil {
		return nil, err
	}
	o.applied(ctx, updated, message)

	// Best effort. The monitor forces a terminal state if the provider never confirms.
	cancelCtx, cancel := detach(ctx)
	defer cancel()
	if err := o.providers.Cancel(cancelCtx, updated.Provider(), []*domain.Job{updated}); err != nil {
		o.jobLogger(updated).Warn("Failed to cancel job at provider", slog.String("error", err.Error()))
	}
	return updated, nil
}

// Extend reserves credits for extra wall time and asks the provider to extend the job.
func (o *Orchestrator) Extend(ctx context.Context, actor domain.Actor, jobID string, extra domain.SimpleDuration) (*domain.Job, error) {
	if extra.Duration() <= 0 {
		return nil, apperrors.Validation("requestedTime", "extension must be positive")
	}
	job, err := o.loadManaged(ctx, actor, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.State.IsTerminal() || job.Status.State == domain.JobStateCanceling {
		return nil, apperrors.Conflict("job", fmt.Sprintf("job is %s and cannot be extended", job.Status.State))
	}

	v, err := o.verifier.Rehydrate(ctx, job)
	if err != nil {
		return nil, err
	}
	if !v.Features().TimeExtension {
		return nil, apperrors.ProductNotSupported("time extension is not supported by this provider")
	}

	amount := domain.Cost(job.Status.PricePerMinute, job.Specification.Replicas, extra.Duration())
	if err := o.payments.Extend(ctx, job, amount, "extend-"+uuid.NewString()); err != nil {
		return nil, err
	}
	if err := o.providers.Extend(ctx, job.Provider(), []provider.ExtendRequest{{Job: job, RequestedTime: extra}}); err != nil {
		return nil, err
	}

	message := "Time allocation extended by " + extra.String()
	updated, err := o.jobs.UpdateJob(ctx, jobID, func(j *domain.Job) error {
		current := domain.SimpleDuration{}
		if j.Status.AllocatedTime != nil {
			current = *j.Status.AllocatedTime
		}
		total := domain.DurationOf(current.Duration() + extra.Duration())
		j.Status.AllocatedTime = &total
		return j.AddStatus(message, o.now())
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, domain.EventStatus, updated, message)
	return updated, nil
}

// OpenInteractiveSession asks the provider for a shell, VNC or web session into a running job.
func (o *Orchestrator) OpenInteractiveSession(ctx context.Context, actor domain.Actor, jobID string, rank int, sessionType provider.SessionType) (*provider.Session, error) {
	job, err := o.loadVisible(ctx, actor, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.State != domain.JobStateRunning {
		return nil, apperrors.Conflict("job", "interactive sessions require a running job")
	}
	if rank < 0 || rank >= job.Specification.Replicas {
		return nil, apperrors.Validation("rank", fmt.Sprintf("rank must be between 0 and %d", job.Specification.Replicas-1))
	}

	v, err := o.verifier.Rehydrate(ctx, job)
	if err != nil {
		return nil, err
	}
	features := v.Features()
	supported := false
	switch sessionType {
	case provider.SessionShell:
		supported = features.Terminal
	case provider.SessionVNC:
		supported = features.VNC
	case provider.SessionWeb:
		supported = features.Web
	default:
		return nil, apperrors.Validation("sessionType", fmt.Sprintf("unknown session type %q", sessionType))
	}
	if !supported {
		return nil, apperrors.ProductNotSupported(fmt.Sprintf("%s sessions are not supported by this provider", sessionType))
	}

	return o.providers.OpenInteractiveSession(ctx, job.Provider(), provider.SessionRequest{
		Job:         job,
		Rank:        rank,
		SessionType: sessionType,
	})
}

// Follow opens the provider's log stream for one rank of a job.
func (o *Orchestrator) Follow(ctx context.Context, actor domain.Actor, jobID string, rank int) (provider.LogStream, error) {
	job, err := o.loadVisible(ctx, actor, jobID)
	if err != nil {
		return nil, err
	}
	if rank < 0 || rank >= job.Specification.Replicas {
		return nil, apperrors.Validation("rank", fmt.Sprintf("rank must be between 0 and %d", job.Specification.Replicas-1))
	}
	v, err := o.verifier.Rehydrate(ctx, job)
	if err != nil {
		return nil, err
	}
	if !v.Features().Logs {
		return nil, apperrors.ProductNotSupported("log streaming is not supported by this provider")
	}
	return o.providers.Follow(ctx, job.Provider(), job, rank)
}
