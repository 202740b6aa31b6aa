package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/files"
	"github.com/google/uuid"
)

const msgFailedToReachProvider = "failed to reach provider"

// Submit verifies spec, reserves its cost and persists a new job in IN_QUEUE. The provider
// is called asynchronously; a failed call fails the job.
func (o *Orchestrator) Submit(ctx context.Context, actor domain.Actor, spec domain.JobSpecification) (*domain.Job, error) {
	v, err := o.verifier.Verify(ctx, actor, spec)
	if err != nil {
		return nil, err
	}
	spec = v.Job.Specification

	if !spec.AllowDuplicateJob {
		if err := o.checkDuplicate(ctx, v.Job.Owner, spec); err != nil {
			return nil, err
		}
	}

	now := o.now()
	job := &domain.Job{
		ID:            uuid.NewString(),
		Owner:         v.Job.Owner,
		Specification: spec,
		Status: domain.JobStatus{
			State:          domain.JobStateInQueue,
			AllocatedTime:  spec.TimeAllocation,
			PricePerMinute: v.Product.PricePerMinute,
		},
		Updates: []domain.JobUpdate{{
			Timestamp: now,
			State:     domain.JobStateInQueue,
			Status:    "Job has been submitted",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.Status.OutputFolder = files.OutputFolder(job.Owner, spec.Application.Name, job.ID)
	log := o.jobLogger(job)

	// Step 1: hold the credits before the job exists
	if _, err := o.payments.Reserve(ctx, job, v.EstimatedCost); err != nil {
		return nil, err
	}

	// Step 2: persist
	if err := o.jobs.CreateJob(ctx, job); err != nil {
		if relErr := o.payments.Release(ctx, job); relErr != nil {
			log.Error("Failed to release reservation of unsaved job", slog.String("error", relErr.Error()))
		}
		return nil, err
	}

	// Step 3: bind licenses, ingresses and IPs
	if len(v.Bindings) > 0 {
		if err := o.resources.BindResources(ctx, job.ID, v.Bindings); err != nil {
			message := "resource is already in use"
			if !errors.Is(err, domain.ErrAlreadyBound) {
				message = "failed to bind resources"
			}
			o.fail(ctx, job.ID, message)
			if errors.Is(err, domain.ErrAlreadyBound) {
				return nil, apperrors.InvalidParameter("resources", err.Error())
			}
			return nil, err
		}
	}

	// Step 4: output folder
	if err := o.files.CreateFolder(ctx, job.Status.OutputFolder); err != nil {
		log.Warn("Failed to create output folder",
			slog.String("folder", job.Status.OutputFolder),
			slog.String("error", err.Error()),
		)
	}

	o.metrics.RecordJobSubmitted(ctx, job.Provider())
	o.publish(ctx, domain.EventSubmitted, job, "Job has been submitted")
	log.Info("Job submitted", slog.String("owner", job.Owner.CreatedBy))

	v.Job = *job.Clone()
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		o.submitToProvider(context.Background(), v)
	}()

	return job, nil
}

// Replay resubmits a job that never reached its provider. Providers treat a repeated
// create for the same job id as a no-op.
func (o *Orchestrator) Replay(ctx context.Context, job *domain.Job) error {
	if job.Status.State.IsTerminal() || job.Status.SubmittedToProvider {
		return nil
	}
	v, err := o.verifier.Rehydrate(ctx, job)
	if err != nil {
		o.fail(ctx, job.ID, fmt.Sprintf("job can no longer be submitted: %v", err))
		return err
	}
	o.jobLogger(job).Info("Replaying lost job")
	return o.submitToProvider(ctx, v)
}

// Resume restarts a suspended job.
func (o *Orchestrator) Resume(ctx context.Context, actor domain.Actor, jobID string) (*domain.Job, error) {
	job, err := o.loadManaged(ctx, actor, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.State != domain.JobStateSuspended {
		return nil, apperrors.Conflict("job", fmt.Sprintf("job is %s, only suspended jobs can be resumed", job.Status.State))
	}

	updated, err := o.jobs.UpdateJob(ctx, jobID, func(j *domain.Job) error {
		if err := j.Transition(domain.JobStateInQueue, "Job restart requested by "+actor.Username, o.now()); err != nil {
			return err
		}
		j.Status.SubmittedToProvider = false
		return nil
	})
	if domain.IsDiscardable(err) {
		return nil, apperrors.Conflict("job", err.Error())
	}
	if err != nil {
		return nil, err
	}
	o.metrics.RecordTransition(ctx, updated.Provider(), string(updated.Status.State))
	o.publish(ctx, domain.EventStateChanged, updated, "Job restart requested")

	v, err := o.verifier.Rehydrate(ctx, updated)
	if err != nil {
		return nil, err
	}
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		o.submitToProvider(context.Background(), v)
	}()
	return updated, nil
}

// submitToProvider calls create for one job. Any failure fails the job; retries happen only
// through replay.
func (o *Orchestrator) submitToProvider(ctx context.Context, v *domain.VerifiedJob) error {
	job := &v.Job
	log := o.jobLogger(job)

	// The provider call gets its own deadline. Recording the outcome must not inherit it.
	callCtx, cancelCall := context.WithTimeout(ctx, o.submitTimeout)
	created, err := o.providers.Create(callCtx, job.Provider(), []*domain.VerifiedJob{v})
	cancelCall()

	recordCtx, cancel := detach(ctx)
	defer cancel()

	if err != nil {
		message := msgFailedToReachProvider
		if !errors.Is(err, apperrors.ErrUnavailable) {
			message = fmt.Sprintf("provider rejected the job: %v", err)
		}
		log.Error("Failed to submit job to provider", slog.String("error", err.Error()))
		o.fail(recordCtx, job.ID, message)
		return err
	}

	_, err = o.jobs.UpdateJob(recordCtx, job.ID, func(j *domain.Job) error {
		j.Status.SubmittedToProvider = true
		j.Status.Replicas = j.Status.Replicas[:0]
		for rank := 0; rank < j.Specification.Replicas; rank++ {
			r := domain.Replica{Rank: rank}
			if rank < len(created) {
				r.ProviderJobID = created[rank].ProviderJobID
			}
			j.Status.Replicas = append(j.Status.Replicas, r)
		}
		return nil
	})
	if err != nil {
		log.Error("Failed to record provider submission", slog.String("error", err.Error()))
		return err
	}
	log.Info("Job accepted by provider")
	return nil
}

func (o *Orchestrator) checkDuplicate(ctx context.Context, owner domain.Owner, spec domain.JobSpecification) error {
	recent, err := o.jobs.RecentActiveJobs(ctx, owner, o.duplicateWindow)
	if err != nil {
		return err
	}
	want, err := requestKey(spec)
	if err != nil {
		return err
	}
	for _, job := range recent {
		got, err := requestKey(job.Specification)
		if err != nil {
			continue
		}
		if bytes.Equal(want, got) {
			return apperrors.Conflict("job", fmt.Sprintf("an identical job (%s) is already active", job.ID))
		}
	}
	return nil
}

// requestKey encodes the parts of a specification that make two submissions identical.
func requestKey(spec domain.JobSpecification) ([]byte, error) {
	return json.Marshal(struct {
		Application domain.ApplicationRef `json:"a"`
		Product     domain.ProductRef     `json:"p"`
		Replicas    int                   `json:"r"`
		Parameters  domain.Parameters     `json:"params"`
		Resources   domain.Resources      `json:"res"`
	}{spec.Application, spec.Product, spec.Replicas, spec.Parameters, spec.Resources})
}
