package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/payment"
)

// ChargeItem is one periodic charge reported by a provider.
type ChargeItem struct {
	JobID        string
	ChargeID     string
	WallDuration time.Duration
}

// ChargeReport lists the charges that were not simply applied.
type ChargeReport struct {
	InsufficientFunds []string `json:"insufficientFunds"`
	Duplicates        []string `json:"duplicates"`
}

// discard logs and counts a callback that is dropped without an error to the provider.
func (o *Orchestrator) discard(ctx context.Context, providerID, jobID string, proposed domain.JobState, err error) {
	reason := discardReason(err)
	o.metrics.RecordCallbackDiscarded(ctx, providerID, reason)
	level := slog.LevelInfo
	if reason == "not_owner" {
		level = slog.LevelWarn
	}
	o.logger.Log(ctx, level, "Discarding provider callback",
		slog.String("job_id", jobID),
		slog.String("provider", providerID),
		slog.String("state", string(proposed)),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
}

// ProposeStateChange applies a provider-proposed state. Proposals from a provider that does
// not own the job, duplicates and backward moves are discarded and reported as not applied.
func (o *Orchestrator) ProposeStateChange(ctx context.Context, providerID, jobID string, next domain.JobState, message string) (bool, error) {
	if !next.Valid() {
		return false, apperrors.Validation("state", "unknown job state "+string(next))
	}
	job, err := o.jobs.UpdateJob(ctx, jobID, func(j *domain.Job) error {
		if err := j.CheckOwner(providerID); err != nil {
			return err
		}
		return j.Transition(next, message, o.now())
	})
	if domain.IsDiscardable(err) {
		o.discard(ctx, providerID, jobID, next, err)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	o.applied(ctx, job, message)
	if job.Status.State.IsTerminal() {
		o.finalize(ctx, job, job.ElapsedSince(o.now()))
	}
	return true, nil
}

// applied records a committed transition.
func (o *Orchestrator) applied(ctx context.Context, job *domain.Job, message string) {
	if message == "" {
		message = job.Status.State.DefaultMessage()
	}
	o.metrics.RecordTransition(ctx, job.Provider(), string(job.Status.State))
	o.publish(ctx, domain.EventStateChanged, job, message)
	o.jobLogger(job).Info("Job state changed", slog.String("message", message))
}

// AddStatus appends a provider status message without changing state.
func (o *Orchestrator) AddStatus(ctx context.Context, providerID, jobID, message string) (bool, error) {
	if message == "" {
		return false, apperrors.Validation("status", "status message is required")
	}
	job, err := o.jobs.UpdateJob(ctx, jobID, func(j *domain.Job) error {
		if err := j.CheckOwner(providerID); err != nil {
			return err
		}
		return j.AddStatus(message, o.now())
	})
	if domain.IsDiscardable(err) {
		o.discard(ctx, providerID, jobID, "", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	o.publish(ctx, domain.EventStatus, job, message)
	return true, nil
}

// Complete marks a job as finished by its provider and settles its bill. A nil duration
// bills the wall time since the job started.
func (o *Orchestrator) Complete(ctx context.Context, providerID, jobID string, duration *domain.SimpleDuration, success bool) (bool, error) {
	next := domain.JobStateFailure
	if success {
		next = domain.JobStateSuccess
	}
	job, err := o.jobs.UpdateJob(ctx, jobID, func(j *domain.Job) error {
		if err := j.CheckOwner(providerID); err != nil {
			return err
		}
		return j.Transition(next, "", o.now())
	})
	if domain.IsDiscardable(err) {
		o.discard(ctx, providerID, jobID, next, err)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	o.applied(ctx, job, "")
	total := job.ElapsedSince(o.now())
	if duration != nil {
		total = duration.Duration()
	}
	o.finalize(ctx, job, total)
	return true, nil
}

// Charge applies periodic charges. Jobs that run out of credits are suspended.
func (o *Orchestrator) Charge(ctx context.Context, providerID string, items []ChargeItem) (ChargeReport, error) {
	report := ChargeReport{InsufficientFunds: []string{}, Duplicates: []string{}}
	for _, item := range items {
		job, err := o.jobs.GetJob(ctx, item.JobID)
		if err == nil {
			err = job.CheckOwner(providerID)
		}
		if domain.IsDiscardable(err) {
			o.discard(ctx, providerID, item.JobID, "", err)
			continue
		}
		if err != nil {
			return report, err
		}

		result, err := o.payments.Charge(ctx, job, payment.Usage{ChargeID: item.ChargeID, Duration: item.WallDuration})
		if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, apperrors.ErrNotFound) {
			o.jobLogger(job).Warn("Ignoring charge", slog.String("charge_id", item.ChargeID), slog.String("error", err.Error()))
			continue
		}
		if err != nil {
			return report, err
		}

		switch result {
		case payment.Duplicate:
			report.Duplicates = append(report.Duplicates, job.ID)
		case payment.InsufficientFunds:
			report.InsufficientFunds = append(report.InsufficientFunds, job.ID)
			o.suspend(ctx, job, "Job suspended: insufficient funds")
		}
	}
	return report, nil
}

// suspend asks the provider to suspend a running job and records SUSPENDED.
func (o *Orchestrator) suspend(ctx context.Context, job *domain.Job, message string) {
	log := o.jobLogger(job)
	if job.Status.State != domain.JobStateRunning {
		return
	}
	if err := o.providers.Suspend(ctx, job.Provider(), []*domain.Job{job}); err != nil {
		log.Warn("Failed to suspend job at provider", slog.String("error", err.Error()))
	}
	updated, err := o.jobs.UpdateJob(ctx, job.ID, func(j *domain.Job) error {
		return j.Transition(domain.JobStateSuspended, message, o.now())
	})
	if err != nil {
		if !domain.IsDiscardable(err) {
			log.Error("Failed to suspend job", slog.String("error", err.Error()))
		}
		return
	}
	o.applied(ctx, updated, message)
}

// HandleIncomingFile stores a file pushed by the provider below the job's output folder.
func (o *Orchestrator) HandleIncomingFile(ctx context.Context, providerID, jobID, path string, extract bool, body io.Reader, size int64) (string, error) {
	if size < 0 {
		return "", apperrors.LengthRequired("content length is required")
	}
	job, err := o.jobs.GetJob(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return "", apperrors.NotFound("job", jobID)
	}
	if err != nil {
		return "", err
	}
	if err := job.CheckOwner(providerID); err != nil {
		o.metrics.RecordCallbackDiscarded(ctx, providerID, "not_owner")
		return "", apperrors.Forbidden("provider does not own this job")
	}
	if job.Status.OutputFolder == "" {
		return "", apperrors.Conflict("job", "job has no output folder")
	}

	log := o.jobLogger(job)
	if extract {
		n, err := o.files.Extract(ctx, job.Status.OutputFolder, path, body, size)
		if err != nil {
			return "", err
		}
		log.Info("Extracted job output", slog.String("path", path), slog.Int("files", n))
		return job.Status.OutputFolder, nil
	}
	target, err := o.files.Write(ctx, job.Status.OutputFolder, path, body, size)
	if err != nil {
		return "", err
	}
	log.Info("Stored job output", slog.String("path", target), slog.Int64("size", size))
	return target, nil
}

// Lookup returns the verified view of a job for the provider that owns it.
func (o *Orchestrator) Lookup(ctx context.Context, providerID, jobID string) (*domain.VerifiedJob, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, apperrors.NotFound("job", jobID)
	}
	if err != nil {
		return nil, err
	}
	if err := job.CheckOwner(providerID); err != nil {
		return nil, apperrors.NotFound("job", jobID)
	}
	return o.verifier.Rehydrate(ctx, job)
}
