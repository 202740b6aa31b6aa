package monitor

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/provider"
)

const msgProviderUnreachable = "provider unreachable"

// reconcileBatch asks the provider about a batch of its jobs and converges each one.
func (m *Monitor) reconcileBatch(ctx context.Context, b batch) {
	reports, err := m.providers.Verify(ctx, b.providerID, b.jobs)
	if err != nil {
		m.logger.Warn("Failed to verify jobs with provider",
			slog.String("provider", b.providerID),
			slog.Int("jobs", len(b.jobs)),
			slog.String("error", err.Error()),
		)
		for _, job := range b.jobs {
			m.recordFailure(ctx, job)
		}
		return
	}

	byID := make(map[string]provider.JobReport, len(reports))
	for _, r := range reports {
		byID[r.JobID] = r
	}
	for _, job := range b.jobs {
		report, ok := byID[job.ID]
		if !ok {
			report = provider.JobReport{JobID: job.ID}
		}
		m.reconcileJob(ctx, job, report)
	}
}

func (m *Monitor) reconcileJob(ctx context.Context, job *domain.Job, report provider.JobReport) {
	log := m.jobLogger(job)

	switch {
	case !report.Known && job.Status.State == domain.JobStateInQueue && !job.Status.SubmittedToProvider:
		if err := m.orc.Replay(ctx, job); err != nil {
			log.Warn("Failed to replay job", slog.String("error", err.Error()))
		}
		m.metrics.RecordReconciliation(ctx, job.Provider(), "replayed")

	case !report.Known:
		log.Warn("Provider does not know active job")
		m.force(ctx, job, domain.JobStateFailure, "Job is unknown to its provider", "unknown")

	case report.State.IsTerminal():
		message := report.Message
		if message == "" {
			message = report.State.DefaultMessage()
		}
		log.Info("Provider reports job as finished", slog.String("reported_state", string(report.State)))
		m.force(ctx, job, report.State, message, "converged")

	default:
		m.recordSuccess(ctx, job)
		m.metrics.RecordReconciliation(ctx, job.Provider(), "healthy")
	}
}

func (m *Monitor) force(ctx context.Context, job *domain.Job, state domain.JobState, reason, outcome string) {
	applied, err := m.orc.ForceState(ctx, job.ID, state, reason)
	if err != nil {
		m.jobLogger(job).Error("Failed to force job state",
			slog.String("target_state", string(state)),
			slog.String("error", err.Error()),
		)
		return
	}
	if applied {
		m.metrics.RecordReconciliation(ctx, job.Provider(), outcome)
	}
}

// recordSuccess resets the retry bookkeeping after the provider answered. LastAt only moves on
// successful contact.
func (m *Monitor) recordSuccess(ctx context.Context, job *domain.Job) {
	now := m.now()
	_, err := m.jobs.UpdateJob(ctx, job.ID, func(j *domain.Job) error {
		if j.Status.State.IsTerminal() {
			return nil
		}
		j.Reconcile.Attempts = 0
		j.Reconcile.NextAt = nil
		j.Reconcile.LastAt = &now
		return nil
	})
	if err != nil {
		m.jobLogger(job).Warn("Failed to record reconciliation", slog.String("error", err.Error()))
	}
}

// recordFailure schedules the next attempt with exponential backoff, or fails the job once
// the attempts are used up.
func (m *Monitor) recordFailure(ctx context.Context, job *domain.Job) {
	attempts := job.Reconcile.Attempts + 1
	if attempts >= m.maxAttempts {
		m.jobLogger(job).Error("Giving up on unreachable provider", slog.Int("attempts", attempts))
		m.force(ctx, job, domain.JobStateFailure, msgProviderUnreachable, "unreachable")
		return
	}

	now := m.now()
	next := now.Add(m.retry.Delay(attempts))
	_, err := m.jobs.UpdateJob(ctx, job.ID, func(j *domain.Job) error {
		if j.Status.State.IsTerminal() {
			return nil
		}
		j.Reconcile.Attempts = attempts
		j.Reconcile.NextAt = &next
		return nil
	})
	if err != nil {
		m.jobLogger(job).Warn("Failed to record reconciliation failure", slog.String("error", err.Error()))
		return
	}
	m.metrics.RecordReconciliation(ctx, job.Provider(), "retry")
}
