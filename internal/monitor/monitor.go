// Package monitor reconciles active jobs with their providers. One instance at a time runs
// the loop, guarded by a lease in the job store.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/config"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/observability"
	"github.com/cuongbtq/ucloud-orchestrator/internal/provider"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage"
	"github.com/cuongbtq/ucloud-orchestrator/pkg/backoff"
	"github.com/cuongbtq/ucloud-orchestrator/pkg/loop"
	"github.com/google/uuid"
)

const leaseName = "job-monitor"

// Reconciler is the part of the orchestrator the monitor drives.
type Reconciler interface {
	Replay(ctx context.Context, job *domain.Job) error
	ForceState(ctx context.Context, jobID string, state domain.JobState, reason string) (bool, error)
	Expire(ctx context.Context, job *domain.Job) (bool, error)
	RetryFinalize(ctx context.Context, job *domain.Job)
}

// Verifier asks a provider for the authoritative state of its jobs.
type Verifier interface {
	Verify(ctx context.Context, providerID string, jobs []*domain.Job) ([]provider.JobReport, error)
}

// Config holds monitor dependencies and policy.
type Config struct {
	Jobs         storage.JobStore
	Leases       storage.LeaseStore
	Orchestrator Reconciler
	Providers    Verifier
	Metrics      *observability.Metrics
	Logger       *slog.Logger
	Policy       config.MonitorConfig
	// Holder identifies this instance in the lease. Defaults to a random id.
	Holder string
	Clock  func() time.Time
}

// Monitor is the reconciliation loop.
type Monitor struct {
	jobs      storage.JobStore
	leases    storage.LeaseStore
	orc       Reconciler
	providers Verifier
	metrics   *observability.Metrics
	logger    *slog.Logger
	holder    string
	now       func() time.Time

	interval      time.Duration
	staleAfter    time.Duration
	leaseTTL      time.Duration
	maxAttempts   int
	retry         backoff.Policy
	cancelTimeout time.Duration
	batchSize     int
	concurrency   int

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// New creates a monitor, filling unset policy values with defaults.
func New(cfg Config) *Monitor {
	p := cfg.Policy
	if p.Interval <= 0 {
		p.Interval = 30 * time.Second
	}
	if p.StaleAfter <= 0 {
		p.StaleAfter = 2 * time.Minute
	}
	if p.LeaseTTL <= 0 {
		p.LeaseTTL = 3 * p.Interval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 8
	}
	if p.BackoffInitial <= 0 {
		p.BackoffInitial = 30 * time.Second
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = 10 * time.Minute
	}
	if p.CancelTimeout <= 0 {
		p.CancelTimeout = 10 * time.Minute
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 100
	}
	if p.Concurrency <= 0 {
		p.Concurrency = 4
	}

	holder := cfg.Holder
	if holder == "" {
		holder = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Monitor{
		jobs:          cfg.Jobs,
		leases:        cfg.Leases,
		orc:           cfg.Orchestrator,
		providers:     cfg.Providers,
		metrics:       cfg.Metrics,
		logger:        logger.With(slog.String("component", "monitor"), slog.String("holder", holder)),
		holder:        holder,
		now:           now,
		interval:      p.Interval,
		staleAfter:    p.StaleAfter,
		leaseTTL:      p.LeaseTTL,
		maxAttempts:   p.MaxAttempts,
		retry:         backoff.Policy{Initial: p.BackoffInitial, Max: p.BackoffMax},
		cancelTimeout: p.CancelTimeout,
		batchSize:     p.BatchSize,
		concurrency:   p.Concurrency,
		stopChan:      make(chan struct{}),
	}
}

// cycleState is carried between ticks.
type cycleState struct {
	leader   bool
	replayed bool
}

// Start runs the loop in the background until ctx ends or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info("Starting job monitor",
		slog.Duration("interval", m.interval),
		slog.Duration("stale_after", m.staleAfter),
		slog.Int("concurrency", m.concurrency),
	)

	ctx, cancel := context.WithCancel(ctx)
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		select {
		case <-m.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	go func() {
		defer m.wg.Done()
		defer cancel()
		if err := m.Run(ctx); err != nil {
			m.logger.Error("Job monitor stopped with error", slog.String("error", err.Error()))
		}
	}()
}

// Stop ends the loop and waits for the running cycle to finish.
func (m *Monitor) Stop() {
	m.logger.Info("Stopping job monitor...")
	close(m.stopChan)
	m.wg.Wait()
	m.logger.Info("Job monitor stopped")
}

// Run blocks until ctx ends, reconciling once per interval while holding the lease.
func (m *Monitor) Run(ctx context.Context) error {
	_, err := loop.Start(ctx, cycleState{}, m.tick, loop.WithRecover(func(recovered any) loop.Next {
		m.logger.Error("Monitor cycle panicked", slog.Any("panic", recovered))
		return loop.Continue(m.interval)
	}))

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if relErr := m.leases.ReleaseLease(releaseCtx, leaseName, m.holder); relErr != nil {
		m.logger.Warn("Failed to release monitor lease", slog.String("error", relErr.Error()))
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (m *Monitor) tick(ctx context.Context, st cycleState) (cycleState, loop.Next) {
	leader, err := m.leases.AcquireLease(ctx, leaseName, m.holder, m.leaseTTL)
	if err != nil {
		m.logger.Warn("Failed to acquire monitor lease", slog.String("error", err.Error()))
		st.leader = false
		return st, loop.Continue(m.interval)
	}
	if !leader {
		if st.leader {
			m.logger.Warn("Lost monitor lease")
		}
		st.leader = false
		return st, loop.Continue(m.interval)
	}
	if !st.leader {
		m.logger.Info("Acquired monitor lease")
	}
	st.leader = true

	if !st.replayed {
		m.ReplayLost(ctx)
		st.replayed = true
	}
	if err := m.RunCycle(ctx); err != nil {
		m.logger.Error("Reconciliation cycle failed", slog.String("error", err.Error()))
	}
	return st, loop.Continue(m.interval)
}

// ReplayLost resubmits queued jobs that never reached their provider.
func (m *Monitor) ReplayLost(ctx context.Context) {
	jobs, err := m.jobs.UnsubmittedJobs(ctx, m.now().Add(-m.staleAfter), m.batchSize)
	if err != nil {
		m.logger.Error("Failed to load unsubmitted jobs", slog.String("error", err.Error()))
		return
	}
	for _, job := range jobs {
		if err := m.orc.Replay(ctx, job); err != nil {
			m.logger.Warn("Failed to replay job",
				slog.String("job_id", job.ID),
				slog.String("provider", job.Provider()),
				slog.String("error", err.Error()),
			)
			m.metrics.RecordReconciliation(ctx, job.Provider(), "replay_failed")
			continue
		}
		m.metrics.RecordReconciliation(ctx, job.Provider(), "replayed")
	}
	if len(jobs) > 0 {
		m.logger.Info("Replayed lost jobs", slog.Int("count", len(jobs)))
	}
}

// RunCycle performs one reconciliation pass: pending finalizations, time limits and a
// provider check of every stale job.
func (m *Monitor) RunCycle(ctx context.Context) error {
	m.finalizePending(ctx)

	now := m.now()
	m.expireOverdue(ctx, now)

	stale, err := m.jobs.StaleJobs(ctx, now.Add(-m.staleAfter), now, m.batchSize)
	if err != nil {
		return err
	}

	byProvider := map[string][]*domain.Job{}
	var order []string
	for _, job := range stale {
		if m.enforceLimits(ctx, job, now) {
			continue
		}
		p := job.Provider()
		if _, ok := byProvider[p]; !ok {
			order = append(order, p)
		}
		byProvider[p] = append(byProvider[p], job)
	}

	batches := make([]batch, 0, len(order))
	for _, p := range order {
		batches = append(batches, batch{providerID: p, jobs: byProvider[p]})
	}
	m.dispatch(ctx, batches)
	return nil
}

func (m *Monitor) finalizePending(ctx context.Context) {
	jobs, err := m.jobs.UnfinalizedJobs(ctx, m.batchSize)
	if err != nil {
		m.logger.Error("Failed to load unfinalized jobs", slog.String("error", err.Error()))
		return
	}
	for _, job := range jobs {
		m.orc.RetryFinalize(ctx, job)
		m.metrics.RecordReconciliation(ctx, job.Provider(), "finalize_retried")
	}
}

// expireOverdue handles every job past its time allocation. A provider that keeps posting
// status updates never makes its job stale, so this cannot wait for the stale sweep.
func (m *Monitor) expireOverdue(ctx context.Context, now time.Time) {
	jobs, err := m.jobs.OverdueJobs(ctx, now, m.batchSize)
	if err != nil {
		m.logger.Error("Failed to load overdue jobs", slog.String("error", err.Error()))
		return
	}
	for _, job := range jobs {
		m.enforceLimits(ctx, job, now)
	}
}

// enforceLimits expires jobs past their time allocation and fails cancellations the provider
// never confirmed. It reports whether the job was handled.
func (m *Monitor) enforceLimits(ctx context.Context, job *domain.Job, now time.Time) bool {
	switch job.Status.State {
	case domain.JobStateRunning, domain.JobStateSuspended:
		deadline, ok := job.ExpiresAt()
		if !ok || !deadline.Before(now) {
			return false
		}
		if _, err := m.orc.Expire(ctx, job); err != nil {
			m.jobLogger(job).Error("Failed to expire job", slog.String("error", err.Error()))
		}
		m.metrics.RecordReconciliation(ctx, job.Provider(), "expired")
		return true

	case domain.JobStateCanceling:
		if !job.LastStateChangeAt().Add(m.cancelTimeout).Before(now) {
			return false
		}
		if _, err := m.orc.ForceState(ctx, job.ID, domain.JobStateFailure, "Job cancellation was not confirmed by the provider"); err != nil {
			m.jobLogger(job).Error("Failed to fail unconfirmed cancellation", slog.String("error", err.Error()))
		}
		m.metrics.RecordReconciliation(ctx, job.Provider(), "cancel_timeout")
		return true
	}
	return false
}

func (m *Monitor) jobLogger(job *domain.Job) *slog.Logger {
	return m.logger.With(
		slog.String("job_id", job.ID),
		slog.String("provider", job.Provider()),
		slog.String("state", string(job.Status.State)),
	)
}
