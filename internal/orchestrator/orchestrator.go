// Package orchestrator owns the job lifecycle: submission, provider callbacks, cancellation
// and the final accounting of jobs.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/observability"
	"github.com/cuongbtq/ucloud-orchestrator/internal/payment"
	"github.com/cuongbtq/ucloud-orchestrator/internal/provider"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage"
)

// Verifier turns requests into verified jobs.
type Verifier interface {
	Verify(ctx context.Context, actor domain.Actor, spec domain.JobSpecification) (*domain.VerifiedJob, error)
	Rehydrate(ctx context.Context, job *domain.Job) (*domain.VerifiedJob, error)
}

// Payments is the accounting gate.
type Payments interface {
	Reserve(ctx context.Context, job *domain.Job, amount int64) (payment.Token, error)
	Charge(ctx context.Context, job *domain.Job, usage payment.Usage) (payment.ChargeResult, error)
	Settle(ctx context.Context, job *domain.Job, total time.Duration) (payment.ChargeResult, error)
	Extend(ctx context.Context, job *domain.Job, amount int64, chargeID string) error
	Release(ctx context.Context, job *domain.Job) error
}

// Providers is the gateway to provider backends.
type Providers interface {
	Create(ctx context.Context, providerID string, jobs []*domain.VerifiedJob) ([]provider.CreatedJob, error)
	Cancel(ctx context.Context, providerID string, jobs []*domain.Job) error
	Extend(ctx context.Context, providerID string, requests []provider.ExtendRequest) error
	Suspend(ctx context.Context, providerID string, jobs []*domain.Job) error
	OpenInteractiveSession(ctx context.Context, providerID string, req provider.SessionRequest) (*provider.Session, error)
	Follow(ctx context.Context, providerID string, job *domain.Job, rank int) (provider.LogStream, error)
}

// Files is the part of the file service jobs write to.
type Files interface {
	CreateFolder(ctx context.Context, path string) error
	Write(ctx context.Context, folder, rel string, body io.Reader, size int64) (string, error)
	Extract(ctx context.Context, folder, rel string, body io.Reader, size int64) (int, error)
	IndexOutput(ctx context.Context, folder string) (int, error)
}

// Publisher fans out job events after a mutation commits.
type Publisher interface {
	Publish(ctx context.Context, event domain.JobEvent) error
}

// Config holds the dependencies of an Orchestrator.
type Config struct {
	Jobs      storage.JobStore
	Resources storage.ResourceStore
	Projects  storage.ProjectStore
	Verifier  Verifier
	Payments  Payments
	Providers Providers
	Files     Files
	Events    Publisher
	Metrics   *observability.Metrics
	Logger    *slog.Logger

	// SubmitTimeout bounds the asynchronous create call to the provider.
	SubmitTimeout time.Duration
	// DuplicateWindow is how many recent active jobs are compared against a new submission.
	DuplicateWindow int
	Clock           func() time.Time
}

// Orchestrator is the job state machine. All mutations of a job go through the job store's
// per-job serialization.
type Orchestrator struct {
	jobs      storage.JobStore
	resources storage.ResourceStore
	projects  storage.ProjectStore
	verifier  Verifier
	payments  Payments
	providers Providers
	files     Files
	events    Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger

	submitTimeout   time.Duration
	duplicateWindow int
	now             func() time.Time

	inflight sync.WaitGroup
}

// finishTimeout bounds work that has to complete after the caller's context ended.
const finishTimeout = 30 * time.Second

// detach keeps the values of ctx but drops its deadline and cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, domain.JobEvent) error { return nil }

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		jobs:            cfg.Jobs,
		resources:       cfg.Resources,
		projects:        cfg.Projects,
		verifier:        cfg.Verifier,
		payments:        cfg.Payments,
		providers:       cfg.Providers,
		files:           cfg.Files,
		events:          cfg.Events,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		submitTimeout:   cfg.SubmitTimeout,
		duplicateWindow: cfg.DuplicateWindow,
		now:             cfg.Clock,
	}
	if o.events == nil {
		o.events = noopPublisher{}
	}
	if o.submitTimeout <= 0 {
		o.submitTimeout = time.Minute
	}
	if o.duplicateWindow <= 0 {
		o.duplicateWindow = 10
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Wait blocks until in-flight provider submissions have finished.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

func (o *Orchestrator) jobLogger(job *domain.Job) *slog.Logger {
	return o.logger.With(
		slog.String("job_id", job.ID),
		slog.String("provider", job.Provider()),
		slog.String("state", string(job.Status.State)),
	)
}

func (o *Orchestrator) publish(ctx context.Context, kind domain.EventKind, job *domain.Job, message string) {
	err := o.events.Publish(ctx, domain.NewJobEvent(kind, job, message, o.now()))
	o.metrics.RecordEventPublished(ctx, string(kind), err)
	if err != nil {
		o.jobLogger(job).Warn("Failed to publish job event",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

// canManage reports whether actor may cancel or extend job: the creator, an admin of the
// job's project or a privileged principal.
func (o *Orchestrator) canManage(ctx context.Context, actor domain.Actor, job *domain.Job) (bool, error) {
	if actor.IsPrivileged() || job.Owner.CreatedBy == actor.Username {
		return true, nil
	}
	if job.Owner.Project == "" {
		return false, nil
	}
	role, ok, err := o.projects.MemberRole(ctx, job.Owner.Project, actor.Username)
	if err != nil {
		return false, err
	}
	return ok && role.IsAdmin(), nil
}

// canView reports whether actor may see job.
func (o *Orchestrator) canView(ctx context.Context, actor domain.Actor, job *domain.Job) (bool, error) {
	if actor.IsPrivileged() || job.Owner.CreatedBy == actor.Username {
		return true, nil
	}
	if job.Owner.Project == "" {
		return false, nil
	}
	_, ok, err := o.projects.MemberRole(ctx, job.Owner.Project, actor.Username)
	return ok, err
}

// loadVisible returns the job if actor may see it. Invisible jobs are reported as missing.
func (o *Orchestrator) loadVisible(ctx context.Context, actor domain.Actor, jobID string) (*domain.Job, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, apperrors.NotFound("job", jobID)
	}
	if err != nil {
		return nil, err
	}
	ok, err := o.canView(ctx, actor, job)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("job", jobID)
	}
	return job, nil
}

func (o *Orchestrator) loadManaged(ctx context.Context, actor domain.Actor, jobID string) (*domain.Job, error) {
	job, err := o.loadVisible(ctx, actor, jobID)
	if err != nil {
		return nil, err
	}
	ok, err := o.canManage(ctx, actor, job)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.Forbidden("only the owner or a project administrator may change this job")
	}
	return job, nil
}

func discardReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, domain.ErrJobNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrTerminalState):
		return "terminal"
	case errors.Is(err, domain.ErrDuplicateState):
		return "duplicate"
	default:
		return "invalid_transition"
	}
}
