// Package storage persists jobs, the accounting ledger and the orchestrator's supporting tables.
package storage

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var Schema string

// ErrDuplicateEntry is returned when a ledger entry with the same job, kind and charge id exists.
var ErrDuplicateEntry = errors.New("duplicate ledger entry")

// JobMutation changes a job loaded under its row lock. Returning an error aborts the update.
type JobMutation func(job *domain.Job) error

// JobStore is the single source of truth for jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	// UpdateJob serializes mutations per job id.
	UpdateJob(ctx context.Context, id string, fn JobMutation) (*domain.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error)
	RecentActiveJobs(ctx context.Context, owner domain.Owner, limit int) ([]*domain.Job, error)
	StaleJobs(ctx context.Context, staleBefore, now time.Time, limit int) ([]*domain.Job, error)
	// OverdueJobs ignores staleness and reconcile backoff.
	OverdueJobs(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)
	UnfinalizedJobs(ctx context.Context, limit int) ([]*domain.Job, error)
	UnsubmittedJobs(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Job, error)
}

// WalletTx is the view of one wallet inside a ledger transaction.
type WalletTx interface {
	// Wallet returns the locked wallet.
	Wallet(ctx context.Context) (*domain.Wallet, error)
	JobEntries(ctx context.Context, jobID string) ([]domain.LedgerEntry, error)
	Append(ctx context.Context, entry *domain.LedgerEntry) error
	UpdateWallet(ctx context.Context, wallet *domain.Wallet) error
}

// LedgerStore holds wallets and the append-only ledger.
type LedgerStore interface {
	Transact(ctx context.Context, walletID string, fn func(tx WalletTx) error) error
	Entries(ctx context.Context, jobID string) ([]domain.LedgerEntry, error)
	GetWallet(ctx context.Context, walletID string) (*domain.Wallet, error)
}

// LeaseStore implements a best-effort lease with TTL.
type LeaseStore interface {
	// AcquireLease takes or renews the lease. It reports false when another holder owns it.
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
}

// CatalogStore resolves applications and products.
type CatalogStore interface {
	GetApplication(ctx context.Context, name, version string) (*domain.Application, error)
	GetProduct(ctx context.Context, ref domain.ProductRef) (*domain.Product, error)
}

// ProjectStore answers membership questions.
type ProjectStore interface {
	MemberRole(ctx context.Context, project, username string) (domain.ProjectRole, bool, error)
	ProjectsOf(ctx context.Context, username string) ([]string, error)
}

// ResourceStore tracks which job holds a bindable resource.
type ResourceStore interface {
	BindResources(ctx context.Context, jobID string, resources []domain.ResourceValue) error
	UnbindResources(ctx context.Context, jobID string) error
	BoundTo(ctx context.Context, resourceID string) (string, bool, error)
}

// TaskStore keeps the non-authoritative task records.
type TaskStore interface {
	UpsertTask(ctx context.Context, task *domain.TaskRecord) error
	GetTask(ctx context.Context, jobID string) (*domain.TaskRecord, error)
}

// Visibility restricts a listing to jobs owned by Username or belonging to Projects.
type Visibility struct {
	Username string
	Projects []string
}

// JobFilter selects jobs for listing. Results are ordered newest first.
type JobFilter struct {
	Visibility    *Visibility
	Owner         string
	Project       string
	Application   string
	States        []domain.JobState
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	PageSize      int
	Cursor        *JobCursor
}

// Storage implements the stores on PostgreSQL.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
		now:    time.Now,
	}
}

var (
	_ JobStore      = (*Storage)(nil)
	_ LedgerStore   = (*Storage)(nil)
	_ LeaseStore    = (*Storage)(nil)
	_ CatalogStore  = (*Storage)(nil)
	_ ProjectStore  = (*Storage)(nil)
	_ ResourceStore = (*Storage)(nil)
	_ TaskStore     = (*Storage)(nil)
)
