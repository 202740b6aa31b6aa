package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(id string, created time.Time) *domain.Job {
	return &domain.Job{
		ID:        id,
		Owner:     domain.Owner{CreatedBy: "alice"},
		Status:    domain.JobStatus{State: domain.JobStateInQueue},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestStore_UpdateJobRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateJob(ctx, newJob("j1", time.Now())))

	boom := errors.New("boom")
	_, err := s.UpdateJob(ctx, "j1", func(job *domain.Job) error {
		job.Status.State = domain.JobStateRunning
		return boom
	})
	assert.ErrorIs(t, err, boom)

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateInQueue, job.Status.State)
}

func TestStore_UpdateUnknownJob(t *testing.T) {
	_, err := New().UpdateJob(context.Background(), "missing", func(*domain.Job) error { return nil })
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStore_ListJobsPaginates(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateJob(ctx, newJob(id, base.Add(time.Duration(i)*time.Minute))))
	}

	page, err := s.ListJobs(ctx, storage.JobFilter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "c", page[0].ID)

	next, err := s.ListJobs(ctx, storage.JobFilter{
		PageSize: 2,
		Cursor:   &storage.JobCursor{CreatedAt: page[1].CreatedAt, JobID: page[1].ID},
	})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "a", next[0].ID)
}

func TestStore_OverdueJobs(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hour := &domain.SimpleDuration{Hours: 1}

	running := func(id string, state domain.JobState, started time.Time, updated time.Time) *domain.Job {
		job := newJob(id, base)
		job.Status.State = state
		job.Status.StartedAt = &started
		job.Status.AllocatedTime = hour
		job.UpdatedAt = updated
		return job
	}
	jobs := []*domain.Job{
		// Recently updated, but past its hour.
		running("chatty", domain.JobStateRunning, base, base.Add(89*time.Minute)),
		running("suspended", domain.JobStateSuspended, base, base),
		running("within", domain.JobStateRunning, base.Add(45*time.Minute), base),
		running("done", domain.JobStateSuccess, base, base),
		newJob("queued", base),
	}
	backoff := base.Add(3 * time.Hour)
	jobs[1].Reconcile.NextAt = &backoff
	for _, job := range jobs {
		require.NoError(t, s.CreateJob(ctx, job))
	}

	overdue, err := s.OverdueJobs(ctx, base.Add(90*time.Minute), 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(overdue))
	for _, job := range overdue {
		ids = append(ids, job.ID)
	}
	assert.ElementsMatch(t, []string{"chatty", "suspended"}, ids)
}

func TestStore_Lease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New()
	s.SetClock(func() time.Time { return now })

	ok, err := s.AcquireLease(ctx, "monitor", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.AcquireLease(ctx, "monitor", "b", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = s.AcquireLease(ctx, "monitor", "b", time.Minute)
	assert.True(t, ok)
}

func TestStore_TransactDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetWallet(domain.Wallet{ID: "w", Balance: 100})

	err := s.Transact(ctx, "w", func(tx storage.WalletTx) error {
		w, err := tx.Wallet(ctx)
		require.NoError(t, err)
		w.Reserved = 50
		require.NoError(t, tx.UpdateWallet(ctx, w))
		require.NoError(t, tx.Append(ctx, &domain.LedgerEntry{ID: "e1", JobID: "j", Kind: domain.LedgerReserve}))
		return errors.New("abort")
	})
	require.Error(t, err)

	w, err := s.GetWallet(ctx, "w")
	require.NoError(t, err)
	assert.Zero(t, w.Reserved)
	entries, _ := s.Entries(ctx, "j")
	assert.Empty(t, entries)
}

func TestStore_AppendRejectsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetWallet(domain.Wallet{ID: "w", Balance: 100})

	err := s.Transact(ctx, "w", func(tx storage.WalletTx) error {
		require.NoError(t, tx.Append(ctx, &domain.LedgerEntry{ID: "e1", JobID: "j", Kind: domain.LedgerCharge, ChargeID: "c1"}))
		return tx.Append(ctx, &domain.LedgerEntry{ID: "e2", JobID: "j", Kind: domain.LedgerCharge, ChargeID: "c1"})
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateEntry)
}

func TestStore_BindResourcesIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.BindResources(ctx, "j1", []domain.ResourceValue{{ResourceKind: domain.KindIngress, ID: "r1"}}))

	err := s.BindResources(ctx, "j2", []domain.ResourceValue{
		{ResourceKind: domain.KindLicense, ID: "r2"},
		{ResourceKind: domain.KindIngress, ID: "r1"},
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyBound)

	_, bound, _ := s.BoundTo(ctx, "r2")
	assert.False(t, bound)

	require.NoError(t, s.UnbindResources(ctx, "j1"))
	_, bound, _ = s.BoundTo(ctx, "r1")
	assert.False(t, bound)
}
