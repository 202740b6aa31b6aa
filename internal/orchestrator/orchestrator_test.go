package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/files"
	"github.com/cuongbtq/ucloud-orchestrator/internal/payment"
	"github.com/cuongbtq/ucloud-orchestrator/internal/provider"
	"github.com/cuongbtq/ucloud-orchestrator/internal/provider/providertest"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage/memstore"
	"github.com/cuongbtq/ucloud-orchestrator/internal/testutil"
	"github.com/cuongbtq/ucloud-orchestrator/internal/verification"
	"github.com/cuongbtq/ucloud-orchestrator/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const providerID = testutil.ProviderID

var alice = domain.Actor{Username: "alice", Role: domain.RoleUser}

type harness struct {
	orc       *Orchestrator
	store     *memstore.Store
	db        *ctxStore
	objects   *files.MemoryStore
	fake      *providertest.Fake
	providers *ctxProviders
}

// ctxStore rejects calls made with a finished context, the way database/sql does.
type ctxStore struct {
	*memstore.Store
	// afterUpdate runs once after the next successful UpdateJob.
	afterUpdate func()
}

func (s *ctxStore) CreateJob(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.CreateJob(ctx, job)
}

func (s *ctxStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.GetJob(ctx, id)
}

func (s *ctxStore) UpdateJob(ctx context.Context, id string, fn storage.JobMutation) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	job, err := s.Store.UpdateJob(ctx, id, fn)
	if err == nil && s.afterUpdate != nil {
		hook := s.afterUpdate
		s.afterUpdate = nil
		hook()
	}
	return job, err
}

func (s *ctxStore) Transact(ctx context.Context, walletID string, fn func(tx storage.WalletTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.Transact(ctx, walletID, fn)
}

func (s *ctxStore) BindResources(ctx context.Context, jobID string, resources []domain.ResourceValue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.BindResources(ctx, jobID, resources)
}

func (s *ctxStore) UnbindResources(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.UnbindResources(ctx, jobID)
}

// ctxProviders makes the fake provider honour its context. With stallCreate set, create
// calls block until their context ends, like an unresponsive provider.
type ctxProviders struct {
	*providertest.Fake
	stallCreate bool
}

func (p *ctxProviders) Create(ctx context.Context, id string, jobs []*domain.VerifiedJob) ([]provider.CreatedJob, error) {
	if p.stallCreate {
		<-ctx.Done()
		return nil, apperrors.Unavailable("create", ctx.Err())
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Unavailable("create", err)
	}
	return p.Fake.Create(ctx, id, jobs)
}

func (p *ctxProviders) Cancel(ctx context.Context, id string, jobs []*domain.Job) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Unavailable("cancel", err)
	}
	return p.Fake.Cancel(ctx, id, jobs)
}

func newHarness(t *testing.T, balance int64) *harness {
	t.Helper()
	store := memstore.New()
	store.PutApplication(testutil.AlphaApplication())
	store.PutProduct(testutil.StandardProduct())
	store.SetWallet(domain.Wallet{ID: "user:alice", Balance: balance})
	store.SetWallet(domain.Wallet{ID: "project:p1", Balance: balance})
	store.AddMember("p1", "alice", domain.ProjectRoleUser)
	store.AddMember("p1", "pi", domain.ProjectRolePI)
	store.AddMember("p1", "carol", domain.ProjectRoleUser)

	db := &ctxStore{Store: store}
	objects := files.NewMemoryStore()
	fileService := files.NewService(objects, db, logger.Discard())
	fake := providertest.New()
	fake.SetManifest(testutil.Manifest())
	providers := &ctxProviders{Fake: fake}

	verifier := verification.New(verification.Config{
		Catalog:   db,
		Jobs:      db,
		Resources: db,
		Wallets:   db,
		Files:     fileService,
		Manifests: fake,
	})
	gate := payment.New(payment.Config{Ledger: db, Logger: logger.Discard()})

	orc := New(Config{
		Jobs:      db,
		Resources: db,
		Projects:  db,
		Verifier:  verifier,
		Payments:  gate,
		Providers: providers,
		Files:     fileService,
		Logger:    logger.Discard(),
	})
	return &harness{orc: orc, store: store, db: db, objects: objects, fake: fake, providers: providers}
}

func (h *harness) submit(t *testing.T, actor domain.Actor) *domain.Job {
	t.Helper()
	job, err := h.orc.Submit(context.Background(), actor, testutil.Specification())
	require.NoError(t, err)
	h.orc.Wait()
	return job
}

func (h *harness) job(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (h *harness) wallet(t *testing.T, id string) *domain.Wallet {
	t.Helper()
	w, err := h.store.GetWallet(context.Background(), id)
	require.NoError(t, err)
	return w
}

func TestOrchestrator_HappyPath(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()

	job := h.submit(t, alice)
	assert.Equal(t, domain.JobStateInQueue, job.Status.State)
	assert.Equal(t, "/home/alice/Jobs/alpha/"+job.ID, job.Status.OutputFolder)
	assert.Equal(t, []string{job.ID}, h.fake.Created())

	stored := h.job(t, job.ID)
	assert.True(t, stored.Status.SubmittedToProvider)
	require.Len(t, stored.Status.Replicas, 1)
	assert.Equal(t, "p-"+job.ID, stored.Status.Replicas[0].ProviderJobID)
	assert.Equal(t, int64(600), h.wallet(t, "user:alice").Reserved)

	applied, err := h.orc.ProposeStateChange(ctx, providerID, job.ID, domain.JobStateRunning, "")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = h.orc.Complete(ctx, providerID, job.ID, &domain.SimpleDuration{Minutes: 10}, true)
	require.NoError(t, err)
	assert.True(t, applied)

	final := h.job(t, job.ID)
	assert.Equal(t, domain.JobStateSuccess, final.Status.State)
	assert.True(t, final.Status.Finalized)
	assert.True(t, domain.ValidPath(final.StateHistory()))

	w := h.wallet(t, "user:alice")
	assert.Equal(t, int64(900), w.Balance, "ten minutes of u1-standard")
	assert.Equal(t, int64(0), w.Reserved)
}

func TestOrchestrator_ForgedCallbackIsDiscarded(t *testing.T) {
	h := newHarness(t, 1000)
	job := h.submit(t, alice)

	applied, err := h.orc.ProposeStateChange(context.Background(), "intruder", job.ID, domain.JobStateRunning, "")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.JobStateInQueue, h.job(t, job.ID).Status.State)

	applied, err = h.orc.Complete(context.Background(), "intruder", job.ID, nil, false)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.JobStateInQueue, h.job(t, job.ID).Status.State)
}

func TestOrchestrator_OutOfOrderCallbacks(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	job := h.submit(t, alice)

	tests := []struct {
		state   domain.JobState
		applied bool
	}{
		{domain.JobStateRunning, true},
		{domain.JobStateRunning, false},
		{domain.JobStateProvisioning, false},
		{domain.JobStateSuccess, true},
		{domain.JobStateRunning, false},
		{domain.JobStateFailure, false},
	}
	for _, tt := range tests {
		applied, err := h.orc.ProposeStateChange(ctx, providerID, job.ID, tt.state, "")
		require.NoError(t, err)
		assert.Equal(t, tt.applied, applied, "proposing %s", tt.state)
	}

	final := h.job(t, job.ID)
	assert.Equal(t, []domain.JobState{domain.JobStateInQueue, domain.JobStateRunning, domain.JobStateSuccess}, final.StateHistory())

	_, err := h.orc.ProposeStateChange(ctx, providerID, "missing", domain.JobStateRunning, "")
	assert.NoError(t, err)
}

func TestOrchestrator_ConcurrentCallbacks(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t, 1000)
		job := h.submit(t, alice)

		var wg sync.WaitGroup
		results := make([]bool, 2)
		for n, state := range []domain.JobState{domain.JobStateSuccess, domain.JobStateFailure} {
			wg.Add(1)
			go func(n int, state domain.JobState) {
				defer wg.Done()
				applied, err := h.orc.ProposeStateChange(context.Background(), providerID, job.ID, state, "")
				assert.NoError(t, err)
				results[n] = applied
			}(n, state)
		}
		wg.Wait()

		assert.True(t, results[0] != results[1], "exactly one terminal callback applies")
		final := h.job(t, job.ID)
		assert.True(t, final.Status.State.IsTerminal())
		assert.True(t, domain.ValidPath(final.StateHistory()))
		assert.Len(t, final.StateHistory(), 2)
	}
}

func TestOrchestrator_RunningAndSuccessRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t, 1000)
		job := h.submit(t, alice)

		var wg sync.WaitGroup
		for _, state := range []domain.JobState{domain.JobStateRunning, domain.JobStateSuccess} {
			wg.Add(1)
			go func(state domain.JobState) {
				defer wg.Done()
				_, err := h.orc.ProposeStateChange(context.Background(), providerID, job.ID, state, "")
				assert.NoError(t, err)
			}(state)
		}
		wg.Wait()

		final := h.job(t, job.ID)
		assert.Equal(t, domain.JobStateSuccess, final.Status.State)
		assert.True(t, domain.ValidPath(final.StateHistory()))
	}
}

func TestOrchestrator_CancelIsIdempotent(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	job := h.submit(t, alice)

	first, err := h.orc.Cancel(ctx, alice, job.ID)
	require.NoError(t, err)
	second, err := h.orc.Cancel(ctx, alice, job.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.JobStateCanceling, first.Status.State)
	assert.Equal(t, first.Status.State, second.Status.State)
	assert.Equal(t, []string{job.ID}, h.fake.Canceled())

	applied, err := h.orc.ProposeStateChange(ctx, providerID, job.ID, domain.JobStateSuccess, "")
	require.NoError(t, err)
	assert.True(t, applied)

	third, err := h.orc.Cancel(ctx, alice, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateSuccess, third.Status.State)
	assert.Len(t, h.fake.Canceled(), 1)
}

func TestOrchestrator_CancelPermissions(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	projectActor := domain.Actor{Username: "alice", Role: domain.RoleUser, Project: "p1"}
	job := h.submit(t, projectActor)

	_, err := h.orc.Cancel(ctx, domain.Actor{Username: "mallory", Role: domain.RoleUser}, job.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = h.orc.Cancel(ctx, domain.Actor{Username: "carol", Role: domain.RoleUser}, job.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	canceled, err := h.orc.Cancel(ctx, domain.Actor{Username: "pi", Role: domain.RoleUser}, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCanceling, canceled.Status.State)
}

func TestOrchestrator_ProviderUnreachableFailsJob(t *testing.T) {
	h := newHarness(t, 1000)
	h.fake.SetError("create", apperrors.Unavailable("create", errors.New("connection refused")))

	job := h.submit(t, alice)

	final := h.job(t, job.ID)
	assert.Equal(t, domain.JobStateFailure, final.Status.State)
	assert.Equal(t, msgFailedToReachProvider, final.Updates[len(final.Updates)-1].Status)
	assert.True(t, final.Status.Finalized)
	assert.Equal(t, int64(0), h.wallet(t, "user:alice").Reserved)
	assert.Equal(t, int64(1000), h.wallet(t, "user:alice").Balance)
}

func TestOrchestrator_SubmitTimeoutFailsJob(t *testing.T) {
	h := newHarness(t, 1000)
	h.providers.stallCreate = true
	h.orc.submitTimeout = 30 * time.Millisecond

	job := h.submit(t, alice)

	final := h.job(t, job.ID)
	assert.Equal(t, domain.JobStateFailure, final.Status.State)
	assert.False(t, final.Status.SubmittedToProvider)
	assert.Equal(t, msgFailedToReachProvider, final.Updates[len(final.Updates)-1].Status)
	assert.True(t, final.Status.Finalized)
	assert.Equal(t, int64(0), h.wallet(t, "user:alice").Reserved)
	assert.Equal(t, int64(1000), h.wallet(t, "user:alice").Balance)
}

func TestOrchestrator_CallerGoneAfterCommit(t *testing.T) {
	tests := []struct {
		name  string
		act   func(ctx context.Context, h *harness, jobID string) error
		check func(t *testing.T, h *harness, jobID string)
	}{
		{
			name: "completion is still settled",
			act: func(ctx context.Context, h *harness, jobID string) error {
				_, err := h.orc.Complete(ctx, providerID, jobID, &domain.SimpleDuration{Minutes: 10}, true)
				return err
			},
			check: func(t *testing.T, h *harness, jobID string) {
				final := h.job(t, jobID)
				assert.Equal(t, domain.JobStateSuccess, final.Status.State)
				assert.True(t, final.Status.Finalized)
				assert.Equal(t, int64(900), h.wallet(t, "user:alice").Balance)
				assert.Equal(t, int64(0), h.wallet(t, "user:alice").Reserved)
			},
		},
		{
			name: "cancellation still reaches the provider",
			act: func(ctx context.Context, h *harness, jobID string) error {
				_, err := h.orc.Cancel(ctx, alice, jobID)
				return err
			},
			check: func(t *testing.T, h *harness, jobID string) {
				assert.Equal(t, domain.JobStateCanceling, h.job(t, jobID).Status.State)
				assert.Equal(t, []string{jobID}, h.fake.Canceled())
			},
		},
		{
			name: "forced failure is still finalized",
			act: func(ctx context.Context, h *harness, jobID string) error {
				_, err := h.orc.ForceState(ctx, jobID, domain.JobStateFailure, "lost")
				return err
			},
			check: func(t *testing.T, h *harness, jobID string) {
				final := h.job(t, jobID)
				assert.Equal(t, domain.JobStateFailure, final.Status.State)
				assert.True(t, final.Status.Finalized)
				assert.Equal(t, int64(0), h.wallet(t, "user:alice").Reserved)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1000)
			job := h.submit(t, alice)
			_, err := h.orc.ProposeStateChange(context.Background(), providerID, job.ID, domain.JobStateRunning, "")
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			h.db.afterUpdate = cancel

			require.NoError(t, tt.act(ctx, h, job.ID))
			tt.check(t, h, job.ID)
		})
	}
}

func TestOrchestrator_CanceledRequestChangesNothing(t *testing.T) {
	h := newHarness(t, 1000)
	job := h.submit(t, alice)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orc.Cancel(ctx, alice, job.ID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.JobStateInQueue, h.job(t, job.ID).Status.State)
	assert.Empty(t, h.fake.Canceled())
}

func TestOrchestrator_QuotaExceededCreatesNoJob(t *testing.T) {
	h := newHarness(t, 100)

	_, err := h.orc.Submit(context.Background(), alice, testutil.Specification())
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ReasonQuotaExceeded, appErr.Reason)
	assert.Equal(t, 0, h.store.JobCount())
	assert.Empty(t, h.fake.Created())
}

func TestOrchestrator_DuplicateSubmission(t *testing.T) {
	h := newHarness(t, 10000)
	ctx := context.Background()
	h.submit(t, alice)

	_, err := h.orc.Submit(ctx, alice, testutil.Specification())
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	spec := testutil.Specification()
	spec.AllowDuplicateJob = true
	_, err = h.orc.Submit(ctx, alice, spec)
	assert.NoError(t, err)
	h.orc.Wait()
	assert.Equal(t, 2, h.store.JobCount())
}

func TestOrchestrator_ChargeSuspendsWhenOutOfCredits(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	job := h.submit(t, alice)
	_, err := h.orc.ProposeStateChange(ctx, providerID, job.ID, domain.JobStateRunning, "")
	require.NoError(t, err)

	report, err := h.orc.Charge(ctx, providerID, []ChargeItem{
		{JobID: job.ID, ChargeID: "c1", WallDuration: 30 * time.Minute},
		{JobID: job.ID, ChargeID: "c1", WallDuration: 30 * time.Minute},
		{JobID: job.ID, ChargeID: "c2", WallDuration: 45 * time.Minute},
		{JobID: "missing", ChargeID: "c1", WallDuration: time.Minute},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, report.Duplicates)
	assert.Equal(t, []string{job.ID}, report.InsufficientFunds)

	assert.Equal(t, domain.JobStateSuspended, h.job(t, job.ID).Status.State)
	assert.Equal(t, []string{job.ID}, h.fake.Suspended())
}

func TestOrchestrator_HandleIncomingFile(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	job := h.submit(t, alice)

	_, err := h.orc.HandleIncomingFile(ctx, providerID, job.ID, "out.txt", false, strings.NewReader("x"), -1)
	assert.ErrorIs(t, err, apperrors.ErrLengthRequired)

	_, err = h.orc.HandleIncomingFile(ctx, "intruder", job.ID, "out.txt", false, strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	target, err := h.orc.HandleIncomingFile(ctx, providerID, job.ID, "out.txt", false, strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, job.Status.OutputFolder+"/out.txt", target)
	content, ok := h.objects.Content(strings.TrimPrefix(target, "/"))
	require.True(t, ok)
	assert.Equal(t, "hello", string(content))
}

func TestOrchestrator_Extend(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	job := h.submit(t, alice)

	updated, err := h.orc.Extend(ctx, alice, job.ID, domain.SimpleDuration{Minutes: 30})
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, updated.Status.AllocatedTime.Duration())
	assert.Equal(t, int64(900), h.wallet(t, "user:alice").Reserved)
	require.Len(t, h.fake.Extended(), 1)
	assert.Equal(t, domain.SimpleDuration{Minutes: 30}, h.fake.Extended()[0].RequestedTime)

	_, err = h.orc.Extend(ctx, alice, job.ID, domain.SimpleDuration{Hours: 1})
	assert.ErrorIs(t, err, apperrors.ErrPaymentRequired)
}

func TestOrchestrator_Expire(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	job := h.submit(t, alice)
	_, err := h.orc.ProposeStateChange(ctx, providerID, job.ID, domain.JobStateRunning, "")
	require.NoError(t, err)

	applied, err := h.orc.Expire(ctx, h.job(t, job.ID))
	require.NoError(t, err)
	assert.True(t, applied)

	final := h.job(t, job.ID)
	assert.Equal(t, domain.JobStateExpired, final.Status.State)
	assert.Equal(t, []string{job.ID}, h.fake.Canceled())
	assert.Equal(t, int64(400), h.wallet(t, "user:alice").Balance)
}

func TestOrchestrator_InteractiveSession(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	job := h.submit(t, alice)

	_, err := h.orc.OpenInteractiveSession(ctx, alice, job.ID, 0, provider.SessionShell)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = h.orc.ProposeStateChange(ctx, providerID, job.ID, domain.JobStateRunning, "")
	require.NoError(t, err)

	session, err := h.orc.OpenInteractiveSession(ctx, alice, job.ID, 0, provider.SessionShell)
	require.NoError(t, err)
	assert.Equal(t, job.ID, session.JobID)

	require.Len(t, h.fake.Sessions(), 1)
	assert.Equal(t, provider.SessionShell, h.fake.Sessions()[0].SessionType)

	_, err = h.orc.OpenInteractiveSession(ctx, alice, job.ID, 0, provider.SessionType("TELEPATHY"))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = h.orc.OpenInteractiveSession(ctx, alice, job.ID, 3, provider.SessionShell)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestOrchestrator_Lookup(t *testing.T) {
	h := newHarness(t, 1000)
	job := h.submit(t, alice)

	v, err := h.orc.Lookup(context.Background(), providerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, v.Job.ID)
	assert.Equal(t, []string{"alpha", "--threads", "4"}, v.Arguments)

	_, err = h.orc.Lookup(context.Background(), "intruder", job.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestOrchestrator_ReplaySubmitsLostJob(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()

	now := time.Now()
	lost := &domain.Job{
		ID:            "lost-1",
		Owner:         domain.Owner{CreatedBy: "alice"},
		Specification: testutil.Specification(),
		Status:        domain.JobStatus{State: domain.JobStateInQueue, PricePerMinute: 10},
		Updates:       []domain.JobUpdate{{Timestamp: now, State: domain.JobStateInQueue, Status: "Job has been submitted"}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, h.store.CreateJob(ctx, lost))

	require.NoError(t, h.orc.Replay(ctx, lost))
	assert.Equal(t, []string{"lost-1"}, h.fake.Created())
	assert.True(t, h.job(t, "lost-1").Status.SubmittedToProvider)
}

func TestOrchestrator_Resume(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	job := h.submit(t, alice)

	_, err := h.orc.Resume(ctx, alice, job.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = h.orc.ProposeStateChange(ctx, providerID, job.ID, domain.JobStateRunning, "")
	require.NoError(t, err)
	_, err = h.orc.ProposeStateChange(ctx, providerID, job.ID, domain.JobStateSuspended, "")
	require.NoError(t, err)

	resumed, err := h.orc.Resume(ctx, alice, job.ID)
	require.NoError(t, err)
	h.orc.Wait()
	assert.Equal(t, domain.JobStateInQueue, resumed.Status.State)
	assert.Equal(t, []string{job.ID, job.ID}, h.fake.Created())
	assert.True(t, domain.ValidPath(h.job(t, job.ID).StateHistory()))
}
