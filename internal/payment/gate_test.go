package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage/memstore"
	"github.com/cuongbtq/ucloud-orchestrator/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGate(t *testing.T, balance int64, autoExtend bool) (*Gate, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.SetWallet(domain.Wallet{ID: "user:alice", Balance: balance})
	return New(Config{Ledger: store, AutoExtend: autoExtend, Logger: logger.Discard()}), store
}

func testJob(id string) *domain.Job {
	return &domain.Job{
		ID:    id,
		Owner: domain.Owner{CreatedBy: "alice"},
		Specification: domain.JobSpecification{
			Product:  domain.ProductRef{ID: "u1-standard", Category: "u1", Provider: "k8s"},
			Replicas: 1,
		},
		Status: domain.JobStatus{PricePerMinute: 10},
	}
}

func wallet(t *testing.T, s *memstore.Store) *domain.Wallet {
	t.Helper()
	w, err := s.GetWallet(context.Background(), "user:alice")
	require.NoError(t, err)
	return w
}

func TestGate_ReserveIsIdempotent(t *testing.T) {
	g, store := newGate(t, 1000, false)
	ctx := context.Background()
	job := testJob("j1")

	first, err := g.Reserve(ctx, job, 600)
	require.NoError(t, err)
	second, err := g.Reserve(ctx, job, 600)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(600), wallet(t, store).Reserved)

	entries, err := store.Entries(ctx, "j1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGate_ReserveConcurrently(t *testing.T) {
	g, store := newGate(t, 1000, false)
	job := testJob("j1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Reserve(context.Background(), job, 300)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(300), wallet(t, store).Reserved)
}

func TestGate_ReserveRejects(t *testing.T) {
	g, _ := newGate(t, 500, false)
	ctx := context.Background()

	_, err := g.Reserve(ctx, testJob("j1"), 600)
	assert.ErrorIs(t, err, apperrors.ErrPaymentRequired)

	_, err = g.Reserve(ctx, testJob("j2"), 100)
	require.NoError(t, err)
	_, err = g.Reserve(ctx, testJob("j2"), 200)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	job := testJob("j3")
	job.Owner = domain.Owner{CreatedBy: "bob"}
	_, err = g.Reserve(ctx, job, 1)
	assert.ErrorIs(t, err, apperrors.ErrPaymentRequired)
}

func TestGate_ChargeAndRelease(t *testing.T) {
	g, store := newGate(t, 1000, false)
	ctx := context.Background()
	job := testJob("j1")
	_, err := g.Reserve(ctx, job, 600)
	require.NoError(t, err)

	result, err := g.Charge(ctx, job, Usage{ChargeID: "c1", Duration: 10 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, Charged, result)

	result, err = g.Charge(ctx, job, Usage{ChargeID: "c1", Duration: 10 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, Duplicate, result)

	w := wallet(t, store)
	assert.Equal(t, int64(900), w.Balance)
	assert.Equal(t, int64(500), w.Reserved)

	require.NoError(t, g.Release(ctx, job))
	require.NoError(t, g.Release(ctx, job))

	w = wallet(t, store)
	assert.Equal(t, int64(900), w.Balance)
	assert.Equal(t, int64(0), w.Reserved)

	r, err := g.Reservation(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, r.Released)
	assert.Equal(t, int64(100), r.Charged)
}

func TestGate_SettleCountsEarlierCharges(t *testing.T) {
	g, store := newGate(t, 1000, false)
	ctx := context.Background()
	job := testJob("j1")
	_, err := g.Reserve(ctx, job, 600)
	require.NoError(t, err)

	_, err = g.Charge(ctx, job, Usage{ChargeID: "p1", Duration: 4 * time.Minute})
	require.NoError(t, err)

	result, err := g.Settle(ctx, job, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Charged, result)

	result, err = g.Settle(ctx, job, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, result)

	assert.Equal(t, int64(900), wallet(t, store).Balance)
}

func TestGate_ChargeBeyondReservation(t *testing.T) {
	tests := []struct {
		name         string
		balance      int64
		autoExtend   bool
		want         ChargeResult
		wantBalance  int64
		wantReserved int64
	}{
		{name: "no auto extension", balance: 1000, autoExtend: false, want: InsufficientFunds, wantBalance: 900, wantReserved: 0},
		{name: "auto extension", balance: 1000, autoExtend: true, want: Charged, wantBalance: 850, wantReserved: 0},
		{name: "auto extension without funds", balance: 120, autoExtend: true, want: InsufficientFunds, wantBalance: 20, wantReserved: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, store := newGate(t, tt.balance, tt.autoExtend)
			ctx := context.Background()
			job := testJob("j1")
			_, err := g.Reserve(ctx, job, 100)
			require.NoError(t, err)

			result, err := g.Charge(ctx, job, Usage{ChargeID: "c1", Duration: 15 * time.Minute})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result)

			w := wallet(t, store)
			assert.Equal(t, tt.wantBalance, w.Balance)
			assert.Equal(t, tt.wantReserved, w.Reserved)
		})
	}
}

func TestGate_Extend(t *testing.T) {
	g, store := newGate(t, 1000, false)
	ctx := context.Background()
	job := testJob("j1")

	assert.ErrorIs(t, g.Extend(ctx, job, 100, "e1"), apperrors.ErrNotFound)

	_, err := g.Reserve(ctx, job, 600)
	require.NoError(t, err)
	require.NoError(t, g.Extend(ctx, job, 300, "e1"))
	require.NoError(t, g.Extend(ctx, job, 300, "e1"))
	assert.Equal(t, int64(900), wallet(t, store).Reserved)

	assert.ErrorIs(t, g.Extend(ctx, job, 200, "e2"), apperrors.ErrPaymentRequired)

	require.NoError(t, g.Release(ctx, job))
	assert.ErrorIs(t, g.Extend(ctx, job, 10, "e3"), apperrors.ErrConflict)
}

func TestGate_ChargeAfterReleaseConflicts(t *testing.T) {
	g, _ := newGate(t, 1000, false)
	ctx := context.Background()
	job := testJob("j1")
	_, err := g.Reserve(ctx, job, 600)
	require.NoError(t, err)
	require.NoError(t, g.Release(ctx, job))

	_, err = g.Charge(ctx, job, Usage{ChargeID: "late", Duration: time.Minute})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}
