// Package payment reserves, charges and releases credits for jobs against an append-only ledger.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/observability"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage"
	"github.com/google/uuid"
)

// FinalChargeID identifies the settlement charge made when a job completes.
const FinalChargeID = "final"

// ChargeResult is the outcome of a charge.
type ChargeResult string

const (
	Charged           ChargeResult = "CHARGED"
	InsufficientFunds ChargeResult = "INSUFFICIENT_FUNDS"
	Duplicate         ChargeResult = "DUPLICATE"
)

// Token identifies an open reservation.
type Token struct {
	ID       string `json:"id"`
	JobID    string `json:"jobId"`
	WalletID string `json:"walletId"`
	Amount   int64  `json:"amount"`
}

// Usage is wall time consumed by all replicas of a job in one charge period.
type Usage struct {
	ChargeID string
	Duration time.Duration
}

// Config holds the dependencies of a Gate.
type Config struct {
	Ledger storage.LedgerStore
	// AutoExtend lets a charge beyond the reservation grow it when the wallet allows.
	AutoExtend bool
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// Gate is the payment and accounting gate.
type Gate struct {
	ledger     storage.LedgerStore
	autoExtend bool
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func New(cfg Config) *Gate {
	return &Gate{
		ledger:     cfg.Ledger,
		autoExtend: cfg.AutoExtend,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

func (g *Gate) entry(job *domain.Job, kind domain.LedgerKind, amount int64, chargeID string) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:        uuid.NewString(),
		WalletID:  job.Owner.WalletID(),
		JobID:     job.ID,
		Category:  job.Specification.Product.Category,
		Kind:      kind,
		Amount:    amount,
		ChargeID:  chargeID,
		CreatedAt: g.now(),
	}
}

func (g *Gate) record(ctx context.Context, kind domain.LedgerKind, result string) {
	g.metrics.RecordLedger(ctx, string(kind), result)
}

// Reserve holds amount for job. Repeating the call with the same amount returns the
// existing reservation; a different amount is a conflict.
func (g *Gate) Reserve(ctx context.Context, job *domain.Job, amount int64) (Token, error) {
	if amount < 0 {
		return Token{}, apperrors.Validation("amount", "reservation must not be negative")
	}
	var token Token
	err := g.ledger.Transact(ctx, job.Owner.WalletID(), func(tx storage.WalletTx) error {
		entries, err := tx.JobEntries(ctx, job.ID)
		if err != nil {
			return err
		}
		if first, ok := firstReservation(entries); ok {
			if first.Amount != amount {
				return apperrors.Conflict("reservation",
					fmt.Sprintf("job %s already reserved %d credits, not %d", job.ID, first.Amount, amount))
			}
			token = Token{ID: first.ID, JobID: job.ID, WalletID: first.WalletID, Amount: first.Amount}
			return nil
		}

		wallet, err := tx.Wallet(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			return apperrors.QuotaExceeded(fmt.Sprintf("no allocation for %s", job.Owner.WalletID()))
		}
		if err != nil {
			return err
		}
		if wallet.Available() < amount {
			return apperrors.QuotaExceeded(fmt.Sprintf("job costs %d credits but only %d are available", amount, wallet.Available()))
		}

		e := g.entry(job, domain.LedgerReserve, amount, "")
		if err := tx.Append(ctx, e); err != nil {
			return err
		}
		wallet.Reserved += amount
		wallet.UpdatedAt = e.CreatedAt
		if err := tx.UpdateWallet(ctx, wallet); err != nil {
			return err
		}
		token = Token{ID: e.ID, JobID: job.ID, WalletID: e.WalletID, Amount: amount}
		return nil
	})
	if err != nil {
		g.record(ctx, domain.LedgerReserve, "rejected")
		return Token{}, err
	}
	g.record(ctx, domain.LedgerReserve, "ok")
	return token, nil
}

// Charge bills usage against the job's reservation at the job's price.
func (g *Gate) Charge(ctx context.Context, job *domain.Job, usage Usage) (ChargeResult, error) {
	if usage.ChargeID == "" {
		return "", apperrors.Validation("chargeId", "charge id is required")
	}
	amount := domain.Cost(job.Status.PricePerMinute, job.Specification.Replicas, usage.Duration)
	return g.charge(ctx, job, usage.ChargeID, func(domain.Reservation) int64 { return amount })
}

// Settle makes the final charge for a job that ran for total wall time. Periodic charges
// already made count towards it.
func (g *Gate) Settle(ctx context.Context, job *domain.Job, total time.Duration) (ChargeResult, error) {
	cost := domain.Cost(job.Status.PricePerMinute, job.Specification.Replicas, total)
	return g.charge(ctx, job, FinalChargeID, func(r domain.Reservation) int64 {
		if due := cost - r.Charged; due > 0 {
			return due
		}
		return 0
	})
}

func (g *Gate) charge(ctx context.Context, job *domain.Job, chargeID string, amountFor func(domain.Reservation) int64) (ChargeResult, error) {
	result := Charged
	err := g.ledger.Transact(ctx, job.Owner.WalletID(), func(tx storage.WalletTx) error {
		entries, err := tx.JobEntries(ctx, job.ID)
		if err != nil {
			return err
		}
		r := domain.ReservationFromEntries(job.ID, entries)
		if !r.Exists() {
			return apperrors.NotFound("reservation", job.ID)
		}
		if r.ChargeIDs[chargeID] {
			result = Duplicate
			return nil
		}
		if r.Released {
			return apperrors.Conflict("reservation", fmt.Sprintf("reservation of job %s is released", job.ID))
		}

		wallet, err := tx.Wallet(ctx)
		if err != nil {
			return err
		}

		amount := amountFor(r)
		remaining := r.Remaining()
		if amount > remaining {
			missing := amount - remaining
			if g.autoExtend && wallet.Available() >= missing {
				if err := tx.Append(ctx, g.entry(job, domain.LedgerExtend, missing, chargeID)); err != nil {
					return err
				}
				wallet.Reserved += missing
				remaining += missing
			} else {
				result = InsufficientFunds
				amount = remaining
			}
		}

		if err := tx.Append(ctx, g.entry(job, domain.LedgerCharge, amount, chargeID)); err != nil {
			return err
		}
		wallet.Balance -= amount
		wallet.Reserved -= amount
		wallet.UpdatedAt = g.now()
		return tx.UpdateWallet(ctx, wallet)
	})
	if errors.Is(err, storage.ErrDuplicateEntry) {
		result, err = Duplicate, nil
	}
	if err != nil {
		g.record(ctx, domain.LedgerCharge, "error")
		return "", err
	}
	g.record(ctx, domain.LedgerCharge, string(result))
	if result == InsufficientFunds {
		g.logger.Warn("Charge exceeds reservation",
			slog.String("job_id", job.ID),
			slog.String("charge_id", chargeID),
		)
	}
	return result, nil
}

// Extend grows the job's reservation by amount. chargeID makes the call idempotent.
func (g *Gate) Extend(ctx context.Context, job *domain.Job, amount int64, chargeID string) error {
	if amount <= 0 {
		return apperrors.Validation("amount", "extension must be positive")
	}
	err := g.ledger.Transact(ctx, job.Owner.WalletID(), func(tx storage.WalletTx) error {
		entries, err := tx.JobEntries(ctx, job.ID)
		if err != nil {
			return err
		}
		r := domain.ReservationFromEntries(job.ID, entries)
		if !r.Exists() {
			return apperrors.NotFound("reservation", job.ID)
		}
		if r.Released {
			return apperrors.Conflict("reservation", fmt.Sprintf("reservation of job %s is released", job.ID))
		}
		wallet, err := tx.Wallet(ctx)
		if err != nil {
			return err
		}
		if wallet.Available() < amount {
			return apperrors.QuotaExceeded(fmt.Sprintf("extension costs %d credits but only %d are available", amount, wallet.Available()))
		}
		if err := tx.Append(ctx, g.entry(job, domain.LedgerExtend, amount, chargeID)); err != nil {
			return err
		}
		wallet.Reserved += amount
		wallet.UpdatedAt = g.now()
		return tx.UpdateWallet(ctx, wallet)
	})
	if errors.Is(err, storage.ErrDuplicateEntry) {
		err = nil
	}
	if err != nil {
		g.record(ctx, domain.LedgerExtend, "rejected")
		return err
	}
	g.record(ctx, domain.LedgerExtend, "ok")
	return nil
}

// Release returns the unused part of the reservation to the wallet. Releasing a job
// without an open reservation does nothing.
func (g *Gate) Release(ctx context.Context, job *domain.Job) error {
	err := g.ledger.Transact(ctx, job.Owner.WalletID(), func(tx storage.WalletTx) error {
		entries, err := tx.JobEntries(ctx, job.ID)
		if err != nil {
			return err
		}
		r := domain.ReservationFromEntries(job.ID, entries)
		if !r.Exists() || r.Released {
			return nil
		}
		wallet, err := tx.Wallet(ctx)
		if err != nil {
			return err
		}
		remaining := r.Remaining()
		if err := tx.Append(ctx, g.entry(job, domain.LedgerRelease, remaining, "")); err != nil {
			return err
		}
		wallet.Reserved -= remaining
		wallet.UpdatedAt = g.now()
		return tx.UpdateWallet(ctx, wallet)
	})
	if errors.Is(err, storage.ErrDuplicateEntry) {
		err = nil
	}
	if err != nil {
		g.record(ctx, domain.LedgerRelease, "error")
		return err
	}
	g.record(ctx, domain.LedgerRelease, "ok")
	return nil
}

// Reservation returns the ledger view of a job.
func (g *Gate) Reservation(ctx context.Context, jobID string) (domain.Reservation, error) {
	entries, err := g.ledger.Entries(ctx, jobID)
	if err != nil {
		return domain.Reservation{}, err
	}
	return domain.ReservationFromEntries(jobID, entries), nil
}

func firstReservation(entries []domain.LedgerEntry) (domain.LedgerEntry, bool) {
	for _, e := range entries {
		if e.Kind == domain.LedgerReserve {
			return e, true
		}
	}
	return domain.LedgerEntry{}, false
}
