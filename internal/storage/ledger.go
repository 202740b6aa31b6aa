package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/jmoiron/sqlx"
)

const ledgerColumns = `id, wallet_id, job_id, category, kind, amount, charge_id, created_at`

type walletTx struct {
	tx       *sqlx.Tx
	walletID string
}

func (w *walletTx) Wallet(ctx context.Context) (*domain.Wallet, error) {
	var wallet domain.Wallet
	err := w.tx.GetContext(ctx, &wallet,
		`SELECT id, balance, reserved, updated_at FROM wallets WHERE id = $1 FOR UPDATE`, w.walletID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return &wallet, nil
}

func (w *walletTx) JobEntries(ctx context.Context, jobID string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := w.tx.SelectContext(ctx, &entries,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}
	return entries, nil
}

func (w *walletTx) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	_, err := w.tx.NamedExecContext(ctx, `
		INSERT INTO ledger_entries (`+ledgerColumns+`)
		VALUES (:id, :wallet_id, :job_id, :category, :kind, :amount, :charge_id, :created_at)
	`, entry)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (w *walletTx) UpdateWallet(ctx context.Context, wallet *domain.Wallet) error {
	_, err := w.tx.ExecContext(ctx,
		`UPDATE wallets SET balance = $1, reserved = $2, updated_at = $3 WHERE id = $4`,
		wallet.Balance, wallet.Reserved, wallet.UpdatedAt, wallet.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	return nil
}

// Transact runs fn with walletID locked. Everything fn writes commits together.
func (s *Storage) Transact(ctx context.Context, walletID string, fn func(tx WalletTx) error) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&walletTx{tx: tx, walletID: walletID})
	})
}

func (s *Storage) Entries(ctx context.Context, jobID string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := s.db.SelectContext(ctx, &entries,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}
	return entries, nil
}

func (s *Storage) GetWallet(ctx context.Context, walletID string) (*domain.Wallet, error) {
	var wallet domain.Wallet
	err := s.db.GetContext(ctx, &wallet,
		`SELECT id, balance, reserved, updated_at FROM wallets WHERE id = $1`, walletID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}
