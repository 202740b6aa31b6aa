package memstore

import (
	"context"
	"sync"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage"
)

// SetWallet creates or replaces a wallet.
func (s *Store) SetWallet(w domain.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[w.ID] = &w
	if _, ok := s.walletMu[w.ID]; !ok {
		s.walletMu[w.ID] = &sync.Mutex{}
	}
}

func (s *Store) GetWallet(_ context.Context, walletID string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *w
	return &c, nil
}

func (s *Store) Entries(_ context.Context, jobID string) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range s.ledger {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

// walletTx stages writes until Transact commits them.
type walletTx struct {
	store    *Store
	walletID string
	wallet   *domain.Wallet
	appended []domain.LedgerEntry
}

func (t *walletTx) Wallet(ctx context.Context) (*domain.Wallet, error) {
	if t.wallet == nil {
		w, err := t.store.GetWallet(ctx, t.walletID)
		if err != nil {
			return nil, err
		}
		t.wallet = w
	}
	c := *t.wallet
	return &c, nil
}

func (t *walletTx) JobEntries(ctx context.Context, jobID string) ([]domain.LedgerEntry, error) {
	entries, err := t.store.Entries(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, e := range t.appended {
		if e.JobID == jobID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func sameKey(a, b domain.LedgerEntry) bool {
	return a.JobID == b.JobID && a.Kind == b.Kind && a.ChargeID == b.ChargeID
}

func (t *walletTx) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	existing, err := t.JobEntries(ctx, entry.JobID)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if sameKey(e, *entry) {
			return storage.ErrDuplicateEntry
		}
	}
	t.appended = append(t.appended, *entry)
	return nil
}

func (t *walletTx) UpdateWallet(_ context.Context, wallet *domain.Wallet) error {
	c := *wallet
	t.wallet = &c
	return nil
}

func (s *Store) Transact(ctx context.Context, walletID string, fn func(tx storage.WalletTx) error) error {
	s.mu.Lock()
	lock, ok := s.walletMu[walletID]
	if !ok {
		lock = &sync.Mutex{}
		s.walletMu[walletID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	tx := &walletTx{store: s, walletID: walletID}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, tx.appended...)
	if tx.wallet != nil {
		if _, ok := s.wallets[walletID]; ok {
			w := *tx.wallet
			s.wallets[walletID] = &w
		}
	}
	return nil
}
