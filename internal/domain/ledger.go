package domain

import "time"

// LedgerKind is the type of an accounting ledger entry.
type LedgerKind string

const (
	LedgerReserve LedgerKind = "RESERVE"
	LedgerExtend  LedgerKind = "EXTEND"
	LedgerCharge  LedgerKind = "CHARGE"
	LedgerRelease LedgerKind = "RELEASE"
)

// LedgerEntry is an append-only accounting record keyed by job and product category.
type LedgerEntry struct {
	ID        string     `json:"id" db:"id"`
	WalletID  string     `json:"walletId" db:"wallet_id"`
	JobID     string     `json:"jobId" db:"job_id"`
	Category  string     `json:"category" db:"category"`
	Kind      LedgerKind `json:"kind" db:"kind"`
	Amount    int64      `json:"amount" db:"amount"`
	ChargeID  string     `json:"chargeId,omitempty" db:"charge_id"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
}

// Wallet is a project's or user's accounting balance.
// Reserved is the part of Balance held by open reservations.
type Wallet struct {
	ID        string    `json:"id" db:"id"`
	Balance   int64     `json:"balance" db:"balance"`
	Reserved  int64     `json:"reserved" db:"reserved"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Available is the balance not held by reservations.
func (w Wallet) Available() int64 {
	return w.Balance - w.Reserved
}

// Reservation is the view of a job's ledger entries.
type Reservation struct {
	JobID     string
	WalletID  string
	Category  string
	TokenID   string
	Reserved  int64
	Charged   int64
	Released  bool
	ChargeIDs map[string]bool
}

// Remaining is the part of the reservation not yet charged.
func (r Reservation) Remaining() int64 {
	if r.Released {
		return 0
	}
	if left := r.Reserved - r.Charged; left > 0 {
		return left
	}
	return 0
}

// Exists reports whether a reservation was ever opened.
func (r Reservation) Exists() bool {
	return r.TokenID != ""
}

// ReservationFromEntries folds a job's ledger entries into its reservation.
func ReservationFromEntries(jobID string, entries []LedgerEntry) Reservation {
	r := Reservation{JobID: jobID, ChargeIDs: map[string]bool{}}
	for _, e := range entries {
		if e.JobID != jobID {
			continue
		}
		switch e.Kind {
		case LedgerReserve:
			if r.TokenID == "" {
				r.TokenID = e.ID
				r.WalletID = e.WalletID
				r.Category = e.Category
			}
			r.Reserved += e.Amount
		case LedgerExtend:
			r.Reserved += e.Amount
		case LedgerCharge:
			r.Charged += e.Amount
			if e.ChargeID != "" {
				r.ChargeIDs[e.ChargeID] = true
			}
		case LedgerRelease:
			r.Released = true
		}
	}
	return r
}
