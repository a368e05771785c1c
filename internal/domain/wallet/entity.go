package wallet

import (
	"time"

	"github.com/google/uuid"
)

type EntryKind string

const (
	KindTopup      EntryKind = "topup"
	KindPurchase   EntryKind = "purchase"
	KindRefund     EntryKind = "refund"
	KindAdjustment EntryKind = "adjustment"
)

// deduplicated reports whether a posting of this kind with a reference is
// applied at most once per (account, kind, reference).
func (k EntryKind) deduplicated() bool {
	return k == KindTopup || k == KindRefund || k == KindAdjustment
}

// Entry is an immutable ledger fact. Amounts are signed minor units.
type Entry struct {
	ID          uuid.UUID `db:"id" json:"id"`
	AccountID   uuid.UUID `db:"account_id" json:"account_id"`
	Kind        EntryKind `db:"kind" json:"kind"`
	Amount      int64     `db:"amount" json:"amount"`
	Reference   *string   `db:"reference" json:"reference,omitempty"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type Wallet struct {
	AccountID uuid.UUID `db:"account_id" json:"account_id"`
	Balance   int64     `db:"balance" json:"balance"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Posting is a request to append one entry.
type Posting struct {
	AccountID   uuid.UUID
	Kind        EntryKind
	Amount      int64
	Reference   string
	Description string
}

// Result of applying a posting. Replayed is set when a deduplicated posting
// had already been applied and nothing was written.
type Result struct {
	EntryID  uuid.UUID
	Balance  int64
	Replayed bool
}

// Reconciliation compares the cached balance with the ledger sum.
type Reconciliation struct {
	AccountID     uuid.UUID `json:"account_id"`
	CachedBalance int64     `json:"cached_balance"`
	LedgerBalance int64     `json:"ledger_balance"`
	Drift         int64     `json:"drift"`
	Repaired      bool      `json:"repaired"`
}
