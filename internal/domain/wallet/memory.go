package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process ledger with the same semantics as the
// Postgres repository. A single mutex stands in for the wallet row lock.
type MemoryRepository struct {
	mu       sync.Mutex
	entries  []Entry
	balances map[uuid.UUID]int64

	// FailApply, when set, is returned by Apply for matching postings.
	FailApply func(p Posting) error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{balances: make(map[uuid.UUID]int64)}
}

func (m *MemoryRepository) Apply(_ context.Context, p Posting) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailApply != nil {
		if err := m.FailApply(p); err != nil {
			return Result{}, err
		}
	}

	balance := m.balances[p.AccountID]

	if p.Kind.deduplicated() && p.Reference != "" {
		if e := m.find(p.AccountID, p.Kind, p.Reference); e != nil {
			if e.Amount != p.Amount {
				return Result{}, ErrReferenceConflict
			}
			return Result{EntryID: e.ID, Balance: balance, Replayed: true}, nil
		}
	}

	next := balance + p.Amount
	if next < 0 {
		return Result{}, ErrInsufficientCredit
	}

	e := Entry{
		ID:          uuid.New(),
		AccountID:   p.AccountID,
		Kind:        p.Kind,
		Amount:      p.Amount,
		Description: p.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if p.Reference != "" {
		ref := p.Reference
		e.Reference = &ref
	}
	m.entries = append(m.entries, e)
	m.balances[p.AccountID] = next
	return Result{EntryID: e.ID, Balance: next}, nil
}

func (m *MemoryRepository) find(accountID uuid.UUID, kind EntryKind, reference string) *Entry {
	for i := range m.entries {
		e := &m.entries[i]
		if e.AccountID == accountID && e.Kind == kind && e.Reference != nil && *e.Reference == reference {
			return e
		}
	}
	return nil
}

func (m *MemoryRepository) GetBalance(_ context.Context, accountID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[accountID], nil
}

func (m *MemoryRepository) ListEntries(_ context.Context, accountID uuid.UUID, limit, offset int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for _, e := range m.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	// newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if offset >= len(out) {
		return []Entry{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) FindByReference(_ context.Context, accountID uuid.UUID, kind EntryKind, reference string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.find(accountID, kind, reference); e != nil {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryRepository) Reconcile(_ context.Context, accountID uuid.UUID, repair bool) (Reconciliation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum int64
	for _, e := range m.entries {
		if e.AccountID == accountID {
			sum += e.Amount
		}
	}
	cached := m.balances[accountID]
	rec := Reconciliation{AccountID: accountID, CachedBalance: cached, LedgerBalance: sum, Drift: cached - sum}
	if rec.Drift != 0 && repair && sum >= 0 {
		m.balances[accountID] = sum
		rec.Repaired = true
	}
	return rec, nil
}

// CorruptBalance overwrites the cached balance without a ledger entry.
func (m *MemoryRepository) CorruptBalance(accountID uuid.UUID, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountID] = balance
}

// Entries returns a copy of every entry for the account in insertion order.
func (m *MemoryRepository) Entries(accountID uuid.UUID) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}
