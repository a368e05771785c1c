package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 5 * time.Second

type Repository interface {
	// Apply appends one entry and moves the cached balance in a single
	// transaction holding the wallet row lock.
	Apply(ctx context.Context, p Posting) (Result, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Entry, error)
	FindByReference(ctx context.Context, accountID uuid.UUID, kind EntryKind, reference string) (*Entry, error)
	Reconcile(ctx context.Context, accountID uuid.UUID, repair bool) (Reconciliation, error)
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", ErrInternal, err)
	}
	return tx, nil
}

// lockWallet creates the wallet row if needed and locks it until the tx ends.
// Every balance change for an account queues on this lock.
func (r *repository) lockWallet(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID) (int64, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (account_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return 0, ErrUnknownAccount
		}
		return 0, fmt.Errorf("%w: ensure wallet: %v", ErrInternal, err)
	}

	var balance int64
	if err := tx.GetContext(ctx, &balance, `SELECT balance FROM wallets WHERE account_id = $1 FOR UPDATE`, accountID); err != nil {
		return 0, fmt.Errorf("%w: lock wallet: %v", ErrInternal, err)
	}
	return balance, nil
}

func (r *repository) findByReference(ctx context.Context, q sqlx.QueryerContext, accountID uuid.UUID, kind EntryKind, reference string) (*Entry, error) {
	var e Entry
	err := sqlx.GetContext(ctx, q, &e, `
		SELECT id, account_id, kind, amount, reference, description, created_at
		FROM ledger_entries
		WHERE account_id = $1 AND kind = $2 AND reference = $3
		ORDER BY created_at
		LIMIT 1
	`, accountID, string(kind), reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find entry: %v", ErrInternal, err)
	}
	return &e, nil
}

func (r *repository) insertEntry(ctx context.Context, tx *sqlx.Tx, p Posting) (uuid.UUID, error) {
	id := uuid.New()
	var ref interface{}
	if p.Reference != "" {
		ref = p.Reference
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, amount, reference, description)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, p.AccountID, string(p.Kind), p.Amount, ref, p.Description)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return uuid.Nil, ErrReferenceConflict
		}
		return uuid.Nil, fmt.Errorf("%w: insert entry: %v", ErrInternal, err)
	}
	return id, nil
}

func (r *repository) updateBalance(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, balance int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE wallets SET balance = $1, updated_at = NOW() WHERE account_id = $2`, balance, accountID); err != nil {
		return fmt.Errorf("%w: update balance: %v", ErrInternal, err)
	}
	return nil
}

func (r *repository) Apply(ctx context.Context, p Posting) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.beginTx(ctx)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	balance, err := r.lockWallet(ctx, tx, p.AccountID)
	if err != nil {
		return Result{}, err
	}

	if p.Kind.deduplicated() && p.Reference != "" {
		existing, err := r.findByReference(ctx, tx, p.AccountID, p.Kind, p.Reference)
		if err != nil {
			return Result{}, err
		}
		if existing != nil {
			if existing.Amount != p.Amount {
				return Result{}, ErrReferenceConflict
			}
			return Result{EntryID: existing.ID, Balance: balance, Replayed: true}, nil
		}
	}

	next := balance + p.Amount
	if next < 0 {
		return Result{}, ErrInsufficientCredit
	}

	entryID, err := r.insertEntry(ctx, tx, p)
	if err != nil {
		return Result{}, err
	}
	if err := r.updateBalance(ctx, tx, p.AccountID, next); err != nil {
		return Result{}, err
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("%w: commit: %v", ErrInternal, err)
	}
	return Result{EntryID: entryID, Balance: next}, nil
}

func (r *repository) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int64
	err := r.db.GetContext(ctx, &balance, `SELECT balance FROM wallets WHERE account_id = $1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get balance: %v", ErrInternal, err)
	}
	return balance, nil
}

func (r *repository) ListEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	entries := []Entry{}
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, account_id, kind, amount, reference, description, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list entries: %v", ErrInternal, err)
	}
	return entries, nil
}

func (r *repository) FindByReference(ctx context.Context, accountID uuid.UUID, kind EntryKind, reference string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return r.findByReference(ctx, r.db, accountID, kind, reference)
}

func (r *repository) Reconcile(ctx context.Context, accountID uuid.UUID, repair bool) (Reconciliation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.beginTx(ctx)
	if err != nil {
		return Reconciliation{}, err
	}
	defer tx.Rollback()

	cached, err := r.lockWallet(ctx, tx, accountID)
	if err != nil {
		return Reconciliation{}, err
	}

	var sum int64
	if err := tx.GetContext(ctx, &sum, `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`, accountID); err != nil {
		return Reconciliation{}, fmt.Errorf("%w: sum entries: %v", ErrInternal, err)
	}

	rec := Reconciliation{
		AccountID:     accountID,
		CachedBalance: cached,
		LedgerBalance: sum,
		Drift:         cached - sum,
	}
	if rec.Drift != 0 && repair && sum >= 0 {
		if err := r.updateBalance(ctx, tx, accountID, sum); err != nil {
			return Reconciliation{}, err
		}
		rec.Repaired = true
	}

	if err := tx.Commit(); err != nil {
		return Reconciliation{}, fmt.Errorf("%w: commit: %v", ErrInternal, err)
	}
	return rec, nil
}
