package topup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 5 * time.Second

const selectColumns = `id, account_id, amount, currency, method, status, slip_ref, slip_date,
	image_key, raw_response, failure_code, created_at, updated_at`

type Repository interface {
	// CreatePending inserts a pending request. A slip reference already held
	// by another row fails with ErrDuplicateSlip.
	CreatePending(ctx context.Context, r *Request) error
	MarkVerified(ctx context.Context, id uuid.UUID) error
	// MarkFailed closes a pending request; releaseSlip frees its slip reference.
	MarkFailed(ctx context.Context, id uuid.UUID, code string, releaseSlip bool) error
	// RecordFailure stores a rejected submission for audit. It never holds a slip reference.
	RecordFailure(ctx context.Context, r *Request) error
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]Request, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Request, error)
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (r *repository) CreatePending(ctx context.Context, req *Request) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO topup_requests (id, account_id, amount, currency, method, status, slip_ref, slip_date, image_key, raw_response)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, req.ID, req.AccountID, req.Amount, req.Currency, string(req.Method), req.SlipRef, req.SlipDate, req.ImageKey, nullableJSON(req.RawResponse)).
		Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateSlip
		}
		return fmt.Errorf("%w: create topup: %v", ErrInternal, err)
	}
	req.Status = StatusPending
	return nil
}

func (r *repository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE topup_requests SET status = 'verified', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	return checkUpdated(res, err, "mark verified")
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, code string, releaseSlip bool) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE topup_requests
		SET status = 'failed',
			failure_code = $2,
			slip_ref = CASE WHEN $3 THEN NULL ELSE slip_ref END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, code, releaseSlip)
	return checkUpdated(res, err, "mark failed")
}

func checkUpdated(res interface{ RowsAffected() (int64, error) }, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
	}
	if n == 0 {
		return ErrNotTransitable
	}
	return nil
}

func (r *repository) RecordFailure(ctx context.Context, req *Request) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO topup_requests (id, account_id, amount, currency, method, status, slip_date, image_key, raw_response, failure_code)
		VALUES ($1, $2, $3, $4, $5, 'failed', $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, req.ID, req.AccountID, req.Amount, req.Currency, string(req.Method), req.SlipDate, req.ImageKey, nullableJSON(req.RawResponse), req.FailureCode).
		Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: record failure: %v", ErrInternal, err)
	}
	req.Status = StatusFailed
	return nil
}

func (r *repository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]Request, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	items := []Request{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+selectColumns+`
		FROM topup_requests
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending: %v", ErrInternal, err)
	}
	return items, nil
}

func (r *repository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Request, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	items := []Request{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+selectColumns+`
		FROM topup_requests
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list topups: %v", ErrInternal, err)
	}
	return items, nil
}
