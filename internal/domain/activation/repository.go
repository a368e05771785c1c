package activation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 5 * time.Second

const selectColumns = `id, order_id, account_id, phone, service, country, status, code,
	vendor_rental_id, retry_count, created_at, updated_at, finished_at`

type Repository interface {
	Create(ctx context.Context, a *Activation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Activation, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*Activation, error)
	// Transition closes a waiting activation. It reports whether a row changed;
	// terminal rows are never touched.
	Transition(ctx context.Context, id uuid.UUID, to Status, code string) (bool, error)
	// RecordRetry bumps retry_count of a waiting activation.
	RecordRetry(ctx context.Context, id uuid.UUID) (bool, error)
	// Reopen moves a completed activation back to waiting for another code.
	// The received code is kept.
	Reopen(ctx context.Context, id uuid.UUID) (bool, error)
	ListStaleWaiting(ctx context.Context, before time.Time, limit int) ([]Activation, error)
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, a *Activation) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return CreateTx(ctx, r.db, a)
}

// CreateTx inserts on any queryer so the insert can join a caller's transaction.
func CreateTx(ctx context.Context, q sqlx.QueryerContext, a *Activation) error {
	err := q.QueryRowxContext(ctx, `
		INSERT INTO activations (id, order_id, account_id, phone, service, country, status, vendor_rental_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, a.ID, a.OrderID, a.AccountID, a.Phone, a.Service, a.Country, a.Status, a.VendorRentalID).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: create activation: %v", ErrInternal, err)
	}
	return nil
}

func (r *repository) get(ctx context.Context, where string, arg interface{}) (*Activation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Activation
	err := r.db.GetContext(ctx, &a, `SELECT `+selectColumns+` FROM activations WHERE `+where+` = $1`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActivationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get activation: %v", ErrInternal, err)
	}
	return &a, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Activation, error) {
	return r.get(ctx, "id", id)
}

func (r *repository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*Activation, error) {
	return r.get(ctx, "order_id", orderID)
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, to Status, code string) (bool, error) {
	if !to.IsTerminal() {
		return false, ErrInvalidTransition
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var c interface{}
	if code != "" {
		c = code
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE activations
		SET status = $2, code = COALESCE($3, code), updated_at = NOW(), finished_at = NOW()
		WHERE id = $1 AND status = 'waiting'
	`, id, string(to), c)
	if err != nil {
		return false, fmt.Errorf("%w: transition activation: %v", ErrInternal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: transition activation: %v", ErrInternal, err)
	}
	return n > 0, nil
}

func (r *repository) RecordRetry(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE activations
		SET retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'waiting'
	`, id)
	if err != nil {
		return false, fmt.Errorf("%w: record retry: %v", ErrInternal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: record retry: %v", ErrInternal, err)
	}
	return n > 0, nil
}

func (r *repository) Reopen(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE activations
		SET status = 'waiting', retry_count = retry_count + 1, finished_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'completed'
	`, id)
	if err != nil {
		return false, fmt.Errorf("%w: reopen activation: %v", ErrInternal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: reopen activation: %v", ErrInternal, err)
	}
	return n > 0, nil
}

func (r *repository) ListStaleWaiting(ctx context.Context, before time.Time, limit int) ([]Activation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	items := []Activation{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+selectColumns+`
		FROM activations
		WHERE status = 'waiting' AND created_at <= $1
		ORDER BY created_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list stale activations: %v", ErrInternal, err)
	}
	return items, nil
}
