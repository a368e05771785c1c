package order

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

const selectColumns = `id, account_id, service, country, carrier, base_price, base_currency,
	price, status, phone, failure_code, created_at, updated_at`

type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// MarkActive moves a pending order to active and records the phone.
	MarkActive(ctx context.Context, id uuid.UUID, phone string) error
	// Transition moves the order to `to` only if it is currently in one of
	// `from`. It reports whether a row changed.
	Transition(ctx context.Context, id uuid.UUID, from []Status, to Status, failureCode string) (bool, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Order, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]Order, error)
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, o *Order) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO orders (id, account_id, service, country, carrier, base_price, base_currency, price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, o.ID, o.AccountID, o.Service, o.Country, o.Carrier, o.BasePrice, o.BaseCurrency, o.Price, o.Status).
		Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: create order: %v", ErrInternal, err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var o Order
	err := r.db.GetContext(ctx, &o, `SELECT `+selectColumns+` FROM orders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get order: %v", ErrInternal, err)
	}
	return &o, nil
}

func (r *repository) MarkActive(ctx context.Context, id uuid.UUID, phone string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return MarkActiveTx(ctx, r.db, id, phone)
}

// MarkActiveTx runs the pending→active update on any executor, so callers
// can compose it into a wider transaction.
func MarkActiveTx(ctx context.Context, exec sqlx.ExecerContext, id uuid.UUID, phone string) error {
	res, err := exec.ExecContext(ctx, `
		UPDATE orders SET status = 'active', phone = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, phone)
	if err != nil {
		return fmt.Errorf("%w: mark active: %v", ErrInternal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: mark active: %v", ErrInternal, err)
	}
	if n == 0 {
		return ErrNotTransitable
	}
	return nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from []Status, to Status, failureCode string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	var code interface{}
	if failureCode != "" {
		code = failureCode
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $2, failure_code = COALESCE($3, failure_code), updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
	`, id, string(to), code, pq.Array(states))
	if err != nil {
		return false, fmt.Errorf("%w: transition order: %v", ErrInternal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: transition order: %v", ErrInternal, err)
	}
	return n > 0, nil
}

func (r *repository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Order, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	orders := []Order{}
	err := r.db.SelectContext(ctx, &orders, `
		SELECT `+selectColumns+`
		FROM orders
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list orders: %v", ErrInternal, err)
	}
	return orders, nil
}

func (r *repository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]Order, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	orders := []Order{}
	err := r.db.SelectContext(ctx, &orders, `
		SELECT `+selectColumns+`
		FROM orders
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list stale orders: %v", ErrInternal, err)
	}
	return orders, nil
}
