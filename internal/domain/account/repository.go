package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository defines account data access
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	// Upsert registers an account id issued by the identity service.
	Upsert(ctx context.Context, id uuid.UUID) (*Account, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	var a Account
	err := r.db.GetContext(ctx, &a, `SELECT id, status, created_at, updated_at FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func (r *repository) Upsert(ctx context.Context, id uuid.UUID) (*Account, error) {
	var a Account
	err := r.db.GetContext(ctx, &a, `
		INSERT INTO accounts (id, status)
		VALUES ($1, 'active')
		ON CONFLICT (id) DO UPDATE SET updated_at = accounts.updated_at
		RETURNING id, status, created_at, updated_at
	`, id)
	if err != nil {
		return nil, fmt.Errorf("upsert account: %w", err)
	}
	return &a, nil
}

func (r *repository) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set account status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
