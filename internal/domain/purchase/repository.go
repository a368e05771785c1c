package purchase

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/numrent/numrent-api/internal/domain/activation"
	"github.com/numrent/numrent-api/internal/domain/order"
	"github.com/numrent/numrent-api/internal/domain/wallet"
)

const queryTimeout = 5 * time.Second

// Repository holds writes that span the order and activation tables.
type Repository interface {
	// ActivateOrder marks a pending order active and inserts its activation
	// in one transaction. Either both rows change or neither does.
	ActivateOrder(ctx context.Context, orderID uuid.UUID, phone string, a *activation.Activation) error
	// ListOwedRefunds returns closed orders that still owe their price back:
	// cancelled or failed orders with no activation, plus, when
	// includeUnusedCancels is set, orders whose activation was cancelled
	// without ever receiving a code. Orders with a refund entry are skipped.
	ListOwedRefunds(ctx context.Context, includeUnusedCancels bool, limit int) ([]order.Order, error)
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) ActivateOrder(ctx context.Context, orderID uuid.UUID, phone string, a *activation.Activation) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	if err := order.MarkActiveTx(ctx, tx, orderID, phone); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := activation.CreateTx(ctx, tx, a); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}
	return nil
}

func (r *repository) ListOwedRefunds(ctx context.Context, includeUnusedCancels bool, limit int) ([]order.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	orders := []order.Order{}
	err := r.db.SelectContext(ctx, &orders, `
		SELECT o.id, o.account_id, o.service, o.country, o.carrier, o.base_price, o.base_currency,
			o.price, o.status, o.phone, o.failure_code, o.created_at, o.updated_at
		FROM orders o
		LEFT JOIN activations a ON a.order_id = o.id
		WHERE o.status IN ('cancelled', 'failed')
			AND (a.id IS NULL OR ($1 AND a.status = 'cancelled' AND a.code IS NULL))
			AND NOT EXISTS (
				SELECT 1 FROM ledger_entries e
				WHERE e.account_id = o.account_id AND e.kind = 'refund' AND e.reference = o.id::text
			)
		ORDER BY o.updated_at
		LIMIT $2
	`, includeUnusedCancels, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list owed refunds: %v", ErrStorage, err)
	}
	return orders, nil
}

// MemoryRepository composes the in-memory order, activation and ledger
// stores. Its mutex stands in for the transaction.
type MemoryRepository struct {
	mu          sync.Mutex
	Orders      *order.MemoryRepository
	Activations *activation.MemoryRepository
	Ledger      *wallet.MemoryRepository

	// Fail, when set, makes ActivateOrder fail without touching either store.
	Fail error
}

func NewMemoryRepository(orders *order.MemoryRepository, activations *activation.MemoryRepository, ledger *wallet.MemoryRepository) *MemoryRepository {
	return &MemoryRepository{Orders: orders, Activations: activations, Ledger: ledger}
}

func (m *MemoryRepository) ActivateOrder(ctx context.Context, orderID uuid.UUID, phone string, a *activation.Activation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail != nil {
		return fmt.Errorf("%w: %v", ErrStorage, m.Fail)
	}
	if err := m.Activations.Create(ctx, a); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := m.Orders.MarkActive(ctx, orderID, phone); err != nil {
		m.Activations.Delete(a.ID)
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (m *MemoryRepository) ListOwedRefunds(ctx context.Context, includeUnusedCancels bool, limit int) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []order.Order
	for _, o := range m.Orders.All() {
		if o.Status != order.StatusCancelled && o.Status != order.StatusFailed {
			continue
		}
		a, err := m.Activations.GetByOrderID(ctx, o.ID)
		if err == nil && !(includeUnusedCancels && a.Status == activation.StatusCancelled && !a.HasCode()) {
			continue
		}
		refund, err := m.Ledger.FindByReference(ctx, o.AccountID, wallet.KindRefund, o.ID.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		if refund == nil {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
