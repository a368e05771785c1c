package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps accounts in process. Used by tests and local runs.
type MemoryRepository struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*Account
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[uuid.UUID]*Account)}
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) Upsert(_ context.Context, id uuid.UUID) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		now := time.Now().UTC()
		a = &Account{ID: id, Status: StatusActive, CreatedAt: now, UpdatedAt: now}
		m.accounts[id] = a
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) SetStatus(_ context.Context, id uuid.UUID, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}
