package activation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu    sync.Mutex
	items map[uuid.UUID]Activation
	now   func() time.Time

	// FailCreate, when set, is returned by Create.
	FailCreate error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[uuid.UUID]Activation), now: time.Now}
}

func (m *MemoryRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryRepository) Create(_ context.Context, a *Activation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate != nil {
		return m.FailCreate
	}
	for _, existing := range m.items {
		if existing.OrderID == a.OrderID {
			return ErrInternal
		}
	}
	now := m.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	m.items[a.ID] = *a
	return nil
}

// Delete removes a row. It stands in for a rolled-back insert.
func (m *MemoryRepository) Delete(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Activation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrActivationNotFound
	}
	return &a, nil
}

func (m *MemoryRepository) GetByOrderID(_ context.Context, orderID uuid.UUID) (*Activation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.items {
		if a.OrderID == orderID {
			return &a, nil
		}
	}
	return nil, ErrActivationNotFound
}

func (m *MemoryRepository) Transition(_ context.Context, id uuid.UUID, to Status, code string) (bool, error) {
	if !to.IsTerminal() {
		return false, ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status != StatusWaiting {
		return false, nil
	}
	now := m.now().UTC()
	a.Status = to
	if code != "" {
		a.Code = &code
	}
	a.UpdatedAt = now
	a.FinishedAt = &now
	m.items[id] = a
	return true, nil
}

func (m *MemoryRepository) RecordRetry(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status != StatusWaiting {
		return false, nil
	}
	a.RetryCount++
	a.UpdatedAt = m.now().UTC()
	m.items[id] = a
	return true, nil
}

func (m *MemoryRepository) Reopen(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status != StatusCompleted {
		return false, nil
	}
	a.Status = StatusWaiting
	a.RetryCount++
	a.FinishedAt = nil
	a.UpdatedAt = m.now().UTC()
	m.items[id] = a
	return true, nil
}

func (m *MemoryRepository) ListStaleWaiting(_ context.Context, before time.Time, limit int) ([]Activation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Activation
	for _, a := range m.items {
		if a.Status == StatusWaiting && !a.CreatedAt.After(before) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored activations.
func (m *MemoryRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
