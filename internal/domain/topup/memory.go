package topup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository mirrors the unique slip_ref constraint in process.
type MemoryRepository struct {
	mu    sync.Mutex
	items map[uuid.UUID]Request
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[uuid.UUID]Request), now: time.Now}
}

func (m *MemoryRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryRepository) CreatePending(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.SlipRef != nil {
		for _, existing := range m.items {
			if existing.SlipRef != nil && *existing.SlipRef == *r.SlipRef {
				return ErrDuplicateSlip
			}
		}
	}
	now := m.now().UTC()
	r.Status = StatusPending
	r.CreatedAt, r.UpdatedAt = now, now
	m.items[r.ID] = *r
	return nil
}

func (m *MemoryRepository) MarkVerified(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok || r.Status != StatusPending {
		return ErrNotTransitable
	}
	r.Status = StatusVerified
	r.UpdatedAt = m.now().UTC()
	m.items[id] = r
	return nil
}

func (m *MemoryRepository) MarkFailed(_ context.Context, id uuid.UUID, code string, releaseSlip bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok || r.Status != StatusPending {
		return ErrNotTransitable
	}
	r.Status = StatusFailed
	r.FailureCode = &code
	if releaseSlip {
		r.SlipRef = nil
	}
	r.UpdatedAt = m.now().UTC()
	m.items[id] = r
	return nil
}

func (m *MemoryRepository) RecordFailure(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	r.Status = StatusFailed
	r.SlipRef = nil
	r.CreatedAt, r.UpdatedAt = now, now
	m.items[r.ID] = *r
	return nil
}

func (m *MemoryRepository) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.items {
		if r.Status == StatusPending && r.CreatedAt.Before(before) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) ListByAccount(_ context.Context, accountID uuid.UUID, limit, offset int) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.items {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []Request{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ByStatus returns stored requests with the given status.
func (m *MemoryRepository) ByStatus(status Status) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.items {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}
