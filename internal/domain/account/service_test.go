package account

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestEnsureActiveRegistersOnFirstSight(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	id := uuid.New()

	a, err := svc.EnsureActive(context.Background(), id)
	if err != nil {
		t.Fatalf("ensure active: %v", err)
	}
	if a.ID != id || a.Status != StatusActive {
		t.Fatalf("unexpected account: %+v", a)
	}
}

func TestEnsureActiveRejectsBlocked(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo)
	id := uuid.New()
	ctx := context.Background()

	if _, err := svc.EnsureActive(ctx, id); err != nil {
		t.Fatalf("ensure active: %v", err)
	}
	if err := svc.Block(ctx, id); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := svc.EnsureActive(ctx, id); !errors.Is(err, ErrAccountBlocked) {
		t.Fatalf("expected ErrAccountBlocked, got %v", err)
	}
	if err := svc.Unblock(ctx, id); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if _, err := svc.EnsureActive(ctx, id); err != nil {
		t.Fatalf("expected active after unblock, got %v", err)
	}
}

func TestEnsureActiveNilID(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	if _, err := svc.EnsureActive(context.Background(), uuid.Nil); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
