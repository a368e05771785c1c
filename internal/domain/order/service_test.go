package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newOrder(accountID uuid.UUID) *Order {
	return &Order{
		ID:           uuid.New(),
		AccountID:    accountID,
		Service:      "tg",
		Country:      "52",
		BasePrice:    decimal.RequireFromString("18.5"),
		BaseCurrency: "RUB",
		Price:        1000,
		Status:       StatusPending,
	}
}

func TestTransitionIsGuarded(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	o := newOrder(uuid.New())
	if err := repo.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.MarkActive(ctx, o.ID, "+66800000001"); err != nil {
		t.Fatalf("mark active: %v", err)
	}
	if err := repo.MarkActive(ctx, o.ID, "+66800000002"); !errors.Is(err, ErrNotTransitable) {
		t.Fatalf("expected second MarkActive to fail, got %v", err)
	}

	ok, err := repo.Transition(ctx, o.ID, []Status{StatusActive}, StatusCompleted, "")
	if err != nil || !ok {
		t.Fatalf("expected active->completed, ok=%v err=%v", ok, err)
	}
	ok, _ = repo.Transition(ctx, o.ID, []Status{StatusActive}, StatusCancelled, "cancelled")
	if ok {
		t.Fatal("terminal order must not transition again")
	}

	got, _ := repo.GetByID(ctx, o.ID)
	if got.Status != StatusCompleted || *got.Phone != "+66800000001" {
		t.Fatalf("unexpected order %+v", got)
	}
}

func TestListStalePending(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	acc := uuid.New()

	repo.SetClock(func() time.Time { return base })
	old := newOrder(acc)
	_ = repo.Create(ctx, old)
	repo.SetClock(func() time.Time { return base.Add(10 * time.Minute) })
	fresh := newOrder(acc)
	_ = repo.Create(ctx, fresh)

	stale, err := repo.ListStalePending(ctx, base.Add(5*time.Minute), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Fatalf("expected only the old order, got %+v", stale)
	}
}

func TestGetForAccountHidesOtherAccounts(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	svc := NewService(repo)
	o := newOrder(uuid.New())
	_ = repo.Create(ctx, o)

	if _, err := svc.GetForAccount(ctx, uuid.New(), o.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := svc.GetForAccount(ctx, o.AccountID, o.ID); err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
}

func TestListClampsLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	svc := NewService(repo)
	acc := uuid.New()
	for i := 0; i < 3; i++ {
		_ = repo.Create(ctx, newOrder(acc))
	}

	got, err := svc.List(ctx, acc, 500, -1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(got))
	}
}
