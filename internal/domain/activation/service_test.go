package activation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/numrent/numrent-api/internal/domain/order"
	"github.com/numrent/numrent-api/internal/pkg/smsvendor"
)

type fakeVendor struct {
	mu        sync.Mutex
	status    smsvendor.Status
	statusErr error
	setErr    error
	actions   []smsvendor.Action
}

func (f *fakeVendor) GetStatus(_ context.Context, _ string) (smsvendor.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeVendor) SetStatus(_ context.Context, _ string, action smsvendor.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeVendor) sent(action smsvendor.Action) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.actions {
		if a == action {
			return true
		}
	}
	return false
}

type fixture struct {
	svc    *Service
	repo   *MemoryRepository
	orders *order.MemoryRepository
	vendor *fakeVendor
	start  time.Time
	now    time.Time
}

func (f *fixture) at(d time.Duration) { f.now = f.start.Add(d) }

func newFixture(t *testing.T) (*fixture, *Activation) {
	t.Helper()
	f := &fixture{
		repo:   NewMemoryRepository(),
		orders: order.NewMemoryRepository(),
		vendor: &fakeVendor{status: smsvendor.Status{State: smsvendor.StateWaiting}},
		start:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.now = f.start
	clock := func() time.Time { return f.now }
	f.repo.SetClock(clock)
	f.orders.SetClock(clock)
	f.svc = NewService(f.repo, f.orders, f.vendor, DefaultConfig()).WithClock(clock)

	ctx := context.Background()
	o := &order.Order{
		ID:           uuid.New(),
		AccountID:    uuid.New(),
		Service:      "tg",
		Country:      "52",
		BasePrice:    decimal.RequireFromString("20"),
		BaseCurrency: "RUB",
		Price:        3750,
		Status:       order.StatusPending,
	}
	if err := f.orders.Create(ctx, o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := f.orders.MarkActive(ctx, o.ID, "+66811111111"); err != nil {
		t.Fatalf("activate order: %v", err)
	}
	a := &Activation{
		ID:             uuid.New(),
		OrderID:        o.ID,
		AccountID:      o.AccountID,
		Phone:          "+66811111111",
		Service:        o.Service,
		Country:        o.Country,
		Status:         StatusWaiting,
		VendorRentalID: "rent-1",
	}
	if err := f.repo.Create(ctx, a); err != nil {
		t.Fatalf("create activation: %v", err)
	}
	return f, a
}

func (f *fixture) orderStatus(t *testing.T, a *Activation) order.Status {
	t.Helper()
	o, err := f.orders.GetByID(context.Background(), a.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	return o.Status
}

func TestGetStatusBeforeWindowUsesVendor(t *testing.T) {
	f, a := newFixture(t)
	ctx := context.Background()

	f.at(20*time.Minute - time.Millisecond)
	got, err := f.svc.GetStatus(ctx, a.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got.Status != StatusWaiting {
		t.Fatalf("expected waiting just before the boundary, got %s", got.Status)
	}

	f.vendor.status = smsvendor.Status{State: smsvendor.StateCompleted, Code: "482913"}
	got, err = f.svc.GetStatus(ctx, a.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got.Status != StatusCompleted || got.Code == nil || *got.Code != "482913" {
		t.Fatalf("expected completed with code, got %+v", got)
	}
	if f.orderStatus(t, a) != order.StatusCompleted {
		t.Fatalf("order should follow activation to completed")
	}
}

func TestGetStatusAtWindowBoundaryExpires(t *testing.T) {
	f, a := newFixture(t)
	f.vendor.status = smsvendor.Status{State: smsvendor.StateCompleted, Code: "111111"}

	f.at(20 * time.Minute)
	got, err := f.svc.GetStatus(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("expected expired at the boundary, got %s", got.Status)
	}
	if got.HasCode() {
		t.Fatal("expired activation must not pick up the vendor code")
	}
	if f.orderStatus(t, a) != order.StatusExpired {
		t.Fatal("order should be expired")
	}
	if !f.vendor.sent(smsvendor.ActionCancel) {
		t.Fatal("expected the number to be released at the vendor")
	}
}

func TestGetStatusAfterWindowIgnoresWaitingVendor(t *testing.T) {
	f, a := newFixture(t)

	f.at(21 * time.Minute)
	got, err := f.svc.GetStatus(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
}

func TestGetStatusTransientVendorErrorKeepsWaiting(t *testing.T) {
	f, a := newFixture(t)
	f.vendor.statusErr = &smsvendor.APIError{Action: "getStatus", Code: "timeout", Kind: smsvendor.ErrTransient}

	f.at(5 * time.Minute)
	got, err := f.svc.GetStatus(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("transient error should not surface: %v", err)
	}
	if got.Status != StatusWaiting || !got.Stale {
		t.Fatalf("expected stale waiting activation, got status=%s stale=%v", got.Status, got.Stale)
	}
}

func TestCooldownBoundary(t *testing.T) {
	f, a := newFixture(t)
	ctx := context.Background()

	f.at(2*time.Minute - time.Second)
	_, err := f.svc.Cancel(ctx, a.ID)
	var cd *CooldownError
	if !errors.As(err, &cd) || !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected cooldown at 1:59, got %v", err)
	}
	if cd.RemainingSeconds() != 1 {
		t.Fatalf("expected 1s remaining, got %d", cd.RemainingSeconds())
	}
	if _, err := f.svc.RequestAnotherCode(ctx, a.ID); !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected cooldown for retry at 1:59, got %v", err)
	}

	f.at(2 * time.Minute)
	got, err := f.svc.RequestAnotherCode(ctx, a.ID)
	if err != nil {
		t.Fatalf("retry at 2:00 should be allowed: %v", err)
	}
	if got.RetryCount != 1 || got.Status != StatusWaiting {
		t.Fatalf("unexpected activation after retry: %+v", got)
	}
	if !f.vendor.sent(smsvendor.ActionRetry) {
		t.Fatal("expected retry to reach the vendor")
	}
}

func TestCancelAfterCooldown(t *testing.T) {
	f, a := newFixture(t)
	ctx := context.Background()

	f.at(90 * time.Second)
	_, err := f.svc.Cancel(ctx, a.ID)
	var cd *CooldownError
	if !errors.As(err, &cd) {
		t.Fatalf("expected cooldown error, got %v", err)
	}
	if cd.RemainingSeconds() != 30 {
		t.Fatalf("expected 30s remaining, got %d", cd.RemainingSeconds())
	}

	f.at(121 * time.Second)
	got, err := f.svc.Cancel(ctx, a.ID)
	if err != nil {
		t.Fatalf("cancel at T+121s: %v", err)
	}
	if got.Status != StatusCancelled || got.FinishedAt == nil {
		t.Fatalf("expected cancelled activation, got %+v", got)
	}
	if f.orderStatus(t, a) != order.StatusCancelled {
		t.Fatal("order should be cancelled")
	}
}

func TestTerminalStatesAreSticky(t *testing.T) {
	f, a := newFixture(t)
	ctx := context.Background()

	f.at(3 * time.Minute)
	if _, err := f.svc.Cancel(ctx, a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	f.vendor.status = smsvendor.Status{State: smsvendor.StateCompleted, Code: "999999"}
	got, err := f.svc.GetStatus(ctx, a.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("cancelled activation changed to %s", got.Status)
	}
	if _, err := f.svc.Cancel(ctx, a.ID); !errors.Is(err, ErrActivationClosed) {
		t.Fatalf("expected ErrActivationClosed, got %v", err)
	}
	if _, err := f.svc.RequestAnotherCode(ctx, a.ID); !errors.Is(err, ErrActivationClosed) {
		t.Fatalf("expected ErrActivationClosed, got %v", err)
	}

	f.at(30 * time.Minute)
	got, _ = f.svc.GetStatus(ctx, a.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("expiry must not override a terminal state, got %s", got.Status)
	}
}

func TestCancelVendorFailureLeavesActivationWaiting(t *testing.T) {
	f, a := newFixture(t)
	f.vendor.setErr = &smsvendor.APIError{Action: "setStatus", Code: "503", Kind: smsvendor.ErrTransient}

	f.at(5 * time.Minute)
	if _, err := f.svc.Cancel(context.Background(), a.ID); !errors.Is(err, ErrVendorFailure) {
		t.Fatalf("expected ErrVendorFailure, got %v", err)
	}
	got, _ := f.repo.GetByID(context.Background(), a.ID)
	if got.Status != StatusWaiting {
		t.Fatalf("activation should still be waiting, got %s", got.Status)
	}
}

func TestActionAfterWindowExpires(t *testing.T) {
	f, a := newFixture(t)

	f.at(25 * time.Minute)
	if _, err := f.svc.Cancel(context.Background(), a.ID); !errors.Is(err, ErrActivationClosed) {
		t.Fatalf("expected ErrActivationClosed, got %v", err)
	}
	got, _ := f.repo.GetByID(context.Background(), a.ID)
	if got.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
}

func TestExpireStale(t *testing.T) {
	f, a := newFixture(t)
	ctx := context.Background()

	f.at(10 * time.Minute)
	n, err := f.svc.ExpireStale(ctx, 10)
	if err != nil || n != 0 {
		t.Fatalf("nothing should expire yet, n=%d err=%v", n, err)
	}

	f.at(20 * time.Minute)
	n, err = f.svc.ExpireStale(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("expected one expiry, n=%d err=%v", n, err)
	}
	got, _ := f.repo.GetByID(ctx, a.ID)
	if got.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
}

func TestRequestAnotherCodeReopensCompleted(t *testing.T) {
	f, a := newFixture(t)
	ctx := context.Background()
	f.vendor.status = smsvendor.Status{State: smsvendor.StateCompleted, Code: "111111"}

	f.at(time.Minute)
	got, err := f.svc.GetStatus(ctx, a.ID)
	if err != nil || got.Status != StatusCompleted || f.orderStatus(t, a) != order.StatusCompleted {
		t.Fatalf("expected completed, got %+v %v", got, err)
	}

	f.at(3 * time.Minute)
	f.vendor.status = smsvendor.Status{State: smsvendor.StateWaiting}
	got, err = f.svc.RequestAnotherCode(ctx, a.ID)
	if err != nil {
		t.Fatalf("retry after a code: %v", err)
	}
	if got.Status != StatusWaiting || got.FinishedAt != nil || got.RetryCount != 1 {
		t.Fatalf("expected reopened activation, got %+v", got)
	}
	if !got.HasCode() || *got.Code != "111111" {
		t.Fatalf("the earlier code must be kept, got %+v", got.Code)
	}
	if f.orderStatus(t, a) != order.StatusActive {
		t.Fatalf("expected order back to active, got %s", f.orderStatus(t, a))
	}
	if !f.vendor.sent(smsvendor.ActionRetry) {
		t.Fatal("expected a vendor retry")
	}

	f.vendor.status = smsvendor.Status{State: smsvendor.StateCompleted, Code: "222222"}
	got, _ = f.svc.GetStatus(ctx, a.ID)
	if got.Status != StatusCompleted || *got.Code != "222222" {
		t.Fatalf("expected the second code, got %+v", got)
	}

	f.at(21 * time.Minute)
	if _, err := f.svc.RequestAnotherCode(ctx, a.ID); !errors.Is(err, ErrActivationClosed) {
		t.Fatalf("expected ErrActivationClosed after the window, got %v", err)
	}
	if got, _ := f.repo.GetByID(ctx, a.ID); got.Status != StatusCompleted {
		t.Fatalf("a completed activation must not expire, got %s", got.Status)
	}
}

func TestReopenedActivationExpiresWithItsCode(t *testing.T) {
	f, a := newFixture(t)
	ctx := context.Background()
	f.vendor.status = smsvendor.Status{State: smsvendor.StateCompleted, Code: "111111"}
	f.at(time.Minute)
	f.svc.GetStatus(ctx, a.ID)

	f.at(3 * time.Minute)
	f.vendor.status = smsvendor.Status{State: smsvendor.StateWaiting}
	if _, err := f.svc.RequestAnotherCode(ctx, a.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}

	f.at(20 * time.Minute)
	if n, err := f.svc.ExpireStale(ctx, 10); err != nil || n != 1 {
		t.Fatalf("expected one expiry, n=%d err=%v", n, err)
	}
	got, _ := f.repo.GetByID(ctx, a.ID)
	if got.Status != StatusExpired || !got.HasCode() {
		t.Fatalf("expected expired activation with its code, got %+v", got)
	}
	if f.orderStatus(t, a) != order.StatusExpired {
		t.Fatalf("expected expired order, got %s", f.orderStatus(t, a))
	}
}

func TestCancelAfterUnpolledCodeIsRefused(t *testing.T) {
	f, a := newFixture(t)
	f.vendor.status = smsvendor.Status{State: smsvendor.StateCompleted, Code: "770011"}

	f.at(4 * time.Minute)
	if _, err := f.svc.Cancel(context.Background(), a.ID); !errors.Is(err, ErrActivationClosed) {
		t.Fatalf("expected ErrActivationClosed, got %v", err)
	}
	got, _ := f.repo.GetByID(context.Background(), a.ID)
	if got.Status != StatusCompleted || !got.HasCode() {
		t.Fatalf("expected completed activation with the late code, got %+v", got)
	}
	if f.vendor.sent(smsvendor.ActionCancel) {
		t.Fatal("a delivered rental must not be cancelled at the vendor")
	}
}
