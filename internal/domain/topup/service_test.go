package topup

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/numrent/numrent-api/internal/domain/account"
	"github.com/numrent/numrent-api/internal/domain/wallet"
	"github.com/numrent/numrent-api/internal/pkg/imaging"
	"github.com/numrent/numrent-api/internal/pkg/slipverify"
	"github.com/numrent/numrent-api/internal/pkg/storage"
)

type fakeVerifier struct {
	mu     sync.Mutex
	result slipverify.Result
	err    error
	inputs []slipverify.Input
}

func (f *fakeVerifier) Verify(_ context.Context, in slipverify.Input) (slipverify.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return f.result, f.err
}

func (f *fakeVerifier) set(res slipverify.Result, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result, f.err = res, err
}

type countingWaker struct {
	mu sync.Mutex
	n  int
}

func (w *countingWaker) Notify(context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n++
}

type fixture struct {
	repo     *MemoryRepository
	ledger   *wallet.MemoryRepository
	accounts *account.MemoryRepository
	wallet   *wallet.Service
	verifier *fakeVerifier
	svc      *Service
	account  uuid.UUID

	mu    sync.Mutex
	now   time.Time
	start time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T, balance int64, archive storage.Storage) *fixture {
	t.Helper()
	f := &fixture{
		repo:     NewMemoryRepository(),
		ledger:   wallet.NewMemoryRepository(),
		accounts: account.NewMemoryRepository(),
		verifier: &fakeVerifier{},
		account:  uuid.New(),
		start:    time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	}
	f.now = f.start
	f.repo.SetClock(f.clock)
	f.wallet = wallet.NewService(f.ledger)
	f.svc = NewService(Deps{
		Repo:       f.repo,
		Wallet:     f.wallet,
		Accounts:   account.NewService(f.accounts),
		Verifier:   f.verifier,
		Normalizer: imaging.NewNormalizer(imaging.DefaultConfig()),
		Archive:    archive,
	}, DefaultConfig()).WithClock(f.clock)

	if balance > 0 {
		if _, err := f.wallet.Credit(context.Background(), f.account, balance, wallet.KindTopup, "seed-"+f.account.String(), "seed"); err != nil {
			t.Fatalf("seed balance: %v", err)
		}
	}
	return f
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.wallet.GetBalance(context.Background(), f.account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func slip(ref, amount string, date time.Time) slipverify.Result {
	a := decimal.RequireFromString(amount)
	return slipverify.Result{
		Ref:      ref,
		Amount:   &a,
		Currency: "THB",
		Date:     &date,
		Raw:      []byte(`{"transRef":"` + ref + `"}`),
	}
}

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: 30, G: 120, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestSubmitSlipCreditsOnceAndRejectsReuse(t *testing.T) {
	f := newFixture(t, 10000, nil)
	f.verifier.set(slip("SLIP-001", "500.00", f.start.Add(-time.Hour)), nil)
	ctx := context.Background()

	res, err := f.svc.SubmitSlip(ctx, f.account, Submission{Payload: "0041000600000101030040220"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Amount != 50000 || res.Balance != 60000 || res.SlipRef != "SLIP-001" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := f.balance(t); got != 60000 {
		t.Fatalf("expected balance 60000, got %d", got)
	}
	if verified := f.repo.ByStatus(StatusVerified); len(verified) != 1 || verified[0].Method != MethodSlipPayload {
		t.Fatalf("expected one verified payload request, got %+v", verified)
	}

	// The verifier itself may not flag the second use.
	_, err = f.svc.SubmitSlip(ctx, f.account, Submission{Payload: "0041000600000101030040220"})
	if !errors.Is(err, ErrDuplicateSlip) {
		t.Fatalf("expected ErrDuplicateSlip, got %v", err)
	}

	f.verifier.set(slipverify.Result{}, &slipverify.RejectError{Code: 1012, Kind: slipverify.ErrDuplicate})
	_, err = f.svc.SubmitSlip(ctx, f.account, Submission{Payload: "0041000600000101030040220"})
	if !errors.Is(err, ErrDuplicateSlip) {
		t.Fatalf("expected ErrDuplicateSlip from verifier, got %v", err)
	}
	if got := f.balance(t); got != 60000 {
		t.Fatalf("balance changed after duplicate: %d", got)
	}
}

func TestSubmitSlipStaleness(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		wantErr error
	}{
		{name: "inside window", age: 29 * 24 * time.Hour},
		{name: "outside window", age: 31 * 24 * time.Hour, wantErr: ErrStaleSlip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0, nil)
			f.verifier.set(slip("SLIP-"+tt.name, "120.00", f.start.Add(-tt.age)), nil)

			_, err := f.svc.SubmitSlip(context.Background(), f.account, Submission{Payload: "p"})
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got := f.balance(t); got != 12000 {
					t.Fatalf("expected balance 12000, got %d", got)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if got := f.balance(t); got != 0 {
				t.Fatalf("expected no credit, got %d", got)
			}
			failed := f.repo.ByStatus(StatusFailed)
			if len(failed) != 1 || failed[0].FailureCode == nil || *failed[0].FailureCode != CodeStaleSlip {
				t.Fatalf("expected one STALE_SLIP audit row, got %+v", failed)
			}
		})
	}
}

func TestSubmitSlipRejections(t *testing.T) {
	date := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	noAmount := slip("SLIP-X", "1", date)
	noAmount.Amount = nil
	noDate := slip("SLIP-Y", "1", date)
	noDate.Date = nil

	tests := []struct {
		name    string
		result  slipverify.Result
		err     error
		wantErr error
	}{
		{name: "missing amount", result: noAmount, wantErr: ErrAmountUnreadable},
		{name: "missing date", result: noDate, wantErr: ErrAmountUnreadable},
		{name: "zero amount", result: slip("SLIP-Z", "0", date), wantErr: ErrAmountUnreadable},
		{name: "fractional satang", result: slip("SLIP-F", "10.005", date), wantErr: ErrAmountUnreadable},
		{name: "foreign currency", result: func() slipverify.Result { r := slip("SLIP-C", "10", date); r.Currency = "USD"; return r }(), wantErr: ErrVerificationFailed},
		{name: "no reference", result: slip("", "10", date), wantErr: ErrVerificationFailed},
		{name: "verifier cannot read slip", err: &slipverify.RejectError{Code: 1008, Kind: slipverify.ErrNotFound}, wantErr: ErrVerificationFailed},
		{name: "verifier down", err: slipverify.ErrUnavailable, wantErr: slipverify.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0, nil)
			f.verifier.set(tt.result, tt.err)

			_, err := f.svc.SubmitSlip(context.Background(), f.account, Submission{Payload: "p"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if got := f.balance(t); got != 0 {
				t.Fatalf("expected no credit, got %d", got)
			}
			if len(f.repo.ByStatus(StatusPending))+len(f.repo.ByStatus(StatusVerified)) != 0 {
				t.Fatal("rejected slip must not leave a live request")
			}
		})
	}
}

func TestSubmitSlipEmptyAndBlocked(t *testing.T) {
	f := newFixture(t, 0, nil)
	ctx := context.Background()

	if _, err := f.svc.SubmitSlip(ctx, f.account, Submission{}); !errors.Is(err, ErrEmptySubmission) {
		t.Fatalf("expected ErrEmptySubmission, got %v", err)
	}

	if _, err := f.accounts.Upsert(ctx, f.account); err != nil {
		t.Fatal(err)
	}
	if err := f.accounts.SetStatus(ctx, f.account, account.StatusBlocked); err != nil {
		t.Fatal(err)
	}
	f.verifier.set(slip("SLIP-B", "10", f.start), nil)
	if _, err := f.svc.SubmitSlip(ctx, f.account, Submission{Payload: "p"}); !errors.Is(err, account.ErrAccountBlocked) {
		t.Fatalf("expected ErrAccountBlocked, got %v", err)
	}
	if len(f.verifier.inputs) != 0 {
		t.Fatal("verifier must not be called for a blocked account")
	}
}

func TestSubmitSlipConcurrentDuplicates(t *testing.T) {
	f := newFixture(t, 10000, nil)
	f.verifier.set(slip("SLIP-RACE", "500.00", f.start.Add(-time.Minute)), nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.SubmitSlip(context.Background(), f.account, Submission{Payload: "p"})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateSlip):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one credited submission, got %d", ok)
	}
	if got := f.balance(t); got != 60000 {
		t.Fatalf("expected balance 60000, got %d", got)
	}
}

func TestSubmitSlipImageIsNormalizedAndArchived(t *testing.T) {
	archive, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, 0, archive)
	f.verifier.set(slip("SLIP-IMG", "250.50", f.start.Add(-time.Hour)), nil)

	res, err := f.svc.SubmitSlip(context.Background(), f.account, Submission{Image: pngFixture(t, 64, 96), Filename: "slip.png"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Amount != 25050 {
		t.Fatalf("expected 25050, got %d", res.Amount)
	}
	if len(f.verifier.inputs) != 1 || !bytes.HasPrefix(f.verifier.inputs[0].Image, []byte{0xff, 0xd8}) {
		t.Fatal("verifier should receive the normalized jpeg")
	}

	verified := f.repo.ByStatus(StatusVerified)
	if len(verified) != 1 || verified[0].ImageKey == nil {
		t.Fatalf("expected archived image key, got %+v", verified)
	}
	want := "slips/" + f.account.String() + "/2026/05/" + res.TopupID.String() + ".jpg"
	if *verified[0].ImageKey != want {
		t.Fatalf("expected key %s, got %s", want, *verified[0].ImageKey)
	}
	rc, err := archive.Get(context.Background(), want)
	if err != nil {
		t.Fatalf("archived image missing: %v", err)
	}
	rc.Close()
}

func TestSubmitSlipRejectsNonImage(t *testing.T) {
	f := newFixture(t, 0, nil)
	_, err := f.svc.SubmitSlip(context.Background(), f.account, Submission{Image: []byte("%PDF-1.4 not an image")})
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if len(f.verifier.inputs) != 0 {
		t.Fatal("verifier must not be called for an invalid image")
	}
}

func TestCreditFailureLeavesPendingUntilResumed(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.verifier.set(slip("SLIP-RETRY", "300.00", f.start.Add(-time.Hour)), nil)
	f.ledger.FailApply = func(p wallet.Posting) error { return errors.New("connection reset") }
	waker := &countingWaker{}
	f.svc.waker = waker
	ctx := context.Background()

	_, err := f.svc.SubmitSlip(ctx, f.account, Submission{Payload: "p"})
	if !errors.Is(err, ErrCreditDelayed) {
		t.Fatalf("expected ErrCreditDelayed, got %v", err)
	}
	if waker.n != 1 {
		t.Fatalf("expected one sweep wake-up, got %d", waker.n)
	}
	if len(f.repo.ByStatus(StatusPending)) != 1 {
		t.Fatal("expected request to stay pending")
	}

	// The slip stays claimed while pending.
	f.ledger.FailApply = nil
	if _, err := f.svc.SubmitSlip(ctx, f.account, Submission{Payload: "p"}); !errors.Is(err, ErrDuplicateSlip) {
		t.Fatalf("expected ErrDuplicateSlip while pending, got %v", err)
	}

	f.advance(5 * time.Minute)
	n, err := f.svc.ResumePending(ctx, time.Minute, 10)
	if err != nil || n != 1 {
		t.Fatalf("resume: n=%d err=%v", n, err)
	}
	if got := f.balance(t); got != 30000 {
		t.Fatalf("expected balance 30000, got %d", got)
	}

	n, err = f.svc.ResumePending(ctx, time.Minute, 10)
	if err != nil || n != 0 {
		t.Fatalf("second resume: n=%d err=%v", n, err)
	}
	if got := f.balance(t); got != 30000 {
		t.Fatalf("balance changed on second resume: %d", got)
	}
}

func TestRejectedCreditReleasesSlip(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.verifier.set(slip("SLIP-REL", "40.00", f.start.Add(-time.Hour)), nil)
	f.ledger.FailApply = func(p wallet.Posting) error { return wallet.ErrReferenceConflict }
	ctx := context.Background()

	if _, err := f.svc.SubmitSlip(ctx, f.account, Submission{Payload: "p"}); !errors.Is(err, wallet.ErrReferenceConflict) {
		t.Fatalf("expected ErrReferenceConflict, got %v", err)
	}
	failed := f.repo.ByStatus(StatusFailed)
	if len(failed) != 1 || failed[0].SlipRef != nil {
		t.Fatalf("expected failed request with released slip, got %+v", failed)
	}

	f.ledger.FailApply = nil
	res, err := f.svc.SubmitSlip(ctx, f.account, Submission{Payload: "p"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if res.Balance != 4000 {
		t.Fatalf("expected balance 4000, got %d", res.Balance)
	}
}

func TestHistoryIsAccountScoped(t *testing.T) {
	f := newFixture(t, 0, nil)
	ctx := context.Background()
	f.verifier.set(slip("SLIP-H1", "10.00", f.start), nil)
	if _, err := f.svc.SubmitSlip(ctx, f.account, Submission{Payload: "p"}); err != nil {
		t.Fatal(err)
	}

	other := uuid.New()
	f.verifier.set(slip("SLIP-H2", "10.00", f.start), nil)
	if _, err := f.svc.SubmitSlip(ctx, other, Submission{Payload: "p"}); err != nil {
		t.Fatal(err)
	}

	items, err := f.svc.History(ctx, f.account, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].AccountID != f.account {
		t.Fatalf("expected one request for the account, got %+v", items)
	}
}
