package topup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/numrent/numrent-api/internal/domain/account"
	"github.com/numrent/numrent-api/internal/domain/wallet"
	"github.com/numrent/numrent-api/internal/pkg/imaging"
	"github.com/numrent/numrent-api/internal/pkg/metrics"
	"github.com/numrent/numrent-api/internal/pkg/money"
	"github.com/numrent/numrent-api/internal/pkg/slipverify"
	"github.com/numrent/numrent-api/internal/pkg/storage"
)

// Verifier is satisfied by *slipverify.Client.
type Verifier interface {
	Verify(ctx context.Context, in slipverify.Input) (slipverify.Result, error)
}

type Normalizer interface {
	Normalize(data []byte) (*imaging.Normalized, error)
}

type Wallet interface {
	Credit(ctx context.Context, accountID uuid.UUID, amount int64, kind wallet.EntryKind, ref, description string) (int64, error)
}

type Accounts interface {
	EnsureActive(ctx context.Context, id uuid.UUID) (*account.Account, error)
}

// Waker asks the sweep worker to run early.
type Waker interface {
	Notify(ctx context.Context)
}

type Config struct {
	MaxAge          time.Duration
	VerifierTimeout time.Duration
	Currency        string
}

func DefaultConfig() Config {
	return Config{
		MaxAge:          30 * 24 * time.Hour,
		VerifierTimeout: 20 * time.Second,
		Currency:        "THB",
	}
}

type Service struct {
	repo       Repository
	wallet     Wallet
	accounts   Accounts
	verifier   Verifier
	normalizer Normalizer
	archive    storage.Storage
	waker      Waker
	cfg        Config
	now        func() time.Time
}

type Deps struct {
	Repo       Repository
	Wallet     Wallet
	Accounts   Accounts
	Verifier   Verifier
	Normalizer Normalizer
	// Archive is optional. Without it slip images are not kept.
	Archive storage.Storage
	Waker   Waker
}

func NewService(d Deps, cfg Config) *Service {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig().MaxAge
	}
	if cfg.Currency == "" {
		cfg.Currency = "THB"
	}
	return &Service{
		repo:       d.Repo,
		wallet:     d.Wallet,
		accounts:   d.Accounts,
		verifier:   d.Verifier,
		normalizer: d.Normalizer,
		archive:    d.Archive,
		waker:      d.Waker,
		cfg:        cfg,
		now:        time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submission carries a slip image or the QR payload decoded from it.
type Submission struct {
	Image    []byte
	Filename string
	Payload  string
}

type Result struct {
	TopupID  uuid.UUID
	SlipRef  string
	Amount   int64
	Currency string
	Balance  int64
}

// SubmitSlip verifies a payment slip and credits its amount exactly once.
func (s *Service) SubmitSlip(ctx context.Context, accountID uuid.UUID, sub Submission) (res *Result, err error) {
	defer func() {
		outcome := "credited"
		if err != nil {
			outcome = ErrorCode(err)
		}
		metrics.Topups.WithLabelValues(outcome).Inc()
	}()

	if len(sub.Image) == 0 && sub.Payload == "" {
		return nil, ErrEmptySubmission
	}
	if _, err := s.accounts.EnsureActive(ctx, accountID); err != nil {
		return nil, err
	}

	req := &Request{
		ID:        uuid.New(),
		AccountID: accountID,
		Currency:  s.cfg.Currency,
		Method:    MethodSlipPayload,
	}
	in := slipverify.Input{Payload: sub.Payload}
	var image *imaging.Normalized
	if len(sub.Image) > 0 {
		req.Method = MethodSlipImage
		image, err = s.normalizer.Normalize(sub.Image)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		in = slipverify.Input{Image: image.Data, Filename: req.ID.String() + ".jpg"}
	}

	verified, err := s.verify(ctx, in)
	req.RawResponse = verified.Raw
	if err != nil {
		s.recordFailure(ctx, req, err)
		return nil, err
	}
	req.SlipDate = verified.Date

	amount, err := s.readAmount(verified)
	if err != nil {
		s.recordFailure(ctx, req, err)
		return nil, err
	}
	req.Amount = amount

	if s.now().Sub(*verified.Date) > s.cfg.MaxAge {
		err = fmt.Errorf("%w: dated %s", ErrStaleSlip, verified.Date.Format(time.RFC3339))
		s.recordFailure(ctx, req, err)
		return nil, err
	}

	ref := verified.Ref
	req.SlipRef = &ref
	if image != nil {
		req.ImageKey = s.archiveImage(ctx, req, image)
	}

	if err := s.repo.CreatePending(ctx, req); err != nil {
		if req.ImageKey != nil {
			s.dropImage(*req.ImageKey)
		}
		return nil, err
	}

	balance, err := s.credit(ctx, req)
	if err != nil {
		if isPermanent(err) {
			s.fail(req.ID, CodeCreditRejected)
			return nil, err
		}
		log.Error().Err(err).
			Str("topup_id", req.ID.String()).
			Str("account_id", accountID.String()).
			Msg("top-up credit failed, left pending for retry")
		if s.waker != nil {
			s.waker.Notify(ctx)
		}
		return nil, fmt.Errorf("%w: %v", ErrCreditDelayed, err)
	}
	if err := s.repo.MarkVerified(ctx, req.ID); err != nil {
		log.Warn().Err(err).Str("topup_id", req.ID.String()).Msg("credited top-up not marked verified")
	}

	log.Info().
		Str("topup_id", req.ID.String()).
		Str("account_id", accountID.String()).
		Str("slip_ref", ref).
		Int64("amount", amount).
		Msg("slip top-up credited")

	return &Result{
		TopupID:  req.ID,
		SlipRef:  ref,
		Amount:   amount,
		Currency: req.Currency,
		Balance:  balance,
	}, nil
}

func (s *Service) verify(ctx context.Context, in slipverify.Input) (slipverify.Result, error) {
	if s.cfg.VerifierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.VerifierTimeout)
		defer cancel()
	}

	res, err := s.verifier.Verify(ctx, in)
	switch {
	case err == nil:
	case errors.Is(err, slipverify.ErrDuplicate):
		return res, fmt.Errorf("%w: %w", ErrDuplicateSlip, err)
	case errors.Is(err, slipverify.ErrEmptyInput):
		return res, ErrEmptySubmission
	default:
		return res, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	if res.Ref == "" {
		return res, fmt.Errorf("%w: verifier returned no slip reference", ErrVerificationFailed)
	}
	if res.Currency != "" && res.Currency != s.cfg.Currency {
		return res, fmt.Errorf("%w: slip currency %s", ErrVerificationFailed, res.Currency)
	}
	return res, nil
}

func (s *Service) readAmount(res slipverify.Result) (int64, error) {
	if res.Amount == nil || res.Date == nil {
		return 0, ErrAmountUnreadable
	}
	amount, err := money.FromDecimal(*res.Amount)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("%w: amount %s", ErrAmountUnreadable, res.Amount.String())
	}
	return amount, nil
}

// credit posts the top-up with the request ID as reference, so replays are no-ops.
func (s *Service) credit(ctx context.Context, req *Request) (int64, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	desc := "slip top-up"
	if req.SlipRef != nil {
		desc += " " + *req.SlipRef
	}
	return s.wallet.Credit(ctx, req.AccountID, req.Amount, wallet.KindTopup, req.ID.String(), desc)
}

func isPermanent(err error) bool {
	return errors.Is(err, wallet.ErrUnknownAccount) ||
		errors.Is(err, wallet.ErrReferenceConflict) ||
		errors.Is(err, wallet.ErrInvalidAmount)
}

func (s *Service) fail(id uuid.UUID, code string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.repo.MarkFailed(ctx, id, code, true); err != nil {
		log.Error().Err(err).Str("topup_id", id.String()).Msg("failed to close rejected top-up")
	}
}

func (s *Service) recordFailure(ctx context.Context, req *Request, cause error) {
	code := ErrorCode(cause)
	rec := *req
	rec.ID = uuid.New()
	rec.SlipRef = nil
	rec.FailureCode = &code
	if err := s.repo.RecordFailure(context.WithoutCancel(ctx), &rec); err != nil {
		log.Warn().Err(err).Str("account_id", req.AccountID.String()).Msg("failed to record slip rejection")
	}
	log.Info().Err(cause).
		Str("account_id", req.AccountID.String()).
		Str("code", code).
		Msg("slip rejected")
}

func (s *Service) archiveImage(ctx context.Context, req *Request, image *imaging.Normalized) *string {
	if s.archive == nil {
		return nil
	}
	created := s.now().UTC()
	key := fmt.Sprintf("slips/%s/%04d/%02d/%s.jpg", req.AccountID, created.Year(), int(created.Month()), req.ID)
	if err := s.archive.Put(ctx, key, bytes.NewReader(image.Data), image.ContentType); err != nil {
		log.Warn().Err(err).Str("topup_id", req.ID.String()).Msg("slip image not archived")
		return nil
	}
	return &key
}

func (s *Service) dropImage(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.archive.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to delete archived slip image")
	}
}

// ResumePending retries the credit for requests left pending by a crash or a
// storage fault. The request ID is the ledger reference, so a credit that
// already landed is replayed rather than applied twice.
func (s *Service) ResumePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	pending, err := s.repo.ListPendingBefore(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for i := range pending {
		req := &pending[i]
		if _, err := s.credit(ctx, req); err != nil {
			if isPermanent(err) {
				s.fail(req.ID, CodeCreditRejected)
				continue
			}
			log.Warn().Err(err).Str("topup_id", req.ID.String()).Msg("pending top-up still not credited")
			continue
		}
		if err := s.repo.MarkVerified(ctx, req.ID); err != nil && !errors.Is(err, ErrNotTransitable) {
			log.Warn().Err(err).Str("topup_id", req.ID.String()).Msg("resumed top-up not marked verified")
			continue
		}
		resumed++
	}
	return resumed, nil
}

func (s *Service) History(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Request, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByAccount(ctx, accountID, limit, offset)
}
