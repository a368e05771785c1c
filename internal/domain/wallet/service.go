package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetBalance returns the cached balance. It is never negative.
func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return s.repo.GetBalance(ctx, accountID)
}

// Credit adds funds. Only topup and adjustment credits go through here;
// refunds use Refund so they stay distinguishable in the ledger.
func (s *Service) Credit(ctx context.Context, accountID uuid.UUID, amount int64, kind EntryKind, ref, description string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if kind != KindTopup && kind != KindAdjustment {
		return 0, ErrInvalidKind
	}
	if ref == "" {
		return 0, ErrMissingReference
	}

	res, err := s.repo.Apply(ctx, Posting{AccountID: accountID, Kind: kind, Amount: amount, Reference: ref, Description: description})
	if err != nil {
		return 0, err
	}
	log.Info().
		Str("account_id", accountID.String()).
		Str("kind", string(kind)).
		Int64("amount", amount).
		Str("reference", ref).
		Bool("replayed", res.Replayed).
		Msg("wallet credit applied")
	return res.Balance, nil
}

// Debit removes funds for a purchase. The balance check and the insert happen
// under the wallet lock, so concurrent debits can never overdraw. Debits are
// never deduplicated: two calls always write two entries.
func (s *Service) Debit(ctx context.Context, accountID uuid.UUID, amount int64, ref, description string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if ref == "" {
		return 0, ErrMissingReference
	}

	res, err := s.repo.Apply(ctx, Posting{AccountID: accountID, Kind: KindPurchase, Amount: -amount, Reference: ref, Description: description})
	if err != nil {
		return 0, err
	}
	log.Info().
		Str("account_id", accountID.String()).
		Int64("amount", amount).
		Str("reference", ref).
		Int64("balance", res.Balance).
		Msg("wallet debit applied")
	return res.Balance, nil
}

// Refund returns funds. Idempotent by reference: a second refund for the same
// reference and amount is a no-op that reports the current balance.
func (s *Service) Refund(ctx context.Context, accountID uuid.UUID, amount int64, ref, description string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if ref == "" {
		return 0, ErrMissingReference
	}

	res, err := s.repo.Apply(ctx, Posting{AccountID: accountID, Kind: KindRefund, Amount: amount, Reference: ref, Description: description})
	if err != nil {
		return 0, err
	}
	log.Info().
		Str("account_id", accountID.String()).
		Int64("amount", amount).
		Str("reference", ref).
		Bool("replayed", res.Replayed).
		Msg("wallet refund applied")
	return res.Balance, nil
}

// Adjust applies a signed manual correction. The reference is the operator's
// case id; a retried correction with the same reference applies once.
func (s *Service) Adjust(ctx context.Context, accountID uuid.UUID, amount int64, ref, reason string) (int64, error) {
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	if ref == "" {
		return 0, ErrMissingReference
	}

	res, err := s.repo.Apply(ctx, Posting{AccountID: accountID, Kind: KindAdjustment, Amount: amount, Reference: ref, Description: reason})
	if err != nil {
		return 0, err
	}
	log.Warn().
		Str("account_id", accountID.String()).
		Int64("amount", amount).
		Str("reference", ref).
		Str("reason", reason).
		Msg("wallet adjustment applied")
	return res.Balance, nil
}

func (s *Service) History(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListEntries(ctx, accountID, limit, offset)
}

// HasRefund reports whether a refund entry referencing ref exists.
func (s *Service) HasRefund(ctx context.Context, accountID uuid.UUID, ref string) (bool, error) {
	e, err := s.repo.FindByReference(ctx, accountID, KindRefund, ref)
	if err != nil {
		return false, err
	}
	return e != nil, nil
}

// Reconcile compares the cached balance with the ledger sum and, when repair
// is set, rewrites the cache from the ledger.
func (s *Service) Reconcile(ctx context.Context, accountID uuid.UUID, repair bool) (Reconciliation, error) {
	rec, err := s.repo.Reconcile(ctx, accountID, repair)
	if err != nil {
		return Reconciliation{}, err
	}
	if rec.Drift != 0 {
		log.Error().
			Str("account_id", accountID.String()).
			Int64("cached", rec.CachedBalance).
			Int64("ledger", rec.LedgerBalance).
			Bool("repaired", rec.Repaired).
			Msg("wallet balance drift detected")
	}
	return rec, nil
}
