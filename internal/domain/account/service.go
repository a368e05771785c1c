package account

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// EnsureActive returns the account, registering it on first sight, and
// rejects blocked accounts.
func (s *Service) EnsureActive(ctx context.Context, id uuid.UUID) (*Account, error) {
	if id == uuid.Nil {
		return nil, ErrAccountNotFound
	}
	a, err := s.repo.Upsert(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.IsActive() {
		return nil, ErrAccountBlocked
	}
	return a, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Block(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SetStatus(ctx, id, StatusBlocked); err != nil {
		return err
	}
	log.Warn().Str("account_id", id.String()).Msg("account blocked")
	return nil
}

func (s *Service) Unblock(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SetStatus(ctx, id, StatusActive); err != nil {
		return err
	}
	log.Info().Str("account_id", id.String()).Msg("account unblocked")
	return nil
}
