package activation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/numrent/numrent-api/internal/domain/order"
	"github.com/numrent/numrent-api/internal/pkg/metrics"
	"github.com/numrent/numrent-api/internal/pkg/smsvendor"
)

// Vendor is the part of the vendor gateway the lifecycle needs.
// *smsvendor.Client satisfies it.
type Vendor interface {
	GetStatus(ctx context.Context, rentalID string) (smsvendor.Status, error)
	SetStatus(ctx context.Context, rentalID string, action smsvendor.Action) error
}

// OrderStore lets the activation drive its order's status.
type OrderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
	Transition(ctx context.Context, id uuid.UUID, from []order.Status, to order.Status, failureCode string) (bool, error)
}

type Config struct {
	RentalWindow  time.Duration
	Cooldown      time.Duration
	VendorTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{RentalWindow: 20 * time.Minute, Cooldown: 2 * time.Minute, VendorTimeout: 20 * time.Second}
}

type Service struct {
	repo   Repository
	orders OrderStore
	vendor Vendor
	cfg    Config
	now    func() time.Time
}

func NewService(repo Repository, orders OrderStore, vendor Vendor, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.RentalWindow <= 0 {
		cfg.RentalWindow = def.RentalWindow
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.VendorTimeout <= 0 {
		cfg.VendorTimeout = def.VendorTimeout
	}
	return &Service{repo: repo, orders: orders, vendor: vendor, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Window() time.Duration {
	return s.cfg.RentalWindow
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Activation, error) {
	return s.repo.GetByID(ctx, id)
}

// GetStatus returns the current state, expiring the rental lazily once its
// window has closed. A vendor outage returns the stored state marked Stale.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*Activation, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		return a, nil
	}
	if a.ExpiredAt(s.now(), s.cfg.RentalWindow) {
		return s.expire(ctx, a)
	}

	vctx, cancel := context.WithTimeout(ctx, s.cfg.VendorTimeout)
	defer cancel()
	st, err := s.vendor.GetStatus(vctx, a.VendorRentalID)
	if err != nil {
		log.Warn().Err(err).
			Str("activation_id", a.ID.String()).
			Bool("transient", smsvendor.IsTransient(err)).
			Msg("vendor status unavailable, returning stored state")
		a.Stale = true
		return a, nil
	}

	switch st.State {
	case smsvendor.StateCompleted:
		return s.close(ctx, a, StatusCompleted, st.Code)
	case smsvendor.StateCancelled:
		return s.close(ctx, a, StatusCancelled, "")
	default:
		return a, nil
	}
}

// RequestAnotherCode asks the vendor to deliver a new SMS to the same number.
// A completed activation inside its window goes back to waiting and its order
// back to active; the earlier code stays recorded.
func (s *Service) RequestAnotherCode(ctx context.Context, id uuid.UUID) (*Activation, error) {
	a, err := s.actionable(ctx, id, true)
	if err != nil {
		return nil, err
	}

	if err := s.setVendorStatus(ctx, a, smsvendor.ActionRetry); err != nil {
		return nil, err
	}

	var ok bool
	if a.Status == StatusCompleted {
		ok, err = s.repo.Reopen(ctx, a.ID)
	} else {
		ok, err = s.repo.RecordRetry(ctx, a.ID)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrActivationClosed
	}
	if a.Status == StatusCompleted {
		metrics.ActivationTransitions.WithLabelValues(string(StatusWaiting)).Inc()
		if _, err := s.orders.Transition(ctx, a.OrderID, []order.Status{order.StatusCompleted}, order.StatusActive, ""); err != nil {
			log.Error().Err(err).Str("order_id", a.OrderID.String()).Msg("failed to reopen order")
		}
	}

	log.Info().
		Str("activation_id", a.ID.String()).
		Int("retry_count", a.RetryCount+1).
		Msg("activation code re-requested")
	return s.repo.GetByID(ctx, a.ID)
}

// Cancel releases the number at the vendor and closes the activation and
// its order. It never refunds; the caller decides.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Activation, error) {
	a, err := s.actionable(ctx, id, false)
	if err != nil {
		return nil, err
	}

	// A code may have arrived since the last poll. Record it and refuse the
	// cancel so the delivered number is not treated as unused.
	vctx, cancel := context.WithTimeout(ctx, s.cfg.VendorTimeout)
	st, err := s.vendor.GetStatus(vctx, a.VendorRentalID)
	cancel()
	switch {
	case err == nil && st.State == smsvendor.StateCompleted:
		if _, err := s.close(ctx, a, StatusCompleted, st.Code); err != nil {
			return nil, err
		}
		return nil, ErrActivationClosed
	case err == nil && st.State == smsvendor.StateCancelled:
		// already released at the vendor
	default:
		if err := s.setVendorStatus(ctx, a, smsvendor.ActionCancel); err != nil {
			return nil, err
		}
	}

	got, err := s.close(ctx, a, StatusCancelled, "")
	if err != nil {
		return nil, err
	}
	if got.Status != StatusCancelled {
		return nil, ErrActivationClosed
	}
	return got, nil
}

// ExpireStale closes up to limit waiting activations whose window has passed.
func (s *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	stale, err := s.repo.ListStaleWaiting(ctx, s.now().Add(-s.cfg.RentalWindow), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		a := stale[i]
		got, err := s.expire(ctx, &a)
		if err != nil {
			log.Error().Err(err).Str("activation_id", a.ID.String()).Msg("failed to expire activation")
			continue
		}
		if got.Status == StatusExpired {
			expired++
		}
	}
	return expired, nil
}

// actionable loads an activation that may receive a retry or cancel: still
// waiting (or completed, when reopen is set), inside its window and past the
// cooldown.
func (s *Service) actionable(ctx context.Context, id uuid.UUID, reopen bool) (*Activation, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case a.Status == StatusWaiting:
	case reopen && a.Status == StatusCompleted:
	default:
		return nil, ErrActivationClosed
	}
	now := s.now()
	if a.ExpiredAt(now, s.cfg.RentalWindow) {
		if a.Status == StatusWaiting {
			if _, err := s.expire(ctx, a); err != nil {
				return nil, err
			}
		}
		return nil, ErrActivationClosed
	}

	o, err := s.orders.GetByID(ctx, a.OrderID)
	if err != nil {
		return nil, err
	}
	if elapsed := now.Sub(o.CreatedAt); elapsed < s.cfg.Cooldown {
		return nil, &CooldownError{Remaining: s.cfg.Cooldown - elapsed}
	}
	return a, nil
}

func (s *Service) setVendorStatus(ctx context.Context, a *Activation, action smsvendor.Action) error {
	vctx, cancel := context.WithTimeout(ctx, s.cfg.VendorTimeout)
	defer cancel()
	if err := s.vendor.SetStatus(vctx, a.VendorRentalID, action); err != nil {
		log.Warn().Err(err).
			Str("activation_id", a.ID.String()).
			Str("action", action.String()).
			Msg("vendor rejected activation action")
		return fmt.Errorf("%w: %v", ErrVendorFailure, err)
	}
	return nil
}

// expire closes the activation as expired and releases the number at the
// vendor on a best-effort basis.
func (s *Service) expire(ctx context.Context, a *Activation) (*Activation, error) {
	got, err := s.close(ctx, a, StatusExpired, "")
	if err != nil {
		return nil, err
	}
	if got.Status == StatusExpired {
		vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.VendorTimeout)
		defer cancel()
		if err := s.vendor.SetStatus(vctx, a.VendorRentalID, smsvendor.ActionCancel); err != nil {
			log.Warn().Err(err).Str("activation_id", a.ID.String()).Msg("vendor release after expiry failed")
		}
	}
	return got, nil
}

// close applies a guarded terminal transition and mirrors it on the order.
// When another writer closed the activation first, the stored state wins.
func (s *Service) close(ctx context.Context, a *Activation, to Status, code string) (*Activation, error) {
	changed, err := s.repo.Transition(ctx, a.ID, to, code)
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.ActivationTransitions.WithLabelValues(string(to)).Inc()
		log.Info().
			Str("activation_id", a.ID.String()).
			Str("order_id", a.OrderID.String()).
			Str("status", string(to)).
			Msg("activation closed")

		if _, err := s.orders.Transition(ctx, a.OrderID, []order.Status{order.StatusActive}, orderStatusFor(to), ""); err != nil {
			log.Error().Err(err).Str("order_id", a.OrderID.String()).Msg("failed to mirror activation status on order")
		}
	}

	return s.repo.GetByID(ctx, a.ID)
}

func orderStatusFor(s Status) order.Status {
	switch s {
	case StatusCompleted:
		return order.StatusCompleted
	case StatusExpired:
		return order.StatusExpired
	default:
		return order.StatusCancelled
	}
}
