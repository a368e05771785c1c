package purchase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/numrent/numrent-api/internal/domain/account"
	"github.com/numrent/numrent-api/internal/domain/activation"
	"github.com/numrent/numrent-api/internal/domain/order"
	"github.com/numrent/numrent-api/internal/pkg/metrics"
	"github.com/numrent/numrent-api/internal/pkg/money"
	"github.com/numrent/numrent-api/internal/pkg/pricing"
	"github.com/numrent/numrent-api/internal/pkg/smsvendor"
)

// RefundPolicy decides whether cancelling a delivered number returns credit.
type RefundPolicy string

const (
	// RefundNoCode refunds a cancelled activation only if no SMS code was ever received.
	RefundNoCode RefundPolicy = "no_code"
	RefundNever  RefundPolicy = "never"
)

func ParseRefundPolicy(s string) RefundPolicy {
	if RefundPolicy(s) == RefundNever {
		return RefundNever
	}
	return RefundNoCode
}

type Quoter interface {
	Quote(ctx context.Context, service, country, carrier string) (pricing.Quote, error)
	Convert(base decimal.Decimal) int64
	Invalidate(ctx context.Context, service, country, carrier string)
}

// Vendor is the gateway surface the orchestrator drives. *smsvendor.Client satisfies it.
type Vendor interface {
	ListServices(ctx context.Context, country, carrier string) ([]smsvendor.ServiceOffer, error)
	RentNumber(ctx context.Context, service, country, carrier string) (smsvendor.Rental, error)
	SetStatus(ctx context.Context, rentalID string, action smsvendor.Action) error
}

// Wallet is satisfied by *wallet.Service.
type Wallet interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	Debit(ctx context.Context, accountID uuid.UUID, amount int64, ref, description string) (int64, error)
	Refund(ctx context.Context, accountID uuid.UUID, amount int64, ref, description string) (int64, error)
}

type Accounts interface {
	EnsureActive(ctx context.Context, id uuid.UUID) (*account.Account, error)
}

// Lifecycle is satisfied by *activation.Service.
type Lifecycle interface {
	Get(ctx context.Context, id uuid.UUID) (*activation.Activation, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*activation.Activation, error)
	RequestAnotherCode(ctx context.Context, id uuid.UUID) (*activation.Activation, error)
	Cancel(ctx context.Context, id uuid.UUID) (*activation.Activation, error)
	Window() time.Duration
}

type Config struct {
	VendorTimeout       time.Duration
	CompensationTimeout time.Duration
	DriftPercent        int64
	RefundPolicy        RefundPolicy

	// AbandonAfter is the age at which a still-pending order is treated as
	// crashed. It must exceed the longest a live purchase can stay pending.
	AbandonAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		VendorTimeout:       20 * time.Second,
		CompensationTimeout: 30 * time.Second,
		DriftPercent:        10,
		RefundPolicy:        RefundNoCode,
		AbandonAfter:        10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DriftPercent <= 0 {
		c.DriftPercent = def.DriftPercent
	}
	if c.CompensationTimeout <= 0 {
		c.CompensationTimeout = def.CompensationTimeout
	}
	if c.VendorTimeout <= 0 {
		c.VendorTimeout = def.VendorTimeout
	}
	if c.AbandonAfter <= 0 {
		c.AbandonAfter = def.AbandonAfter
	}
	if c.RefundPolicy == "" {
		c.RefundPolicy = def.RefundPolicy
	}
	return c
}

// MaxPending is the longest a purchase can hold its order pending: three
// vendor calls (quote, recheck, rent) and the activation write.
func (c Config) MaxPending() time.Duration {
	c = c.withDefaults()
	return 3*c.VendorTimeout + c.CompensationTimeout
}

// Validate rejects timeouts that would let the abandoned-order sweep close an
// order while its purchase is still running.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.MaxPending() >= c.AbandonAfter {
		return fmt.Errorf("purchase config: abandon_after %s must exceed 3*vendor_timeout+compensation_timeout (%s)",
			c.AbandonAfter, c.MaxPending())
	}
	return nil
}

type Service struct {
	repo      Repository
	orders    order.Repository
	lifecycle Lifecycle
	wallet    Wallet
	accounts  Accounts
	quoter    Quoter
	vendor    Vendor
	cfg       Config
	now       func() time.Time
}

type Deps struct {
	Repo      Repository
	Orders    order.Repository
	Lifecycle Lifecycle
	Wallet    Wallet
	Accounts  Accounts
	Quoter    Quoter
	Vendor    Vendor
}

func NewService(d Deps, cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		repo:      d.Repo,
		orders:    d.Orders,
		lifecycle: d.Lifecycle,
		wallet:    d.Wallet,
		accounts:  d.Accounts,
		quoter:    d.Quoter,
		vendor:    d.Vendor,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Result of a successful purchase.
type Result struct {
	OrderID      uuid.UUID
	ActivationID uuid.UUID
	Phone        string
	Price        int64
	Balance      int64
	ExpiresAt    time.Time
}

// Purchase prices, debits, re-checks the vendor, rents a number and opens an
// activation. Any failure after the debit refunds before returning.
func (s *Service) Purchase(ctx context.Context, accountID uuid.UUID, service, country, carrier string) (res *Result, err error) {
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = ErrorCode(err)
		}
		metrics.Purchases.WithLabelValues(outcome).Inc()
	}()

	if _, err := s.accounts.EnsureActive(ctx, accountID); err != nil {
		return nil, err
	}

	quote, err := s.quote(ctx, service, country, carrier)
	if err != nil {
		return nil, err
	}

	balance, err := s.wallet.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if balance < quote.FinalAmount {
		return nil, ErrInsufficientCredit
	}

	o := &order.Order{
		ID:           uuid.New(),
		AccountID:    accountID,
		Service:      service,
		Country:      country,
		Carrier:      carrier,
		BasePrice:    quote.BaseAmount,
		BaseCurrency: quote.BaseCurrency,
		Price:        quote.FinalAmount,
		Status:       order.StatusPending,
	}

	balance, err = s.wallet.Debit(ctx, accountID, o.Price, o.ID.String(), fmt.Sprintf("purchase %s/%s", country, service))
	if err != nil {
		return nil, err
	}

	if err := s.orders.Create(ctx, o); err != nil {
		s.refund(ctx, o, "order_insert_failed")
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if err := s.recheck(ctx, quote); err != nil {
		s.abort(ctx, o, order.StatusCancelled, err)
		return nil, err
	}

	rental, err := s.rent(ctx, service, country, carrier)
	if err != nil {
		s.abort(ctx, o, order.StatusCancelled, err)
		return nil, err
	}

	a := &activation.Activation{
		ID:             uuid.New(),
		OrderID:        o.ID,
		AccountID:      accountID,
		Phone:          rental.Phone,
		Service:        service,
		Country:        country,
		Status:         activation.StatusWaiting,
		VendorRentalID: rental.ID,
	}

	// The number is rented; losing the caller now must not lose the rental.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()
	if err := s.repo.ActivateOrder(pctx, o.ID, rental.Phone, a); err != nil {
		s.releaseRental(pctx, rental.ID, o.ID)
		s.abort(ctx, o, order.StatusFailed, err)
		return nil, err
	}

	log.Info().
		Str("account_id", accountID.String()).
		Str("order_id", o.ID.String()).
		Str("activation_id", a.ID.String()).
		Int64("amount", o.Price).
		Msg("purchase completed")

	return &Result{
		OrderID:      o.ID,
		ActivationID: a.ID,
		Phone:        rental.Phone,
		Price:        o.Price,
		Balance:      balance,
		ExpiresAt:    a.ExpiresAt(s.lifecycle.Window()),
	}, nil
}

func (s *Service) quote(ctx context.Context, service, country, carrier string) (pricing.Quote, error) {
	qctx, cancel := context.WithTimeout(ctx, s.cfg.VendorTimeout)
	defer cancel()

	q, err := s.quoter.Quote(qctx, service, country, carrier)
	switch {
	case err == nil:
		return q, nil
	case errors.Is(err, smsvendor.ErrNoServices):
		return q, ErrNoServicesAvailable
	case errors.Is(err, pricing.ErrNotOffered):
		return q, ErrServiceNotFound
	default:
		return q, &VendorError{Op: "quote", Err: err}
	}
}

// recheck compares the quote with the vendor's live listing.
func (s *Service) recheck(ctx context.Context, q pricing.Quote) error {
	vctx, cancel := context.WithTimeout(ctx, s.cfg.VendorTimeout)
	defer cancel()

	offers, err := s.vendor.ListServices(vctx, q.Country, q.Carrier)
	if errors.Is(err, smsvendor.ErrNoServices) || (err == nil && len(offers) == 0) {
		return ErrNoServicesAvailable
	}
	if err != nil {
		return &VendorError{Op: "list_services", Err: err}
	}

	var offer *smsvendor.ServiceOffer
	for i := range offers {
		if offers[i].Service == q.Service {
			offer = &offers[i]
			break
		}
	}
	if offer == nil {
		return ErrServiceNotFound
	}
	if offer.Available <= 0 {
		return ErrNoNumbersAvailable
	}
	if money.DriftExceeds(q.BaseAmount, offer.Price, s.cfg.DriftPercent) {
		s.quoter.Invalidate(ctx, q.Service, q.Country, q.Carrier)
		return &PriceDriftError{
			OldBase:  q.BaseAmount,
			NewBase:  offer.Price,
			OldPrice: q.FinalAmount,
			NewPrice: s.quoter.Convert(offer.Price),
		}
	}
	return nil
}

func (s *Service) rent(ctx context.Context, service, country, carrier string) (smsvendor.Rental, error) {
	vctx, cancel := context.WithTimeout(ctx, s.cfg.VendorTimeout)
	defer cancel()

	rental, err := s.vendor.RentNumber(vctx, service, country, carrier)
	switch {
	case err == nil:
		return rental, nil
	case errors.Is(err, smsvendor.ErrNoNumbers):
		return rental, ErrNoNumbersAvailable
	case errors.Is(err, smsvendor.ErrBadService):
		return rental, ErrServiceNotFound
	default:
		return rental, &VendorError{Op: "rent_number", Err: err}
	}
}

// abort refunds the debit and closes the pending order. It runs detached from
// the caller so a timed-out request still compensates.
func (s *Service) abort(ctx context.Context, o *order.Order, to order.Status, cause error) {
	code := ErrorCode(cause)
	s.refund(ctx, o, code)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()
	if _, err := s.orders.Transition(cctx, o.ID, []order.Status{order.StatusPending}, to, code); err != nil {
		log.Error().Err(err).
			Str("order_id", o.ID.String()).
			Str("target", string(to)).
			Msg("failed to close aborted order")
	}

	log.Warn().Err(cause).
		Str("account_id", o.AccountID.String()).
		Str("order_id", o.ID.String()).
		Str("code", code).
		Msg("purchase aborted")
}

func (s *Service) refund(ctx context.Context, o *order.Order, reason string) bool {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()

	if _, err := s.wallet.Refund(cctx, o.AccountID, o.Price, o.ID.String(), "refund: "+reason); err != nil {
		metrics.Refunds.WithLabelValues("failed").Inc()
		log.Error().Err(err).
			Str("account_id", o.AccountID.String()).
			Str("order_id", o.ID.String()).
			Int64("amount", o.Price).
			Str("reason", reason).
			Msg("COMPENSATING REFUND FAILED: manual reconciliation required")
		return false
	}
	metrics.Refunds.WithLabelValues(reason).Inc()
	return true
}

func (s *Service) releaseRental(ctx context.Context, rentalID string, orderID uuid.UUID) {
	if err := s.vendor.SetStatus(ctx, rentalID, smsvendor.ActionCancel); err != nil {
		log.Warn().Err(err).
			Str("order_id", orderID.String()).
			Str("rental_id", rentalID).
			Msg("failed to release vendor rental")
	}
}

// owned loads an activation and hides it from other accounts.
func (s *Service) owned(ctx context.Context, accountID, activationID uuid.UUID) (*activation.Activation, error) {
	a, err := s.lifecycle.Get(ctx, activationID)
	if err != nil {
		return nil, err
	}
	if a.AccountID != accountID {
		return nil, activation.ErrActivationNotFound
	}
	return a, nil
}

func (s *Service) ActivationStatus(ctx context.Context, accountID, activationID uuid.UUID) (*activation.Activation, error) {
	if _, err := s.owned(ctx, accountID, activationID); err != nil {
		return nil, err
	}
	return s.lifecycle.GetStatus(ctx, activationID)
}

func (s *Service) RequestAnotherCode(ctx context.Context, accountID, activationID uuid.UUID) (*activation.Activation, error) {
	if _, err := s.owned(ctx, accountID, activationID); err != nil {
		return nil, err
	}
	return s.lifecycle.RequestAnotherCode(ctx, activationID)
}

type CancelResult struct {
	Activation *activation.Activation
	Refunded   bool
	Refund     int64

	// RefundPending is set when the refund is owed but could not be posted
	// yet. SettleRefunds pays it later.
	RefundPending bool
}

// CancelActivation cancels the rental and applies the refund policy.
func (s *Service) CancelActivation(ctx context.Context, accountID, activationID uuid.UUID) (*CancelResult, error) {
	if _, err := s.owned(ctx, accountID, activationID); err != nil {
		return nil, err
	}

	a, err := s.lifecycle.Cancel(ctx, activationID)
	if err != nil {
		return nil, err
	}
	res := &CancelResult{Activation: a}
	if s.cfg.RefundPolicy == RefundNever || a.HasCode() {
		return res, nil
	}

	// The cancelled order without a refund entry is itself the record of the
	// debt, so a failure here is settled by the sweep.
	o, err := s.orders.GetByID(ctx, a.OrderID)
	if err != nil {
		log.Error().Err(err).Str("order_id", a.OrderID.String()).Msg("cancel refund deferred: order lookup failed")
		res.RefundPending = true
		return res, nil
	}
	if !s.refund(ctx, o, "cancelled") {
		res.RefundPending = true
		res.Refund = o.Price
		return res, nil
	}
	res.Refunded = true
	res.Refund = o.Price
	return res, nil
}

type CatalogItem struct {
	Service   string
	BasePrice decimal.Decimal
	Price     int64
	Available int
}

// Catalog lists the services for a country at local prices.
func (s *Service) Catalog(ctx context.Context, country, carrier string) ([]CatalogItem, error) {
	vctx, cancel := context.WithTimeout(ctx, s.cfg.VendorTimeout)
	defer cancel()

	offers, err := s.vendor.ListServices(vctx, country, carrier)
	if errors.Is(err, smsvendor.ErrNoServices) || (err == nil && len(offers) == 0) {
		return nil, ErrNoServicesAvailable
	}
	if err != nil {
		return nil, &VendorError{Op: "list_services", Err: err}
	}

	items := make([]CatalogItem, 0, len(offers))
	for _, o := range offers {
		items = append(items, CatalogItem{
			Service:   o.Service,
			BasePrice: o.Price,
			Price:     s.quoter.Convert(o.Price),
			Available: o.Available,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Service < items[j].Service })
	return items, nil
}

// RecoverAbandoned fails and refunds orders left pending longer than
// AbandonAfter, e.g. after a crash between debit and activation. The guarded
// transition runs first so a purchase that activates concurrently keeps its
// order and gets no refund.
func (s *Service) RecoverAbandoned(ctx context.Context, limit int) (int, error) {
	stale, err := s.orders.ListStalePending(ctx, s.now().Add(-s.cfg.AbandonAfter), limit)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range stale {
		o := stale[i]
		ok, err := s.orders.Transition(ctx, o.ID, []order.Status{order.StatusPending}, order.StatusFailed, CodeAbandoned)
		if err != nil {
			log.Error().Err(err).Str("order_id", o.ID.String()).Msg("failed to close abandoned order")
			continue
		}
		if !ok {
			continue
		}
		recovered++
		if s.refund(ctx, &o, "abandoned") {
			log.Warn().
				Str("account_id", o.AccountID.String()).
				Str("order_id", o.ID.String()).
				Int64("amount", o.Price).
				Msg("abandoned order refunded")
		}
	}
	return recovered, nil
}

// SettleRefunds pays refunds that are owed but missing from the ledger: a
// compensation or cancel refund that failed after its order was closed.
// Refunds are idempotent by order id, so racing a live refund is harmless.
func (s *Service) SettleRefunds(ctx context.Context, limit int) (int, error) {
	owed, err := s.repo.ListOwedRefunds(ctx, s.cfg.RefundPolicy == RefundNoCode, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range owed {
		o := owed[i]
		if !s.refund(ctx, &o, "settled") {
			continue
		}
		settled++
		log.Warn().
			Str("account_id", o.AccountID.String()).
			Str("order_id", o.ID.String()).
			Str("status", string(o.Status)).
			Int64("amount", o.Price).
			Msg("owed refund settled")
	}
	return settled, nil
}
