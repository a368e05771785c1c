// Package pricing turns vendor-currency prices into local-currency prices.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/numrent/numrent-api/internal/pkg/money"
	"github.com/numrent/numrent-api/internal/pkg/smsvendor"
)

var (
	ErrNotOffered  = errors.New("service is not offered for this country")
	ErrUnavailable = errors.New("price source unavailable")
)

// Source lists vendor offers. *smsvendor.Client satisfies it.
type Source interface {
	ListServices(ctx context.Context, country, carrier string) ([]smsvendor.ServiceOffer, error)
}

type Config struct {
	// Rate converts one vendor-currency unit to local currency.
	Rate decimal.Decimal
	// MarkupPercent is applied after conversion, e.g. 35 for +35%.
	MarkupPercent decimal.Decimal
	// MinPrice is the floor in local minor units.
	MinPrice     int64
	BaseCurrency string
	CacheTTL     time.Duration
}

// Quote is a priced snapshot. BaseAmount is kept for drift detection.
type Quote struct {
	Service      string          `json:"service"`
	Country      string          `json:"country"`
	Carrier      string          `json:"carrier"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	BaseCurrency string          `json:"base_currency"`
	FinalAmount  int64           `json:"final_amount"`
	QuotedAt     time.Time       `json:"quoted_at"`
}

type Oracle struct {
	src   Source
	cache *redis.Client
	cfg   Config
	now   func() time.Time
}

// NewOracle builds an oracle. cache may be nil, in which case every quote is live.
func NewOracle(src Source, cache *redis.Client, cfg Config) *Oracle {
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = "RUB"
	}
	return &Oracle{src: src, cache: cache, cfg: cfg, now: time.Now}
}

// Convert applies final = max(min, ceil(base × rate × (1 + markup/100))).
func (o *Oracle) Convert(base decimal.Decimal) int64 {
	factor := decimal.NewFromInt(1).Add(o.cfg.MarkupPercent.Div(decimal.NewFromInt(100)))
	price := money.CeilUnit(base.Mul(o.cfg.Rate).Mul(factor))
	if price < o.cfg.MinPrice {
		return o.cfg.MinPrice
	}
	return price
}

func (o *Oracle) Quote(ctx context.Context, service, country, carrier string) (Quote, error) {
	key := cacheKey(service, country, carrier)
	if q, ok := o.cached(ctx, key); ok {
		return q, nil
	}

	offers, err := o.src.ListServices(ctx, country, carrier)
	if err != nil {
		if errors.Is(err, smsvendor.ErrNoServices) {
			return Quote{}, fmt.Errorf("%w: %w", ErrNotOffered, err)
		}
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for _, offer := range offers {
		if offer.Service != service {
			continue
		}
		q := Quote{
			Service:      service,
			Country:      country,
			Carrier:      carrier,
			BaseAmount:   offer.Price,
			BaseCurrency: o.cfg.BaseCurrency,
			FinalAmount:  o.Convert(offer.Price),
			QuotedAt:     o.now().UTC(),
		}
		o.store(ctx, key, q)
		return q, nil
	}
	return Quote{}, fmt.Errorf("%w: %s/%s", ErrNotOffered, country, service)
}

// Invalidate drops a cached quote so the next Quote is live.
func (o *Oracle) Invalidate(ctx context.Context, service, country, carrier string) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Del(ctx, cacheKey(service, country, carrier)).Err(); err != nil {
		log.Warn().Err(err).Str("service", service).Str("country", country).Msg("price cache invalidate failed")
	}
}

func (o *Oracle) cached(ctx context.Context, key string) (Quote, bool) {
	if o.cache == nil || o.cfg.CacheTTL <= 0 {
		return Quote{}, false
	}
	raw, err := o.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("price cache read failed")
		}
		return Quote{}, false
	}
	var q Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return Quote{}, false
	}
	return q, true
}

func (o *Oracle) store(ctx context.Context, key string, q Quote) {
	if o.cache == nil || o.cfg.CacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return
	}
	if err := o.cache.Set(ctx, key, raw, o.cfg.CacheTTL).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("price cache write failed")
	}
}

func cacheKey(service, country, carrier string) string {
	if carrier == "" {
		carrier = "any"
	}
	return fmt.Sprintf("numrent:quote:%s:%s:%s", country, carrier, service)
}
