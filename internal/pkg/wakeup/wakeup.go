// Package wakeup nudges the sweep worker over Redis pub/sub. Polling stays
// the primary mechanism; a lost message only delays work until the next tick.
package wakeup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const Channel = "numrent:sweep"

type Publisher struct {
	rdb *redis.Client
}

// NewPublisher returns a publisher. A nil client makes Notify a no-op.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) Notify(ctx context.Context) {
	if p == nil || p.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := p.rdb.Publish(ctx, Channel, "sweep").Err(); err != nil {
		log.Warn().Err(err).Msg("failed to publish sweep wake-up")
	}
}

// Subscribe forwards wake-ups to wake without blocking until ctx is done.
func Subscribe(ctx context.Context, rdb *redis.Client, wake chan<- struct{}) {
	if rdb == nil {
		return
	}
	sub := rdb.Subscribe(ctx, Channel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}
