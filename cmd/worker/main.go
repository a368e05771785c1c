package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/numrent/numrent-api/internal/config"
	"github.com/numrent/numrent-api/internal/domain/account"
	"github.com/numrent/numrent-api/internal/domain/activation"
	"github.com/numrent/numrent-api/internal/domain/order"
	"github.com/numrent/numrent-api/internal/domain/purchase"
	"github.com/numrent/numrent-api/internal/domain/topup"
	"github.com/numrent/numrent-api/internal/domain/wallet"
	"github.com/numrent/numrent-api/internal/pkg/database"
	"github.com/numrent/numrent-api/internal/pkg/logger"
	"github.com/numrent/numrent-api/internal/pkg/smsvendor"
	"github.com/numrent/numrent-api/internal/pkg/wakeup"
)

// Pending top-ups younger than this are still owned by their request.
const topupGrace = time.Minute

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		Service:     "worker",
	})

	log.Info().Dur("interval", cfg.SweepInterval).Int("batch", cfg.SweepBatch).Msg("Starting sweep worker")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	purchaseConfig := purchase.Config{
		VendorTimeout:       cfg.VendorTimeout,
		CompensationTimeout: cfg.CompensationTimeout,
		RefundPolicy:        purchase.ParseRefundPolicy(cfg.CancelRefundPolicy),
		AbandonAfter:        cfg.OrderAbandonAfter,
	}
	if err := purchaseConfig.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid purchase configuration")
	}

	vendor := smsvendor.NewClient(smsvendor.Config{
		BaseURL: cfg.VendorBaseURL,
		APIKey:  cfg.VendorAPIKey,
		Timeout: cfg.VendorTimeout,
	})

	orderRepo := order.NewRepository(db)
	walletService := wallet.NewService(wallet.NewRepository(db))
	activationService := activation.NewService(activation.NewRepository(db), orderRepo, vendor, activation.Config{
		RentalWindow:  cfg.RentalWindow,
		Cooldown:      cfg.ActionCooldown,
		VendorTimeout: cfg.VendorTimeout,
	})
	purchaseService := purchase.NewService(purchase.Deps{
		Repo:      purchase.NewRepository(db),
		Orders:    orderRepo,
		Lifecycle: activationService,
		Wallet:    walletService,
		Accounts:  account.NewService(account.NewRepository(db)),
		Vendor:    vendor,
	}, purchaseConfig)
	topupService := topup.NewService(topup.Deps{
		Repo:   topup.NewRepository(db),
		Wallet: walletService,
	}, topup.Config{MaxAge: cfg.SlipMaxAge, Currency: cfg.Currency})

	s := &sweeper{
		activations: activationService,
		topups:      topupService,
		orders:      purchaseService,
		batch:       cfg.SweepBatch,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake := make(chan struct{}, 1)
	go wakeup.Subscribe(ctx, rdb, wake)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	s.run(ctx, cfg.SweepInterval, wake)
	log.Info().Msg("worker stopped")
}

type activationSweeper interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

type topupSweeper interface {
	ResumePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type orderSweeper interface {
	RecoverAbandoned(ctx context.Context, limit int) (int, error)
	SettleRefunds(ctx context.Context, limit int) (int, error)
}

type sweeper struct {
	activations activationSweeper
	topups      topupSweeper
	orders      orderSweeper
	batch       int
}

func (s *sweeper) run(ctx context.Context, interval time.Duration, wake <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

// sweep runs one pass. Each step is independent; a failing step does not
// block the others.
func (s *sweeper) sweep(ctx context.Context) {
	start := time.Now()

	expired, err := s.activations.ExpireStale(ctx, s.batch)
	if err != nil {
		log.Error().Err(err).Msg("expire stale activations failed")
	}
	resumed, err := s.topups.ResumePending(ctx, topupGrace, s.batch)
	if err != nil {
		log.Error().Err(err).Msg("resume pending top-ups failed")
	}
	recovered, err := s.orders.RecoverAbandoned(ctx, s.batch)
	if err != nil {
		log.Error().Err(err).Msg("recover abandoned orders failed")
	}
	settled, err := s.orders.SettleRefunds(ctx, s.batch)
	if err != nil {
		log.Error().Err(err).Msg("settle owed refunds failed")
	}

	if expired+resumed+recovered+settled > 0 {
		log.Info().
			Int("expired", expired).
			Int("resumed", resumed).
			Int("recovered", recovered).
			Int("settled", settled).
			Dur("took", time.Since(start)).
			Msg("sweep done")
	}
}
