package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/numrent/numrent-api/internal/config"
	"github.com/numrent/numrent-api/internal/domain/account"
	"github.com/numrent/numrent-api/internal/domain/activation"
	"github.com/numrent/numrent-api/internal/domain/order"
	"github.com/numrent/numrent-api/internal/domain/purchase"
	"github.com/numrent/numrent-api/internal/domain/topup"
	"github.com/numrent/numrent-api/internal/domain/wallet"
	"github.com/numrent/numrent-api/internal/middleware"
	"github.com/numrent/numrent-api/internal/pkg/database"
	"github.com/numrent/numrent-api/internal/pkg/imaging"
	"github.com/numrent/numrent-api/internal/pkg/jwt"
	"github.com/numrent/numrent-api/internal/pkg/logger"
	"github.com/numrent/numrent-api/internal/pkg/money"
	"github.com/numrent/numrent-api/internal/pkg/pricing"
	pkgresponse "github.com/numrent/numrent-api/internal/pkg/response"
	"github.com/numrent/numrent-api/internal/pkg/slipverify"
	"github.com/numrent/numrent-api/internal/pkg/smsvendor"
	"github.com/numrent/numrent-api/internal/pkg/storage"
	"github.com/numrent/numrent-api/internal/pkg/wakeup"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		Service:     "api",
	})

	if cfg.IsProduction() && cfg.JWTSecret == config.DefaultJWTSecret {
		log.Fatal().Msg("JWT_SECRET must be set in production")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting numrent API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if cfg.SchemaBootstrap {
		if err := database.EnsureSchema(context.Background(), db); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply schema")
		}
	}

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Adapters ----------
	vendor := smsvendor.NewClient(smsvendor.Config{
		BaseURL: cfg.VendorBaseURL,
		APIKey:  cfg.VendorAPIKey,
		Timeout: cfg.VendorTimeout,
	})
	oracle := pricing.NewOracle(vendor, rdb, pricingConfig(cfg))
	verifier := slipverify.NewClient(slipverify.Config{
		URL:      cfg.SlipVerifierURL,
		APIKey:   cfg.SlipVerifierKey,
		Timeout:  cfg.SlipVerifierTimeout,
		Currency: cfg.Currency,
	})
	archive, err := storage.New(context.Background(), storage.Config{
		Backend:     cfg.SlipStorage,
		LocalPath:   cfg.SlipLocalPath,
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3Bucket:    cfg.S3Bucket,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create slip storage")
	}
	log.Info().Bool("s3", cfg.UseS3()).Msg("Slip archive ready")

	// ---------- Repositories ----------
	accountRepo := account.NewRepository(db)
	walletRepo := wallet.NewRepository(db)
	orderRepo := order.NewRepository(db)
	activationRepo := activation.NewRepository(db)
	purchaseRepo := purchase.NewRepository(db)
	topupRepo := topup.NewRepository(db)

	// ---------- Services ----------
	accountService := account.NewService(accountRepo)
	walletService := wallet.NewService(walletRepo)
	orderService := order.NewService(orderRepo)
	activationService := activation.NewService(activationRepo, orderRepo, vendor, activation.Config{
		RentalWindow:  cfg.RentalWindow,
		Cooldown:      cfg.ActionCooldown,
		VendorTimeout: cfg.VendorTimeout,
	})
	purchaseConfig := purchase.Config{
		VendorTimeout:       cfg.VendorTimeout,
		CompensationTimeout: cfg.CompensationTimeout,
		DriftPercent:        10,
		RefundPolicy:        purchase.ParseRefundPolicy(cfg.CancelRefundPolicy),
		AbandonAfter:        cfg.OrderAbandonAfter,
	}
	if err := purchaseConfig.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid purchase configuration")
	}
	purchaseService := purchase.NewService(purchase.Deps{
		Repo:      purchaseRepo,
		Orders:    orderRepo,
		Lifecycle: activationService,
		Wallet:    walletService,
		Accounts:  accountService,
		Quoter:    oracle,
		Vendor:    vendor,
	}, purchaseConfig)
	topupService := topup.NewService(topup.Deps{
		Repo:       topupRepo,
		Wallet:     walletService,
		Accounts:   accountService,
		Verifier:   verifier,
		Normalizer: imaging.NewNormalizer(imaging.DefaultConfig()),
		Archive:    archive,
		Waker:      wakeup.NewPublisher(rdb),
	}, topup.Config{
		MaxAge:          cfg.SlipMaxAge,
		VerifierTimeout: cfg.SlipVerifierTimeout,
		Currency:        cfg.Currency,
	})

	// ---------- Handlers ----------
	h := handlers{
		wallet:   wallet.NewHandler(walletService, cfg.Currency),
		accounts: account.NewHandler(accountService),
		orders:   order.NewHandler(orderService),
		purchase: purchase.NewHandler(purchaseService),
		topups:   topup.NewHandler(topupService),
	}

	r := newRouter(cfg.AllowedOrigins, h, middleware.Auth(jwtService), healthCheck(db.PingContext, rdb))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

type handlers struct {
	wallet   *wallet.Handler
	accounts *account.Handler
	orders   *order.Handler
	purchase *purchase.Handler
	topups   *topup.Handler
}

func newRouter(allowedOrigins []string, h handlers, authMiddleware func(http.Handler) http.Handler, health func(context.Context) error) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.Metrics)
	r.Use(middleware.CORSHandler(allowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := health(r.Context()); err != nil {
			log.Warn().Err(err).Msg("health check failed")
			pkgresponse.Error(w, http.StatusServiceUnavailable, "UNHEALTHY", "Dependency unavailable")
			return
		}
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/wallet", h.wallet.Routes(authMiddleware))
		r.Mount("/admin/wallet", h.wallet.AdminRoutes(authMiddleware))
		r.Mount("/admin/accounts", h.accounts.AdminRoutes(authMiddleware))
		r.Mount("/orders", h.orders.Routes(authMiddleware))
		r.Mount("/topups", h.topups.Routes(authMiddleware))

		// /catalog, /purchases and /activations
		r.Mount("/", h.purchase.Routes(authMiddleware))
	})

	return r
}

func healthCheck(pingDB func(context.Context) error, rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pingDB(ctx); err != nil {
			return err
		}
		if rdb != nil {
			return rdb.Ping(ctx).Err()
		}
		return nil
	}
}

func pricingConfig(cfg *config.Config) pricing.Config {
	rate, err := decimal.NewFromString(cfg.PriceRate)
	if err != nil {
		log.Fatal().Err(err).Str("value", cfg.PriceRate).Msg("Invalid PRICE_RATE")
	}
	markup, err := decimal.NewFromString(cfg.PriceMarkupPercent)
	if err != nil {
		log.Fatal().Err(err).Str("value", cfg.PriceMarkupPercent).Msg("Invalid PRICE_MARKUP_PERCENT")
	}
	minPrice, err := money.Parse(cfg.PriceMin)
	if err != nil {
		log.Fatal().Err(err).Str("value", cfg.PriceMin).Msg("Invalid PRICE_MIN")
	}
	return pricing.Config{
		Rate:          rate,
		MarkupPercent: markup,
		MinPrice:      minPrice,
		BaseCurrency:  "RUB",
		CacheTTL:      cfg.PriceCacheTTL,
	}
}
