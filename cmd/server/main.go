package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"fundly/internal/campaign"
	"fundly/internal/gateway"
	"fundly/internal/gateway/chapa"
	"fundly/internal/gateway/stripe"
	"fundly/internal/handler"
	"fundly/internal/middleware"
	"fundly/internal/reconcile"
	"fundly/internal/repository/postgres"
	"fundly/internal/signature"
	"fundly/pkg/cache"
	"fundly/pkg/config"
	"fundly/pkg/domain"
	"fundly/pkg/logger"
	"fundly/pkg/validator"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("donation-service")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}
	for _, key := range cfg.UnsignedWebhooks() {
		log.Warn("Webhook secret not set, signatures will not be verified", map[string]interface{}{
			"setting": key,
		})
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer redisClient.Close()

	donationRepo := postgres.NewDonationRepository(db)
	campaignRepo := postgres.NewCampaignRepository(db)

	campaigns := campaign.NewService(campaignRepo, cache.NewFromClient(redisClient), log, cfg.Reconcile.ProgressTTL)

	gateways := gateway.NewRegistry(
		stripe.NewClient(stripe.Config{
			SecretKey:  cfg.Stripe.SecretKey,
			BackendURL: cfg.Stripe.BackendURL,
			Timeout:    cfg.Stripe.Timeout,
		}, log),
		chapa.NewClient(chapa.Config{
			SecretKey:   cfg.Chapa.SecretKey,
			BaseURL:     cfg.Chapa.BaseURL,
			Timeout:     cfg.Chapa.Timeout,
			ReturnURL:   cfg.Frontend.URL + "/donate/complete",
			CallbackURL: cfg.Chapa.CallbackURL,
			Title:       "Donation",
		}, log),
	)

	engine := reconcile.NewEngine(donationRepo, gateways, campaigns, log,
		reconcile.WithWebhookAuth(domain.GatewayCard, reconcile.WebhookAuth{
			Secret: cfg.Stripe.WebhookSecret,
			Verify: signature.VerifyStripe,
		}),
		reconcile.WithWebhookAuth(domain.GatewayMobileMoney, reconcile.WebhookAuth{
			Secret: cfg.Chapa.WebhookSecret,
			Verify: signature.Verify,
		}),
		reconcile.WithSettledHook(campaigns.Invalidate),
	)

	sweeper := reconcile.NewSweeper(engine, donationRepo, reconcile.SweepConfig{
		Interval:   cfg.Reconcile.SweepInterval,
		StaleAfter: cfg.Reconcile.StaleAfter,
		BatchSize:  cfg.Reconcile.SweepBatchSize,
	}, log)

	val := validator.New()
	router := handler.NewRouter(handler.RouterConfig{
		Donations: handler.NewDonationHandler(engine, campaigns, val, log),
		Campaigns: handler.NewCampaignHandler(campaigns, val, log),
		Admin:     handler.NewAdminHandler(engine, campaign.NewAuditor(campaignRepo, log), sweeper, log),
		System: handler.NewSystemHandler(map[string]handler.Check{
			"database": db.PingContext,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		}),
		Auth:           middleware.NewAuthMiddleware(cfg.JWT.Secret, log),
		Idempotency:    middleware.NewIdempotencyMiddleware(redisClient, cfg.Reconcile.IdempotencyTTL, log),
		RateLimiter:    middleware.NewRateLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window, "public", log),
		AllowedOrigins: []string{cfg.Frontend.URL},
		Logger:         log,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.Reconcile.SweepEnabled {
		go sweeper.Run(ctx)
		log.Info("Stale donation sweeper started", map[string]interface{}{
			"interval":    cfg.Reconcile.SweepInterval.String(),
			"stale_after": cfg.Reconcile.StaleAfter.String(),
		})
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Donation service started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down donation service...", nil)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Donation service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Donation service stopped gracefully", nil)
}
