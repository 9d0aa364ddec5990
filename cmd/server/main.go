package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/SettleWire/payment-webhook-service/internal/client"
	"github.com/SettleWire/payment-webhook-service/internal/handler"
	"github.com/SettleWire/payment-webhook-service/internal/loader"
	"github.com/SettleWire/payment-webhook-service/internal/middleware"
	"github.com/SettleWire/payment-webhook-service/internal/repository"
	"github.com/SettleWire/payment-webhook-service/internal/service"
	"github.com/SettleWire/payment-webhook-service/internal/telemetry"
	"github.com/SettleWire/payment-webhook-service/internal/util/logger"
	"github.com/SettleWire/payment-webhook-service/internal/webhook"
)

var version = "development"

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/app-config.yaml"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loader.LoadConfig(configPath)
	if err != nil {
		panic(fmt.Errorf("failed to load config: %w", err))
	}

	logger.Init(&logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
	})
	defer logger.Sync()

	// Postgres
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Invalid database_url: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		logger.Fatalf("Database unreachable: %v", err)
	}
	pingCancel()
	defer db.Close()

	if err := repository.RunMigrations(db); err != nil {
		logger.Fatalf("Migrations failed: %v", err)
	}

	// Redis
	ropts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatalf("Invalid redis_url: %v", err)
	}
	rcli, err := client.NewRedisClient(ctx, client.RedisConfig{
		Address:  ropts.Addr,
		Password: ropts.Password,
		DB:       ropts.DB,
	})
	if err != nil {
		logger.Fatalf("Redis unreachable: %v", err)
	}
	defer rcli.Close()

	// Webhook signing secret: Secrets Manager -> env -> yaml. Verification
	// fails closed if all three are empty.
	secret := loader.ResolveWebhookSecret(ctx, cfg)
	if secret == "" {
		logger.Warnf("No webhook signing secret resolved; all deliveries will be rejected")
	}
	verifier := webhook.NewVerifier(secret, cfg.Webhook.ReplayWindow, cfg.Webhook.FutureSkew)

	// Repositories
	paymentRepo := repository.NewPostgresPaymentRepository(db)
	deliveryRepo := repository.NewPostgresDeliveryRepository(db)
	assessmentRepo := repository.NewPostgresAssessmentRepository(db)

	// Services
	riskService := service.NewRiskService(paymentRepo, assessmentRepo, rcli, cfg.Risk)
	reconciler := service.NewReconciler(paymentRepo)
	auditService := service.NewAuditService(deliveryRepo)

	// Outcome telemetry
	shipper, err := telemetry.NewKafkaOutcomeShipper(cfg.Telemetry.Kafka)
	if err != nil {
		logger.Fatalf("Kafka shipper init failed: %v", err)
	}
	shipper.Start()

	// Handlers
	webhookHandler := handler.NewWebhookHandler(
		verifier,
		cfg.Webhook.SignatureHeader,
		cfg.Webhook.TimestampHeader,
		paymentRepo,
		riskService,
		reconciler,
		auditService,
		shipper,
	)
	healthHandler := handler.NewHealthHandler(db, rcli, version)

	// Router
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.Server, rcli)

	// No chimw.RealIP here: it would rewrite RemoteAddr from spoofable
	// headers before the rate limiter resolves the peer itself.
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Get("/health", healthHandler.Health)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiter.Handler)
		r.Mount("/webhooks", webhookHandler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("payment-webhook-service %s listening on %s (env=%s)", version, srv.Addr, cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Infof("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	shipper.Stop(shutdownCtx)
	logger.Infof("exited cleanly")
}
