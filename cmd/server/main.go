package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"marketplace-service/config"
	"marketplace-service/internal/api"
	"marketplace-service/internal/broker"
	"marketplace-service/internal/jobs"
	"marketplace-service/internal/notify"
	"marketplace-service/internal/payments"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"
	"marketplace-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const mailConcurrency = 5

func main() {

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint, cfg.Server.Env)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))

	eventPublisher := broker.NewEventPublisher(producer)

	var mailer notify.Mailer
	if cfg.Mail.ProviderURL != "" {
		mailer = notify.NewHTTPMailer(cfg.Mail.ProviderURL, cfg.Mail.APIKey, cfg.Mail.From)
	} else {
		logger.Warn("MAIL_PROVIDER_URL not set, emails will only be logged")
		mailer = notify.NewLogMailer()
	}

	redisOpt := jobs.RedisOpt(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	mailQueue := jobs.NewClient(redisOpt)
	defer mailQueue.Close()
	mailWorker := jobs.NewWorker(redisOpt, mailer, mailConcurrency)

	catalogService := service.NewCatalogService(db)
	ledger := service.NewInventoryLedger(db, redisClient, redisClient, eventPublisher,
		cfg.Business.LowStockThreshold, cfg.Business.IdempotencyTTL)
	orderService := service.NewOrderService(db, catalogService, redisClient, eventPublisher, cfg.Business.IdempotencyTTL)
	poller := service.NewVerificationPoller(service.PollConfig{
		Interval:    cfg.Verification.PollInterval,
		MaxInterval: cfg.Verification.PollMaxInterval,
		Multiplier:  cfg.Verification.PollMultiplier,
		MaxAttempts: cfg.Verification.PollMaxAttempts,
	})
	onboardingService := service.NewOnboardingService(db, redisClient, mailQueue, eventPublisher, poller,
		cfg.Business.OnboardingLockTTL, cfg.Mail.AppBaseURL)
	contactService := service.NewContactService(mailer, cfg.Mail.AdminAddress, cfg.Mail.AppBaseURL)
	checkout := payments.NewStripeVerifier(cfg.Stripe.SecretKey)

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(consumer, db, db, mailQueue,
		cfg.Mail.AdminAddress, cfg.Mail.AppBaseURL)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(ledger, catalogService, orderService, onboardingService, contactService, checkout, db, redisClient)
	handler.SetupRoutes(router, api.Options{
		Production:     cfg.IsProduction(),
		RequestTimeout: cfg.Server.RequestTimeout,
		FormRateLimit:  cfg.Server.FormRateLimit,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := notificationWorker.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("notification worker: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return mailWorker.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		if err := notificationWorker.Stop(); err != nil {
			logger.Warn("Error closing consumer", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
	}

	logger.Info("Server exited")
}
