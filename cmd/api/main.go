package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"carebook/internal/api"
	"carebook/internal/config"
	"carebook/internal/database"
	"carebook/internal/domain"
	"carebook/internal/events"
	"carebook/internal/logging"
	"carebook/internal/metrics"
	"carebook/internal/models"
	"carebook/internal/notify"
	"carebook/internal/repository"
	"carebook/internal/scheduling"
	"carebook/internal/service"
	"carebook/internal/webhook"
	"carebook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	redisClient := initRedis(ctx, cfg, &logger)

	provider := scheduling.NewClient(
		cfg.Scheduling.BaseURL,
		cfg.Scheduling.Token,
		time.Duration(cfg.Scheduling.TimeoutSeconds)*time.Second,
		&logger,
	)
	if provider.Enabled() {
		logger.Info().Str("base_url", cfg.Scheduling.BaseURL).Msg("scheduling provider enabled")
	} else {
		logger.Info().Msg("scheduling provider disabled, bookings stay local")
	}

	retryPolicy := worker.RetryPolicy{
		MaxAttempts:   cfg.Notifications.MaxAttempts,
		InitialDelay:  time.Duration(cfg.Notifications.RetryDelaySeconds) * time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 1,
	}
	pollInterval := time.Duration(cfg.Notifications.PollIntervalSeconds) * time.Second
	dispatcher := notify.NewDispatcher(db, notify.NewLogGateway(&logger), redisClient, retryPolicy, pollInterval, &logger)
	go dispatcher.Start(ctx)

	eventBus := events.NewEventBus()
	subscribeBookingEvents(eventBus, &logger)

	bookingService := service.NewBookingService(db, db, provider, dispatcher, eventBus, &logger)

	reminders := worker.NewReminderScheduler(db, dispatcher, cfg.Reminders.Hour, cfg.Reminders.LeadDays, &logger)
	go reminders.Start(ctx)

	var reconciler *webhook.Reconciler
	if provider.Enabled() {
		verifier := scheduling.NewSignatureVerifier(cfg.Scheduling.WebhookSecret)
		reconciler = webhook.NewReconciler(
			verifier, db, bookingService,
			initDedupStore(ctx, redisClient, &logger),
			models.WebhookDedupTTL,
			&logger,
		)
	}

	if !cfg.API.Enabled {
		logger.Warn().Msg("API disabled, nothing to serve")
		<-ctx.Done()
		return nil
	}

	apiServer := api.NewHTTPServer(&cfg.API, bookingService, db, db, db, reconciler, &logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)

	logger.Info().Msg("carebook stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create database directory")
		return err
	}
	return nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize database")
		return nil, err
	}
	db.SetCenters(cfg.Centers)
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		logger.Info().Msg("redis not configured, using in-memory queues")
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable")
	}
	return client
}

func initDedupStore(ctx context.Context, redisClient *redis.Client, logger *zerolog.Logger) domain.DedupStore {
	fallback := repository.NewMemoryDedupStore()
	if redisClient == nil {
		return fallback
	}
	return repository.NewFailoverDedupStore(repository.NewRedisDedupStore(redisClient), fallback, logger)
}

func subscribeBookingEvents(eventBus *events.EventBus, logger *zerolog.Logger) {
	logEvent := func(event *events.Event) error {
		logger.Info().
			Str("event_type", event.Type).
			RawJSON("payload", event.Payload).
			Msg("booking event")
		return nil
	}

	for _, eventType := range []string{
		events.EventBookingCreated,
		events.EventBookingConfirmed,
		events.EventBookingCancelled,
		events.EventBookingCompleted,
		events.EventBookingNoShow,
		events.EventBookingRescheduled,
	} {
		eventBus.Subscribe(eventType, logEvent)
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
