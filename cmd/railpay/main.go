package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"railpay/internal/activation"
	"railpay/internal/common/database"
	"railpay/internal/common/metrics"
	"railpay/internal/common/middleware"
	"railpay/internal/common/money"
	natsclient "railpay/internal/common/nats"
	"railpay/internal/notify"
	"railpay/internal/providers"
	"railpay/internal/providers/airtel"
	"railpay/internal/providers/flutterwave"
	"railpay/internal/providers/mtnmomo"
	"railpay/internal/settlement"
	"railpay/internal/webhook"
	"railpay/migrations"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	Database database.Config
	NATS     natsclient.Config

	NATSEnabled bool `envconfig:"NATS_ENABLED" default:"false"`

	// Provider credentials. An empty secret leaves that provider
	// unregistered.
	FlutterwaveSecretHash string `envconfig:"FLW_SECRET_HASH"`
	MTNAPIKey             string `envconfig:"MTN_MOMO_API_KEY"`
	AirtelClientSecret    string `envconfig:"AIRTEL_CLIENT_SECRET"`

	// Settlement policy.
	CommissionBP int64 `envconfig:"COMMISSION_RATE_BP" default:"1000"`
	VATBP        int64 `envconfig:"VAT_RATE_BP" default:"1600"`

	// SMS providers, tried in priority order.
	SMSPrimaryName      string `envconfig:"SMS_PRIMARY_NAME" default:"africas-talking"`
	SMSPrimaryEndpoint  string `envconfig:"SMS_PRIMARY_ENDPOINT"`
	SMSPrimaryAPIKey    string `envconfig:"SMS_PRIMARY_API_KEY"`
	SMSFallbackName     string `envconfig:"SMS_FALLBACK_NAME" default:"twilio"`
	SMSFallbackEndpoint string `envconfig:"SMS_FALLBACK_ENDPOINT"`
	SMSFallbackAPIKey   string `envconfig:"SMS_FALLBACK_API_KEY"`
	SMSSenderID         string `envconfig:"SMS_SENDER_ID" default:"SENTINEL"`
}

func main() {
	// .env is optional; real deployments configure the environment.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	metrics.MustRegister()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := database.Migrate(cfg.Database.URL, migrations.FS, ".", logger); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// SMS delivery chain.
	var senders []notify.Sender
	if cfg.SMSPrimaryEndpoint != "" {
		senders = append(senders, notify.NewHTTPSender(cfg.SMSPrimaryName, cfg.SMSPrimaryEndpoint, cfg.SMSPrimaryAPIKey, cfg.SMSSenderID))
	}
	if cfg.SMSFallbackEndpoint != "" {
		senders = append(senders, notify.NewHTTPSender(cfg.SMSFallbackName, cfg.SMSFallbackEndpoint, cfg.SMSFallbackAPIKey, cfg.SMSSenderID))
	}
	if len(senders) == 0 {
		senders = append(senders, notify.NewNoopSender(logger))
	}
	dispatcher := notify.NewDispatcher(senders, notify.NewPostgresAttemptStore(db), logger)

	// Queue: JetStream when configured, in-process otherwise.
	var queue notify.Queue
	if cfg.NATSEnabled {
		nc, err := natsclient.New(ctx, cfg.NATS, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		stream := natsclient.DefaultStreamConfig("NOTIFY", []string{notify.SubjectSMS})
		if _, err := nc.EnsureStream(ctx, stream); err != nil {
			logger.Error("failed to ensure stream", "error", err)
			os.Exit(1)
		}
		consumer, err := nc.EnsureConsumer(ctx, natsclient.DefaultConsumerConfig("sms-dispatcher", "NOTIFY", notify.SubjectSMS))
		if err != nil {
			logger.Error("failed to ensure consumer", "error", err)
			os.Exit(1)
		}

		sub := natsclient.NewSubscriber(consumer, logger)
		go func() {
			if err := sub.Start(ctx, dispatcher.HandleQueued); err != nil && ctx.Err() == nil {
				logger.Error("notification subscriber stopped", "error", err)
			}
		}()
		queue = notify.NewNATSQueue(nc)
	} else {
		queue = notify.NewInlineQueue(dispatcher)
	}

	// Activation engine.
	notifier := notify.NewNotifier(queue, logger)
	engine := activation.NewService(activation.NewPostgresStore(db), notifier, logger)

	// Payment providers.
	var registered []providers.Provider
	if cfg.FlutterwaveSecretHash != "" {
		registered = append(registered, flutterwave.New(cfg.FlutterwaveSecretHash, money.ZMW))
	}
	if cfg.MTNAPIKey != "" {
		registered = append(registered, mtnmomo.New(cfg.MTNAPIKey, money.ZMW))
	}
	if cfg.AirtelClientSecret != "" {
		registered = append(registered, airtel.New(cfg.AirtelClientSecret, money.ZMW))
	}
	registry := providers.NewRegistry(registered...)
	if len(registered) == 0 {
		logger.Warn("no payment providers configured; webhook endpoints will reject everything")
	}

	webhookHandler := webhook.NewHandler(registry, engine, db, logger)

	calc := settlement.NewCalculator(cfg.CommissionBP, cfg.VATBP)
	settlementHandler := settlement.NewHandler(calc, settlement.NewPostgresSubscriberSource(db))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Compress(5))

	r.Get("/health", webhookHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Mount("/webhooks", webhookHandler.Routes())
		r.Mount("/settlement", settlementHandler.Routes())
	})
	if cfg.Environment != "production" {
		r.Post("/api/webhooks-test", webhookHandler.TestActivation)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting railpay service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"providers", registry.Names(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
