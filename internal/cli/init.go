// Package cli provides common CLI initialization utilities shared by
// cmd/spendwise, cmd/notify-worker and cmd/budget-worker.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spendwise/internal/amqp"
	"spendwise/internal/backend"
	"spendwise/internal/config"
	"spendwise/internal/deliverylog"
	"spendwise/internal/notify"
	"spendwise/internal/ports"

	"github.com/joho/godotenv"
)

// logLevel is shared by every logger SetupLogger creates so the configured
// level applies once the config is loaded.
var logLevel = new(slog.LevelVar)

// SetupLogger initializes structured logging and sets it as the default
// logger. The level starts at info and follows LOG_LEVEL after
// LoadAndValidateConfig.
func SetupLogger() *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *slog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if lvl, err := cfg.SlogLevel(); err == nil {
		logLevel.Set(lvl)
	}
	return cfg
}

// InitStore opens the configured store. Exits the process on failure.
func InitStore(ctx context.Context, logger *slog.Logger, cfg *config.Config) (ports.Store, backend.CleanupFunc) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize store", "error", err, "backend", bcfg.Type)
		os.Exit(1)
	}
	return res.Store, res.Cleanup
}

// InitMailer builds the configured mail transport. Exits the process on
// failure.
func InitMailer(ctx context.Context, logger *slog.Logger, cfg *config.Config) notify.Mailer {
	switch cfg.MailTransport {
	case "smtp":
		m, err := notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom)
		if err != nil {
			logger.Error("Failed to initialize SMTP transport", "error", err)
			os.Exit(1)
		}
		logger.Info("Using SMTP mail transport", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
		return m
	case "gmail":
		m, err := notify.NewGmailMailer(ctx, cfg.GmailCredentialsJSON, cfg.GmailCredentialsFile, cfg.MailFrom)
		if err != nil {
			logger.Error("Failed to initialize Gmail transport", "error", err)
			os.Exit(1)
		}
		logger.Info("Using Gmail mail transport", "from", cfg.MailFrom)
		return m
	default:
		logger.Info("Using log mail transport, emails are printed instead of sent")
		return notify.NewLogMailer(logger)
	}
}

// InitAMQP connects to RabbitMQ when configured. It returns nil when AMQP is
// disabled or unreachable; callers then deliver emails inline.
func InitAMQP(logger *slog.Logger, cfg *config.Config) *amqp.Client {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled, emails are sent inline")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, emails are sent inline", "error", err)
		return nil
	}
	logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// InitDeliveryLog connects the MongoDB delivery log when configured.
func InitDeliveryLog(ctx context.Context, logger *slog.Logger, cfg *config.Config) (deliverylog.Recorder, func()) {
	if cfg.MongoURI == "" {
		logger.Info("Delivery log disabled, no MONGO_URI provided")
		return deliverylog.Nop{}, func() {}
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := deliverylog.Connect(connectCtx, cfg.MongoURI)
	if err != nil {
		logger.Warn("Delivery log unavailable, continuing without it", "error", err)
		return deliverylog.Nop{}, func() {}
	}
	logger.Info("Delivery log enabled", "database", cfg.MongoDatabase, "collection", deliverylog.Collection)
	return deliverylog.New(deliverylog.NewMongoProvider(client, cfg.MongoDatabase)), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			logger.Warn("MongoDB disconnect failed", "error", err)
		}
	}
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *slog.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-time.After(timeout):
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup ran.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
