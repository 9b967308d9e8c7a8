package main

import (
	"context"
	"errors"
	"os"
	"time"

	"spendwise/internal/cli"
	"spendwise/internal/notify"
	"spendwise/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the notify worker")
		os.Exit(1)
	}
	amqpClient := cli.InitAMQP(logger, cfg)
	if amqpClient == nil {
		logger.Error("AMQP broker unreachable, notify worker cannot start")
		os.Exit(1)
	}

	mailer := cli.InitMailer(context.Background(), logger, cfg)
	recorder, closeLog := cli.InitDeliveryLog(context.Background(), logger, cfg)

	// The worker only delivers, so the dispatcher gets no publisher.
	w := worker.NewEmailWorker(notify.NewDispatcher(mailer, nil), recorder)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close failed", "error", err)
		}
		closeLog()
	})

	logger.Info("Notify worker started",
		"queue", cfg.AMQPQueue,
		"mail_transport", cfg.MailTransport)

	go func() {
		if err := amqpClient.ConsumeEmails(ctx, w.HandleEmail); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Email consumer stopped", "error", err)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Notify worker stopped")
}
