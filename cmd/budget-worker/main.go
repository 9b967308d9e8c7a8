package main

import (
	"context"
	"os"
	"time"

	"spendwise/internal/backend"
	"spendwise/internal/budget"
	"spendwise/internal/cli"
	"spendwise/internal/notify"
	"spendwise/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	if cfg.DataBackend == string(backend.MemoryBackend) {
		logger.Error("The budget worker needs a shared store, the memory backend is swept by the server itself")
		os.Exit(1)
	}

	store, cleanupStore := cli.InitStore(context.Background(), logger, cfg)
	mailer := cli.InitMailer(context.Background(), logger, cfg)

	var publisher notify.Publisher
	amqpClient := cli.InitAMQP(logger, cfg)
	if amqpClient != nil {
		publisher = amqpClient
	}
	budgets := budget.NewManager(store, notify.NewDispatcher(mailer, publisher))
	sweeper := worker.NewBudgetSweeper(budgets, cfg.SweepInterval)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close failed", "error", err)
			}
		}
		if err := cleanupStore(); err != nil {
			logger.Warn("Store cleanup failed", "error", err)
		}
	})

	logger.Info("Budget worker started", "interval", cfg.SweepInterval)
	go sweeper.Run(ctx)

	cli.WaitForShutdown(ctx, done)
	logger.Info("Budget worker stopped")
}
