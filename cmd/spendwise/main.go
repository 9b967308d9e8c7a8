package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"spendwise/internal/auth"
	"spendwise/internal/backend"
	"spendwise/internal/budget"
	"spendwise/internal/cache"
	"spendwise/internal/cli"
	apphttp "spendwise/internal/http"
	applog "spendwise/internal/log"
	"spendwise/internal/notify"
	"spendwise/internal/services"
	"spendwise/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)
	loc := cfg.Location()

	store, cleanupStore := cli.InitStore(context.Background(), logger, cfg)
	mailer := cli.InitMailer(context.Background(), logger, cfg)

	// A nil *amqp.Client must not end up inside the interface.
	var publisher notify.Publisher
	amqpClient := cli.InitAMQP(logger, cfg)
	if amqpClient != nil {
		publisher = amqpClient
	}
	dispatcher := notify.NewDispatcher(mailer, publisher)

	budgets := budget.NewManager(store, dispatcher)
	dashboard := services.NewDashboardService(store, store, loc)
	transactions := services.NewTransactionService(store, budgets)
	transactions.OnChange(dashboard.Invalidate)

	caches := cache.NewManager()
	caches.Register(dashboard.Cache())
	caches.StartCleanup(10 * time.Minute)

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Auth:         auth.NewService(store, dispatcher, cfg.BaseURL),
		Transactions: transactions,
		Dashboard:    dashboard,
		Budgets:      budgets,
		Store:        store,
		Location:     loc,
		CookieSecure: cfg.CookieSecure,
		Logger:       applog.New(applog.Config{Component: applog.ComponentApp, Handler: logger.Handler()}),
	})
	if err != nil {
		logger.Error("Failed to build HTTP server", "error", err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		caches.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close failed", "error", err)
			}
		}
		if err := cleanupStore(); err != nil {
			logger.Warn("Store cleanup failed", "error", err)
		}
	})

	// The in-memory store lives in this process only, so nobody else can
	// sweep it.
	if cfg.DataBackend == string(backend.MemoryBackend) {
		go worker.NewBudgetSweeper(budgets, cfg.SweepInterval).Run(ctx)
	}

	go func() {
		logger.Info("Starting spendwise server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"mail_transport", cfg.MailTransport,
			"async_mail", publisher != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err, "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
