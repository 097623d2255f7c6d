package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"terrashop/internal/config"
	"terrashop/internal/db"
	"terrashop/internal/logging"
	"terrashop/internal/orders"
	"terrashop/internal/rate"
	"terrashop/internal/server"
	"terrashop/internal/shipping"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	tariff, err := loadTariff(cfg)
	if err != nil {
		logger.Fatal("tariff rejected", zap.Error(err))
	}
	est := shipping.NewEstimator(tariff)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var orderSvc *orders.Service
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; order endpoints disabled")
	} else {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.NewPool(connectCtx, cfg.DatabaseURL)
		if err != nil {
			cancel()
			logger.Fatal("failed to connect db", zap.Error(err))
		}
		defer pool.Close()
		if err := db.Migrate(connectCtx, pool); err != nil {
			cancel()
			logger.Fatal("migration failed", zap.Error(err))
		}
		cancel()
		orderSvc = orders.NewService(orders.NewPostgresStore(pool), est)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.New(est, orderSvc, logger),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("api listening",
		zap.String("addr", srv.Addr),
		zap.String("env", cfg.AppEnv),
		zap.String("carrier", tariff.Carrier()),
		zap.Int("tiers", len(tariff.Tiers())),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func loadTariff(cfg config.Config) (*rate.Tariff, error) {
	if cfg.TariffPath != "" {
		return rate.LoadFile(cfg.TariffPath)
	}
	return rate.NewByName(cfg.Carrier)
}
