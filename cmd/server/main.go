// Package main runs the backtest HTTP service
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"liquidity-sweep-backtest/services/api"
	"liquidity-sweep-backtest/services/arrowpipeline"
	"liquidity-sweep-backtest/services/clickhouse"
	"liquidity-sweep-backtest/services/config"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config path (default ./configs/backtest.yaml)")
	withStore := flag.Bool("clickhouse", false, "Serve symbol requests from ClickHouse")
	flag.Parse()

	var paths []string
	if *cfgPath != "" {
		paths = append(paths, *cfgPath)
	}
	cfg, used, err := config.Load(paths...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("Starting backtest service", zap.String("config", used), zap.String("addr", cfg.Server.Addr))

	runCfg, err := cfg.EngineConfig()
	if err != nil {
		logger.Fatal("Invalid run configuration", zap.Error(err))
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("Invalid timezone", zap.Error(err))
	}

	opts := api.Options{
		Defaults:         runCfg,
		Location:         loc,
		IntradayInterval: cfg.Data.IntradayInterval,
		DailyInterval:    cfg.Data.DailyInterval,
		Pipeline:         arrowpipeline.NewPipeline(arrowpipeline.Config{}, logger),
		Logger:           logger,
	}
	if *withStore || cfg.Data.Source == "clickhouse" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		store, err := clickhouse.Open(ctx, clickhouse.Options{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Table:    cfg.ClickHouse.Table,
			Username: cfg.ClickHouse.User,
			Password: cfg.ClickHouse.Password,
		})
		cancel()
		if err != nil {
			logger.Fatal("Failed to connect to ClickHouse", zap.Error(err))
		}
		defer store.Close()
		opts.Loader = store
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewServer(opts).Router(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}
	logger.Info("Server stopped")
}
