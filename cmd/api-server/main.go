package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/appointment-ledger/internal/api"
	"github.com/hackgods/appointment-ledger/internal/bootstrap"
	"github.com/hackgods/appointment-ledger/internal/config"
	"github.com/hackgods/appointment-ledger/internal/directory"
	"github.com/hackgods/appointment-ledger/internal/logger"
	"github.com/hackgods/appointment-ledger/internal/metrics"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
		zap.String("lock", cfg.LockBackend))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector("ledger")

	openCtx, cancelOpen := context.WithTimeout(rootCtx, 15*time.Second)
	stack, err := bootstrap.Open(openCtx, cfg, log, collector)
	cancelOpen()
	if err != nil {
		log.Fatal("open ledger", zap.Error(err))
	}
	defer func() {
		if err := stack.Close(); err != nil {
			log.Warn("error closing dependencies", zap.Error(err))
		}
	}()

	router := api.NewRouter(api.RouterConfig{
		Ledger:    stack.Ledger,
		Directory: directory.NewFileDirectory(cfg.ProvidersFile),
		Logger:    log,
		Metrics:   collector,
		Health:    stack.Health,
		Env:       cfg.Env,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}

	log.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
