package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/appointment-ledger/internal/appointment"
	"github.com/hackgods/appointment-ledger/internal/bootstrap"
	"github.com/hackgods/appointment-ledger/internal/calendar"
	"github.com/hackgods/appointment-ledger/internal/config"
	"github.com/hackgods/appointment-ledger/internal/logger"
)

// slot-sweeper periodically drops slot holds for days that have passed.
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

	log.Info("slot sweeper starting", zap.String("env", cfg.Env), zap.Duration("interval", cfg.SweepInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(rootCtx, 15*time.Second)
	stack, err := bootstrap.Open(openCtx, cfg, log, nil)
	cancelOpen()
	if err != nil {
		log.Fatal("open ledger", zap.Error(err))
	}
	defer stack.Close()

	// Run once at startup
	runOnce(rootCtx, log, stack.Ledger)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping slot sweeper")
			return
		case <-ticker.C:
			runOnce(rootCtx, log, stack.Ledger)
		}
	}
}

func runOnce(ctx context.Context, log *zap.Logger, ledger *appointment.Ledger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	pruned, err := ledger.PruneHolds(runCtx, calendar.DateOf(start))
	if err != nil {
		log.Error("sweep run error", zap.Error(err))
		return
	}
	log.Info("sweep run complete", zap.Int("pruned", pruned), zap.Duration("took", time.Since(start)))
}
