// Package bootstrap opens the ledger and its dependencies from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hackgods/appointment-ledger/internal/api"
	"github.com/hackgods/appointment-ledger/internal/appointment"
	"github.com/hackgods/appointment-ledger/internal/config"
	"github.com/hackgods/appointment-ledger/internal/db"
	"github.com/hackgods/appointment-ledger/internal/metrics"
	redisclient "github.com/hackgods/appointment-ledger/internal/redis"
)

// Stack is an opened ledger with whatever it was built on.
type Stack struct {
	Ledger *appointment.Ledger
	// Health lists readiness checks for the opened dependencies.
	Health []api.Dependency

	closers []func() error
}

func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func Open(ctx context.Context, cfg config.Config, log *zap.Logger, m *metrics.Collector) (*Stack, error) {
	s := &Stack{}

	repo, err := s.openRepository(ctx, cfg, log)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	var locker redisclient.Locker
	if cfg.LockBackend == config.LockRedis {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			LockTTL:  cfg.LockTTL,
		})
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
		s.closers = append(s.closers, rdb.Close)
		s.Health = append(s.Health, api.Dependency{
			Name:     "redis",
			Critical: true,
			Check:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		locker = redisclient.NewRedisStoreLocker(rdb, cfg.LockTTL)
	}

	ledger, err := appointment.NewLedger(repo, appointment.Options{
		Locker:         locker,
		Hours:          cfg.Hours,
		MinDate:        cfg.MinBookableDate,
		NotBeforeToday: cfg.BookFromToday,
		Logger:         log,
		Metrics:        m,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := ledger.Reload(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("initial load: %w", err)
	}
	s.Ledger = ledger
	s.Health = append(s.Health, api.Dependency{
		Name:     "store",
		Critical: true,
		Check:    ledger.Reload,
	})
	return s, nil
}

func (s *Stack) openRepository(ctx context.Context, cfg config.Config, log *zap.Logger) (appointment.Repository, error) {
	switch cfg.StoreDriver {
	case config.DriverFile:
		log.Info("using file store", zap.String("records", cfg.RecordsFile), zap.String("holds", cfg.HoldsFile))
		return appointment.NewFileRepository(cfg.RecordsFile, cfg.HoldsFile), nil

	case config.DriverPostgres:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		s.Health = append(s.Health, api.Dependency{Name: "postgres", Critical: true, Check: pool.Ping})
		log.Info("connected to Postgres")

		repo := appointment.NewPgRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return repo, nil

	case config.DriverLevelDB:
		repo, err := appointment.OpenLevelDBRepository(cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, repo.Close)
		log.Info("using leveldb store", zap.String("path", cfg.LevelDBPath))
		return repo, nil

	case config.DriverMemory:
		log.Warn("using in-memory store, data is lost on exit")
		return appointment.NewMemoryRepository(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
