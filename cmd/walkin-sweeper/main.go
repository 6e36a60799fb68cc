package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/logging"
	redisclient "github.com/hackgods/hospital-scheduling/internal/redis"
	"github.com/hackgods/hospital-scheduling/internal/scheduling"
)

const jobName = "walkin-sweeper"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named(jobName)

	logger.Info("walk-in sweeper starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("grace", cfg.WalkInGrace),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	store := scheduling.NewPgStore(pgPool, cfg.LockTimeout)
	svc := scheduling.NewService(store, nil, cfg, logger)
	locker := redisclient.NewRedisJobLocker(rdb, cfg.LockTTL)

	// Run once at startup
	runOnce(rootCtx, logger, svc, locker, cfg.WalkInGrace)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping sweeper")
			return
		case <-ticker.C:
			runOnce(rootCtx, logger, svc, locker, cfg.WalkInGrace)
		}
	}
}

// runOnce closes walk-ins whose emergency slot ended more than grace ago.
// Only the replica holding the job lock sweeps on a given tick.
func runOnce(ctx context.Context, logger *zap.Logger, svc *scheduling.Service, locker redisclient.Locker, grace time.Duration) {
	start := time.Now()
	cutoff := start.Add(-grace)

	var closed int
	err := locker.WithLock(ctx, jobName, func(ctx context.Context) error {
		var err error
		closed, err = svc.CompleteEndedWalkIns(ctx, cutoff)
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		logger.Debug("another replica holds the sweep lock")
	case err != nil:
		logger.Error("sweep run error", zap.Error(err), zap.Int("closed", closed))
	default:
		logger.Info("sweep run complete",
			zap.Int("closed", closed),
			zap.Time("cutoff", cutoff),
			zap.Duration("took", time.Since(start)),
		)
	}
}
