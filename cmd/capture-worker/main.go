package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/ridepay-backend/internal/cron"
	"github.com/angelmondragon/ridepay-backend/internal/paymentstack"
	"github.com/angelmondragon/ridepay-backend/pkg/config"
	"github.com/angelmondragon/ridepay-backend/pkg/db"
	"github.com/angelmondragon/ridepay-backend/pkg/instance"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
	"github.com/angelmondragon/ridepay-backend/pkg/metrics"
	"github.com/angelmondragon/ridepay-backend/pkg/migrate"
	"github.com/angelmondragon/ridepay-backend/pkg/redis"
)

const sweepLimit = 50

func main() {
	once := flag.Bool("once", false, "run a single locked cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "capture-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "capture-worker"

	logg = logger.New(logger.Options{
		ServiceName: "capture-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stack, err := paymentstack.New(context.Background(), cfg, logg, dbClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire payment stack", err)
		os.Exit(1)
	}

	// A cycle must not outlive the lock, or a second instance could start
	// charging the same batch.
	budget := cfg.CaptureWorker.RunBudget(stack.Stripe.RequestTimeout())
	lockTTL := cfg.CaptureWorker.LockTTL
	if lockTTL < budget+time.Minute {
		lockTTL = budget + time.Minute
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("capture-worker", cfg.App.Env), lockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create capture lock", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, stack, budget)
	if err != nil {
		logg.Error(context.Background(), "failed to register jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.CaptureWorker.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create capture worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"lock_ttl":    lockTTL.String(),
		"run_budget":  budget.String(),
	})

	if *once {
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "capture cycle failed", err)
			os.Exit(1)
		}
		return
	}

	go serveMetrics(ctx, logg, cfg.App.Port)

	logg.Info(ctx, "starting capture worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "capture worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "capture worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, stack *paymentstack.Stack, budget time.Duration) (*cron.Registry, error) {
	staleJob, err := cron.NewStaleCaptureJob(cron.StaleCaptureJobParams{
		Logger:      logg,
		Queue:       stack.Queue,
		Engine:      stack.Engine,
		StaleAfter:  cfg.Payments.StaleProcessingAfter,
		MaxAttempts: cfg.CaptureWorker.MaxAttempts,
		Limit:       sweepLimit,
	})
	if err != nil {
		return nil, err
	}
	captureJob, err := cron.NewCaptureBatchJob(cron.CaptureBatchJobParams{
		Logger:      logg,
		Worker:      stack.Worker,
		BatchSize:   cfg.CaptureWorker.BatchSize,
		MaxAttempts: cfg.CaptureWorker.MaxAttempts,
		Budget:      budget,
	})
	if err != nil {
		return nil, err
	}
	orphanJob, err := cron.NewOrphanAuthorizationJob(cron.OrphanAuthorizationJobParams{
		Logger: logg,
		Engine: stack.Engine,
		TTL:    cfg.Payments.OrphanAuthorizationTTL,
		Limit:  sweepLimit,
	})
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Repository:       stack.Outbox,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	// Stale recovery runs first so a crashed run's entries join this cycle's batch.
	return cron.NewRegistry(staleJob, captureJob, orphanJob, retentionJob)
}

func serveMetrics(ctx context.Context, logg *logger.Logger, port string) {
	if port == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "metrics server stopped", err)
	}
}
