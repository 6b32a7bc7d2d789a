package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/brennholz-api/internal/app"
	"github.com/noah-isme/brennholz-api/internal/config"
	"github.com/noah-isme/brennholz-api/internal/discount"
	"github.com/noah-isme/brennholz-api/internal/inventory"
	"github.com/noah-isme/brennholz-api/internal/order"
	"github.com/noah-isme/brennholz-api/internal/postorder"
	"github.com/noah-isme/brennholz-api/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Open(startCtx, cfg, "brennholz-worker")
	cancel()
	if err != nil {
		panic(err)
	}
	logger := deps.Logger
	defer func() {
		if err := deps.Close(context.Background()); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()
	pool, rdb := deps.DB, deps.Redis

	stock := inventory.PGStore{DB: pool}
	handlers := postorder.Handlers{
		Mailer:    app.Mailer(cfg, rdb, logger),
		Discounts: &discount.Service{Store: discount.PGStore{DB: pool}},
		Analytics: app.Analytics(cfg, logger),
		Loyalty:   app.Loyalty(cfg, logger),
		Inventory: stock,
		Orders:    order.PGStore{DB: pool},
		DB:        pool,
		Logger:    logger,
	}
	dlq := queue.NewStore(pool)

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range postorder.Kinds() {
		handler, err := handlers.For(kind)
		if err != nil {
			logger.Fatal().Err(err).Str("kind", kind).Msg("resolve task handler")
		}
		workerLogger := logger.With().Str("kind", kind).Logger()
		w := queue.Worker{
			R:                 rdb,
			Prefix:            cfg.QueueRedisPrefix,
			Kind:              kind,
			Concurrency:       cfg.QueueConcurrency,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			Handler:           handler,
			RetryBase:         cfg.QueueBackoffBase,
			RetryJitter:       cfg.QueueBackoffJitter,
			Store:             dlq,
			Logger:            &workerLogger,
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	reconcile, err := startReconciler(cfg, inventory.Reconciler{Store: stock, Logger: logger}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("start stock reconciler")
	}
	defer reconcile()

	logger.Info().Strs("kinds", postorder.Kinds()).Msg("worker starting")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker shutdown complete")
}

// startReconciler schedules the periodic ledger reconciliation on asynq and
// returns a function that stops both scheduler and server.
func startReconciler(cfg *config.Config, r inventory.Reconciler, logger zerolog.Logger) (func(), error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	log := asynqLogger{logger.With().Str("component", "asynq").Logger()}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC, Logger: log})
	if _, err := scheduler.Register(cfg.ReconcileSchedule, inventory.NewReconcileTask(), asynq.Unique(time.Minute)); err != nil {
		return nil, fmt.Errorf("register reconcile schedule: %w", err)
	}

	srv := asynq.NewServer(opt, asynq.Config{Concurrency: 1, Logger: log})
	mux := asynq.NewServeMux()
	mux.Handle(inventory.TaskReconcile, r)

	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("start asynq server: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("start asynq scheduler: %w", err)
	}
	return func() {
		scheduler.Shutdown()
		srv.Shutdown()
	}, nil
}

type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
