// Package app opens the infrastructure shared by the api, worker and ctl
// binaries and builds the collaborators they have in common.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/brennholz-api/internal/analytics"
	"github.com/noah-isme/brennholz-api/internal/common"
	"github.com/noah-isme/brennholz-api/internal/config"
	"github.com/noah-isme/brennholz-api/internal/db"
	"github.com/noah-isme/brennholz-api/internal/loyalty"
	"github.com/noah-isme/brennholz-api/internal/notify"
	"github.com/noah-isme/brennholz-api/internal/obs"
	"github.com/noah-isme/brennholz-api/internal/queue"
	"github.com/noah-isme/brennholz-api/internal/resilience"
)

// Dependencies holds the connections a binary needs. Close releases them in
// reverse order of acquisition.
type Dependencies struct {
	Config *config.Config
	Logger zerolog.Logger
	DB     *pgxpool.Pool
	Redis  *redis.Client

	closers []func(context.Context) error
}

// Open initialises tracing, metrics, the database pool and the Redis client
// for the named service.
func Open(ctx context.Context, cfg *config.Config, service string) (*Dependencies, error) {
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().
		Str("env", cfg.AppEnv).
		Str("service", service).
		Logger()
	d := &Dependencies{Config: cfg, Logger: logger}

	if cfg.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	}

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   service,
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      "otlp",
			SamplingRatio: cfg.TracingSamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			d.closers = append(d.closers, shutdown)
		}
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.Options{
		ApplicationName: service,
		Tracer:          obs.PGXTracer{},
	})
	if err != nil {
		_ = d.Close(ctx)
		return nil, err
	}
	d.DB = pool
	d.closers = append(d.closers, func(context.Context) error {
		pool.Close()
		return nil
	})

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		_ = d.Close(ctx)
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	d.Redis = rdb
	d.closers = append(d.closers, func(context.Context) error { return rdb.Close() })
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = d.Close(ctx)
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return d, nil
}

// Close shuts down everything Open acquired.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// Queue returns the enqueuer for post-order tasks.
func Queue(cfg *config.Config, rdb *redis.Client) queue.Enqueuer {
	return queue.Enqueuer{
		R:           rdb,
		Prefix:      cfg.QueueRedisPrefix,
		DedupTTL:    cfg.IdempotencyTTL,
		MaxAttempts: cfg.QueueMaxAttempts,
	}
}

// Outbound builds a retrying, circuit-broken HTTP client for one remote.
func Outbound(cfg *config.Config, target string, logger zerolog.Logger) resilience.HTTPClient {
	breaker := resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRate, cfg.CircuitOpenFor).
		WithTarget(target).
		WithLogger(logger)
	return resilience.HTTPClient{
		Client:      resilience.NewTracedClient(cfg.OutboundTimeout),
		Breaker:     breaker,
		BaseBackoff: cfg.RetryBase,
		MaxAttempts: cfg.RetryMaxAttempts,
		Jitter:      cfg.RetryJitterPercent,
		Timeout:     cfg.OutboundTimeout,
	}
}

// Mailer builds the order mailer. Mail goes to the log until a relay is
// configured.
func Mailer(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) notify.Mailer {
	return notify.Mailer{
		Mail:     common.LogEmailSender{From: cfg.NotifyEmailFrom, Logger: logger},
		Enabled:  cfg.NotifyEmailEnabled,
		ShopName: cfg.ShopName,
		Guard:    notify.RedisSendGuard{Client: rdb},
		Logger:   logger,
	}
}

// Analytics returns the HTTP emitter when an endpoint is configured and a
// log emitter otherwise.
func Analytics(cfg *config.Config, logger zerolog.Logger) analytics.Emitter {
	if cfg.AnalyticsEndpoint == "" {
		return analytics.LogEmitter{Logger: logger}
	}
	return analytics.HTTPEmitter{
		Client:   Outbound(cfg, "analytics", logger),
		Endpoint: cfg.AnalyticsEndpoint,
		Secret:   cfg.AnalyticsSecret,
	}
}

// Loyalty returns nil when no loyalty service is configured.
func Loyalty(cfg *config.Config, logger zerolog.Logger) loyalty.Client {
	if cfg.LoyaltyBaseURL == "" {
		return nil
	}
	return loyalty.HTTPClient{
		HTTP:    Outbound(cfg, "loyalty", logger),
		BaseURL: cfg.LoyaltyBaseURL,
		APIKey:  cfg.LoyaltyAPIKey,
	}
}
