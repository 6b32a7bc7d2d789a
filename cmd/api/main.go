package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/brennholz-api/internal/app"
	"github.com/noah-isme/brennholz-api/internal/audit"
	"github.com/noah-isme/brennholz-api/internal/cache"
	"github.com/noah-isme/brennholz-api/internal/catalog"
	"github.com/noah-isme/brennholz-api/internal/checkout"
	"github.com/noah-isme/brennholz-api/internal/common"
	"github.com/noah-isme/brennholz-api/internal/config"
	"github.com/noah-isme/brennholz-api/internal/customer"
	"github.com/noah-isme/brennholz-api/internal/discount"
	"github.com/noah-isme/brennholz-api/internal/events"
	"github.com/noah-isme/brennholz-api/internal/health"
	"github.com/noah-isme/brennholz-api/internal/inventory"
	"github.com/noah-isme/brennholz-api/internal/lock"
	"github.com/noah-isme/brennholz-api/internal/notify"
	"github.com/noah-isme/brennholz-api/internal/obs"
	"github.com/noah-isme/brennholz-api/internal/order"
	"github.com/noah-isme/brennholz-api/internal/postorder"
	"github.com/noah-isme/brennholz-api/internal/queue"
	"github.com/noah-isme/brennholz-api/internal/ratelimit"
	"github.com/noah-isme/brennholz-api/internal/security"
	"github.com/noah-isme/brennholz-api/internal/settings"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Open(startCtx, cfg, "brennholz-api")
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

	settingsSvc := &settings.Service{
		Store: settings.PGStore{DB: pool},
		Cache: cache.NewJSON(rdb, "settings", cfg.SettingsCacheTTL),
	}
	productStore := catalog.PGStore{DB: pool}
	catalogSvc := &catalog.Service{
		Store: productStore,
		Cache: cache.NewJSON(rdb, "catalog", cfg.SettingsCacheTTL),
	}
	discountSvc := &discount.Service{Store: discount.PGStore{DB: pool}}
	stock := inventory.PGStore{DB: pool}
	orders := order.PGStore{DB: pool}
	tokens := order.Tokens{Secret: []byte(cfg.ConfirmationTokenSecret), TTL: cfg.ConfirmationTokenTTL}

	bus := &events.Bus{
		Store:     events.PGStore{DB: pool},
		Notifiers: []events.Notifier{notify.StatusNotifier{Mailer: app.Mailer(cfg, rdb, logger)}},
	}
	orderSvc := &order.Service{
		Store:     orders,
		DB:        pool,
		Inventory: stock,
		Events:    bus,
		Tokens:    tokens,
		Logger:    logger,
	}

	enqueuer := app.Queue(cfg, rdb)
	checkoutSvc := &checkout.Service{
		Settings:        settingsSvc,
		Products:        productStore,
		Discounts:       discountSvc,
		Stock:           stock,
		Customers:       &customer.Service{Store: customer.PGStore{DB: pool}, Logger: logger},
		Orders:          orders,
		DB:              pool,
		Locker:          lock.Locker{R: rdb, RetryBackoff: cfg.LockRetryBackoff},
		Events:          bus,
		Effects:         postorder.Dispatcher{Queue: enqueuer, Logger: logger},
		Tokens:          tokens,
		Validator:       checkout.NewValidator(),
		Logger:          logger,
		ReserveStock:    cfg.CheckoutReserveStock,
		LockTTL:         cfg.CheckoutLockTTL,
		ConfirmationURL: cfg.ConfirmationPageURL,
	}

	limiterStore, err := ratelimit.NewRedisStore(rdb, cfg.QueueRedisPrefix+":ratelimit")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter store")
	}
	submitLimiter, err := ratelimit.NewFromFormatted(limiterStore, cfg.CheckoutSubmitRate)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse checkout submit rate")
	}
	submitLimit := ratelimit.Handler{
		Limiter: submitLimiter,
		Key:     ratelimit.ByClientIP,
		Scope:   "checkout-submit",
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate_limit_store_error") },
	}
	idem := common.Idem{R: rdb, TTL: cfg.IdempotencyTTL}

	catalogHandler := &catalog.Handler{Svc: catalogSvc}
	discountHandler := &discount.Handler{Svc: discountSvc}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, Logger: logger}
	orderHandler := &order.Handler{Svc: orderSvc}
	orderAdmin := &order.AdminHandler{Svc: orderSvc}
	settingsAdmin := &settings.AdminHandler{Svc: settingsSvc}
	queueAdmin := &queue.AdminHandler{
		Store:             queue.NewStore(pool),
		Queue:             enqueuer,
		Logger:            logger,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
	}

	auditStore := audit.PGStore{DB: pool}
	auditRecorder := audit.HTTPRecorder{
		Service:         &audit.Service{Store: auditStore, Enabled: cfg.AuditEnabled},
		Actor:           audit.ActorAdmin,
		ResourceIDParam: "number",
		OnError:         func(err error) { logger.Warn().Err(err).Msg("audit_record_failed") },
	}

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.EnableHSTS}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	dbTimeout := envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500)
	gate := &health.Gate{}
	healthHandler := health.Handler{
		Gate: gate,
		Checks: []health.Check{
			{Name: "db", Timeout: dbTimeout, Probe: pool.Ping},
			{Name: "redis", Timeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300), Probe: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}},
			{Name: "settings", Timeout: dbTimeout, Probe: func(ctx context.Context) error {
				_, err := settingsSvc.Snapshot(ctx)
				return err
			}},
		},
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	bodyLimit := security.BodyLimit{Max: cfg.MaxBodyBytes}

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(bodyLimit.Middleware)

		v.Get("/products", catalogHandler.Products)
		v.Get("/products/{slug}", catalogHandler.ProductDetail)
		v.Get("/products/{slug}/price", catalogHandler.Price)
		v.Post("/discounts/preview", discountHandler.Preview)

		v.Route("/checkout", func(c chi.Router) {
			c.Post("/quote", checkoutHandler.Quote)
			c.Post("/steps/{step}", checkoutHandler.ValidateStep)
			c.With(submitLimit.Middleware, idem.Middleware).Post("/submit", checkoutHandler.Submit)
		})

		v.Get("/orders/confirmation", orderHandler.Confirmation)
	})

	r.Route("/admin", func(a chi.Router) {
		a.Use(security.AdminToken{Token: cfg.AdminAPIToken}.Middleware)
		a.Use(bodyLimit.Middleware)
		a.Use(auditRecorder.Middleware)

		a.Get("/audit", audit.Handler{Store: auditStore}.List)
		a.Get("/orders", orderAdmin.List)
		a.Get("/orders/{number}", orderAdmin.Get)
		a.Patch("/orders/{number}/status", orderAdmin.PatchStatus)

		a.Get("/settings", settingsAdmin.Get)
		a.Post("/settings/invalidate", settingsAdmin.Invalidate)

		a.Get("/queue/dlq", queueAdmin.ListDLQ)
		a.Post("/queue/dlq/replay", queueAdmin.ReplayDLQ)
		a.Get("/queue/stats", queueAdmin.Stats)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		gate.Drain()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	ms := fallback
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			ms = parsed
		}
	}
	return time.Duration(ms) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/"+name, pprof.Handler(name))
	}
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
