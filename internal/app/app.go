package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/internal/eventbus"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/notify"
	"github.com/xenking/storefront/internal/outbox"
	"github.com/xenking/storefront/internal/storage/cache"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const serviceName = "storefront-api"

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))

	// Redis is optional; without it settings are read straight from Postgres
	// and rate limits are per replica.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = cache.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return errors.Wrap(err, "create redis client")
		}
		defer func() { _ = rdb.Close() }()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	// Repositories.
	store := postgres.NewStore(pool)
	productRepo := postgres.NewProductRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)
	outboxRepo := postgres.NewOutboxRepository(pool)

	var settingsRepo settings.Repository = postgres.NewSettingsRepository(pool)
	if rdb != nil {
		settingsRepo = cache.NewSettingsCache(rdb, settingsRepo, cfg.Redis.SettingsTTL)
	}

	healthSvc.AddReadinessCheck("outbox", 5*time.Second, health.BacklogCheck(
		func(ctx context.Context) (int64, error) {
			n, err := outboxRepo.Pending(ctx)
			return int64(n), err
		},
		cfg.Outbox.MaxBacklog,
	))

	// Outbox handlers.
	var mailer notify.Mailer = notify.LogMailer{}
	if cfg.SMTP.Host != "" {
		mailer, err = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			SSL:      cfg.SMTP.SSL,
		})
		if err != nil {
			return errors.Wrap(err, "create mailer")
		}
	}
	notifier, err := notify.NewNotifier(mailer, orderRepo, settingsRepo)
	if err != nil {
		return errors.Wrap(err, "create notifier")
	}
	handlers := []outbox.Handler{notifier}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := eventbus.NewPublisher(eventbus.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			return errors.Wrap(err, "create kafka publisher")
		}
		defer func() { _ = publisher.Close() }()
		handlers = append(handlers, publisher)
	}

	relay, err := outbox.NewRelay(outboxRepo, outbox.Config{
		Interval:    cfg.Outbox.Interval,
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	}, m.MeterProvider(), handlers...)
	if err != nil {
		return errors.Wrap(err, "create outbox relay")
	}

	// Domain services.
	orderService, err := order.NewService(store, settingsRepo, orderRepo, relay,
		order.WithTxTimeout(cfg.Order.TxTimeout),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	// HTTP.
	h := handler.NewHandler(
		handler.Config{ImageBaseURL: cfg.ImageBaseURL},
		orderService,
		productRepo,
		settingsRepo,
		coupon.NewRepoValidator(couponRepo),
	)
	authn := handler.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper))

	mux := http.NewServeMux()
	healthSvc.Register(mux)
	h.Register(mux)

	rateLimitCfg := httpmiddleware.RateLimitConfig{
		Max:     cfg.RateLimit.Max,
		Window:  cfg.RateLimit.Window,
		KeyFunc: handler.RateLimitKey,
	}
	rateLimit := httpmiddleware.RateLimit(ctx, rateLimitCfg)
	if rdb != nil {
		rateLimit = httpmiddleware.RateLimitWith(
			httpmiddleware.NewRedisLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window, "storefront:ratelimit:"),
			rateLimitCfg,
		)
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", handler.APIKeyHeader, httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.Instrument(serviceName, m.MeterProvider(), m.TracerProvider()),
			httpmiddleware.LogRequests(),
			authn.Middleware(),
			rateLimit,
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(zctx.Base(gCtx, lg))
	})

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
