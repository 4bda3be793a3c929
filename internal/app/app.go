package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/cake-heaven/internal/domain/analytics"
	"github.com/xenking/cake-heaven/internal/domain/auth"
	"github.com/xenking/cake-heaven/internal/domain/coupon"
	"github.com/xenking/cake-heaven/internal/domain/order"
	"github.com/xenking/cake-heaven/internal/domain/payment"
	"github.com/xenking/cake-heaven/internal/domain/product"
	"github.com/xenking/cake-heaven/internal/domain/settings"
	"github.com/xenking/cake-heaven/internal/domain/wallet"
	"github.com/xenking/cake-heaven/internal/gateway/stripe"
	"github.com/xenking/cake-heaven/internal/handler"
	"github.com/xenking/cake-heaven/internal/notify"
	"github.com/xenking/cake-heaven/internal/storage/postgres"
	rediscache "github.com/xenking/cake-heaven/internal/storage/redis"
	"github.com/xenking/cake-heaven/pkg/health"
	"github.com/xenking/cake-heaven/pkg/httpmiddleware"
)

const catalogCachePrefix = "cake:catalog"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
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
	healthSvc.AddReadiness(health.Check{Name: "postgres", Timeout: 5 * time.Second, Func: health.PingCheck(pool)})
	healthSvc.AddLiveness(health.Check{Name: "goroutines", Timeout: time.Second, Func: health.GoroutineCountCheck(10000)})
	healthSvc.AddLiveness(health.Check{Name: "gc", Timeout: time.Second, Func: health.GCMaxPauseCheck(time.Second)})

	// Catalog cache: Redis when configured, otherwise per-process memory.
	var catalogCache product.Cache = product.NewMemoryCache(cfg.Catalog.CacheTTL)
	if cfg.RedisURL != "" {
		rdb, err := rediscache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()
		catalogCache = rediscache.NewCache(rdb, catalogCachePrefix, cfg.Catalog.CacheTTL)
		healthSvc.AddReadiness(health.Check{Name: "redis", Timeout: 2 * time.Second, Func: redisPing(rdb)})
		lg.Info("Catalog cache on redis")
	}

	// Repositories.
	tx := postgres.NewTransactor(pool)
	userRepo := postgres.NewUserRepository(pool)
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	walletRepo := postgres.NewWalletRepository(pool)
	settingsRepo := postgres.NewSettingsRepository(pool)
	eventRepo := postgres.NewEventRepository(pool)
	analyticsRepo := postgres.NewAnalyticsRepository(pool)

	// Domain services.
	settingsSvc := settings.NewService(settingsRepo)
	productSvc := product.NewService(productRepo, catalogCache)
	couponSvc := coupon.NewService(couponRepo, tx)
	walletSvc := wallet.NewService(walletRepo, tx)
	authSvc := auth.NewService(userRepo, auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), settingsSvc, productRepo, tx)
	analyticsSvc := analytics.NewService(analyticsRepo)

	var gateway payment.Gateway = payment.DisabledGateway{}
	if cfg.Stripe.SecretKey != "" {
		gateway = stripe.New(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, nil)
		lg.Info("Card payments enabled")
	}

	var notifier order.Notifier = notify.Log{}
	if cfg.Mail.Host != "" {
		notifier = notify.NewMailer(notify.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		}, userRepo, settingsSvc)
	}

	orderSvc, err := order.NewService(order.Deps{
		Orders:    orderRepo,
		Products:  productRepo,
		Coupons:   couponSvc,
		Wallet:    walletSvc,
		Settings:  settingsSvc,
		Addresses: userRepo,
		Catalog:   productSvc,
		Notifier:  notifier,
		Refunder:  gateway,
		Tx:        tx,
	},
		order.WithMeterProvider(m.MeterProvider()),
		order.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	paymentSvc := payment.NewService(gateway, eventRepo, orderSvc, settingsSvc, tx, cfg.Stripe.PublishableKey)

	// HTTP handlers.
	h := handler.New(handler.Config{ImageBaseURL: cfg.ImageBaseURL}, handler.Deps{
		Accounts:  authSvc,
		Catalog:   productSvc,
		Coupons:   couponSvc,
		Orders:    orderSvc,
		Payments:  paymentSvc,
		Settings:  settingsSvc,
		Wallets:   walletSvc,
		Analytics: analyticsSvc,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.RequestID(),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", handler.HeaderIdempotencyKey, httpmiddleware.HeaderRequestID},
			ExposeHeaders:    []string{httpmiddleware.HeaderRequestID},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           24 * time.Hour,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
	healthSvc.Register(router)
	h.Register(router)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(router, "cake-api",
			otelhttp.WithMeterProvider(m.MeterProvider()),
			otelhttp.WithTracerProvider(m.TracerProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func redisPing(rdb *redis.Client) health.CheckFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
