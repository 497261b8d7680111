package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/parakkad/fundraiser/config"
	"github.com/parakkad/fundraiser/middleware"
	"github.com/parakkad/fundraiser/routes"
	"github.com/parakkad/fundraiser/services"
	"github.com/parakkad/fundraiser/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func serve(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := utils.InitDatabase(cfg.Database, logger)
	if err != nil {
		return err
	}
	if err := utils.MigrateDatabase(db, logger); err != nil {
		return err
	}

	if cfg.Razorpay.KeySecret == "" {
		logger.Warn("RAZORPAY_KEY_SECRET not configured, payment verification will fail")
	}
	if cfg.Razorpay.WebhookSecret == "" {
		logger.Warn("RAZORPAY_WEBHOOK_SECRET not configured, webhooks will be rejected")
	}

	store := services.NewGormPaymentStore(db)

	var cache services.StatsCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("Redis unavailable, stats cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			cache = services.NewRedisStatsCache(client, cfg.Redis.TTL)
			logger.Info("Stats cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
		}
	}
	if cache == nil && cfg.Redis.TTL > 0 {
		cache = services.NewMemoryStatsCache(cfg.Redis.TTL)
	}
	stats := services.NewStatsService(store, cache, logger)

	hub := routes.NewHub(stats, logger)
	go hub.Run(ctx)

	sinks := services.MultiBroadcaster{hub}
	if cache != nil {
		invalidator := services.NewStatsInvalidator(cache, logger)
		go invalidator.Run(ctx)
		sinks = append(sinks, invalidator)
	}
	if cfg.Kafka.Enabled {
		kafka, err := services.NewKafkaBroadcaster(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		defer kafka.Close()
		sinks = append(sinks, kafka)
	}

	var notifier services.Notifier = services.NoopNotifier{}
	if cfg.Notifier.URL != "" {
		notifier = services.NewWhatsAppNotifier(cfg.Notifier.URL, cfg.Notifier.Caption, cfg.Notifier.Timeout)
	}

	reconciler := services.NewReconciler(
		store,
		services.NewRazorpayGateway(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, cfg.Razorpay.Currency),
		sinks,
		notifier,
		logger,
		services.ReconcilerConfig{
			KeySecret:     cfg.Razorpay.KeySecret,
			WebhookSecret: cfg.Razorpay.WebhookSecret,
			UnitPrice:     cfg.Donation.UnitPrice,
			NotifyTimeout: cfg.Notifier.Timeout,
		},
	)

	router := newRouter(cfg, logger)
	api := routes.NewAPIRoutes(reconciler, stats, services.NewGormWebhookLog(db), hub, cfg.Server.PublicURL, logger)
	api.SetupRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server running", zap.String("addr", server.Addr), zap.String("mode", gin.Mode()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	reconciler.WaitNotifications()
	api.WaitAudits()
	logger.Info("Server exited")
	return nil
}

func newRouter(cfg *config.Config, logger *zap.Logger) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	router := gin.New()
	router.SetTrustedProxies([]string{"127.0.0.1"})

	router.Use(gin.Recovery())
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws"})))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/metrics", middleware.PrometheusHandler())
	return router
}
