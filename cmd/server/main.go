package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/venuegate/internal/config"
	"github.com/GoPolymarket/venuegate/internal/exchange"
	"github.com/GoPolymarket/venuegate/internal/handler"
	"github.com/GoPolymarket/venuegate/internal/pkg/clock"
	"github.com/GoPolymarket/venuegate/internal/pkg/logger"
	"github.com/GoPolymarket/venuegate/internal/pkg/secretbox"
	"github.com/GoPolymarket/venuegate/internal/repository"
	"github.com/GoPolymarket/venuegate/internal/service"
	"github.com/gin-gonic/gin"
)

// counterBackend is what the rate limiter, identity cache and idempotency
// store need from the shared key-value store.
type counterBackend interface {
	repository.CounterStore
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize Persistence
	// Counters (Redis > Memory)
	var counters counterBackend
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			counters = redisClient
			defer redisClient.Close()
		} else {
			logger.Error("⚠️ Failed to connect to Redis, falling back to memory", "error", err)
		}
	}
	if counters == nil {
		// single replica only: limits and idempotency are per process
		counters = repository.NewMemoryCounterStore(clock.System)
	}

	store, closeStore, err := repository.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()
	logger.Info("✅ Store ready", "driver", cfg.Database.Driver)

	box, err := secretbox.New(cfg.Auth.MasterKey)
	if err != nil {
		log.Fatalf("Failed to initialize secret box: %v", err)
	}

	venues, err := exchange.FromConfig(cfg.Venues)
	if err != nil {
		log.Fatalf("Failed to initialize venues: %v", err)
	}
	if len(venues.Registry.Names()) == 0 {
		logger.Warn("no venues configured, order routes will reject every venue")
	}

	// 3. Initialize Core Services
	policy := service.RetryPolicy(cfg.Orders.Retry)
	gate := service.NewAuthGate(store, counters, box, clock.System, service.AuthGateOptions{
		ReplayWindow: cfg.ReplayWindow(),
		CacheTTL:     cfg.IdentityCacheTTL(),
	})
	orders := service.NewOrderManager(store, venues.Registry, policy, clock.System)
	venues.Subscribe(ctx, orders.ApplyRemoteUpdate)

	if cfg.Orders.Reconcile.Enabled {
		reconciler := service.NewReconciler(store, orders, clock.System, cfg.Orders.Reconcile)
		go reconciler.Start(ctx)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	// 4. Setup Router
	gin.SetMode(gin.ReleaseMode)
	r := handler.NewRouter(handler.RouterDeps{
		Gate:        gate,
		Admission:   service.NewAdmissionControl(counters, clock.System, cfg.RateLimit),
		Orders:      orders,
		Identities:  service.NewIdentityService(store, box, gate),
		Market:      service.NewMarketService(venues.Registry, counters, policy, time.Duration(cfg.Market.TickerCacheMs)*time.Millisecond),
		Idempotency: repository.NewRedisIdempotencyStore(counters, time.Duration(cfg.Redis.IdempotencyTTLSeconds)*time.Second),
		AdminKey:    cfg.Auth.AdminKey,
		ReadOnly:    cfg.Server.ReadOnly,
		CORSOrigins: cfg.Server.CORSOrigins,
		MetricsPath: metricsPath,
	})

	// 5. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("🚀 VenueGate started", "port", cfg.Server.Port, "venues", venues.Registry.Names(), "read_only", cfg.Server.ReadOnly)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exiting")
}
