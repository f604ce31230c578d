// Command reconcile runs a single reconciliation sweep against the configured
// store and venues, then exits. Useful from cron or after an outage.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoPolymarket/venuegate/internal/config"
	"github.com/GoPolymarket/venuegate/internal/exchange"
	"github.com/GoPolymarket/venuegate/internal/pkg/clock"
	"github.com/GoPolymarket/venuegate/internal/pkg/logger"
	"github.com/GoPolymarket/venuegate/internal/repository"
	"github.com/GoPolymarket/venuegate/internal/service"
)

func main() {
	configPath := flag.String("config", "", "config file (default: ./config.yaml or ./configs/config.yaml)")
	minAge := flag.Int("min-age", -1, "only orders older than this many seconds (default from config)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Server.LogLevel)
	if cfg.Database.Driver == "memory" {
		log.Fatal("reconcile needs a persistent database driver")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := repository.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	venues, err := exchange.FromConfig(cfg.Venues)
	if err != nil {
		log.Fatalf("Failed to initialize venues: %v", err)
	}

	rc := cfg.Orders.Reconcile
	if *minAge >= 0 {
		rc.MinAgeSeconds = *minAge
	}
	orders := service.NewOrderManager(store, venues.Registry, service.RetryPolicy(cfg.Orders.Retry), clock.System)
	stats, err := service.NewReconciler(store, orders, clock.System, rc).RunOnce(ctx)
	if err != nil {
		log.Fatalf("Reconcile sweep failed: %v", err)
	}
	fmt.Printf("scanned=%d changed=%d failed=%d\n", stats.Scanned, stats.Changed, stats.Failed)
	if stats.Failed > 0 {
		os.Exit(1)
	}
}
