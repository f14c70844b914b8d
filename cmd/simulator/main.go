package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"courier-simulator/internal/config"
	"courier-simulator/internal/db"
	"courier-simulator/internal/dispatch"
	"courier-simulator/internal/metrics"
	"courier-simulator/internal/publisher"
	"courier-simulator/internal/sim"
	"courier-simulator/internal/stops"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrvCancel context.CancelFunc
	if cfg.MetricsAddr != "" {
		threshold := cfg.ProximityThreshold
		if threshold <= 0 {
			threshold = stops.DefaultProximityThreshold
		}
		mcol = metrics.NewCollector(cfg.SpeedMultiplier, cfg.PublishInterval, cfg.RefreshInterval, threshold)
		mctx, mcancel := context.WithCancel(ctx)
		metricsSrvCancel = mcancel
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-mctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Initialize NATS publisher
	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()

	// Dispatch service client for arrival/proof callbacks
	dispatchClient := dispatch.NewClient(cfg.DispatchURL)

	// Fetch current routes and start the simulation manager
	opts := sim.Options{
		PublishInterval:    cfg.PublishInterval,
		SpeedMultiplier:    cfg.SpeedMultiplier,
		RefreshInterval:    cfg.RefreshInterval,
		PreloadHorizon:     cfg.PreloadHorizon,
		ProximityThreshold: cfg.ProximityThreshold,
		ServiceTimeMin:     cfg.ServiceTimeMin,
		ServiceTimeMax:     cfg.ServiceTimeMax,
	}
	mgr := sim.NewManager(sqlDB, pub, dispatchClient, opts, mcol)

	now := time.Now()
	routes, err := db.FetchActiveRoutes(ctx, sqlDB, now)
	if err != nil {
		log.Fatalf("fetch routes error: %v", err)
	}
	if len(routes) == 0 {
		log.Printf("no routes to simulate at %s", now.Format(time.RFC3339))
	}
	mgr.Start(ctx, routes)
	// Start periodic route refresher to launch new routes as they depart
	mgr.StartRefresher(ctx)

	// Block until context cancelled
	<-ctx.Done()
	// Allow graceful shutdown
	mgr.Stop()
	if metricsSrvCancel != nil {
		metricsSrvCancel()
	}
	log.Println("shutdown complete")
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
