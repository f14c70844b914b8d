package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveVehicles    prometheus.Gauge
	ScheduledVehicles prometheus.Gauge

	RoutesStarted   prometheus.Counter
	RoutesFinished  prometheus.Counter
	RoutesScheduled prometheus.Counter

	StopsCompleted     prometheus.Counter
	CompletionFailures *prometheus.CounterVec // stage label: arrival|proof

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	SpeedMultiplier    prometheus.Gauge
	PublishInterval    prometheus.Gauge // seconds
	RefreshInterval    prometheus.Gauge // seconds
	ProximityThreshold prometheus.Gauge // meters
}

func NewCollector(speedMultiplier float64, publishInterval, refreshInterval time.Duration, proximityThreshold float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_active_vehicles",
			Help: "Number of currently running vehicle goroutines.",
		}),
		ScheduledVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_scheduled_vehicles",
			Help: "Number of vehicles scheduled to depart soon.",
		}),
		RoutesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_routes_started_total",
			Help: "Total routes started.",
		}),
		RoutesFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_routes_finished_total",
			Help: "Total routes finished.",
		}),
		RoutesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_routes_scheduled_total",
			Help: "Total routes scheduled for future departure.",
		}),
		StopsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_stops_completed_total",
			Help: "Total stop completion workflows that succeeded.",
		}),
		CompletionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_completion_failures_total",
			Help: "Stop completion workflow failures by stage.",
		}, []string{"stage"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_tick_duration_seconds",
			Help:    "Duration of simulation tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_speed_multiplier",
			Help: "Current speed multiplier.",
		}),
		PublishInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_publish_interval_seconds",
			Help: "Publish interval in seconds.",
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_refresh_interval_seconds",
			Help: "Routes refresh interval in seconds.",
		}),
		ProximityThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_proximity_threshold_meters",
			Help: "Distance under which a stop counts as reached.",
		}),
	}

	reg.MustRegister(
		c.ActiveVehicles, c.ScheduledVehicles,
		c.RoutesStarted, c.RoutesFinished, c.RoutesScheduled,
		c.StopsCompleted, c.CompletionFailures,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.TickDuration, c.PublishDuration,
		c.SpeedMultiplier, c.PublishInterval, c.RefreshInterval, c.ProximityThreshold,
	)

	c.SpeedMultiplier.Set(speedMultiplier)
	c.PublishInterval.Set(publishInterval.Seconds())
	c.RefreshInterval.Set(refreshInterval.Seconds())
	c.ProximityThreshold.Set(proximityThreshold)

	return c
}

// StopCompleted implements stops.TrackerMetrics.
func (c *Collector) StopCompleted() { c.StopsCompleted.Inc() }

// CompletionFailed implements stops.TrackerMetrics.
func (c *Collector) CompletionFailed(stage string) {
	c.CompletionFailures.WithLabelValues(stage).Inc()
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
