package sim

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"courier-simulator/internal/db"
	"courier-simulator/internal/fleet"
	mmetrics "courier-simulator/internal/metrics"
	"courier-simulator/internal/nav"
	"courier-simulator/internal/polyline"
	"courier-simulator/internal/publisher"
	"courier-simulator/internal/stops"
)

// Options groups the simulation tunables shared by every vehicle.
type Options struct {
	PublishInterval    time.Duration
	SpeedMultiplier    float64
	RefreshInterval    time.Duration
	PreloadHorizon     time.Duration
	ProximityThreshold float64
	ServiceTimeMin     time.Duration
	ServiceTimeMax     time.Duration
}

// PosePublisher is the outward channel for per-tick vehicle state,
// implemented by publisher.NATSPublisher.
type PosePublisher interface {
	PublishPose(routeID, vehicleID string, msg publisher.PoseMessage) error
}

type Manager struct {
	db       *sql.DB
	pub      PosePublisher
	dispatch stops.Dispatch
	opts     Options
	metrics  *mmetrics.Collector

	mu      sync.Mutex
	running map[string]context.CancelFunc // routeID -> cancel
	wg      sync.WaitGroup

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup

	scheduled   map[string]context.CancelFunc // routeID -> cancel (not yet departed)
	scheduledWG sync.WaitGroup
}

func NewManager(dbConn *sql.DB, pub PosePublisher, dispatch stops.Dispatch, opts Options, metrics *mmetrics.Collector) *Manager {
	return &Manager{
		db:        dbConn,
		pub:       pub,
		dispatch:  dispatch,
		opts:      opts,
		metrics:   metrics,
		running:   make(map[string]context.CancelFunc),
		scheduled: make(map[string]context.CancelFunc),
	}
}

func (m *Manager) Start(ctx context.Context, routes []fleet.Route) {
	now := time.Now()
	for _, r := range routes {
		if !r.Active(now) {
			continue // only start routes inside their window
		}
		m.startRoute(ctx, r)
	}
}

func (m *Manager) startRoute(parent context.Context, r fleet.Route) {
	m.mu.Lock()
	if _, exists := m.running[r.RouteID]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[r.RouteID] = cancel
	m.wg.Add(1)
	if m.metrics != nil {
		m.metrics.RoutesStarted.Inc()
		m.metrics.ActiveVehicles.Set(float64(len(m.running)))
	}
	m.mu.Unlock()

	log.Printf("starting route %s (vehicle %s)", r.RouteID, r.VehicleID)
	go func() {
		defer m.wg.Done()
		if err := m.runRoute(ctx, r); err != nil && err != context.Canceled {
			log.Printf("route %s error: %v", r.RouteID, err)
		}
		m.mu.Lock()
		delete(m.running, r.RouteID)
		if m.metrics != nil {
			m.metrics.RoutesFinished.Inc()
			m.metrics.ActiveVehicles.Set(float64(len(m.running)))
		}
		m.mu.Unlock()
	}()
}

// runRoute is the driving loop for one vehicle: advance the navigator,
// check stop proximity, publish the pose, once per tick.
func (m *Manager) runRoute(ctx context.Context, r fleet.Route) error {
	var navigator *nav.Navigator
	if r.EncodedPath != "" {
		pts := polyline.Decode(r.EncodedPath)
		if len(pts) == 0 {
			log.Printf("route %s has an undecodable path, skipping", r.RouteID)
			return nil
		}
		navigator = nav.New(pts, r.SpeedMps)
	} else {
		navigator = nav.NewWithWaypoints(r.Waypoints, r.SpeedMps)
	}
	if navigator.Idle() {
		// Without at least two points there is nothing to simulate.
		log.Printf("route %s path too short, skipping", r.RouteID)
		return nil
	}

	tracker := stops.NewTracker(r.Stops, m.dispatch, stops.TrackerConfig{
		Threshold:      m.opts.ProximityThreshold,
		ServiceTimeMin: m.opts.ServiceTimeMin,
		ServiceTimeMax: m.opts.ServiceTimeMax,
		Metrics:        trackerMetrics(m.metrics),
	})

	tick := time.NewTicker(m.opts.PublishInterval)
	defer tick.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			tickStart := time.Now()
			if !r.EndAt.IsZero() && now.After(r.EndAt) {
				log.Printf("finished route %s at %s", r.RouteID, now.Format(time.RFC3339))
				return nil
			}
			// Wall-clock delta scaled by the speed multiplier; pauses
			// and dispatch waits keep running on wall-clock time.
			dt := now.Sub(last).Seconds() * m.opts.SpeedMultiplier
			last = now

			pose := navigator.Advance(dt)
			tracker.CheckProximity(ctx, pose.Position)

			msg := publisher.PoseMessage{
				VehicleID:    r.VehicleID,
				RouteID:      r.RouteID,
				Timestamp:    now,
				Lat:          pose.Position.Lat,
				Lng:          pose.Position.Lng,
				Heading:      pose.Heading,
				SpeedMps:     pose.Speed,
				PendingStops: tracker.Pending(),
			}
			if err := m.pub.PublishPose(r.RouteID, r.VehicleID, msg); err != nil {
				log.Printf("publish error for %s: %v", r.RouteID, err)
			}
			if m.metrics != nil {
				m.metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
			}
		}
	}
}

func (m *Manager) Stop() {
	if m.refreshCancel != nil {
		m.refreshCancel()
	}
	m.refreshWG.Wait()
	// cancel scheduled departures
	m.mu.Lock()
	for _, cancel := range m.scheduled {
		cancel()
	}
	m.scheduled = make(map[string]context.CancelFunc)
	m.mu.Unlock()
	m.scheduledWG.Wait()
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// StartRefresher launches a background loop that periodically fetches
// routes and starts goroutines for newly active ones.
func (m *Manager) StartRefresher(parent context.Context) {
	if m.opts.RefreshInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.refreshCancel = cancel
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		// immediate refresh on start
		_ = m.RefreshActive(ctx)
		ticker := time.NewTicker(m.opts.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RefreshActive(ctx); err != nil {
					log.Printf("refresh active routes error: %v", err)
				}
			}
		}
	}()
}

// RefreshActive queries the DB for current routes and starts those that
// are not yet running and inside their window. Routes departing within
// the preload horizon are scheduled on a timer.
func (m *Manager) RefreshActive(ctx context.Context) error {
	now := time.Now()
	routes, err := db.FetchActiveRoutes(ctx, m.db, now)
	if err != nil {
		return err
	}
	for _, r := range routes {
		if !r.EndAt.IsZero() && now.After(r.EndAt) {
			continue
		}
		if !r.DepartAt.IsZero() && now.Before(r.DepartAt) {
			if m.opts.PreloadHorizon > 0 && r.DepartAt.Sub(now) <= m.opts.PreloadHorizon {
				m.scheduleRoute(ctx, r)
			}
			continue
		}
		m.startRoute(ctx, r)
	}
	return nil
}

func (m *Manager) scheduleRoute(parent context.Context, r fleet.Route) {
	m.mu.Lock()
	if _, running := m.running[r.RouteID]; running {
		m.mu.Unlock()
		return
	}
	if _, exists := m.scheduled[r.RouteID]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.scheduled[r.RouteID] = cancel
	m.scheduledWG.Add(1)
	if m.metrics != nil {
		m.metrics.RoutesScheduled.Inc()
		m.metrics.ScheduledVehicles.Set(float64(len(m.scheduled)))
	}
	m.mu.Unlock()

	log.Printf("scheduled route %s for %s", r.RouteID, r.DepartAt.Format(time.RFC3339))
	go func() {
		defer m.scheduledWG.Done()
		defer func() {
			m.mu.Lock()
			delete(m.scheduled, r.RouteID)
			if m.metrics != nil {
				m.metrics.ScheduledVehicles.Set(float64(len(m.scheduled)))
			}
			m.mu.Unlock()
		}()
		d := time.Until(r.DepartAt)
		if d < 0 {
			d = 0
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		// on wake, start if still not started and before end
		m.mu.Lock()
		_, isRunning := m.running[r.RouteID]
		m.mu.Unlock()
		if isRunning {
			return
		}
		now := time.Now()
		if !r.EndAt.IsZero() && now.After(r.EndAt) {
			return
		}
		log.Printf("starting scheduled route %s at %s", r.RouteID, now.Format(time.RFC3339))
		m.startRoute(parent, r)
	}()
}

// trackerMetrics narrows the collector to the tracker's interface while
// keeping a nil collector usable.
func trackerMetrics(c *mmetrics.Collector) stops.TrackerMetrics {
	if c == nil {
		return nil
	}
	return c
}
