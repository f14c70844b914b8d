package stops

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"courier-simulator/internal/geo"
)

// DefaultProximityThreshold is the distance under which a pending stop
// counts as reached.
const DefaultProximityThreshold = 150.0 // meters

// Default window for the randomized service dwell between marking
// arrival and submitting proof.
const (
	DefaultServiceTimeMin = 2 * time.Second
	DefaultServiceTimeMax = 4 * time.Second
)

// Dispatch is the remote service that records arrivals and accepts
// completion proofs. Both calls may fail; the tracker treats every
// non-nil error the same way and retries by re-scanning on later ticks.
type Dispatch interface {
	MarkArrived(ctx context.Context, stopID string, at time.Time) error
	SubmitProof(ctx context.Context, stopID string, proof Proof) error
}

// TrackerMetrics receives completion outcomes. Implementations must be
// safe for concurrent use; a nil TrackerMetrics disables reporting.
type TrackerMetrics interface {
	StopCompleted()
	CompletionFailed(stage string)
}

// Tracker watches a vehicle's position against a route's stops and
// runs the completion workflow when one is reached. At most one
// workflow runs at a time per tracker.
type Tracker struct {
	dispatch  Dispatch
	threshold float64
	minDwell  time.Duration
	maxDwell  time.Duration
	metrics   TrackerMetrics

	mu       sync.Mutex
	stops    []*Stop
	inFlight bool

	now func() time.Time
}

// TrackerConfig carries the tunable parts of a Tracker. Zero values
// fall back to the package defaults.
type TrackerConfig struct {
	Threshold      float64
	ServiceTimeMin time.Duration
	ServiceTimeMax time.Duration
	Metrics        TrackerMetrics
}

// NewTracker builds a tracker over the given stops. The slice is owned
// by the tracker afterward; statuses default to pending when unset.
func NewTracker(stopList []Stop, dispatch Dispatch, cfg TrackerConfig) *Tracker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultProximityThreshold
	}
	if cfg.ServiceTimeMin <= 0 {
		cfg.ServiceTimeMin = DefaultServiceTimeMin
	}
	if cfg.ServiceTimeMax < cfg.ServiceTimeMin {
		cfg.ServiceTimeMax = cfg.ServiceTimeMin
	}
	t := &Tracker{
		dispatch:  dispatch,
		threshold: cfg.Threshold,
		minDwell:  cfg.ServiceTimeMin,
		maxDwell:  cfg.ServiceTimeMax,
		metrics:   cfg.Metrics,
		now:       time.Now,
	}
	t.stops = make([]*Stop, len(stopList))
	for i := range stopList {
		s := stopList[i]
		if s.Status == "" {
			s.Status = StatusPending
		}
		t.stops[i] = &s
	}
	return t
}

// CheckProximity scans pending delivery and pickup stops for the
// nearest one strictly inside the threshold and, when found, starts
// the completion workflow. The workflow runs in the background; this
// call never blocks the driving loop. While a workflow is in flight
// no new scan happens.
func (t *Tracker) CheckProximity(ctx context.Context, position geo.Coordinate) {
	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		return
	}
	target := t.nearestPendingLocked(position)
	if target == nil {
		t.mu.Unlock()
		return
	}
	t.inFlight = true
	t.mu.Unlock()

	go t.complete(ctx, target, position)
}

// InFlight reports whether a completion workflow is currently running.
func (t *Tracker) InFlight() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// Pending returns the number of stops still awaiting completion,
// depot endpoints excluded.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.stops {
		if s.Status == StatusPending && s.Kind != KindDepotStart && s.Kind != KindDepotEnd {
			n++
		}
	}
	return n
}

// nearestPendingLocked picks the closest qualifying stop inside the
// threshold. Ties keep the first stop in scan order.
func (t *Tracker) nearestPendingLocked(position geo.Coordinate) *Stop {
	var best *Stop
	bestDist := t.threshold
	for _, s := range t.stops {
		if s.Status != StatusPending || s.Kind == KindDepotStart || s.Kind == KindDepotEnd {
			continue
		}
		if d := geo.Distance(position, s.Position); d < bestDist {
			best = s
			bestDist = d
		}
	}
	return best
}

// complete runs the three-step workflow: mark arrived, dwell, submit
// proof. The in-flight guard is released on every exit path; a failed
// step leaves the stop pending so a later tick can retry. There is no
// retry cap or backoff: a persistently failing dispatch call is
// re-attempted for as long as the vehicle lingers inside the threshold.
func (t *Tracker) complete(ctx context.Context, stop *Stop, position geo.Coordinate) {
	defer func() {
		t.mu.Lock()
		t.inFlight = false
		t.mu.Unlock()
	}()

	arrivedAt := t.now()
	if err := t.dispatch.MarkArrived(ctx, stop.ID, arrivedAt); err != nil {
		log.Printf("stop %s mark arrived failed: %v", stop.ID, err)
		if t.metrics != nil {
			t.metrics.CompletionFailed("arrival")
		}
		return
	}

	if !t.dwell(ctx) {
		return // cancelled mid-service, stop stays pending
	}

	proof := Proof{
		StopID:      stop.ID,
		Recipient:   stop.Recipient,
		Notes:       stop.Notes,
		Position:    position,
		CompletedAt: t.now(),
	}
	if err := t.dispatch.SubmitProof(ctx, stop.ID, proof); err != nil {
		log.Printf("stop %s submit proof failed: %v", stop.ID, err)
		if t.metrics != nil {
			t.metrics.CompletionFailed("proof")
		}
		return
	}

	t.mu.Lock()
	stop.Status = StatusCompleted
	t.mu.Unlock()
	if t.metrics != nil {
		t.metrics.StopCompleted()
	}
	log.Printf("stop %s completed (%s)", stop.ID, stop.Kind)
}

// dwell waits a randomized service time within the configured window.
// Returns false when the context is cancelled first.
func (t *Tracker) dwell(ctx context.Context) bool {
	d := t.minDwell
	if span := t.maxDwell - t.minDwell; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
