package sim

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"courier-simulator/internal/fleet"
	"courier-simulator/internal/geo"
	"courier-simulator/internal/nav"
	"courier-simulator/internal/polyline"
	"courier-simulator/internal/publisher"
	"courier-simulator/internal/stops"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []publisher.PoseMessage
}

func (f *fakePublisher) PublishPose(routeID, vehicleID string, msg publisher.PoseMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func (f *fakePublisher) last() publisher.PoseMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs[len(f.msgs)-1]
}

type fakeDispatch struct{}

func (fakeDispatch) MarkArrived(ctx context.Context, stopID string, at time.Time) error { return nil }
func (fakeDispatch) SubmitProof(ctx context.Context, stopID string, proof stops.Proof) error {
	return nil
}

func testRoute() fleet.Route {
	// A short path near the origin with a delivery stop on it.
	d := 100 / (geo.EarthRadiusMeters * math.Pi / 180) // 100 m in degrees
	path := polyline.Encode([]geo.Coordinate{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: d},
		{Lat: 0, Lng: 2 * d},
	})
	return fleet.Route{
		RouteID:     "r1",
		VehicleID:   "v1",
		EncodedPath: path,
		SpeedMps:    5,
		Stops: []stops.Stop{
			{ID: "s1", Kind: stops.KindDelivery, Position: geo.Coordinate{Lat: 0, Lng: d}},
		},
	}
}

func testOptions() Options {
	return Options{
		PublishInterval: 5 * time.Millisecond,
		SpeedMultiplier: 1,
		ServiceTimeMin:  time.Nanosecond,
		ServiceTimeMax:  time.Nanosecond,
	}
}

func TestManagerPublishesPoses(t *testing.T) {
	pub := &fakePublisher{}
	mgr := NewManager(nil, pub, fakeDispatch{}, testOptions(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx, []fleet.Route{testRoute()})

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	mgr.Stop()

	if pub.count() < 3 {
		t.Fatalf("published %d poses, want at least 3", pub.count())
	}
	msg := pub.last()
	if msg.RouteID != "r1" || msg.VehicleID != "v1" {
		t.Errorf("pose identity = %s/%s", msg.RouteID, msg.VehicleID)
	}
}

func TestManagerSkipsInertRoutes(t *testing.T) {
	pub := &fakePublisher{}
	mgr := NewManager(nil, pub, fakeDispatch{}, testOptions(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	undecodable := testRoute()
	undecodable.RouteID = "bad-path"
	undecodable.EncodedPath = "\x01" // decodes to nothing

	single := testRoute()
	single.RouteID = "single-point"
	single.EncodedPath = polyline.Encode([]geo.Coordinate{{Lat: 1, Lng: 1}})

	mgr.Start(ctx, []fleet.Route{undecodable, single})
	time.Sleep(30 * time.Millisecond)
	mgr.Stop()

	if pub.count() != 0 {
		t.Errorf("inert routes published %d poses", pub.count())
	}
}

func TestManagerWaypointRoute(t *testing.T) {
	d := 100 / (geo.EarthRadiusMeters * math.Pi / 180)
	route := fleet.Route{
		RouteID:   "r2",
		VehicleID: "v2",
		SpeedMps:  5,
		Waypoints: []nav.Waypoint{
			{Position: geo.Coordinate{Lat: 0, Lng: 0}},
			{Position: geo.Coordinate{Lat: 0, Lng: d}},
		},
	}
	pub := &fakePublisher{}
	mgr := NewManager(nil, pub, fakeDispatch{}, testOptions(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx, []fleet.Route{route})

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	mgr.Stop()

	if pub.count() < 1 {
		t.Fatal("waypoint route never published")
	}
}

func TestManagerStopDrainsRoutes(t *testing.T) {
	pub := &fakePublisher{}
	mgr := NewManager(nil, pub, fakeDispatch{}, testOptions(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx, []fleet.Route{testRoute()})
	mgr.Stop()

	mgr.mu.Lock()
	n := len(mgr.running)
	mgr.mu.Unlock()
	if n != 0 {
		t.Errorf("%d routes still running after Stop", n)
	}
}
