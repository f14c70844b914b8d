package stops

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"courier-simulator/internal/geo"
)

// latForMeters returns the latitude delta spanning the given distance.
func latForMeters(m float64) float64 {
	return m / (geo.EarthRadiusMeters * math.Pi / 180)
}

type fakeDispatch struct {
	mu         sync.Mutex
	arrivals   []string
	proofs     []Proof
	failArrive bool
	failProof  bool
	block      chan struct{} // when set, MarkArrived waits on it
}

func (f *fakeDispatch) MarkArrived(ctx context.Context, stopID string, at time.Time) error {
	f.mu.Lock()
	f.arrivals = append(f.arrivals, stopID)
	fail := f.failArrive
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if fail {
		return errors.New("dispatch unavailable")
	}
	return nil
}

func (f *fakeDispatch) SubmitProof(ctx context.Context, stopID string, proof Proof) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proofs = append(f.proofs, proof)
	if f.failProof {
		return errors.New("dispatch unavailable")
	}
	return nil
}

func (f *fakeDispatch) arrivalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.arrivals)
}

func (f *fakeDispatch) proofCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.proofs)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() TrackerConfig {
	return TrackerConfig{
		ServiceTimeMin: time.Nanosecond,
		ServiceTimeMax: time.Nanosecond,
	}
}

func TestCompletionWorkflowSuccess(t *testing.T) {
	pos := geo.Coordinate{Lat: 0, Lng: 0}
	stop := Stop{
		ID:        "s1",
		Kind:      KindDelivery,
		Position:  geo.Coordinate{Lat: latForMeters(50), Lng: 0},
		Recipient: "I. Doe",
	}
	fd := &fakeDispatch{}
	tr := NewTracker([]Stop{stop}, fd, testConfig())

	tr.CheckProximity(context.Background(), pos)
	waitFor(t, "stop completion", func() bool { return tr.Pending() == 0 })

	if fd.arrivalCount() != 1 || fd.proofCount() != 1 {
		t.Fatalf("arrivals=%d proofs=%d, want 1 each", fd.arrivalCount(), fd.proofCount())
	}
	if fd.proofs[0].StopID != "s1" || fd.proofs[0].Recipient != "I. Doe" {
		t.Errorf("proof payload = %+v", fd.proofs[0])
	}
	if fd.proofs[0].Position != pos {
		t.Errorf("proof position = %v, want %v", fd.proofs[0].Position, pos)
	}

	// A completed stop is never re-triggered.
	tr.CheckProximity(context.Background(), pos)
	waitFor(t, "in-flight drain", func() bool { return !tr.InFlight() })
	if fd.arrivalCount() != 1 {
		t.Errorf("completed stop retriggered, arrivals=%d", fd.arrivalCount())
	}
}

func TestMarkArrivedFailureLeavesPendingAndReleasesLock(t *testing.T) {
	stop := Stop{ID: "s1", Kind: KindDelivery, Position: geo.Coordinate{Lat: latForMeters(50), Lng: 0}}
	fd := &fakeDispatch{failArrive: true}
	tr := NewTracker([]Stop{stop}, fd, testConfig())
	pos := geo.Coordinate{}

	tr.CheckProximity(context.Background(), pos)
	waitFor(t, "first attempt", func() bool { return fd.arrivalCount() == 1 && !tr.InFlight() })

	if tr.Pending() != 1 {
		t.Fatal("stop should remain pending after arrival failure")
	}
	if fd.proofCount() != 0 {
		t.Fatal("proof must not be submitted after arrival failure")
	}

	// The lock was released, so the next tick retries; let it succeed.
	fd.mu.Lock()
	fd.failArrive = false
	fd.mu.Unlock()
	tr.CheckProximity(context.Background(), pos)
	waitFor(t, "retry completion", func() bool { return tr.Pending() == 0 })
}

func TestSubmitProofFailureLeavesPending(t *testing.T) {
	stop := Stop{ID: "s1", Kind: KindPickup, Position: geo.Coordinate{Lat: latForMeters(10), Lng: 0}}
	fd := &fakeDispatch{failProof: true}
	tr := NewTracker([]Stop{stop}, fd, testConfig())

	tr.CheckProximity(context.Background(), geo.Coordinate{})
	waitFor(t, "failed proof attempt", func() bool { return fd.proofCount() == 1 && !tr.InFlight() })

	if tr.Pending() != 1 {
		t.Fatal("stop should remain pending after proof failure")
	}
}

func TestOnlyOneWorkflowInFlight(t *testing.T) {
	near := Stop{ID: "near", Kind: KindDelivery, Position: geo.Coordinate{Lat: latForMeters(40), Lng: 0}}
	far := Stop{ID: "far", Kind: KindDelivery, Position: geo.Coordinate{Lat: latForMeters(80), Lng: 0}}
	fd := &fakeDispatch{block: make(chan struct{})}
	tr := NewTracker([]Stop{near, far}, fd, testConfig())
	pos := geo.Coordinate{}

	tr.CheckProximity(context.Background(), pos)
	waitFor(t, "workflow start", func() bool { return fd.arrivalCount() == 1 })

	// Both stops are inside the threshold, but the second scan must be
	// ignored while the first workflow is still blocked in dispatch.
	tr.CheckProximity(context.Background(), pos)
	tr.CheckProximity(context.Background(), pos)
	if got := fd.arrivalCount(); got != 1 {
		t.Fatalf("arrivals = %d while workflow in flight, want 1", got)
	}
	fd.mu.Lock()
	first := fd.arrivals[0]
	fd.mu.Unlock()
	if first != "near" {
		t.Errorf("first workflow target = %s, want the nearest stop", first)
	}

	close(fd.block)
	waitFor(t, "first completion", func() bool { return !tr.InFlight() })

	fd.mu.Lock()
	fd.block = nil
	fd.mu.Unlock()
	tr.CheckProximity(context.Background(), pos)
	waitFor(t, "second completion", func() bool { return tr.Pending() == 0 })
}

func TestDepotAndDistantStopsNotTriggered(t *testing.T) {
	stopList := []Stop{
		{ID: "depot-in", Kind: KindDepotStart, Position: geo.Coordinate{Lat: latForMeters(5), Lng: 0}},
		{ID: "depot-out", Kind: KindDepotEnd, Position: geo.Coordinate{Lat: latForMeters(5), Lng: 0}},
		{ID: "too-far", Kind: KindDelivery, Position: geo.Coordinate{Lat: latForMeters(200), Lng: 0}},
	}
	fd := &fakeDispatch{}
	tr := NewTracker(stopList, fd, testConfig())

	tr.CheckProximity(context.Background(), geo.Coordinate{})
	time.Sleep(20 * time.Millisecond)
	if fd.arrivalCount() != 0 {
		t.Fatalf("arrivals = %d, want 0", fd.arrivalCount())
	}
	if tr.InFlight() {
		t.Fatal("no workflow should be in flight")
	}
}

func TestCancellationDuringServiceWait(t *testing.T) {
	stop := Stop{ID: "s1", Kind: KindDelivery, Position: geo.Coordinate{Lat: latForMeters(10), Lng: 0}}
	fd := &fakeDispatch{}
	cfg := TrackerConfig{ServiceTimeMin: time.Hour, ServiceTimeMax: time.Hour}
	tr := NewTracker([]Stop{stop}, fd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	tr.CheckProximity(ctx, geo.Coordinate{})
	waitFor(t, "arrival", func() bool { return fd.arrivalCount() == 1 })

	cancel()
	waitFor(t, "workflow abandoned", func() bool { return !tr.InFlight() })

	if tr.Pending() != 1 {
		t.Fatal("cancelled workflow must leave the stop pending")
	}
	if fd.proofCount() != 0 {
		t.Fatal("cancelled workflow must not submit proof")
	}
}
