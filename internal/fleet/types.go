package fleet

import (
	"time"

	"courier-simulator/internal/nav"
	"courier-simulator/internal/stops"
)

// Route is one courier assignment: a vehicle, a path to follow, and
// the stops scripted along it. The path comes either as an encoded
// polyline or as a pre-parsed waypoint list; EncodedPath wins when both
// are present.
type Route struct {
	RouteID   string
	VehicleID string

	EncodedPath string
	Waypoints   []nav.Waypoint

	SpeedMps float64
	Stops    []stops.Stop

	// Scheduling window. A zero DepartAt means start immediately; a
	// zero EndAt means run until shutdown.
	DepartAt time.Time
	EndAt    time.Time
}

// Active reports whether the route should be running at the given time.
func (r Route) Active(now time.Time) bool {
	if !r.DepartAt.IsZero() && now.Before(r.DepartAt) {
		return false
	}
	if !r.EndAt.IsZero() && now.After(r.EndAt) {
		return false
	}
	return true
}
