// Package nav advances a simulated vehicle along a fixed geographic
// path at constant speed. The path is either a decoded polyline or a
// human-authored waypoint list with scripted pauses; both are treated
// as loops.
package nav

import (
	"math"
	"time"

	"courier-simulator/internal/geo"
)

// Waypoint is one point of a scripted route. Pause is how long the
// vehicle dwells after reaching the point; zero means drive through.
type Waypoint struct {
	Position geo.Coordinate
	Pause    time.Duration
}

// Pose is the vehicle state reported after each advance.
type Pose struct {
	Position geo.Coordinate
	Heading  float64 // degrees, [0,360)
	Speed    float64 // m/s; 0 while paused or idle
}

// Navigator walks an ordered coordinate sequence segment by segment.
// It is not safe for concurrent use; the driving loop owns it.
type Navigator struct {
	waypoints []Waypoint
	speedMps  float64

	index    int     // currently traversed segment [index, index+1]
	progress float64 // fractional distance covered on that segment

	paused   bool
	pausedAt time.Time
	pauseFor time.Duration

	position geo.Coordinate
	heading  float64

	now func() time.Time
}

// New builds a navigator over a plain coordinate path, typically the
// output of polyline.Decode. Paths with fewer than two points produce
// an idle navigator whose Advance never moves.
func New(points []geo.Coordinate, speedMps float64) *Navigator {
	wps := make([]Waypoint, len(points))
	for i, p := range points {
		wps[i] = Waypoint{Position: p}
	}
	return NewWithWaypoints(wps, speedMps)
}

// NewWithWaypoints builds a navigator over a scripted waypoint list.
func NewWithWaypoints(waypoints []Waypoint, speedMps float64) *Navigator {
	n := &Navigator{
		waypoints: waypoints,
		speedMps:  speedMps,
		now:       time.Now,
	}
	if len(waypoints) > 0 {
		n.position = waypoints[0].Position
	}
	if len(waypoints) > 1 {
		n.heading = geo.Bearing(waypoints[0].Position, waypoints[1].Position)
	}
	return n
}

// Idle reports whether the path is too short to move along.
func (n *Navigator) Idle() bool { return len(n.waypoints) < 2 }

// Paused reports whether the vehicle is dwelling at a waypoint.
func (n *Navigator) Paused() bool { return n.paused }

// Pose returns the current vehicle pose without advancing.
func (n *Navigator) Pose() Pose {
	speed := n.speedMps
	if n.Idle() || n.paused || n.speedMps <= 0 {
		speed = 0
	}
	return Pose{Position: n.position, Heading: n.heading, Speed: speed}
}

// Advance moves the vehicle by speed * dtSeconds along the path and
// returns the resulting pose. It never fails: idle navigators and
// non-positive speeds produce no motion, and a paused navigator keeps
// reporting its held position until the pause deadline passes.
func (n *Navigator) Advance(dtSeconds float64) Pose {
	if n.Idle() {
		return n.Pose()
	}
	if n.paused {
		if n.now().Sub(n.pausedAt) < n.pauseFor {
			return n.Pose()
		}
		n.paused = false
	}
	if n.speedMps <= 0 || dtSeconds <= 0 {
		return n.Pose()
	}

	prev := n.position
	lastSeg := len(n.waypoints) - 2

	// Loop seam left over from an earlier tick: hard reset to the
	// start, discarding any overshoot.
	if n.progress >= 1 && n.index >= lastSeg {
		n.index = 0
		n.progress = 0
		n.pauseAt(0)
	}

	if !n.paused {
		traveled := n.speedMps * dtSeconds
		segDist := n.segmentDistance(n.index)
		if segDist == 0 {
			// Instantaneous crossing of a degenerate segment.
			n.progress += 1
		} else {
			n.progress += traveled / segDist
		}

		// Carry the overshoot distance across as many segment
		// boundaries as the tick covers, so constant speed survives
		// uneven segment lengths.
		for n.progress >= 1 {
			if n.index >= lastSeg {
				// End of the path: hold the final point for the rest
				// of this tick, wrap on the next one.
				n.progress = 1
				n.pauseAt(len(n.waypoints) - 1)
				break
			}
			overshoot := (n.progress - 1) * segDist
			n.index++
			if n.pauseAt(n.index) {
				n.progress = 0
				break
			}
			segDist = n.segmentDistance(n.index)
			if segDist == 0 {
				n.progress = 1
				continue
			}
			n.progress = overshoot / segDist
		}
	}

	from := n.waypoints[n.index].Position
	to := n.waypoints[n.index+1].Position
	n.position = geo.Lerp(from, to, math.Min(n.progress, 1))
	// Heading aims at the upcoming waypoint so it is stable at the very
	// start of a segment, where the interpolated slope is unreliable.
	n.heading = geo.Bearing(prev, to)
	return n.Pose()
}

// pauseAt enters the paused state when the waypoint just reached has a
// scripted dwell. The remainder of the current tick is discarded.
func (n *Navigator) pauseAt(i int) bool {
	wp := n.waypoints[i]
	if wp.Pause <= 0 {
		return false
	}
	n.paused = true
	n.pausedAt = n.now()
	n.pauseFor = wp.Pause
	return true
}

func (n *Navigator) segmentDistance(i int) float64 {
	return geo.Distance(n.waypoints[i].Position, n.waypoints[i+1].Position)
}
