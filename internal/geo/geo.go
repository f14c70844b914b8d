package geo

import "math"

// EarthRadiusMeters is the spherical Earth radius used by all
// great-circle computations in this package.
const EarthRadiusMeters = 6371000.0

// Coordinate is an immutable geographic position in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Distance returns the haversine great-circle distance between two
// coordinates in meters.
func Distance(a, b Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Bearing returns the initial compass heading in degrees [0,360) from
// one coordinate toward another. 0 is north, 90 is east. Identical
// points yield 0 (atan2(0,0)).
func Bearing(from, to Coordinate) float64 {
	y := math.Sin(toRad(to.Lng-from.Lng)) * math.Cos(toRad(to.Lat))
	x := math.Cos(toRad(from.Lat))*math.Sin(toRad(to.Lat)) -
		math.Sin(toRad(from.Lat))*math.Cos(toRad(to.Lat))*math.Cos(toRad(to.Lng-from.Lng))
	brng := math.Atan2(y, x) * 180 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

// Lerp interpolates linearly between two coordinates in lat/lng space.
// t is clamped to [0,1], so callers never receive extrapolated points.
// Only valid for short segments; long-range headings must come from
// Bearing, not from the interpolated slope.
func Lerp(from, to Coordinate, t float64) Coordinate {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return Coordinate{
		Lat: from.Lat + (to.Lat-from.Lat)*t,
		Lng: from.Lng + (to.Lng-from.Lng)*t,
	}
}

// SegmentProjection is the result of projecting a point onto a segment.
type SegmentProjection struct {
	Fraction float64 // position along the segment, clamped to [0,1]
	Distance float64 // great-circle distance to the clamped point, meters
}

// ProjectOntoSegment projects point onto the segStart-segEnd line in
// lat/lng space, clamped to the segment. A zero-length segment yields
// fraction 0 and the distance to segStart.
func ProjectOntoSegment(point, segStart, segEnd Coordinate) SegmentProjection {
	dLat := segEnd.Lat - segStart.Lat
	dLng := segEnd.Lng - segStart.Lng
	segLen2 := dLat*dLat + dLng*dLng

	t := 0.0
	if segLen2 > 0 {
		t = ((point.Lat-segStart.Lat)*dLat + (point.Lng-segStart.Lng)*dLng) / segLen2
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}
	proj := Coordinate{
		Lat: segStart.Lat + t*dLat,
		Lng: segStart.Lng + t*dLng,
	}
	return SegmentProjection{Fraction: t, Distance: Distance(point, proj)}
}

// PathLength sums consecutive great-circle distances along the path.
// Paths with fewer than two points have length 0.
func PathLength(points []Coordinate) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

// PathProjection locates the closest point of a path to a query point.
type PathProjection struct {
	SegmentIndex int
	Fraction     float64
	Distance     float64
}

// ClosestPointOnPath scans every segment and returns the globally
// minimal-distance projection. Ties go to the lowest segment index.
// ok is false only for an empty path; a single-point path yields the
// direct distance to that point.
func ClosestPointOnPath(point Coordinate, path []Coordinate) (PathProjection, bool) {
	if len(path) == 0 {
		return PathProjection{}, false
	}
	if len(path) == 1 {
		return PathProjection{SegmentIndex: 0, Fraction: 0, Distance: Distance(point, path[0])}, true
	}
	best := PathProjection{Distance: math.MaxFloat64}
	for i := 0; i+1 < len(path); i++ {
		p := ProjectOntoSegment(point, path[i], path[i+1])
		if p.Distance < best.Distance {
			best = PathProjection{SegmentIndex: i, Fraction: p.Fraction, Distance: p.Distance}
		}
	}
	return best, true
}
