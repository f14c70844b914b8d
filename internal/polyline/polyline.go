// Package polyline implements the Google encoded polyline format:
// coordinate deltas at 1e-5 degree precision, packed into 5-bit groups
// offset by 63 into printable ASCII.
package polyline

import (
	"math"
	"strings"

	"courier-simulator/internal/geo"
)

// Decode converts an encoded polyline into an ordered coordinate
// sequence. Empty input yields an empty sequence. The format carries no
// checksum, so corrupt input cannot be detected: decoding stops at the
// end of the string and whatever decoded up to that point is returned.
func Decode(encoded string) []geo.Coordinate {
	var points []geo.Coordinate
	index, lat, lng := 0, 0, 0

	for index < len(encoded) {
		dLat, next, ok := decodeDelta(encoded, index)
		if !ok {
			break
		}
		index = next
		lat += dLat

		dLng, next, ok := decodeDelta(encoded, index)
		if !ok {
			break
		}
		index = next
		lng += dLng

		points = append(points, geo.Coordinate{
			Lat: float64(lat) / 1e5,
			Lng: float64(lng) / 1e5,
		})
	}
	return points
}

// decodeDelta reads one signed varint starting at index. ok is false
// when the input ends mid-value.
func decodeDelta(encoded string, index int) (delta, next int, ok bool) {
	shift, result := 0, 0
	for {
		if index >= len(encoded) {
			return 0, index, false
		}
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), index, true
	}
	return result >> 1, index, true
}

// Encode is the inverse of Decode, rounding coordinates to 1e-5 degree
// precision.
func Encode(points []geo.Coordinate) string {
	var sb strings.Builder
	prevLat, prevLng := 0, 0
	for _, p := range points {
		lat := int(math.Round(p.Lat * 1e5))
		lng := int(math.Round(p.Lng * 1e5))
		encodeDelta(&sb, lat-prevLat)
		encodeDelta(&sb, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return sb.String()
}

func encodeDelta(sb *strings.Builder, delta int) {
	if delta < 0 {
		delta = ^(delta << 1)
	} else {
		delta <<= 1
	}
	for delta >= 0x20 {
		sb.WriteByte(byte((delta&0x1f)|0x20) + 63)
		delta >>= 5
	}
	sb.WriteByte(byte(delta) + 63)
}
