package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// closeRing repeats the first vertex at the end when it is missing.
func closeRing(r orb.Ring) orb.Ring {
	if len(r) == 0 || r.Closed() {
		return r
	}
	return append(r, r[0])
}

// SignedArea is the shoelace area of a ring; positive when counter-clockwise.
func SignedArea(r orb.Ring) float64 {
	n := len(r)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		a := r[i]
		b := r[(i+1)%n]
		sum += a[0]*b[1] - b[0]*a[1]
	}
	return sum / 2
}

// PolygonArea is the outer ring area minus hole areas.
func PolygonArea(p orb.Polygon) float64 {
	if len(p) == 0 {
		return 0
	}
	area := math.Abs(SignedArea(p[0]))
	for _, hole := range p[1:] {
		area -= math.Abs(SignedArea(hole))
	}
	return math.Max(area, 0)
}

// MultiPolygonArea sums PolygonArea over every member.
func MultiPolygonArea(mp orb.MultiPolygon) float64 {
	var total float64
	for _, p := range mp {
		total += PolygonArea(p)
	}
	return total
}

// Normalize closes every ring and winds the outer ring counter-clockwise and
// holes clockwise. The polygon is modified in place and returned.
func Normalize(p orb.Polygon) orb.Polygon {
	for i := range p {
		p[i] = closeRing(p[i])
		ccw := SignedArea(p[i]) > 0
		if (i == 0) != ccw {
			p[i].Reverse()
		}
	}
	return p
}

// IsCCW reports whether the ring winds counter-clockwise.
func IsCCW(r orb.Ring) bool {
	return r.Orientation() == orb.CCW
}

// Centroid returns the area-weighted planar centroid of the polygon.
func Centroid(p orb.Polygon) orb.Point {
	c, _ := planar.CentroidArea(p)
	return c
}

// ringInside reports whether most vertices of inner lie inside outer. Shared
// boundary vertices make a single-vertex test unreliable after clipping.
func ringInside(inner, outer orb.Ring) bool {
	n := len(inner)
	if n > 1 && inner[0] == inner[n-1] {
		n--
	}
	if n == 0 {
		return false
	}
	inside := 0
	for _, pt := range inner[:n] {
		if planar.RingContains(outer, pt) {
			inside++
		}
	}
	return inside*2 > n
}

// LargestPolygon returns the member of mp with the biggest area.
func LargestPolygon(mp orb.MultiPolygon) (orb.Polygon, bool) {
	best := -1
	bestArea := 0.0
	for i, p := range mp {
		if a := PolygonArea(p); best < 0 || a > bestArea {
			best = i
			bestArea = a
		}
	}
	if best < 0 {
		return nil, false
	}
	return mp[best], true
}
