package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/hylla/turf/internal/domain"
)

// Projection maps geodetic degrees onto a local tangent plane in meters.
// It is equirectangular, scaled by the cosine of the origin latitude, which
// is accurate enough at territory scale.
type Projection struct {
	Origin domain.LatLng
	cosLat float64
}

// NewProjection centers a projection on origin.
func NewProjection(origin domain.LatLng) Projection {
	return Projection{Origin: origin, cosLat: math.Cos(origin.Lat * math.Pi / 180)}
}

// ProjectionFor centers a projection on the vertex mean of points.
func ProjectionFor(points []domain.LatLng) Projection {
	if len(points) == 0 {
		return NewProjection(domain.LatLng{})
	}
	var lat, lng float64
	for _, p := range points {
		lat += p.Lat
		lng += p.Lng
	}
	n := float64(len(points))
	return NewProjection(domain.LatLng{Lat: lat / n, Lng: lng / n})
}

// Forward projects one coordinate to planar meters.
func (p Projection) Forward(ll domain.LatLng) orb.Point {
	x := orb.EarthRadius * radians(ll.Lng-p.Origin.Lng) * p.cosLat
	y := orb.EarthRadius * radians(ll.Lat-p.Origin.Lat)
	return orb.Point{x, y}
}

// Inverse maps a planar point back to geodetic degrees.
func (p Projection) Inverse(pt orb.Point) domain.LatLng {
	lat := p.Origin.Lat + degrees(pt[1]/orb.EarthRadius)
	lng := p.Origin.Lng
	if p.cosLat != 0 {
		lng += degrees(pt[0] / (orb.EarthRadius * p.cosLat))
	}
	return domain.LatLng{Lat: lat, Lng: lng}
}

// ProjectRing projects an open geodetic ring into a closed planar ring.
func (p Projection) ProjectRing(ring []domain.LatLng) (orb.Ring, error) {
	if len(ring) < 3 {
		return nil, fmt.Errorf("ring has %d vertices: %w", len(ring), domain.ErrInvalidPolygon)
	}
	out := make(orb.Ring, 0, len(ring)+1)
	for _, ll := range ring {
		if !ll.Valid() {
			return nil, fmt.Errorf("vertex %v out of range: %w", ll, domain.ErrInvalidPolygon)
		}
		out = append(out, p.Forward(ll))
	}
	return closeRing(out), nil
}

// ProjectPolygon projects a stored polygon, holes included.
func (p Projection) ProjectPolygon(poly domain.Polygon) (orb.Polygon, error) {
	outer, err := p.ProjectRing(poly.Outer)
	if err != nil {
		return nil, err
	}
	out := orb.Polygon{outer}
	for _, hole := range poly.Holes {
		ring, err := p.ProjectRing(hole)
		if err != nil {
			return nil, err
		}
		out = append(out, ring)
	}
	return out, nil
}

// UnprojectPolygon maps a planar polygon back to an open-ring domain polygon.
func (p Projection) UnprojectPolygon(poly orb.Polygon) domain.Polygon {
	var out domain.Polygon
	for i, ring := range poly {
		ll := p.unprojectRing(ring)
		if i == 0 {
			out.Outer = ll
			continue
		}
		out.Holes = append(out.Holes, ll)
	}
	return out
}

func (p Projection) unprojectRing(ring orb.Ring) []domain.LatLng {
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	out := make([]domain.LatLng, 0, n)
	for _, pt := range ring[:n] {
		out = append(out, p.Inverse(pt))
	}
	return out
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
