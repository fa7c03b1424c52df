package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"

	"github.com/hylla/turf/internal/domain"
)

// BuildOptions controls polygon construction.
type BuildOptions struct {
	// MinArea rejects territories smaller than this many square meters.
	MinArea float64
	// SimplifyTolerance is the Douglas-Peucker tolerance in meters. Zero
	// keeps every vertex.
	SimplifyTolerance float64
	DedupeEpsilon     float64
}

// DefaultBuildOptions returns the standard construction settings.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{MinArea: 100, SimplifyTolerance: 0.5, DedupeEpsilon: 1}
}

// Shape is a built territory outline in both planar and geodetic form.
type Shape struct {
	Projection Projection
	// Planar is closed and wound outer counter-clockwise.
	Planar    orb.Polygon
	Geodetic  domain.Polygon
	Bounds    domain.Bounds
	Area      float64
	Perimeter float64
	Center    domain.LatLng
}

// Build projects a closed loop onto a local plane and derives its metrics.
func Build(loop domain.ClosedLoop, opts BuildOptions) (Shape, error) {
	vertices := loopVertices(loop, opts.DedupeEpsilon)
	if len(vertices) < 3 {
		return Shape{}, domain.Reject(domain.RejectDegenerateArea, "%d distinct vertices", len(vertices))
	}

	proj := ProjectionFor(vertices)
	ring := make(orb.Ring, 0, len(vertices)+1)
	for _, ll := range vertices {
		ring = append(ring, proj.Forward(ll))
	}
	ring = closeRing(ring)
	if math.Abs(SignedArea(ring)) < areaEpsilon {
		return Shape{}, domain.Reject(domain.RejectDegenerateArea, "loop encloses no area")
	}
	ring = simplifyRing(ring, opts.SimplifyTolerance)
	planarPoly := Normalize(orb.Polygon{ring})

	area := PolygonArea(planarPoly)
	if area < areaEpsilon {
		return Shape{}, domain.Reject(domain.RejectDegenerateArea, "loop encloses no area")
	}
	if area < opts.MinArea {
		return Shape{}, domain.Reject(domain.RejectTooSmall, "area %.1fm², need %.1fm²", area, opts.MinArea)
	}

	geodetic := proj.UnprojectPolygon(planarPoly)
	return Shape{
		Projection: proj,
		Planar:     planarPoly,
		Geodetic:   geodetic,
		Bounds:     geodetic.Bounds(),
		Area:       area,
		Perimeter:  ringPerimeter(vertices),
		Center:     proj.Inverse(Centroid(planarPoly)),
	}, nil
}

// Measure derives stored metrics for a planar polygon produced by clipping.
// The perimeter covers every ring, holes included.
func Measure(proj Projection, p orb.Polygon) Shape {
	p = Normalize(p)
	geodetic := proj.UnprojectPolygon(p)
	perimeter := ringPerimeter(geodetic.Outer)
	for _, hole := range geodetic.Holes {
		perimeter += ringPerimeter(hole)
	}
	return Shape{
		Projection: proj,
		Planar:     p,
		Geodetic:   geodetic,
		Bounds:     geodetic.Bounds(),
		Area:       PolygonArea(p),
		Perimeter:  perimeter,
		Center:     proj.Inverse(Centroid(p)),
	}
}

// ringPerimeter sums great-circle distances around an open ring, closing
// segment included.
func ringPerimeter(ring []domain.LatLng) float64 {
	n := len(ring)
	if n < 2 {
		return 0
	}
	var total float64
	for i := 0; i < n; i++ {
		total += distance(ring[i], ring[(i+1)%n])
	}
	return total
}

func simplifyRing(ring orb.Ring, tolerance float64) orb.Ring {
	if tolerance <= 0 {
		return ring
	}
	ls := orb.LineString(ring)
	s := simplify.DouglasPeucker(tolerance).Simplify(ls.Clone())
	result, ok := s.(orb.LineString)
	if !ok || len(result) < 4 {
		return ring
	}
	out := closeRing(orb.Ring(result))
	if math.Abs(SignedArea(out)) < areaEpsilon {
		return ring
	}
	return out
}
