package geometry

import (
	"math"
	"sort"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/paulmach/orb"
)

// Clipper performs boolean operations on planar polygons. Inputs may be
// non-convex and carry holes; outputs are normalized and closed.
type Clipper interface {
	Intersection(subject, clip orb.Polygon) orb.MultiPolygon
	Difference(subject, clip orb.Polygon) orb.MultiPolygon
	Union(subject, clip orb.Polygon) orb.MultiPolygon
}

// Martinez is a Clipper backed by the Martinez-Rueda sweep in polyclip-go.
type Martinez struct{}

// NewClipper returns the default Clipper.
func NewClipper() Clipper {
	return Martinez{}
}

// Intersection returns the region covered by both polygons.
func (Martinez) Intersection(subject, clip orb.Polygon) orb.MultiPolygon {
	return construct(subject, clip, polyclip.INTERSECTION)
}

// Difference returns subject with clip removed.
func (Martinez) Difference(subject, clip orb.Polygon) orb.MultiPolygon {
	return construct(subject, clip, polyclip.DIFFERENCE)
}

// Union returns the region covered by either polygon.
func (Martinez) Union(subject, clip orb.Polygon) orb.MultiPolygon {
	return construct(subject, clip, polyclip.UNION)
}

func construct(subject, clip orb.Polygon, op polyclip.Op) orb.MultiPolygon {
	out := toPolyclip(subject).Construct(op, toPolyclip(clip))
	return assemble(out)
}

func toPolyclip(p orb.Polygon) polyclip.Polygon {
	out := make(polyclip.Polygon, 0, len(p))
	for _, ring := range p {
		n := len(ring)
		if n > 1 && ring[0] == ring[n-1] {
			n--
		}
		if n < 3 {
			continue
		}
		c := make(polyclip.Contour, 0, n)
		for _, pt := range ring[:n] {
			c = append(c, polyclip.Point{X: pt[0], Y: pt[1]})
		}
		out = append(out, c)
	}
	return out
}

// assemble groups clipper contours into polygons. A contour nested inside an
// odd number of others is a hole of its innermost enclosing outer ring.
func assemble(contours polyclip.Polygon) orb.MultiPolygon {
	rings := make([]orb.Ring, 0, len(contours))
	for _, c := range contours {
		if len(c) < 3 {
			continue
		}
		r := make(orb.Ring, 0, len(c)+1)
		for _, pt := range c {
			r = append(r, orb.Point{pt.X, pt.Y})
		}
		r = closeRing(r)
		if math.Abs(SignedArea(r)) < areaEpsilon {
			continue
		}
		rings = append(rings, r)
	}
	if len(rings) == 0 {
		return nil
	}

	// Larger rings first so every container precedes what it contains.
	sort.SliceStable(rings, func(i, j int) bool {
		return math.Abs(SignedArea(rings[i])) > math.Abs(SignedArea(rings[j]))
	})

	parent := make([]int, len(rings))
	depth := make([]int, len(rings))
	for i := range rings {
		parent[i] = -1
		for j := i - 1; j >= 0; j-- {
			if ringInside(rings[i], rings[j]) {
				parent[i] = j
				depth[i] = depth[j] + 1
				break
			}
		}
	}

	var out orb.MultiPolygon
	index := make(map[int]int, len(rings))
	for i, r := range rings {
		if depth[i]%2 == 0 {
			index[i] = len(out)
			out = append(out, orb.Polygon{r})
		}
	}
	for i, r := range rings {
		if depth[i]%2 == 1 {
			k := index[parent[i]]
			out[k] = append(out[k], r)
		}
	}
	for i := range out {
		out[i] = Normalize(out[i])
	}
	return out
}
