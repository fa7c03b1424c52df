package geometry

import (
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/hylla/turf/internal/domain"
)

// SanitizeOptions holds the thresholds a recorded path must meet.
type SanitizeOptions struct {
	// ClosureTolerance is the largest allowed gap in meters between the first
	// and last point.
	ClosureTolerance float64
	// DedupeEpsilon drops points closer than this many meters to the last kept point.
	DedupeEpsilon float64
	MinPoints     int
	// MinDistance is the shortest walked path in meters. Zero disables the check.
	MinDistance float64
	// MinDuration is the shortest recording. Zero disables the check.
	MinDuration time.Duration
}

// DefaultSanitizeOptions returns the standard thresholds.
func DefaultSanitizeOptions() SanitizeOptions {
	return SanitizeOptions{
		ClosureTolerance: 20,
		DedupeEpsilon:    1,
		MinPoints:        4,
	}
}

// Sanitize drops unusable samples from a recorded path and checks that what
// remains forms a closed loop. Running it on its own output returns the same
// loop.
func Sanitize(points []domain.GeoPoint, opts SanitizeOptions) (domain.ClosedLoop, error) {
	if opts.MinPoints < 4 {
		opts.MinPoints = 4
	}

	kept := make([]domain.GeoPoint, 0, len(points))
	for _, p := range points {
		if !p.LatLng().Valid() {
			continue
		}
		if n := len(kept); n > 0 && distance(kept[n-1].LatLng(), p.LatLng()) < opts.DedupeEpsilon {
			continue
		}
		kept = append(kept, p)
	}

	if len(kept) < opts.MinPoints {
		return domain.ClosedLoop{}, domain.Reject(domain.RejectTooFewPoints, "%d usable points, need %d", len(kept), opts.MinPoints)
	}

	if opts.MinDistance > 0 {
		var walked float64
		for i := 1; i < len(kept); i++ {
			walked += distance(kept[i-1].LatLng(), kept[i].LatLng())
		}
		if walked < opts.MinDistance {
			return domain.ClosedLoop{}, domain.Reject(domain.RejectTooShort, "walked %.1fm, need %.1fm", walked, opts.MinDistance)
		}
	}

	if opts.MinDuration > 0 {
		first, last := kept[0].CapturedAt, kept[len(kept)-1].CapturedAt
		if !first.IsZero() && !last.IsZero() {
			if elapsed := last.Sub(first); elapsed < opts.MinDuration {
				return domain.ClosedLoop{}, domain.Reject(domain.RejectTooBrief, "recorded %s, need %s", elapsed, opts.MinDuration)
			}
		}
	}

	gap := distance(kept[0].LatLng(), kept[len(kept)-1].LatLng())
	if gap > opts.ClosureTolerance {
		return domain.ClosedLoop{}, domain.Reject(domain.RejectNotClosed, "ends %.1fm apart, tolerance %.1fm", gap, opts.ClosureTolerance)
	}

	loop := domain.ClosedLoop{Points: kept}
	ring := loopVertices(loop, opts.DedupeEpsilon)
	if len(ring) < 3 {
		return domain.ClosedLoop{}, domain.Reject(domain.RejectDegenerateArea, "%d distinct vertices", len(ring))
	}
	proj := ProjectionFor(ring)
	planarRing := make(orb.Ring, 0, len(ring))
	for _, ll := range ring {
		planarRing = append(planarRing, proj.Forward(ll))
	}
	if math.Abs(SignedArea(planarRing)) < areaEpsilon {
		return domain.ClosedLoop{}, domain.Reject(domain.RejectDegenerateArea, "loop encloses no area")
	}
	return loop, nil
}

// areaEpsilon is the smallest planar area in square meters treated as non-zero.
const areaEpsilon = 1e-6

// loopVertices returns the open ring of the loop. The last point is dropped
// when it repeats the first within epsilon meters.
func loopVertices(loop domain.ClosedLoop, epsilon float64) []domain.LatLng {
	ring := loop.LatLngs()
	if n := len(ring); n > 1 && distance(ring[0], ring[n-1]) < math.Max(epsilon, 1e-9) {
		ring = ring[:n-1]
	}
	return ring
}

func distance(a, b domain.LatLng) float64 {
	return geo.Distance(orb.Point{a.Lng, a.Lat}, orb.Point{b.Lng, b.Lat})
}
