package geometry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/hylla/turf/internal/domain"
)

// ToOrb converts a domain polygon into closed lng/lat rings.
func ToOrb(p domain.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, 1+len(p.Holes))
	out = append(out, lngLatRing(p.Outer))
	for _, hole := range p.Holes {
		out = append(out, lngLatRing(hole))
	}
	return out
}

// FromOrb converts closed lng/lat rings into a domain polygon.
func FromOrb(p orb.Polygon) (domain.Polygon, error) {
	if len(p) == 0 {
		return domain.Polygon{}, domain.ErrInvalidPolygon
	}
	out := domain.Polygon{Outer: latLngRing(p[0])}
	for _, ring := range p[1:] {
		out.Holes = append(out.Holes, latLngRing(ring))
	}
	if err := out.Validate(); err != nil {
		return domain.Polygon{}, err
	}
	return out, nil
}

// MarshalGeoJSON encodes a polygon as a GeoJSON geometry.
func MarshalGeoJSON(p domain.Polygon) ([]byte, error) {
	return json.Marshal(geojson.NewGeometry(ToOrb(p)))
}

// MarshalFeatureCollection encodes territories as one GeoJSON
// FeatureCollection keyed by territory id.
func MarshalFeatureCollection(territories []domain.Territory) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, t := range territories {
		f := geojson.NewFeature(ToOrb(t.Polygon))
		f.ID = t.ID
		f.Properties["owner_id"] = t.OwnerID
		f.Properties["area"] = t.Area
		f.Properties["perimeter"] = t.Perimeter
		f.Properties["version"] = t.Version
		f.Properties["claimed_at"] = t.ClaimedAt.UTC().Format(time.RFC3339)
		fc.Append(f)
	}
	return fc.MarshalJSON()
}

// UnmarshalGeoJSON decodes a GeoJSON polygon geometry.
func UnmarshalGeoJSON(data []byte) (domain.Polygon, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return domain.Polygon{}, fmt.Errorf("decode geojson: %w", err)
	}
	poly, ok := g.Geometry().(orb.Polygon)
	if !ok {
		return domain.Polygon{}, fmt.Errorf("geojson geometry is not a polygon: %w", domain.ErrInvalidPolygon)
	}
	return FromOrb(poly)
}

func lngLatRing(ring []domain.LatLng) orb.Ring {
	out := make(orb.Ring, 0, len(ring)+1)
	for _, ll := range ring {
		out = append(out, orb.Point{ll.Lng, ll.Lat})
	}
	return closeRing(out)
}

func latLngRing(ring orb.Ring) []domain.LatLng {
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	out := make([]domain.LatLng, 0, n)
	for _, pt := range ring[:n] {
		out = append(out, domain.LatLng{Lat: pt[1], Lng: pt[0]})
	}
	return out
}
