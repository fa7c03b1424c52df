package domain

import (
	"math"
	"time"
)

// LatLng is one geodetic coordinate in degrees.
type LatLng struct {
	Lat float64
	Lng float64
}

// Valid reports whether the coordinate is finite and inside WGS84 ranges.
func (p LatLng) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// GeoPoint is one recorded GPS sample. Optional sensor values are nil when
// the device did not report them.
type GeoPoint struct {
	Lat        float64
	Lng        float64
	CapturedAt time.Time
	Speed      *float64
	Accuracy   *float64
	Altitude   *float64
}

// LatLng returns the coordinate part of the sample.
func (p GeoPoint) LatLng() LatLng {
	return LatLng{Lat: p.Lat, Lng: p.Lng}
}

// ClosedLoop is a sanitized path whose ends meet within the closure tolerance.
type ClosedLoop struct {
	Points []GeoPoint
}

// LatLngs returns the loop coordinates in recording order.
func (l ClosedLoop) LatLngs() []LatLng {
	out := make([]LatLng, 0, len(l.Points))
	for _, p := range l.Points {
		out = append(out, p.LatLng())
	}
	return out
}

// Bounds is an axis-aligned box in degrees.
type Bounds struct {
	MinLat float64
	MinLng float64
	MaxLat float64
	MaxLng float64
}

// BoundsOf returns the box covering every coordinate. It returns the zero
// box for an empty input.
func BoundsOf(points []LatLng) Bounds {
	if len(points) == 0 {
		return Bounds{}
	}
	b := Bounds{MinLat: points[0].Lat, MinLng: points[0].Lng, MaxLat: points[0].Lat, MaxLng: points[0].Lng}
	for _, p := range points[1:] {
		b = b.Extend(p)
	}
	return b
}

// Extend grows the box to include p.
func (b Bounds) Extend(p LatLng) Bounds {
	b.MinLat = math.Min(b.MinLat, p.Lat)
	b.MinLng = math.Min(b.MinLng, p.Lng)
	b.MaxLat = math.Max(b.MaxLat, p.Lat)
	b.MaxLng = math.Max(b.MaxLng, p.Lng)
	return b
}

// Intersects reports whether two boxes share any point, edges included.
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat && b.MinLng <= o.MaxLng && o.MinLng <= b.MaxLng
}

// Valid reports whether the box corners are ordered and in range.
func (b Bounds) Valid() bool {
	lo := LatLng{Lat: b.MinLat, Lng: b.MinLng}
	hi := LatLng{Lat: b.MaxLat, Lng: b.MaxLng}
	return lo.Valid() && hi.Valid() && b.MinLat <= b.MaxLat && b.MinLng <= b.MaxLng
}
