package domain

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Polygon is a territory outline. Rings are open (the closing vertex is not
// repeated); Outer winds counter-clockwise and Holes clockwise.
type Polygon struct {
	Outer []LatLng
	Holes [][]LatLng
}

// Bounds returns the box around the outer ring.
func (p Polygon) Bounds() Bounds {
	return BoundsOf(p.Outer)
}

// Validate checks ring sizes and coordinate ranges.
func (p Polygon) Validate() error {
	if len(p.Outer) < 3 {
		return ErrInvalidPolygon
	}
	for _, pt := range p.Outer {
		if !pt.Valid() {
			return ErrInvalidPolygon
		}
	}
	for _, hole := range p.Holes {
		if len(hole) < 3 {
			return ErrInvalidPolygon
		}
		for _, pt := range hole {
			if !pt.Valid() {
				return ErrInvalidPolygon
			}
		}
	}
	return nil
}

// Clone deep-copies the polygon rings.
func (p Polygon) Clone() Polygon {
	out := Polygon{Outer: slices.Clone(p.Outer)}
	if len(p.Holes) > 0 {
		out.Holes = make([][]LatLng, 0, len(p.Holes))
		for _, hole := range p.Holes {
			out.Holes = append(out.Holes, slices.Clone(hole))
		}
	}
	return out
}

// ClaimEventKind describes why a claim event was appended.
type ClaimEventKind string

// ClaimEventKind values recorded in territory history.
const (
	ClaimEventClaim   ClaimEventKind = "claim"
	ClaimEventClip    ClaimEventKind = "clip"
	ClaimEventMerge   ClaimEventKind = "merge"
	ClaimEventDestroy ClaimEventKind = "destroy"
)

// ClaimEvent is one immutable entry in a territory's history.
type ClaimEvent struct {
	ID              string
	TerritoryID     string
	Kind            ClaimEventKind
	PreviousOwnerID string
	NewOwnerID      string
	ActivityID      string
	Metadata        map[string]string
	OccurredAt      time.Time
}

// Territory is an owned geographic claim.
type Territory struct {
	ID        string
	OwnerID   string
	Polygon   Polygon
	Area      float64
	Perimeter float64
	Center    LatLng
	ClaimedAt time.Time
	UpdatedAt time.Time
	Version   int64
	History   []ClaimEvent
}

// TerritoryInput holds values for constructing a new territory.
type TerritoryInput struct {
	ID         string
	OwnerID    string
	ActivityID string
	EventID    string
	Polygon    Polygon
	Area       float64
	Perimeter  float64
	Center     LatLng
}

// NewTerritory validates input and returns a territory with its initial
// claim event.
func NewTerritory(in TerritoryInput, now time.Time) (Territory, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	in.ActivityID = strings.TrimSpace(in.ActivityID)
	in.EventID = strings.TrimSpace(in.EventID)
	if in.ID == "" || in.EventID == "" {
		return Territory{}, ErrInvalidID
	}
	if in.OwnerID == "" {
		return Territory{}, ErrInvalidOwnerID
	}
	if in.ActivityID == "" {
		return Territory{}, ErrInvalidActivityID
	}
	if err := in.Polygon.Validate(); err != nil {
		return Territory{}, err
	}
	if in.Area <= 0 || in.Perimeter <= 0 {
		return Territory{}, ErrInvalidArea
	}

	ts := now.UTC()
	return Territory{
		ID:        in.ID,
		OwnerID:   in.OwnerID,
		Polygon:   in.Polygon.Clone(),
		Area:      in.Area,
		Perimeter: in.Perimeter,
		Center:    in.Center,
		ClaimedAt: ts,
		UpdatedAt: ts,
		Version:   1,
		History: []ClaimEvent{{
			ID:          in.EventID,
			TerritoryID: in.ID,
			Kind:        ClaimEventClaim,
			NewOwnerID:  in.OwnerID,
			ActivityID:  in.ActivityID,
			OccurredAt:  ts,
		}},
	}, nil
}

// Reshape replaces the outline and derived metrics after a clip or merge.
func (t *Territory) Reshape(polygon Polygon, area, perimeter float64, center LatLng, now time.Time) error {
	if err := polygon.Validate(); err != nil {
		return err
	}
	if area <= 0 || perimeter <= 0 {
		return ErrInvalidArea
	}
	t.Polygon = polygon.Clone()
	t.Area = area
	t.Perimeter = perimeter
	t.Center = center
	t.UpdatedAt = now.UTC()
	return nil
}

// AppendEvent adds one event to the history.
func (t *Territory) AppendEvent(event ClaimEvent) {
	event.TerritoryID = t.ID
	event.OccurredAt = event.OccurredAt.UTC()
	if len(event.Metadata) > 0 {
		event.Metadata = maps.Clone(event.Metadata)
	}
	t.History = append(t.History, event)
}

// Clone deep-copies the territory.
func (t Territory) Clone() Territory {
	out := t
	out.Polygon = t.Polygon.Clone()
	out.History = slices.Clone(t.History)
	return out
}
