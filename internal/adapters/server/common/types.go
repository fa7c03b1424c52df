// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidRequest reports malformed transport input or a rejected path.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrConflict reports a conquest that lost repeated races for the same area.
var ErrConflict = errors.New("conflict")

// ErrUnavailable reports a dependency the conquest cannot proceed without.
var ErrUnavailable = errors.New("service unavailable")

// ConquestService is the transport-facing surface of the conquest engine.
type ConquestService interface {
	Conquer(context.Context, ConquerRequest) (ConquerResponse, error)
	GetTerritory(context.Context, string) (Territory, error)
	ListTerritories(context.Context, ListTerritoriesRequest) ([]Territory, error)
	ListInvasions(context.Context, ListInvasionsRequest) ([]Invasion, error)
}

// Point is one recorded GPS sample.
type Point struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	CapturedAt time.Time `json:"captured_at"`
	Speed      *float64  `json:"speed,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Altitude   *float64  `json:"altitude,omitempty"`
}

// ConquerRequest submits one finished activity loop.
type ConquerRequest struct {
	OwnerID    string  `json:"owner_id"`
	ActivityID string  `json:"activity_id"`
	Points     []Point `json:"points"`
}

// ListTerritoriesRequest selects territories by box. BBox is
// "minLng,minLat,maxLng,maxLat".
type ListTerritoriesRequest struct {
	BBox string
}

// ListInvasionsRequest selects invasions against one owner.
type ListInvasionsRequest struct {
	OwnerID string
	Limit   int
}

// LatLng is one geodetic coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ClaimEvent is one entry of a territory history.
type ClaimEvent struct {
	ID              string            `json:"id"`
	Kind            string            `json:"kind"`
	PreviousOwnerID string            `json:"previous_owner_id,omitempty"`
	NewOwnerID      string            `json:"new_owner_id"`
	ActivityID      string            `json:"activity_id"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`
}

// Territory is one owned area. Geometry is a GeoJSON polygon.
type Territory struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Geometry  json.RawMessage `json:"geometry"`
	Area      float64         `json:"area"`
	Perimeter float64         `json:"perimeter"`
	Center    LatLng          `json:"center"`
	ClaimedAt time.Time       `json:"claimed_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Version   int64           `json:"version"`
	History   []ClaimEvent    `json:"history,omitempty"`
}

// Invasion reports one territory reduced or destroyed by another owner.
type Invasion struct {
	ID                    string    `json:"id"`
	InvadedOwnerID        string    `json:"invaded_owner_id"`
	InvaderID             string    `json:"invader_id"`
	InvadedTerritoryID    string    `json:"invaded_territory_id"`
	ResultingTerritoryID  *string   `json:"resulting_territory_id,omitempty"`
	OverlapArea           float64   `json:"overlap_area"`
	TerritoryWasDestroyed bool      `json:"territory_was_destroyed"`
	Seen                  bool      `json:"seen"`
	CreatedAt             time.Time `json:"created_at"`
}

// ConquerResponse is everything one conquest changed.
type ConquerResponse struct {
	NewTerritory        Territory   `json:"new_territory"`
	ModifiedTerritories []Territory `json:"modified_territories"`
	DeletedTerritoryIDs []string    `json:"deleted_territory_ids"`
	MergedTerritoryIDs  []string    `json:"merged_territory_ids"`
	Invasions           []Invasion  `json:"invasions"`
	TotalConqueredArea  float64     `json:"total_conquered_area"`
	ContestedArea       float64     `json:"contested_area"`
	ConflictResolution  bool        `json:"conflict_resolution"`
}
