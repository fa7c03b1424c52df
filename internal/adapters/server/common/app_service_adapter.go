package common

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hylla/turf/internal/app"
	"github.com/hylla/turf/internal/domain"
	"github.com/hylla/turf/internal/geometry"
)

// AppServiceAdapter maps transport contracts onto app.Service.
type AppServiceAdapter struct {
	service *app.Service
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// Conquer runs one conquest for a submitted loop.
func (a *AppServiceAdapter) Conquer(ctx context.Context, in ConquerRequest) (ConquerResponse, error) {
	if a == nil || a.service == nil {
		return ConquerResponse{}, fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	points := make([]domain.GeoPoint, 0, len(in.Points))
	for _, p := range in.Points {
		points = append(points, domain.GeoPoint{
			Lat:        p.Lat,
			Lng:        p.Lng,
			CapturedAt: p.CapturedAt,
			Speed:      p.Speed,
			Accuracy:   p.Accuracy,
			Altitude:   p.Altitude,
		})
	}
	result, err := a.service.Conquer(ctx, app.ConquerInput{
		OwnerID:    in.OwnerID,
		ActivityID: in.ActivityID,
		Points:     points,
	})
	if err != nil {
		return ConquerResponse{}, mapAppError("conquer", err)
	}
	return MapConquerResult(result)
}

// GetTerritory returns one territory with its history.
func (a *AppServiceAdapter) GetTerritory(ctx context.Context, id string) (Territory, error) {
	if a == nil || a.service == nil {
		return Territory{}, fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Territory{}, fmt.Errorf("territory id is required: %w", ErrInvalidRequest)
	}
	t, err := a.service.GetTerritory(ctx, id)
	if err != nil {
		return Territory{}, mapAppError("get territory", err)
	}
	return MapTerritory(t)
}

// ListTerritories returns territories intersecting a box.
func (a *AppServiceAdapter) ListTerritories(ctx context.Context, in ListTerritoriesRequest) ([]Territory, error) {
	if a == nil || a.service == nil {
		return nil, fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	bounds, err := ParseBBox(in.BBox)
	if err != nil {
		return nil, err
	}
	territories, err := a.service.ListTerritoriesInBounds(ctx, bounds)
	if err != nil {
		return nil, mapAppError("list territories", err)
	}
	out := make([]Territory, 0, len(territories))
	for _, t := range territories {
		mapped, err := MapTerritory(t)
		if err != nil {
			return nil, err
		}
		out = append(out, mapped)
	}
	return out, nil
}

// ListInvasions returns the newest invasions against one owner.
func (a *AppServiceAdapter) ListInvasions(ctx context.Context, in ListInvasionsRequest) ([]Invasion, error) {
	if a == nil || a.service == nil {
		return nil, fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	if in.Limit < 0 {
		return nil, fmt.Errorf("limit must be >= 0: %w", ErrInvalidRequest)
	}
	invasions, err := a.service.ListInvasions(ctx, in.OwnerID, in.Limit)
	if err != nil {
		return nil, mapAppError("list invasions", err)
	}
	out := make([]Invasion, 0, len(invasions))
	for _, inv := range invasions {
		out = append(out, MapInvasion(inv))
	}
	return out, nil
}

// ParseBBox parses "minLng,minLat,maxLng,maxLat".
func ParseBBox(raw string) (domain.Bounds, error) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) != 4 {
		return domain.Bounds{}, fmt.Errorf("bbox must be minLng,minLat,maxLng,maxLat: %w", ErrInvalidRequest)
	}
	vals := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return domain.Bounds{}, fmt.Errorf("bbox value %q: %w", part, errors.Join(ErrInvalidRequest, err))
		}
		vals[i] = v
	}
	b := domain.Bounds{MinLng: vals[0], MinLat: vals[1], MaxLng: vals[2], MaxLat: vals[3]}
	if !b.Valid() {
		return domain.Bounds{}, fmt.Errorf("bbox out of range or inverted: %w", ErrInvalidRequest)
	}
	return b, nil
}

// RejectionReason returns the validation reason carried by err, if any.
func RejectionReason(err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return string(verr.Reason)
	}
	return ""
}

// MapConquerResult converts a conquest result into its transport shape.
func MapConquerResult(result domain.ConquerResult) (ConquerResponse, error) {
	created, err := MapTerritory(result.NewTerritory)
	if err != nil {
		return ConquerResponse{}, err
	}
	out := ConquerResponse{
		NewTerritory:        created,
		ModifiedTerritories: make([]Territory, 0, len(result.ModifiedTerritories)),
		DeletedTerritoryIDs: append([]string{}, result.DeletedTerritoryIDs...),
		MergedTerritoryIDs:  append([]string{}, result.MergedTerritoryIDs...),
		Invasions:           make([]Invasion, 0, len(result.Invasions)),
		TotalConqueredArea:  result.TotalConqueredArea,
		ContestedArea:       result.ContestedArea,
		ConflictResolution:  result.ConflictResolution,
	}
	for _, t := range result.ModifiedTerritories {
		mapped, err := MapTerritory(t)
		if err != nil {
			return ConquerResponse{}, err
		}
		out.ModifiedTerritories = append(out.ModifiedTerritories, mapped)
	}
	for _, inv := range result.Invasions {
		out.Invasions = append(out.Invasions, MapInvasion(inv))
	}
	return out, nil
}

// MapTerritory converts a territory and encodes its polygon as GeoJSON.
func MapTerritory(t domain.Territory) (Territory, error) {
	geom, err := geometry.MarshalGeoJSON(t.Polygon)
	if err != nil {
		return Territory{}, fmt.Errorf("encode territory %s geometry: %w", t.ID, err)
	}
	out := Territory{
		ID:        t.ID,
		OwnerID:   t.OwnerID,
		Geometry:  geom,
		Area:      t.Area,
		Perimeter: t.Perimeter,
		Center:    LatLng{Lat: t.Center.Lat, Lng: t.Center.Lng},
		ClaimedAt: t.ClaimedAt,
		UpdatedAt: t.UpdatedAt,
		Version:   t.Version,
	}
	for _, ev := range t.History {
		out.History = append(out.History, ClaimEvent{
			ID:              ev.ID,
			Kind:            string(ev.Kind),
			PreviousOwnerID: ev.PreviousOwnerID,
			NewOwnerID:      ev.NewOwnerID,
			ActivityID:      ev.ActivityID,
			Metadata:        ev.Metadata,
			OccurredAt:      ev.OccurredAt,
		})
	}
	return out, nil
}

// MapInvasion converts one invasion record.
func MapInvasion(inv domain.Invasion) Invasion {
	return Invasion{
		ID:                    inv.ID,
		InvadedOwnerID:        inv.InvadedOwnerID,
		InvaderID:             inv.InvaderID,
		InvadedTerritoryID:    inv.InvadedTerritoryID,
		ResultingTerritoryID:  inv.ResultingTerritoryID,
		OverlapArea:           inv.OverlapArea,
		TerritoryWasDestroyed: inv.TerritoryWasDestroyed,
		Seen:                  inv.Seen,
		CreatedAt:             inv.CreatedAt,
	}
}

// mapAppError maps app and domain errors onto transport sentinels.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidOwnerID),
		errors.Is(err, domain.ErrInvalidActivityID),
		errors.Is(err, domain.ErrInvalidPolygon),
		errors.Is(err, domain.ErrInvalidArea):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrConflict):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, app.ErrPolicyUnavailable):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnavailable, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
