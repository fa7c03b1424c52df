package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hylla/turf/internal/domain"
	"github.com/hylla/turf/internal/geometry"
)

// ConquerInput holds input values for conquer operations.
type ConquerInput struct {
	OwnerID    string
	ActivityID string
	Points     []domain.GeoPoint
}

// Conquer turns a finished recording into a territory and resolves every
// conflict it causes. Nothing is persisted unless the whole result commits.
func (s *Service) Conquer(ctx context.Context, in ConquerInput) (result domain.ConquerResult, err error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "turf.conquer", trace.WithAttributes(
		attribute.String("turf.owner_id", in.OwnerID),
		attribute.String("turf.activity_id", in.ActivityID),
		attribute.Int("turf.points", len(in.Points)),
	))
	defer func() {
		s.metrics.ObserveConquest(conquestStatus(err), time.Since(started).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ownerID := strings.TrimSpace(in.OwnerID)
	activityID := strings.TrimSpace(in.ActivityID)
	if ownerID == "" {
		return result, domain.Reject(domain.RejectInvalidInput, "owner id is required")
	}
	if activityID == "" {
		return result, domain.Reject(domain.RejectInvalidInput, "activity id is required")
	}

	loop, err := geometry.Sanitize(in.Points, s.cfg.Sanitize)
	if err != nil {
		return result, err
	}
	shape, err := geometry.Build(loop, s.cfg.Build)
	if err != nil {
		return result, err
	}

	now := s.clock().UTC()
	territory, err := domain.NewTerritory(domain.TerritoryInput{
		ID:         s.idGen(),
		OwnerID:    ownerID,
		ActivityID: activityID,
		EventID:    s.idGen(),
		Polygon:    shape.Geodetic,
		Area:       shape.Area,
		Perimeter:  shape.Perimeter,
		Center:     shape.Center,
	}, now)
	if err != nil {
		return result, fmt.Errorf("new territory: %w", err)
	}

	active, err := s.gate.Active(ctx)
	if err != nil {
		return result, err
	}
	span.SetAttributes(attribute.Bool("turf.conflict_resolution", active))

	if !active {
		write := ConquestWrite{Created: territory, ClaimEvents: slices.Clone(territory.History)}
		if err := s.store.CommitConquest(ctx, write); err != nil {
			return result, persistenceError(err)
		}
		s.applyIndex(write, nil)
		result = newConquerResult(territory)
		s.logger.Info("territory claimed in event mode", "territory_id", territory.ID, "owner_id", ownerID, "area", territory.Area)
		return result, nil
	}

	for attempt := 0; ; attempt++ {
		plan, err := s.plan(ctx, shape, territory, activityID, now)
		if err != nil {
			return domain.ConquerResult{}, err
		}
		err = s.store.CommitConquest(ctx, plan.write)
		if err == nil {
			s.applyIndex(plan.write, plan.missing)
			s.logger.Info("territory conquered",
				"territory_id", plan.result.NewTerritory.ID,
				"owner_id", ownerID,
				"area", plan.result.TotalConqueredArea,
				"contested_area", plan.result.ContestedArea,
				"modified", len(plan.result.ModifiedTerritories),
				"deleted", len(plan.result.DeletedTerritoryIDs),
				"invasions", len(plan.result.Invasions),
				"attempts", attempt+1,
			)
			return plan.result, nil
		}
		if !errors.Is(err, ErrStaleBasis) {
			return domain.ConquerResult{}, persistenceError(err)
		}
		if attempt >= s.cfg.MaxConflictRetries {
			return domain.ConquerResult{}, fmt.Errorf("%w: resolution basis changed on %d attempts", ErrConflict, attempt+1)
		}
		s.metrics.IncConflictRetry()
		s.logger.Warn("conquest basis changed, retrying", "owner_id", ownerID, "attempt", attempt+1)
		if err := s.refreshRegion(ctx, shape.Bounds); err != nil {
			return domain.ConquerResult{}, persistenceError(fmt.Errorf("refresh spatial index: %w", err))
		}
	}
}

type conquestPlan struct {
	write  ConquestWrite
	result domain.ConquerResult
	// missing lists indexed ids the store no longer has.
	missing []string
}

// plan loads candidates, resolves them, and assembles the write.
func (s *Service) plan(ctx context.Context, shape geometry.Shape, base domain.Territory, activityID string, now time.Time) (conquestPlan, error) {
	ids := s.index.Query(shape.Bounds)
	var loaded []domain.Territory
	if len(ids) > 0 {
		var err error
		loaded, err = s.store.GetTerritories(ctx, ids)
		if err != nil {
			return conquestPlan{}, persistenceError(fmt.Errorf("load candidates: %w", err))
		}
	}

	found := make(map[string]struct{}, len(loaded))
	versions := make(map[string]int64, len(loaded))
	candidates := make([]domain.Territory, 0, len(loaded))
	for _, t := range loaded {
		found[t.ID] = struct{}{}
		// Malformed outlines have no usable bounds; the resolver skips them,
		// but their versions still belong in the basis.
		if t.Polygon.Validate() == nil && !t.Polygon.Bounds().Intersects(shape.Bounds) {
			continue
		}
		versions[t.ID] = t.Version
		candidates = append(candidates, t)
	}
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}

	res := s.resolver().resolve(shape, base.OwnerID, candidates)

	p := &planner{
		s:          s,
		now:        now,
		activityID: activityID,
		created:    base.Clone(),
	}
	if res.merged {
		merged := geometry.Measure(shape.Projection, res.claim)
		if err := p.created.Reshape(merged.Geodetic, merged.Area, merged.Perimeter, merged.Center, now); err != nil {
			return conquestPlan{}, fmt.Errorf("reshape merged claim: %w", err)
		}
	}
	p.result = domain.ConquerResult{
		ModifiedTerritories: []domain.Territory{},
		DeletedTerritoryIDs: []string{},
		MergedTerritoryIDs:  []string{},
		Invasions:           []domain.Invasion{},
		ConflictResolution:  true,
	}

	for _, outcome := range res.outcomes {
		s.metrics.ObserveResolution(outcome.Kind())
		switch o := outcome.(type) {
		case Destroyed:
			p.destroy(o.Territory)
		case Clipped:
			p.clip(o)
		case Merged:
			p.merge(o)
		case Untouched, Skipped:
		}
	}

	p.write.Basis = Basis{Check: true, Bounds: shape.Bounds, Versions: versions}
	p.write.Created = p.created
	p.write.ClaimEvents = append(slices.Clone(p.created.History), p.events...)
	p.result.NewTerritory = p.created
	p.result.TotalConqueredArea = p.created.Area
	return conquestPlan{write: p.write, result: p.result, missing: missing}, nil
}

// planner accumulates the write and result for one resolution attempt.
type planner struct {
	s          *Service
	now        time.Time
	activityID string
	created    domain.Territory
	write      ConquestWrite
	result     domain.ConquerResult
	// events are appended to territories other than the new one.
	events []domain.ClaimEvent
}

func (p *planner) destroy(t domain.Territory) {
	invasion := p.invasion(t, nil, t.Area, true)
	p.write.Deleted = append(p.write.Deleted, TerritoryVersion{ID: t.ID, Version: t.Version})
	p.events = append(p.events, p.event(t.ID, domain.ClaimEventDestroy, t.OwnerID, p.created.OwnerID, map[string]string{
		"invasion_id":  invasion.ID,
		"overlap_area": formatArea(t.Area),
	}))
	p.result.DeletedTerritoryIDs = append(p.result.DeletedTerritoryIDs, t.ID)
	p.result.ContestedArea += t.Area
}

func (p *planner) clip(o Clipped) {
	updated := o.Territory.Clone()
	if err := updated.Reshape(o.Remainder.Geodetic, o.Remainder.Area, o.Remainder.Perimeter, o.Remainder.Center, p.now); err != nil {
		p.s.logger.Warn("clipped remainder is unusable, destroying territory", "territory_id", o.Territory.ID, "err", err)
		p.destroy(o.Territory)
		return
	}
	updated.Version = o.Territory.Version + 1

	resultingID := updated.ID
	invasion := p.invasion(o.Territory, &resultingID, o.OverlapArea, false)
	event := p.event(updated.ID, domain.ClaimEventClip, o.Territory.OwnerID, p.created.OwnerID, map[string]string{
		"invasion_id":    invasion.ID,
		"overlap_area":   formatArea(o.OverlapArea),
		"remaining_area": formatArea(updated.Area),
		"pieces":         strconv.Itoa(o.Pieces),
	})
	updated.AppendEvent(event)
	p.events = append(p.events, event)

	p.write.Modified = append(p.write.Modified, TerritoryUpdate{Territory: updated, ExpectedVersion: o.Territory.Version})
	p.result.ModifiedTerritories = append(p.result.ModifiedTerritories, updated)
	p.result.ContestedArea += o.OverlapArea
}

func (p *planner) merge(o Merged) {
	owner := p.created.OwnerID
	p.write.Deleted = append(p.write.Deleted, TerritoryVersion{ID: o.Territory.ID, Version: o.Territory.Version})
	p.events = append(p.events, p.event(o.Territory.ID, domain.ClaimEventMerge, owner, owner, map[string]string{
		"merged_into": p.created.ID,
	}))
	p.created.AppendEvent(p.event(p.created.ID, domain.ClaimEventMerge, owner, owner, map[string]string{
		"merged_territory_id": o.Territory.ID,
		"overlap_area":        formatArea(o.OverlapArea),
	}))
	p.result.MergedTerritoryIDs = append(p.result.MergedTerritoryIDs, o.Territory.ID)
}

func (p *planner) invasion(invaded domain.Territory, resultingID *string, overlap float64, destroyed bool) domain.Invasion {
	invasion := domain.Invasion{
		ID:                    p.s.idGen(),
		InvadedOwnerID:        invaded.OwnerID,
		InvaderID:             p.created.OwnerID,
		InvadedTerritoryID:    invaded.ID,
		ResultingTerritoryID:  resultingID,
		OverlapArea:           overlap,
		TerritoryWasDestroyed: destroyed,
		CreatedAt:             p.now,
	}
	p.write.Invasions = append(p.write.Invasions, invasion)
	p.result.Invasions = append(p.result.Invasions, invasion)
	return invasion
}

func (p *planner) event(territoryID string, kind domain.ClaimEventKind, previousOwner, newOwner string, metadata map[string]string) domain.ClaimEvent {
	return domain.ClaimEvent{
		ID:              p.s.idGen(),
		TerritoryID:     territoryID,
		Kind:            kind,
		PreviousOwnerID: previousOwner,
		NewOwnerID:      newOwner,
		ActivityID:      p.activityID,
		Metadata:        metadata,
		OccurredAt:      p.now,
	}
}

// applyIndex mirrors a committed write into the spatial index.
func (s *Service) applyIndex(write ConquestWrite, missing []string) {
	s.index.Upsert(write.Created.ID, write.Created.Polygon.Bounds())
	for _, m := range write.Modified {
		s.index.Upsert(m.Territory.ID, m.Territory.Polygon.Bounds())
	}
	for _, d := range write.Deleted {
		s.index.Remove(d.ID)
	}
	for _, id := range missing {
		s.index.Remove(id)
	}
}

func newConquerResult(territory domain.Territory) domain.ConquerResult {
	return domain.ConquerResult{
		NewTerritory:        territory,
		ModifiedTerritories: []domain.Territory{},
		DeletedTerritoryIDs: []string{},
		MergedTerritoryIDs:  []string{},
		Invasions:           []domain.Invasion{},
		TotalConqueredArea:  territory.Area,
	}
}

func persistenceError(err error) error {
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func conquestStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "rejected"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrPolicyUnavailable):
		return "policy_unavailable"
	default:
		return "error"
	}
}

func formatArea(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
