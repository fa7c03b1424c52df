package app

import (
	"fmt"
	"slices"
	"strings"

	"github.com/paulmach/orb"

	"github.com/hylla/turf/internal/domain"
	"github.com/hylla/turf/internal/geometry"
)

// SelfOverlapPolicy selects how a claim treats the claimant's own territories.
type SelfOverlapPolicy string

// SelfOverlapPolicy values.
const (
	SelfOverlapIgnore SelfOverlapPolicy = "ignore"
	SelfOverlapMerge  SelfOverlapPolicy = "merge"
)

// ParseSelfOverlapPolicy normalizes a configured policy name.
func ParseSelfOverlapPolicy(raw string) (SelfOverlapPolicy, error) {
	switch SelfOverlapPolicy(strings.TrimSpace(strings.ToLower(raw))) {
	case SelfOverlapIgnore, "":
		return SelfOverlapIgnore, nil
	case SelfOverlapMerge:
		return SelfOverlapMerge, nil
	default:
		return "", fmt.Errorf("unknown self overlap policy %q", raw)
	}
}

// resolution is the outcome of resolving every candidate against one claim.
type resolution struct {
	outcomes []Outcome
	// claim is the planar claim after same-owner merges.
	claim  orb.Polygon
	merged bool
}

type resolver struct {
	clipper          geometry.Clipper
	logger           Logger
	destroyThreshold float64
	overlapEpsilon   float64
	selfOverlap      SelfOverlapPolicy
}

// sortCandidates orders territories oldest claim first, ties by id.
func sortCandidates(candidates []domain.Territory) {
	slices.SortStableFunc(candidates, func(a, b domain.Territory) int {
		if c := a.ClaimedAt.Compare(b.ClaimedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// resolve clips the claim against candidates in deterministic order.
// Same-owner merges run first so later clipping sees the merged claim.
func (r resolver) resolve(claim geometry.Shape, ownerID string, candidates []domain.Territory) resolution {
	sortCandidates(candidates)
	res := resolution{claim: claim.Planar}

	var others []domain.Territory
	for _, candidate := range candidates {
		if candidate.OwnerID != ownerID {
			others = append(others, candidate)
			continue
		}
		if r.selfOverlap != SelfOverlapMerge {
			res.outcomes = append(res.outcomes, Untouched{Territory: candidate})
			continue
		}
		outcome, merged := r.merge(claim.Projection, res.claim, candidate)
		if merged != nil {
			res.claim = merged
			res.merged = true
		}
		res.outcomes = append(res.outcomes, outcome)
	}

	for _, candidate := range others {
		res.outcomes = append(res.outcomes, r.clip(claim.Projection, res.claim, candidate))
	}
	return res
}

func (r resolver) merge(proj geometry.Projection, claim orb.Polygon, candidate domain.Territory) (Outcome, orb.Polygon) {
	poly, err := r.project(proj, candidate)
	if err != nil {
		return r.skip(candidate, err), nil
	}
	overlap := geometry.MultiPolygonArea(r.clipper.Intersection(poly, claim))
	if overlap <= r.overlapEpsilon {
		return Untouched{Territory: candidate}, nil
	}
	union, ok := geometry.LargestPolygon(r.clipper.Union(claim, poly))
	if !ok {
		return r.skip(candidate, fmt.Errorf("empty union")), nil
	}
	return Merged{Territory: candidate, OverlapArea: overlap}, union
}

func (r resolver) clip(proj geometry.Projection, claim orb.Polygon, candidate domain.Territory) Outcome {
	poly, err := r.project(proj, candidate)
	if err != nil {
		return r.skip(candidate, err)
	}
	candidateArea := geometry.PolygonArea(poly)

	overlap := geometry.MultiPolygonArea(r.clipper.Intersection(poly, claim))
	if overlap <= r.overlapEpsilon {
		return Untouched{Territory: candidate}
	}
	if overlap >= r.destroyThreshold*candidateArea {
		return Destroyed{Territory: candidate}
	}

	pieces := r.clipper.Difference(poly, claim)
	largest, ok := geometry.LargestPolygon(pieces)
	if !ok || geometry.PolygonArea(largest) <= r.overlapEpsilon {
		return Destroyed{Territory: candidate}
	}
	return Clipped{
		Territory:   candidate,
		Remainder:   geometry.Measure(proj, largest),
		OverlapArea: overlap,
		Pieces:      len(pieces),
	}
}

func (r resolver) project(proj geometry.Projection, candidate domain.Territory) (orb.Polygon, error) {
	poly, err := proj.ProjectPolygon(candidate.Polygon)
	if err != nil {
		return nil, &GeometryError{TerritoryID: candidate.ID, Err: err}
	}
	poly = geometry.Normalize(poly)
	if geometry.PolygonArea(poly) <= 0 {
		return nil, &GeometryError{TerritoryID: candidate.ID, Err: domain.ErrInvalidArea}
	}
	return poly, nil
}

func (r resolver) skip(candidate domain.Territory, err error) Outcome {
	r.logger.Warn("skipping territory with malformed geometry", "territory_id", candidate.ID, "owner_id", candidate.OwnerID, "err", err)
	return Skipped{Territory: candidate, Err: err}
}
