package app

import (
	"github.com/hylla/turf/internal/domain"
	"github.com/hylla/turf/internal/geometry"
)

// Outcome is how one candidate territory was resolved against a claim. The
// set of implementations is closed: Destroyed, Clipped, Untouched, Merged,
// and Skipped.
type Outcome interface {
	TerritoryID() string
	Kind() string
	isOutcome()
}

// Destroyed means the claim covered the candidate past the destruction threshold.
type Destroyed struct {
	Territory domain.Territory
}

// Clipped means the candidate survives as its largest remainder.
type Clipped struct {
	Territory   domain.Territory
	Remainder   geometry.Shape
	OverlapArea float64
	// Pieces counts the disjoint remainders before the largest was kept.
	Pieces int
}

// Untouched means the candidate does not overlap the claim, or belongs to the
// claimant and self overlap is ignored.
type Untouched struct {
	Territory domain.Territory
}

// Merged means a same-owner candidate was absorbed into the claim.
type Merged struct {
	Territory   domain.Territory
	OverlapArea float64
}

// Skipped means the candidate geometry could not be processed.
type Skipped struct {
	Territory domain.Territory
	Err       error
}

func (o Destroyed) TerritoryID() string { return o.Territory.ID }
func (o Clipped) TerritoryID() string   { return o.Territory.ID }
func (o Untouched) TerritoryID() string { return o.Territory.ID }
func (o Merged) TerritoryID() string    { return o.Territory.ID }
func (o Skipped) TerritoryID() string   { return o.Territory.ID }

func (Destroyed) Kind() string { return "destroyed" }
func (Clipped) Kind() string   { return "clipped" }
func (Untouched) Kind() string { return "untouched" }
func (Merged) Kind() string    { return "merged" }
func (Skipped) Kind() string   { return "skipped" }

func (Destroyed) isOutcome() {}
func (Clipped) isOutcome()   {}
func (Untouched) isOutcome() {}
func (Merged) isOutcome()    {}
func (Skipped) isOutcome()   {}
