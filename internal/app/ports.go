package app

import (
	"context"

	"github.com/hylla/turf/internal/domain"
)

// TerritoryStore persists territories, their history, and invasions.
type TerritoryStore interface {
	GetTerritory(context.Context, string) (domain.Territory, error)
	GetTerritories(context.Context, []string) ([]domain.Territory, error)
	ListTerritoriesInBounds(context.Context, domain.Bounds) ([]domain.Territory, error)
	ListTerritoryBounds(context.Context) (map[string]domain.Bounds, error)
	ListInvasions(context.Context, string, int) ([]domain.Invasion, error)
	// CommitConquest applies one conquest atomically. It returns
	// ErrStaleBasis when the basis no longer matches committed state.
	CommitConquest(context.Context, ConquestWrite) error
}

// PolicyProvider reports whether conflict resolution currently applies.
type PolicyProvider interface {
	IsConflictResolutionActive(context.Context) (bool, error)
}

// Logger receives structured runtime logs.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}

// Metrics records conquest outcomes.
type Metrics interface {
	ObserveConquest(status string, seconds float64)
	ObserveResolution(outcome string)
	IncConflictRetry()
}

// Basis is the committed state a conquest was resolved against.
type Basis struct {
	// Check disables the basis comparison when false, as in event mode.
	Check    bool
	Bounds   domain.Bounds
	Versions map[string]int64
}

// TerritoryUpdate replaces a stored territory whose version still matches.
type TerritoryUpdate struct {
	Territory       domain.Territory
	ExpectedVersion int64
}

// TerritoryVersion names one stored territory at a known version.
type TerritoryVersion struct {
	ID      string
	Version int64
}

// ConquestWrite is every mutation one conquest commits.
type ConquestWrite struct {
	Basis       Basis
	Created     domain.Territory
	Modified    []TerritoryUpdate
	Deleted     []TerritoryVersion
	Invasions   []domain.Invasion
	ClaimEvents []domain.ClaimEvent
}

type nopLogger struct{}

func (nopLogger) Debug(any, ...any) {}
func (nopLogger) Info(any, ...any)  {}
func (nopLogger) Warn(any, ...any)  {}
func (nopLogger) Error(any, ...any) {}

type nopMetrics struct{}

func (nopMetrics) ObserveConquest(string, float64) {}
func (nopMetrics) ObserveResolution(string)        {}
func (nopMetrics) IncConflictRetry()               {}
