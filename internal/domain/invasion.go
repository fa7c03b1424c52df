package domain

import "time"

// Invasion records one territory being reduced or destroyed by a competing
// claim. Seen belongs to the notification side and starts false.
type Invasion struct {
	ID                    string
	InvadedOwnerID        string
	InvaderID             string
	InvadedTerritoryID    string
	ResultingTerritoryID  *string
	OverlapArea           float64
	TerritoryWasDestroyed bool
	Seen                  bool
	CreatedAt             time.Time
}

// ConquerResult is the full outcome of one conquest.
type ConquerResult struct {
	NewTerritory        Territory
	ModifiedTerritories []Territory
	DeletedTerritoryIDs []string
	Invasions           []Invasion
	// TotalConqueredArea is the area of the claimed loop.
	TotalConqueredArea float64
	// ContestedArea sums the overlap taken from other owners.
	ContestedArea      float64
	MergedTerritoryIDs []string
	ConflictResolution bool
}
