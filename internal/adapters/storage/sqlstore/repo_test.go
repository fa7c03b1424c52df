package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/hylla/turf/internal/app"
	"github.com/hylla/turf/internal/domain"
	"github.com/hylla/turf/internal/spatial"
)

func square(lat, lng, size float64) domain.Polygon {
	return domain.Polygon{Outer: []domain.LatLng{
		{Lat: lat, Lng: lng},
		{Lat: lat, Lng: lng + size},
		{Lat: lat + size, Lng: lng + size},
		{Lat: lat + size, Lng: lng},
	}}
}

func newTerritory(t *testing.T, id, owner string, poly domain.Polygon, now time.Time) domain.Territory {
	t.Helper()
	territory, err := domain.NewTerritory(domain.TerritoryInput{
		ID:         id,
		OwnerID:    owner,
		ActivityID: "act-" + id,
		EventID:    "ev-" + id,
		Polygon:    poly,
		Area:       1000,
		Perimeter:  120,
		Center:     poly.Outer[0],
	}, now)
	if err != nil {
		t.Fatalf("NewTerritory() error = %v", err)
	}
	return territory
}

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := OpenSQLite(filepath.Join(t.TempDir(), "turf.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func TestRepository_ConquestLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	victim := newTerritory(t, "t-victim", "bob", square(52.5, 13.4, 0.001), now)
	if err := repo.CommitConquest(ctx, app.ConquestWrite{Created: victim, ClaimEvents: victim.History}); err != nil {
		t.Fatalf("CommitConquest(create) error = %v", err)
	}
	doomed := newTerritory(t, "t-doomed", "carol", square(52.5005, 13.4005, 0.0002), now)
	if err := repo.CommitConquest(ctx, app.ConquestWrite{Created: doomed, ClaimEvents: doomed.History}); err != nil {
		t.Fatalf("CommitConquest(create doomed) error = %v", err)
	}

	loaded, err := repo.GetTerritory(ctx, victim.ID)
	if err != nil {
		t.Fatalf("GetTerritory() error = %v", err)
	}
	if loaded.OwnerID != "bob" || loaded.Version != 1 || len(loaded.Polygon.Outer) != 4 {
		t.Fatalf("unexpected territory %#v", loaded)
	}
	if len(loaded.History) != 1 || loaded.History[0].Kind != domain.ClaimEventClaim {
		t.Fatalf("unexpected history %#v", loaded.History)
	}
	if !loaded.ClaimedAt.Equal(now) {
		t.Fatalf("expected claimed_at %s, got %s", now, loaded.ClaimedAt)
	}

	later := now.Add(time.Hour)
	attacker := newTerritory(t, "t-attacker", "alice", square(52.5004, 13.4004, 0.002), later)
	clipped := loaded.Clone()
	clipped.Polygon = square(52.5, 13.4, 0.0004)
	clipped.Area = 400
	clipped.UpdatedAt = later
	clipped.Version = 2
	resulting := clipped.ID
	clipEvent := domain.ClaimEvent{ID: "ev-clip", TerritoryID: clipped.ID, Kind: domain.ClaimEventClip, PreviousOwnerID: "bob", NewOwnerID: "alice", ActivityID: "act-attacker", Metadata: map[string]string{"overlap_area": "600.00"}, OccurredAt: later}

	write := app.ConquestWrite{
		Basis: app.Basis{
			Check:    true,
			Bounds:   attacker.Polygon.Bounds(),
			Versions: map[string]int64{victim.ID: 1, doomed.ID: 1},
		},
		Created:  attacker,
		Modified: []app.TerritoryUpdate{{Territory: clipped, ExpectedVersion: 1}},
		Deleted:  []app.TerritoryVersion{{ID: doomed.ID, Version: 1}},
		Invasions: []domain.Invasion{
			{ID: "inv-1", InvadedOwnerID: "bob", InvaderID: "alice", InvadedTerritoryID: victim.ID, ResultingTerritoryID: &resulting, OverlapArea: 600, CreatedAt: later},
			{ID: "inv-2", InvadedOwnerID: "carol", InvaderID: "alice", InvadedTerritoryID: doomed.ID, OverlapArea: 40, TerritoryWasDestroyed: true, CreatedAt: later},
		},
		ClaimEvents: append(attacker.History, clipEvent),
	}
	if err := repo.CommitConquest(ctx, write); err != nil {
		t.Fatalf("CommitConquest(conquest) error = %v", err)
	}

	updated, err := repo.GetTerritory(ctx, victim.ID)
	if err != nil {
		t.Fatalf("GetTerritory(updated) error = %v", err)
	}
	if updated.Version != 2 || updated.Area != 400 {
		t.Fatalf("expected version 2 area 400, got version %d area %.1f", updated.Version, updated.Area)
	}
	if len(updated.History) != 2 || updated.History[1].Kind != domain.ClaimEventClip || updated.History[1].Metadata["overlap_area"] != "600.00" {
		t.Fatalf("unexpected updated history %#v", updated.History)
	}
	if _, err := repo.GetTerritory(ctx, doomed.ID); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted territory, got %v", err)
	}

	inBounds, err := repo.ListTerritoriesInBounds(ctx, attacker.Polygon.Bounds())
	if err != nil {
		t.Fatalf("ListTerritoriesInBounds() error = %v", err)
	}
	if len(inBounds) != 2 || inBounds[0].ID != victim.ID || inBounds[1].ID != attacker.ID {
		t.Fatalf("unexpected territories in bounds %#v", inBounds)
	}

	bounds, err := repo.ListTerritoryBounds(ctx)
	if err != nil {
		t.Fatalf("ListTerritoryBounds() error = %v", err)
	}
	if len(bounds) != 2 || bounds[victim.ID] != clipped.Polygon.Bounds() {
		t.Fatalf("unexpected bounds %#v", bounds)
	}

	got, err := repo.GetTerritories(ctx, []string{attacker.ID, doomed.ID, "missing"})
	if err != nil {
		t.Fatalf("GetTerritories() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != attacker.ID {
		t.Fatalf("unexpected GetTerritories result %#v", got)
	}

	invasions, err := repo.ListInvasions(ctx, "carol", 10)
	if err != nil {
		t.Fatalf("ListInvasions() error = %v", err)
	}
	if len(invasions) != 1 || !invasions[0].TerritoryWasDestroyed || invasions[0].ResultingTerritoryID != nil || invasions[0].Seen {
		t.Fatalf("unexpected carol invasions %#v", invasions)
	}
	invasions, err = repo.ListInvasions(ctx, "bob", 10)
	if err != nil {
		t.Fatalf("ListInvasions(bob) error = %v", err)
	}
	if len(invasions) != 1 || invasions[0].ResultingTerritoryID == nil || *invasions[0].ResultingTerritoryID != victim.ID {
		t.Fatalf("unexpected bob invasions %#v", invasions)
	}
}

func TestRepository_StaleBasisRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	existing := newTerritory(t, "t-existing", "bob", square(52.5, 13.4, 0.001), now)
	if err := repo.CommitConquest(ctx, app.ConquestWrite{Created: existing, ClaimEvents: existing.History}); err != nil {
		t.Fatalf("CommitConquest(create) error = %v", err)
	}

	claim := newTerritory(t, "t-claim", "alice", square(52.5005, 13.4005, 0.001), now)
	tests := []struct {
		name  string
		write app.ConquestWrite
	}{
		{
			name: "unseen territory",
			write: app.ConquestWrite{
				Basis:   app.Basis{Check: true, Bounds: claim.Polygon.Bounds(), Versions: map[string]int64{}},
				Created: claim,
			},
		},
		{
			name: "version moved",
			write: app.ConquestWrite{
				Basis:   app.Basis{Check: true, Bounds: claim.Polygon.Bounds(), Versions: map[string]int64{existing.ID: 7}},
				Created: claim,
			},
		},
		{
			name: "vanished territory",
			write: app.ConquestWrite{
				Basis:   app.Basis{Check: true, Bounds: claim.Polygon.Bounds(), Versions: map[string]int64{existing.ID: 1, "gone": 1}},
				Created: claim,
			},
		},
		{
			name: "versioned update misses",
			write: app.ConquestWrite{
				Created:  claim,
				Modified: []app.TerritoryUpdate{{Territory: existing, ExpectedVersion: 3}},
			},
		},
		{
			name: "versioned delete misses",
			write: app.ConquestWrite{
				Created: claim,
				Deleted: []app.TerritoryVersion{{ID: existing.ID, Version: 9}},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := repo.CommitConquest(ctx, tc.write)
			if !errors.Is(err, app.ErrStaleBasis) {
				t.Fatalf("expected ErrStaleBasis, got %v", err)
			}
			if _, err := repo.GetTerritory(ctx, claim.ID); !errors.Is(err, app.ErrNotFound) {
				t.Fatalf("expected rolled back claim, got %v", err)
			}
		})
	}
}

func TestRepository_InMemoryIsolated(t *testing.T) {
	ctx := context.Background()
	a, err := OpenSQLiteInMemory()
	if err != nil {
		t.Fatalf("OpenSQLiteInMemory() error = %v", err)
	}
	defer func() { _ = a.Close() }()
	b, err := Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	defer func() { _ = b.Close() }()

	territory := newTerritory(t, "t1", "bob", square(1, 1, 0.001), time.Now())
	if err := a.CommitConquest(ctx, app.ConquestWrite{Created: territory, ClaimEvents: territory.History}); err != nil {
		t.Fatalf("CommitConquest() error = %v", err)
	}
	if _, err := b.GetTerritory(ctx, "t1"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected separate databases, got %v", err)
	}
	if err := b.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestRebindNumbersPlaceholders(t *testing.T) {
	pg := &Repository{driver: DriverPostgres}
	if got := pg.rebind(`SELECT 1 WHERE a = ? AND b IN (?, ?)`); got != `SELECT 1 WHERE a = $1 AND b IN ($2, $3)` {
		t.Fatalf("unexpected rebind %q", got)
	}
	lite := &Repository{driver: DriverSQLite}
	if got := lite.rebind(`a = ?`); got != `a = ?` {
		t.Fatalf("expected sqlite query untouched, got %q", got)
	}
	if _, err := Open("oracle", "x"); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

type warnLogger struct {
	warnings []string
}

func (l *warnLogger) Debug(any, ...any) {}
func (l *warnLogger) Info(any, ...any)  {}
func (l *warnLogger) Error(any, ...any) {}
func (l *warnLogger) Warn(msg any, _ ...any) {
	l.warnings = append(l.warnings, fmt.Sprint(msg))
}

// loopAround walks the corners of a lat/lng square and returns to the start.
func loopAround(lat, lng, size float64, start time.Time) []domain.GeoPoint {
	corners := square(lat, lng, size).Outer
	corners = append(corners, corners[0])
	out := make([]domain.GeoPoint, 0, len(corners))
	for i, c := range corners {
		out = append(out, domain.GeoPoint{Lat: c.Lat, Lng: c.Lng, CapturedAt: start.Add(time.Duration(i) * time.Minute)})
	}
	return out
}

func TestRepository_ConquestSkipsCorruptOutline(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	index, err := spatial.New(spatial.KindRTree)
	if err != nil {
		t.Fatalf("spatial.New() error = %v", err)
	}
	n := 0
	ids := func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	logger := &warnLogger{}
	svc := app.NewService(repo, index, nil, ids, func() time.Time { return now }, app.DefaultServiceConfig(), app.WithLogger(logger))

	seeded, err := svc.Conquer(ctx, app.ConquerInput{OwnerID: "bob", ActivityID: "run-bob", Points: loopAround(52.5, 13.4, 0.001, now)})
	if err != nil {
		t.Fatalf("Conquer(bob) error = %v", err)
	}
	bobID := seeded.NewTerritory.ID
	if _, err := repo.db.ExecContext(ctx, `UPDATE territories SET polygon_json = ? WHERE id = ?`, `{"type":"Point","coordinates":[13.4,52.5]}`, bobID); err != nil {
		t.Fatalf("corrupt polygon_json error = %v", err)
	}

	result, err := svc.Conquer(ctx, app.ConquerInput{OwnerID: "alice", ActivityID: "run-alice", Points: loopAround(52.5005, 13.4005, 0.001, now)})
	if err != nil {
		t.Fatalf("Conquer(alice) error = %v", err)
	}
	if len(result.Invasions) != 0 || len(result.DeletedTerritoryIDs) != 0 || len(result.ModifiedTerritories) != 0 {
		t.Fatalf("expected corrupt territory skipped, got %#v", result)
	}
	if !slices.Contains(logger.warnings, "skipping territory with malformed geometry") {
		t.Fatalf("expected a skip warning for the corrupt territory, got %v", logger.warnings)
	}
	if _, err := repo.GetTerritory(ctx, result.NewTerritory.ID); err != nil {
		t.Fatalf("GetTerritory(alice) error = %v", err)
	}
	bob, err := repo.GetTerritory(ctx, bobID)
	if err != nil {
		t.Fatalf("GetTerritory(bob) error = %v", err)
	}
	if bob.Version != 1 {
		t.Fatalf("expected corrupt territory untouched, got version %d", bob.Version)
	}
}
