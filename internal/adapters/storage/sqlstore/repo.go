package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/hylla/turf/internal/app"
	"github.com/hylla/turf/internal/domain"
	"github.com/hylla/turf/internal/geometry"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// busyTimeoutMS bounds how long SQLite waits on a locked database.
const busyTimeoutMS = 5000

var memoryDBSeq atomic.Int64

// Repository stores territories, claim events, and invasions.
type Repository struct {
	db     *sql.DB
	driver string
}

// Open opens a repository for the configured driver. For sqlite the target is
// a file path or ":memory:"; for postgres it is a DSN.
func Open(driver, target string) (*Repository, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case DriverSQLite, "":
		if strings.TrimSpace(target) == ":memory:" {
			return OpenSQLiteInMemory()
		}
		return OpenSQLite(target)
	case DriverPostgres:
		return OpenPostgres(target)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// OpenSQLite opens or creates a SQLite database file.
func OpenSQLite(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newRepository(db, DriverSQLite)
}

// OpenSQLiteInMemory opens a private in-memory SQLite database.
func OpenSQLiteInMemory() (*Repository, error) {
	dsn := fmt.Sprintf("file:turf-mem-%d?mode=memory&cache=shared", memoryDBSeq.Add(1))
	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	return newRepository(db, DriverSQLite)
}

// OpenPostgres connects to a Postgres database.
func OpenPostgres(dsn string) (*Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newRepository(db, DriverPostgres)
}

func newRepository(db *sql.DB, driver string) (*Repository, error) {
	if driver == DriverSQLite {
		// One connection serializes conquest transactions.
		db.SetMaxOpenConns(1)
	}
	repo := &Repository{db: db, driver: driver}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Driver returns the database driver name.
func (r *Repository) Driver() string {
	return r.driver
}

// migrate creates the schema.
func (r *Repository) migrate(ctx context.Context) error {
	var stmts []string
	if r.driver == DriverSQLite {
		stmts = append(stmts, `PRAGMA busy_timeout = `+strconv.Itoa(busyTimeoutMS)+`;`)
	}
	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS territories (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			polygon_json TEXT NOT NULL,
			area DOUBLE PRECISION NOT NULL,
			perimeter DOUBLE PRECISION NOT NULL,
			center_lat DOUBLE PRECISION NOT NULL,
			center_lng DOUBLE PRECISION NOT NULL,
			min_lat DOUBLE PRECISION NOT NULL,
			min_lng DOUBLE PRECISION NOT NULL,
			max_lat DOUBLE PRECISION NOT NULL,
			max_lng DOUBLE PRECISION NOT NULL,
			claimed_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			version BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_territories_bbox ON territories(min_lat, max_lat, min_lng, max_lng);`,
		`CREATE INDEX IF NOT EXISTS idx_territories_owner ON territories(owner_id);`,
		`CREATE TABLE IF NOT EXISTS claim_events (
			id TEXT PRIMARY KEY,
			territory_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			previous_owner_id TEXT NOT NULL DEFAULT '',
			new_owner_id TEXT NOT NULL,
			activity_id TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			occurred_at TEXT NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_claim_events_territory ON claim_events(territory_id, occurred_at, seq);`,
		`CREATE TABLE IF NOT EXISTS invasions (
			id TEXT PRIMARY KEY,
			invaded_owner_id TEXT NOT NULL,
			invader_id TEXT NOT NULL,
			invaded_territory_id TEXT NOT NULL,
			resulting_territory_id TEXT,
			overlap_area DOUBLE PRECISION NOT NULL,
			territory_was_destroyed INTEGER NOT NULL DEFAULT 0,
			seen INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_invasions_owner ON invasions(invaded_owner_id, created_at);`,
	)
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const territoryColumns = `id, owner_id, polygon_json, area, perimeter, center_lat, center_lng, claimed_at, updated_at, version`

// GetTerritory returns one territory with its history.
func (r *Repository) GetTerritory(ctx context.Context, id string) (domain.Territory, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+territoryColumns+` FROM territories WHERE id = ?`), id)
	t, err := scanTerritory(row)
	if err != nil {
		return domain.Territory{}, err
	}
	histories, err := r.loadHistories(ctx, r.db, []string{t.ID})
	if err != nil {
		return domain.Territory{}, err
	}
	t.History = histories[t.ID]
	return t, nil
}

// GetTerritories returns the territories that exist among ids.
func (r *Repository) GetTerritories(ctx context.Context, ids []string) ([]domain.Territory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	query := `SELECT ` + territoryColumns + ` FROM territories WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY claimed_at, id`
	return r.queryTerritories(ctx, query, args...)
}

// ListTerritoriesInBounds returns territories whose box intersects bounds.
func (r *Repository) ListTerritoriesInBounds(ctx context.Context, bounds domain.Bounds) ([]domain.Territory, error) {
	query := `SELECT ` + territoryColumns + ` FROM territories WHERE ` + bboxClause + ` ORDER BY claimed_at, id`
	return r.queryTerritories(ctx, query, bboxArgs(bounds)...)
}

// ListTerritoryBounds returns every territory box keyed by id.
func (r *Repository) ListTerritoryBounds(ctx context.Context) (map[string]domain.Bounds, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, min_lat, min_lng, max_lat, max_lng FROM territories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]domain.Bounds{}
	for rows.Next() {
		var (
			id string
			b  domain.Bounds
		)
		if err := rows.Scan(&id, &b.MinLat, &b.MinLng, &b.MaxLat, &b.MaxLng); err != nil {
			return nil, err
		}
		out[id] = b
	}
	return out, rows.Err()
}

// ListInvasions returns invasions against one owner, newest first.
func (r *Repository) ListInvasions(ctx context.Context, ownerID string, limit int) ([]domain.Invasion, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, invaded_owner_id, invader_id, invaded_territory_id, resulting_territory_id, overlap_area, territory_was_destroyed, seen, created_at
		FROM invasions
		WHERE invaded_owner_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`), ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Invasion, 0)
	for rows.Next() {
		inv, err := scanInvasion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// CommitConquest applies one conquest in a single transaction. The basis is
// re-read inside the transaction; any difference returns app.ErrStaleBasis
// and rolls back.
func (r *Repository) CommitConquest(ctx context.Context, w app.ConquestWrite) (err error) {
	tx, err := r.db.BeginTx(ctx, r.txOptions())
	if err != nil {
		return r.translateErr(fmt.Errorf("begin conquest: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if w.Basis.Check {
		if err = r.checkBasis(ctx, tx, w.Basis); err != nil {
			return r.translateErr(err)
		}
	}
	if err = r.insertTerritory(ctx, tx, w.Created); err != nil {
		return r.translateErr(err)
	}
	for _, m := range w.Modified {
		if err = r.updateTerritory(ctx, tx, m); err != nil {
			return r.translateErr(err)
		}
	}
	for _, d := range w.Deleted {
		var res sql.Result
		res, err = tx.ExecContext(ctx, r.rebind(`DELETE FROM territories WHERE id = ? AND version = ?`), d.ID, d.Version)
		if err != nil {
			return r.translateErr(fmt.Errorf("delete territory %s: %w", d.ID, err))
		}
		if err = staleOnNoRows(res); err != nil {
			return err
		}
	}
	for _, inv := range w.Invasions {
		if err = r.insertInvasion(ctx, tx, inv); err != nil {
			return r.translateErr(err)
		}
	}
	for i, ev := range w.ClaimEvents {
		if err = r.insertClaimEvent(ctx, tx, ev, i); err != nil {
			return r.translateErr(err)
		}
	}

	if err = tx.Commit(); err != nil {
		return r.translateErr(fmt.Errorf("commit conquest: %w", err))
	}
	return nil
}

func (r *Repository) txOptions() *sql.TxOptions {
	if r.driver == DriverPostgres {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}

// checkBasis compares committed territories inside the basis box with the
// versions the resolution saw.
func (r *Repository) checkBasis(ctx context.Context, q queryer, basis app.Basis) error {
	rows, err := q.QueryContext(ctx, r.rebind(`SELECT id, version FROM territories WHERE `+bboxClause), bboxArgs(basis.Bounds)...)
	if err != nil {
		return fmt.Errorf("read basis: %w", err)
	}
	defer rows.Close()

	seen := 0
	for rows.Next() {
		var (
			id      string
			version int64
		)
		if err := rows.Scan(&id, &version); err != nil {
			return err
		}
		want, ok := basis.Versions[id]
		if !ok || want != version {
			return app.ErrStaleBasis
		}
		seen++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if seen != len(basis.Versions) {
		return app.ErrStaleBasis
	}
	return nil
}

func (r *Repository) insertTerritory(ctx context.Context, execer execerContext, t domain.Territory) error {
	polygonJSON, err := geometry.MarshalGeoJSON(t.Polygon)
	if err != nil {
		return fmt.Errorf("encode territory polygon: %w", err)
	}
	b := t.Polygon.Bounds()
	_, err = execer.ExecContext(ctx, r.rebind(`
		INSERT INTO territories(id, owner_id, polygon_json, area, perimeter, center_lat, center_lng, min_lat, min_lng, max_lat, max_lng, claimed_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		t.ID,
		t.OwnerID,
		string(polygonJSON),
		t.Area,
		t.Perimeter,
		t.Center.Lat,
		t.Center.Lng,
		b.MinLat,
		b.MinLng,
		b.MaxLat,
		b.MaxLng,
		ts(t.ClaimedAt),
		ts(t.UpdatedAt),
		t.Version,
	)
	if err != nil {
		return fmt.Errorf("insert territory %s: %w", t.ID, err)
	}
	return nil
}

func (r *Repository) updateTerritory(ctx context.Context, execer execerContext, u app.TerritoryUpdate) error {
	t := u.Territory
	polygonJSON, err := geometry.MarshalGeoJSON(t.Polygon)
	if err != nil {
		return fmt.Errorf("encode territory polygon: %w", err)
	}
	b := t.Polygon.Bounds()
	res, err := execer.ExecContext(ctx, r.rebind(`
		UPDATE territories
		SET polygon_json = ?, area = ?, perimeter = ?, center_lat = ?, center_lng = ?, min_lat = ?, min_lng = ?, max_lat = ?, max_lng = ?, updated_at = ?, version = ?
		WHERE id = ? AND version = ?
	`),
		string(polygonJSON),
		t.Area,
		t.Perimeter,
		t.Center.Lat,
		t.Center.Lng,
		b.MinLat,
		b.MinLng,
		b.MaxLat,
		b.MaxLng,
		ts(t.UpdatedAt),
		u.ExpectedVersion+1,
		t.ID,
		u.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update territory %s: %w", t.ID, err)
	}
	return staleOnNoRows(res)
}

func (r *Repository) insertInvasion(ctx context.Context, execer execerContext, inv domain.Invasion) error {
	var resulting any
	if inv.ResultingTerritoryID != nil {
		resulting = *inv.ResultingTerritoryID
	}
	_, err := execer.ExecContext(ctx, r.rebind(`
		INSERT INTO invasions(id, invaded_owner_id, invader_id, invaded_territory_id, resulting_territory_id, overlap_area, territory_was_destroyed, seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		inv.ID,
		inv.InvadedOwnerID,
		inv.InvaderID,
		inv.InvadedTerritoryID,
		resulting,
		inv.OverlapArea,
		boolToInt(inv.TerritoryWasDestroyed),
		boolToInt(inv.Seen),
		ts(inv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert invasion %s: %w", inv.ID, err)
	}
	return nil
}

func (r *Repository) insertClaimEvent(ctx context.Context, execer execerContext, ev domain.ClaimEvent, seq int) error {
	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode claim event metadata: %w", err)
	}
	_, err = execer.ExecContext(ctx, r.rebind(`
		INSERT INTO claim_events(id, territory_id, kind, previous_owner_id, new_owner_id, activity_id, metadata_json, occurred_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		ev.ID,
		ev.TerritoryID,
		string(ev.Kind),
		ev.PreviousOwnerID,
		ev.NewOwnerID,
		ev.ActivityID,
		string(metadataJSON),
		ts(ev.OccurredAt),
		seq,
	)
	if err != nil {
		return fmt.Errorf("insert claim event %s: %w", ev.ID, err)
	}
	return nil
}

func (r *Repository) queryTerritories(ctx context.Context, query string, args ...any) ([]domain.Territory, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Territory, 0)
	ids := make([]string, 0)
	for rows.Next() {
		t, err := scanTerritory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	histories, err := r.loadHistories(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].History = histories[out[i].ID]
	}
	return out, nil
}

// loadHistories returns claim events grouped by territory in append order.
func (r *Repository) loadHistories(ctx context.Context, q queryer, ids []string) (map[string][]domain.ClaimEvent, error) {
	out := make(map[string][]domain.ClaimEvent, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := q.QueryContext(ctx, r.rebind(`
		SELECT id, territory_id, kind, previous_owner_id, new_owner_id, activity_id, metadata_json, occurred_at
		FROM claim_events
		WHERE territory_id IN (`+placeholders(len(ids))+`)
		ORDER BY occurred_at, seq, id
	`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanClaimEvent(rows)
		if err != nil {
			return nil, err
		}
		out[ev.TerritoryID] = append(out[ev.TerritoryID], ev)
	}
	return out, rows.Err()
}

// rebind rewrites ? placeholders for drivers that number them.
func (r *Repository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// translateErr maps driver serialization failures onto app.ErrStaleBasis.
func (r *Repository) translateErr(err error) error {
	if err == nil || errors.Is(err, app.ErrStaleBasis) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "40001" {
		return fmt.Errorf("%w: %v", app.ErrStaleBasis, err)
	}
	return err
}

// bboxClause selects rows whose box intersects a query box, edges included.
const bboxClause = `min_lat <= ? AND max_lat >= ? AND min_lng <= ? AND max_lng >= ?`

func bboxArgs(b domain.Bounds) []any {
	return []any{b.MaxLat, b.MinLat, b.MaxLng, b.MinLng}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// queryer represents a read contract shared by DB and Tx implementations.
type queryer interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

func scanTerritory(s scanner) (domain.Territory, error) {
	var (
		t          domain.Territory
		polygonRaw string
		claimedRaw string
		updatedRaw string
	)
	if err := s.Scan(&t.ID, &t.OwnerID, &polygonRaw, &t.Area, &t.Perimeter, &t.Center.Lat, &t.Center.Lng, &claimedRaw, &updatedRaw, &t.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Territory{}, app.ErrNotFound
		}
		return domain.Territory{}, err
	}
	polygon, err := geometry.UnmarshalGeoJSON([]byte(polygonRaw))
	if err != nil {
		// Resolution skips territories with malformed outlines, so keep the row readable.
		polygon = domain.Polygon{}
	}
	t.Polygon = polygon
	t.ClaimedAt = parseTS(claimedRaw)
	t.UpdatedAt = parseTS(updatedRaw)
	return t, nil
}

func scanClaimEvent(s scanner) (domain.ClaimEvent, error) {
	var (
		ev          domain.ClaimEvent
		kind        string
		metadataRaw string
		occurredRaw string
	)
	if err := s.Scan(&ev.ID, &ev.TerritoryID, &kind, &ev.PreviousOwnerID, &ev.NewOwnerID, &ev.ActivityID, &metadataRaw, &occurredRaw); err != nil {
		return domain.ClaimEvent{}, err
	}
	ev.Kind = domain.ClaimEventKind(kind)
	if strings.TrimSpace(metadataRaw) == "" {
		metadataRaw = "{}"
	}
	if err := json.Unmarshal([]byte(metadataRaw), &ev.Metadata); err != nil {
		return domain.ClaimEvent{}, fmt.Errorf("decode claim event metadata_json: %w", err)
	}
	if len(ev.Metadata) == 0 {
		ev.Metadata = nil
	}
	ev.OccurredAt = parseTS(occurredRaw)
	return ev, nil
}

func scanInvasion(s scanner) (domain.Invasion, error) {
	var (
		inv        domain.Invasion
		resulting  sql.NullString
		destroyed  int64
		seen       int64
		createdRaw string
	)
	if err := s.Scan(&inv.ID, &inv.InvadedOwnerID, &inv.InvaderID, &inv.InvadedTerritoryID, &resulting, &inv.OverlapArea, &destroyed, &seen, &createdRaw); err != nil {
		return domain.Invasion{}, err
	}
	if resulting.Valid {
		id := resulting.String
		inv.ResultingTerritoryID = &id
	}
	inv.TerritoryWasDestroyed = destroyed != 0
	inv.Seen = seen != 0
	inv.CreatedAt = parseTS(createdRaw)
	return inv, nil
}

// staleOnNoRows treats a versioned write that matched nothing as a stale basis.
func staleOnNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrStaleBasis
	}
	return nil
}

// tsLayout keeps a fixed fraction width so stored timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
