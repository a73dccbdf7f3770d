// Package sqlstore persists the engine state in Postgres (pgx) or SQLite
// (modernc). Both dialects share one schema; timestamps are unix millis.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"walkingbus/internal/domain"
	"walkingbus/internal/store"
	"walkingbus/internal/store/sqlstore/migrations"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type dialect struct {
	name        string
	dollarArgs  bool
	sessionLock string
}

var (
	postgresDialect = dialect{name: DriverPostgres, dollarArgs: true, sessionLock: " FOR UPDATE"}
	sqliteDialect   = dialect{name: DriverSQLite}
)

// rebind turns ? placeholders into $n for Postgres.
func (d dialect) rebind(q string) string {
	if !d.dollarArgs {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// Store implements store.Store over database/sql.
type Store struct {
	reader
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects with the given driver and applies the embedded migrations.
// For sqlite, dsn is a file path.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		d   dialect
		err error
	)
	switch driver {
	case DriverPostgres:
		d = postgresDialect
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	case DriverSQLite:
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		d = sqliteDialect
		db, err = sql.Open("sqlite", filepath.Clean(dsn)+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate")
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// One writer at a time; transactions are the serialization point.
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}

	s := &Store{reader: reader{q: db, d: d}, db: db}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := applyMigrations(ctx, db, d, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) InSession(ctx context.Context, sessionID string, fn func(store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	var id string
	err = sqlTx.QueryRowContext(ctx, s.d.rebind("SELECT id FROM activity_sessions WHERE id = ?"+s.d.sessionLock), sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock session %s: %w", sessionID, err)
	}

	if err := fn(&tx{reader: reader{q: sqlTx, d: s.d}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) SaveRoute(ctx context.Context, draft store.RouteDraft) ([]domain.Station, error) {
	if len(draft.Stations) != len(draft.Stops) {
		return nil, fmt.Errorf("route %s: %d stations for %d stops", draft.Route.ID, len(draft.Stations), len(draft.Stops))
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	r := draft.Route
	bb := r.BoundingBox
	if _, err := sqlTx.ExecContext(ctx, s.d.rebind(`
INSERT INTO routes (id, name, mode, total_distance_m, min_lat, max_lat, min_lon, max_lon)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name, mode = excluded.mode, total_distance_m = excluded.total_distance_m,
    min_lat = excluded.min_lat, max_lat = excluded.max_lat, min_lon = excluded.min_lon, max_lon = excluded.max_lon`),
		r.ID, r.Name, string(r.Mode), r.TotalDistanceMeters, bb.MinLat, bb.MaxLat, bb.MinLon, bb.MaxLon,
	); err != nil {
		return nil, fmt.Errorf("upsert route %s: %w", r.ID, err)
	}
	if _, err := sqlTx.ExecContext(ctx, s.d.rebind("DELETE FROM route_stops WHERE route_id = ?"), r.ID); err != nil {
		return nil, fmt.Errorf("clear route stops: %w", err)
	}

	resolved := make([]domain.Station, len(draft.Stations))
	for i, st := range draft.Stations {
		var existing domain.Station
		var kind string
		err := sqlTx.QueryRowContext(ctx, s.d.rebind("SELECT id, name, kind, lat, lon FROM stations WHERE lat = ? AND lon = ?"), st.Lat, st.Lon).
			Scan(&existing.ID, &existing.Name, &kind, &existing.Lat, &existing.Lon)
		switch {
		case err == nil:
			existing.Kind = domain.StationKind(kind)
			st = existing
		case errors.Is(err, sql.ErrNoRows):
			if st.ID == "" {
				st.ID = uuid.NewString()
			}
			if _, err := sqlTx.ExecContext(ctx, s.d.rebind("INSERT INTO stations (id, name, kind, lat, lon) VALUES (?, ?, ?, ?, ?)"),
				st.ID, st.Name, string(st.Kind), st.Lat, st.Lon); err != nil {
				return nil, fmt.Errorf("insert station %q: %w", st.Name, err)
			}
		default:
			return nil, fmt.Errorf("lookup station %q: %w", st.Name, err)
		}
		resolved[i] = st

		stop := draft.Stops[i]
		if _, err := sqlTx.ExecContext(ctx, s.d.rebind(`
INSERT INTO route_stops (route_id, stop_number, station_id, distance_from_start_m, distance_from_previous_m, time_from_start_min)
VALUES (?, ?, ?, ?, ?, ?)`),
			r.ID, stop.StopNumber, st.ID, stop.DistanceFromStartMeters, stop.DistanceFromPreviousMeters, stop.TimeFromStartMinutes,
		); err != nil {
			return nil, fmt.Errorf("insert stop %d: %w", stop.StopNumber, err)
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit route %s: %w", r.ID, err)
	}
	return resolved, nil
}

func (s *Store) CreateSession(ctx context.Context, sess domain.ActivitySession, instructorIDs []string) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if _, err := sqlTx.ExecContext(ctx, s.d.rebind(`
INSERT INTO activity_sessions (id, route_id, type, mode, city, scheduled_at)
VALUES (?, ?, ?, ?, ?, ?)`),
		sess.ID, sess.RouteID, string(sess.Type), string(sess.Mode), sess.City, toMillis(sess.ScheduledAt),
	); err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	for _, id := range instructorIDs {
		if _, err := sqlTx.ExecContext(ctx, s.d.rebind("INSERT INTO session_instructors (session_id, instructor_id) VALUES (?, ?)"), sess.ID, id); err != nil {
			return fmt.Errorf("assign instructor %s: %w", id, err)
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) Register(ctx context.Context, r domain.Registration) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
INSERT INTO session_registrations (session_id, person_id, role, pickup_station_id, dropoff_station_id)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (session_id, person_id) DO UPDATE SET
    role = excluded.role, pickup_station_id = excluded.pickup_station_id, dropoff_station_id = excluded.dropoff_station_id`),
		r.SessionID, r.PersonID, string(r.Role), r.PickupStationID, r.DropoffStationID,
	)
	if err != nil {
		return fmt.Errorf("register %s in %s: %w", r.PersonID, r.SessionID, err)
	}
	return nil
}

func (s *Store) SaveParticipation(ctx context.Context, ps []domain.Participation) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	for _, p := range ps {
		if _, err := sqlTx.ExecContext(ctx, s.d.rebind(`
INSERT INTO participations (session_id, child_id, distance_m, finished_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (session_id, child_id) DO UPDATE SET distance_m = excluded.distance_m, finished_at = excluded.finished_at`),
			p.SessionID, p.ChildID, p.DistanceMeters, toMillis(p.FinishedAt),
		); err != nil {
			return fmt.Errorf("save participation %s/%s: %w", p.SessionID, p.ChildID, err)
		}
	}
	return sqlTx.Commit()
}

func (s *Store) ChildTotals(ctx context.Context, childID string) (domain.ChildTotals, error) {
	totals := domain.ChildTotals{ChildID: childID}
	err := s.db.QueryRowContext(ctx, s.d.rebind("SELECT COUNT(*), COALESCE(SUM(distance_m), 0) FROM participations WHERE child_id = ?"), childID).
		Scan(&totals.Sessions, &totals.DistanceMeters)
	if err != nil {
		return totals, fmt.Errorf("child totals %s: %w", childID, err)
	}
	return totals, nil
}

func (s *Store) AwardBadge(ctx context.Context, b domain.Badge) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`
INSERT INTO badges (child_id, code, awarded_at) VALUES (?, ?, ?)
ON CONFLICT (child_id, code) DO NOTHING`),
		b.ChildID, b.Code, toMillis(b.AwardedAt),
	)
	if err != nil {
		return false, fmt.Errorf("award badge %s to %s: %w", b.Code, b.ChildID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
