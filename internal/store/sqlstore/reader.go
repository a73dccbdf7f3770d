package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"walkingbus/internal/domain"
	"walkingbus/internal/store"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type reader struct {
	q querier
	d dialect
}

func (r reader) Session(ctx context.Context, id string) (domain.ActivitySession, error) {
	var (
		s                 domain.ActivitySession
		typ, mode         string
		scheduled         int64
		started, finished sql.NullInt64
		weatherTemp       sql.NullFloat64
		weatherCondition  sql.NullString
	)
	err := r.q.QueryRowContext(ctx, r.d.rebind(`
SELECT id, route_id, type, mode, city, scheduled_at, started_at, finished_at, started_by, weather_temp_c, weather_condition
FROM activity_sessions WHERE id = ?`), id).
		Scan(&s.ID, &s.RouteID, &typ, &mode, &s.City, &scheduled, &started, &finished, &s.StartedBy, &weatherTemp, &weatherCondition)
	if errors.Is(err, sql.ErrNoRows) {
		return s, store.ErrNotFound
	}
	if err != nil {
		return s, fmt.Errorf("query session %s: %w", id, err)
	}
	s.Type = domain.SessionType(typ)
	s.Mode = domain.TravelMode(mode)
	s.ScheduledAt = fromMillis(scheduled)
	s.StartedAt = timePtr(started)
	s.FinishedAt = timePtr(finished)
	if weatherTemp.Valid || weatherCondition.Valid {
		s.Weather = &domain.Weather{TemperatureC: weatherTemp.Float64, Condition: weatherCondition.String}
	}
	return s, nil
}

func (r reader) IsInstructorAssigned(ctx context.Context, sessionID, personID string) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx, r.d.rebind("SELECT 1 FROM session_instructors WHERE session_id = ? AND instructor_id = ?"), sessionID, personID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query instructor assignment: %w", err)
	}
	return true, nil
}

func (r reader) Route(ctx context.Context, id string) (domain.Route, error) {
	var (
		rt   domain.Route
		mode string
	)
	err := r.q.QueryRowContext(ctx, r.d.rebind(`
SELECT id, name, mode, total_distance_m, min_lat, max_lat, min_lon, max_lon FROM routes WHERE id = ?`), id).
		Scan(&rt.ID, &rt.Name, &mode, &rt.TotalDistanceMeters,
			&rt.BoundingBox.MinLat, &rt.BoundingBox.MaxLat, &rt.BoundingBox.MinLon, &rt.BoundingBox.MaxLon)
	if errors.Is(err, sql.ErrNoRows) {
		return rt, store.ErrNotFound
	}
	if err != nil {
		return rt, fmt.Errorf("query route %s: %w", id, err)
	}
	rt.Mode = domain.TravelMode(mode)
	return rt, nil
}

func (r reader) RouteStops(ctx context.Context, routeID string) ([]domain.RouteStop, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`
SELECT route_id, station_id, stop_number, distance_from_start_m, distance_from_previous_m, time_from_start_min
FROM route_stops WHERE route_id = ? ORDER BY stop_number`), routeID)
	if err != nil {
		return nil, fmt.Errorf("query route stops: %w", err)
	}
	defer rows.Close()
	var out []domain.RouteStop
	for rows.Next() {
		var st domain.RouteStop
		if err := rows.Scan(&st.RouteID, &st.StationID, &st.StopNumber, &st.DistanceFromStartMeters,
			&st.DistanceFromPreviousMeters, &st.TimeFromStartMinutes); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r reader) Station(ctx context.Context, id string) (domain.Station, error) {
	var (
		st   domain.Station
		kind string
	)
	err := r.q.QueryRowContext(ctx, r.d.rebind("SELECT id, name, kind, lat, lon FROM stations WHERE id = ?"), id).
		Scan(&st.ID, &st.Name, &kind, &st.Lat, &st.Lon)
	if errors.Is(err, sql.ErrNoRows) {
		return st, store.ErrNotFound
	}
	if err != nil {
		return st, fmt.Errorf("query station %s: %w", id, err)
	}
	st.Kind = domain.StationKind(kind)
	return st, nil
}

func (r reader) Visits(ctx context.Context, sessionID string) ([]domain.StationVisit, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`
SELECT session_id, station_id, stop_number, arrived_at, left_at
FROM station_visits WHERE session_id = ? ORDER BY stop_number`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()
	var out []domain.StationVisit
	for rows.Next() {
		var (
			v             domain.StationVisit
			arrived, left sql.NullInt64
		)
		if err := rows.Scan(&v.SessionID, &v.StationID, &v.StopNumber, &arrived, &left); err != nil {
			return nil, err
		}
		v.ArrivedAt = timePtr(arrived)
		v.LeftAt = timePtr(left)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r reader) Attendance(ctx context.Context, sessionID string) ([]domain.Attendance, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`
SELECT id, person_id, role, station_id, session_id, direction, registered_at
FROM attendance WHERE session_id = ? ORDER BY registered_at, id`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()
	var out []domain.Attendance
	for rows.Next() {
		var (
			a               domain.Attendance
			role, direction string
			at              int64
		)
		if err := rows.Scan(&a.ID, &a.PersonID, &role, &a.StationID, &a.SessionID, &direction, &at); err != nil {
			return nil, err
		}
		a.Role = domain.Role(role)
		a.Direction = domain.Direction(direction)
		a.RegisteredAt = fromMillis(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r reader) Registrations(ctx context.Context, sessionID string) ([]domain.Registration, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`
SELECT session_id, person_id, role, pickup_station_id, dropoff_station_id
FROM session_registrations WHERE session_id = ? ORDER BY person_id`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	defer rows.Close()
	var out []domain.Registration
	for rows.Next() {
		var (
			reg  domain.Registration
			role string
		)
		if err := rows.Scan(&reg.SessionID, &reg.PersonID, &role, &reg.PickupStationID, &reg.DropoffStationID); err != nil {
			return nil, err
		}
		reg.Role = domain.Role(role)
		out = append(out, reg)
	}
	return out, rows.Err()
}

// tx adds the guarded writes on top of the transaction's reader.
type tx struct {
	reader
}

func (t *tx) MarkStarted(ctx context.Context, sessionID string, at time.Time, by string, weather *domain.Weather) error {
	var (
		temp      sql.NullFloat64
		condition sql.NullString
	)
	if weather != nil {
		temp = sql.NullFloat64{Float64: weather.TemperatureC, Valid: true}
		condition = sql.NullString{String: weather.Condition, Valid: true}
	}
	res, err := t.q.ExecContext(ctx, t.d.rebind(`
UPDATE activity_sessions SET started_at = ?, started_by = ?, weather_temp_c = ?, weather_condition = ?
WHERE id = ? AND started_at IS NULL`),
		toMillis(at), by, temp, condition, sessionID)
	if err != nil {
		return fmt.Errorf("mark session %s started: %w", sessionID, err)
	}
	return expectOne(res)
}

func (t *tx) MarkFinished(ctx context.Context, sessionID string, at time.Time) error {
	res, err := t.q.ExecContext(ctx, t.d.rebind(`
UPDATE activity_sessions SET finished_at = ? WHERE id = ? AND finished_at IS NULL`),
		toMillis(at), sessionID)
	if err != nil {
		return fmt.Errorf("mark session %s finished: %w", sessionID, err)
	}
	return expectOne(res)
}

func (t *tx) UpsertVisit(ctx context.Context, v domain.StationVisit) error {
	_, err := t.q.ExecContext(ctx, t.d.rebind(`
INSERT INTO station_visits (session_id, stop_number, station_id, arrived_at, left_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (session_id, stop_number) DO UPDATE SET
    station_id = excluded.station_id, arrived_at = excluded.arrived_at, left_at = excluded.left_at`),
		v.SessionID, v.StopNumber, v.StationID, nullMillis(v.ArrivedAt), nullMillis(v.LeftAt))
	if err != nil {
		return fmt.Errorf("upsert visit %s/%d: %w", v.SessionID, v.StopNumber, err)
	}
	return nil
}

func (t *tx) InsertAttendance(ctx context.Context, a domain.Attendance) error {
	_, err := t.q.ExecContext(ctx, t.d.rebind(`
INSERT INTO attendance (id, session_id, person_id, role, station_id, direction, registered_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.SessionID, a.PersonID, string(a.Role), a.StationID, string(a.Direction), toMillis(a.RegisteredAt))
	if err != nil {
		return fmt.Errorf("insert attendance %s: %w", a.ID, err)
	}
	return nil
}

func (t *tx) DeleteAttendance(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, t.d.rebind("DELETE FROM attendance WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete attendance %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return store.ErrConflict
	}
	return nil
}
