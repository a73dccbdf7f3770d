// Package gtfsimport reads route geometry from a GTFS feed imported into
// Postgres, so an existing transit trip can seed a walking-bus route.
package gtfsimport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"walkingbus/internal/domain"
	"walkingbus/internal/route"
)

// ShapePoint is one row of the shapes table.
type ShapePoint struct {
	Lat      float64
	Lon      float64
	Sequence int
}

// TripStop is one stop_times row joined with its stop.
type TripStop struct {
	Sequence int
	StopID   string
	Name     string
	Lat      float64
	Lon      float64
}

// Source loads trips from one import database.
type Source struct {
	db *sql.DB
}

func NewSource(db *sql.DB) *Source { return &Source{db: db} }

// Options shape the document built from a trip.
type Options struct {
	Name string
	Mode domain.TravelMode
	// SchoolAtEnd marks the final stop as the school.
	SchoolAtEnd bool
}

// TripDocument builds a route document from the shape and stops of tripID.
// Trips without a shape fall back to the stop coordinates as polyline.
func (s *Source) TripDocument(ctx context.Context, tripID string, opts Options) (route.Document, error) {
	tripID = strings.TrimSpace(tripID)
	if tripID == "" {
		return route.Document{}, errors.New("trip id is required")
	}
	var shapeID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT shape_id FROM trips WHERE trip_id = $1`, tripID).Scan(&shapeID)
	if errors.Is(err, sql.ErrNoRows) {
		return route.Document{}, fmt.Errorf("trip %q not found", tripID)
	}
	if err != nil {
		return route.Document{}, fmt.Errorf("query trip: %w", err)
	}

	var shape []ShapePoint
	if shapeID.Valid && shapeID.String != "" {
		shape, err = s.FetchShapePoints(ctx, shapeID.String)
		if err != nil {
			return route.Document{}, err
		}
	}
	stops, err := s.FetchTripStops(ctx, tripID)
	if err != nil {
		return route.Document{}, err
	}
	if opts.Name == "" {
		opts.Name = tripID
	}
	return BuildDocument(shape, stops, opts), nil
}

// BuildDocument is the pure part of TripDocument. Consecutive visits of the
// same stop collapse into one waypoint.
func BuildDocument(shape []ShapePoint, stops []TripStop, opts Options) route.Document {
	mode := opts.Mode
	if !mode.Valid() {
		mode = domain.ModeWalking
	}
	doc := route.Document{Name: opts.Name, Mode: mode}

	for _, st := range stops {
		if n := len(doc.Waypoints); n > 0 && doc.Waypoints[n-1].Lat == st.Lat && doc.Waypoints[n-1].Lon == st.Lon {
			continue
		}
		name := st.Name
		if name == "" {
			name = st.StopID
		}
		doc.Waypoints = append(doc.Waypoints, route.Waypoint{Name: name, Kind: domain.StationRegular, Lat: st.Lat, Lon: st.Lon})
	}
	if opts.SchoolAtEnd && len(doc.Waypoints) > 0 {
		doc.Waypoints[len(doc.Waypoints)-1].Kind = domain.StationSchool
	}

	if len(shape) >= 2 {
		doc.Polyline = make([]domain.Point, len(shape))
		for i, p := range shape {
			doc.Polyline[i] = domain.Point{Lat: p.Lat, Lon: p.Lon}
		}
		return doc
	}
	doc.Polyline = make([]domain.Point, len(doc.Waypoints))
	for i, w := range doc.Waypoints {
		doc.Polyline[i] = w.Point()
	}
	return doc
}

// shapeQuery picks the shapes query for the detected column layout: plain
// lat/lon columns or a PostGIS shape_pt_loc geography.
func shapeQuery(cols map[string]bool) (string, error) {
	if cols["shape_pt_lat"] && cols["shape_pt_lon"] {
		return `SELECT shape_pt_lat, shape_pt_lon, shape_pt_sequence
             FROM shapes WHERE shape_id = $1 ORDER BY shape_pt_sequence`, nil
	}
	if cols["shape_pt_loc"] {
		return `SELECT ST_Y(shape_pt_loc::geometry) AS lat,
                    ST_X(shape_pt_loc::geometry) AS lon,
                    shape_pt_sequence
             FROM shapes WHERE shape_id = $1 ORDER BY shape_pt_sequence`, nil
	}
	return "", fmt.Errorf("shapes table missing expected columns (lat/lon or shape_pt_loc)")
}

// stopsQuery prefers stop_lat/stop_lon and falls back to a PostGIS stop_loc.
func stopsQuery(cols map[string]bool) (string, error) {
	var latlon string
	switch {
	case cols["stop_lat"] && cols["stop_lon"]:
		latlon = `COALESCE(s.stop_lat, 0), COALESCE(s.stop_lon, 0)`
	case cols["stop_loc"]:
		latlon = `COALESCE(ST_Y(s.stop_loc::geometry), 0), COALESCE(ST_X(s.stop_loc::geometry), 0)`
	default:
		return "", fmt.Errorf("stops table missing expected columns (stop_lat/lon or stop_loc)")
	}
	return `SELECT st.stop_sequence,
                    st.stop_id,
                    COALESCE(s.stop_name, ''),
                    ` + latlon + `
             FROM stop_times st
             JOIN stops s ON s.stop_id = st.stop_id
             WHERE st.trip_id = $1
             ORDER BY st.stop_sequence`, nil
}

func (s *Source) FetchShapePoints(ctx context.Context, shapeID string) ([]ShapePoint, error) {
	cols, err := hasColumns(ctx, s.db, "public", "shapes", "shape_pt_lat", "shape_pt_lon", "shape_pt_loc")
	if err != nil {
		return nil, fmt.Errorf("introspect shapes columns: %w", err)
	}
	q, err := shapeQuery(cols)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, shapeID)
	if err != nil {
		return nil, fmt.Errorf("query shapes: %w", err)
	}
	defer rows.Close()
	var pts []ShapePoint
	for rows.Next() {
		var p ShapePoint
		if err := rows.Scan(&p.Lat, &p.Lon, &p.Sequence); err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

func (s *Source) FetchTripStops(ctx context.Context, tripID string) ([]TripStop, error) {
	cols, err := hasColumns(ctx, s.db, "public", "stops", "stop_lat", "stop_lon", "stop_loc")
	if err != nil {
		return nil, fmt.Errorf("introspect stops columns: %w", err)
	}
	q, err := stopsQuery(cols)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, tripID)
	if err != nil {
		return nil, fmt.Errorf("query stop_times: %w", err)
	}
	defer rows.Close()
	var out []TripStop
	for rows.Next() {
		var st TripStop
		if err := rows.Scan(&st.Sequence, &st.StopID, &st.Name, &st.Lat, &st.Lon); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
