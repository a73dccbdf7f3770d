package gtfsimport

import (
	"strings"
	"testing"

	"walkingbus/internal/domain"
	"walkingbus/internal/route"
)

func TestWithDBName(t *testing.T) {
	tests := []struct {
		dsn, name, want string
		wantErr         bool
	}{
		{"postgres://u:p@h:5432/postgres?sslmode=disable", "gtfs_braga_20260301", "postgres://u:p@h:5432/gtfs_braga_20260301?sslmode=disable", false},
		{"postgresql://h/db", "/other", "postgresql://h/other", false},
		{"u@h:5432/db", "x", "postgres://u@h:5432/x", false},
		{"", "x", "", true},
		{"mysql://h/db", "x", "", true},
		{"postgres://h/db", " ", "", true},
	}
	for _, tt := range tests {
		got, err := WithDBName(tt.dsn, tt.name)
		if (err != nil) != tt.wantErr {
			t.Fatalf("WithDBName(%q, %q) err = %v", tt.dsn, tt.name, err)
		}
		if got != tt.want {
			t.Errorf("WithDBName(%q, %q) = %q, want %q", tt.dsn, tt.name, got, tt.want)
		}
	}
}

func TestShapeQueryLayouts(t *testing.T) {
	q, err := shapeQuery(map[string]bool{"shape_pt_lat": true, "shape_pt_lon": true})
	if err != nil || !strings.Contains(q, "shape_pt_lat") {
		t.Fatalf("lat/lon layout: %q, %v", q, err)
	}
	q, err = shapeQuery(map[string]bool{"shape_pt_loc": true})
	if err != nil || !strings.Contains(q, "ST_Y(shape_pt_loc::geometry)") {
		t.Fatalf("postgis layout: %q, %v", q, err)
	}
	if _, err := shapeQuery(map[string]bool{"shape_pt_lat": true}); err == nil {
		t.Fatal("expected error for partial layout")
	}
}

func TestStopsQueryLayouts(t *testing.T) {
	q, err := stopsQuery(map[string]bool{"stop_lat": true, "stop_lon": true, "stop_loc": true})
	if err != nil || !strings.Contains(q, "s.stop_lat") || strings.Contains(q, "stop_loc") {
		t.Fatalf("lat/lon layout: %q, %v", q, err)
	}
	q, err = stopsQuery(map[string]bool{"stop_loc": true})
	if err != nil || !strings.Contains(q, "ST_X(s.stop_loc::geometry)") {
		t.Fatalf("postgis layout: %q, %v", q, err)
	}
	if _, err := stopsQuery(nil); err == nil {
		t.Fatal("expected error for missing columns")
	}
}

func TestBuildDocumentFromShape(t *testing.T) {
	shape := []ShapePoint{{41.0, -8.0, 1}, {41.001, -8.0, 2}, {41.002, -8.0, 3}}
	stops := []TripStop{
		{Sequence: 1, StopID: "S1", Name: "Praça", Lat: 41.0, Lon: -8.0},
		{Sequence: 2, StopID: "S1", Name: "Praça", Lat: 41.0, Lon: -8.0},
		{Sequence: 3, StopID: "S2", Lat: 41.002, Lon: -8.0},
	}
	doc := BuildDocument(shape, stops, Options{Name: "Line 7", SchoolAtEnd: true})

	if doc.Name != "Line 7" || doc.Mode != domain.ModeWalking {
		t.Fatalf("doc header = %q %q", doc.Name, doc.Mode)
	}
	if len(doc.Polyline) != 3 || doc.Polyline[2].Lat != 41.002 {
		t.Fatalf("polyline = %+v", doc.Polyline)
	}
	want := []route.Waypoint{
		{Name: "Praça", Kind: domain.StationRegular, Lat: 41.0, Lon: -8.0},
		{Name: "S2", Kind: domain.StationSchool, Lat: 41.002, Lon: -8.0},
	}
	if len(doc.Waypoints) != len(want) {
		t.Fatalf("waypoints = %+v", doc.Waypoints)
	}
	for i := range want {
		if doc.Waypoints[i] != want[i] {
			t.Errorf("waypoint %d = %+v, want %+v", i, doc.Waypoints[i], want[i])
		}
	}
}

func TestBuildDocumentWithoutShapeUsesStops(t *testing.T) {
	stops := []TripStop{
		{StopID: "A", Lat: 1, Lon: 1},
		{StopID: "B", Lat: 1, Lon: 2},
		{StopID: "C", Lat: 1, Lon: 3},
	}
	doc := BuildDocument(nil, stops, Options{Mode: domain.ModeBiking})
	if doc.Mode != domain.ModeBiking || len(doc.Polyline) != 3 || doc.Polyline[1] != (domain.Point{Lat: 1, Lon: 2}) {
		t.Fatalf("doc = %+v", doc)
	}

	res, err := route.Ingest(doc.Polyline, doc.Waypoints, doc.Mode, route.DefaultEstimator())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(res.Stops) != 3 || res.Stops[0].DistanceFromStartMeters != 0 || res.Stops[2].DistanceFromStartMeters <= res.Stops[1].DistanceFromStartMeters {
		t.Fatalf("stops = %+v", res.Stops)
	}
}
