package route

import (
	"strings"
	"testing"

	"walkingbus/internal/apperr"
	"walkingbus/internal/domain"
)

func TestDecodeNative(t *testing.T) {
	in := `{
	  "name": "Linha Verde",
	  "mode": "walking",
	  "polyline": [[41.54, -8.42], [41.55, -8.43]],
	  "waypoints": [
	    {"name": "A", "lat": 41.54, "lon": -8.42},
	    {"name": "Escola", "kind": "school", "lat": 41.55, "lon": -8.43}
	  ]
	}`
	doc, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if doc.Name != "Linha Verde" || doc.Mode != domain.ModeWalking {
		t.Fatalf("header = %+v", doc)
	}
	if len(doc.Polyline) != 2 || doc.Polyline[1] != (domain.Point{Lat: 41.55, Lon: -8.43}) {
		t.Fatalf("polyline = %+v", doc.Polyline)
	}
	if len(doc.Waypoints) != 2 || doc.Waypoints[1].Kind != domain.StationSchool {
		t.Fatalf("waypoints = %+v", doc.Waypoints)
	}
}

func TestDecodeGeoJSONSwapsAxes(t *testing.T) {
	in := `{
	  "type": "FeatureCollection",
	  "properties": {"name": "Bike Train Norte", "mode": "biking"},
	  "features": [
	    {"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[-8.42, 41.54], [-8.43, 41.55]]}, "properties": {}},
	    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [-8.42, 41.54]}, "properties": {"name": "A"}},
	    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [-8.43, 41.55]}, "properties": {"name": "Escola", "kind": "school"}}
	  ]
	}`
	doc, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if doc.Mode != domain.ModeBiking || doc.Name != "Bike Train Norte" {
		t.Fatalf("header = %+v", doc)
	}
	if doc.Polyline[0] != (domain.Point{Lat: 41.54, Lon: -8.42}) {
		t.Fatalf("polyline[0] = %+v", doc.Polyline[0])
	}
	if doc.Waypoints[1].Lat != 41.55 || doc.Waypoints[1].Name != "Escola" {
		t.Fatalf("waypoint = %+v", doc.Waypoints[1])
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"not json", `{"polyline": "x"}`, `{"unknown": 1}`} {
		if _, err := Decode(strings.NewReader(in)); !apperr.HasCode(err, apperr.CodeInvalidRoute) {
			t.Errorf("Decode(%q) err = %v", in, err)
		}
	}
}
