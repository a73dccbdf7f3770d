package route

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"walkingbus/internal/apperr"
	"walkingbus/internal/domain"
)

// Document is a raw route as handed to the ingestion pipeline.
type Document struct {
	Name      string            `json:"name"`
	Mode      domain.TravelMode `json:"mode"`
	Polyline  []domain.Point    `json:"-"`
	Waypoints []Waypoint        `json:"waypoints"`
}

type nativeDoc struct {
	Name      string            `json:"name"`
	Mode      domain.TravelMode `json:"mode"`
	Polyline  [][2]float64      `json:"polyline"`
	Waypoints []Waypoint        `json:"waypoints"`
}

type geoJSONDoc struct {
	Type       string           `json:"type"`
	Properties map[string]any   `json:"properties"`
	Features   []geoJSONFeature `json:"features"`
}

type geoJSONFeature struct {
	Geometry struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Decode reads either the native route document
// ({"polyline": [[lat, lon], ...], "waypoints": [...]}) or a GeoJSON
// FeatureCollection holding one LineString and named Point features.
func Decode(r io.Reader) (Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Document{}, fmt.Errorf("read route document: %w", err)
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Document{}, apperr.Wrap(apperr.CodeInvalidRoute, "route document is not valid JSON", err)
	}
	if probe.Type == "FeatureCollection" {
		return decodeGeoJSON(raw)
	}
	return decodeNative(raw)
}

func decodeNative(raw []byte) (Document, error) {
	var nd nativeDoc
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&nd); err != nil {
		return Document{}, apperr.Wrap(apperr.CodeInvalidRoute, "decode route document", err)
	}
	doc := Document{Name: nd.Name, Mode: nd.Mode, Waypoints: nd.Waypoints}
	for _, c := range nd.Polyline {
		doc.Polyline = append(doc.Polyline, domain.Point{Lat: c[0], Lon: c[1]})
	}
	return doc, nil
}

func decodeGeoJSON(raw []byte) (Document, error) {
	var gd geoJSONDoc
	if err := json.Unmarshal(raw, &gd); err != nil {
		return Document{}, apperr.Wrap(apperr.CodeInvalidRoute, "decode GeoJSON", err)
	}
	doc := Document{
		Name: stringProp(gd.Properties, "name"),
		Mode: domain.TravelMode(stringProp(gd.Properties, "mode")),
	}
	for i, f := range gd.Features {
		switch f.Geometry.Type {
		case "LineString":
			if doc.Polyline != nil {
				return Document{}, apperr.New(apperr.CodeInvalidRoute, "GeoJSON holds more than one LineString")
			}
			var coords [][]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &coords); err != nil {
				return Document{}, apperr.Wrap(apperr.CodeInvalidRoute, fmt.Sprintf("feature %d coordinates", i), err)
			}
			doc.Polyline = make([]domain.Point, 0, len(coords))
			for _, c := range coords {
				if len(c) < 2 {
					return Document{}, apperr.Newf(apperr.CodeInvalidRoute, "feature %d has a short position", i)
				}
				// GeoJSON positions are [lon, lat].
				doc.Polyline = append(doc.Polyline, domain.Point{Lat: c[1], Lon: c[0]})
			}
			if doc.Name == "" {
				doc.Name = stringProp(f.Properties, "name")
			}
		case "Point":
			var c []float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &c); err != nil || len(c) < 2 {
				return Document{}, apperr.Newf(apperr.CodeInvalidRoute, "feature %d is not a valid Point", i)
			}
			doc.Waypoints = append(doc.Waypoints, Waypoint{
				Name: stringProp(f.Properties, "name"),
				Kind: domain.StationKind(stringProp(f.Properties, "kind")),
				Lat:  c[1],
				Lon:  c[0],
			})
		}
	}
	return doc, nil
}

func stringProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}
