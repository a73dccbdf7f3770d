// Package route turns raw path data into the ordered, distance-annotated
// stop sequence the session engine walks through.
package route

import (
	"math"
	"sort"
	"strings"

	"walkingbus/internal/apperr"
	"walkingbus/internal/domain"
	"walkingbus/internal/geo"
)

// Waypoint is a named candidate stop supplied alongside the polyline.
type Waypoint struct {
	Name string             `json:"name"`
	Kind domain.StationKind `json:"kind,omitempty"`
	Lat  float64            `json:"lat"`
	Lon  float64            `json:"lon"`
}

func (w Waypoint) Point() domain.Point { return domain.Point{Lat: w.Lat, Lon: w.Lon} }

// Stop is a waypoint placed on the route.
type Stop struct {
	Waypoint                   Waypoint `json:"waypoint"`
	StopNumber                 int      `json:"stopNumber"`
	DistanceFromStartMeters    int      `json:"distanceFromStartMeters"`
	DistanceFromPreviousMeters int      `json:"distanceFromPreviousMeters"`
	TimeFromStartMinutes       int      `json:"timeFromStartMinutes"`
	PolylineIndex              int      `json:"polylineIndex"`
}

// Result is the output of Ingest.
type Result struct {
	Stops               []Stop             `json:"stops"`
	BoundingBox         domain.BoundingBox `json:"boundingBox"`
	TotalDistanceMeters int                `json:"totalDistanceMeters"`
}

type matched struct {
	wp    Waypoint
	idx   int
	along float64
}

// Ingest orders waypoints along the polyline by snapping each one to its
// nearest vertex. It is deterministic and performs no I/O.
func Ingest(polyline []domain.Point, waypoints []Waypoint, mode domain.TravelMode, est Estimator) (Result, error) {
	if len(polyline) < 2 {
		return Result{}, apperr.Newf(apperr.CodeInvalidRoute, "polyline needs at least 2 points, got %d", len(polyline))
	}
	for i, p := range polyline {
		if !geo.ValidPoint(p) {
			return Result{}, apperr.Newf(apperr.CodeInvalidRoute, "polyline point %d is not a valid coordinate", i)
		}
	}
	cum := geo.CumDistances(polyline)

	ms := make([]matched, 0, len(waypoints))
	for i, wp := range waypoints {
		if !geo.ValidPoint(wp.Point()) {
			return Result{}, apperr.Newf(apperr.CodeInvalidRoute, "waypoint %d (%q) is not a valid coordinate", i, wp.Name)
		}
		if strings.TrimSpace(wp.Name) == "" {
			return Result{}, apperr.Newf(apperr.CodeInvalidRoute, "waypoint %d has no name", i)
		}
		if wp.Kind == "" {
			wp.Kind = domain.StationRegular
		}
		idx := geo.NearestVertex(polyline, wp.Point())
		ms = append(ms, matched{wp: wp, idx: idx, along: cum[idx]})
	}
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].along < ms[j].along })

	if len(ms) < 2 {
		return Result{}, apperr.Newf(apperr.CodeInsufficientStops, "route needs at least 2 stops, got %d", len(ms))
	}

	// Distances are relative to the first stop, truncated per leg so that
	// the running sum and the per-leg values always agree.
	base := ms[0].along
	stops := make([]Stop, len(ms))
	fromStart := 0
	for i, m := range ms {
		prev := 0
		if i > 0 {
			step := (m.along - base) - (ms[i-1].along - base)
			prev = int(math.Max(0, math.Floor(step)))
		}
		fromStart += prev
		stops[i] = Stop{
			Waypoint:                   m.wp,
			StopNumber:                 i + 1,
			DistanceFromStartMeters:    fromStart,
			DistanceFromPreviousMeters: prev,
			TimeFromStartMinutes:       est.Minutes(fromStart, mode),
			PolylineIndex:              m.idx,
		}
	}

	return Result{
		Stops:               stops,
		BoundingBox:         geo.Bounds(polyline),
		TotalDistanceMeters: int(math.Floor(cum[len(cum)-1])),
	}, nil
}
