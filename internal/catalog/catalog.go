// Package catalog holds the admin-side writes that feed the engine: route
// ingestion, session scheduling and enrolment.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"walkingbus/internal/apperr"
	"walkingbus/internal/domain"
	"walkingbus/internal/route"
	"walkingbus/internal/store"
)

// Metrics receives catalog outcomes.
type Metrics interface {
	RouteIngested()
}

// Store is the persistence the catalog needs.
type Store interface {
	store.Reader
	store.Catalog
}

type Catalog struct {
	store   Store
	est     route.Estimator
	metrics Metrics
	logger  *slog.Logger
}

func New(st Store, est route.Estimator, m Metrics, logger *slog.Logger) *Catalog {
	return &Catalog{store: st, est: est, metrics: m, logger: logger.With("component", "catalog")}
}

// Stop is a route stop joined with its station.
type Stop struct {
	domain.RouteStop
	Station domain.Station `json:"station"`
}

// RouteView is a route with its stop sequence.
type RouteView struct {
	Route domain.Route `json:"route"`
	Stops []Stop       `json:"stops"`
}

// ImportRoute runs the ingestion pipeline over doc and replaces the stop
// sequence of routeID. An empty routeID creates a new route.
func (c *Catalog) ImportRoute(ctx context.Context, routeID string, doc route.Document) (RouteView, error) {
	mode := doc.Mode
	if mode == "" {
		mode = domain.ModeWalking
	}
	if !mode.Valid() {
		return RouteView{}, apperr.Newf(apperr.CodeInvalidArgument, "unknown travel mode %q", doc.Mode)
	}
	for i, wp := range doc.Waypoints {
		if wp.Kind != "" && !wp.Kind.Valid() {
			return RouteView{}, apperr.Newf(apperr.CodeInvalidRoute, "waypoint %d has unknown kind %q", i, wp.Kind)
		}
	}

	res, err := route.Ingest(doc.Polyline, doc.Waypoints, mode, c.est)
	if err != nil {
		return RouteView{}, err
	}

	if strings.TrimSpace(routeID) == "" {
		routeID = uuid.NewString()
	}
	draft := store.RouteDraft{
		Route: domain.Route{
			ID:                  routeID,
			Name:                doc.Name,
			Mode:                mode,
			TotalDistanceMeters: res.TotalDistanceMeters,
			BoundingBox:         res.BoundingBox,
		},
		Stations: make([]domain.Station, len(res.Stops)),
		Stops:    make([]domain.RouteStop, len(res.Stops)),
	}
	for i, s := range res.Stops {
		kind := s.Waypoint.Kind
		if kind == "" {
			kind = domain.StationRegular
		}
		draft.Stations[i] = domain.Station{Name: s.Waypoint.Name, Kind: kind, Lat: s.Waypoint.Lat, Lon: s.Waypoint.Lon}
		draft.Stops[i] = domain.RouteStop{
			RouteID:                    routeID,
			StopNumber:                 s.StopNumber,
			DistanceFromStartMeters:    s.DistanceFromStartMeters,
			DistanceFromPreviousMeters: s.DistanceFromPreviousMeters,
			TimeFromStartMinutes:       s.TimeFromStartMinutes,
		}
	}

	stations, err := c.store.SaveRoute(ctx, draft)
	if err != nil {
		return RouteView{}, apperr.Internal("save route", err)
	}
	if c.metrics != nil {
		c.metrics.RouteIngested()
	}

	view := RouteView{Route: draft.Route, Stops: make([]Stop, len(stations))}
	for i, st := range stations {
		stop := draft.Stops[i]
		stop.StationID = st.ID
		view.Stops[i] = Stop{RouteStop: stop, Station: st}
	}
	c.logger.Info("route ingested", "route", routeID, "stops", len(view.Stops), "distance_m", res.TotalDistanceMeters)
	return view, nil
}

// Route returns a stored route with its stops.
func (c *Catalog) Route(ctx context.Context, routeID string) (RouteView, error) {
	r, err := c.store.Route(ctx, routeID)
	if err != nil {
		return RouteView{}, lookupErr(err, "route")
	}
	stops, err := c.store.RouteStops(ctx, routeID)
	if err != nil {
		return RouteView{}, lookupErr(err, "route")
	}
	view := RouteView{Route: r, Stops: make([]Stop, len(stops))}
	for i, s := range stops {
		st, err := c.store.Station(ctx, s.StationID)
		if err != nil {
			return RouteView{}, lookupErr(err, "station")
		}
		view.Stops[i] = Stop{RouteStop: s, Station: st}
	}
	return view, nil
}

// NewSession is the input of ScheduleSession.
type NewSession struct {
	ID            string             `json:"id"`
	RouteID       string             `json:"routeId"`
	Type          domain.SessionType `json:"type"`
	Mode          domain.TravelMode  `json:"mode"`
	City          string             `json:"city"`
	ScheduledAt   time.Time          `json:"scheduledAt"`
	InstructorIDs []string           `json:"instructorIds"`
}

// ScheduleSession creates a session in the scheduled state.
func (c *Catalog) ScheduleSession(ctx context.Context, in NewSession) (domain.ActivitySession, error) {
	switch {
	case strings.TrimSpace(in.RouteID) == "":
		return domain.ActivitySession{}, apperr.New(apperr.CodeInvalidArgument, "routeId is required")
	case in.ScheduledAt.IsZero():
		return domain.ActivitySession{}, apperr.New(apperr.CodeInvalidArgument, "scheduledAt is required")
	case len(in.InstructorIDs) == 0:
		return domain.ActivitySession{}, apperr.New(apperr.CodeInvalidArgument, "at least one instructor is required")
	}
	if in.Type == "" {
		in.Type = domain.TypeWalkingBus
	}
	if in.Type != domain.TypeWalkingBus && in.Type != domain.TypeBikeTrain {
		return domain.ActivitySession{}, apperr.Newf(apperr.CodeInvalidArgument, "unknown session type %q", in.Type)
	}
	if in.Mode == "" {
		in.Mode = in.Type.DefaultMode()
	}
	if !in.Mode.Valid() {
		return domain.ActivitySession{}, apperr.Newf(apperr.CodeInvalidArgument, "unknown travel mode %q", in.Mode)
	}
	stops, err := c.store.RouteStops(ctx, in.RouteID)
	if err != nil {
		return domain.ActivitySession{}, lookupErr(err, "route")
	}
	if len(stops) == 0 {
		return domain.ActivitySession{}, apperr.Newf(apperr.CodeNotFound, "route %s has no stops", in.RouteID)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	} else if _, err := c.store.Session(ctx, in.ID); err == nil {
		return domain.ActivitySession{}, apperr.Newf(apperr.CodeInvalidArgument, "session %s already exists", in.ID)
	}

	sess := domain.ActivitySession{
		ID:          in.ID,
		RouteID:     in.RouteID,
		Type:        in.Type,
		Mode:        in.Mode,
		City:        strings.TrimSpace(in.City),
		ScheduledAt: in.ScheduledAt.UTC(),
	}
	if err := c.store.CreateSession(ctx, sess, in.InstructorIDs); err != nil {
		return domain.ActivitySession{}, apperr.Internal("create session", err)
	}
	c.logger.Info("session scheduled", "session", sess.ID, "route", sess.RouteID, "scheduled_at", sess.ScheduledAt)
	return sess, nil
}

// Register enrols a person in a session. Children need a pick-up station on
// the session's route and a drop-off served at or after it.
func (c *Catalog) Register(ctx context.Context, reg domain.Registration) error {
	if strings.TrimSpace(reg.PersonID) == "" {
		return apperr.New(apperr.CodeInvalidArgument, "personId is required")
	}
	sess, err := c.store.Session(ctx, reg.SessionID)
	if err != nil {
		return lookupErr(err, "session")
	}
	if sess.Finished() {
		return apperr.New(apperr.CodeAlreadyFinished, "session has already finished")
	}

	switch reg.Role {
	case domain.RoleParent:
		reg.PickupStationID, reg.DropoffStationID = "", ""
	case domain.RoleChild:
		stops, err := c.store.RouteStops(ctx, sess.RouteID)
		if err != nil {
			return lookupErr(err, "route")
		}
		pickup, _, ok := domain.TripStops(stops, reg.PickupStationID, reg.DropoffStationID)
		if !ok {
			if pickup.StationID == "" {
				return apperr.New(apperr.CodeInvalidArgument, "pick-up must be a station of the route")
			}
			return apperr.Newf(apperr.CodeInvalidArgument, "drop-off is not served at or after pick-up stop %d", pickup.StopNumber)
		}
	default:
		return apperr.Newf(apperr.CodeInvalidArgument, "role %q cannot be registered", reg.Role)
	}

	if err := c.store.Register(ctx, reg); err != nil {
		return apperr.Internal("register", err)
	}
	c.logger.Info("person registered", "session", reg.SessionID, "person", reg.PersonID, "role", reg.Role)
	return nil
}

func lookupErr(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Newf(apperr.CodeNotFound, "%s not found", what)
	}
	return apperr.Internal(fmt.Sprintf("load %s", what), err)
}
