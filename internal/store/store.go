// Package store defines the persistence boundary of the session engine.
// Implementations return value copies; relations are fetched by id.
package store

import (
	"context"
	"errors"
	"time"

	"walkingbus/internal/domain"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a guarded update matched no row because
	// the guard predicate no longer holds.
	ErrConflict = errors.New("store: guarded update lost")
)

// Reader is the read side shared by stores and transactions.
type Reader interface {
	Session(ctx context.Context, id string) (domain.ActivitySession, error)
	IsInstructorAssigned(ctx context.Context, sessionID, personID string) (bool, error)
	Route(ctx context.Context, id string) (domain.Route, error)
	// RouteStops returns the sequence ordered by stop number.
	RouteStops(ctx context.Context, routeID string) ([]domain.RouteStop, error)
	Station(ctx context.Context, id string) (domain.Station, error)
	// Visits returns the session's visits ordered by stop number.
	Visits(ctx context.Context, sessionID string) ([]domain.StationVisit, error)
	// Attendance returns the ledger rows ordered by registration time.
	Attendance(ctx context.Context, sessionID string) ([]domain.Attendance, error)
	Registrations(ctx context.Context, sessionID string) ([]domain.Registration, error)
}

// Tx is one atomic unit of work scoped to a session.
type Tx interface {
	Reader
	// MarkStarted sets started_at only while it is still null.
	MarkStarted(ctx context.Context, sessionID string, at time.Time, by string, weather *domain.Weather) error
	// MarkFinished sets finished_at only while it is still null.
	MarkFinished(ctx context.Context, sessionID string, at time.Time) error
	UpsertVisit(ctx context.Context, v domain.StationVisit) error
	InsertAttendance(ctx context.Context, a domain.Attendance) error
	DeleteAttendance(ctx context.Context, id string) error
}

// RouteDraft is an ingested route ready to be persisted. Stations are
// matched on exact coordinates; unknown ones are created.
type RouteDraft struct {
	Route    domain.Route
	Stations []domain.Station
	Stops    []domain.RouteStop
}

// Catalog holds the admin-side writes that feed the engine.
type Catalog interface {
	// SaveRoute replaces the stop sequence of a route and returns the stations
	// actually referenced, with ids resolved.
	SaveRoute(ctx context.Context, draft RouteDraft) ([]domain.Station, error)
	CreateSession(ctx context.Context, s domain.ActivitySession, instructorIDs []string) error
	Register(ctx context.Context, r domain.Registration) error
}

// Stats is the persistence used by end-of-session background work.
type Stats interface {
	SaveParticipation(ctx context.Context, p []domain.Participation) error
	ChildTotals(ctx context.Context, childID string) (domain.ChildTotals, error)
	// AwardBadge inserts the badge and reports false when it already existed.
	AwardBadge(ctx context.Context, b domain.Badge) (bool, error)
}

// Store is the full persistence contract.
type Store interface {
	Reader
	Catalog
	Stats
	// InSession runs fn in one transaction that holds the session's write
	// lock. fn's error aborts every write it made.
	InSession(ctx context.Context, sessionID string, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
