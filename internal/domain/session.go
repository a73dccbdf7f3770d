package domain

import "time"

// SessionType is the program a session belongs to.
type SessionType string

const (
	TypeWalkingBus SessionType = "walking_bus"
	TypeBikeTrain  SessionType = "bike_train"
)

// DefaultMode returns the travel mode implied by the program type.
func (t SessionType) DefaultMode() TravelMode {
	if t == TypeBikeTrain {
		return ModeBiking
	}
	return ModeWalking
}

// Weather is the snapshot stored when a session starts.
type Weather struct {
	TemperatureC float64 `json:"temperatureC"`
	Condition    string  `json:"condition"`
}

// ActivitySession is one dated run of a route.
type ActivitySession struct {
	ID          string      `json:"id"`
	RouteID     string      `json:"routeId"`
	Type        SessionType `json:"type"`
	Mode        TravelMode  `json:"mode"`
	City        string      `json:"city,omitempty"`
	ScheduledAt time.Time   `json:"scheduledAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	FinishedAt  *time.Time  `json:"finishedAt,omitempty"`
	StartedBy   string      `json:"startedBy,omitempty"`
	Weather     *Weather    `json:"weather,omitempty"`
}

func (s ActivitySession) Started() bool  { return s.StartedAt != nil }
func (s ActivitySession) Finished() bool { return s.FinishedAt != nil }

// TravelMode falls back to the program default when no mode was stored.
func (s ActivitySession) TravelMode() TravelMode {
	if s.Mode.Valid() {
		return s.Mode
	}
	return s.Type.DefaultMode()
}

// StationVisit is the per-session sub-state of one stop.
type StationVisit struct {
	SessionID  string     `json:"sessionId"`
	StationID  string     `json:"stationId"`
	StopNumber int        `json:"stopNumber"`
	ArrivedAt  *time.Time `json:"arrivedAt,omitempty"`
	LeftAt     *time.Time `json:"leftAt,omitempty"`
}

// Open reports whether the instructor is at this stop right now.
func (v StationVisit) Open() bool { return v.ArrivedAt != nil && v.LeftAt == nil }

// SessionStatus is the derived, read-only view of a session's progress.
type SessionStatus string

const (
	StatusNotStarted      SessionStatus = "not-started"
	StatusInStation       SessionStatus = "in-station"
	StatusBetweenStations SessionStatus = "between-stations"
	StatusReadyToEnd      SessionStatus = "ready-to-end"
	StatusEnded           SessionStatus = "ended"
)
