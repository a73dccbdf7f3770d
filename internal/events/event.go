// Package events carries engine transitions to outbound transports.
// Delivery is best-effort and at-most-once.
package events

import (
	"time"

	"github.com/google/uuid"

	"walkingbus/internal/domain"
)

// Kind names a transition.
type Kind string

const (
	KindSessionStarted    Kind = "session_started"
	KindArrivedAtStation  Kind = "arrived_at_station"
	KindAdvancedToStation Kind = "advanced_to_station"
	KindSessionEnded      Kind = "session_ended"
	KindPresenceChanged   Kind = "presence_changed"
)

// Event is the payload published for every transition.
type Event struct {
	ID         string           `json:"id"`
	Kind       Kind             `json:"kind"`
	SessionID  string           `json:"sessionId"`
	StationID  string           `json:"stationId,omitempty"`
	StopNumber int              `json:"stopNumber,omitempty"`
	PersonID   string           `json:"personId,omitempty"`
	Role       domain.Role      `json:"role,omitempty"`
	Direction  domain.Direction `json:"direction,omitempty"`
	// Undone marks a presence change that removed a ledger row.
	Undone     bool      `json:"undone,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// New stamps a fresh event id.
func New(kind Kind, sessionID string, at time.Time) Event {
	return Event{ID: uuid.NewString(), Kind: kind, SessionID: sessionID, OccurredAt: at.UTC()}
}

// AtStop fills the station fields.
func (e Event) AtStop(stationID string, stopNumber int) Event {
	e.StationID = stationID
	e.StopNumber = stopNumber
	return e
}
