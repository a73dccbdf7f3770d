package domain

import "time"

// Role of a person taking part in a session.
type Role string

const (
	RoleChild      Role = "child"
	RoleParent     Role = "parent"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Direction of a ledger row.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Registration enrols a person in one session. Parents carry no stations.
type Registration struct {
	SessionID        string `json:"sessionId"`
	PersonID         string `json:"personId"`
	Role             Role   `json:"role"`
	PickupStationID  string `json:"pickupStationId,omitempty"`
	DropoffStationID string `json:"dropoffStationId,omitempty"`
}

// Attendance is one check-in or check-out event.
type Attendance struct {
	ID           string    `json:"id"`
	PersonID     string    `json:"personId"`
	Role         Role      `json:"role"`
	StationID    string    `json:"stationId"`
	SessionID    string    `json:"sessionId"`
	Direction    Direction `json:"direction"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Participation is the distance a child travelled in one finished session.
type Participation struct {
	SessionID      string    `json:"sessionId"`
	ChildID        string    `json:"childId"`
	DistanceMeters int       `json:"distanceMeters"`
	FinishedAt     time.Time `json:"finishedAt"`
}

// ChildTotals aggregates every participation of one child.
type ChildTotals struct {
	ChildID        string `json:"childId"`
	Sessions       int    `json:"sessions"`
	DistanceMeters int    `json:"distanceMeters"`
}

// Badge is an award granted once per child and code.
type Badge struct {
	ChildID   string    `json:"childId"`
	Code      string    `json:"code"`
	AwardedAt time.Time `json:"awardedAt"`
}
