package domain

// TravelMode selects the speed used for advisory time estimates.
type TravelMode string

const (
	ModeWalking TravelMode = "walking"
	ModeBiking  TravelMode = "biking"
)

func (m TravelMode) Valid() bool {
	return m == ModeWalking || m == ModeBiking
}

// StationKind distinguishes ordinary pick-up points from the school itself.
type StationKind string

const (
	StationRegular StationKind = "regular"
	StationSchool  StationKind = "school"
)

func (k StationKind) Valid() bool {
	return k == StationRegular || k == StationSchool
}

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Station is a named stop owned by the route catalog.
type Station struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Kind StationKind `json:"kind"`
	Lat  float64     `json:"lat"`
	Lon  float64     `json:"lon"`
}

// Route is the catalog header of an ingested path.
type Route struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	Mode                TravelMode  `json:"mode"`
	TotalDistanceMeters int         `json:"totalDistanceMeters"`
	BoundingBox         BoundingBox `json:"boundingBox"`
}

// RouteStop is one entry of a route's ordered station sequence.
type RouteStop struct {
	RouteID                    string `json:"routeId"`
	StationID                  string `json:"stationId"`
	StopNumber                 int    `json:"stopNumber"`
	DistanceFromStartMeters    int    `json:"distanceFromStartMeters"`
	DistanceFromPreviousMeters int    `json:"distanceFromPreviousMeters"`
	TimeFromStartMinutes       int    `json:"timeFromStartMinutes"`
}

// TripStops resolves a ride along stops: the first stop serving pickupID,
// then the first later stop serving dropoffID. A route may serve one station
// more than once, so the drop-off is searched only after the pick-up. It
// falls back to the pick-up stop itself when both are the same station.
func TripStops(stops []RouteStop, pickupID, dropoffID string) (pickup, dropoff RouteStop, ok bool) {
	pi := -1
	for i, s := range stops {
		if s.StationID == pickupID {
			pi = i
			break
		}
	}
	if pi < 0 {
		return RouteStop{}, RouteStop{}, false
	}
	for _, s := range stops[pi+1:] {
		if s.StationID == dropoffID {
			return stops[pi], s, true
		}
	}
	if pickupID == dropoffID {
		return stops[pi], stops[pi], true
	}
	return stops[pi], RouteStop{}, false
}

// BoundingBox represents a geographic rectangle
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLon float64 `json:"minLon"`
	MaxLon float64 `json:"maxLon"`
}

// Contains checks if a point is within the bounding box
func (bb BoundingBox) Contains(lat, lon float64) bool {
	return lat >= bb.MinLat && lat <= bb.MaxLat &&
		lon >= bb.MinLon && lon <= bb.MaxLon
}
