package engine

import (
	"context"
	"time"

	"walkingbus/internal/apperr"
	"walkingbus/internal/domain"
	"walkingbus/internal/store"
)

// StationInfo describes one stop of a session.
type StationInfo struct {
	StationID               string             `json:"stationId"`
	Name                    string             `json:"name"`
	Kind                    domain.StationKind `json:"kind"`
	Lat                     float64            `json:"lat"`
	Lon                     float64            `json:"lon"`
	StopNumber              int                `json:"stopNumber"`
	DistanceFromStartMeters int                `json:"distanceFromStartMeters"`
	TimeFromStartMinutes    int                `json:"timeFromStartMinutes"`
	ExpectedAt              time.Time          `json:"expectedAt"`
	ArrivedAt               *time.Time         `json:"arrivedAt,omitempty"`
	LeftAt                  *time.Time         `json:"leftAt,omitempty"`
	IsLastStation           bool               `json:"isLastStation"`
}

// progress is the stop sequence of a session joined with its visits.
type progress struct {
	stops  []domain.RouteStop
	visits map[int]domain.StationVisit
}

func loadProgress(ctx context.Context, r store.Reader, sess domain.ActivitySession) (progress, error) {
	stops, err := r.RouteStops(ctx, sess.RouteID)
	if err != nil {
		return progress{}, err
	}
	if len(stops) == 0 {
		return progress{}, apperr.Newf(apperr.CodeNotFound, "route %s has no stops", sess.RouteID)
	}
	visits, err := r.Visits(ctx, sess.ID)
	if err != nil {
		return progress{}, err
	}
	p := progress{stops: stops, visits: make(map[int]domain.StationVisit, len(visits))}
	for _, v := range visits {
		p.visits[v.StopNumber] = v
	}
	return p, nil
}

// current is the lowest stop whose visit has not been left.
func (p progress) current() (domain.RouteStop, bool) {
	for _, s := range p.stops {
		if v, ok := p.visits[s.StopNumber]; !ok || v.LeftAt == nil {
			return s, true
		}
	}
	return domain.RouteStop{}, false
}

func (p progress) visit(stopNumber int) (domain.StationVisit, bool) {
	v, ok := p.visits[stopNumber]
	return v, ok
}

func (p progress) openVisit() (domain.StationVisit, bool) {
	for _, s := range p.stops {
		if v, ok := p.visits[s.StopNumber]; ok && v.Open() {
			return v, true
		}
	}
	return domain.StationVisit{}, false
}

// arrivedAtCurrent returns the current stop and, when the instructor has
// arrived there, its visit.
func (p progress) arrivedAtCurrent() (domain.RouteStop, domain.StationVisit, bool) {
	cur, ok := p.current()
	if !ok {
		return domain.RouteStop{}, domain.StationVisit{}, false
	}
	v, ok := p.visit(cur.StopNumber)
	if !ok || v.ArrivedAt == nil {
		return cur, domain.StationVisit{}, false
	}
	return cur, v, true
}

func (p progress) next(after int) (domain.RouteStop, bool) {
	for _, s := range p.stops {
		if s.StopNumber > after {
			return s, true
		}
	}
	return domain.RouteStop{}, false
}

func (p progress) last() domain.RouteStop { return p.stops[len(p.stops)-1] }

func (p progress) isLast(stopNumber int) bool { return p.last().StopNumber == stopNumber }

// visitFor returns the visit a ledger row was recorded at: the latest stop
// serving its station that had been arrived at when the row was written.
func (p progress) visitFor(a domain.Attendance) (domain.StationVisit, bool) {
	var (
		found domain.StationVisit
		ok    bool
	)
	for _, s := range p.stops {
		if s.StationID != a.StationID {
			continue
		}
		v, seen := p.visits[s.StopNumber]
		if !seen || v.ArrivedAt == nil || v.ArrivedAt.After(a.RegisteredAt) {
			continue
		}
		found, ok = v, true
	}
	return found, ok
}

func (e *Engine) stationInfo(ctx context.Context, r store.Reader, sess domain.ActivitySession, p progress, stop domain.RouteStop) (StationInfo, error) {
	st, err := r.Station(ctx, stop.StationID)
	if err != nil {
		return StationInfo{}, err
	}
	minutes := e.est.Minutes(stop.DistanceFromStartMeters, sess.TravelMode())
	info := StationInfo{
		StationID:               st.ID,
		Name:                    st.Name,
		Kind:                    st.Kind,
		Lat:                     st.Lat,
		Lon:                     st.Lon,
		StopNumber:              stop.StopNumber,
		DistanceFromStartMeters: stop.DistanceFromStartMeters,
		TimeFromStartMinutes:    minutes,
		ExpectedAt:              sess.ScheduledAt.Add(time.Duration(minutes) * time.Minute),
		IsLastStation:           p.isLast(stop.StopNumber),
	}
	if v, ok := p.visit(stop.StopNumber); ok {
		info.ArrivedAt = v.ArrivedAt
		info.LeftAt = v.LeftAt
	}
	return info, nil
}
