// Package memory is an in-process store used by tests and single-node demos.
// Transactions run on a private copy that replaces the live data on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"walkingbus/internal/domain"
	"walkingbus/internal/store"
)

type data struct {
	sessions      map[string]domain.ActivitySession
	instructors   map[string]map[string]struct{}
	routes        map[string]domain.Route
	stops         map[string][]domain.RouteStop
	stations      map[string]domain.Station
	visits        map[string]map[int]domain.StationVisit
	attendance    map[string][]domain.Attendance
	registrations map[string][]domain.Registration
	participation map[string]domain.Participation
	badges        map[string]domain.Badge
}

func newData() *data {
	return &data{
		sessions:      make(map[string]domain.ActivitySession),
		instructors:   make(map[string]map[string]struct{}),
		routes:        make(map[string]domain.Route),
		stops:         make(map[string][]domain.RouteStop),
		stations:      make(map[string]domain.Station),
		visits:        make(map[string]map[int]domain.StationVisit),
		attendance:    make(map[string][]domain.Attendance),
		registrations: make(map[string][]domain.Registration),
		participation: make(map[string]domain.Participation),
		badges:        make(map[string]domain.Badge),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.sessions {
		c.sessions[k] = v
	}
	for k, set := range d.instructors {
		cp := make(map[string]struct{}, len(set))
		for id := range set {
			cp[id] = struct{}{}
		}
		c.instructors[k] = cp
	}
	for k, v := range d.routes {
		c.routes[k] = v
	}
	for k, v := range d.stops {
		c.stops[k] = append([]domain.RouteStop(nil), v...)
	}
	for k, v := range d.stations {
		c.stations[k] = v
	}
	for k, byStop := range d.visits {
		cp := make(map[int]domain.StationVisit, len(byStop))
		for n, v := range byStop {
			cp[n] = v
		}
		c.visits[k] = cp
	}
	for k, v := range d.attendance {
		c.attendance[k] = append([]domain.Attendance(nil), v...)
	}
	for k, v := range d.registrations {
		c.registrations[k] = append([]domain.Registration(nil), v...)
	}
	for k, v := range d.participation {
		c.participation[k] = v
	}
	for k, v := range d.badges {
		c.badges[k] = v
	}
	return c
}

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex
	d  *data
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{d: newData()}
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

func (s *Store) InSession(ctx context.Context, sessionID string, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.d.sessions[sessionID]; !ok {
		return store.ErrNotFound
	}
	work := s.d.clone()
	if err := fn(&tx{data: work, sessionID: sessionID}); err != nil {
		return err
	}
	s.d = work
	return nil
}

func (s *Store) Session(ctx context.Context, id string) (domain.ActivitySession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.d.session(id)
}

func (s *Store) IsInstructorAssigned(ctx context.Context, sessionID, personID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.d.isInstructorAssigned(sessionID, personID), nil
}

func (s *Store) Route(ctx context.Context, id string) (domain.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.d.route(id)
}

func (s *Store) RouteStops(ctx context.Context, routeID string) ([]domain.RouteStop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.d.routeStops(routeID), nil
}

func (s *Store) Station(ctx context.Context, id string) (domain.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.d.station(id)
}

func (s *Store) Visits(ctx context.Context, sessionID string) ([]domain.StationVisit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.d.visitList(sessionID), nil
}

func (s *Store) Attendance(ctx context.Context, sessionID string) ([]domain.Attendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Attendance(nil), s.d.attendance[sessionID]...), nil
}

func (s *Store) Registrations(ctx context.Context, sessionID string) ([]domain.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Registration(nil), s.d.registrations[sessionID]...), nil
}

func (s *Store) SaveRoute(ctx context.Context, draft store.RouteDraft) ([]domain.Station, error) {
	if len(draft.Stations) != len(draft.Stops) {
		return nil, fmt.Errorf("route %s: %d stations for %d stops", draft.Route.ID, len(draft.Stations), len(draft.Stops))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	resolved := make([]domain.Station, len(draft.Stations))
	stops := make([]domain.RouteStop, len(draft.Stops))
	for i, st := range draft.Stations {
		if existing, ok := s.d.stationAt(st.Lat, st.Lon); ok {
			st = existing
		} else {
			if st.ID == "" {
				st.ID = uuid.NewString()
			}
			s.d.stations[st.ID] = st
		}
		resolved[i] = st
		stop := draft.Stops[i]
		stop.RouteID = draft.Route.ID
		stop.StationID = st.ID
		stops[i] = stop
	}
	s.d.routes[draft.Route.ID] = draft.Route
	s.d.stops[draft.Route.ID] = stops
	return resolved, nil
}

func (s *Store) CreateSession(ctx context.Context, sess domain.ActivitySession, instructorIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.d.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	s.d.sessions[sess.ID] = sess
	set := make(map[string]struct{}, len(instructorIDs))
	for _, id := range instructorIDs {
		set[id] = struct{}{}
	}
	s.d.instructors[sess.ID] = set
	return nil
}

func (s *Store) Register(ctx context.Context, r domain.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	regs := s.d.registrations[r.SessionID]
	for i, existing := range regs {
		if existing.PersonID == r.PersonID {
			regs[i] = r
			return nil
		}
	}
	s.d.registrations[r.SessionID] = append(regs, r)
	return nil
}

func (s *Store) SaveParticipation(ctx context.Context, ps []domain.Participation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		s.d.participation[p.SessionID+"|"+p.ChildID] = p
	}
	return nil
}

func (s *Store) ChildTotals(ctx context.Context, childID string) (domain.ChildTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	totals := domain.ChildTotals{ChildID: childID}
	for _, p := range s.d.participation {
		if p.ChildID == childID {
			totals.Sessions++
			totals.DistanceMeters += p.DistanceMeters
		}
	}
	return totals, nil
}

func (s *Store) AwardBadge(ctx context.Context, b domain.Badge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := b.ChildID + "|" + b.Code
	if _, ok := s.d.badges[key]; ok {
		return false, nil
	}
	s.d.badges[key] = b
	return true, nil
}

// Badges lists the badges of one child, oldest first.
func (s *Store) Badges(childID string) []domain.Badge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Badge
	for _, b := range s.d.badges {
		if b.ChildID == childID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AwardedAt.Equal(out[j].AwardedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].AwardedAt.Before(out[j].AwardedAt)
	})
	return out
}

type tx struct {
	*data
	sessionID string
}

func (t *tx) Session(ctx context.Context, id string) (domain.ActivitySession, error) {
	return t.session(id)
}

func (t *tx) IsInstructorAssigned(ctx context.Context, sessionID, personID string) (bool, error) {
	return t.isInstructorAssigned(sessionID, personID), nil
}

func (t *tx) Route(ctx context.Context, id string) (domain.Route, error) { return t.route(id) }

func (t *tx) RouteStops(ctx context.Context, routeID string) ([]domain.RouteStop, error) {
	return t.routeStops(routeID), nil
}

func (t *tx) Station(ctx context.Context, id string) (domain.Station, error) { return t.station(id) }

func (t *tx) Visits(ctx context.Context, sessionID string) ([]domain.StationVisit, error) {
	return t.visitList(sessionID), nil
}

func (t *tx) Attendance(ctx context.Context, sessionID string) ([]domain.Attendance, error) {
	return append([]domain.Attendance(nil), t.attendance[sessionID]...), nil
}

func (t *tx) Registrations(ctx context.Context, sessionID string) ([]domain.Registration, error) {
	return append([]domain.Registration(nil), t.registrations[sessionID]...), nil
}

func (t *tx) MarkStarted(ctx context.Context, sessionID string, at time.Time, by string, weather *domain.Weather) error {
	sess, ok := t.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	if sess.StartedAt != nil {
		return store.ErrConflict
	}
	sess.StartedAt = &at
	sess.StartedBy = by
	sess.Weather = weather
	t.sessions[sessionID] = sess
	return nil
}

func (t *tx) MarkFinished(ctx context.Context, sessionID string, at time.Time) error {
	sess, ok := t.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	if sess.FinishedAt != nil {
		return store.ErrConflict
	}
	sess.FinishedAt = &at
	t.sessions[sessionID] = sess
	return nil
}

func (t *tx) UpsertVisit(ctx context.Context, v domain.StationVisit) error {
	byStop := t.visits[v.SessionID]
	if byStop == nil {
		byStop = make(map[int]domain.StationVisit)
		t.visits[v.SessionID] = byStop
	}
	byStop[v.StopNumber] = v
	return nil
}

func (t *tx) InsertAttendance(ctx context.Context, a domain.Attendance) error {
	for _, existing := range t.attendance[a.SessionID] {
		if existing.ID == a.ID {
			return fmt.Errorf("attendance %s already exists", a.ID)
		}
	}
	t.attendance[a.SessionID] = append(t.attendance[a.SessionID], a)
	return nil
}

func (t *tx) DeleteAttendance(ctx context.Context, id string) error {
	rows := t.attendance[t.sessionID]
	for i, a := range rows {
		if a.ID == id {
			t.attendance[t.sessionID] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (d *data) session(id string) (domain.ActivitySession, error) {
	sess, ok := d.sessions[id]
	if !ok {
		return domain.ActivitySession{}, store.ErrNotFound
	}
	return sess, nil
}

func (d *data) isInstructorAssigned(sessionID, personID string) bool {
	_, ok := d.instructors[sessionID][personID]
	return ok
}

func (d *data) route(id string) (domain.Route, error) {
	r, ok := d.routes[id]
	if !ok {
		return domain.Route{}, store.ErrNotFound
	}
	return r, nil
}

func (d *data) routeStops(routeID string) []domain.RouteStop {
	out := append([]domain.RouteStop(nil), d.stops[routeID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].StopNumber < out[j].StopNumber })
	return out
}

func (d *data) station(id string) (domain.Station, error) {
	st, ok := d.stations[id]
	if !ok {
		return domain.Station{}, store.ErrNotFound
	}
	return st, nil
}

func (d *data) stationAt(lat, lon float64) (domain.Station, bool) {
	for _, st := range d.stations {
		if st.Lat == lat && st.Lon == lon {
			return st, true
		}
	}
	return domain.Station{}, false
}

func (d *data) visitList(sessionID string) []domain.StationVisit {
	byStop := d.visits[sessionID]
	out := make([]domain.StationVisit, 0, len(byStop))
	for _, v := range byStop {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StopNumber < out[j].StopNumber })
	return out
}
