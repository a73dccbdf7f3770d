// Package stats holds the work run after a session ends: per-child distance
// records and badge awards. Both run as engine end hooks.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"walkingbus/internal/domain"
	"walkingbus/internal/store"
)

// Store is what the hooks read and write.
type Store interface {
	store.Reader
	store.Stats
}

// trip is one child's completed ride within a session.
type trip struct {
	childID    string
	inStation  string
	outStation string
}

// completedTrips returns every child holding both an in and an out row,
// ordered by child id.
func completedTrips(ctx context.Context, st store.Reader, sessionID string) ([]trip, error) {
	rows, err := st.Attendance(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load attendance: %w", err)
	}
	in := make(map[string]string)
	out := make(map[string]string)
	for _, a := range rows {
		if a.Role != domain.RoleChild {
			continue
		}
		if a.Direction == domain.DirectionIn {
			in[a.PersonID] = a.StationID
		} else {
			out[a.PersonID] = a.StationID
		}
	}
	trips := make([]trip, 0, len(in))
	for id, from := range in {
		to, ok := out[id]
		if !ok {
			continue
		}
		trips = append(trips, trip{childID: id, inStation: from, outStation: to})
	}
	sort.Slice(trips, func(i, j int) bool { return trips[i].childID < trips[j].childID })
	return trips, nil
}

// Participation records the distance each child covered.
type Participation struct {
	store  Store
	logger *slog.Logger
}

func NewParticipation(st Store, logger *slog.Logger) *Participation {
	return &Participation{store: st, logger: logger.With("component", "stats")}
}

func (p *Participation) Name() string { return "participation" }

func (p *Participation) SessionEnded(ctx context.Context, sess domain.ActivitySession) error {
	trips, err := completedTrips(ctx, p.store, sess.ID)
	if err != nil {
		return err
	}
	if len(trips) == 0 {
		return nil
	}
	stops, err := p.store.RouteStops(ctx, sess.RouteID)
	if err != nil {
		return fmt.Errorf("load stops: %w", err)
	}

	finished := time.Time{}
	if sess.FinishedAt != nil {
		finished = *sess.FinishedAt
	}
	records := make([]domain.Participation, 0, len(trips))
	for _, t := range trips {
		distance := 0
		if from, to, ok := domain.TripStops(stops, t.inStation, t.outStation); ok {
			distance = to.DistanceFromStartMeters - from.DistanceFromStartMeters
		}
		records = append(records, domain.Participation{
			SessionID:      sess.ID,
			ChildID:        t.childID,
			DistanceMeters: distance,
			FinishedAt:     finished,
		})
	}
	if err := p.store.SaveParticipation(ctx, records); err != nil {
		return fmt.Errorf("save participation: %w", err)
	}
	p.logger.Info("participation recorded", "session", sess.ID, "children", len(records))
	return nil
}

// Milestone is a badge granted once the rule holds for a child.
type Milestone struct {
	Code string
	Met  func(t domain.ChildTotals, sess domain.ActivitySession) bool
}

func sessionsAtLeast(n int) func(domain.ChildTotals, domain.ActivitySession) bool {
	return func(t domain.ChildTotals, _ domain.ActivitySession) bool { return t.Sessions >= n }
}

func metersAtLeast(m int) func(domain.ChildTotals, domain.ActivitySession) bool {
	return func(t domain.ChildTotals, _ domain.ActivitySession) bool { return t.DistanceMeters >= m }
}

func rainy(_ domain.ChildTotals, sess domain.ActivitySession) bool {
	if sess.Weather == nil {
		return false
	}
	switch sess.Weather.Condition {
	case "Rain", "Drizzle", "Thunderstorm", "Snow":
		return true
	}
	return false
}

func bikeTrain(_ domain.ChildTotals, sess domain.ActivitySession) bool {
	return sess.TravelMode() == domain.ModeBiking
}

// DefaultMilestones is the badge catalogue.
func DefaultMilestones() []Milestone {
	return []Milestone{
		{Code: "first_trip", Met: sessionsAtLeast(1)},
		{Code: "trips_5", Met: sessionsAtLeast(5)},
		{Code: "trips_10", Met: sessionsAtLeast(10)},
		{Code: "trips_25", Met: sessionsAtLeast(25)},
		{Code: "trips_50", Met: sessionsAtLeast(50)},
		{Code: "distance_1km", Met: metersAtLeast(1_000)},
		{Code: "distance_5km", Met: metersAtLeast(5_000)},
		{Code: "distance_10km", Met: metersAtLeast(10_000)},
		{Code: "distance_marathon", Met: metersAtLeast(42_195)},
		{Code: "rain_walker", Met: rainy},
		{Code: "bike_train", Met: bikeTrain},
	}
}

// Badges awards milestones to the children who completed the session.
type Badges struct {
	store      Store
	milestones []Milestone
	now        func() time.Time
	logger     *slog.Logger
}

func NewBadges(st Store, milestones []Milestone, logger *slog.Logger) *Badges {
	if milestones == nil {
		milestones = DefaultMilestones()
	}
	return &Badges{store: st, milestones: milestones, now: time.Now, logger: logger.With("component", "badges")}
}

func (b *Badges) Name() string { return "badges" }

func (b *Badges) SessionEnded(ctx context.Context, sess domain.ActivitySession) error {
	trips, err := completedTrips(ctx, b.store, sess.ID)
	if err != nil {
		return err
	}
	awarded := 0
	for _, t := range trips {
		totals, err := b.store.ChildTotals(ctx, t.childID)
		if err != nil {
			return fmt.Errorf("totals for %s: %w", t.childID, err)
		}
		for _, m := range b.milestones {
			if !m.Met(totals, sess) {
				continue
			}
			fresh, err := b.store.AwardBadge(ctx, domain.Badge{ChildID: t.childID, Code: m.Code, AwardedAt: b.now().UTC()})
			if err != nil {
				return fmt.Errorf("award %s to %s: %w", m.Code, t.childID, err)
			}
			if fresh {
				awarded++
				b.logger.Info("badge awarded", "child", t.childID, "badge", m.Code, "session", sess.ID)
			}
		}
	}
	b.logger.Debug("badges evaluated", "session", sess.ID, "children", len(trips), "awarded", awarded)
	return nil
}
