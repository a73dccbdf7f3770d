package stats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"walkingbus/internal/domain"
	"walkingbus/internal/store"
	"walkingbus/internal/store/memory"
)

var finishedAt = time.Date(2026, 3, 2, 8, 40, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// seed stores a route A(0) B(600) C(1200) and one finished session.
func seed(t *testing.T, sessionID string, weather *domain.Weather) *memory.Store {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	_, err := st.SaveRoute(ctx, store.RouteDraft{
		Route: domain.Route{ID: "r1", Mode: domain.ModeWalking},
		Stations: []domain.Station{
			{ID: "a", Lat: 1, Lon: 1},
			{ID: "b", Lat: 2, Lon: 2},
			{ID: "c", Lat: 3, Lon: 3, Kind: domain.StationSchool},
		},
		Stops: []domain.RouteStop{
			{StopNumber: 1},
			{StopNumber: 2, DistanceFromStartMeters: 600},
			{StopNumber: 3, DistanceFromStartMeters: 1200},
		},
	})
	if err != nil {
		t.Fatalf("save route: %v", err)
	}
	addSession(t, st, sessionID, weather)
	return st
}

func addSession(t *testing.T, st *memory.Store, sessionID string, weather *domain.Weather) {
	t.Helper()
	if err := st.CreateSession(context.Background(), domain.ActivitySession{
		ID: sessionID, RouteID: "r1", Type: domain.TypeWalkingBus, FinishedAt: &finishedAt, Weather: weather,
	}, []string{"inst"}); err != nil {
		t.Fatalf("create session: %v", err)
	}
}

func ride(t *testing.T, st *memory.Store, sessionID, personID string, role domain.Role, from, to string) {
	t.Helper()
	ctx := context.Background()
	err := st.InSession(ctx, sessionID, func(tx store.Tx) error {
		if err := tx.InsertAttendance(ctx, domain.Attendance{ID: sessionID + personID + "in", PersonID: personID, Role: role, StationID: from, SessionID: sessionID, Direction: domain.DirectionIn}); err != nil {
			return err
		}
		if to == "" {
			return nil
		}
		return tx.InsertAttendance(ctx, domain.Attendance{ID: sessionID + personID + "out", PersonID: personID, Role: role, StationID: to, SessionID: sessionID, Direction: domain.DirectionOut})
	})
	if err != nil {
		t.Fatalf("seed attendance: %v", err)
	}
}

func session(t *testing.T, st *memory.Store, id string) domain.ActivitySession {
	t.Helper()
	s, err := st.Session(context.Background(), id)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return s
}

func TestParticipationDistances(t *testing.T) {
	st := seed(t, "s1", nil)
	ride(t, st, "s1", "kid-1", domain.RoleChild, "a", "c")
	ride(t, st, "s1", "kid-2", domain.RoleChild, "b", "c")
	ride(t, st, "s1", "kid-3", domain.RoleChild, "c", "a") // out before in clamps to zero
	ride(t, st, "s1", "kid-4", domain.RoleChild, "a", "")  // never checked out
	ride(t, st, "s1", "mum", domain.RoleParent, "a", "c")

	if err := NewParticipation(st, discard()).SessionEnded(context.Background(), session(t, st, "s1")); err != nil {
		t.Fatalf("session ended: %v", err)
	}

	want := map[string]domain.ChildTotals{
		"kid-1": {ChildID: "kid-1", Sessions: 1, DistanceMeters: 1200},
		"kid-2": {ChildID: "kid-2", Sessions: 1, DistanceMeters: 600},
		"kid-3": {ChildID: "kid-3", Sessions: 1, DistanceMeters: 0},
		"kid-4": {ChildID: "kid-4"},
		"mum":   {ChildID: "mum"},
	}
	for id, w := range want {
		got, err := st.ChildTotals(context.Background(), id)
		if err != nil {
			t.Fatalf("totals %s: %v", id, err)
		}
		if got != w {
			t.Errorf("totals %s = %+v, want %+v", id, got, w)
		}
	}
}

func TestParticipationOnLoopRoute(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	_, err := st.SaveRoute(ctx, store.RouteDraft{
		Route:    domain.Route{ID: "r1", Mode: domain.ModeWalking},
		Stations: []domain.Station{{ID: "a", Lat: 1, Lon: 1}, {ID: "b", Lat: 2, Lon: 2}, {Lat: 1, Lon: 1}},
		Stops: []domain.RouteStop{
			{StopNumber: 1},
			{StopNumber: 2, DistanceFromStartMeters: 450},
			{StopNumber: 3, DistanceFromStartMeters: 900},
		},
	})
	if err != nil {
		t.Fatalf("save route: %v", err)
	}
	addSession(t, st, "s1", nil)
	ride(t, st, "s1", "kid-1", domain.RoleChild, "b", "a")
	ride(t, st, "s1", "kid-2", domain.RoleChild, "a", "a")

	if err := NewParticipation(st, discard()).SessionEnded(ctx, session(t, st, "s1")); err != nil {
		t.Fatalf("session ended: %v", err)
	}
	if got, _ := st.ChildTotals(ctx, "kid-1"); got.DistanceMeters != 450 {
		t.Errorf("kid-1 totals = %+v", got)
	}
	if got, _ := st.ChildTotals(ctx, "kid-2"); got.DistanceMeters != 900 {
		t.Errorf("kid-2 totals = %+v", got)
	}
}

func TestParticipationIsIdempotentPerSession(t *testing.T) {
	st := seed(t, "s1", nil)
	ride(t, st, "s1", "kid-1", domain.RoleChild, "a", "b")
	hook := NewParticipation(st, discard())
	for i := 0; i < 2; i++ {
		if err := hook.SessionEnded(context.Background(), session(t, st, "s1")); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	got, _ := st.ChildTotals(context.Background(), "kid-1")
	if got.Sessions != 1 || got.DistanceMeters != 600 {
		t.Fatalf("totals = %+v", got)
	}
}

func TestBadgesFollowTotals(t *testing.T) {
	st := seed(t, "s1", &domain.Weather{Condition: "Rain"})
	ride(t, st, "s1", "kid-1", domain.RoleChild, "a", "c")
	ctx := context.Background()

	stats := NewParticipation(st, discard())
	badges := NewBadges(st, nil, discard())
	badges.now = func() time.Time { return finishedAt }

	sess := session(t, st, "s1")
	if err := stats.SessionEnded(ctx, sess); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if err := badges.SessionEnded(ctx, sess); err != nil {
		t.Fatalf("badges: %v", err)
	}

	codes := func() []string {
		var out []string
		for _, b := range st.Badges("kid-1") {
			out = append(out, b.Code)
		}
		return out
	}
	got := codes()
	want := []string{"distance_1km", "first_trip", "rain_walker"}
	if len(got) != len(want) {
		t.Fatalf("badges = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("badges = %v, want %v", got, want)
		}
	}

	// Running again awards nothing new.
	if err := badges.SessionEnded(ctx, sess); err != nil {
		t.Fatalf("badges again: %v", err)
	}
	if again := codes(); len(again) != 3 {
		t.Fatalf("badges after rerun = %v", again)
	}
}

func TestBadgesAccumulateAcrossSessions(t *testing.T) {
	st := seed(t, "s0", nil)
	ctx := context.Background()
	stats := NewParticipation(st, discard())
	badges := NewBadges(st, DefaultMilestones(), discard())

	for i := 0; i < 5; i++ {
		id := "s" + string(rune('1'+i))
		addSession(t, st, id, nil)
		ride(t, st, id, "kid-1", domain.RoleChild, "a", "c")
		sess := session(t, st, id)
		if err := stats.SessionEnded(ctx, sess); err != nil {
			t.Fatalf("stats %s: %v", id, err)
		}
		if err := badges.SessionEnded(ctx, sess); err != nil {
			t.Fatalf("badges %s: %v", id, err)
		}
	}

	have := map[string]bool{}
	for _, b := range st.Badges("kid-1") {
		have[b.Code] = true
	}
	for _, code := range []string{"first_trip", "trips_5", "distance_1km", "distance_5km"} {
		if !have[code] {
			t.Errorf("missing badge %s (have %v)", code, have)
		}
	}
	if have["trips_10"] || have["rain_walker"] {
		t.Errorf("unexpected badges %v", have)
	}
}

func TestBikeTrainBadge(t *testing.T) {
	st := seed(t, "s0", nil)
	ctx := context.Background()
	if err := st.CreateSession(ctx, domain.ActivitySession{ID: "bike", RouteID: "r1", Type: domain.TypeBikeTrain, FinishedAt: &finishedAt}, nil); err != nil {
		t.Fatalf("create session: %v", err)
	}
	ride(t, st, "bike", "kid-1", domain.RoleChild, "a", "b")

	milestones := []Milestone{{Code: "bike_train", Met: bikeTrain}}
	if err := NewBadges(st, milestones, discard()).SessionEnded(ctx, session(t, st, "bike")); err != nil {
		t.Fatalf("badges: %v", err)
	}
	if got := st.Badges("kid-1"); len(got) != 1 || got[0].Code != "bike_train" {
		t.Fatalf("badges = %+v", got)
	}
}

type failingStats struct {
	*memory.Store
}

func (f failingStats) SaveParticipation(context.Context, []domain.Participation) error {
	return errors.New("disk full")
}

func TestParticipationReportsStoreFailure(t *testing.T) {
	st := seed(t, "s1", nil)
	ride(t, st, "s1", "kid-1", domain.RoleChild, "a", "b")
	err := NewParticipation(failingStats{st}, discard()).SessionEnded(context.Background(), session(t, st, "s1"))
	if err == nil {
		t.Fatal("expected error")
	}
}
