package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	name string
	err  error

	mu  sync.Mutex
	got []Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
	return s.err
}

func (s *recordingSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.got...)
}

type countingMetrics struct {
	mu        sync.Mutex
	published map[string]int
	failed    map[string]int
	dropped   int
	observed  int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{published: map[string]int{}, failed: map[string]int{}}
}

func (m *countingMetrics) EventPublished(sink string) {
	m.mu.Lock()
	m.published[sink]++
	m.mu.Unlock()
}

func (m *countingMetrics) EventPublishFailed(sink string) {
	m.mu.Lock()
	m.failed[sink]++
	m.mu.Unlock()
}

func (m *countingMetrics) EventDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func (m *countingMetrics) PublishObserve(time.Duration) {
	m.mu.Lock()
	m.observed++
	m.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherDeliversToEverySinkInOrder(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	bad := &recordingSink{name: "bad", err: errors.New("broker down")}
	m := newCountingMetrics()
	d := NewDispatcher(8, quietLogger(), m, ok, bad)
	d.Run()

	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	d.Emit(New(KindSessionStarted, "s1", at))
	d.Emit(New(KindArrivedAtStation, "s1", at).AtStop("st1", 1))

	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got := ok.events()
	if len(got) != 2 || got[0].Kind != KindSessionStarted || got[1].Kind != KindArrivedAtStation {
		t.Fatalf("delivered = %+v", got)
	}
	if got[1].StationID != "st1" || got[1].StopNumber != 1 {
		t.Fatalf("stop fields = %+v", got[1])
	}
	if len(bad.events()) != 2 {
		t.Fatalf("failing sink still receives every event, got %d", len(bad.events()))
	}
	if m.published["ok"] != 2 || m.failed["bad"] != 2 || m.observed != 4 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &recordingSink{name: "ok"}
	m := newCountingMetrics()
	d := NewDispatcher(1, quietLogger(), m, sink)

	at := time.Now()
	d.Emit(New(KindSessionStarted, "s1", at))
	d.Emit(New(KindSessionEnded, "s1", at))
	if m.dropped != 1 {
		t.Fatalf("dropped = %d, want 1", m.dropped)
	}

	d.Run()
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := sink.events(); len(got) != 1 || got[0].Kind != KindSessionStarted {
		t.Fatalf("delivered = %+v", got)
	}
}

func TestDispatcherEmitAfterStop(t *testing.T) {
	m := newCountingMetrics()
	d := NewDispatcher(4, quietLogger(), m)
	d.Run()
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	d.Emit(New(KindSessionEnded, "s1", time.Now()))
	if m.dropped != 1 {
		t.Fatalf("dropped = %d", m.dropped)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestDispatcherRunStartsOneWorker(t *testing.T) {
	sink := &recordingSink{name: "ok"}
	d := NewDispatcher(64, quietLogger(), newCountingMetrics(), sink)
	at := time.Now()
	for i := 1; i <= 50; i++ {
		d.Emit(New(KindArrivedAtStation, "s1", at).AtStop("st", i))
	}
	d.Run()
	d.Run()
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got := sink.events()
	if len(got) != 50 {
		t.Fatalf("delivered %d events, want 50", len(got))
	}
	for i, ev := range got {
		if ev.StopNumber != i+1 {
			t.Fatalf("event %d delivered out of order: stop %d", i, ev.StopNumber)
		}
	}
}

func TestNewAssignsIDs(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.FixedZone("WET", 3600))
	a := New(KindSessionStarted, "s1", at)
	b := New(KindSessionStarted, "s1", at)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids = %q, %q", a.ID, b.ID)
	}
	if a.OccurredAt.Location() != time.UTC {
		t.Fatalf("occurredAt not UTC: %v", a.OccurredAt)
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix string
		ev     Event
		want   string
	}{
		{"walkingbus.sessions", Event{SessionID: "abc", Kind: KindSessionStarted}, "walkingbus.sessions.abc.session_started"},
		{"wb", Event{SessionID: "a.b c", Kind: KindPresenceChanged}, "wb.a_b_c.presence_changed"},
		{"wb", Event{SessionID: "  ", Kind: KindSessionEnded}, "wb._.session_ended"},
		{"wb", Event{SessionID: "x>*", Kind: KindArrivedAtStation}, "wb.x__.arrived_at_station"},
	}
	for _, tt := range tests {
		if got := Subject(tt.prefix, tt.ev); got != tt.want {
			t.Errorf("Subject(%q, %+v) = %q, want %q", tt.prefix, tt.ev, got, tt.want)
		}
	}
}

func TestRoutingKey(t *testing.T) {
	if got := RoutingKey(Event{Kind: KindAdvancedToStation}); got != "session.advanced_to_station" {
		t.Fatalf("routing key = %q", got)
	}
}

func TestLogSinkWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	ev := New(KindPresenceChanged, "s1", time.Now())
	ev.PersonID = "kid-1"
	ev.Direction = "in"
	if err := sink.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["kind"] != string(KindPresenceChanged) || rec["person"] != "kid-1" || rec["component"] != "events" {
		t.Fatalf("record = %v", rec)
	}
}
