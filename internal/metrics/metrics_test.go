package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func assertLines(t *testing.T, body string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(body, w+"\n") {
			t.Errorf("metrics output missing %q", w)
		}
	}
}

func TestObserveOperation(t *testing.T) {
	c := NewCollector(30 * time.Minute)

	c.ObserveOperation("start", "", time.Millisecond)
	c.ObserveOperation("start", "ALREADY_STARTED", time.Millisecond)
	c.ObserveOperation("advance", "CHILDREN_PENDING", time.Millisecond)
	c.ObserveOperation("advance", "CHILDREN_PENDING", time.Millisecond)

	assertLines(t, scrape(t, c),
		`walkingbus_transitions_total{op="start"} 1`,
		`walkingbus_rejections_total{code="ALREADY_STARTED",op="start"} 1`,
		`walkingbus_rejections_total{code="CHILDREN_PENDING",op="advance"} 2`,
		"walkingbus_start_window_minutes 30",
	)

	c.ObserveOperation("end", "", time.Millisecond)
	body := scrape(t, c)
	assertLines(t, body, `walkingbus_transitions_total{op="end"} 1`)
	if strings.Contains(body, "walkingbus_active_sessions") {
		t.Error("process-local session gauge is exported")
	}
}

func TestSinkConnected(t *testing.T) {
	c := NewCollector(0)
	c.SinkConnected("nats", true)
	assertLines(t, scrape(t, c), `walkingbus_sink_connected{sink="nats"} 1`)
	c.SinkConnected("nats", false)
	assertLines(t, scrape(t, c), `walkingbus_sink_connected{sink="nats"} 0`)
}

func TestDispatcherAndHookCounters(t *testing.T) {
	c := NewCollector(0)
	c.EventDropped()
	c.EventPublished("log")
	c.EventPublishFailed("amqp")
	c.HookFailed("stats")
	c.WeatherFailed()
	c.RouteIngested()

	assertLines(t, scrape(t, c),
		"walkingbus_events_dropped_total 1",
		`walkingbus_events_published_total{sink="log"} 1`,
		`walkingbus_event_publish_errors_total{sink="amqp"} 1`,
		`walkingbus_end_hook_failures_total{hook="stats"} 1`,
		"walkingbus_weather_lookup_errors_total 1",
		"walkingbus_routes_ingested_total 1",
	)
}
