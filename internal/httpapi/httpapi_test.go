package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"walkingbus/internal/catalog"
	"walkingbus/internal/domain"
	"walkingbus/internal/engine"
	"walkingbus/internal/route"
	"walkingbus/internal/store/memory"
)

const routeDoc = `{
  "name": "Morning",
  "mode": "walking",
  "polyline": [[41.000, -8.0], [41.001, -8.0], [41.002, -8.0], [41.003, -8.0]],
  "waypoints": [
    {"name": "Park", "lat": 41.000, "lon": -8.0},
    {"name": "Bakery", "lat": 41.0015, "lon": -8.0},
    {"name": "School", "kind": "school", "lat": 41.003, "lon": -8.0}
  ]
}`

type testAPI struct {
	t       *testing.T
	handler http.Handler
	engine  *engine.Engine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	eng := engine.New(st, engine.WithLogger(logger))
	cat := catalog.New(st, route.DefaultEstimator(), nil, logger)
	srv := New(eng, cat, st, HeaderIdentity{}, logger)
	t.Cleanup(eng.Wait)
	return &testAPI{t: t, handler: srv.Handler(), engine: eng}
}

func (a *testAPI) do(method, path, person string, role domain.Role, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if person != "" {
		req.Header.Set(HeaderPersonID, person)
		req.Header.Set(HeaderPersonRole, string(role))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) expect(rec *httptest.ResponseRecorder, status int, out any) {
	a.t.Helper()
	if rec.Code != status {
		a.t.Fatalf("status = %d, want %d: %s", rec.Code, status, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			a.t.Fatalf("decode %q: %v", rec.Body.String(), err)
		}
	}
}

func (a *testAPI) expectError(rec *httptest.ResponseRecorder, status int, code string) {
	a.t.Helper()
	var body errorResponse
	a.expect(rec, status, &body)
	if body.Code != code || body.Error == "" {
		a.t.Fatalf("error body = %+v, want code %s", body, code)
	}
}

// seed imports the route, schedules s1 for inst and enrols kid and mum.
func (a *testAPI) seed() catalog.RouteView {
	a.t.Helper()
	var view catalog.RouteView
	a.expect(a.do(http.MethodPost, "/v1/routes?id=r1", "root", domain.RoleAdmin, routeDoc), http.StatusCreated, &view)
	if len(view.Stops) != 3 {
		a.t.Fatalf("stops = %+v", view.Stops)
	}

	at := time.Now().Add(10 * time.Minute).UTC().Format(time.RFC3339)
	a.expect(a.do(http.MethodPost, "/v1/sessions", "root", domain.RoleAdmin,
		`{"id":"s1","routeId":"r1","city":"Braga","scheduledAt":"`+at+`","instructorIds":["inst"]}`), http.StatusCreated, nil)

	a.expect(a.do(http.MethodPost, "/v1/sessions/s1/registrations", "root", domain.RoleAdmin,
		`{"personId":"kid","role":"child","pickupStationId":"`+view.Stops[0].StationID+`","dropoffStationId":"`+view.Stops[2].StationID+`"}`), http.StatusCreated, nil)
	a.expect(a.do(http.MethodPost, "/v1/sessions/s1/registrations", "root", domain.RoleAdmin,
		`{"personId":"mum","role":"parent"}`), http.StatusCreated, nil)
	return view
}

func (a *testAPI) status(person string, role domain.Role) domain.SessionStatus {
	a.t.Helper()
	var out statusResponse
	a.expect(a.do(http.MethodGet, "/v1/sessions/s1/status", person, role, ""), http.StatusOK, &out)
	return out.Status
}

func TestFullSessionOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	view := a.seed()
	inst := domain.RoleInstructor

	if got := a.status("inst", inst); got != domain.StatusNotStarted {
		t.Fatalf("status = %s", got)
	}

	var info engine.StationInfo
	a.expect(a.do(http.MethodPost, "/v1/sessions/s1/start", "inst", inst, ""), http.StatusOK, &info)
	if info.StationID != view.Stops[0].StationID || info.StopNumber != 1 {
		t.Fatalf("start = %+v", info)
	}
	a.expect(a.do(http.MethodPost, "/v1/sessions/s1/arrive", "inst", inst, ""), http.StatusOK, &info)

	var pickups []domain.Registration
	a.expect(a.do(http.MethodGet, "/v1/sessions/s1/pickups", "inst", inst, ""), http.StatusOK, &pickups)
	if len(pickups) != 1 || pickups[0].PersonID != "kid" {
		t.Fatalf("pickups = %+v", pickups)
	}

	var att domain.Attendance
	a.expect(a.do(http.MethodPost, "/v1/sessions/s1/check-in", "inst", inst, `{"personId":"kid"}`), http.StatusCreated, &att)
	if att.PersonID != "kid" || att.Direction != domain.DirectionIn || att.StationID != view.Stops[0].StationID {
		t.Fatalf("check-in = %+v", att)
	}
	a.expect(a.do(http.MethodPost, "/v1/sessions/s1/check-in", "mum", domain.RoleParent, ""), http.StatusCreated, &att)
	if att.PersonID != "mum" {
		t.Fatalf("self check-in = %+v", att)
	}
	a.expectError(a.do(http.MethodPost, "/v1/sessions/s1/check-in", "mum", domain.RoleParent, ""), http.StatusConflict, "ALREADY_DONE")

	for i := 0; i < 2; i++ {
		a.expect(a.do(http.MethodPost, "/v1/sessions/s1/advance", "inst", inst, ""), http.StatusOK, &info)
		if got := a.status("mum", domain.RoleParent); got != domain.StatusBetweenStations {
			t.Fatalf("status after advance = %s", got)
		}
		a.expect(a.do(http.MethodPost, "/v1/sessions/s1/arrive", "inst", inst, ""), http.StatusOK, &info)
	}
	if !info.IsLastStation || info.Name != "School" {
		t.Fatalf("arrived at %+v", info)
	}

	a.expectError(a.do(http.MethodPost, "/v1/sessions/s1/end", "inst", inst, ""), http.StatusConflict, "INCOMPLETE_CHECKOUTS")

	var dropoffs []domain.Registration
	a.expect(a.do(http.MethodGet, "/v1/sessions/s1/dropoffs", "inst", inst, ""), http.StatusOK, &dropoffs)
	if len(dropoffs) != 1 || dropoffs[0].PersonID != "kid" {
		t.Fatalf("dropoffs = %+v", dropoffs)
	}
	a.expect(a.do(http.MethodPost, "/v1/sessions/s1/check-out", "inst", inst, `{"personId":"kid"}`), http.StatusCreated, nil)
	a.expect(a.do(http.MethodPost, "/v1/sessions/s1/check-out", "mum", domain.RoleParent, `{}`), http.StatusCreated, nil)

	if got := a.status("inst", inst); got != domain.StatusReadyToEnd {
		t.Fatalf("status = %s", got)
	}
	rec := a.do(http.MethodPost, "/v1/sessions/s1/end", "inst", inst, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("end = %d %s", rec.Code, rec.Body.String())
	}

	var snap engine.Snapshot
	a.expect(a.do(http.MethodGet, "/v1/sessions/s1", "root", domain.RoleAdmin, ""), http.StatusOK, &snap)
	if snap.Status != domain.StatusEnded || snap.Session.FinishedAt == nil || len(snap.Stops) != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
	for _, s := range snap.Stops {
		if s.ArrivedAt == nil || s.LeftAt == nil {
			t.Fatalf("stop %d not fully visited: %+v", s.StopNumber, s)
		}
	}
}

func TestUndoOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	a.seed()
	inst := domain.RoleInstructor
	a.expect(a.do(http.MethodPost, "/v1/sessions/s1/start", "inst", inst, ""), http.StatusOK, nil)
	a.expect(a.do(http.MethodPost, "/v1/sessions/s1/arrive", "inst", inst, ""), http.StatusOK, nil)

	a.expectError(a.do(http.MethodDelete, "/v1/sessions/s1/check-in/kid", "inst", inst, ""), http.StatusNotFound, "NOT_FOUND")
	a.expect(a.do(http.MethodPost, "/v1/sessions/s1/check-in", "inst", inst, `{"personId":"kid"}`), http.StatusCreated, nil)

	a.expectError(a.do(http.MethodDelete, "/v1/sessions/s1/check-in/kid", "mum", domain.RoleParent, ""), http.StatusForbidden, "UNAUTHORIZED")
	if rec := a.do(http.MethodDelete, "/v1/sessions/s1/check-in/kid", "inst", inst, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("undo = %d %s", rec.Code, rec.Body.String())
	}
	a.expect(a.do(http.MethodPost, "/v1/sessions/s1/check-in", "inst", inst, `{"personId":"kid"}`), http.StatusCreated, nil)
}

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	a.seed()
	inst := domain.RoleInstructor

	a.expectError(a.do(http.MethodPost, "/v1/sessions/s1/advance", "inst", inst, ""), http.StatusConflict, "NOT_STARTED")
	a.expectError(a.do(http.MethodPost, "/v1/sessions/s1/start", "stranger", inst, ""), http.StatusForbidden, "NOT_ASSIGNED")
	a.expectError(a.do(http.MethodPost, "/v1/sessions/nope/start", "inst", inst, ""), http.StatusNotFound, "NOT_FOUND")
	a.expect(a.do(http.MethodPost, "/v1/sessions/s1/start", "inst", inst, ""), http.StatusOK, nil)
	a.expectError(a.do(http.MethodPost, "/v1/sessions/s1/start", "inst", inst, ""), http.StatusConflict, "ALREADY_STARTED")
	a.expectError(a.do(http.MethodPost, "/v1/sessions/s1/check-in", "inst", inst, `{"personId":`), http.StatusBadRequest, "INVALID_ARGUMENT")
	a.expectError(a.do(http.MethodPost, "/v1/routes", "root", domain.RoleAdmin, `{"polyline":[[1,1]],"waypoints":[]}`), http.StatusBadRequest, "INVALID_ROUTE")
	a.expectError(a.do(http.MethodGet, "/v1/routes/missing/stops", "inst", inst, ""), http.StatusNotFound, "NOT_FOUND")
}

func TestAccessControl(t *testing.T) {
	a := newTestAPI(t)
	a.seed()

	a.expectError(a.do(http.MethodGet, "/v1/sessions/s1/status", "", "", ""), http.StatusForbidden, "UNAUTHORIZED")
	a.expectError(a.do(http.MethodGet, "/v1/sessions/s1/status", "kid", "pirate", ""), http.StatusForbidden, "UNAUTHORIZED")
	a.expectError(a.do(http.MethodGet, "/v1/sessions/s1/status", "other-kid", domain.RoleChild, ""), http.StatusForbidden, "UNAUTHORIZED")
	a.expectError(a.do(http.MethodPost, "/v1/routes", "inst", domain.RoleInstructor, routeDoc), http.StatusForbidden, "UNAUTHORIZED")
	a.expectError(a.do(http.MethodPost, "/v1/sessions/s1/registrations", "mum", domain.RoleParent, `{"personId":"x","role":"parent"}`), http.StatusForbidden, "UNAUTHORIZED")

	if got := a.status("kid", domain.RoleChild); got != domain.StatusNotStarted {
		t.Fatalf("registered child status = %s", got)
	}

	var stops []engine.StationInfo
	a.expect(a.do(http.MethodGet, "/v1/sessions/s1/schedule", "kid", domain.RoleChild, ""), http.StatusOK, &stops)
	if len(stops) != 3 || stops[0].TimeFromStartMinutes != 0 || !stops[2].IsLastStation {
		t.Fatalf("schedule = %+v", stops)
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthEndpoints(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(http.MethodGet, "/healthz", "", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	var ready ReadyResponse
	a.expect(a.do(http.MethodGet, "/readyz", "", "", ""), http.StatusOK, &ready)
	if !ready.Ready {
		t.Fatalf("ready = %+v", ready)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(a.engine, nil, failingPinger{}, nil, logger)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("readyz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestGzipMiddleware(t *testing.T) {
	payload := bytes.Repeat([]byte("walking bus "), 200)
	h := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Content-Encoding") != "gzip" || rec.Body.Len() >= len(payload) {
		t.Fatalf("encoding = %q, size %d", rec.Header().Get("Content-Encoding"), rec.Body.Len())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("Content-Encoding") != "" || rec.Body.Len() != len(payload) {
		t.Fatalf("uncompressed response altered: %q %d", rec.Header().Get("Content-Encoding"), rec.Body.Len())
	}
}

func TestRecoverPanics(t *testing.T) {
	srv := New(nil, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := srv.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || rec.Code != http.StatusInternalServerError || body.Code != "INTERNAL" {
		t.Fatalf("recovered = %d %s", rec.Code, rec.Body.String())
	}
}
