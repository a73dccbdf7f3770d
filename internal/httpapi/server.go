// Package httpapi exposes the engine and the catalog as JSON over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"walkingbus/internal/apperr"
	"walkingbus/internal/catalog"
	"walkingbus/internal/engine"
)

const (
	maxJSONBody  = 1 << 20
	maxRouteBody = 8 << 20
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	engine   *engine.Engine
	catalog  *catalog.Catalog
	store    Pinger
	identity IdentityResolver
	logger   *slog.Logger
}

func New(eng *engine.Engine, cat *catalog.Catalog, st Pinger, identity IdentityResolver, logger *slog.Logger) *Server {
	if identity == nil {
		identity = HeaderIdentity{}
	}
	return &Server{engine: eng, catalog: cat, store: st, identity: identity, logger: logger.With("component", "http")}
}

// Handler returns the routed, compressed and logged API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/routes", s.ImportRoute)
	mux.HandleFunc("GET /v1/routes/{id}/stops", s.RouteStops)

	mux.HandleFunc("POST /v1/sessions", s.ScheduleSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.Snapshot)
	mux.HandleFunc("POST /v1/sessions/{id}/registrations", s.Register)

	mux.HandleFunc("POST /v1/sessions/{id}/start", s.Start)
	mux.HandleFunc("POST /v1/sessions/{id}/arrive", s.Arrive)
	mux.HandleFunc("POST /v1/sessions/{id}/advance", s.Advance)
	mux.HandleFunc("POST /v1/sessions/{id}/end", s.End)

	mux.HandleFunc("GET /v1/sessions/{id}/status", s.Status)
	mux.HandleFunc("GET /v1/sessions/{id}/schedule", s.Schedule)
	mux.HandleFunc("GET /v1/sessions/{id}/pickups", s.PendingPickups)
	mux.HandleFunc("GET /v1/sessions/{id}/dropoffs", s.PendingDropoffs)

	mux.HandleFunc("POST /v1/sessions/{id}/check-in", s.CheckIn)
	mux.HandleFunc("POST /v1/sessions/{id}/check-out", s.CheckOut)
	mux.HandleFunc("DELETE /v1/sessions/{id}/check-in/{personId}", s.UndoCheckIn)
	mux.HandleFunc("DELETE /v1/sessions/{id}/check-out/{personId}", s.UndoCheckOut)

	mux.HandleFunc("GET /healthz", s.Healthz)
	mux.HandleFunc("GET /readyz", s.Readyz)

	return GzipMiddleware(s.logRequests(s.recoverPanics(mux)))
}

func GzipMiddleware(next http.Handler) http.Handler {
	wrapper, _ := gzhttp.NewWrapper(
		gzhttp.MinSize(1024),
		gzhttp.CompressionLevel(6),
	)
	return wrapper(next)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("handler panicked", "method", r.Method, "path", r.URL.Path, "panic", v)
				respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: string(apperr.CodeInternal)})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusOf maps an error kind onto an HTTP status.
func statusOf(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindStateConflict:
		return http.StatusConflict
	case apperr.KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal("unexpected failure", err)
	}
	status := statusOf(e.Kind)
	msg := e.Message
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	respondJSON(w, status, errorResponse{Error: msg, Code: string(e.Code)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.CodeInvalidArgument, "invalid request body", err)
	}
	return nil
}
