package httpapi

import (
	"context"
	"errors"
	"net/http"

	"walkingbus/internal/apperr"
	"walkingbus/internal/catalog"
	"walkingbus/internal/domain"
	"walkingbus/internal/engine"
	"walkingbus/internal/route"
)

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	id, err := s.identity.Resolve(r)
	if err != nil {
		s.respondError(w, r, err)
		return Identity{}, false
	}
	return id, true
}

func (s *Server) admin(w http.ResponseWriter, r *http.Request) bool {
	id, ok := s.caller(w, r)
	if !ok {
		return false
	}
	if id.Role != domain.RoleAdmin {
		s.respondError(w, r, apperr.New(apperr.CodeUnauthorized, "admin role required"))
		return false
	}
	return true
}

// viewer resolves the caller and checks read access to the session in the
// path.
func (s *Server) viewer(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := s.caller(w, r)
	if !ok {
		return "", false
	}
	sessionID := r.PathValue("id")
	if err := s.engine.CanView(r.Context(), sessionID, id.PersonID, id.Role); err != nil {
		s.respondError(w, r, err)
		return "", false
	}
	return sessionID, true
}

// ImportRoute handles POST /v1/routes?id=...
func (s *Server) ImportRoute(w http.ResponseWriter, r *http.Request) {
	if !s.admin(w, r) {
		return
	}
	doc, err := route.Decode(http.MaxBytesReader(w, r.Body, maxRouteBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = apperr.Wrap(apperr.CodeInvalidArgument, "route document too large", err)
		}
		s.respondError(w, r, err)
		return
	}
	view, err := s.catalog.ImportRoute(r.Context(), r.URL.Query().Get("id"), doc)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

// RouteStops handles GET /v1/routes/{id}/stops
func (s *Server) RouteStops(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.caller(w, r); !ok {
		return
	}
	view, err := s.catalog.Route(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) ScheduleSession(w http.ResponseWriter, r *http.Request) {
	if !s.admin(w, r) {
		return
	}
	var in catalog.NewSession
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	sess, err := s.catalog.ScheduleSession(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

type registrationRequest struct {
	PersonID         string      `json:"personId"`
	Role             domain.Role `json:"role"`
	PickupStationID  string      `json:"pickupStationId"`
	DropoffStationID string      `json:"dropoffStationId"`
}

func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	if !s.admin(w, r) {
		return
	}
	var req registrationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	reg := domain.Registration{
		SessionID:        r.PathValue("id"),
		PersonID:         req.PersonID,
		Role:             req.Role,
		PickupStationID:  req.PickupStationID,
		DropoffStationID: req.DropoffStationID,
	}
	if err := s.catalog.Register(r.Context(), reg); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, reg)
}

type transition func(eng *engine.Engine, r *http.Request, sessionID, actorID string) (any, error)

// lifecycle adapts an engine transition to a handler. The caller acts as
// the instructor.
func (s *Server) lifecycle(fn transition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.caller(w, r)
		if !ok {
			return
		}
		out, err := fn(s.engine, r, r.PathValue("id"), id.PersonID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if out == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		respondJSON(w, http.StatusOK, out)
	}
}

func (s *Server) Start(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(func(eng *engine.Engine, r *http.Request, sessionID, actorID string) (any, error) {
		return eng.Start(r.Context(), sessionID, actorID)
	})(w, r)
}

func (s *Server) Arrive(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(func(eng *engine.Engine, r *http.Request, sessionID, actorID string) (any, error) {
		return eng.Arrive(r.Context(), sessionID, actorID)
	})(w, r)
}

func (s *Server) Advance(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(func(eng *engine.Engine, r *http.Request, sessionID, actorID string) (any, error) {
		return eng.Advance(r.Context(), sessionID, actorID)
	})(w, r)
}

func (s *Server) End(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(func(eng *engine.Engine, r *http.Request, sessionID, actorID string) (any, error) {
		return nil, eng.End(r.Context(), sessionID, actorID)
	})(w, r)
}

func (s *Server) Snapshot(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.viewer(w, r)
	if !ok {
		return
	}
	snap, err := s.engine.Snapshot(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

type statusResponse struct {
	SessionID string               `json:"sessionId"`
	Status    domain.SessionStatus `json:"status"`
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.viewer(w, r)
	if !ok {
		return
	}
	st, err := s.engine.Status(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{SessionID: sessionID, Status: st})
}

func (s *Server) Schedule(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.viewer(w, r)
	if !ok {
		return
	}
	stops, err := s.engine.Schedule(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stops)
}

func (s *Server) PendingPickups(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.viewer(w, r)
	if !ok {
		return
	}
	regs, err := s.engine.PendingPickups(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(regs))
}

func (s *Server) PendingDropoffs(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.viewer(w, r)
	if !ok {
		return
	}
	regs, err := s.engine.PendingDropoffs(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(regs))
}

func nonNil(regs []domain.Registration) []domain.Registration {
	if regs == nil {
		return []domain.Registration{}
	}
	return regs
}

type attendanceRequest struct {
	PersonID string `json:"personId"`
}

type recordFunc func(eng *engine.Engine, r *http.Request, actorID, personID, sessionID string) (domain.Attendance, error)

// attendance records a check-in or check-out. An empty personId records the
// caller.
func (s *Server) attendance(fn recordFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.caller(w, r)
		if !ok {
			return
		}
		var req attendanceRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				s.respondError(w, r, err)
				return
			}
		}
		if req.PersonID == "" {
			req.PersonID = id.PersonID
		}
		a, err := fn(s.engine, r, id.PersonID, req.PersonID, r.PathValue("id"))
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, a)
	}
}

func (s *Server) CheckIn(w http.ResponseWriter, r *http.Request) {
	s.attendance(func(eng *engine.Engine, r *http.Request, actorID, personID, sessionID string) (domain.Attendance, error) {
		return eng.CheckIn(r.Context(), actorID, personID, sessionID)
	})(w, r)
}

func (s *Server) CheckOut(w http.ResponseWriter, r *http.Request) {
	s.attendance(func(eng *engine.Engine, r *http.Request, actorID, personID, sessionID string) (domain.Attendance, error) {
		return eng.CheckOut(r.Context(), actorID, personID, sessionID)
	})(w, r)
}

func (s *Server) UndoCheckIn(w http.ResponseWriter, r *http.Request) {
	s.undo(w, r, (*engine.Engine).UndoCheckIn)
}

func (s *Server) UndoCheckOut(w http.ResponseWriter, r *http.Request) {
	s.undo(w, r, (*engine.Engine).UndoCheckOut)
}

func (s *Server) undo(w http.ResponseWriter, r *http.Request, fn func(*engine.Engine, context.Context, string, string, string) error) {
	id, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := fn(s.engine, r.Context(), id.PersonID, r.PathValue("personId"), r.PathValue("id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
