package httpapi

import (
	"context"
	"net/http"
	"time"
)

func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready      bool      `json:"ready"`
	Error      string    `json:"error,omitempty"`
	ServerTime time.Time `json:"serverTime"`
}

func (s *Server) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := ReadyResponse{Ready: true, ServerTime: time.Now()}
	status := http.StatusOK
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			resp.Ready = false
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, status, resp)
}
