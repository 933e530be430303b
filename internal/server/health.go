package server

import (
	"net/http"
	"time"
)

var (
	okBody       = []byte("ok")
	notReadyBody = []byte("not ready")
	plainCT      = []string{"text/plain"}
)

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			w.Header()["Content-Type"] = plainCT
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write(notReadyBody)
			return
		}
	}
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

type statusDetails struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

type statusResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Details   statusDetails  `json:"details"`
}

// handleStatus serves the unauthenticated liveness endpoint.
func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	version := s.deps.ServiceVersion
	if version == "" {
		version = "dev"
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Details:   statusDetails{Service: "cyphergate", Version: version},
	})
}
