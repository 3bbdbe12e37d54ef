// Package observability provides the monitoring HTTP surface: Prometheus
// metrics, health probes, and a view of the recording sessions in flight.
package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// SessionInfo is a point-in-time view of one active recording session, as
// served on the /sessions endpoint.
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
	StartedAt string `json:"startedAt"`
	Speakers  int    `json:"speakers"`
}

// SessionLister reports the sessions currently recording. A nil lister
// means the process does not capture audio (transcribe-only invocations).
type SessionLister func() []SessionInfo

// Server provides HTTP endpoints for observability.
type Server struct {
	server   *http.Server
	addr     string
	sessions SessionLister
}

// NewServer creates a new observability HTTP server.
func NewServer(addr string, sessions SessionLister) *Server {
	s := &Server{addr: addr, sessions: sessions}

	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/sessions", s.handleSessions)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	active := 0
	if s.sessions != nil {
		active = len(s.sessions())
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ready",
		"activeSessions": active,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	list := []SessionInfo{}
	if s.sessions != nil {
		list = append(list, s.sessions()...)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.addr).Msg("Starting observability HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Observability HTTP server error")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down observability HTTP server")
	return s.server.Shutdown(ctx)
}
