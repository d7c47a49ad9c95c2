package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"skillytics/internal/relay"
)

// StateSource provides consistent relay state snapshots. Interface rather
// than the concrete relay so handlers can be tested with canned state.
type StateSource interface {
	Snapshot(ctx context.Context) (*relay.Snapshot, error)
}

// Registry exposes the transport counters the health endpoint reports.
type Registry interface {
	Stats() map[string]int
}

// Server is the read-only HTTP surface: liveness plus presence aggregates.
// No business logic here, only HTTP handling and JSON serialization; every
// number it returns is computed by the relay.
type Server struct {
	state    StateSource
	registry Registry
	router   *mux.Router
}

// NewServer wires the API routes.
func NewServer(state StateSource, registry Registry) *Server {
	s := &Server{
		state:    state,
		registry: registry,
		router:   mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware, s.jsonMiddleware)

	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet, http.MethodOptions)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", s.getStats).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/leaderboard", s.getLeaderboard).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/feed", s.getFeed).Methods(http.MethodGet, http.MethodOptions)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Connections map[string]int `json:"connections"`
}

type StatsResponse struct {
	UserCount      int `json:"userCount"`
	ActiveMissions int `json:"activeMissions"`
	TotalActive    int `json:"totalActive"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health - liveness with transport counters. Reports unhealthy when the
// relay stops answering snapshot requests.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	if _, err := s.state.Snapshot(ctx); err != nil {
		status = "unhealthy"
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Connections: s.registry.Stats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(response)
}

// GET /api/stats - the same aggregates the relay broadcasts on stats:users
// and stats:missions, for clients that poll instead of subscribing.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	_ = json.NewEncoder(w).Encode(StatsResponse{
		UserCount:      snap.UserCount,
		ActiveMissions: snap.ActiveMissions,
		TotalActive:    snap.TotalActive,
	})
}

// GET /api/leaderboard - same computation as the leaderboard:request event.
func (s *Server) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"users":     snap.Leaderboard,
		"timestamp": time.Now(),
	})
}

// GET /api/feed - activity feed snapshot, oldest first.
func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"entries":   snap.Feed,
		"timestamp": time.Now(),
	})
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (*relay.Snapshot, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	snap, err := s.state.Snapshot(ctx)
	if err != nil {
		s.sendError(w, "Relay unavailable", http.StatusServiceUnavailable)
		return nil, false
	}
	return snap, true
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware mirrors the permissive CORS the frontend's other services
// use; deployments restrict origins at the proxy.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(w, r)
	})
}
