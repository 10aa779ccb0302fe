// Package adminapi exposes cluster introspection over REST/JSON and a
// websocket event feed, for operator tooling rather than cluster
// clients: one gorilla/mux handler per route plus a plain fan-out
// websocket broadcast feed in hub.go.
package adminapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ocx/backend/internal/preparedops"
	"github.com/ocx/backend/internal/recovery"
	"github.com/ocx/backend/internal/serverlist"
)

// ServerListProvider is the subset of *failuredetector.FailureDetector
// the admin API needs, kept narrow to avoid importing the whole
// failure-detector package into the HTTP layer.
type ServerListProvider interface {
	ServerList() serverlist.List
}

// Server serves the admin HTTP/websocket surface.
type Server struct {
	router *mux.Router
	hub    *EventHub
	logger *slog.Logger

	serverList ServerListProvider
	ops        *preparedops.PreparedOps
	recovery   *recovery.Pool
}

// New constructs an admin API server. Any collaborator may be nil; the
// corresponding route reports a 503 instead of panicking.
func New(serverList ServerListProvider, ops *preparedops.PreparedOps, recoveryPool *recovery.Pool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:     mux.NewRouter(),
		hub:        NewEventHub(logger),
		logger:     logger,
		serverList: serverList,
		ops:        ops,
		recovery:   recoveryPool,
	}
	s.routes()
	return s
}

// Hub returns the event hub, so callers (the failure detector, the
// prepared-ops watchdog) can Publish events to connected admin clients.
func (s *Server) Hub() *EventHub {
	return s.hub
}

// Router returns the underlying mux.Router, e.g. for http.ListenAndServe.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(corsMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/serverlist", s.handleServerList).Methods("GET")
	s.router.HandleFunc("/preparedops", s.handlePreparedOps).Methods("GET")
	s.router.HandleFunc("/recovery/stats", s.handleRecoveryStats).Methods("GET")
	s.router.HandleFunc("/events", s.hub.ServeWS)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleServerList(w http.ResponseWriter, r *http.Request) {
	if s.serverList == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server list not available"})
		return
	}
	writeJSON(w, http.StatusOK, s.serverList.ServerList())
}

func (s *Server) handlePreparedOps(w http.ResponseWriter, r *http.Request) {
	if s.ops == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "prepared ops table not available"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"active": s.ops.Len()})
}

func (s *Server) handleRecoveryStats(w http.ResponseWriter, r *http.Request) {
	if s.recovery == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "recovery pool not available"})
		return
	}
	completed, dropped := s.recovery.Stats()
	writeJSON(w, http.StatusOK, map[string]int{"completed": completed, "dropped": dropped})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
