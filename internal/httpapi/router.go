// Package httpapi exposes the Supervisor and Discovery Pipeline control
// surface from SPEC_FULL.md §6, routed with gorilla/mux as the teacher
// pack's HTTP-serving repos do.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

// SupervisorControl is the slice of *supervisor.Supervisor the HTTP API
// drives. Declared as an interface so handlers are testable without a
// real fleet running.
type SupervisorControl interface {
	Start(ctx context.Context, device *domain.Device)
	Stop(deviceID int64)
	Status() map[int64]domain.PollerStatus
}

// DeviceLookup resolves a device id to its record, for validating
// start/stop targets before handing them to the Supervisor.
type DeviceLookup interface {
	GetByID(deviceID int64) (*domain.Device, bool)
}

// DiscoveryControl is the slice of the discovery runner the HTTP API
// drives.
type DiscoveryControl interface {
	RunAsync(flags DiscoveryRunFlags) error
	Status() DiscoveryStatus
	Logs() []string
}

// DiscoveryRunFlags mirrors the POST /discovery/run request body.
type DiscoveryRunFlags struct {
	Interfaces        []string `json:"interfaces"`
	AutoActivate      bool     `json:"auto_activate"`
	OverwriteExisting bool     `json:"overwrite_existing"`
}

// DiscoveryStatus mirrors the GET /discovery/status response body.
type DiscoveryStatus struct {
	RunID          string    `json:"run_id,omitempty"`
	Running        bool      `json:"running"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	LastFinishedAt time.Time `json:"last_finished_at,omitempty"`
	ResultCount    int       `json:"result_count"`
}

// Server wires the Supervisor and Discovery control surfaces onto a
// gorilla/mux router.
type Server struct {
	router     *mux.Router
	supervisor SupervisorControl
	devices    DeviceLookup
	discovery  DiscoveryControl
	logger     zerolog.Logger
}

// New builds the routed Server. Callers mount health/metrics handlers
// separately via Router().
func New(sup SupervisorControl, devices DeviceLookup, disc DiscoveryControl, logger zerolog.Logger) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		supervisor: sup,
		devices:    devices,
		discovery:  disc,
		logger:     logger.With().Str("component", "httpapi").Logger(),
	}
	s.routes()
	return s
}

// Router returns the underlying mux.Router for mounting additional
// handlers (health, metrics) in cmd/fleetd.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) routes() {
	s.router.HandleFunc("/supervisor/devices/{id}/start", s.handleStart).Methods(http.MethodPost)
	s.router.HandleFunc("/supervisor/devices/{id}/stop", s.handleStop).Methods(http.MethodPost)
	s.router.HandleFunc("/supervisor/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/discovery/run", s.handleDiscoveryRun).Methods(http.MethodPost)
	s.router.HandleFunc("/discovery/status", s.handleDiscoveryStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/discovery/logs", s.handleDiscoveryLogs).Methods(http.MethodGet)
}

func parseDeviceID(r *http.Request) (int64, bool) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	return id, err == nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, ok := parseDeviceID(r)
	if !ok {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return
	}
	device, ok := s.devices.GetByID(id)
	if !ok {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	if status, ok := s.supervisor.Status()[id]; ok && status.Running {
		w.WriteHeader(http.StatusConflict)
		return
	}
	s.supervisor.Start(r.Context(), device)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, ok := parseDeviceID(r)
	if !ok {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return
	}
	if _, ok := s.devices.GetByID(id); !ok {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	status, running := s.supervisor.Status()[id]
	if !running || !status.Running {
		w.WriteHeader(http.StatusConflict)
		return
	}
	s.supervisor.Stop(id)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.supervisor.Status())
}

func (s *Server) handleDiscoveryRun(w http.ResponseWriter, r *http.Request) {
	var flags DiscoveryRunFlags
	if err := json.NewDecoder(r.Body).Decode(&flags); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.discovery.RunAsync(flags); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDiscoveryStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.discovery.Status())
}

func (s *Server) handleDiscoveryLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, line := range s.discovery.Logs() {
		w.Write([]byte(line))
		w.Write([]byte("\n"))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
