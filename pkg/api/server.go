package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/netweave/netweave/pkg/agent"
	"github.com/netweave/netweave/pkg/events"
	"github.com/netweave/netweave/pkg/metrics"
)

// AgentLister exposes the scheduler's per-agent install progress.
type AgentLister interface {
	Snapshot() []agent.Status
}

// EventLog exposes the journaled event history.
type EventLog interface {
	Tail(n int) ([]*events.Event, error)
}

// LeaderInfo reports this replica's election standing.
type LeaderInfo interface {
	IsLeader() bool
	LeaderAddr() string
}

// Joiner admits a standby replica into the election cluster. Only the
// leader can admit; standbys forward callers to the leader address.
type Joiner interface {
	AddVoter(nodeID, address string) error
}

// Server provides the operational HTTP endpoints: liveness,
// readiness, Prometheus metrics, agent install progress, the recent
// event log, and election-cluster join for standby replicas.
// Installation itself is driven entirely by offers and status
// updates, never by operators.
type Server struct {
	agents AgentLister
	log    EventLog
	leader LeaderInfo
	joiner Joiner
	mux    *http.ServeMux
}

// NewServer creates the ops HTTP server. Any dependency may be nil;
// the matching endpoints degrade rather than panic.
func NewServer(agents AgentLister, eventLog EventLog, leader LeaderInfo, joiner Joiner) *Server {
	mux := http.NewServeMux()
	s := &Server{
		agents: agents,
		log:    eventLog,
		leader: leader,
		joiner: joiner,
		mux:    mux,
	}

	// Register endpoints
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/agents", s.agentsHandler)
	mux.HandleFunc("/events", s.eventsHandler)
	mux.HandleFunc("/join", s.joinHandler)
	mux.Handle("/metrics", metrics.Handler())

	return s
}

// Start starts the ops HTTP server
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint
// This is a simple liveness check - returns 200 if the process is alive
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// readyHandler implements the /ready endpoint. A standby replica is
// alive but not ready: it serves 503 so load balancers route
// operators to the active scheduler.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if s.leader != nil {
		if s.leader.IsLeader() {
			checks["election"] = "leader"
		} else if addr := s.leader.LeaderAddr(); addr != "" {
			checks["election"] = fmt.Sprintf("standby (leader: %s)", addr)
			ready = false
			message = "Standby replica"
		} else {
			checks["election"] = "no leader elected"
			ready = false
			message = "Waiting for leader election"
		}
	} else {
		checks["election"] = "disabled"
	}

	if s.log != nil {
		if _, err := s.log.Tail(1); err != nil {
			checks["journal"] = fmt.Sprintf("error: %v", err)
			ready = false
			if message == "" {
				message = "Journal not accessible"
			}
		} else {
			checks["journal"] = "ok"
		}
	} else {
		checks["journal"] = "disabled"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

// agentsHandler returns per-agent install progress.
func (s *Server) agentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.agents == nil {
		http.Error(w, "Scheduler not initialized", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, s.agents.Snapshot())
}

// eventsHandler returns the most recent journaled events. The count
// defaults to 100 and is clamped to 1000.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.log == nil {
		http.Error(w, "Journal not initialized", http.StatusServiceUnavailable)
		return
	}

	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	if n > 1000 {
		n = 1000
	}

	evs, err := s.log.Tail(n)
	if err != nil {
		http.Error(w, fmt.Sprintf("reading events: %v", err), http.StatusInternalServerError)
		return
	}
	if evs == nil {
		evs = []*events.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

// JoinRequest is the body a standby replica posts to enter the
// election cluster.
type JoinRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// joinHandler admits a standby replica as an election voter. Served
// meaningfully only by the leader; a standby answers 503 with the
// leader's address so the caller can retry there.
func (s *Server) joinHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.joiner == nil {
		http.Error(w, "Election not initialized", http.StatusServiceUnavailable)
		return
	}

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid join request body", http.StatusBadRequest)
		return
	}
	if req.NodeID == "" || req.Address == "" {
		http.Error(w, "node_id and address are required", http.StatusBadRequest)
		return
	}

	if err := s.joiner.AddVoter(req.NodeID, req.Address); err != nil {
		msg := fmt.Sprintf("join failed: %v", err)
		if s.leader != nil && !s.leader.IsLeader() && s.leader.LeaderAddr() != "" {
			msg = fmt.Sprintf("%s (leader: %s)", msg, s.leader.LeaderAddr())
		}
		http.Error(w, msg, http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

// GetHandler returns the HTTP handler for embedding in other servers
func (s *Server) GetHandler() http.Handler {
	return s.mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
