package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netweave/netweave/pkg/agent"
	"github.com/netweave/netweave/pkg/events"
	"github.com/netweave/netweave/pkg/types"
)

type stubAgents struct {
	statuses []agent.Status
}

func (s *stubAgents) Snapshot() []agent.Status { return s.statuses }

type stubLog struct {
	events []*events.Event
	err    error
}

func (s *stubLog) Tail(n int) ([]*events.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	if n > len(s.events) {
		n = len(s.events)
	}
	return s.events[len(s.events)-n:], nil
}

type stubLeader struct {
	leader bool
	addr   string
}

func (s *stubLeader) IsLeader() bool     { return s.leader }
func (s *stubLeader) LeaderAddr() string { return s.addr }

// TestHealthHandler tests the /health endpoint
func TestHealthHandler(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{
			name:           "GET request succeeds",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST request fails",
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:           "DELETE request fails",
			method:         http.MethodDelete,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			s.GetHandler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				err := json.NewDecoder(w.Body).Decode(&response)
				assert.NoError(t, err)
				assert.Equal(t, "healthy", response.Status)
				assert.NotZero(t, response.Timestamp)
			}
		})
	}
}

// TestReadyHandler tests the /ready endpoint
func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name           string
		leader         LeaderInfo
		log            EventLog
		expectedStatus int
	}{
		{
			name:           "leader with journal is ready",
			leader:         &stubLeader{leader: true},
			log:            &stubLog{},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "standby replica is not ready",
			leader:         &stubLeader{leader: false, addr: "10.0.0.2:7946"},
			log:            &stubLog{},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "no leader elected is not ready",
			leader:         &stubLeader{},
			log:            &stubLog{},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "journal error is not ready",
			leader:         &stubLeader{leader: true},
			log:            &stubLog{err: fmt.Errorf("db closed")},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "election disabled is ready",
			leader:         nil,
			log:            &stubLog{},
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(nil, tt.log, tt.leader, nil)

			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			w := httptest.NewRecorder()
			s.GetHandler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response ReadyResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.NotEmpty(t, response.Checks)
		})
	}
}

// TestAgentsHandler tests the /agents endpoint
func TestAgentsHandler(t *testing.T) {
	agents := &stubAgents{statuses: []agent.Status{
		{
			AgentID:    "agent-1",
			Restarting: true,
			Tasks: []agent.TaskStatus{
				{Type: types.TaskTypeEtcdProxy, UID: "u1", State: types.TaskStateRunning},
			},
		},
	}}
	s := NewServer(agents, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	w := httptest.NewRecorder()
	s.GetHandler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var got []agent.Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "agent-1", got[0].AgentID)
	assert.True(t, got[0].Restarting)
}

func TestAgentsHandlerWithoutScheduler(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	w := httptest.NewRecorder()
	s.GetHandler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// TestEventsHandler tests the /events endpoint
func TestEventsHandler(t *testing.T) {
	log := &stubLog{}
	for i := 0; i < 5; i++ {
		log.events = append(log.events, &events.Event{
			Type:    events.EventTaskLaunched,
			AgentID: fmt.Sprintf("agent-%d", i),
		})
	}
	s := NewServer(nil, log, nil, nil)

	tests := []struct {
		name           string
		url            string
		expectedStatus int
		expectedCount  int
	}{
		{"default count", "/events", http.StatusOK, 5},
		{"limited count", "/events?n=2", http.StatusOK, 2},
		{"bad count", "/events?n=zero", http.StatusBadRequest, 0},
		{"negative count", "/events?n=-1", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()
			s.GetHandler().ServeHTTP(w, req)

			require.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				var got []*events.Event
				require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
				assert.Len(t, got, tt.expectedCount)
			}
		})
	}
}

func TestEventsHandlerEmptyLogReturnsArray(t *testing.T) {
	s := NewServer(nil, &stubLog{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	s.GetHandler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}

type stubJoiner struct {
	err     error
	gotNode string
	gotAddr string
}

func (s *stubJoiner) AddVoter(nodeID, address string) error {
	s.gotNode = nodeID
	s.gotAddr = address
	return s.err
}

func postJoin(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/join", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.GetHandler().ServeHTTP(w, req)
	return w
}

// TestJoinHandler tests the /join endpoint
func TestJoinHandler(t *testing.T) {
	joiner := &stubJoiner{}
	s := NewServer(nil, nil, &stubLeader{leader: true}, joiner)

	w := postJoin(t, s, `{"node_id":"netweave-2","address":"10.0.0.2:7946"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "netweave-2", joiner.gotNode)
	assert.Equal(t, "10.0.0.2:7946", joiner.gotAddr)
}

func TestJoinHandlerRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{"malformed body", "{not json", http.StatusBadRequest},
		{"missing node id", `{"address":"10.0.0.2:7946"}`, http.StatusBadRequest},
		{"missing address", `{"node_id":"netweave-2"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			joiner := &stubJoiner{}
			s := NewServer(nil, nil, &stubLeader{leader: true}, joiner)

			w := postJoin(t, s, tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Empty(t, joiner.gotNode, "AddVoter must not be called")
		})
	}
}

func TestJoinHandlerRequiresPost(t *testing.T) {
	s := NewServer(nil, nil, nil, &stubJoiner{})

	req := httptest.NewRequest(http.MethodGet, "/join", nil)
	w := httptest.NewRecorder()
	s.GetHandler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestJoinHandlerOnStandbyPointsAtLeader(t *testing.T) {
	joiner := &stubJoiner{err: fmt.Errorf("not the leader")}
	s := NewServer(nil, nil, &stubLeader{leader: false, addr: "10.0.0.1:7946"}, joiner)

	w := postJoin(t, s, `{"node_id":"netweave-3","address":"10.0.0.3:7946"}`)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "10.0.0.1:7946")
}

func TestJoinHandlerWithoutElection(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)

	w := postJoin(t, s, `{"node_id":"netweave-2","address":"10.0.0.2:7946"}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpointRegistered(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.GetHandler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
