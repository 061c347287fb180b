package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskIDRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   TaskID
	}{
		{
			name: "etcd proxy",
			id:   TaskID{Type: TaskTypeEtcdProxy, AgentID: "20260801-123456-1-S3", UID: "a1b2c3"},
		},
		{
			name: "restart task",
			id:   TaskID{Type: TaskTypeRestart, AgentID: "agent-with-dashes-S0", UID: "0f9e8d7c"},
		},
		{
			name: "uid containing separators",
			id:   TaskID{Type: TaskTypeNode, AgentID: "S1", UID: "uid.with.dots"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.id.Encode()
			parsed, err := ParseTaskID(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.id, parsed)
		})
	}
}

func TestParseTaskIDErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "empty", in: ""},
		{name: "missing fields", in: "etcd-proxy.agent"},
		{name: "unknown type", in: "mystery-task.agent.uid"},
		{name: "empty agent", in: "etcd-proxy..uid"},
		{name: "empty uid", in: "etcd-proxy.agent."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTaskID(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestTaskStatePredicates(t *testing.T) {
	tests := []struct {
		state    TaskState
		active   bool
		failed   bool
		finished bool
	}{
		{TaskStateStaging, true, false, false},
		{TaskStateStarting, true, false, false},
		{TaskStateRunning, true, false, false},
		{TaskStateFinished, false, false, true},
		{TaskStateFailed, false, true, false},
		{TaskStateKilled, false, true, false},
		{TaskStateLost, false, true, false},
		{TaskStateError, false, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.active, tt.state.Active())
			assert.Equal(t, tt.failed, tt.state.Failed())
			assert.Equal(t, tt.finished, tt.state.Finished())
			assert.Equal(t, tt.failed || tt.finished, tt.state.Terminal())
		})
	}
}

func TestTaskTypeValid(t *testing.T) {
	for _, tt := range AllTaskTypes {
		assert.True(t, tt.Valid(), "type %s should be valid", tt)
	}
	assert.False(t, TaskType("reboot").Valid())
	assert.False(t, TaskType("").Valid())
}
