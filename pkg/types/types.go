package types

import (
	"fmt"
	"strings"
	"time"
)

// TaskType identifies one installation step. The set is closed: the
// agent state machine only ever consults these six types.
type TaskType string

const (
	// TaskTypeEtcdProxy runs a local proxy to the coordination store.
	// Long-running; relaunched whenever it is not observed alive.
	TaskTypeEtcdProxy TaskType = "etcd-proxy"

	// TaskTypeInstallPlugin installs the networking plugin onto the
	// node. One-shot; may signal that the node agent needs a restart.
	TaskTypeInstallPlugin TaskType = "install-plugin"

	// TaskTypeConfigureDocker points the container engine at the
	// cluster store. One-shot; may signal that the engine needs a
	// restart.
	TaskTypeConfigureDocker TaskType = "configure-docker"

	// TaskTypeRestart restarts the components flagged by the install
	// steps. One-shot.
	TaskTypeRestart TaskType = "restart"

	// TaskTypeNode runs the core networking daemon. Long-running.
	TaskTypeNode TaskType = "node"

	// TaskTypeNetDriver runs the networking driver for the container
	// runtime. Long-running.
	TaskTypeNetDriver TaskType = "net-driver"
)

// AllTaskTypes lists the known task types in installation order.
var AllTaskTypes = []TaskType{
	TaskTypeEtcdProxy,
	TaskTypeInstallPlugin,
	TaskTypeConfigureDocker,
	TaskTypeRestart,
	TaskTypeNode,
	TaskTypeNetDriver,
}

// Valid reports whether tt is one of the known task types.
func (tt TaskType) Valid() bool {
	switch tt {
	case TaskTypeEtcdProxy, TaskTypeInstallPlugin, TaskTypeConfigureDocker,
		TaskTypeRestart, TaskTypeNode, TaskTypeNetDriver:
		return true
	}
	return false
}

// TaskState represents the observed run state of a task instance.
type TaskState string

const (
	TaskStateStaging  TaskState = "staging"
	TaskStateStarting TaskState = "starting"
	TaskStateRunning  TaskState = "running"
	TaskStateFinished TaskState = "finished"
	TaskStateFailed   TaskState = "failed"
	TaskStateKilled   TaskState = "killed"
	TaskStateLost     TaskState = "lost"
	TaskStateError    TaskState = "error"
)

// Active reports whether the state counts as alive for scheduling
// purposes. A freshly launched instance (staging) is alive: it must
// not be relaunched before the first status report arrives.
func (s TaskState) Active() bool {
	return s == TaskStateStaging || s == TaskStateStarting || s == TaskStateRunning
}

// Failed reports whether the state is a failure terminal state.
func (s TaskState) Failed() bool {
	switch s {
	case TaskStateFailed, TaskStateKilled, TaskStateLost, TaskStateError:
		return true
	}
	return false
}

// Finished reports whether the state is the success terminal state.
func (s TaskState) Finished() bool {
	return s == TaskStateFinished
}

// Terminal reports whether no further transitions are expected.
func (s TaskState) Terminal() bool {
	return s.Failed() || s.Finished()
}

// TaskID identifies one task instance. It embeds the owning agent and
// the task type so a status update can be routed with no context
// beyond the identifier itself.
type TaskID struct {
	Type    TaskType
	AgentID string
	UID     string
}

// idSeparator joins the TaskID fields on the wire. Agent identifiers
// issued by the cluster manager contain letters, digits and dashes
// only, so "." is unambiguous.
const idSeparator = "."

// Encode renders the identifier as "<type>.<agent>.<uid>".
func (id TaskID) Encode() string {
	return string(id.Type) + idSeparator + id.AgentID + idSeparator + id.UID
}

func (id TaskID) String() string {
	return id.Encode()
}

// ParseTaskID decodes an identifier produced by Encode. An unknown
// task type or a malformed identifier is an error: it indicates a
// protocol or version mismatch, never a recoverable condition.
func ParseTaskID(s string) (TaskID, error) {
	parts := strings.SplitN(s, idSeparator, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return TaskID{}, fmt.Errorf("malformed task id %q", s)
	}
	tt := TaskType(parts[0])
	if !tt.Valid() {
		return TaskID{}, fmt.Errorf("unknown task type %q in task id %q", parts[0], s)
	}
	return TaskID{Type: tt, AgentID: parts[1], UID: parts[2]}, nil
}

// Offer describes spare resources available on one agent at one
// instant. Offers are consumed, never stored.
type Offer struct {
	ID       string
	AgentID  string
	Hostname string
	CPUs     float64
	MemMB    float64
}

// StatusUpdate reports a run-state transition for one task instance.
type StatusUpdate struct {
	TaskID    TaskID
	State     TaskState
	Message   string
	Reason    string
	Healthy   bool
	Timestamp time.Time
}

// FetchURI names an artifact the executor fetches into the task
// sandbox before the command runs.
type FetchURI struct {
	Value      string
	Executable bool
	Cache      bool
}

// LaunchSpec is the launch descriptor the driver turns into a task on
// the cluster manager. The core only decides when to produce one.
type LaunchSpec struct {
	TaskID  TaskID
	AgentID string
	Name    string
	Command string
	User    string
	CPUs    float64
	MemMB   float64
	URIs    []FetchURI
}
