package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/netweave/netweave/pkg/types"
)

// Restartable components flagged by the install steps.
const (
	ComponentAgent  = "agent"
	ComponentDocker = "docker"
)

// restartMarker prefixes the status-message line listing the
// components an install step wants restarted.
const restartMarker = "Restart components: "

// Spec is the capability table entry for one task type: whether it is
// a long-running daemon, whether it is the restart step, the action
// the installer binary runs, its resource needs, and which component
// it may flag for restart.
type Spec struct {
	Type       types.TaskType
	Persistent bool
	Restarts   bool
	Action     string
	CPUs       float64
	MemMB      float64

	// restartComponent is the component this task type may flag for
	// restart via the status-message marker. Empty for types whose
	// outcome never affects restart decisions.
	restartComponent string
}

var specs = map[types.TaskType]Spec{
	types.TaskTypeEtcdProxy: {
		Type: types.TaskTypeEtcdProxy, Persistent: true,
		Action: "run-etcd-proxy", CPUs: 0.1, MemMB: 128,
	},
	types.TaskTypeInstallPlugin: {
		Type: types.TaskTypeInstallPlugin,
		Action: "install-plugin", CPUs: 0.1, MemMB: 128,
		restartComponent: ComponentAgent,
	},
	types.TaskTypeConfigureDocker: {
		Type: types.TaskTypeConfigureDocker,
		Action: "configure-docker", CPUs: 0.1, MemMB: 128,
		restartComponent: ComponentDocker,
	},
	types.TaskTypeRestart: {
		Type: types.TaskTypeRestart, Restarts: true,
		Action: "restart-components", CPUs: 0.1, MemMB: 128,
	},
	types.TaskTypeNode: {
		Type: types.TaskTypeNode, Persistent: true,
		Action: "run-node", CPUs: 0.2, MemMB: 256,
	},
	types.TaskTypeNetDriver: {
		Type: types.TaskTypeNetDriver, Persistent: true,
		Action: "run-net-driver", CPUs: 0.1, MemMB: 128,
	},
}

// SpecFor returns the capability table entry for a task type.
func SpecFor(tt types.TaskType) (Spec, error) {
	s, ok := specs[tt]
	if !ok {
		return Spec{}, fmt.Errorf("no spec for task type %q", tt)
	}
	return s, nil
}

// CanAcceptOffer reports whether an offer carries enough resources to
// launch this task type. Pure: safe to call repeatedly and
// concurrently for the same offer.
func (s Spec) CanAcceptOffer(o *types.Offer) bool {
	return o.CPUs >= s.CPUs && o.MemMB >= s.MemMB
}

// LaunchConfig carries the process-level settings a launch descriptor
// needs: where the installer artifact is fetched from and which user
// the command runs as.
type LaunchConfig struct {
	InstallerURL string
	User         string
}

// Task is one instance of an installation step on one agent. It is
// mutated only by status updates addressed to it, and superseded (not
// destroyed) when the agent decides to relaunch the type.
type Task struct {
	ID      types.TaskID
	Spec    Spec
	State   types.TaskState
	Message string
	Healthy bool
	Updated time.Time

	// components holds what the restart task was told to restart.
	// Only set for TaskTypeRestart.
	components []string
}

// New creates a fresh instance of the given task type for an agent.
// The instance starts in staging: it counts as alive until the first
// status update says otherwise.
func New(tt types.TaskType, agentID string) (*Task, error) {
	spec, err := SpecFor(tt)
	if err != nil {
		return nil, err
	}
	return &Task{
		ID:      types.TaskID{Type: tt, AgentID: agentID, UID: uuid.NewString()},
		Spec:    spec,
		State:   types.TaskStateStaging,
		Healthy: true,
	}, nil
}

// NewRestart creates a restart task instance carrying the components
// that need restarting.
func NewRestart(agentID string, components []string) (*Task, error) {
	t, err := New(types.TaskTypeRestart, agentID)
	if err != nil {
		return nil, err
	}
	t.components = components
	return t, nil
}

// FromID reconstructs a tracked instance for an update addressed to a
// task this process did not launch (e.g. after a scheduler restart).
// Its state is derived entirely from the updates that follow.
func FromID(id types.TaskID) (*Task, error) {
	spec, err := SpecFor(id.Type)
	if err != nil {
		return nil, err
	}
	return &Task{ID: id, Spec: spec, State: types.TaskStateStaging, Healthy: true}, nil
}

// Update applies a status transition. Delivery order is only
// eventually consistent per instance, so a stale non-terminal state
// arriving after a terminal one is dropped rather than resurrecting
// the task.
func (t *Task) Update(u *types.StatusUpdate) {
	if t.State.Terminal() && u.State.Active() {
		return
	}
	t.State = u.State
	t.Healthy = u.Healthy
	t.Updated = u.Timestamp
	if u.Message != "" {
		t.Message = u.Message
	}
}

// Running reports whether the instance counts as alive: launched and
// not yet observed terminated.
func (t *Task) Running() bool { return t.State.Active() }

// Finished reports whether the instance completed successfully.
func (t *Task) Finished() bool { return t.State.Finished() }

// Failed reports whether the instance terminated unsuccessfully.
func (t *Task) Failed() bool { return t.State.Failed() }

// RestartRequired reports whether this task's last run flagged its
// component for restart. Only the install steps ever report this;
// every other type answers false.
func (t *Task) RestartRequired() bool {
	if t.Spec.restartComponent == "" || !t.Finished() {
		return false
	}
	for _, c := range parseRestartComponents(t.Message) {
		if c == t.Spec.restartComponent {
			return true
		}
	}
	return false
}

// Components returns what the restart task was asked to restart.
func (t *Task) Components() []string { return t.components }

// parseRestartComponents extracts the component list from the
// "Restart components: a, b" line of a status message, if present.
func parseRestartComponents(message string) []string {
	for _, line := range strings.Split(message, "\n") {
		if !strings.HasPrefix(line, restartMarker) {
			continue
		}
		var components []string
		for _, c := range strings.Split(line[len(restartMarker):], ",") {
			if c = strings.TrimSpace(c); c != "" {
				components = append(components, c)
			}
		}
		return components
	}
	return nil
}

// LaunchSpec builds the launch descriptor for this instance. The core
// never inspects the result; the driver turns it into a task on the
// cluster manager.
func (t *Task) LaunchSpec(cfg LaunchConfig) *types.LaunchSpec {
	cmd := "./installer " + t.Spec.Action
	if t.Spec.Restarts && len(t.components) > 0 {
		cmd += " " + strings.Join(t.components, " ")
	}
	return &types.LaunchSpec{
		TaskID:  t.ID,
		AgentID: t.ID.AgentID,
		Name:    fmt.Sprintf("netweave %s", t.Spec.Type),
		Command: cmd,
		User:    cfg.User,
		CPUs:    t.Spec.CPUs,
		MemMB:   t.Spec.MemMB,
		URIs: []types.FetchURI{
			{Value: cfg.InstallerURL, Executable: true, Cache: true},
		},
	}
}
