package agent

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/netweave/netweave/pkg/task"
	"github.com/netweave/netweave/pkg/types"
)

// RestartGate is the cluster-wide admission check consulted before an
// agent launches a restart task. Implemented by the scheduler, which
// caps how many agents may be mid-restart at once.
type RestartGate interface {
	CanRestart(agentID string) bool
}

// Agent owns the installation state machine for one cluster node. It
// tracks the most recent task instance per type and decides, offer by
// offer, what should run next.
type Agent struct {
	id   string
	gate RestartGate
	log  zerolog.Logger

	mu    sync.Mutex
	tasks map[types.TaskType]*task.Task

	// restarting is atomic so the scheduler's restart gate can read
	// other agents' flags while an agent's own mutex is held.
	restarting atomic.Bool
}

// New creates an agent with no tracked task instances. State is
// rebuilt entirely from offers and status updates.
func New(id string, gate RestartGate, logger zerolog.Logger) *Agent {
	return &Agent{
		id:    id,
		gate:  gate,
		log:   logger.With().Str("agent_id", id).Logger(),
		tasks: make(map[types.TaskType]*task.Task),
	}
}

// ID returns the cluster manager's identifier for this node.
func (a *Agent) ID() string { return a.id }

// Restarting reports whether a restart sequence is in flight.
func (a *Agent) Restarting() bool { return a.restarting.Load() }

// Task returns the tracked instance for a type, or nil.
func (a *Agent) Task(tt types.TaskType) *task.Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tasks[tt]
}

// HandleOffer decides the single next action for this agent given an
// offer, or nil to decline. The decision ladder is re-evaluated from
// scratch on every offer: there is no current-step pointer, so the
// next step is always re-derived from observed task state. That keeps
// the agent correct across missed events and scheduler restarts.
//
// Order:
//  1. etcd proxy runs first; the plugin install runs in parallel with
//     it (it does not need the store).
//  2. Once the proxy is observed running, the container engine is
//     pointed at the cluster store.
//  3. When both install steps have finished, any flagged components
//     are restarted, gated by the cluster-wide restart cap.
//  4. Only then do the networking daemon and driver come up.
func (a *Agent) HandleOffer(offer *types.Offer) *task.Task {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.canBeOffered(types.TaskTypeEtcdProxy, offer) {
		a.log.Info().Msg("launching etcd proxy")
		return a.newTask(types.TaskTypeEtcdProxy)
	}

	// Plugin install does not wait for the proxy.
	if a.canBeOffered(types.TaskTypeInstallPlugin, offer) {
		a.log.Info().Msg("launching plugin install")
		return a.newTask(types.TaskTypeInstallPlugin)
	}

	if !a.observedRunning(types.TaskTypeEtcdProxy) {
		a.log.Debug().Msg("waiting for etcd proxy to come up")
		return nil
	}

	if a.canBeOffered(types.TaskTypeConfigureDocker, offer) {
		a.log.Info().Msg("launching cluster store configuration")
		return a.newTask(types.TaskTypeConfigureDocker)
	}

	if !a.finished(types.TaskTypeInstallPlugin) {
		a.log.Debug().Msg("waiting for plugin install to finish")
		return nil
	}

	if !a.finished(types.TaskTypeConfigureDocker) {
		a.log.Debug().Msg("waiting for cluster store configuration to finish")
		return nil
	}

	// The install steps report whether anything actually changed on
	// the node. Agents whose config was already current skip the
	// restart entirely rather than queueing behind the cap.
	required := a.restartComponents()
	if len(required) == 0 {
		a.restarting.Store(false)
	}
	if len(required) > 0 && a.canBeOffered(types.TaskTypeRestart, offer) {
		if !a.restarting.Load() && !a.gate.CanRestart(a.id) {
			a.log.Debug().Msg("restart deferred by cluster-wide cap")
			return nil
		}
		a.log.Info().Strs("components", required).Msg("launching component restart")
		t, err := task.NewRestart(a.id, required)
		if err != nil {
			a.log.Error().Err(err).Msg("building restart task")
			return nil
		}
		a.tasks[types.TaskTypeRestart] = t
		a.restarting.Store(true)
		return t
	}
	if len(required) > 0 {
		a.log.Debug().Msg("waiting for restart to be scheduled or complete")
		return nil
	}

	if a.canBeOffered(types.TaskTypeNode, offer) {
		a.log.Info().Msg("launching networking daemon")
		return a.newTask(types.TaskTypeNode)
	}

	if a.canBeOffered(types.TaskTypeNetDriver, offer) {
		a.log.Info().Msg("launching networking driver")
		return a.newTask(types.TaskTypeNetDriver)
	}

	return nil
}

// HandleUpdate applies a status update to the addressed instance. An
// instance this process never launched is created first, so a freshly
// restarted scheduler rebuilds its picture from the updates alone.
func (a *Agent) HandleUpdate(u *types.StatusUpdate) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tt := u.TaskID.Type
	t := a.tasks[tt]
	switch {
	case t == nil:
		var err error
		if t, err = task.FromID(u.TaskID); err != nil {
			return fmt.Errorf("update for untracked task: %w", err)
		}
		a.tasks[tt] = t
	case t.ID.UID != u.TaskID.UID:
		// Update for a superseded instance; the tracked one is newer.
		a.log.Debug().Str("task_id", u.TaskID.String()).Msg("stale instance update ignored")
		return nil
	}

	t.Update(u)
	a.log.Debug().
		Str("task_id", u.TaskID.String()).
		Str("state", string(u.State)).
		Msg("task status applied")

	// A restart task leaving the running state means the restart
	// sequence resolved - or killed the process we were watching,
	// which for some components is the point. Either way the install
	// steps are forgotten so the next offer re-verifies them against
	// reality instead of trusting pre-restart state.
	if tt == types.TaskTypeRestart && !t.Running() {
		a.log.Info().Msg("restart resolved; re-verifying install steps")
		delete(a.tasks, types.TaskTypeInstallPlugin)
		delete(a.tasks, types.TaskTypeConfigureDocker)
	}
	return nil
}

// newTask constructs and tracks a fresh instance, discarding any
// previous instance of the type.
func (a *Agent) newTask(tt types.TaskType) *task.Task {
	t, err := task.New(tt, a.id)
	if err != nil {
		a.log.Error().Err(err).Str("task_type", string(tt)).Msg("building task")
		return nil
	}
	a.tasks[tt] = t
	return t
}

// canBeOffered reports whether a type both needs scheduling and fits
// the offer's resources.
func (a *Agent) canBeOffered(tt types.TaskType, offer *types.Offer) bool {
	if !a.needsScheduling(tt) {
		return false
	}
	spec, err := task.SpecFor(tt)
	if err != nil {
		return false
	}
	return spec.CanAcceptOffer(offer)
}

// needsScheduling applies the relaunch policy: never-launched types
// always need scheduling; daemons need it whenever they are not
// observed alive; one-shot steps only after failure.
func (a *Agent) needsScheduling(tt types.TaskType) bool {
	t := a.tasks[tt]
	if t == nil {
		return true
	}
	if t.Spec.Persistent {
		return !t.Running()
	}
	return t.Failed()
}

// observedRunning is stricter than Task.Running: the instance must
// have actually reported the running state, not merely been launched.
func (a *Agent) observedRunning(tt types.TaskType) bool {
	t := a.tasks[tt]
	return t != nil && t.State == types.TaskStateRunning
}

func (a *Agent) finished(tt types.TaskType) bool {
	t := a.tasks[tt]
	return t != nil && t.Finished()
}

// restartComponents collects the components the install steps flagged
// for restart. Both instances are guaranteed finished by the ladder
// before this is consulted.
func (a *Agent) restartComponents() []string {
	var components []string
	if t := a.tasks[types.TaskTypeInstallPlugin]; t != nil && t.RestartRequired() {
		components = append(components, task.ComponentAgent)
	}
	if t := a.tasks[types.TaskTypeConfigureDocker]; t != nil && t.RestartRequired() {
		components = append(components, task.ComponentDocker)
	}
	return components
}

// TaskStatus is one entry of an agent snapshot.
type TaskStatus struct {
	Type  types.TaskType  `json:"type"`
	UID   string          `json:"uid"`
	State types.TaskState `json:"state"`
}

// Status is a point-in-time view of the agent for the ops API.
type Status struct {
	AgentID    string       `json:"agent_id"`
	Restarting bool         `json:"restarting"`
	Tasks      []TaskStatus `json:"tasks"`
}

// Status snapshots the agent's tracked instances in install order.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Status{AgentID: a.id, Restarting: a.restarting.Load()}
	for _, tt := range types.AllTaskTypes {
		if t := a.tasks[tt]; t != nil {
			s.Tasks = append(s.Tasks, TaskStatus{Type: tt, UID: t.ID.UID, State: t.State})
		}
	}
	return s
}
