package scheduler

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/netweave/netweave/pkg/agent"
	"github.com/netweave/netweave/pkg/events"
	"github.com/netweave/netweave/pkg/metrics"
	"github.com/netweave/netweave/pkg/task"
	"github.com/netweave/netweave/pkg/types"
)

// Driver carries the scheduler's decisions back to the cluster
// manager. Implemented by the transport adapter; the scheduler never
// talks to the cluster manager any other way.
type Driver interface {
	// DeclineOffer refuses an offer the ladder had no use for.
	DeclineOffer(offerID string) error
	// LaunchTask accepts an offer and launches one task against it.
	LaunchTask(offerID string, spec *types.LaunchSpec) error
	// ReconcileAll asks the cluster manager to re-report the status
	// of every task it knows about for this framework.
	ReconcileAll() error
}

// Config holds the scheduler's process-level settings.
type Config struct {
	// MaxConcurrentRestarts caps how many agents may be mid-restart
	// across the cluster at any one time.
	MaxConcurrentRestarts int

	// Launch is passed through to task launch descriptors.
	Launch task.LaunchConfig
}

// Scheduler owns the collection of agents and applies the
// cluster-wide restart policy. It is the single entry point for the
// driver's two events: offers available and task status changed.
// Events are delivered one at a time; no handler blocks or suspends.
type Scheduler struct {
	cfg    Config
	log    zerolog.Logger
	broker *events.Broker

	mu     sync.RWMutex
	agents map[string]*agent.Agent

	driver Driver
}

// New creates a scheduler with an empty agent registry. The driver is
// attached separately because driver and scheduler reference each
// other.
func New(cfg Config, broker *events.Broker, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		log:    logger,
		broker: broker,
		agents: make(map[string]*agent.Agent),
	}
}

// AttachDriver binds the transport adapter. Must be called before the
// driver starts delivering events.
func (s *Scheduler) AttachDriver(d Driver) {
	s.driver = d
}

// GetAgent returns the tracked agent for an id, creating an empty one
// on first reference. Agents live for the process lifetime; a
// restarted scheduler rebuilds them from scratch.
func (s *Scheduler) GetAgent(agentID string) *agent.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		a = agent.New(agentID, s, s.log)
		s.agents[agentID] = a
		metrics.AgentsTotal.Set(float64(len(s.agents)))
		s.publish(&events.Event{Type: events.EventAgentSeen, AgentID: agentID})
	}
	return a
}

// HandleOffers processes a batch of offers, each independently: at
// most one task is launched per offer, everything else is declined.
func (s *Scheduler) HandleOffers(offers []*types.Offer) {
	for _, offer := range offers {
		metrics.OffersReceived.Inc()

		a := s.GetAgent(offer.AgentID)
		t := a.HandleOffer(offer)
		if t == nil {
			if err := s.driver.DeclineOffer(offer.ID); err != nil {
				s.log.Error().Err(err).Str("offer_id", offer.ID).Msg("declining offer")
			}
			metrics.OffersDeclined.Inc()
			s.publish(&events.Event{Type: events.EventOfferDeclined, AgentID: offer.AgentID})
			continue
		}

		spec := t.LaunchSpec(s.cfg.Launch)
		s.log.Info().
			Str("agent_id", offer.AgentID).
			Str("task_id", t.ID.String()).
			Msg("launching task")
		if err := s.driver.LaunchTask(offer.ID, spec); err != nil {
			s.log.Error().Err(err).Str("task_id", t.ID.String()).Msg("launching task")
			continue
		}
		metrics.TasksLaunched.WithLabelValues(string(t.ID.Type)).Inc()
		s.publish(&events.Event{
			Type:    events.EventTaskLaunched,
			AgentID: offer.AgentID,
			TaskID:  t.ID.String(),
		})
		if t.ID.Type == types.TaskTypeRestart {
			s.publish(&events.Event{Type: events.EventRestartStarted, AgentID: offer.AgentID})
		}
	}
	metrics.AgentsRestarting.Set(float64(s.restartingCount("")))
}

// HandleUpdate routes a status update to the agent embedded in the
// task identifier. A task type outside the known set is a protocol
// mismatch and is surfaced loudly rather than dropped on the floor.
func (s *Scheduler) HandleUpdate(u *types.StatusUpdate) {
	if !u.TaskID.Type.Valid() {
		metrics.UnknownTaskUpdates.Inc()
		s.log.Error().
			Str("task_id", u.TaskID.String()).
			Msg("status update for unknown task type")
		return
	}

	a := s.GetAgent(u.TaskID.AgentID)
	if err := a.HandleUpdate(u); err != nil {
		metrics.UnknownTaskUpdates.Inc()
		s.log.Error().Err(err).Str("task_id", u.TaskID.String()).Msg("applying status update")
		return
	}

	metrics.StatusUpdates.WithLabelValues(string(u.State)).Inc()
	s.publish(&events.Event{
		Type:    events.EventTaskStatus,
		AgentID: u.TaskID.AgentID,
		TaskID:  u.TaskID.String(),
		Message: string(u.State),
	})
	if u.TaskID.Type == types.TaskTypeRestart && !u.State.Active() {
		s.publish(&events.Event{Type: events.EventRestartResolved, AgentID: u.TaskID.AgentID})
	}
	metrics.AgentsRestarting.Set(float64(s.restartingCount("")))
}

// CanRestart is the cluster-wide restart admission check. The
// requesting agent is excluded from the count (its own flag never
// blocks it), so a repeat request from an agent already mid-restart
// is not double-counted against the cap.
func (s *Scheduler) CanRestart(agentID string) bool {
	return s.restartingCount(agentID) < s.cfg.MaxConcurrentRestarts
}

// restartingCount counts agents with a restart in flight, skipping
// the excluded id if non-empty.
func (s *Scheduler) restartingCount(exclude string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for id, a := range s.agents {
		if id != exclude && a.Restarting() {
			n++
		}
	}
	return n
}

// Registered handles the framework-registered event: informational,
// plus a reconciliation request so the cluster manager re-reports the
// status of tasks launched by a previous scheduler incarnation.
func (s *Scheduler) Registered(frameworkID string) {
	s.log.Info().Str("framework_id", frameworkID).Msg("registered with cluster manager")
	s.publish(&events.Event{Type: events.EventFrameworkStarted, Message: frameworkID})
	s.resync()
}

// Reregistered handles reconnection to a failed-over cluster manager.
func (s *Scheduler) Reregistered() {
	s.log.Info().Msg("re-registered with cluster manager")
	s.resync()
}

// AgentLost notes a lost agent. Nothing is forgotten here: its state
// is re-derived from the updates and offers that follow its return.
func (s *Scheduler) AgentLost(agentID string) {
	s.log.Warn().Str("agent_id", agentID).Msg("agent lost")
}

func (s *Scheduler) resync() {
	if err := s.driver.ReconcileAll(); err != nil {
		s.log.Error().Err(err).Msg("requesting task reconciliation")
	}
}

// Snapshot returns per-agent install progress, sorted by agent id.
func (s *Scheduler) Snapshot() []agent.Status {
	s.mu.RLock()
	agents := make([]*agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	s.mu.RUnlock()

	statuses := make([]agent.Status, 0, len(agents))
	for _, a := range agents {
		statuses = append(statuses, a.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].AgentID < statuses[j].AgentID
	})
	return statuses
}

func (s *Scheduler) publish(e *events.Event) {
	if s.broker != nil {
		s.broker.Publish(e)
	}
}
