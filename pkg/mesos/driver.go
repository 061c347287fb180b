package mesos

import (
	"fmt"
	"os"
	"strings"

	"github.com/gogo/protobuf/proto"
	mesosproto "github.com/mesos/mesos-go/api/v0/mesosproto"
	util "github.com/mesos/mesos-go/api/v0/mesosutil"
	sched "github.com/mesos/mesos-go/api/v0/scheduler"
	"github.com/rs/zerolog"

	"github.com/netweave/netweave/pkg/config"
	"github.com/netweave/netweave/pkg/scheduler"
	"github.com/netweave/netweave/pkg/types"
)

// IDStore persists the framework ID across scheduler restarts, so a
// new incarnation re-registers as the same framework and inherits its
// running tasks instead of orphaning them.
type IDStore interface {
	FrameworkID() (string, error)
	SaveFrameworkID(id string) error
}

// Driver connects the core scheduler to a Mesos master. It is both
// sides of the boundary: it feeds master events into the core
// (sched.Scheduler callbacks) and carries the core's decisions back
// (scheduler.Driver).
type Driver struct {
	core   *scheduler.Scheduler
	ids    IDStore
	log    zerolog.Logger
	driver sched.SchedulerDriver
}

var _ scheduler.Driver = (*Driver)(nil)
var _ sched.Scheduler = (*Driver)(nil)

// New builds the Mesos driver and attaches it to the core scheduler.
func New(cfg *config.Config, core *scheduler.Scheduler, ids IDStore, logger zerolog.Logger) (*Driver, error) {
	d := &Driver{core: core, ids: ids, log: logger}

	framework := &mesosproto.FrameworkInfo{
		User:            proto.String(cfg.FrameworkUser),
		Name:            proto.String(cfg.FrameworkName),
		Role:            proto.String(cfg.FrameworkRole),
		Checkpoint:      proto.Bool(cfg.CheckpointEnabled),
		FailoverTimeout: proto.Float64(cfg.FailoverTimeout.Seconds()),
	}
	if cfg.MesosAuthPrincipal != "" {
		framework.Principal = proto.String(cfg.MesosAuthPrincipal)
	}
	if id, err := ids.FrameworkID(); err != nil {
		return nil, fmt.Errorf("loading framework id: %w", err)
	} else if id != "" {
		framework.Id = util.NewFrameworkID(id)
		logger.Info().Str("framework_id", id).Msg("re-registering as existing framework")
	}

	driverCfg := sched.DriverConfig{
		Scheduler: d,
		Framework: framework,
		Master:    cfg.MesosMaster,
	}
	if cfg.MesosAuthPrincipal != "" && cfg.MesosAuthSecretFile != "" {
		secret, err := os.ReadFile(cfg.MesosAuthSecretFile)
		if err != nil {
			return nil, fmt.Errorf("reading auth secret: %w", err)
		}
		driverCfg.Credential = &mesosproto.Credential{
			Principal: proto.String(cfg.MesosAuthPrincipal),
			Secret:    proto.String(strings.TrimSpace(string(secret))),
		}
	}

	mesosDriver, err := sched.NewMesosSchedulerDriver(driverCfg)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler driver: %w", err)
	}
	d.driver = mesosDriver

	core.AttachDriver(d)
	return d, nil
}

// Run drives the event loop until the master connection ends.
func (d *Driver) Run() error {
	status, err := d.driver.Run()
	if err != nil {
		return fmt.Errorf("driver stopped in status %s: %w", status, err)
	}
	return nil
}

// Stop disconnects from the master. With failover true the master
// keeps the framework's tasks alive for the failover timeout, which
// is what a standby replica taking over expects.
func (d *Driver) Stop(failover bool) {
	if d.driver != nil {
		d.driver.Stop(failover)
	}
}

// ---- scheduler.Driver: decisions flowing to the master ----

// declineRefuseSeconds keeps a declined agent's resources away for a
// few seconds instead of having the master re-offer them immediately.
const declineRefuseSeconds = 5.0

func (d *Driver) DeclineOffer(offerID string) error {
	filters := &mesosproto.Filters{RefuseSeconds: proto.Float64(declineRefuseSeconds)}
	_, err := d.driver.DeclineOffer(util.NewOfferID(offerID), filters)
	return err
}

func (d *Driver) LaunchTask(offerID string, spec *types.LaunchSpec) error {
	task := taskInfoFromSpec(spec)
	_, err := d.driver.LaunchTasks(
		[]*mesosproto.OfferID{util.NewOfferID(offerID)},
		[]*mesosproto.TaskInfo{task},
		&mesosproto.Filters{},
	)
	return err
}

// ReconcileAll requests implicit reconciliation: the master re-sends
// the latest status of every task belonging to this framework.
func (d *Driver) ReconcileAll() error {
	_, err := d.driver.ReconcileTasks([]*mesosproto.TaskStatus{})
	return err
}

// ---- sched.Scheduler: master events flowing to the core ----

func (d *Driver) Registered(_ sched.SchedulerDriver, frameworkID *mesosproto.FrameworkID, masterInfo *mesosproto.MasterInfo) {
	id := frameworkID.GetValue()
	d.log.Info().
		Str("framework_id", id).
		Str("master", masterInfo.GetHostname()).
		Msg("registered")
	if err := d.ids.SaveFrameworkID(id); err != nil {
		d.log.Error().Err(err).Msg("persisting framework id")
	}
	d.core.Registered(id)
}

func (d *Driver) Reregistered(_ sched.SchedulerDriver, masterInfo *mesosproto.MasterInfo) {
	d.log.Info().Str("master", masterInfo.GetHostname()).Msg("re-registered")
	d.core.Reregistered()
}

func (d *Driver) Disconnected(sched.SchedulerDriver) {
	d.log.Warn().Msg("disconnected from master")
}

func (d *Driver) ResourceOffers(_ sched.SchedulerDriver, offers []*mesosproto.Offer) {
	converted := make([]*types.Offer, 0, len(offers))
	for _, o := range offers {
		converted = append(converted, offerFromProto(o))
	}
	d.core.HandleOffers(converted)
}

func (d *Driver) OfferRescinded(_ sched.SchedulerDriver, offerID *mesosproto.OfferID) {
	// Nothing to unwind: offers are consumed synchronously inside
	// ResourceOffers, never held.
	d.log.Debug().Str("offer_id", offerID.GetValue()).Msg("offer rescinded")
}

func (d *Driver) StatusUpdate(_ sched.SchedulerDriver, status *mesosproto.TaskStatus) {
	update, err := updateFromProto(status)
	if err != nil {
		d.log.Error().Err(err).Msg("dropping undecodable status update")
		return
	}
	d.core.HandleUpdate(update)
}

func (d *Driver) FrameworkMessage(_ sched.SchedulerDriver, executorID *mesosproto.ExecutorID, slaveID *mesosproto.SlaveID, message string) {
	d.log.Debug().
		Str("executor_id", executorID.GetValue()).
		Str("agent_id", slaveID.GetValue()).
		Str("message", message).
		Msg("framework message")
}

func (d *Driver) SlaveLost(_ sched.SchedulerDriver, slaveID *mesosproto.SlaveID) {
	d.core.AgentLost(slaveID.GetValue())
}

func (d *Driver) ExecutorLost(_ sched.SchedulerDriver, executorID *mesosproto.ExecutorID, slaveID *mesosproto.SlaveID, status int) {
	d.log.Warn().
		Str("executor_id", executorID.GetValue()).
		Str("agent_id", slaveID.GetValue()).
		Int("status", status).
		Msg("executor lost")
}

func (d *Driver) Error(_ sched.SchedulerDriver, err string) {
	d.log.Error().Str("error", err).Msg("unrecoverable driver error")
}
