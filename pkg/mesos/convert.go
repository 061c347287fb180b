package mesos

import (
	"fmt"
	"time"

	"github.com/gogo/protobuf/proto"
	mesosproto "github.com/mesos/mesos-go/api/v0/mesosproto"
	util "github.com/mesos/mesos-go/api/v0/mesosutil"

	"github.com/netweave/netweave/pkg/types"
)

// offerFromProto extracts the resources the installer cares about.
// Other resource kinds (ports, disk, GPUs) ride along in the offer
// but none of the installation tasks reserve them.
func offerFromProto(o *mesosproto.Offer) *types.Offer {
	offer := &types.Offer{
		ID:       o.GetId().GetValue(),
		AgentID:  o.GetSlaveId().GetValue(),
		Hostname: o.GetHostname(),
	}
	for _, r := range o.GetResources() {
		switch r.GetName() {
		case "cpus":
			offer.CPUs += r.GetScalar().GetValue()
		case "mem":
			offer.MemMB += r.GetScalar().GetValue()
		}
	}
	return offer
}

var stateFromProto = map[mesosproto.TaskState]types.TaskState{
	mesosproto.TaskState_TASK_STAGING:  types.TaskStateStaging,
	mesosproto.TaskState_TASK_STARTING: types.TaskStateStarting,
	mesosproto.TaskState_TASK_RUNNING:  types.TaskStateRunning,
	mesosproto.TaskState_TASK_FINISHED: types.TaskStateFinished,
	mesosproto.TaskState_TASK_FAILED:   types.TaskStateFailed,
	mesosproto.TaskState_TASK_KILLED:   types.TaskStateKilled,
	mesosproto.TaskState_TASK_LOST:     types.TaskStateLost,
	mesosproto.TaskState_TASK_ERROR:    types.TaskStateError,
}

// updateFromProto translates a Mesos status update. The task
// identifier is parsed, not trusted: an id this framework never
// minted is an error for the caller to surface.
func updateFromProto(s *mesosproto.TaskStatus) (*types.StatusUpdate, error) {
	id, err := types.ParseTaskID(s.GetTaskId().GetValue())
	if err != nil {
		return nil, err
	}
	state, ok := stateFromProto[s.GetState()]
	if !ok {
		return nil, fmt.Errorf("unmapped task state %s for task %s", s.GetState(), id)
	}
	ts := time.Now()
	if s.GetTimestamp() > 0 {
		sec, frac := int64(s.GetTimestamp()), s.GetTimestamp()
		ts = time.Unix(sec, int64((frac-float64(sec))*float64(time.Second)))
	}
	return &types.StatusUpdate{
		TaskID:    id,
		State:     state,
		Message:   s.GetMessage(),
		Reason:    s.GetReason().String(),
		Healthy:   s.GetHealthy(),
		Timestamp: ts,
	}, nil
}

// taskInfoFromSpec builds the Mesos launch descriptor. Every task is
// a plain shell command run by the command executor; the fetcher
// pulls the installer binary into the sandbox first.
func taskInfoFromSpec(spec *types.LaunchSpec) *mesosproto.TaskInfo {
	resources := []*mesosproto.Resource{
		util.NewScalarResource("cpus", spec.CPUs),
		util.NewScalarResource("mem", spec.MemMB),
	}

	cmd := &mesosproto.CommandInfo{
		Value: proto.String(spec.Command),
		Shell: proto.Bool(true),
	}
	if spec.User != "" {
		cmd.User = proto.String(spec.User)
	}
	for _, uri := range spec.URIs {
		cmd.Uris = append(cmd.Uris, &mesosproto.CommandInfo_URI{
			Value:      proto.String(uri.Value),
			Executable: proto.Bool(uri.Executable),
			Cache:      proto.Bool(uri.Cache),
		})
	}

	task := util.NewTaskInfo(
		spec.Name,
		util.NewTaskID(spec.TaskID.Encode()),
		util.NewSlaveID(spec.AgentID),
		resources,
	)
	task.Command = cmd
	return task
}
