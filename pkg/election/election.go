package election

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/netweave/netweave/pkg/metrics"
)

// Config holds leader election settings.
type Config struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	Bootstrap bool
}

// Election elects a single active scheduler among the framework
// replicas using Raft. Only leadership is replicated: the elected
// scheduler rebuilds all task state from Mesos reconciliation, so the
// FSM carries no data. Standby replicas hold back from connecting to
// the master until they win.
type Election struct {
	raft     *raft.Raft
	notifyCh chan bool
	log      zerolog.Logger
}

// New builds the Raft node and, when cfg.Bootstrap is set, bootstraps
// a single-member cluster. Additional replicas join via AddVoter on
// the current leader.
func New(cfg Config, logger zerolog.Logger) (*Election, error) {
	rc := raft.DefaultConfig()
	rc.LocalID = raft.ServerID(cfg.NodeID)

	// Tune Raft timeouts for faster failover. The defaults are
	// conservative for WAN deployments; scheduler replicas sit on
	// the same LAN as the masters.
	rc.HeartbeatTimeout = 500 * time.Millisecond
	rc.ElectionTimeout = 500 * time.Millisecond
	rc.CommitTimeout = 50 * time.Millisecond
	rc.LeaderLeaseTimeout = 250 * time.Millisecond

	notifyCh := make(chan bool, 1)
	rc.NotifyCh = notifyCh

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %v", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %v", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %v", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %v", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %v", err)
	}

	r, err := raft.NewRaft(rc, &noopFSM{}, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %v", err)
	}

	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      rc.LocalID,
					Address: transport.LocalAddr(),
				},
			},
		}
		future := r.BootstrapCluster(configuration)
		if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("failed to bootstrap cluster: %v", err)
		}
	}

	return &Election{raft: r, notifyCh: notifyCh, log: logger}, nil
}

// IsLeader reports whether this replica currently holds leadership.
func (e *Election) IsLeader() bool {
	return e.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's Raft address.
func (e *Election) LeaderAddr() string {
	addr, _ := e.raft.LeaderWithID()
	return string(addr)
}

// AddVoter adds a standby replica to the election cluster. Only the
// leader can do this.
func (e *Election) AddVoter(nodeID, address string) error {
	if e.raft.State() != raft.Leader {
		return fmt.Errorf("not the leader")
	}
	future := e.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %v", err)
	}
	return nil
}

// WaitForLeadership blocks until this replica becomes leader or the
// context is cancelled.
func (e *Election) WaitForLeadership(ctx context.Context) error {
	if e.IsLeader() {
		metrics.IsLeader.Set(1)
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case isLeader := <-e.notifyCh:
			if isLeader {
				e.log.Info().Msg("elected active scheduler")
				metrics.IsLeader.Set(1)
				return nil
			}
			e.log.Info().Msg("standing by")
			metrics.IsLeader.Set(0)
		}
	}
}

// LostLeadership returns a channel that yields when leadership is
// lost after WaitForLeadership returned. The caller is expected to
// step down hard: stop driving the cluster manager and exit so a
// clean replica takes over.
func (e *Election) LostLeadership() <-chan bool {
	ch := make(chan bool, 1)
	go func() {
		for isLeader := range e.notifyCh {
			if !isLeader {
				metrics.IsLeader.Set(0)
				ch <- true
				return
			}
		}
	}()
	return ch
}

// Shutdown stops the Raft node.
func (e *Election) Shutdown() error {
	return e.raft.Shutdown().Error()
}

// noopFSM satisfies raft.FSM; the election carries no replicated
// state.
type noopFSM struct{}

func (f *noopFSM) Apply(*raft.Log) interface{}         { return nil }
func (f *noopFSM) Snapshot() (raft.FSMSnapshot, error) { return &noopSnapshot{}, nil }
func (f *noopFSM) Restore(rc io.ReadCloser) error      { return rc.Close() }

type noopSnapshot struct{}

func (s *noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (s *noopSnapshot) Release()                             {}
