package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/netweave/netweave/pkg/api"
	"github.com/netweave/netweave/pkg/config"
	"github.com/netweave/netweave/pkg/election"
	"github.com/netweave/netweave/pkg/events"
	"github.com/netweave/netweave/pkg/journal"
	"github.com/netweave/netweave/pkg/log"
	"github.com/netweave/netweave/pkg/mesos"
	"github.com/netweave/netweave/pkg/scheduler"
	"github.com/netweave/netweave/pkg/task"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "netweave",
	Short: "Netweave - cluster networking installation framework",
	Long: `Netweave is a Mesos framework that installs and maintains the
cluster networking stack on every agent: the etcd proxy, the network
plugin, the container engine's cluster store configuration, and the
networking daemons. Component restarts roll through the cluster under
a concurrency cap so the cluster never loses availability.`,
	Version: Version,
}

var runFlags struct {
	configPath  string
	master      string
	installer   string
	maxRestarts int
	opsAddr     string
	dataDir     string
	nodeID      string
	raftBind    string
	joinAddr    string
	logLevel    string
	logConsole  bool
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Netweave version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	runCmd.Flags().StringVarP(&runFlags.configPath, "config", "c", "", "path to YAML config file")
	runCmd.Flags().StringVar(&runFlags.master, "master", "", "Mesos master (host:port or zk:// URL)")
	runCmd.Flags().StringVar(&runFlags.installer, "installer-url", "", "URL of the installer binary fetched onto agents")
	runCmd.Flags().IntVar(&runFlags.maxRestarts, "max-concurrent-restarts", 0, "cluster-wide component restart cap")
	runCmd.Flags().StringVar(&runFlags.opsAddr, "ops-addr", "", "listen address for the ops HTTP endpoint")
	runCmd.Flags().StringVar(&runFlags.dataDir, "data-dir", "", "directory for the journal and election state")
	runCmd.Flags().StringVar(&runFlags.nodeID, "node-id", "", "unique id of this scheduler replica")
	runCmd.Flags().StringVar(&runFlags.raftBind, "raft-bind", "", "bind address for leader election")
	runCmd.Flags().StringVar(&runFlags.joinAddr, "join", "", "ops address of a running replica to join as a standby")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.logConsole, "log-console", false, "human-readable console logs instead of JSON")

	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the framework scheduler",
	Long: `Run the framework scheduler: register with the Mesos master,
install the networking stack on every agent as offers arrive, and
serve the ops HTTP endpoint.

With --join the replica asks the named replica's ops endpoint to add
it to the election cluster, then stands by and only drives the master
after winning leadership.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		logger := log.WithComponent("main")
		logger.Info().
			Str("version", Version).
			Str("master", cfg.MesosMaster).
			Int("max_concurrent_restarts", cfg.MaxConcurrentRestarts).
			Msg("starting netweave")

		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data dir: %v", err)
		}

		jnl, err := journal.Open(cfg.DataDir, log.WithComponent("journal"))
		if err != nil {
			return err
		}
		defer jnl.Close()

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go jnl.Run(ctx, broker)

		core := scheduler.New(scheduler.Config{
			MaxConcurrentRestarts: cfg.MaxConcurrentRestarts,
			Launch: task.LaunchConfig{
				InstallerURL: cfg.InstallerURL,
				User:         cfg.FrameworkUser,
			},
		}, broker, log.WithComponent("scheduler"))

		elect, err := election.New(election.Config{
			NodeID:    cfg.NodeID,
			BindAddr:  cfg.RaftBindAddr,
			DataDir:   cfg.DataDir,
			Bootstrap: cfg.BootstrapHA,
		}, log.WithComponent("election"))
		if err != nil {
			return err
		}
		defer elect.Shutdown()

		opsServer := api.NewServer(core, jnl, elect, elect)
		go func() {
			logger.Info().Str("addr", cfg.OpsListenAddr).Msg("ops endpoint listening")
			if err := opsServer.Start(cfg.OpsListenAddr); err != nil {
				logger.Error().Err(err).Msg("ops endpoint stopped")
			}
		}()

		if cfg.JoinAddr != "" {
			logger.Info().Str("join_addr", cfg.JoinAddr).Msg("joining election cluster")
			if err := joinCluster(cfg); err != nil {
				return fmt.Errorf("joining election cluster: %v", err)
			}
		}

		logger.Info().Msg("waiting for leadership")
		if err := elect.WaitForLeadership(ctx); err != nil {
			return err
		}

		driver, err := mesos.New(cfg, core, jnl, log.WithComponent("driver"))
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- driver.Run() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			// Failover stop: the master keeps tasks alive for the
			// failover timeout so a replacement scheduler inherits
			// them.
			driver.Stop(true)
		case <-elect.LostLeadership():
			logger.Warn().Msg("lost leadership, stepping down")
			driver.Stop(true)
			return fmt.Errorf("leadership lost")
		case err := <-errCh:
			return err
		}

		return nil
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(runFlags.configPath)
	if err != nil {
		return nil, err
	}

	// Flags override file and environment.
	if runFlags.master != "" {
		cfg.MesosMaster = runFlags.master
	}
	if runFlags.installer != "" {
		cfg.InstallerURL = runFlags.installer
	}
	if runFlags.maxRestarts > 0 {
		cfg.MaxConcurrentRestarts = runFlags.maxRestarts
	}
	if runFlags.opsAddr != "" {
		cfg.OpsListenAddr = runFlags.opsAddr
	}
	if runFlags.dataDir != "" {
		cfg.DataDir = runFlags.dataDir
	}
	if runFlags.nodeID != "" {
		cfg.NodeID = runFlags.nodeID
	}
	if runFlags.raftBind != "" {
		cfg.RaftBindAddr = runFlags.raftBind
	}
	if runFlags.joinAddr != "" {
		cfg.JoinAddr = runFlags.joinAddr
		cfg.BootstrapHA = false
	}
	if runFlags.logLevel != "" {
		cfg.LogLevel = runFlags.logLevel
	}
	if runFlags.logConsole {
		cfg.LogJSON = false
	}

	return cfg, cfg.Validate()
}

// joinCluster asks the target replica's ops endpoint to add this
// replica as an election voter. The request lands on whichever
// replica is named; a standby forwards the leader's address in its
// rejection, and the leader itself may still be electing, so retry a
// few times before giving up.
func joinCluster(cfg *config.Config) error {
	body, err := json.Marshal(api.JoinRequest{
		NodeID:  cfg.NodeID,
		Address: cfg.RaftBindAddr,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/join", cfg.JoinAddr)
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		if attempt > 0 {
			time.Sleep(2 * time.Second)
		}
		resp, err := http.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		lastErr = fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return lastErr
}
