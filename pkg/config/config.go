package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML duration
// strings such as "168h" or "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %v", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Seconds returns the duration in seconds.
func (d Duration) Seconds() float64 { return time.Duration(d).Seconds() }

// Config holds every process-level setting for the framework. Values
// resolve in three layers: built-in defaults, then an optional YAML
// file, then environment variables.
type Config struct {
	// Mesos connection and framework identity.
	MesosMaster         string   `yaml:"mesos_master"`
	FrameworkName       string   `yaml:"framework_name"`
	FrameworkUser       string   `yaml:"framework_user"`
	FrameworkRole       string   `yaml:"framework_role"`
	FailoverTimeout     Duration `yaml:"failover_timeout"`
	CheckpointEnabled   bool     `yaml:"checkpoint"`
	MesosAuthPrincipal  string   `yaml:"mesos_auth_principal"`
	MesosAuthSecretFile string   `yaml:"mesos_auth_secret_file"`

	// Installer binary fetched onto every agent.
	InstallerURL string `yaml:"installer_url"`

	// MaxConcurrentRestarts caps cluster-wide component restarts.
	MaxConcurrentRestarts int `yaml:"max_concurrent_restarts"`

	// Operational HTTP endpoint (health, metrics, agent status).
	OpsListenAddr string `yaml:"ops_listen_addr"`

	// High availability settings for the scheduler itself. A replica
	// with JoinAddr set joins the leader's election cluster through
	// the leader's ops endpoint instead of bootstrapping its own.
	DataDir      string `yaml:"data_dir"`
	NodeID       string `yaml:"node_id"`
	RaftBindAddr string `yaml:"raft_bind_addr"`
	BootstrapHA  bool   `yaml:"bootstrap"`
	JoinAddr     string `yaml:"join_addr"`

	// Logging.
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MesosMaster:           "zk://localhost:2181/mesos",
		FrameworkName:         "netweave",
		FrameworkUser:         "root",
		FrameworkRole:         "*",
		FailoverTimeout:       Duration(7 * 24 * time.Hour),
		CheckpointEnabled:     true,
		InstallerURL:          "https://github.com/projectnetweave/netweave-installer/releases/latest/installer",
		MaxConcurrentRestarts: 1,
		OpsListenAddr:         ":9097",
		DataDir:               "/var/lib/netweave",
		NodeID:                "netweave-1",
		RaftBindAddr:          "127.0.0.1:7946",
		BootstrapHA:           true,
		LogLevel:              "info",
		LogJSON:               true,
	}
}

// Load resolves the configuration: defaults, then the YAML file at
// path (skipped when path is empty, an error when set but missing),
// then environment variables. A configured join address implies a
// standby replica, so bootstrap is switched off.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if cfg.JoinAddr != "" {
		cfg.BootstrapHA = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays NETWEAVE_* environment variables. MESOS_MASTER is
// also honored unprefixed because the cluster installer exports it.
func (c *Config) applyEnv() {
	setString(&c.MesosMaster, "MESOS_MASTER")
	setString(&c.MesosMaster, "NETWEAVE_MESOS_MASTER")
	setString(&c.FrameworkName, "NETWEAVE_FRAMEWORK_NAME")
	setString(&c.FrameworkUser, "NETWEAVE_FRAMEWORK_USER")
	setString(&c.FrameworkRole, "NETWEAVE_FRAMEWORK_ROLE")
	setString(&c.MesosAuthPrincipal, "NETWEAVE_AUTH_PRINCIPAL")
	setString(&c.MesosAuthSecretFile, "NETWEAVE_AUTH_SECRET_FILE")
	setString(&c.InstallerURL, "NETWEAVE_INSTALLER_URL")
	setInt(&c.MaxConcurrentRestarts, "NETWEAVE_MAX_CONCURRENT_RESTARTS")
	setString(&c.OpsListenAddr, "NETWEAVE_OPS_LISTEN_ADDR")
	setString(&c.DataDir, "NETWEAVE_DATA_DIR")
	setString(&c.NodeID, "NETWEAVE_NODE_ID")
	setString(&c.RaftBindAddr, "NETWEAVE_RAFT_BIND_ADDR")
	setString(&c.JoinAddr, "NETWEAVE_JOIN_ADDR")
	setString(&c.LogLevel, "NETWEAVE_LOG_LEVEL")
}

// Validate rejects settings the framework cannot start with.
func (c *Config) Validate() error {
	if c.MesosMaster == "" {
		return fmt.Errorf("mesos_master must be set")
	}
	if c.InstallerURL == "" {
		return fmt.Errorf("installer_url must be set")
	}
	if c.MaxConcurrentRestarts < 1 {
		return fmt.Errorf("max_concurrent_restarts must be at least 1, got %d", c.MaxConcurrentRestarts)
	}
	if c.FailoverTimeout < 0 {
		return fmt.Errorf("failover_timeout must not be negative")
	}
	if c.JoinAddr != "" && c.BootstrapHA {
		return fmt.Errorf("join_addr and bootstrap are mutually exclusive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}
