/*
Package log provides structured logging for Netweave using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers and configurable log levels. All logs include
timestamps and support filtering by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Netweave packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

# Usage

Initializing the Logger:

	import "github.com/netweave/netweave/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Component Loggers:

	schedulerLog := log.WithComponent("scheduler")
	schedulerLog.Info().Msg("Requesting task reconciliation")

Structured Logging:

	log.Logger.Info().
		Str("agent_id", "agent-abc").
		Str("task_id", "etcd-proxy.agent-abc.f81d4fae").
		Msg("Task launched")

Further context is derived with zerolog's native chaining:

	agentLog := log.WithComponent("agent").
		With().Str("agent_id", "agent-abc").Logger()
	agentLog.Debug().Msg("Waiting for etcd proxy to come up")

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"scheduler","time":"2026-05-13T10:30:00Z","message":"Registered with cluster manager"}
	{"level":"info","component":"agent","agent_id":"agent-abc","time":"2026-05-13T10:30:01Z","message":"launching etcd proxy"}

Console Format (Development):

	10:30:00 INF Registered with cluster manager component=scheduler
	10:30:01 INF launching etcd proxy component=agent agent_id=agent-abc

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for error context
  - Include agent and task IDs where available

Don't:
  - Log secrets (authentication principals are fine, credentials are not)
  - Use Debug level in production
  - Log once per declined offer at Info (offers arrive continuously)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
