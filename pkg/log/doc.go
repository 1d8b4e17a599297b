/*
Package log provides structured logging for HiveSync using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

HiveSync's logging system provides structured JSON logging with minimal
overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("engine")                  │          │
	│  │  - WithTool("tool-abc123")                  │          │
	│  │  - WithStateKey("tool-abc123:dep-1")        │          │
	│  │  - WithConnectionID("conn-def456")          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "engine",                   │          │
	│  │    "time": "2026-08-25T10:30:00Z",         │          │
	│  │    "message": "update applied"              │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF update applied component=engine │         │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all HiveSync packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithTool: Add tool ID context
  - WithStateKey: Add the full "toolId:deploymentId" key
  - WithEventID: Add update-event ID context
  - WithConnectionID: Add streaming connection context

# Usage

Initializing the Logger:

	import "github.com/rhinehart514/hivesync/pkg/log"

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

Simple Logging:

	log.Info("engine started")
	log.Debug("polling update log")
	log.Warn("broadcast channel full, dropping message")
	log.Error("failed to open state store")
	log.Fatal("cannot start without data directory") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("tool_id", "tool-123").
		Int64("sequence", 4).
		Msg("update applied")

	log.Logger.Error().
		Err(err).
		Str("channel", "tool:tool-123:updates").
		Msg("broadcast publish failed")

Component Loggers:

	engineLog := log.WithComponent("engine")
	engineLog.Info().Msg("starting")
	engineLog.Debug().Str("event_id", "evt-123").Msg("sequencing update")

	// Multiple context fields
	streamLog := log.WithComponent("stream").
		With().Str("connection_id", "conn-abc").
		Str("tool_id", "tool-123").Logger()
	streamLog.Info().Msg("stream opened")

# Integration Points

This package integrates with:

  - pkg/engine: logs update sequencing and conflict resolution
  - pkg/broadcast: logs fan-out results and dropped messages
  - pkg/stream: logs connection lifecycle and poll errors
  - pkg/acks: logs acknowledgment expiry sweeps
  - pkg/api: logs requests and error responses
  - pkg/storage: logs store open/close and migration steps

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"engine","tool_id":"tool-123","sequence":4,"time":"2026-08-25T10:30:00Z","message":"update applied"}
	{"level":"warn","component":"broadcast","channel":"space:s1:tools","time":"2026-08-25T10:30:01Z","message":"subscriber buffer full, skipping"}
	{"level":"error","component":"stream","connection_id":"conn-abc","error":"context canceled","time":"2026-08-25T10:30:02Z","message":"poll aborted"}

Console Format (Development):

	10:30:00 INF update applied component=engine tool_id=tool-123 sequence=4
	10:30:01 WRN subscriber buffer full, skipping component=broadcast channel=space:s1:tools
	10:30:02 ERR poll aborted component=stream connection_id=conn-abc error="context canceled"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Secondary-effect failures (broadcast, ack registration) are logged
    at warn/error and never surfaced to API callers
  - Consistent error format across the codebase

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Include context (tool ID, event ID, connection ID)

Don't:
  - Log state payloads wholesale (they are user data)
  - Use Debug level in production
  - Log in the stream poll loop at Info (use Debug)
  - Concatenate strings (use .Str, .Int64)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
