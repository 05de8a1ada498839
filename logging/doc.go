// Package logging provides a minimal logging interface and adapters for agentchat.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that agents, teams, tools and model adapters use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping an existing *slog.Logger
//   - StructuredLogger with component/agent/run context and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "text", false)
//	a, err := agent.NewAssistantAgent("helper", m, func(o *agent.Options) { o.Logger = logger })
//
// Loggers write to stderr by default so that stdout carries only the
// conversation transcript.
package logging
