// Package config handles configuration loading for bridge-gateway.
//
// # Overview
//
// The gateway reads two files: a YAML configuration for process settings
// and a TOML roster describing the remote agents it can run. Both support
// environment variable expansion.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${BRIDGE_DB_PATH}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	bridge:
//	  task_poll_interval: "2s"
//	  tool_poll_wait: "10s"
//	  error_backoff: "2s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Database:
//
//	database:
//	  path: "/var/lib/bridge/registry.db"
//
// Roster:
//
//	roster:
//	  path: "/etc/bridge/agents.toml"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Agent Roster
//
// The roster is TOML, one [[agent]] table per remote agent:
//
//	[[agent]]
//	id = "triage"
//	protocol = "task"
//	endpoint = "https://agents.example.com/a2a"
//
//	[[agent]]
//	id = "concierge"
//	protocol = "tool"
//	endpoint = "https://agents.example.com/mcp"
//
// Protocol is either "task" or "tool" and selects which transport adapter
// the gateway builds for the agent.
package config
