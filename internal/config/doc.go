// ABOUTME: Package config loads and validates loom client configuration.
// ABOUTME: YAML with ${ENV} expansion, duration parsing, and defaults for every tunable.

// Package config provides configuration for the loom client.
//
// Configuration is YAML with three conveniences:
//
//   - ${VAR_NAME} patterns are expanded from the environment before parsing
//   - duration fields accept Go duration strings ("1s", "500ms")
//   - every tunable has a default, so a minimal config only names the
//     gateway endpoints
//
// Example:
//
//	gateway:
//	  command_url: ws://localhost:8080/ws/command
//	  event_url: ws://localhost:8080/ws/events
//	  http_base: http://localhost:8080
//	reconnect:
//	  max_attempts: 5
//	  base_delay: 1s
//	streams:
//	  max_concurrent: 5
//	  memory_limit_bytes: 1048576
package config
