// Package config handles configuration loading for the skyhook binaries.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. One Config type serves both binaries; validation is
// per-binary.
//
// # Configuration File
//
// Manager locations (in order):
//
//  1. Path from SKYHOOK_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/skyhook/manager.yaml
//  3. ~/.config/skyhook/manager.yaml
//
// The agent uses SKYHOOK_AGENT_CONFIG and agent.yaml in the same
// directories.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	server:
//	  auth_token: "${SKYHOOK_AUTH_TOKEN}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	proxy:
//	  request_timeout: "30s"
//
// # Configuration Sections
//
// Manager settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  auth_token: "${SKYHOOK_AUTH_TOKEN}"
//	proxy:
//	  request_timeout: "30s"
//	  max_body_bytes: 33554432
//
// Agent settings:
//
//	agent:
//	  id: "env-1"
//	  manager_url: "wss://manager.example.com/ws/agent"
//	  auth_token: "${SKYHOOK_AUTH_TOKEN}"
//	  local_url: "http://127.0.0.1:3000"
//	  local_timeout: "30s"
//
// Shared settings:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text (colorized) or json
package config
