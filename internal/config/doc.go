// Package config handles configuration loading for the support console.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SUPPORT_CONSOLE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/support-console/config.yaml
//  3. ~/.config/support-console/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	backend:
//	  auth_token: "${SUPPORT_TOKEN}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	ask:
//	  word_delay: "30ms"
//	  timeout: "90s"
//
// # Configuration Sections
//
// Backend endpoints:
//
//	backend:
//	  base_url: "https://support.example.com/api"
//	  stream_url: "wss://support.example.com/api/run_live"
//	  auth_token: "${SUPPORT_TOKEN}"
//
// Ask-mode tuning:
//
//	ask:
//	  max_results: 5
//	  data_sources: ["all"]
//	  word_delay: "30ms"
//	  timeout: "90s"
//
// Local history database:
//
//	database:
//	  path: "~/.local/share/support-console/history.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - backend.base_url and backend.stream_url are present
//   - ask.max_results is between 1 and 50
//   - Duration format validity
package config
