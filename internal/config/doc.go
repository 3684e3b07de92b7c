// Package config handles configuration loading for herald.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Files ending in .toml are decoded as TOML; anything else is YAML.
// Defaults are applied after decoding and the result is validated before use.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HERALD_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/herald/config.yaml
//  3. ~/.config/herald/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	storage:
//	  secret: "${HERALD_STORAGE_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	publish:
//	  base_delay: "2s"
//	login:
//	  timeout: "5m"
//
// # Backends
//
// Several sections select a backend:
//
//   - generator.backend: gemini or static
//   - publish.backend: linkedin, webhook, or browser
//   - login.flow: oauth, browser, or static
//   - storage.backend: memory, sqlite, redis, or bolt
//
// Validate enforces the settings each backend needs. The browser publish
// backend only works with the browser login flow, because it drives the
// same logged-in profile.
package config
