// Package config loads, normalizes, and validates whisperd configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files (or YAML when the file extension says so), and
// honours environment fallbacks such as WHISPERD_ALLOWED_DOMAINS. The Config
// type centralizes every knob the daemon and CLI need so the idle timeout,
// fetch policy, and engine settings are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, lowercase domain allowlists, and clear validation errors.
package config
