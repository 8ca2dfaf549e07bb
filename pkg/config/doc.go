// Package config loads parley runtime configuration from YAML, JSON or TOML files
// with PARLEY_* environment overrides.
package config
