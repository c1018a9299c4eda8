// Package config provides the VentureFlow service configuration: typed
// structs with yaml/env tags, loaded as defaults → YAML file → environment
// overrides (VENTUREFLOW_* prefix).
package config
