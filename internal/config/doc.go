// Package config loads, validates and saves the orchestrator's YAML settings:
// filesystem locations, upstream endpoints per subsystem, the primary service
// name and the backup policy.
package config
