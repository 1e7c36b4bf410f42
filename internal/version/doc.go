// Package version carries the build metadata stamped into the panel-updater
// binary and exposes it through the `version` subcommand.
package version
