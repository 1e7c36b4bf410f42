// Package versions persists one version record per subsystem in the
// appliance's SQLite settings database, abstracting over the two historical
// schema shapes of the table.
package versions
