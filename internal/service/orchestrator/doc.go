// Package orchestrator drives one update pass over the appliance: it
// serializes passes with a run lock, resolves current and published versions
// for every subsystem, asks an attached operator for confirmation, replaces
// the primary panel tree while preserving its durable settings subtree, and
// runs each auxiliary subsystem's installer in a fail-isolated sequence.
package orchestrator
