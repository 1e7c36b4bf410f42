// Package update holds the domain model shared across the orchestrator:
// subsystem identities, the per-pass update plan, pipeline outcomes,
// version ordering and the error taxonomy.
package update
