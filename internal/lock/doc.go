// Package lock serializes orchestration passes with an exclusive token at a
// well-known filesystem location. The token records its owner's PID; stale
// tokens from crashed runs are cleared by a liveness check or an age bound.
package lock
