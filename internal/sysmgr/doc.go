// Package sysmgr exposes start/stop/status control over named system
// services through the host's init system.
package sysmgr
