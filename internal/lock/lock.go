package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/panel-updater/internal/logger"
)

// tokenPermissions restricts the lock token to the owning user.
const tokenPermissions = 0o600

// Lock is a process-wide exclusive token bound to a fixed filesystem location.
// The token records the owning PID so a crashed run does not permanently
// block future passes: a token whose owner is gone, or whose owner cannot be
// read and which is older than maxAge, is treated as stale and cleared.
type Lock struct {
	// path is the well-known token location.
	path string
	// maxAge bounds how old an orphaned token may grow before it is cleared.
	maxAge time.Duration
	// acquired tracks whether this process owns the token.
	acquired bool
}

// New creates a lock bound to the provided path.
func New(path string, maxAge time.Duration) *Lock {
	return &Lock{
		path:   filepath.Clean(path),
		maxAge: maxAge,
	}
}

// Acquire attempts to take the lock. It returns false when another pass holds
// it; the caller must exit without reading or mutating anything. A stale token
// (dead owner, or unreadable owner past the age bound) is cleared and
// acquisition retried once.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.tryCreate()
	if err != nil {
		return false, err
	}

	if ok {
		return true, nil
	}

	stale, err := l.isStale(ctx)
	if err != nil || !stale {
		return false, err
	}

	logger.InfoKV(ctx, "Clearing stale run lock", "path", l.path)

	if err = os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("remove stale lock: %w", err)
	}

	return l.tryCreate()
}

// Release idempotently removes the token. It is registered with defer for the
// whole pass, so the token disappears on every exit path.
func (l *Lock) Release(ctx context.Context) {
	if !l.acquired {
		return
	}

	l.acquired = false

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.ErrorKV(ctx, "Failed to remove run lock", "path", l.path, "error", err)
	}
}

// tryCreate creates the token exclusively, recording the owning PID.
func (l *Lock) tryCreate() (bool, error) {
	file, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, tokenPermissions)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}

		return false, fmt.Errorf("create lock token: %w", err)
	}

	_, writeErr := fmt.Fprintf(file, "%d\n", os.Getpid())

	if err = file.Close(); err == nil {
		err = writeErr
	}

	if err != nil {
		_ = os.Remove(l.path)
		return false, fmt.Errorf("write lock token: %w", err)
	}

	l.acquired = true

	return true, nil
}

// isStale reports whether the existing token no longer protects a live run.
// Liveness is judged first: a token whose recorded owner is alive is never
// stale, however old it grew, because a slow pass still holds the appliance.
// The age bound applies only when the owner cannot be determined.
func (l *Lock) isStale(ctx context.Context) (bool, error) {
	pid, err := l.ownerPID()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// The competing run just released; one retry will pick it up.
			return true, nil
		}

		logger.WarnKV(ctx, "Run lock token is unreadable", "path", l.path, "error", err)

		return l.exceededMaxAge(ctx)
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("check lock owner liveness: %w", err)
	}

	if process == nil {
		logger.InfoKV(ctx, "Run lock owner is no longer alive", "pid", pid)
		return true, nil
	}

	return false, nil
}

// exceededMaxAge clears tokens whose owner is unknowable once they outlive
// the configured bound.
func (l *Lock) exceededMaxAge(ctx context.Context) (bool, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}

		return false, fmt.Errorf("inspect lock token: %w", err)
	}

	if l.maxAge > 0 && time.Since(info.ModTime()) > l.maxAge {
		logger.InfoKV(ctx, "Run lock exceeded maximum age",
			"path", l.path, "age", time.Since(info.ModTime()))

		return true, nil
	}

	return false, nil
}

// ownerPID reads the PID recorded in the token.
func (l *Lock) ownerPID() (int, error) {
	contents, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil {
		return 0, fmt.Errorf("parse owner pid: %w", err)
	}

	return pid, nil
}
