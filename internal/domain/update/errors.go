package update

import "errors"

var (
	// ErrLockHeld means another pass is active. Not a failure: the new
	// pass exits silently without reading or mutating anything.
	ErrLockHeld = errors.New("another update pass is active")
	// ErrVersionUnreadable means a persisted or remote version is missing
	// or empty. Fatal for the whole pass.
	ErrVersionUnreadable = errors.New("version is missing or unreadable")
	// ErrTransport covers fetch, checkout and installer download failures.
	ErrTransport = errors.New("transport failure")
	// ErrFilesystem covers copy, move and delete failures during the
	// primary pipeline.
	ErrFilesystem = errors.New("filesystem failure")
	// ErrPersistenceMismatch means the post-write verification disagrees
	// with the value just written. A correctness violation, never accepted.
	ErrPersistenceMismatch = errors.New("persisted version does not match written value")
	// ErrServiceControl covers service manager stop/start failures.
	ErrServiceControl = errors.New("service control failure")
)
