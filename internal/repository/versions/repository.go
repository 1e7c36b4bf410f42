package versions

import (
	"context"
	"errors"

	"github.com/oshokin/panel-updater/internal/domain/update"
)

// Repository defines persistence operations for subsystem version records.
type Repository interface {
	// Read returns the recorded version for the subsystem.
	// ErrNotFound means the subsystem was never provisioned.
	Read(ctx context.Context, subsystem update.Subsystem) (string, error)
	// Write updates the version and display value of an existing record in
	// one transaction. It never inserts: a missing row means the subsystem
	// was never provisioned, and Write returns ErrNotProvisioned.
	Write(ctx context.Context, subsystem update.Subsystem, version, display string) error
	// Verify re-reads the record and requires exact equality with the
	// expected version. A mismatch is ErrVerifyMismatch, a hard failure.
	Verify(ctx context.Context, subsystem update.Subsystem, expected string) error
}

var (
	// ErrNotFound is returned when no record exists for a subsystem.
	ErrNotFound = errors.New("version record not found")
	// ErrNotProvisioned is returned when a write matched no record.
	ErrNotProvisioned = errors.New("subsystem was never provisioned")
	// ErrVerifyMismatch is returned when the re-read version differs
	// from the value just written.
	ErrVerifyMismatch = errors.New("stored version differs from written value")
)
