package orchestrator

import (
	"context"
	"os"
	"time"
)

const (
	// scratchPrefix names the temporary directories one pass works in.
	scratchPrefix = "panel-updater-"

	// backupTimeFormat names snapshots so they sort chronologically.
	backupTimeFormat = "20060102-150405"

	// displayPrefix renders the human-readable display value stored next
	// to the numeric version.
	displayPrefix = "Version "
)

// VersionSource fetches the latest published version string for a subsystem.
type VersionSource interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// PayloadFetcher obtains a subsystem's payload tree from its repository.
type PayloadFetcher interface {
	Checkout(ctx context.Context, repoURL, branch, dest string) error
}

// repoReopener is implemented by version stores whose backing file lives
// inside the preserved subtree and is replaced during the swap.
type repoReopener interface {
	Reopen(ctx context.Context) error
}

// backupName renders the snapshot directory name for the given moment.
func backupName(now time.Time) string {
	return "panel-" + now.Format(backupTimeFormat)
}

// displayValue renders the display string committed alongside a version.
func displayValue(version string) string {
	return displayPrefix + version
}

// newScratchDir creates an isolated working directory for one pipeline.
func newScratchDir() (string, error) {
	return os.MkdirTemp("", scratchPrefix)
}
